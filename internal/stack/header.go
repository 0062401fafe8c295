package stack

import (
	"encoding/binary"
	"io"

	"github.com/dargo-project/dargo/internal/direrr"
	"github.com/dargo-project/dargo/internal/infinint"
)

// FormatVersion is the archive wire-format version written in the header
// (spec §3).
const FormatVersion uint16 = 1

// HeaderFlags are the boolean flags carried in the archive header (spec §3).
type HeaderFlags struct {
	HasTapeMarks  bool
	IsCiphered    bool
	HasInitialOffset bool
	HasCryptedKey bool
	HasRefSlicing bool
}

func (f HeaderFlags) encode() byte {
	var b byte
	if f.HasTapeMarks {
		b |= 1 << 0
	}
	if f.IsCiphered {
		b |= 1 << 1
	}
	if f.HasInitialOffset {
		b |= 1 << 2
	}
	if f.HasCryptedKey {
		b |= 1 << 3
	}
	if f.HasRefSlicing {
		b |= 1 << 4
	}
	return b
}

func decodeHeaderFlags(b byte) HeaderFlags {
	return HeaderFlags{
		HasTapeMarks:     b&(1<<0) != 0,
		IsCiphered:       b&(1<<1) != 0,
		HasInitialOffset: b&(1<<2) != 0,
		HasCryptedKey:    b&(1<<3) != 0,
		HasRefSlicing:    b&(1<<4) != 0,
	}
}

// KDFParams records the key-derivation parameters for a ciphered archive.
type KDFParams struct {
	Hash       KDFHash
	Iterations int
	Salt       []byte
}

// Header is the archive header (spec §3), duplicated as the trailer with an
// added catalogue-start offset.
type Header struct {
	FormatVersion  uint16
	Compression    CompressorAlgo
	Cipher         CipherAlgo
	Comment        string
	CryptedKeyBlob []byte // optional asymmetric-wrapped symmetric key
	Layout         *SliceLayout
	Flags          HeaderFlags
	KDF            KDFParams
}

func writeString(w io.Writer, s string) error {
	if err := infinint.Encode(w, infinint.FromUint64(uint64(len(s)))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := infinint.Decode(r)
	if err != nil {
		return "", err
	}
	ln, ok := n.Uint64()
	if !ok {
		return "", direrr.Newf(direrr.Range, "stack.readString", "implausible string length")
	}
	buf := make([]byte, ln)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := infinint.Encode(w, infinint.FromUint64(uint64(len(b)))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := infinint.Decode(r)
	if err != nil {
		return nil, err
	}
	ln, ok := n.Uint64()
	if !ok {
		return nil, direrr.Newf(direrr.Range, "stack.readBytes", "implausible byte length")
	}
	buf := make([]byte, ln)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Encode serializes the header in cleartext (it precedes the ciphered
// region, spec §6 archive file layout).
func (h Header) Encode(w io.Writer) error {
	var versionBuf [2]byte
	binary.BigEndian.PutUint16(versionBuf[:], h.FormatVersion)
	if _, err := w.Write(versionBuf[:]); err != nil {
		return err
	}
	if err := writeString(w, string(h.Compression)); err != nil {
		return err
	}
	if err := writeString(w, string(h.Cipher)); err != nil {
		return err
	}
	if err := writeString(w, h.Comment); err != nil {
		return err
	}
	if _, err := w.Write([]byte{h.Flags.encode()}); err != nil {
		return err
	}
	if h.Flags.HasCryptedKey {
		if err := writeBytes(w, h.CryptedKeyBlob); err != nil {
			return err
		}
	}
	if h.Flags.HasRefSlicing && h.Layout != nil {
		for _, v := range []int64{h.Layout.FirstSliceSize, h.Layout.OtherSliceSize, h.Layout.FirstSliceHeaderSize, h.Layout.OtherSliceHeaderSize} {
			if err := infinint.Encode(w, infinint.FromUint64(uint64(v))); err != nil {
				return err
			}
		}
		legacy := byte(0)
		if h.Layout.Legacy {
			legacy = 1
		}
		if _, err := w.Write([]byte{legacy}); err != nil {
			return err
		}
	}
	if h.Flags.IsCiphered {
		if err := writeString(w, string(h.KDF.Hash)); err != nil {
			return err
		}
		if err := infinint.Encode(w, infinint.FromUint64(uint64(h.KDF.Iterations))); err != nil {
			return err
		}
		if err := writeBytes(w, h.KDF.Salt); err != nil {
			return err
		}
	}
	return nil
}

// DecodeHeader parses a Header written by Encode.
func DecodeHeader(r io.Reader) (Header, error) {
	var h Header
	var versionBuf [2]byte
	if _, err := io.ReadFull(r, versionBuf[:]); err != nil {
		return h, direrr.New(direrr.Range, "stack.DecodeHeader", err)
	}
	h.FormatVersion = binary.BigEndian.Uint16(versionBuf[:])
	comp, err := readString(r)
	if err != nil {
		return h, err
	}
	h.Compression = CompressorAlgo(comp)
	ciph, err := readString(r)
	if err != nil {
		return h, err
	}
	h.Cipher = CipherAlgo(ciph)
	comment, err := readString(r)
	if err != nil {
		return h, err
	}
	h.Comment = comment
	var flagByte [1]byte
	if _, err := io.ReadFull(r, flagByte[:]); err != nil {
		return h, err
	}
	h.Flags = decodeHeaderFlags(flagByte[0])
	if h.Flags.HasCryptedKey {
		blob, err := readBytes(r)
		if err != nil {
			return h, err
		}
		h.CryptedKeyBlob = blob
	}
	if h.Flags.HasRefSlicing {
		vals := make([]int64, 4)
		for i := range vals {
			n, err := infinint.Decode(r)
			if err != nil {
				return h, err
			}
			u, _ := n.Uint64()
			vals[i] = int64(u)
		}
		var legacyByte [1]byte
		if _, err := io.ReadFull(r, legacyByte[:]); err != nil {
			return h, err
		}
		h.Layout = &SliceLayout{
			FirstSliceSize:       vals[0],
			OtherSliceSize:       vals[1],
			FirstSliceHeaderSize: vals[2],
			OtherSliceHeaderSize: vals[3],
			Legacy:               legacyByte[0] == 1,
		}
	}
	if h.Flags.IsCiphered {
		kh, err := readString(r)
		if err != nil {
			return h, err
		}
		h.KDF.Hash = KDFHash(kh)
		iters, err := infinint.Decode(r)
		if err != nil {
			return h, err
		}
		u, _ := iters.Uint64()
		h.KDF.Iterations = int(u)
		salt, err := readBytes(r)
		if err != nil {
			return h, err
		}
		h.KDF.Salt = salt
	}
	return h, nil
}
