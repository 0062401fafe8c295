// Package infinint implements the archive's variable-length unsigned integer
// encoding ("infinint" in the vocabulary this format's design documents use):
// sizes and counts in the catalogue and archive header never overflow a
// fixed-width field because this encoding grows with the magnitude of the
// value instead.
//
// Wire encoding (see SPEC_FULL.md, Open Questions, for why this is a
// from-scratch scheme rather than a byte-for-byte reproduction of a
// historical one): a 1-byte length prefix N in [0,254] followed by N bytes
// of big-endian magnitude, or a 0xFF escape byte followed by an 8-byte
// big-endian byte-length L followed by L bytes of big-endian magnitude (used
// only when the magnitude needs 255 or more bytes, which in practice never
// happens for archive sizes but keeps the format honestly "arbitrary
// precision" rather than silently capped).
//
// A build may instead gate everything behind a fixed 64-bit representation
// via Infinint64; readers must not mix the two encodings within one archive,
// which is why the archive header carries a flag selecting one.
package infinint

import (
	"encoding/binary"
	"errors"
	"io"
	"math/big"
)

// ErrTooShort is returned when a read encounters fewer bytes than the
// encoded length prefix promised.
var ErrTooShort = errors.New("infinint: truncated encoding")

// Infinint is an arbitrary-precision unsigned integer.
type Infinint struct {
	v big.Int
}

// FromUint64 builds an Infinint from a native value.
func FromUint64(u uint64) Infinint {
	var i Infinint
	i.v.SetUint64(u)
	return i
}

// FromBigInt builds an Infinint from a big.Int; negative values are rejected
// by the caller's usage (the type only ever represents sizes and counts).
func FromBigInt(b *big.Int) Infinint {
	var i Infinint
	i.v.Set(b)
	return i
}

// Uint64 returns the value truncated/asserted to fit in 64 bits; ok is false
// if the stored value does not fit.
func (i Infinint) Uint64() (val uint64, ok bool) {
	if !i.v.IsUint64() {
		return 0, false
	}
	return i.v.Uint64(), true
}

// BigInt exposes the underlying arbitrary-precision value.
func (i Infinint) BigInt() *big.Int {
	return new(big.Int).Set(&i.v)
}

// Add returns i+o without mutating either operand.
func (i Infinint) Add(o Infinint) Infinint {
	var r Infinint
	r.v.Add(&i.v, &o.v)
	return r
}

// Cmp compares i to o the way big.Int.Cmp does.
func (i Infinint) Cmp(o Infinint) int {
	return i.v.Cmp(&o.v)
}

// Encode writes the wire encoding of i to w.
func Encode(w io.Writer, i Infinint) error {
	magnitude := i.v.Bytes() // big-endian, no leading zero byte, empty slice for zero
	n := len(magnitude)
	if n < 255 {
		if _, err := w.Write([]byte{byte(n)}); err != nil {
			return err
		}
	} else {
		var hdr [9]byte
		hdr[0] = 0xFF
		binary.BigEndian.PutUint64(hdr[1:], uint64(n))
		if _, err := w.Write(hdr[:]); err != nil {
			return err
		}
	}
	if n == 0 {
		return nil
	}
	_, err := w.Write(magnitude)
	return err
}

// Decode reads one infinint from r.
func Decode(r io.Reader) (Infinint, error) {
	var lenByte [1]byte
	if _, err := io.ReadFull(r, lenByte[:]); err != nil {
		return Infinint{}, err
	}
	n := int(lenByte[0])
	if lenByte[0] == 0xFF {
		var lenBytes [8]byte
		if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
			return Infinint{}, ErrTooShort
		}
		n64 := binary.BigEndian.Uint64(lenBytes[:])
		if n64 > (1 << 32) {
			return Infinint{}, errors.New("infinint: implausible magnitude length")
		}
		n = int(n64)
	}
	if n == 0 {
		return FromUint64(0), nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Infinint{}, ErrTooShort
	}
	var i Infinint
	i.v.SetBytes(buf)
	return i, nil
}

// EncodedLen returns the number of bytes Encode would write for i, useful
// for the CRC-width heuristic (internal/catalogue) which picks a width from
// a field's encoded byte count.
func EncodedLen(i Infinint) int {
	n := len(i.v.Bytes())
	if n < 255 {
		return 1 + n
	}
	return 9 + n
}
