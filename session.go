package dargo

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/dargo-project/dargo/internal/catalogue"
	"github.com/dargo-project/dargo/internal/direrr"
	"github.com/dargo-project/dargo/internal/stack"
)

const defaultKDFIterations = 200000

// OpenForWrite assembles a fresh byte-stream stack for a new archive:
// slicer at the bottom, then an optional hash-tee sidecar, an optional
// cipher, an optional compressor, an optional tape-mark escape layer, and
// a terminator on top (spec §4.1's layer ordering).
func OpenForWrite(ctx context.Context, cfg ArchiveConfig) (*Session, error) {
	s := stack.New()

	slicerCfg := stack.SlicerConfig{Basename: cfg.Basename, Extension: cfg.Extension}
	if cfg.Layout != nil {
		slicerCfg.Layout = *cfg.Layout
	}
	slicer := stack.NewSlicer(ctx, cfg.Store, slicerCfg, stack.WriteOnly)
	if err := stack.Push(s, slicer); err != nil {
		return nil, err
	}

	var top stack.Layer = slicer
	if cfg.HashAlgo != "" {
		ht, err := stack.NewHashTee(top, cfg.HashAlgo, cfg.Basename, nil)
		if err != nil {
			return nil, err
		}
		if err := stack.Push(s, ht); err != nil {
			return nil, err
		}
		top = ht
	}

	header := stack.Header{
		FormatVersion: stack.FormatVersion,
		Compression:   cfg.Compression,
		Cipher:        cfg.Cipher,
	}

	if cfg.Cipher != "" && cfg.Passphrase != nil {
		salt := make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, direrr.New(direrr.System, "dargo.OpenForWrite", err)
		}
		iterations := cfg.KDFIterations
		if iterations <= 0 {
			iterations = defaultKDFIterations
		}
		key, err := stack.DeriveKey(string(cfg.Passphrase.Bytes()), salt, iterations, 32, stack.KDFSHA256)
		if err != nil {
			return nil, err
		}
		cipher, err := stack.NewCipher(top, stack.CipherConfig{
			Algo:            cfg.Cipher,
			Key:             key,
			AllowWeakCipher: cfg.AllowWeakCipher,
		}, stack.WriteOnly)
		if err != nil {
			return nil, err
		}
		if err := stack.Push(s, cipher); err != nil {
			return nil, err
		}
		top = cipher
		header.Flags.IsCiphered = true
		header.KDF = stack.KDFParams{Hash: stack.KDFSHA256, Iterations: iterations, Salt: salt}
	}

	if cfg.Compression != "" && cfg.Compression != stack.CompressNone {
		comp, err := stack.NewCompressor(top, stack.CompressorConfig{Algo: cfg.Compression, Level: cfg.CompressionLevel}, stack.WriteOnly)
		if err != nil {
			return nil, err
		}
		if err := stack.Push(s, comp); err != nil {
			return nil, err
		}
		top = comp
	}

	var esc *stack.Escape
	if cfg.TapeMarks {
		esc = stack.NewEscape(top, stack.WriteOnly)
		if err := stack.Push(s, esc); err != nil {
			return nil, err
		}
		top = esc
		header.Flags.HasTapeMarks = true
	}

	term := stack.NewTerminator(top, header, stack.WriteOnly, false)
	if err := stack.Push(s, term); err != nil {
		return nil, err
	}

	session := &Session{ctx: ctx, cfg: cfg, stack: s, mode: stack.WriteOnly, header: header, dataName: cfg.Basename}

	if esc != nil {
		if err := esc.WriteMark(stack.MarkCatalogueDataName); err != nil {
			return nil, err
		}
		if err := writeLengthPrefixed(top, cfg.Basename); err != nil {
			return nil, err
		}
	}

	return session, nil
}

// writeLengthPrefixed writes a 4-byte big-endian length followed by s's
// bytes, the same shape the repair filter uses for its own inline strings
// (internal/filter/repair.go's writeRepairString), reused here for the
// archive-level data-name mark's payload so the format stays uniform.
func writeLengthPrefixed(w io.Writer, s string) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return direrr.New(direrr.Hardware, "dargo.writeLengthPrefixed", err)
	}
	if _, err := io.WriteString(w, s); err != nil {
		return direrr.New(direrr.Hardware, "dargo.writeLengthPrefixed", err)
	}
	return nil
}

// readLengthPrefixed is writeLengthPrefixed's counterpart, used when a
// read session needs to skip past the data-name mark's payload.
func readLengthPrefixed(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", direrr.New(direrr.Hardware, "dargo.readLengthPrefixed", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", direrr.New(direrr.Hardware, "dargo.readLengthPrefixed", err)
	}
	return string(buf), nil
}

// FinalizeCatalogue writes the catalogue-start tape mark (if this
// session's archive carries tape marks), dumps cat through the stack, and
// records the dump's starting offset on the terminator so the trailer
// points at it (spec §4.2 "dump", §6 archive layout: "[tape-mark:
// catalogue-start] [catalogue dump + CRC] [archive trailer ...]"). Call
// this once, after all entries have been written and before Close.
func (s *Session) FinalizeCatalogue(cat *catalogue.Catalogue) error {
	top := s.stack.Top()
	offset, err := top.Position()
	if err != nil {
		return direrr.New(direrr.Hardware, "dargo.FinalizeCatalogue", err)
	}
	if esc, ok := s.stack.ByLabel("escape"); ok {
		if e, ok := esc.(*stack.Escape); ok {
			if err := e.WriteMark(stack.MarkCatalogueStart); err != nil {
				return err
			}
			if off, err := top.Position(); err == nil {
				offset = off
			}
		}
	}

	crc := crc32.NewIEEE()
	counter := &byteCounter{}
	mw := io.MultiWriter(top, crc, counter)
	if err := catalogue.WriteCatalogue(mw, cat); err != nil {
		return direrr.New(direrr.Hardware, "dargo.FinalizeCatalogue", err)
	}
	// Spec §4.2: "the catalogue's own trailer includes its CRC (configurable
	// width, always ≥ 1 byte)" — width grows with the size of the dump it
	// covers, per the CRCWidth heuristic used for per-field CRCs elsewhere.
	sum := make([]byte, 4)
	binary.BigEndian.PutUint32(sum, crc.Sum32())
	width := catalogue.CRCWidth(counter.n)
	if width > 4 {
		width = 4 // crc32 only ever produces 4 bytes, regardless of what the size-proportional heuristic suggests
	}
	if _, err := top.Write(sum[4-width:]); err != nil {
		return direrr.New(direrr.Hardware, "dargo.FinalizeCatalogue", err)
	}

	if term, ok := s.stack.ByLabel("terminator"); ok {
		if t, ok := term.(*stack.Terminator); ok {
			t.SetCatalogueOffset(offset)
		}
	}
	return nil
}

// OpenForRead assembles a byte-stream stack to read an existing archive,
// mirroring OpenForWrite's layer order bottom to top. header must have
// already been recovered (normally via stack.DecodeHeader against the
// slicer, or via stack.LocateTrailer for a lax/repair open); use
// OpenArchiveForRead when the caller doesn't already have one.
func OpenForRead(ctx context.Context, cfg ArchiveConfig, header stack.Header) (*Session, error) {
	slicerCfg := stack.SlicerConfig{Basename: cfg.Basename, Extension: cfg.Extension}
	slicer := stack.NewSlicer(ctx, cfg.Store, slicerCfg, stack.ReadOnly)
	return buildReadSession(ctx, cfg, slicer, header)
}

// OpenArchiveForRead opens cfg.Store/cfg.Basename from scratch: it decodes
// the cleartext archive header directly off the slicer (spec §6's
// "[first-slice-header] [archive-header] [ciphered region begin] ...") and
// then assembles the rest of the stack on the same slicer instance, so the
// header bytes are consumed exactly once before any entry is read.
func OpenArchiveForRead(ctx context.Context, cfg ArchiveConfig) (*Session, error) {
	slicerCfg := stack.SlicerConfig{Basename: cfg.Basename, Extension: cfg.Extension}
	slicer := stack.NewSlicer(ctx, cfg.Store, slicerCfg, stack.ReadOnly)
	header, err := stack.DecodeHeader(slicer)
	if err != nil {
		return nil, direrr.New(direrr.Data, "dargo.OpenArchiveForRead", err)
	}
	return buildReadSession(ctx, cfg, slicer, header)
}

// buildReadSession assembles hash-tee/cipher/compressor/escape/terminator
// on top of an already-positioned slicer, shared by OpenForRead and
// OpenArchiveForRead so the header-consuming and header-supplied paths
// can't drift apart.
func buildReadSession(ctx context.Context, cfg ArchiveConfig, slicer *stack.Slicer, header stack.Header) (*Session, error) {
	s := stack.New()
	if err := stack.Push(s, slicer); err != nil {
		return nil, err
	}
	var top stack.Layer = slicer

	if cfg.HashAlgo != "" {
		ht, err := stack.NewHashTee(top, cfg.HashAlgo, cfg.Basename, nil)
		if err != nil {
			return nil, err
		}
		if err := stack.Push(s, ht); err != nil {
			return nil, err
		}
		top = ht
	}

	if header.Flags.IsCiphered {
		if cfg.Passphrase == nil {
			return nil, direrr.Newf(direrr.Range, "dargo.OpenForRead", "archive is ciphered but no passphrase was supplied")
		}
		key, err := stack.DeriveKey(string(cfg.Passphrase.Bytes()), header.KDF.Salt, header.KDF.Iterations, 32, header.KDF.Hash)
		if err != nil {
			return nil, err
		}
		cipher, err := stack.NewCipher(top, stack.CipherConfig{Algo: header.Cipher, Key: key, AllowWeakCipher: cfg.AllowWeakCipher}, stack.ReadOnly)
		if err != nil {
			return nil, err
		}
		if err := stack.Push(s, cipher); err != nil {
			return nil, err
		}
		top = cipher
	}

	if header.Compression != "" && header.Compression != stack.CompressNone {
		comp, err := stack.NewCompressor(top, stack.CompressorConfig{Algo: header.Compression}, stack.ReadOnly)
		if err != nil {
			return nil, err
		}
		if err := stack.Push(s, comp); err != nil {
			return nil, err
		}
		top = comp
	}

	var esc *stack.Escape
	if header.Flags.HasTapeMarks {
		esc = stack.NewEscape(top, stack.ReadOnly)
		if err := stack.Push(s, esc); err != nil {
			return nil, err
		}
		top = esc
	}

	term := stack.NewTerminator(top, header, stack.ReadOnly, false)
	if err := stack.Push(s, term); err != nil {
		return nil, err
	}

	var dataName string
	if esc != nil {
		if _, err := esc.SkipToNextMark(stack.MarkCatalogueDataName, true); err == nil {
			dataName, _ = readLengthPrefixed(top)
		}
	}

	return &Session{ctx: ctx, cfg: cfg, stack: s, mode: stack.ReadOnly, header: header, dataName: dataName}, nil
}

// ReadCatalogue locates this read session's trailer by scanning backward
// from the end of the archive's cleartext-equivalent stream (the layer
// directly below the terminator, so a ciphered archive is searched after
// decryption, per spec §6's trailer living inside "[ciphered region
// begin] ... [ciphered region end]"), seeks to the recorded catalogue
// offset, and parses the dump (spec §4.1 "the terminator is located by
// seeking from end-of-file").
func (s *Session) ReadCatalogue() (*catalogue.Catalogue, error) {
	term, ok := s.stack.ByLabel("terminator")
	if !ok {
		return nil, direrr.Newf(direrr.Libcall, "dargo.Session.ReadCatalogue", "read session has no terminator layer")
	}
	below, ok := term.(interface{ Below() stack.Layer })
	if !ok {
		return nil, direrr.Newf(direrr.Libcall, "dargo.Session.ReadCatalogue", "terminator does not expose its underlying layer")
	}
	cleartext := below.Below()

	if err := cleartext.SkipToEOF(); err != nil {
		return nil, direrr.New(direrr.Hardware, "dargo.Session.ReadCatalogue", err)
	}
	totalSize, err := cleartext.Position()
	if err != nil {
		return nil, direrr.New(direrr.Hardware, "dargo.Session.ReadCatalogue", err)
	}

	trailer, err := stack.LocateTrailer(cleartext, totalSize, false)
	if err != nil {
		return nil, err
	}
	if err := cleartext.Skip(trailer.CatalogueOffset); err != nil {
		return nil, direrr.New(direrr.Hardware, "dargo.Session.ReadCatalogue", err)
	}
	return catalogue.ReadCatalogue(cleartext, s.dataName)
}

// byteCounter is an io.Writer sink that only counts bytes, used alongside
// a hash.Hash in an io.MultiWriter to size the catalogue CRC field without
// buffering the whole dump in memory.
type byteCounter struct{ n int64 }

func (c *byteCounter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
