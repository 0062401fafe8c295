package stack

import (
	"io"

	"github.com/dargo-project/dargo/internal/direrr"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// codec adapts one compression algorithm's streaming writer/reader to a
// common shape the Compressor layer drives.
type codec interface {
	newWriter(w io.Writer, level int) (io.WriteCloser, error)
	newReader(r io.Reader) (io.ReadCloser, error)
}

type noneCodec struct{}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (noneCodec) newWriter(w io.Writer, level int) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}
func (noneCodec) newReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type gzipCodec struct{}

func (gzipCodec) newWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return gzip.NewWriterLevel(w, level)
}
func (gzipCodec) newReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

type zstdCodec struct{}

func (zstdCodec) newWriter(w io.Writer, level int) (io.WriteCloser, error) {
	lvl := zstd.SpeedDefault
	switch {
	case level <= 1:
		lvl = zstd.SpeedFastest
	case level >= 8:
		lvl = zstd.SpeedBestCompression
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(lvl))
	if err != nil {
		return nil, err
	}
	return enc, nil
}
func (zstdCodec) newReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

func codecFor(algo CompressorAlgo) (codec, error) {
	if err := CheckCompressorCompiled(algo); err != nil {
		return nil, err
	}
	switch algo {
	case CompressNone:
		return noneCodec{}, nil
	case CompressGzip:
		return gzipCodec{}, nil
	case CompressZstd:
		return zstdCodec{}, nil
	default:
		return nil, direrr.Newf(direrr.Feature, "stack.codecFor", "compressor %q has no implementation", algo)
	}
}

// CompressorConfig configures a Compressor layer.
type CompressorConfig struct {
	Algo  CompressorAlgo
	Level int // 1-9, per spec §4.1
}

// Compressor activates/deactivates compression per-inode via
// Suspend/Resume: the filter layer decides, per file, whether it clears the
// size threshold and name mask for compression (spec §4.3 step 4) and calls
// Suspend to pass raw bytes through when it does not.
type Compressor struct {
	below   Layer
	cfg     CompressorConfig
	codec   codec
	mode    Mode
	writer  io.WriteCloser
	reader  io.ReadCloser
	active  bool
	pos     int64
}

// NewCompressor wraps below with a compressor layer, initially active.
func NewCompressor(below Layer, cfg CompressorConfig, mode Mode) (*Compressor, error) {
	c, err := codecFor(cfg.Algo)
	if err != nil {
		return nil, err
	}
	comp := &Compressor{below: below, cfg: cfg, codec: c, mode: mode, active: true}
	if mode != ReadOnly {
		w, err := c.newWriter(below, cfg.Level)
		if err != nil {
			return nil, direrr.New(direrr.Memory, "stack.NewCompressor", err)
		}
		comp.writer = w
	} else {
		r, err := c.newReader(below)
		if err != nil {
			return nil, direrr.New(direrr.Data, "stack.NewCompressor", err)
		}
		comp.reader = r
	}
	return comp, nil
}

func (c *Compressor) Label() string { return "compressor" }
func (c *Compressor) Mode() Mode    { return c.mode }
func (c *Compressor) Below() Layer  { return c.below }

func (c *Compressor) Write(p []byte) (int, error) {
	var n int
	var err error
	if c.active {
		n, err = c.writer.Write(p)
	} else {
		n, err = c.below.Write(p)
	}
	c.pos += int64(n)
	if err != nil {
		return n, direrr.New(direrr.Hardware, "stack.Compressor.Write", err)
	}
	return n, nil
}

func (c *Compressor) Read(p []byte) (int, error) {
	var n int
	var err error
	if c.active {
		n, err = c.reader.Read(p)
	} else {
		n, err = c.below.Read(p)
	}
	c.pos += int64(n)
	return n, err
}

// Suspend flushes compression state and lets raw bytes pass through,
// because the filter decided this inode should not be compressed (per-inode
// activation, spec §4.1).
func (c *Compressor) Suspend() error {
	if !c.active {
		return nil
	}
	if c.mode != ReadOnly {
		if f, ok := c.writer.(interface{ Flush() error }); ok {
			if err := f.Flush(); err != nil {
				return direrr.New(direrr.Hardware, "stack.Compressor.Suspend", err)
			}
		}
	}
	c.active = false
	return nil
}

// Resume re-activates compression for the next inode.
func (c *Compressor) Resume() error {
	c.active = true
	return nil
}

func (c *Compressor) Skip(pos int64) error {
	return direrr.Newf(direrr.Range, "stack.Compressor.Skip",
		"random access within a compressed stream requires reseeking to the last reset point, not a raw offset")
}

func (c *Compressor) SkipRelative(delta int64) error {
	if delta == 0 {
		return nil
	}
	return c.Skip(-1)
}

func (c *Compressor) SkipToEOF() error { return c.below.SkipToEOF() }

// Skippable is always false (spec §4.1).
func (c *Compressor) Skippable(dir Direction, amount int64) bool { return false }

func (c *Compressor) Position() (int64, error) { return c.pos, nil }

func (c *Compressor) SyncWrite() error {
	if c.mode == ReadOnly {
		return nil
	}
	if err := c.Suspend(); err != nil {
		return err
	}
	return c.below.SyncWrite()
}

func (c *Compressor) FlushRead() error { return c.below.FlushRead() }

func (c *Compressor) Terminate() error {
	if c.mode == ReadOnly {
		if c.reader != nil {
			return c.reader.Close()
		}
		return nil
	}
	if c.writer != nil {
		if err := c.writer.Close(); err != nil {
			return direrr.New(direrr.Hardware, "stack.Compressor.Terminate", err)
		}
	}
	return nil
}
