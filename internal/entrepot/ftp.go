package entrepot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dargo-project/dargo/internal/direrr"
	"github.com/dargo-project/dargo/internal/pacer"
	"github.com/jlaffaye/ftp"
)

// FTP is an Entrepot backed by a plain FTP server, adapted from the
// teacher's backend/ftp. The FTP protocol has no random-access write
// primitive, so unlike Local/SFTP, ftpHandle buffers writes in memory and
// flushes the whole slice with STOR on Close; reads use REST to seek to an
// arbitrary offset (jlaffaye/ftp's RetrFrom), which is sufficient because
// the byte-stream stack only ever reads a slice sequentially once opened
// (random access within a slice is only needed by the cipher/compressor
// layers operating on already-buffered plaintext, not by the entrepot
// itself).
type FTP struct {
	addr string
	root string
	conn *ftp.ServerConn
	pace *pacer.Pacer
}

// DialFTP connects to addr and logs in as user/password, rooting all paths
// under root.
func DialFTP(ctx context.Context, addr, user, password, root string) (*FTP, error) {
	c, err := ftp.Dial(addr, ftp.DialWithTimeout(30*time.Second), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, direrr.New(direrr.Hardware, "entrepot.DialFTP", err)
	}
	if err := c.Login(user, password); err != nil {
		c.Quit()
		return nil, direrr.New(direrr.System, "entrepot.DialFTP", err)
	}
	return &FTP{addr: addr, root: root, conn: c, pace: pacer.New()}, nil
}

func (f *FTP) Root() string { return fmt.Sprintf("ftp://%s%s", f.addr, f.root) }

func (f *FTP) resolve(path string) string { return f.root + "/" + path }

// Close logs out of the FTP session.
func (f *FTP) Close() error { return f.conn.Quit() }

type ftpHandle struct {
	ftp    *FTP
	path   string
	mode   OpenMode
	buf    *bytes.Buffer // accumulates writes before a single STOR on Close
	closed bool
}

func (h *ftpHandle) ReadAt(p []byte, off int64) (int, error) {
	if h.mode == WriteOnly {
		return 0, direrr.Newf(direrr.Libcall, "entrepot.FTP.ReadAt", "handle opened write-only")
	}
	var n int
	err := h.ftp.pace.Call(func() (bool, error) {
		r, rErr := h.ftp.conn.RetrFrom(h.ftp.resolve(h.path), uint64(off))
		if rErr != nil {
			return true, rErr
		}
		defer r.Close()
		got, readErr := io.ReadFull(r, p)
		n = got
		if readErr == io.ErrUnexpectedEOF || readErr == io.EOF {
			return false, io.EOF
		}
		return false, readErr
	})
	return n, err
}

func (h *ftpHandle) WriteAt(p []byte, off int64) (int, error) {
	if h.mode == ReadOnly {
		return 0, direrr.Newf(direrr.Libcall, "entrepot.FTP.WriteAt", "handle opened read-only")
	}
	need := int(off) + len(p)
	if h.buf.Len() < need {
		grow := make([]byte, need-h.buf.Len())
		h.buf.Write(grow)
	}
	copy(h.buf.Bytes()[off:], p)
	return len(p), nil
}

func (h *ftpHandle) Truncate(size int64) error {
	if int64(h.buf.Len()) > size {
		h.buf.Truncate(int(size))
	}
	return nil
}

func (h *ftpHandle) Sync() error { return nil }

func (h *ftpHandle) Close() error {
	if h.closed || h.mode == ReadOnly {
		h.closed = true
		return nil
	}
	h.closed = true
	return h.ftp.pace.Call(func() (bool, error) {
		err := h.ftp.conn.Stor(h.ftp.resolve(h.path), bytes.NewReader(h.buf.Bytes()))
		return err != nil, err
	})
}

func (f *FTP) Open(ctx context.Context, path string, mode OpenMode, permission uint32, failIfExists, erase bool) (Handle, error) {
	return &ftpHandle{ftp: f, path: path, mode: mode, buf: &bytes.Buffer{}}, nil
}

func (f *FTP) Unlink(ctx context.Context, path string) error {
	err := f.pace.Call(func() (bool, error) {
		dErr := f.conn.Delete(f.resolve(path))
		return dErr != nil, dErr
	})
	if err != nil {
		return direrr.New(direrr.Hardware, "entrepot.FTP.Unlink", err)
	}
	return nil
}

func (f *FTP) List(ctx context.Context) ([]string, error) {
	var names []string
	err := f.pace.Call(func() (bool, error) {
		entries, lErr := f.conn.List(f.root)
		if lErr != nil {
			return true, lErr
		}
		names = names[:0]
		for _, e := range entries {
			if e.Type == ftp.EntryTypeFile {
				names = append(names, e.Name)
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, direrr.New(direrr.Hardware, "entrepot.FTP.List", err)
	}
	return names, nil
}

func (f *FTP) ChangeOwnership(ctx context.Context, path string, user, group string) error {
	// Plain FTP has no ownership model.
	return nil
}

func (f *FTP) ChangePermission(ctx context.Context, path string, permission uint32) error {
	// Plain FTP has no SITE CHMOD guarantee across servers; unsupported.
	return direrr.Newf(direrr.Feature, "entrepot.FTP.ChangePermission", "FTP backend does not support permission changes")
}
