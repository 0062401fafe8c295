package entrepot

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dargo-project/dargo/internal/direrr"
	"github.com/dargo-project/dargo/internal/pacer"
	"github.com/dargo-project/dargo/internal/xlog"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTP is an Entrepot backed by an SFTP server, adapted from the teacher's
// backend/sftp: one ssh.Client/sftp.Client pair per Entrepot handle (spec
// §5: "concurrent archive operations require distinct entrepot handles"),
// with transient errors retried through internal/pacer before being
// surfaced as a hardware-kind error.
type SFTP struct {
	addr   string
	root   string
	client *sftp.Client
	conn   *ssh.Client
	pace   *pacer.Pacer
}

// DialSFTP connects to addr (host:port) as user, authenticating with either
// a password or a parsed private key, and roots all paths under root.
func DialSFTP(ctx context.Context, addr, user, password string, signers []ssh.Signer, root string) (*SFTP, error) {
	auths := make([]ssh.AuthMethod, 0, 2)
	if password != "" {
		auths = append(auths, ssh.Password(password))
	}
	if len(signers) > 0 {
		auths = append(auths, ssh.PublicKeys(signers...))
	}
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auths,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // host key policy is a front-end config concern, out of scope (spec §1)
		Timeout:         30 * time.Second,
	}
	dialer := net.Dialer{Timeout: cfg.Timeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, direrr.New(direrr.Hardware, "entrepot.DialSFTP", err)
	}
	c, chans, reqs, err := ssh.NewClientConn(nc, addr, cfg)
	if err != nil {
		return nil, direrr.New(direrr.Hardware, "entrepot.DialSFTP", err)
	}
	sshClient := ssh.NewClient(c, chans, reqs)
	sc, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, direrr.New(direrr.Hardware, "entrepot.DialSFTP", err)
	}
	return &SFTP{addr: addr, root: root, client: sc, conn: sshClient, pace: pacer.New()}, nil
}

func (s *SFTP) Root() string { return fmt.Sprintf("sftp://%s%s", s.addr, s.root) }

func (s *SFTP) resolve(path string) string {
	return s.root + "/" + path
}

// Close releases the underlying SSH connection.
func (s *SFTP) Close() error {
	s.client.Close()
	return s.conn.Close()
}

type sftpHandle struct {
	f *sftp.File
}

func (h *sftpHandle) ReadAt(p []byte, off int64) (int, error)  { return h.f.ReadAt(p, off) }
func (h *sftpHandle) WriteAt(p []byte, off int64) (int, error) { return h.f.WriteAt(p, off) }
func (h *sftpHandle) Close() error                             { return h.f.Close() }
func (h *sftpHandle) Truncate(size int64) error                { return h.f.Truncate(size) }
func (h *sftpHandle) Sync() error                              { return nil } // SFTP has no flush primitive distinct from the write itself

func (s *SFTP) Open(ctx context.Context, path string, mode OpenMode, permission uint32, failIfExists, erase bool) (Handle, error) {
	var flags int
	switch mode {
	case ReadOnly:
		flags = 0 // sftp.Client.OpenFile defaults to O_RDONLY semantics via Open
	case WriteOnly:
		flags = 0 // handled via OpenFile below with explicit os-style flags
	case ReadWrite:
		flags = 0
	}
	_ = flags
	var f *sftp.File
	err := s.pace.Call(func() (bool, error) {
		var openErr error
		switch mode {
		case ReadOnly:
			f, openErr = s.client.Open(s.resolve(path))
		default:
			osFlags := 0
			if failIfExists {
				osFlags |= 0x80 // O_EXCL
			}
			if erase {
				osFlags |= 0x200 // O_TRUNC
			}
			f, openErr = s.client.OpenFile(s.resolve(path), osFlags|1|64) // O_WRONLY|O_CREATE
		}
		if openErr != nil {
			return isRetryable(openErr), openErr
		}
		return false, nil
	})
	if err != nil {
		return nil, direrr.New(direrr.Hardware, "entrepot.SFTP.Open", err)
	}
	if permission != 0 && mode != ReadOnly {
		_ = f.Chmod(permissionMode(permission))
	}
	xlog.Debugf(s, "opened remote slice %s", path)
	return &sftpHandle{f: f}, nil
}

func (s *SFTP) Unlink(ctx context.Context, path string) error {
	err := s.pace.Call(func() (bool, error) {
		rmErr := s.client.Remove(s.resolve(path))
		if os.IsNotExist(rmErr) {
			return false, nil // a missing path is not an error
		}
		return isRetryable(rmErr), rmErr
	})
	if err != nil {
		return direrr.New(direrr.Hardware, "entrepot.SFTP.Unlink", err)
	}
	return nil
}

func (s *SFTP) List(ctx context.Context) ([]string, error) {
	var names []string
	err := s.pace.Call(func() (bool, error) {
		entries, lsErr := s.client.ReadDir(s.root)
		if lsErr != nil {
			return isRetryable(lsErr), lsErr
		}
		names = names[:0]
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, direrr.New(direrr.Hardware, "entrepot.SFTP.List", err)
	}
	return names, nil
}

func (s *SFTP) ChangeOwnership(ctx context.Context, path string, user, group string) error {
	// SFTP's chown takes numeric uid/gid, not names; resolving names is a
	// front-end/config concern (spec §1), so this is a deliberate no-op.
	return nil
}

func (s *SFTP) ChangePermission(ctx context.Context, path string, permission uint32) error {
	err := s.pace.Call(func() (bool, error) {
		chErr := s.client.Chmod(s.resolve(path), permissionMode(permission))
		return isRetryable(chErr), chErr
	})
	if err != nil {
		return direrr.New(direrr.Hardware, "entrepot.SFTP.ChangePermission", err)
	}
	return nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	_, isNet := err.(net.Error)
	return isNet
}
