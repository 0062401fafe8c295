//go:build darwin

package filter

import (
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func statCtime(st *syscall.Stat_t) time.Time { return time.Unix(st.Ctimespec.Unix()) }
func statAtime(st *syscall.Stat_t) time.Time { return time.Unix(st.Atimespec.Unix()) }

// listXattr enumerates fsPath's extended attribute names via Llistxattr,
// the L-prefixed form that operates on the symlink itself rather than
// its target, mirroring the Linux file in this package.
func listXattr(fsPath string) ([]string, error) {
	size, err := unix.Llistxattr(fsPath, nil)
	if err != nil {
		if isXattrUnsupported(err) {
			return nil, nil
		}
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	n, err := unix.Llistxattr(fsPath, buf)
	if err != nil {
		if isXattrUnsupported(err) {
			return nil, nil
		}
		return nil, err
	}
	return splitXattrNames(buf[:n]), nil
}

func splitXattrNames(buf []byte) []string {
	var names []string
	for _, part := range strings.Split(string(buf), "\x00") {
		if part != "" {
			names = append(names, part)
		}
	}
	return names
}

func getXattr(fsPath, name string) ([]byte, error) {
	size, err := unix.Lgetxattr(fsPath, name, nil)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, size)
	n, err := unix.Lgetxattr(fsPath, name, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func setXattr(fsPath, name string, value []byte) error {
	return unix.Lsetxattr(fsPath, name, value, 0)
}

func removeXattr(fsPath, name string) error {
	err := unix.Lremovexattr(fsPath, name)
	if err != nil && isXattrUnsupported(err) {
		return nil
	}
	return err
}

func isXattrUnsupported(err error) bool {
	return err == unix.ENOTSUP || err == unix.ENODATA || err == unix.EOPNOTSUPP
}

// readFSFlags reads the BSD flags word (chflags(2)) from the
// syscall.Stat_t of its own os.Lstat of fsPath.
func readFSFlags(fsPath string) (uint32, error) {
	st, err := os.Lstat(fsPath)
	if err != nil {
		return 0, nil
	}
	sys, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, nil
	}
	return uint32(sys.Flags), nil
}

func writeFSFlags(fsPath string, flags uint32) error {
	if err := unix.Chflags(fsPath, int(flags)); err != nil {
		return nil
	}
	return nil
}
