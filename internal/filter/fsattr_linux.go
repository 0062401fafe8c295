//go:build linux

package filter

import (
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

func statCtime(st *syscall.Stat_t) time.Time { return time.Unix(st.Ctim.Unix()) }
func statAtime(st *syscall.Stat_t) time.Time { return time.Unix(st.Atim.Unix()) }

// listXattr enumerates fsPath's extended attribute names via
// Llistxattr (the L-prefixed form so a symlink's own attributes are
// read, not its target's).
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

// splitXattrNames splits the NUL-separated name list listxattr(2)
// returns into individual strings.
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

// readFSFlags reads the chattr-style attribute flags via FS_IOC_GETFLAGS
// (spec §3, glossary "FSA"). Filesystems that don't support the ioctl
// (e.g. tmpfs, overlay in some configurations) report 0, not an error.
func readFSFlags(fsPath string) (uint32, error) {
	fd, err := unix.Open(fsPath, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return 0, nil
	}
	defer unix.Close(fd)
	flags, err := unix.IoctlGetInt(fd, unix.FS_IOC_GETFLAGS)
	if err != nil {
		return 0, nil
	}
	return uint32(flags), nil
}

func writeFSFlags(fsPath string, flags uint32) error {
	fd, err := unix.Open(fsPath, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil
	}
	defer unix.Close(fd)
	if err := unix.IoctlSetPointerInt(fd, unix.FS_IOC_SETFLAGS, int(flags)); err != nil {
		return nil
	}
	return nil
}
