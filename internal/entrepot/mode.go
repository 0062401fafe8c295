package entrepot

import "os"

// permissionMode converts a raw POSIX permission word (as carried in the
// catalogue's inode attributes) into an os.FileMode usable by chmod calls.
func permissionMode(permission uint32) os.FileMode {
	return os.FileMode(permission) & os.ModePerm
}
