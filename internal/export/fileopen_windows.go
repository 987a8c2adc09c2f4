//go:build windows

package export

import "os"

// openFileNoFollow opens path for writing.
// O_NOFOLLOW does not exist on Windows; ValidatePath rejects symlinks beforehand.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}
