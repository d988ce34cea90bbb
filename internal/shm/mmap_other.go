//go:build !unix

package shm

func mapReadOnly(fd, size int) ([]byte, error) {
	return nil, ErrUnsupported
}

func unmapMemory(b []byte) error {
	return ErrUnsupported
}

func closeFD(fd int) error {
	return nil
}

// Dup duplicates fd into a new handle, leaving fd untouched.
func Dup(fd int) (*Handle, error) {
	return nil, ErrUnsupported
}
