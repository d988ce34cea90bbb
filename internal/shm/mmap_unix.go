//go:build unix

package shm

import (
	"golang.org/x/sys/unix"
)

func mapReadOnly(fd, size int) ([]byte, error) {
	return unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
}

func unmapMemory(b []byte) error {
	return unix.Munmap(b)
}

func closeFD(fd int) error {
	return unix.Close(fd)
}

// Dup duplicates fd into a new handle, leaving fd untouched.
func Dup(fd int) (*Handle, error) {
	nfd, err := unix.Dup(fd)
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(nfd)
	return NewHandle(nfd), nil
}
