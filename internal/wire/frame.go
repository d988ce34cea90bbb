package wire

import "github.com/dshills/loadwire/internal/shm"

// MaxFrameFDs bounds the descriptors a single frame may claim.
const MaxFrameFDs = 4

// Frame is one inbound message together with the descriptors that were
// passed alongside it. The receiver owns FDs until DecodeFrame takes them.
type Frame struct {
	Data []byte
	FDs  []int
}

// Close closes every descriptor of the frame not yet taken.
func (f Frame) Close() {
	for i, fd := range f.FDs {
		if fd >= 0 {
			_ = shm.NewHandle(fd).Close()
			f.FDs[i] = -1
		}
	}
}

// takeHandle moves descriptor i out of the frame. An index outside the
// frame's descriptors yields an invalid handle.
func (f Frame) takeHandle(i int) *shm.Handle {
	if i < 0 || i >= len(f.FDs) || f.FDs[i] < 0 {
		return shm.NewHandle(-1)
	}
	fd := f.FDs[i]
	f.FDs[i] = -1
	return shm.NewHandle(fd)
}
