package files

import (
	"os"

	"github.com/godzie44/go-uring/uring"
	"github.com/pkg/errors"
)

// uringEntries is the queue depth of the per-file ring; writes are issued
// one at a time.
const uringEntries = 8

// UringSink writes a file through its own io_uring instance, tracking the
// file offset explicitly.
type UringSink struct {
	ring   *uring.Ring
	file   *os.File
	offset uint64
}

// NewUringSink creates path exclusively and prepares a ring for it
func NewUringSink(path string) (*UringSink, error) {
	ring, err := uring.New(uringEntries)
	if err != nil {
		return nil, errors.Wrap(err, "initialize io_uring")
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		ring.Close()
		return nil, err
	}

	return &UringSink{ring: ring, file: file}, nil
}

// Write appends p at the current offset using io_uring
func (s *UringSink) Write(p []byte) (int, error) {
	totalWritten := 0
	for totalWritten < len(p) {
		sqe := uring.Write(s.file.Fd(), p[totalWritten:], s.offset)
		if err := s.ring.QueueSQE(sqe, 0, 0); err != nil {
			return totalWritten, errors.Wrap(err, "queue write request")
		}

		if _, err := s.ring.Submit(); err != nil {
			return totalWritten, errors.Wrap(err, "submit write request")
		}

		cqe, err := s.ring.WaitCQEvents(1)
		if err != nil {
			return totalWritten, errors.Wrap(err, "wait for write completion")
		}

		if err := cqe.Error(); err != nil {
			s.ring.SeenCQE(cqe)
			return totalWritten, errors.Wrap(err, "write operation failed")
		}

		n := int(cqe.Res)
		s.ring.SeenCQE(cqe)

		if n <= 0 {
			return totalWritten, errors.New("short write")
		}

		totalWritten += n
		s.offset += uint64(n)
	}

	return totalWritten, nil
}

// Close closes the file and releases the ring
func (s *UringSink) Close() error {
	err := s.file.Close()
	if s.ring != nil {
		s.ring.Close()
		s.ring = nil
	}
	return err
}
