package vstore

import (
	"io"

	"github.com/pkg/errors"
)

var errDirection = errors.New("stream does not support this direction")

// ioStream adapts a plain io.Reader or io.Writer to a Stream. The first
// error is kept and the stream stops being ready.
type ioStream struct {
	r   io.Reader
	w   io.Writer
	err error
}

// WrapReader returns a read-only Stream over r.
func WrapReader(r io.Reader) Stream {
	return &ioStream{r: r}
}

// WrapWriter returns a write-only Stream over w.
func WrapWriter(w io.Writer) Stream {
	return &ioStream{w: w}
}

func (s *ioStream) Ready() bool {
	return s.err == nil
}

func (s *ioStream) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.r == nil {
		s.err = errDirection
		return 0, s.err
	}
	n, err := io.ReadFull(s.r, p)
	if err != nil {
		s.err = err
	}
	return n, err
}

func (s *ioStream) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.w == nil {
		s.err = errDirection
		return 0, s.err
	}
	n, err := s.w.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		s.err = err
	}
	return n, err
}

// Device is random-access storage that a Section turns into a Region.
type Device interface {
	io.ReaderAt
	io.WriterAt
}

// Section is a fixed-size Region over a Device. Writes past the end fail
// rather than grow the device.
type Section struct {
	dev  Device
	size int64
	rpos int64
	wpos int64
	err  error
}

func NewSection(dev Device, size int64) *Section {
	return &Section{dev: dev, size: size}
}

func (s *Section) Ready() bool {
	return s.err == nil
}

func (s *Section) Size() int64 {
	return s.size
}

// Err returns the first error the section ran into.
func (s *Section) Err() error {
	return s.err
}

func (s *Section) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.wpos+int64(len(p)) > s.size {
		s.err = errors.Errorf("write of %d bytes at offset %d exceeds region of %d bytes", len(p), s.wpos, s.size)
		return 0, s.err
	}
	n, err := s.dev.WriteAt(p, s.wpos)
	s.wpos += int64(n)
	if err != nil {
		s.err = errors.Wrapf(err, "write at offset %d", s.wpos)
	}
	return n, s.err
}

func (s *Section) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.rpos+int64(len(p)) > s.size {
		s.err = io.ErrUnexpectedEOF
		return 0, s.err
	}
	n, err := s.dev.ReadAt(p, s.rpos)
	s.rpos += int64(n)
	if err != nil && !(err == io.EOF && n == len(p)) {
		s.err = errors.Wrapf(err, "read at offset %d", s.rpos)
	}
	return n, s.err
}

func (s *Section) SeekWrite(off int64) error {
	if off < 0 || off > s.size {
		return errors.Errorf("write offset %d outside region of %d bytes", off, s.size)
	}
	s.wpos = off
	return nil
}

func (s *Section) TellWrite() int64 {
	return s.wpos
}

func (s *Section) SeekRead(off int64) error {
	if off < 0 || off > s.size {
		return errors.Errorf("read offset %d outside region of %d bytes", off, s.size)
	}
	s.rpos = off
	return nil
}

func (s *Section) TellRead() int64 {
	return s.rpos
}
