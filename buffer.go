package vstore

import (
	"io"

	"github.com/pkg/errors"
)

// Stream is the byte transport an Archive is bound to. Ready reports whether
// the stream is still healthy; the archive checks it after every operation.
type Stream interface {
	io.Reader
	io.Writer
	Ready() bool
}

// Cursor is a Stream with independent, seekable read and write positions.
type Cursor interface {
	Stream
	SeekWrite(off int64) error
	TellWrite() int64
	SeekRead(off int64) error
	TellRead() int64
}

// Region is a fixed-size Cursor, used as the backing space of a store.
type Region interface {
	Cursor
	Size() int64
}

// Buffer is an in-memory byte buffer used to serialize data into, or
// deserialize data from. Reads and writes have separate cursors, so the same
// Buffer can be written and read back without copying.
type Buffer struct {
	Data []byte
	Pos  int   // read position
	WPos int   // write position
	Err  error // sticky; once set the buffer is no longer ready
}

// NewReader prepares a Buffer for deserializing data from the backing byte
// slice. The caller owns the data.
func NewReader(data []byte) *Buffer {
	return &Buffer{
		Data: data,
		WPos: len(data),
	}
}

// NewWriter prepares a buffer for serializing data into.
// The backing buffer is owned by Buffer, but when
// serialization is done, the caller may use it.
func NewWriter() *Buffer {
	return &Buffer{
		Data: make([]byte, 0, 64),
	}
}

// NewRegionBuffer returns a zero-filled buffer of the given size, suitable as
// an in-memory store region.
func NewRegionBuffer(size int64) *Buffer {
	return &Buffer{
		Data: make([]byte, size),
	}
}

func (b *Buffer) Ready() bool {
	return b.Err == nil
}

func (b *Buffer) ReadingDone() bool {
	return b.Pos >= len(b.Data)
}

// Bytes returns the data written so far.
func (b *Buffer) Bytes() []byte {
	return b.Data[:b.WPos]
}

func (b *Buffer) Size() int64 {
	return int64(len(b.Data))
}

// Ensure there's at least n bytes in the buffer starting from the write position
func (b *Buffer) EnsureSpace(n int) {
	var desiredSize = b.WPos + n
	if len(b.Data) < desiredSize {
		if cap(b.Data) >= desiredSize {
			b.Data = b.Data[:desiredSize]
		} else {
			b.Data = append(b.Data, make([]byte, desiredSize-len(b.Data))...)
		}
	}
}

// Write copies p at the write position, growing the buffer when needed.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.Err != nil {
		return 0, b.Err
	}
	b.EnsureSpace(len(p))
	copy(b.Data[b.WPos:], p)
	b.WPos += len(p)
	return len(p), nil
}

// Read does not expand the buffer to fit the required size.
// Instead, if there's not enough data, it sets the sticky error.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.Err != nil {
		return 0, b.Err
	}
	n := copy(p, b.Data[min(b.Pos, len(b.Data)):])
	b.Pos += n
	if n < len(p) {
		b.Err = io.ErrUnexpectedEOF
		return n, b.Err
	}
	return n, nil
}

// implements io.ByteReader
func (b *Buffer) ReadByte() (byte, error) {
	var one [1]byte
	_, err := b.Read(one[:])
	return one[0], err
}

func (b *Buffer) SeekWrite(off int64) error {
	if off < 0 {
		return errors.Errorf("negative write offset %d", off)
	}
	if int(off) > len(b.Data) {
		b.WPos = len(b.Data)
		b.EnsureSpace(int(off) - len(b.Data))
	}
	b.WPos = int(off)
	return nil
}

func (b *Buffer) TellWrite() int64 {
	return int64(b.WPos)
}

func (b *Buffer) SeekRead(off int64) error {
	if off < 0 || int(off) > len(b.Data) {
		return errors.Errorf("read offset %d outside buffer of %d bytes", off, len(b.Data))
	}
	b.Pos = int(off)
	return nil
}

func (b *Buffer) TellRead() int64 {
	return int64(b.Pos)
}
