//go:build darwin || linux

package store

import (
	"io"
	"runtime/debug"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// fileDevice is a fixed-size data file. Reads go through a read-only shared
// mapping; writes use pwrite so that no page is faulted in just to be
// overwritten.
type fileDevice struct {
	fd   int
	data []byte
	size int64
}

// openDevice creates path at size bytes, or opens it if it exists. A size of
// zero adopts the size of an existing file.
func openDevice(path string, size int64) (*fileDevice, error) {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open data file %s", path)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "stat data file")
	}

	switch {
	case stat.Size == 0 && size > 0:
		if err := unix.Ftruncate(fd, size); err != nil {
			unix.Close(fd)
			return nil, errors.Wrapf(err, "size data file to %d bytes", size)
		}
	case size == 0:
		size = stat.Size
	case stat.Size != size:
		unix.Close(fd)
		return nil, errors.Errorf("data file %s is %d bytes but %d was requested", path, stat.Size, size)
	}
	if size <= 0 {
		unix.Close(fd)
		return nil, errors.Errorf("data file %s: capacity must be positive", path)
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "map data file")
	}
	return &fileDevice{fd: fd, data: data, size: size}, nil
}

func (d *fileDevice) Size() int64 {
	return d.size
}

func (d *fileDevice) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 || off >= d.size {
		return 0, io.EOF
	}

	// an I/O error on the mapped file surfaces as a fault, not a crash
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if r := recover(); r != nil {
			err = errors.Errorf("fault reading data file at offset %d: %v", off, r)
		}
	}()

	n = copy(p, d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (d *fileDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > d.size {
		return 0, errors.Errorf("write of %d bytes at offset %d exceeds data file of %d bytes", len(p), off, d.size)
	}
	total := 0
	for len(p) > 0 {
		n, err := unix.Pwrite(d.fd, p, off)
		total += n
		if err != nil {
			return total, errors.Wrapf(err, "pwrite at offset %d", off)
		}
		p = p[n:]
		off += int64(n)
	}
	return total, nil
}

func (d *fileDevice) Sync() error {
	return unix.Fsync(d.fd)
}

func (d *fileDevice) Close() error {
	var first error
	if err := unix.Munmap(d.data); err != nil {
		first = errors.Wrap(err, "unmap data file")
	}
	if err := unix.Close(d.fd); err != nil && first == nil {
		first = errors.Wrap(err, "close data file")
	}
	d.data = nil
	return first
}
