//go:build !darwin && !linux

package store

import (
	"os"

	"github.com/pkg/errors"
)

type fileDevice struct {
	*os.File
	size int64
}

func openDevice(path string, size int64) (*fileDevice, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open data file %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat data file")
	}
	switch {
	case info.Size() == 0 && size > 0:
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "size data file to %d bytes", size)
		}
	case size == 0:
		size = info.Size()
	case info.Size() != size:
		f.Close()
		return nil, errors.Errorf("data file %s is %d bytes but %d was requested", path, info.Size(), size)
	}
	if size <= 0 {
		f.Close()
		return nil, errors.Errorf("data file %s: capacity must be positive", path)
	}
	return &fileDevice{File: f, size: size}, nil
}

func (d *fileDevice) Size() int64 {
	return d.size
}
