package store

import (
	"os"

	"github.com/pkg/errors"

	"go.hasen.dev/vstore"
)

// Open opens the store kept in the data file at opts.DataPath, creating the
// file with opts.Capacity bytes if it does not exist. When opts.HeaderPath
// names an existing file, the directory is loaded from it.
func Open(opts Options) (*Store, error) {
	if opts.DataPath == "" {
		return nil, errors.New("no data file given")
	}
	dev, err := openDevice(opts.DataPath, opts.Capacity)
	if err != nil {
		return nil, err
	}
	s := New(vstore.NewSection(dev, dev.Size()), opts)
	s.closer = dev

	if opts.HeaderPath != "" {
		if _, err := os.Stat(opts.HeaderPath); err == nil {
			if err := s.LoadHeaderFile(opts.HeaderPath); err != nil {
				dev.Close()
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			dev.Close()
			return nil, errors.Wrapf(err, "stat header %s", opts.HeaderPath)
		}
	}
	return s, nil
}

// Flush saves the header to opts.HeaderPath, if one was given.
func (s *Store) Flush() error {
	if s.opts.HeaderPath == "" {
		return nil
	}
	return s.SaveHeaderFile(s.opts.HeaderPath)
}
