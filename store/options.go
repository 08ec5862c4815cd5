package store

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"go.hasen.dev/vstore"
)

// Options configures a Store. The zero value is usable: recursive puts,
// shared references tracked, plain pointers inline.
type Options struct {
	// Capacity is the size of the backing region when the store creates it.
	Capacity int64 `yaml:"capacity"`

	// Shallow disables update-on-touch: shared objects already stored are
	// not rewritten when a later put reaches them again.
	Shallow bool `yaml:"shallow"`

	TrackPointers bool `yaml:"track_pointers"`
	InlineShared  bool `yaml:"inline_shared"`

	DataPath   string `yaml:"data"`
	HeaderPath string `yaml:"header"`
	LogLevel   string `yaml:"log_level"`

	Logger *logrus.Entry `yaml:"-"`
}

// LoadOptions reads options from a YAML file.
func LoadOptions(path string) (Options, error) {
	var opts Options
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, errors.Wrapf(err, "read options %s", path)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, errors.Wrapf(err, "parse options %s", path)
	}
	if opts.Capacity < 0 {
		return opts, errors.Errorf("options %s: negative capacity %d", path, opts.Capacity)
	}
	return opts, nil
}

// Mode is the archive tracking mode these options select.
func (o Options) Mode() vstore.Mode {
	mode := vstore.TrackShared
	if o.InlineShared {
		mode = vstore.NoTracking
	}
	if o.TrackPointers {
		mode |= vstore.TrackPointers
	}
	return mode
}

func (o Options) logger() *logrus.Entry {
	if o.Logger != nil {
		return o.Logger
	}
	log := logrus.New()
	if o.LogLevel != "" {
		if level, err := logrus.ParseLevel(o.LogLevel); err == nil {
			log.SetLevel(level)
		}
	}
	return logrus.NewEntry(log).WithField("component", "store")
}
