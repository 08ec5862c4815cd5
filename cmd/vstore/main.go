// Command vstore inspects a store kept in a data file and its header.
//
//	vstore inspect --data objects.dat --header objects.hdr [--json]
//	vstore check   --data objects.dat --header objects.hdr
//	vstore dump    --data objects.dat --header objects.hdr --id 7
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"go.hasen.dev/vstore"
	"go.hasen.dev/vstore/alloc"
	"go.hasen.dev/vstore/store"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: vstore inspect|check|dump [flags]")
	}
	command, args := args[0], args[1:]

	var configPath, dataPath, headerPath string
	var id int64
	var debug, asJSON bool

	flagSet := pflag.NewFlagSet("vstore "+command, pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "YAML options file")
	flagSet.StringVar(&dataPath, "data", "", "data file (overrides the config)")
	flagSet.StringVar(&headerPath, "header", "", "header file (overrides the config)")
	flagSet.Int64Var(&id, "id", 0, "object to dump")
	flagSet.BoolVar(&debug, "debug", false, "log at debug level")
	flagSet.BoolVar(&asJSON, "json", false, "print the directory as JSON")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	var opts store.Options
	if configPath != "" {
		var err error
		if opts, err = store.LoadOptions(configPath); err != nil {
			return err
		}
	}
	if dataPath != "" {
		opts.DataPath = dataPath
	}
	if headerPath != "" {
		opts.HeaderPath = headerPath
	}
	if opts.HeaderPath == "" {
		return errors.New("no header file given")
	}
	// the data file already exists; adopt its size
	opts.Capacity = 0

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(opts.LogLevel); err == nil && opts.LogLevel != "" {
		log.SetLevel(level)
	}
	if debug {
		log.SetLevel(logrus.DebugLevel)
	}
	opts.Logger = log.WithField("command", command)

	s, err := store.Open(opts)
	if err != nil {
		return err
	}
	defer s.Close()

	switch command {
	case "inspect":
		return inspect(s, out, asJSON)
	case "check":
		if err := s.Check(); err != nil {
			return err
		}
		fmt.Fprintf(out, "ok: %d objects, %d of %d bytes free\n",
			len(s.IDs()), s.Allocator().FreeBytes(), s.Allocator().Capacity())
		return nil
	case "dump":
		data, err := s.Raw(store.ID(id))
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, hex.Dump(data))
		return err
	default:
		return errors.Errorf("unknown command %q", command)
	}
}

type objectView struct {
	ID       vstore.ID      `json:"id"`
	Offset   int64          `json:"offset"`
	Length   int64          `json:"length"`
	Category store.Category `json:"category"`
	Refs     int64          `json:"refs"`
	MetaSize int            `json:"meta_size,omitempty"`
}

type directoryView struct {
	Store     vstore.UUID          `json:"store"`
	Capacity  int64                `json:"capacity"`
	FreeBytes int64                `json:"free_bytes"`
	Free      []alloc.Placement    `json:"free"`
	Objects   []objectView         `json:"objects"`
	Names     map[string]vstore.ID `json:"names,omitempty"`
}

func inspect(s *store.Store, out io.Writer, asJSON bool) error {
	view := directoryView{
		Store:     s.UUID(),
		Capacity:  s.Allocator().Capacity(),
		FreeBytes: s.Allocator().FreeBytes(),
		Free:      s.Allocator().Free(),
		Names:     make(map[string]vstore.ID),
	}
	for _, id := range s.IDs() {
		rec, _ := s.Record(id)
		view.Objects = append(view.Objects, objectView{
			ID:       rec.ID,
			Offset:   rec.Placement.Offset,
			Length:   rec.Placement.Length,
			Category: rec.Category,
			Refs:     rec.Refs,
			MetaSize: len(rec.Meta),
		})
	}
	for _, name := range s.Names() {
		view.Names[name.First] = name.Second
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	fmt.Fprintf(out, "store %s\n", view.Store)
	fmt.Fprintf(out, "capacity %d, free %d in %d ranges\n", view.Capacity, view.FreeBytes, len(view.Free))
	for _, o := range view.Objects {
		fmt.Fprintf(out, "%8d  %v  cat=%d refs=%d", o.ID, alloc.Placement{Offset: o.Offset, Length: o.Length}, o.Category, o.Refs)
		if o.MetaSize > 0 {
			fmt.Fprintf(out, " meta=%dB", o.MetaSize)
		}
		fmt.Fprintln(out)
	}
	for _, name := range s.Names() {
		fmt.Fprintf(out, "name %q -> %d\n", name.First, name.Second)
	}
	return nil
}
