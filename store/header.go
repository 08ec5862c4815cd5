package store

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"go.hasen.dev/vstore"
	"go.hasen.dev/vstore/alloc"
)

var headerMagic = [4]byte{'V', 'S', 'T', 'H'}

const digestSize = 32

var (
	ErrBadHeader      = errors.New("malformed store header")
	ErrDigestMismatch = errors.New("store header digest mismatch")
)

// Header is the whole directory of a store. It is written as the magic, the
// fields in declaration order and a BLAKE3-256 digest of everything before
// the digest.
type Header struct {
	Store      vstore.UUID
	Capacity   int64
	Free       []alloc.Placement
	Objects    []ObjectRecord
	Categories map[Category]map[ID]struct{}
	Shares     map[ID]map[ID]int
	Names      map[string]ID
}

func PackPlacement(p *alloc.Placement, ar *vstore.Archive) {
	vstore.Int64(&p.Offset, ar)
	vstore.Int64(&p.Length, ar)
}

func PackCategory(c *Category, ar *vstore.Archive) {
	vstore.Fixed(c, ar)
}

func PackRecord(r *ObjectRecord, ar *vstore.Archive) {
	vstore.PackID(&r.ID, ar)
	PackPlacement(&r.Placement, ar)
	PackCategory(&r.Category, ar)
	vstore.Int64(&r.Refs, ar)
	vstore.ByteSlice(&r.Meta, ar)
}

func packMembers(m *map[ID]struct{}, ar *vstore.Archive) {
	vstore.Set(m, vstore.PackID, ar)
}

func packEdges(m *map[ID]int, ar *vstore.Archive) {
	vstore.Bag(m, vstore.PackID, ar)
}

func PackHeader(h *Header, ar *vstore.Archive) {
	magic := headerMagic
	vstore.PlainBytes(magic[:], ar)
	if ar.Reading() && ar.Err() == nil && magic != headerMagic {
		ar.Fail(errors.Wrapf(ErrBadHeader, "magic %q", magic[:]))
		return
	}
	vstore.PackUUID(&h.Store, ar)
	vstore.Int64(&h.Capacity, ar)
	vstore.Slice(&h.Free, PackPlacement, ar)
	vstore.Slice(&h.Objects, PackRecord, ar)
	vstore.Map(&h.Categories, PackCategory, packMembers, ar)
	vstore.Map(&h.Shares, vstore.PackID, packEdges, ar)
	vstore.Map(&h.Names, vstore.String, vstore.PackID, ar)
}

// digestStream feeds every byte that passes through it to a hasher.
type digestStream struct {
	vstore.Stream
	hasher *blake3.Hasher
}

func (d *digestStream) Write(p []byte) (int, error) {
	n, err := d.Stream.Write(p)
	d.hasher.Write(p[:n])
	return n, err
}

func (d *digestStream) Read(p []byte) (int, error) {
	n, err := d.Stream.Read(p)
	d.hasher.Write(p[:n])
	return n, err
}

// Header captures the directory as it is now.
func (s *Store) Header() Header {
	h := Header{
		Store:      s.uuid,
		Capacity:   s.alloc.Capacity(),
		Free:       s.alloc.Free(),
		Objects:    make([]ObjectRecord, 0, len(s.records)),
		Categories: make(map[Category]map[ID]struct{}, len(s.categories)),
		Shares:     make(map[ID]map[ID]int, len(s.shares)),
		Names:      make(map[string]ID, len(s.names)),
	}
	for _, id := range s.IDs() {
		rec, _ := s.Record(id)
		h.Objects = append(h.Objects, rec)
	}
	for cat, members := range s.categories {
		h.Categories[cat] = make(map[ID]struct{}, len(members))
		for id := range members {
			h.Categories[cat][id] = struct{}{}
		}
	}
	for owner, edges := range s.shares {
		if len(edges) == 0 {
			continue
		}
		h.Shares[owner] = make(map[ID]int, len(edges))
		for target, n := range edges {
			h.Shares[owner][target] = n
		}
	}
	for key, id := range s.names {
		h.Names[key] = id
	}
	return h
}

// WriteHeader writes h followed by its digest.
func WriteHeader(stream vstore.Stream, h *Header) error {
	ds := &digestStream{Stream: stream, hasher: blake3.New()}
	ar := vstore.NewArchive(ds, vstore.NoTracking)
	vstore.Write(ar, h, PackHeader)
	digest := ds.hasher.Sum(nil)
	ar.SetStream(stream)
	vstore.Write(ar, &digest, func(d *[]byte, ar *vstore.Archive) { vstore.PlainBytes(*d, ar) })
	return errors.Wrap(ar.TakeErr(), "write store header")
}

// ReadHeader reads a header and verifies its digest.
func ReadHeader(stream vstore.Stream) (*Header, error) {
	ds := &digestStream{Stream: stream, hasher: blake3.New()}
	ar := vstore.NewArchive(ds, vstore.NoTracking)
	var h Header
	vstore.Read(ar, &h, PackHeader)
	if err := ar.TakeErr(); err != nil {
		return nil, errors.Wrap(err, "read store header")
	}
	want := ds.hasher.Sum(nil)
	got := make([]byte, digestSize)
	ar.SetStream(stream)
	vstore.Read(ar, &got, func(d *[]byte, ar *vstore.Archive) { vstore.PlainBytes(*d, ar) })
	if err := ar.TakeErr(); err != nil {
		return nil, errors.Wrap(err, "read store header digest")
	}
	if !bytes.Equal(want, got) {
		return nil, ErrDigestMismatch
	}
	return &h, nil
}

// SaveHeader writes the directory to stream.
func (s *Store) SaveHeader(stream vstore.Stream) error {
	h := s.Header()
	return WriteHeader(stream, &h)
}

// LoadHeader replaces the directory with the one read from stream. The
// header must describe a region no larger than the store's and pass the
// same checks as Check. On failure the store is left as it was.
func (s *Store) LoadHeader(stream vstore.Stream) error {
	h, err := ReadHeader(stream)
	if err != nil {
		return err
	}
	if s.region != nil && h.Capacity > s.region.Size() {
		return errors.Wrapf(ErrBadHeader, "capacity %d exceeds region of %d bytes", h.Capacity, s.region.Size())
	}
	allocator, err := alloc.Restore(h.Capacity, h.Free)
	if err != nil {
		return errors.Wrap(err, "restore free list")
	}
	records := make(map[ID]*ObjectRecord, len(h.Objects))
	for i := range h.Objects {
		rec := &h.Objects[i]
		if rec.ID == NullID {
			return errors.Wrap(ErrBadHeader, "record with the null id")
		}
		if _, dup := records[rec.ID]; dup {
			return errors.Wrapf(ErrBadHeader, "object %d recorded twice", rec.ID)
		}
		records[rec.ID] = rec
	}
	categories := make(map[Category]map[ID]struct{}, len(h.Categories))
	for cat, members := range h.Categories {
		if len(members) > 0 {
			categories[cat] = members
		}
	}
	if err := (directory{
		alloc:      allocator,
		records:    records,
		categories: categories,
		shares:     h.Shares,
		names:      h.Names,
	}).check(); err != nil {
		return errors.Wrap(err, "load store header")
	}

	s.reset()
	s.ar.Reset()
	s.uuid = h.Store
	s.alloc = allocator
	s.records = records
	s.categories = categories
	for owner, edges := range h.Shares {
		if len(edges) > 0 {
			s.shares[owner] = edges
		}
	}
	s.names = h.Names
	for id := range records {
		s.claimID(id)
	}
	s.log.WithFields(logrus.Fields{
		"store":   s.uuid,
		"objects": len(s.records),
	}).Debug("header loaded")
	return nil
}

// SaveHeaderFile writes the header to path, replacing the file.
func (s *Store) SaveHeaderFile(path string) error {
	buf := vstore.NewWriter()
	if err := s.SaveHeader(buf); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "rename %s", tmp)
}

func (s *Store) LoadHeaderFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	return s.LoadHeader(vstore.NewReader(data))
}
