// Package store keeps serialized objects as individually addressable records
// inside one fixed-size region.
//
// Every record is written with the same pack functions used for plain
// archives. A put runs the pack function twice: once sizing, to learn how
// many bytes to reserve, then writing at the reserved offset. Shared
// references reached while writing are stored as records of their own,
// with negative ids, and are reference counted: when the last object that
// points at one is rewritten or deleted, the shared record is deleted too.
package store

import (
	"cmp"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"go.hasen.dev/vstore"
	"go.hasen.dev/vstore/alloc"
)

type ID = vstore.ID

const NullID = vstore.NullID

// Category groups records for ByCategory.
type Category int32

const DefaultCategory Category = 0

var (
	ErrNotFound     = errors.New("no such object")
	ErrSizeMismatch = errors.New("written size differs from measured size")
	ErrClosed       = errors.New("store is closed")
)

// ObjectRecord is the directory entry of one stored object.
type ObjectRecord struct {
	ID        ID
	Placement alloc.Placement
	Category  Category
	Refs      int64 // references held by other records
	Meta      []byte
}

// Store is a directory of objects over a Region. It is not safe for
// concurrent use.
type Store struct {
	opts   Options
	log    *logrus.Entry
	region vstore.Region
	ar     *vstore.Archive
	alloc  *alloc.Allocator
	uuid   vstore.UUID

	records    map[ID]*ObjectRecord
	categories map[Category]map[ID]struct{}
	shares     map[ID]map[ID]int // owner -> shared target -> references
	names      map[string]ID

	nextID     ID
	nextShared ID
	inflight   map[ID]bool
	closer     io.Closer
}

// New returns an empty store over region. The whole region is free.
func New(region vstore.Region, opts Options) *Store {
	s := &Store{
		opts:   opts,
		log:    opts.logger(),
		region: region,
		ar:     vstore.NewArchive(region, opts.Mode()),
		alloc:  alloc.New(region.Size()),
		uuid:   vstore.GenerateUUID(),
	}
	s.reset()
	s.ar.Bind(binder{s})
	s.log.WithFields(logrus.Fields{
		"store":    s.uuid,
		"capacity": region.Size(),
	}).Debug("store created")
	return s
}

func (s *Store) reset() {
	s.records = make(map[ID]*ObjectRecord)
	s.categories = make(map[Category]map[ID]struct{})
	s.shares = make(map[ID]map[ID]int)
	s.names = make(map[string]ID)
	s.inflight = make(map[ID]bool)
	s.nextID = 1
	s.nextShared = -1
}

// UUID identifies the store; it is saved in the header.
func (s *Store) UUID() vstore.UUID {
	return s.uuid
}

// Archive is the archive the store serializes through. Its identity maps
// live as long as the store.
func (s *Store) Archive() *vstore.Archive {
	return s.ar
}

func (s *Store) Allocator() *alloc.Allocator {
	return s.alloc
}

// Close releases the backing device, if the store opened it.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	s.region = nil
	return err
}

func (s *Store) mintID() ID {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Store) mintShared() ID {
	id := s.nextShared
	s.nextShared--
	return id
}

// claimID keeps the counters past an id chosen by the caller.
func (s *Store) claimID(id ID) {
	if id >= s.nextID {
		s.nextID = id + 1
	}
	if id <= s.nextShared {
		s.nextShared = id - 1
	}
}

// Put stores v under a new id.
func Put[T any](s *Store, v *T, fn vstore.PackFn[T], cat Category) (ID, error) {
	id := s.mintID()
	if err := PutAt(s, id, v, fn, cat); err != nil {
		return NullID, err
	}
	return id, nil
}

// PutAt stores v under id, replacing whatever was stored there.
func PutAt[T any](s *Store, id ID, v *T, fn vstore.PackFn[T], cat Category) error {
	if s.region == nil {
		return ErrClosed
	}
	if id == NullID {
		return errors.New("cannot store under the null id")
	}
	s.claimID(id)
	if !s.opts.Shallow {
		s.ar.Touch()
	}
	err := s.persist(id, cat, true, func(ar *vstore.Archive) { fn(v, ar) })
	s.ar.TakeErr()
	if err != nil {
		s.log.WithError(err).WithField("id", id).Warn("put failed")
	}
	return err
}

// PutNamed stores v under the id bound to key, binding a new id the first
// time key is used.
func PutNamed[T any](s *Store, key string, v *T, fn vstore.PackFn[T], cat Category) (ID, error) {
	id, bound := s.names[key]
	if !bound {
		id = s.mintID()
	}
	if err := PutAt(s, id, v, fn, cat); err != nil {
		return NullID, err
	}
	s.names[key] = id
	return id, nil
}

// Get reads the object stored under id into out. It reports false, leaving
// out untouched, when id is unknown.
func Get[T any](s *Store, id ID, out *T, fn vstore.PackFn[T]) (bool, error) {
	if s.region == nil {
		return false, ErrClosed
	}
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	s.ar.ForgetReads()
	err := s.materialize(id, func(ar *vstore.Archive) { fn(out, ar) })
	s.ar.TakeErr()
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetOr is Get, setting out to def when id is unknown.
func GetOr[T any](s *Store, id ID, out *T, def T, fn vstore.PackFn[T]) (bool, error) {
	found, err := Get(s, id, out, fn)
	if !found && err == nil {
		*out = def
	}
	return found, err
}

func GetNamed[T any](s *Store, key string, out *T, fn vstore.PackFn[T]) (bool, error) {
	id, ok := s.names[key]
	if !ok {
		return false, nil
	}
	return Get(s, id, out, fn)
}

// Delete removes the object stored under id, dropping its references to
// shared objects. It reports false when id is unknown.
func (s *Store) Delete(id ID) bool {
	if _, ok := s.records[id]; !ok {
		return false
	}
	s.remove(id)
	return true
}

func (s *Store) DeleteNamed(key string) bool {
	id, ok := s.names[key]
	if !ok {
		return false
	}
	return s.Delete(id)
}

// Lookup returns the id bound to key.
func (s *Store) Lookup(key string) (ID, bool) {
	id, ok := s.names[key]
	return id, ok
}

// ByCategory returns the ids in cat in ascending order.
func (s *Store) ByCategory(cat Category) []ID {
	ids := maps.Keys(s.categories[cat])
	slices.Sort(ids)
	return ids
}

// IDs returns every stored id in ascending order.
func (s *Store) IDs() []ID {
	ids := maps.Keys(s.records)
	slices.Sort(ids)
	return ids
}

// Names returns the name table sorted by key.
func (s *Store) Names() []vstore.Pair[string, ID] {
	out := make([]vstore.Pair[string, ID], 0, len(s.names))
	for key, id := range s.names {
		out = append(out, vstore.Pair[string, ID]{First: key, Second: id})
	}
	slices.SortFunc(out, func(a, b vstore.Pair[string, ID]) int {
		return cmp.Compare(a.First, b.First)
	})
	return out
}

// Record returns a copy of the directory entry of id.
func (s *Store) Record(id ID) (ObjectRecord, bool) {
	rec, ok := s.records[id]
	if !ok {
		return ObjectRecord{}, false
	}
	out := *rec
	out.Meta = nil
	if len(rec.Meta) > 0 {
		out.Meta = slices.Clone(rec.Meta)
	}
	return out, true
}

// Refs lists the shared objects id points at, with how many times.
func (s *Store) Refs(id ID) map[ID]int {
	if len(s.shares[id]) == 0 {
		return nil
	}
	return maps.Clone(s.shares[id])
}

// Raw returns the stored bytes of id.
func (s *Store) Raw(id ID) ([]byte, error) {
	if s.region == nil {
		return nil, ErrClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "object %d", id)
	}
	data, err := s.readAt(rec.Placement)
	return data, errors.Wrapf(err, "read object %d", id)
}

// persist stores the value body writes under id. top is set for calls made
// by the user, as opposed to shared objects reached while writing.
func (s *Store) persist(id ID, cat Category, top bool, body func(ar *vstore.Archive)) error {
	if s.inflight[id] {
		return nil
	}
	s.inflight[id] = true
	defer delete(s.inflight, id)

	old, exists := s.records[id]
	if exists && !top {
		cat = old.Category
	}

	size := s.ar.Pass(vstore.Sizing, id, body)
	if err := s.ar.Err(); err != nil {
		if !exists {
			s.ar.Forget(id)
		}
		return errors.Wrapf(err, "measure object %d", id)
	}

	var prev ObjectRecord
	var oldEdges map[ID]int
	if exists {
		prev = *old
		oldEdges = s.shares[id]
		delete(s.shares, id)
	}

	// a rewrite keeps its old bytes while looking for room, and only gives
	// them up when nothing else fits
	var saved []byte
	placement, err := s.alloc.Reserve(int64(size))
	if exists && errors.Is(err, alloc.ErrOutOfSpace) && prev.Placement.Length > 0 {
		if saved, err = s.readAt(prev.Placement); err == nil {
			s.alloc.Release(prev.Placement)
			placement, err = s.alloc.Reserve(int64(size))
			if err != nil {
				s.reclaim(prev.Placement)
			}
		}
	}
	if err != nil {
		if exists {
			if oldEdges != nil {
				s.shares[id] = oldEdges
			}
		} else {
			s.ar.Forget(id)
		}
		return errors.Wrapf(err, "store object %d of %d bytes", id, size)
	}

	rec := old
	if !exists {
		rec = &ObjectRecord{ID: id}
		s.records[id] = rec
	}
	rec.Placement = placement
	s.setCategory(rec, cat)

	// the record exists before writing so that cycles back to id resolve
	if err := s.region.SeekWrite(placement.Offset); err != nil {
		s.ar.Fail(errors.Wrapf(err, "seek to object %d", id))
	}
	written := s.ar.Pass(vstore.Writing, id, body)

	if err := s.ar.Err(); err != nil {
		s.unwind(rec, exists, prev, oldEdges, saved)
		return errors.Wrapf(err, "write object %d", id)
	}
	if written != size {
		s.unwind(rec, exists, prev, oldEdges, saved)
		return errors.Wrapf(ErrSizeMismatch, "object %d: measured %d, wrote %d", id, size, written)
	}

	if exists && saved == nil {
		s.alloc.Release(prev.Placement)
	}
	for target, count := range oldEdges {
		s.drop(target, count)
	}
	s.log.WithFields(logrus.Fields{
		"id":     id,
		"offset": placement.Offset,
		"length": placement.Length,
	}).Trace("object stored")
	return nil
}

// unwind takes back a write of rec that failed part way. A new record is
// removed along with whatever it reached. A rewritten one gets its old
// placement, bytes, category and references back; shared objects it reached
// that existed before keep the state they were written with.
func (s *Store) unwind(rec *ObjectRecord, exists bool, prev ObjectRecord, oldEdges map[ID]int, saved []byte) {
	if !exists {
		s.remove(rec.ID)
		return
	}
	edges := s.shares[rec.ID]
	delete(s.shares, rec.ID)
	if oldEdges != nil {
		s.shares[rec.ID] = oldEdges
	}
	for target, count := range edges {
		s.drop(target, count)
	}

	s.alloc.Release(rec.Placement)
	rec.Placement = prev.Placement
	s.setCategory(rec, prev.Category)
	if saved == nil {
		return
	}
	if !s.reclaim(prev.Placement) {
		// the old bytes have nowhere to go
		rec.Placement = alloc.Placement{}
		s.remove(rec.ID)
		return
	}
	if err := s.writeAt(prev.Placement, saved); err != nil {
		s.log.WithError(err).WithField("id", rec.ID).Error("cannot restore object")
	}
}

// reclaim takes back a placement given up during a failed write.
func (s *Store) reclaim(p alloc.Placement) bool {
	if err := s.alloc.Claim(p); err != nil {
		s.log.WithError(err).WithField("placement", p).Error("cannot restore placement")
		return false
	}
	return true
}

func (s *Store) readAt(p alloc.Placement) ([]byte, error) {
	if err := s.region.SeekRead(p.Offset); err != nil {
		return nil, err
	}
	data := make([]byte, p.Length)
	if _, err := io.ReadFull(s.region, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) writeAt(p alloc.Placement, data []byte) error {
	if err := s.region.SeekWrite(p.Offset); err != nil {
		return err
	}
	_, err := s.region.Write(data)
	return err
}

// materialize reads the object stored under id with body.
func (s *Store) materialize(id ID, body func(ar *vstore.Archive)) error {
	rec, ok := s.records[id]
	if !ok {
		return errors.Wrapf(vstore.ErrDanglingReference, "object %d", id)
	}
	if err := s.region.SeekRead(rec.Placement.Offset); err != nil {
		return errors.Wrapf(err, "seek to object %d", id)
	}
	read := s.ar.Pass(vstore.Reading, id, body)
	if err := s.ar.Err(); err != nil {
		return errors.Wrapf(err, "read object %d", id)
	}
	if int64(read) != rec.Placement.Length {
		return errors.Wrapf(ErrSizeMismatch, "object %d: stored %d, read %d", id, rec.Placement.Length, read)
	}
	return nil
}

func (s *Store) setCategory(rec *ObjectRecord, cat Category) {
	if members, ok := s.categories[rec.Category]; ok {
		delete(members, rec.ID)
		if len(members) == 0 {
			delete(s.categories, rec.Category)
		}
	}
	rec.Category = cat
	if s.categories[cat] == nil {
		s.categories[cat] = make(map[ID]struct{})
	}
	s.categories[cat][rec.ID] = struct{}{}
}

// retain records one more reference from parent to id.
func (s *Store) retain(parent, id ID) {
	rec, ok := s.records[id]
	if !ok || parent == NullID {
		return
	}
	rec.Refs++
	if s.shares[parent] == nil {
		s.shares[parent] = make(map[ID]int)
	}
	s.shares[parent][id]++
}

// drop gives up count references to id. Shared objects left without
// references are deleted.
func (s *Store) drop(id ID, count int) {
	rec, ok := s.records[id]
	if !ok {
		return
	}
	rec.Refs -= int64(count)
	if rec.Refs <= 0 && id < 0 && !s.inflight[id] {
		s.log.WithField("id", id).Trace("unreferenced shared object deleted")
		s.remove(id)
	}
}

func (s *Store) remove(id ID) {
	rec, ok := s.records[id]
	if !ok {
		return
	}
	delete(s.records, id)
	if members, ok := s.categories[rec.Category]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(s.categories, rec.Category)
		}
	}
	for key, named := range s.names {
		if named == id {
			delete(s.names, key)
		}
	}
	for _, edges := range s.shares {
		delete(edges, id)
	}
	s.ar.Forget(id)
	s.alloc.Release(rec.Placement)

	edges := s.shares[id]
	delete(s.shares, id)
	for target, count := range edges {
		s.drop(target, count)
	}
}

// binder lets the archive mint, persist and materialize shared objects
// through the store.
type binder struct {
	s *Store
}

func (b binder) MintShared() ID {
	return b.s.mintShared()
}

func (b binder) Persist(id ID, body func(ar *vstore.Archive)) error {
	return b.s.persist(id, DefaultCategory, false, body)
}

func (b binder) Materialize(id ID, body func(ar *vstore.Archive)) error {
	return b.s.materialize(id, body)
}

func (b binder) Retain(parent, id ID) {
	b.s.retain(parent, id)
}
