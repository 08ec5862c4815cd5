package vstore

import (
	"io"

	"github.com/pkg/errors"
)

// ID names a referenced object. Positive ids are ordinary objects, negative
// ids are session-shared objects, NullID is the null reference.
type ID int64

const NullID ID = 0

// idWidth is the encoded size of an ID.
const idWidth = 8

// Mode selects which kinds of references are identity tracked.
type Mode int

const (
	// TrackPointers makes plain pointers keep their identity: a pointee seen
	// twice is written once and linked by id afterwards.
	TrackPointers Mode = 1 << iota

	// TrackShared does the same for Ref handles. This is the default.
	TrackShared

	NoTracking  Mode = 0
	DefaultMode      = TrackShared
)

// Direction is what the pack functions are currently doing.
type Direction int

const (
	Writing Direction = iota
	Reading
	Sizing
)

func (d Direction) String() string {
	switch d {
	case Writing:
		return "writing"
	case Reading:
		return "reading"
	case Sizing:
		return "sizing"
	default:
		return "unknown"
	}
}

// PackFn is a generic serialization function that can be used to serialize,
// deserialize or measure data, depending on the archive's direction.
type PackFn[T any] func(v *T, ar *Archive)

// Binder is implemented by an object store attached to an archive. With a
// binder, tracked pointees are not written inline: the archive asks the
// binder to mint their ids and to persist or materialize them out of line.
type Binder interface {
	// MintShared returns a fresh session-only id.
	MintShared() ID

	// Persist stores the value produced by body under id.
	Persist(id ID, body func(ar *Archive)) error

	// Materialize reads the value stored under id with body.
	Materialize(id ID, body func(ar *Archive)) error

	// Retain records that parent holds one more reference to id.
	Retain(parent, id ID)
}

type written struct {
	id    ID
	fresh uint64
}

// Archive binds a stream, the tracking mode and the identity maps of one
// serialization session.
type Archive struct {
	stream Stream
	mode   Mode
	binder Binder

	dir    Direction
	count  int
	parent ID
	err    error

	out     map[any]*written // pointee -> id, serialize side
	outKeys map[ID][]any
	in      map[ID]any // id -> materialized value, deserialize side

	nextPtr    ID
	nextShared ID
	fresh      uint64
}

// NewArchive binds stream with the given mode. The stream may be nil, in
// which case reads and writes do nothing.
func NewArchive(stream Stream, mode Mode) *Archive {
	ar := &Archive{
		stream: stream,
		mode:   mode,
	}
	ar.Reset()
	return ar
}

// Reset forgets every identity seen so far, starting a new session.
func (ar *Archive) Reset() {
	ar.out = make(map[any]*written)
	ar.outKeys = make(map[ID][]any)
	ar.in = make(map[ID]any)
	ar.nextPtr = 1
	ar.nextShared = -1
}

// ForgetReads clears only the deserialize-side identity map.
func (ar *Archive) ForgetReads() {
	clear(ar.in)
}

// Forget drops every identity-map entry for id.
func (ar *Archive) Forget(id ID) {
	for _, key := range ar.outKeys[id] {
		delete(ar.out, key)
	}
	delete(ar.outKeys, id)
	delete(ar.in, id)
}

// Bind attaches a store. Pass nil to detach.
func (ar *Archive) Bind(b Binder) {
	ar.binder = b
}

func (ar *Archive) Stream() Stream {
	return ar.stream
}

// SetStream rebinds the archive to another stream, keeping the session.
func (ar *Archive) SetStream(s Stream) {
	ar.stream = s
}

func (ar *Archive) Mode() Mode {
	return ar.mode
}

func (ar *Archive) Dir() Direction {
	return ar.dir
}

func (ar *Archive) Reading() bool {
	return ar.dir == Reading
}

func (ar *Archive) Writing() bool {
	return ar.dir == Writing
}

func (ar *Archive) Sizing() bool {
	return ar.dir == Sizing
}

// Count is the number of bytes moved (or measured) by the current pass.
func (ar *Archive) Count() int {
	return ar.count
}

// Parent is the id of the object currently being stored, NullID outside a
// store.
func (ar *Archive) Parent() ID {
	return ar.parent
}

// Touch advances the freshness counter: shared objects written in an older
// session are persisted again the next time they are seen.
func (ar *Archive) Touch() uint64 {
	ar.fresh++
	return ar.fresh
}

func (ar *Archive) Freshness() uint64 {
	return ar.fresh
}

// Ready reports whether a stream is bound, the stream is healthy and no
// error has been recorded.
func (ar *Archive) Ready() bool {
	return ar.stream != nil && ar.stream.Ready() && ar.err == nil
}

// Err returns the sticky error, if any. Once set, every pack function is a
// no-op until TakeErr is called.
func (ar *Archive) Err() error {
	return ar.err
}

// TakeErr returns the sticky error and clears it.
func (ar *Archive) TakeErr() error {
	err := ar.err
	ar.err = nil
	return err
}

// Fail records err unless an error is already recorded.
func (ar *Archive) Fail(err error) {
	if ar.err == nil && err != nil {
		ar.err = err
	}
}

// Pass runs body in the given direction with parent as the current object,
// then restores the archive's previous direction, count and parent. It
// returns the number of bytes body moved, or 0 if an error was recorded.
func (ar *Archive) Pass(dir Direction, parent ID, body func(ar *Archive)) int {
	prevDir, prevCount, prevParent := ar.dir, ar.count, ar.parent
	defer func() {
		ar.dir, ar.count, ar.parent = prevDir, prevCount, prevParent
	}()
	ar.dir, ar.count, ar.parent = dir, 0, parent
	body(ar)
	if ar.err != nil {
		return 0
	}
	return ar.count
}

// Write serializes v with fn and returns the bytes written. It returns 0
// without doing anything if no stream is bound, and 0 on failure.
func Write[T any](ar *Archive, v *T, fn PackFn[T]) int {
	if ar.stream == nil {
		return 0
	}
	return ar.Pass(Writing, ar.parent, func(ar *Archive) { fn(v, ar) })
}

// Read deserializes into v with fn and returns the bytes consumed.
func Read[T any](ar *Archive, v *T, fn PackFn[T]) int {
	if ar.stream == nil {
		return 0
	}
	return ar.Pass(Reading, ar.parent, func(ar *Archive) { fn(v, ar) })
}

// Size returns the number of bytes Write would produce for v, without
// touching the stream. An error already recorded on ar is returned and kept.
func Size[T any](ar *Archive, v *T, fn PackFn[T]) (int, error) {
	if ar.err != nil {
		return 0, ar.err
	}
	n := ar.Pass(Sizing, ar.parent, func(ar *Archive) { fn(v, ar) })
	return n, ar.TakeErr()
}

// Block moves raw bytes: it writes p, fills p, or counts len(p).
func (ar *Archive) Block(p []byte) {
	if ar.err != nil {
		return
	}
	if ar.dir == Sizing {
		ar.count += len(p)
		return
	}
	if ar.stream == nil {
		ar.Fail(errors.Wrap(ErrStreamNotReady, "no stream bound"))
		return
	}
	var n int
	var err error
	if ar.dir == Writing {
		n, err = ar.stream.Write(p)
	} else {
		n, err = io.ReadFull(ar.stream, p)
	}
	ar.count += n
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		ar.Fail(errors.Wrapf(ErrStreamNotReady, "%s %d bytes: %v", ar.dir, len(p), err))
		return
	}
	if !ar.stream.Ready() {
		ar.Fail(errors.Wrapf(ErrStreamNotReady, "%s %d bytes", ar.dir, len(p)))
	}
}

// implements io.ByteReader, for varint decoding
func (ar *Archive) ReadByte() (byte, error) {
	var one [1]byte
	ar.Block(one[:])
	return one[0], ar.err
}

// detour runs a store side trip, preserving the stream cursors on every
// exit path.
func (ar *Archive) detour(call func() error) {
	if cur, ok := ar.stream.(Cursor); ok {
		wpos, rpos := cur.TellWrite(), cur.TellRead()
		defer func() {
			_ = cur.SeekWrite(wpos)
			_ = cur.SeekRead(rpos)
		}()
	}
	if err := call(); err != nil {
		ar.Fail(err)
	}
}

// ToBytes serializes obj into a fresh byte slice. It returns nil on failure.
func ToBytes[T any](obj *T, fn PackFn[T], mode Mode) []byte {
	buf := NewWriter()
	ar := NewArchive(buf, mode)
	Write(ar, obj, fn)
	if !ar.Ready() {
		return nil
	}
	return buf.Bytes()
}

func FromBytes[T any](data []byte, fn PackFn[T], mode Mode) *T {
	var obj T
	if FromBytesInto(data, &obj, fn, mode) {
		return &obj
	}
	return nil
}

func FromBytesInto[T any](data []byte, obj *T, fn PackFn[T], mode Mode) bool {
	ar := NewArchive(NewReader(data), mode)
	Read(ar, obj, fn)
	return ar.Ready()
}

// SizeOf measures obj in a throwaway archive.
func SizeOf[T any](obj *T, fn PackFn[T], mode Mode) (int, error) {
	return Size(NewArchive(nil, mode), obj, fn)
}
