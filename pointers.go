package vstore

import (
	"fmt"

	"github.com/pkg/errors"
)

// Ref is a shared-ownership handle. Handles made with Clone share the
// pointee and its use count; the zero Ref is nil.
type Ref[T any] struct {
	cell *refCell[T]
}

type refCell[T any] struct {
	value T
	uses  int
}

// NewRef returns a handle to a new shared value with one use.
func NewRef[T any](v T) Ref[T] {
	return Ref[T]{cell: &refCell[T]{value: v, uses: 1}}
}

// Get returns the shared value, or nil for a nil handle.
func (r Ref[T]) Get() *T {
	if r.cell == nil {
		return nil
	}
	return &r.cell.value
}

// Clone returns another handle to the same value and counts one more use.
func (r Ref[T]) Clone() Ref[T] {
	if r.cell != nil {
		r.cell.uses++
	}
	return r
}

// Release gives up this handle's use and makes it nil.
func (r *Ref[T]) Release() {
	if r.cell != nil {
		r.cell.uses--
		r.cell = nil
	}
}

// Uses reports how many live handles share the value.
func (r Ref[T]) Uses() int {
	if r.cell == nil {
		return 0
	}
	return r.cell.uses
}

func (r Ref[T]) IsNil() bool {
	return r.cell == nil
}

// Same reports whether both handles share one value.
func (r Ref[T]) Same(o Ref[T]) bool {
	return r.cell == o.cell
}

func (r Ref[T]) String() string {
	if r.cell == nil {
		return "Ref(nil)"
	}
	return fmt.Sprintf("Ref(%p, uses=%d)", r.cell, r.cell.uses)
}

// Pointer implements serialization for a plain pointer. Unless the archive
// tracks pointers, the pointee is written inline after a presence byte and
// every occurrence reads back as an independent copy.
func Pointer[T any](p **T, fn PackFn[T], ar *Archive) {
	if ar.mode&TrackPointers == 0 {
		var present = *p != nil
		Bool(&present, ar)
		if !present || ar.err != nil {
			if ar.Reading() && ar.err == nil {
				*p = nil
			}
			return
		}
		if ar.Reading() {
			*p = new(T)
		}
		fn(*p, ar)
		return
	}

	if !ar.Reading() {
		if *p == nil {
			var null = NullID
			PackID(&null, ar)
			return
		}
		target := *p
		ar.emit(target, false, func(ar *Archive) { fn(target, ar) })
		return
	}

	id, ok := ar.readID()
	if !ok {
		return
	}
	if id == NullID {
		*p = nil
		return
	}
	if prior, seen := ar.in[id]; seen {
		target, ok := prior.(*T)
		if !ok {
			ar.Fail(errors.Wrapf(ErrTypeMismatch, "id %d is %T, not %T", id, prior, target))
			return
		}
		*p = target
		return
	}
	target := new(T)
	*p = target
	ar.materialize(id, target, func(ar *Archive) { fn(target, ar) })
}

// Shared implements serialization for a Ref. When the archive tracks shared
// references (the default), handles that share a value before writing still
// share one value after reading, cycles included.
func Shared[T any](r *Ref[T], fn PackFn[T], ar *Archive) {
	if ar.mode&TrackShared == 0 {
		var present = !r.IsNil()
		Bool(&present, ar)
		if !present || ar.err != nil {
			if ar.Reading() && ar.err == nil {
				*r = Ref[T]{}
			}
			return
		}
		if ar.Reading() {
			var zero T
			*r = NewRef(zero)
		}
		fn(r.Get(), ar)
		return
	}

	if !ar.Reading() {
		if r.IsNil() {
			var null = NullID
			PackID(&null, ar)
			return
		}
		cell := r.cell
		ar.emit(cell, true, func(ar *Archive) { fn(&cell.value, ar) })
		return
	}

	id, ok := ar.readID()
	if !ok {
		return
	}
	if id == NullID {
		*r = Ref[T]{}
		return
	}
	if prior, seen := ar.in[id]; seen {
		cell, ok := prior.(*refCell[T])
		if !ok {
			ar.Fail(errors.Wrapf(ErrTypeMismatch, "id %d is %T, not %T", id, prior, cell))
			return
		}
		*r = Ref[T]{cell: cell}.Clone()
		return
	}
	cell := &refCell[T]{uses: 1}
	*r = Ref[T]{cell: cell}
	ar.materialize(id, cell, func(ar *Archive) { fn(&cell.value, ar) })
}

func (ar *Archive) readID() (ID, bool) {
	var id ID
	PackID(&id, ar)
	return id, ar.err == nil
}

func (ar *Archive) mint(shared bool) ID {
	if ar.binder != nil {
		return ar.binder.MintShared()
	}
	if shared {
		id := ar.nextShared
		ar.nextShared--
		return id
	}
	id := ar.nextPtr
	ar.nextPtr++
	return id
}

func (ar *Archive) remember(key any, id ID, fresh uint64) {
	ar.out[key] = &written{id: id, fresh: fresh}
	ar.outKeys[id] = append(ar.outKeys[id], key)
}

// emit writes a non-nil tracked reference. key is the pointee's address and
// body writes the pointee itself.
func (ar *Archive) emit(key any, shared bool, body func(ar *Archive)) {
	if ar.err != nil {
		return
	}
	if ar.Sizing() {
		if ar.binder == nil {
			ar.Fail(errors.Wrapf(ErrUnsupportedSizeQuery, "%T", key))
			return
		}
		// the pointee is stored out of line, only its id counts
		ar.count += idWidth
		return
	}

	if w, seen := ar.out[key]; seen {
		id := w.id
		PackID(&id, ar)
		if ar.err != nil || ar.binder == nil {
			return
		}
		ar.binder.Retain(ar.parent, id)
		if ar.fresh > w.fresh {
			w.fresh = ar.fresh
			ar.detour(func() error { return ar.binder.Persist(id, body) })
		}
		return
	}

	id := ar.mint(shared)
	PackID(&id, ar)
	if ar.err != nil {
		return
	}
	ar.remember(key, id, ar.fresh)
	if ar.binder == nil {
		body(ar)
		return
	}
	ar.detour(func() error { return ar.binder.Persist(id, body) })
	if ar.err == nil {
		ar.binder.Retain(ar.parent, id)
	}
}

// materialize fills a freshly allocated pointee for a first-seen id. The
// pointee is registered before it is read so that cycles resolve to it.
func (ar *Archive) materialize(id ID, key any, body func(ar *Archive)) {
	ar.in[id] = key
	if ar.binder == nil {
		body(ar)
		return
	}
	// written back later, the value keeps its id
	if _, known := ar.out[key]; !known {
		ar.remember(key, id, ar.fresh)
	}
	ar.detour(func() error { return ar.binder.Materialize(id, body) })
}
