// Package alloc manages free space in a flat, fixed-size byte region.
//
// The free list is kept ordered by (length, offset) for best-fit lookups,
// with offset and end indexes so that a released range is merged with its
// neighbours in constant time.
package alloc

import (
	"cmp"
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

var (
	// ErrOutOfSpace means no free range is large enough. The free list is
	// left exactly as it was.
	ErrOutOfSpace = errors.New("allocator out of space")

	ErrNotFree  = errors.New("range is not free")
	ErrCorrupt  = errors.New("allocator invariant violated")
	ErrBadRange = errors.New("range outside region")
)

// Placement is a byte range inside the region.
type Placement struct {
	Offset int64
	Length int64
}

func (p Placement) End() int64 {
	return p.Offset + p.Length
}

// Adjacent reports whether p and o touch end to start, in either order.
func (p Placement) Adjacent(o Placement) bool {
	return p.End() == o.Offset || o.End() == p.Offset
}

func (p Placement) Overlaps(o Placement) bool {
	return p.Offset < o.End() && o.Offset < p.End()
}

func (p Placement) String() string {
	return fmt.Sprintf("[%d+%d]", p.Offset, p.Length)
}

// bestFit orders placements by length, then offset.
func bestFit(a, b Placement) int {
	if c := cmp.Compare(a.Length, b.Length); c != 0 {
		return c
	}
	return cmp.Compare(a.Offset, b.Offset)
}

func byOffset(a, b Placement) int {
	return cmp.Compare(a.Offset, b.Offset)
}

// Allocator hands out placements from a region of fixed capacity.
type Allocator struct {
	capacity int64
	free     []Placement     // sorted by bestFit
	starts   map[int64]int64 // free offset -> length
	ends     map[int64]int64 // free end -> offset
}

// New returns an allocator whose whole region is free.
func New(capacity int64) *Allocator {
	a := &Allocator{
		capacity: capacity,
		starts:   make(map[int64]int64),
		ends:     make(map[int64]int64),
	}
	if capacity > 0 {
		a.insert(Placement{Offset: 0, Length: capacity})
	}
	return a
}

// Restore rebuilds an allocator from a saved free list. The entries must be
// inside the region, disjoint and not adjacent.
func Restore(capacity int64, free []Placement) (*Allocator, error) {
	sorted := slices.Clone(free)
	slices.SortFunc(sorted, byOffset)
	for i, p := range sorted {
		if p.Length <= 0 || p.Offset < 0 || p.End() > capacity {
			return nil, errors.Wrapf(ErrBadRange, "free entry %v in region of %d bytes", p, capacity)
		}
		if i > 0 && sorted[i-1].End() >= p.Offset {
			return nil, errors.Wrapf(ErrCorrupt, "free entries %v and %v overlap or touch", sorted[i-1], p)
		}
	}
	a := &Allocator{
		capacity: capacity,
		starts:   make(map[int64]int64, len(sorted)),
		ends:     make(map[int64]int64, len(sorted)),
	}
	for _, p := range sorted {
		a.insert(p)
	}
	return a, nil
}

func (a *Allocator) Capacity() int64 {
	return a.capacity
}

// Free returns the free list ordered by offset.
func (a *Allocator) Free() []Placement {
	out := slices.Clone(a.free)
	slices.SortFunc(out, byOffset)
	return out
}

func (a *Allocator) FreeBytes() int64 {
	var total int64
	for _, p := range a.free {
		total += p.Length
	}
	return total
}

// Largest returns the length of the biggest free range.
func (a *Allocator) Largest() int64 {
	if len(a.free) == 0 {
		return 0
	}
	return a.free[len(a.free)-1].Length
}

// Reserve takes size bytes from the smallest free range that can hold them,
// preferring the lowest offset among equals. A zero size reserves nothing.
func (a *Allocator) Reserve(size int64) (Placement, error) {
	if size < 0 {
		return Placement{}, errors.Wrapf(ErrBadRange, "reserve %d bytes", size)
	}
	if size == 0 {
		return Placement{}, nil
	}
	i, _ := slices.BinarySearchFunc(a.free, size, func(p Placement, size int64) int {
		return cmp.Compare(p.Length, size)
	})
	if i == len(a.free) {
		return Placement{}, errors.Wrapf(ErrOutOfSpace, "%d bytes requested, largest free range is %d", size, a.Largest())
	}
	found := a.free[i]
	a.remove(found)
	if found.Length > size {
		a.insert(Placement{Offset: found.Offset + size, Length: found.Length - size})
	}
	return Placement{Offset: found.Offset, Length: size}, nil
}

// Release gives p back, merging it with free neighbours on either side.
func (a *Allocator) Release(p Placement) {
	if p.Length <= 0 {
		return
	}
	merged := p
	if leftOffset, ok := a.ends[p.Offset]; ok {
		left := Placement{Offset: leftOffset, Length: p.Offset - leftOffset}
		a.remove(left)
		merged = Placement{Offset: left.Offset, Length: left.Length + merged.Length}
	}
	if rightLength, ok := a.starts[p.End()]; ok {
		a.remove(Placement{Offset: p.End(), Length: rightLength})
		merged.Length += rightLength
	}
	a.insert(merged)
}

// Claim takes exactly p out of the free list. p must lie inside one free
// range; it is used to undo a Release.
func (a *Allocator) Claim(p Placement) error {
	if p.Length <= 0 {
		return nil
	}
	for _, f := range a.free {
		if f.Offset <= p.Offset && p.End() <= f.End() {
			a.remove(f)
			if p.Offset > f.Offset {
				a.insert(Placement{Offset: f.Offset, Length: p.Offset - f.Offset})
			}
			if f.End() > p.End() {
				a.insert(Placement{Offset: p.End(), Length: f.End() - p.End()})
			}
			return nil
		}
	}
	return errors.Wrapf(ErrNotFree, "claim %v", p)
}

// Check verifies that the free list and the live placements together cover
// the region exactly once, and that no two free ranges touch.
func (a *Allocator) Check(live []Placement) error {
	free := a.Free()
	for i := 1; i < len(free); i++ {
		if free[i-1].End() == free[i].Offset {
			return errors.Wrapf(ErrCorrupt, "free ranges %v and %v are adjacent", free[i-1], free[i])
		}
	}

	all := make([]Placement, 0, len(free)+len(live))
	all = append(all, free...)
	for _, p := range live {
		if p.Length > 0 {
			all = append(all, p)
		}
	}
	slices.SortFunc(all, byOffset)

	var next int64
	for _, p := range all {
		switch {
		case p.Offset < next:
			return errors.Wrapf(ErrCorrupt, "%v overlaps the range ending at %d", p, next)
		case p.Offset > next:
			return errors.Wrapf(ErrCorrupt, "gap of %d bytes at %d", p.Offset-next, next)
		}
		next = p.End()
	}
	if next != a.capacity {
		return errors.Wrapf(ErrCorrupt, "ranges cover %d of %d bytes", next, a.capacity)
	}
	return nil
}

func (a *Allocator) insert(p Placement) {
	i, _ := slices.BinarySearchFunc(a.free, p, bestFit)
	a.free = slices.Insert(a.free, i, p)
	a.starts[p.Offset] = p.Length
	a.ends[p.End()] = p.Offset
}

func (a *Allocator) remove(p Placement) {
	i, found := slices.BinarySearchFunc(a.free, p, bestFit)
	if found {
		a.free = slices.Delete(a.free, i, i+1)
	}
	delete(a.starts, p.Offset)
	delete(a.ends, p.End())
}
