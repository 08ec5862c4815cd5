package store

import (
	"github.com/pkg/errors"

	"go.hasen.dev/vstore/alloc"
)

var ErrInconsistent = errors.New("store directory inconsistent")

// Check verifies the allocator invariant over the live records, and that the
// category index, name table and reference counts agree with the records.
func (s *Store) Check() error {
	return directory{
		alloc:      s.alloc,
		records:    s.records,
		categories: s.categories,
		shares:     s.shares,
		names:      s.names,
	}.check()
}

type directory struct {
	alloc      *alloc.Allocator
	records    map[ID]*ObjectRecord
	categories map[Category]map[ID]struct{}
	shares     map[ID]map[ID]int
	names      map[string]ID
}

func (s directory) check() error {
	live := make([]alloc.Placement, 0, len(s.records))
	for _, rec := range s.records {
		live = append(live, rec.Placement)
	}
	if err := s.alloc.Check(live); err != nil {
		return err
	}

	indexed := 0
	for cat, members := range s.categories {
		for id := range members {
			rec, ok := s.records[id]
			if !ok {
				return errors.Wrapf(ErrInconsistent, "category %d lists unknown object %d", cat, id)
			}
			if rec.Category != cat {
				return errors.Wrapf(ErrInconsistent, "object %d is in category %d, indexed under %d", id, rec.Category, cat)
			}
			indexed++
		}
	}
	if indexed != len(s.records) {
		return errors.Wrapf(ErrInconsistent, "%d objects, %d indexed by category", len(s.records), indexed)
	}

	for key, id := range s.names {
		if _, ok := s.records[id]; !ok {
			return errors.Wrapf(ErrInconsistent, "name %q bound to unknown object %d", key, id)
		}
	}

	incoming := make(map[ID]int64)
	for owner, edges := range s.shares {
		if _, ok := s.records[owner]; !ok && len(edges) > 0 {
			return errors.Wrapf(ErrInconsistent, "references held by unknown object %d", owner)
		}
		for target, n := range edges {
			if _, ok := s.records[target]; !ok {
				return errors.Wrapf(ErrInconsistent, "object %d references unknown object %d", owner, target)
			}
			if n <= 0 {
				return errors.Wrapf(ErrInconsistent, "object %d references object %d %d times", owner, target, n)
			}
			incoming[target] += int64(n)
		}
	}
	for id, rec := range s.records {
		if rec.Refs != incoming[id] {
			return errors.Wrapf(ErrInconsistent, "object %d counts %d references, %d recorded", id, rec.Refs, incoming[id])
		}
	}
	return nil
}
