package vstore

import (
	"encoding"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.hasen.dev/generic"
	"golang.org/x/exp/slices"
)

// length writes or reads a container's int32 element count. On read, it
// returns -1 if the count could not be read or is invalid.
func length(n int, ar *Archive) int {
	if n > math.MaxInt32 {
		ar.Fail(errors.Wrapf(ErrBadLength, "%d elements do not fit a length prefix", n))
		return -1
	}
	var size = int32(n)
	Int32(&size, ar)
	if ar.err != nil {
		return -1
	}
	if size < 0 {
		ar.Fail(errors.Wrapf(ErrBadLength, "read count %d", size))
		return -1
	}
	return int(size)
}

// A count read from the stream is not trusted for allocation: containers
// grow as their content actually arrives, at most this many units at a time.
const (
	chunkBytes = 1 << 16
	chunkItems = 1 << 12
)

// readBlock reads size raw bytes.
func readBlock(size int, ar *Archive) []byte {
	data := make([]byte, 0, min(size, chunkBytes))
	for len(data) < size && ar.err == nil {
		n := min(size-len(data), chunkBytes)
		data = slices.Grow(data, n)[:len(data)+n]
		ar.Block(data[len(data)-n:])
	}
	return data
}

// readItems reads size items into *list, reading over the existing ones and
// appending the rest.
func readItems[T any](list *[]T, size int, fn PackFn[T], ar *Archive) {
	if size < len(*list) {
		*list = (*list)[:size]
	}
	for index := 0; index < size; index++ {
		if index == len(*list) {
			*list = slices.Grow(*list, min(size-index, chunkItems))[:index+1]
		}
		fn(&(*list)[index], ar)
		if ar.err != nil {
			return
		}
	}
}

// String implements serialization for a string by first writing out the
// length in bytes as an int32, then the bytes themselves, with no terminator.
func String(s *string, ar *Archive) {
	var size = length(len(*s), ar)
	if size < 0 {
		return
	}
	switch ar.dir {
	case Reading:
		data := readBlock(size, ar)
		if ar.err == nil {
			*s = string(data)
		}
	case Writing:
		ar.Block([]byte(*s))
	case Sizing:
		ar.count += size
	}
}

// ByteSlice implements serialization for a byte slice. It's more or less just
// like String.
func ByteSlice(s *[]byte, ar *Archive) {
	var size = length(len(*s), ar)
	if size < 0 {
		return
	}
	if ar.Reading() {
		data := readBlock(size, ar)
		if ar.err == nil {
			*s = data
		}
		return
	}
	ar.Block((*s)[:size])
}

// Runes implements serialization for wide text: an int32 character count
// followed by four bytes per character.
func Runes(s *[]rune, ar *Archive) {
	text(s, ar)
}

// UTF16 implements serialization for UTF-16 text, two bytes per unit.
func UTF16(s *[]uint16, ar *Archive) {
	text(s, ar)
}

func text[C rune | uint16](s *[]C, ar *Archive) {
	var size = length(len(*s), ar)
	if size < 0 {
		return
	}
	if ar.Reading() {
		*s = make([]C, 0, min(size, chunkItems))
		readItems(s, size, Fixed[C], ar)
		return
	}
	for i := range (*s)[:size] {
		Fixed(&(*s)[i], ar)
	}
}

// Slice is a helper for serializing a slice of some type, given its
// serialization function. It starts by reading/writing the length of the
// slice, then uses the provided serialization function to serialize each
// individual item in the slice. On read, existing items are read over and
// the slice grows for the rest.
func Slice[T any](list *[]T, fn PackFn[T], ar *Archive) {
	var size = length(len(*list), ar)
	if size < 0 {
		return
	}
	if ar.Reading() {
		readItems(list, size, fn, ar)
		return
	}
	for index := range *list {
		fn(&(*list)[index], ar)
		if ar.err != nil {
			return
		}
	}
}

// DynamicArray serializes the first *n items of s, taking the count from the
// caller's size cell. On read it stores the count into *n and allocates a
// fresh slice for the items, nil when the count is zero.
func DynamicArray[T any](s *[]T, n *int32, fn PackFn[T], ar *Archive) {
	if !ar.Reading() && (*n < 0 || int(*n) > len(*s)) {
		ar.Fail(errors.Wrapf(ErrBadLength, "size cell %d out of range for %d items", *n, len(*s)))
		return
	}
	var size = length(int(*n), ar)
	if size < 0 {
		return
	}
	if ar.Reading() {
		*n = int32(size)
		*s = nil
		readItems(s, size, fn, ar)
		return
	}
	for index := range (*s)[:size] {
		fn(&(*s)[index], ar)
		if ar.err != nil {
			return
		}
	}
}

// StaticArray serializes exactly len(s) items with no length prefix.
func StaticArray[T any](s []T, fn PackFn[T], ar *Archive) {
	for index := range s {
		fn(&s[index], ar)
		if ar.err != nil {
			return
		}
	}
}

// Map implements serialization for a map: an int32 count then the key/value
// pairs in iteration order. On read, the map is cleared and refilled.
func Map[K comparable, V any](m *map[K]V, keyFn PackFn[K], valFn PackFn[V], ar *Archive) {
	var size = length(len(*m), ar)
	if size < 0 {
		return
	}
	switch ar.dir {
	case Reading:
		generic.InitMap(m)
		clear(*m)
		for i := 0; i < size && ar.err == nil; i++ {
			var key K
			var val V
			keyFn(&key, ar)
			valFn(&val, ar)
			(*m)[key] = val
		}
	default:
		for key, val := range *m {
			keyFn(&key, ar)
			valFn(&val, ar)
			if ar.err != nil {
				return
			}
		}
	}
}

// Set implements serialization for a set as a count followed by the members.
func Set[K comparable](m *map[K]struct{}, keyFn PackFn[K], ar *Archive) {
	Map(m, keyFn, func(*struct{}, *Archive) {}, ar)
}

// Bag implements serialization for a multiset kept as member -> multiplicity.
// Every occurrence is written, so the count is the total multiplicity.
func Bag[K comparable](m *map[K]int, keyFn PackFn[K], ar *Archive) {
	var total int
	for _, n := range *m {
		total += max(n, 0)
	}
	var size = length(total, ar)
	if size < 0 {
		return
	}
	switch ar.dir {
	case Reading:
		generic.InitMap(m)
		clear(*m)
		for i := 0; i < size && ar.err == nil; i++ {
			var key K
			keyFn(&key, ar)
			(*m)[key]++
		}
	default:
		for key, n := range *m {
			for i := 0; i < n; i++ {
				keyFn(&key, ar)
			}
			if ar.err != nil {
				return
			}
		}
	}
}

// MultiMap implements serialization for a map with several values per key.
// The count is the number of key/value pairs; values of a key keep their
// order.
func MultiMap[K comparable, V any](m *map[K][]V, keyFn PackFn[K], valFn PackFn[V], ar *Archive) {
	var total int
	for _, vals := range *m {
		total += len(vals)
	}
	var size = length(total, ar)
	if size < 0 {
		return
	}
	switch ar.dir {
	case Reading:
		generic.InitMap(m)
		clear(*m)
		for i := 0; i < size && ar.err == nil; i++ {
			var key K
			var val V
			keyFn(&key, ar)
			valFn(&val, ar)
			(*m)[key] = append((*m)[key], val)
		}
	default:
		for key, vals := range *m {
			for i := range vals {
				keyFn(&key, ar)
				valFn(&vals[i], ar)
			}
			if ar.err != nil {
				return
			}
		}
	}
}

// Pair is a two-member aggregate, serialized as its members in order.
type Pair[A, B any] struct {
	First  A
	Second B
}

func PackPair[A, B any](fa PackFn[A], fb PackFn[B]) PackFn[Pair[A, B]] {
	return func(p *Pair[A, B], ar *Archive) {
		fa(&p.First, ar)
		fb(&p.Second, ar)
	}
}

type Triple[A, B, C any] struct {
	First  A
	Second B
	Third  C
}

func PackTriple[A, B, C any](fa PackFn[A], fb PackFn[B], fc PackFn[C]) PackFn[Triple[A, B, C]] {
	return func(t *Triple[A, B, C], ar *Archive) {
		fa(&t.First, ar)
		fb(&t.Second, ar)
		fc(&t.Third, ar)
	}
}

type Binary interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// BinaryMarshal implements serialization for an object that implements the
// BinaryMarshaler and BinaryUnmarshaler interfaces from the standard library.
func BinaryMarshal(b Binary, ar *Archive) {
	var data []byte
	if !ar.Reading() {
		var err error
		data, err = b.MarshalBinary()
		if err != nil {
			ar.Fail(errors.Wrap(err, "marshal binary"))
			return
		}
	}
	ByteSlice(&data, ar)
	if ar.Reading() && ar.err == nil {
		if err := b.UnmarshalBinary(data); err != nil {
			ar.Fail(errors.Wrap(err, "unmarshal binary"))
		}
	}
}

// Time implement serialization for the std library's Time object using the
// Binary Marshalling interface
func Time(t *time.Time, ar *Archive) {
	BinaryMarshal(t, ar)
}
