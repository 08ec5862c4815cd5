package vstore

import (
	"encoding/binary"
	"math"
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Fixed-width values are copied in host byte order. Archives are therefore
// only portable between hosts of the same endianness.
var byteOrder = binary.NativeEndian

// Number is any fixed-width numeric type, including named ones.
type Number interface {
	constraints.Integer | constraints.Float | constraints.Complex
}

// Fixed implements serialization for any fixed-width number as a raw copy of
// its in-memory representation.
func Fixed[T Number](n *T, ar *Archive) {
	ar.Block(unsafe.Slice((*byte)(unsafe.Pointer(n)), unsafe.Sizeof(*n)))
}

// Plain implements serialization for a flat value (one with no pointers,
// slices, maps or strings inside) as a raw copy of its memory. The caller
// guarantees flatness.
func Plain[T any](v *T, ar *Archive) {
	ar.Block(unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v)))
}

// PlainBytes moves a caller-owned block of bytes with no length prefix.
func PlainBytes(p []byte, ar *Archive) {
	ar.Block(p)
}

func Uint64(n *uint64, ar *Archive) {
	var b [8]byte
	if ar.Writing() {
		byteOrder.PutUint64(b[:], *n)
	}
	ar.Block(b[:])
	if ar.Reading() && ar.err == nil {
		*n = byteOrder.Uint64(b[:])
	}
}

func Uint32(n *uint32, ar *Archive) {
	var b [4]byte
	if ar.Writing() {
		byteOrder.PutUint32(b[:], *n)
	}
	ar.Block(b[:])
	if ar.Reading() && ar.err == nil {
		*n = byteOrder.Uint32(b[:])
	}
}

func Uint16(n *uint16, ar *Archive) {
	var b [2]byte
	if ar.Writing() {
		byteOrder.PutUint16(b[:], *n)
	}
	ar.Block(b[:])
	if ar.Reading() && ar.err == nil {
		*n = byteOrder.Uint16(b[:])
	}
}

func Int64(n *int64, ar *Archive) {
	var u = uint64(*n)
	Uint64(&u, ar)
	*n = int64(u)
}

func Int32(n *int32, ar *Archive) {
	var u = uint32(*n)
	Uint32(&u, ar)
	*n = int32(u)
}

func Int16(n *int16, ar *Archive) {
	var u = uint16(*n)
	Uint16(&u, ar)
	*n = int16(u)
}

// Int implements serialization of int as 64 bits.
func Int(n *int, ar *Archive) {
	var u = uint64(*n)
	Uint64(&u, ar)
	*n = int(u)
}

// Uint implements serialization of uint as 64 bits.
func Uint(n *uint, ar *Archive) {
	var u = uint64(*n)
	Uint64(&u, ar)
	*n = uint(u)
}

// PackID implements serialization for an identifier.
func PackID(id *ID, ar *Archive) {
	var u = uint64(*id)
	Uint64(&u, ar)
	*id = ID(u)
}

func Float64(n *float64, ar *Archive) {
	// Float64bits and Float64frombits are just transmute casts that should cost nothing
	var u = math.Float64bits(*n)
	Uint64(&u, ar)
	*n = math.Float64frombits(u)
}

func Float32(n *float32, ar *Archive) {
	var u = math.Float32bits(*n)
	Uint32(&u, ar)
	*n = math.Float32frombits(u)
}

func Complex128(c *complex128, ar *Archive) {
	re, im := real(*c), imag(*c)
	Float64(&re, ar)
	Float64(&im, ar)
	*c = complex(re, im)
}

func Complex64(c *complex64, ar *Archive) {
	re, im := real(*c), imag(*c)
	Float32(&re, ar)
	Float32(&im, ar)
	*c = complex(re, im)
}

// Byte implements serialization for a single byte
func Byte(b *byte, ar *Archive) {
	var one = [1]byte{*b}
	ar.Block(one[:])
	*b = one[0]
}

func Uint8(n *uint8, ar *Archive) {
	Byte(n, ar)
}

func Int8(n *int8, ar *Archive) {
	var u = uint8(*n)
	Byte(&u, ar)
	*n = int8(u)
}

// Bool implements serialization for a bool
func Bool(b *bool, ar *Archive) {
	var bt byte
	if *b {
		bt = 1
	}
	Byte(&bt, ar)
	*b = bt != 0
}

// Rune implements serialization for a single rune as 32 bits.
func Rune(r *rune, ar *Archive) {
	Int32(r, ar)
}

// Varint implements varint encoding for int64. Varint uses fewer bytes for
// small values; it is opt-in and never used by the built-in containers.
func Varint(n *int64, ar *Archive) {
	if ar.Reading() {
		v, err := binary.ReadVarint(ar)
		if err != nil {
			ar.Fail(err)
			return
		}
		*n = v
		return
	}
	var b [binary.MaxVarintLen64]byte
	size := binary.PutVarint(b[:], *n)
	ar.Block(b[:size])
}

// Uvarint implements varint encoding for uint64.
func Uvarint(n *uint64, ar *Archive) {
	if ar.Reading() {
		v, err := binary.ReadUvarint(ar)
		if err != nil {
			ar.Fail(err)
			return
		}
		*n = v
		return
	}
	var b [binary.MaxVarintLen64]byte
	size := binary.PutUvarint(b[:], *n)
	ar.Block(b[:size])
}
