package vstore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip[T any](t *testing.T, v T, fn PackFn[T]) T {
	t.Helper()
	data := ToBytes(&v, fn, DefaultMode)
	require.NotNil(t, data)
	var out T
	require.True(t, FromBytesInto(data, &out, fn, DefaultMode))
	return out
}

func TestPrimitivesRoundTrip(t *testing.T) {
	assert.Equal(t, int8(-7), roundTrip(t, int8(-7), Int8))
	assert.Equal(t, uint8(250), roundTrip(t, uint8(250), Uint8))
	assert.Equal(t, int16(math.MinInt16), roundTrip(t, int16(math.MinInt16), Int16))
	assert.Equal(t, uint16(math.MaxUint16), roundTrip(t, uint16(math.MaxUint16), Uint16))
	assert.Equal(t, int32(-123456), roundTrip(t, int32(-123456), Int32))
	assert.Equal(t, uint32(math.MaxUint32), roundTrip(t, uint32(math.MaxUint32), Uint32))
	assert.Equal(t, int64(math.MinInt64), roundTrip(t, int64(math.MinInt64), Int64))
	assert.Equal(t, uint64(math.MaxUint64), roundTrip(t, uint64(math.MaxUint64), Uint64))
	assert.Equal(t, -42, roundTrip(t, -42, Int))
	assert.Equal(t, uint(42), roundTrip(t, uint(42), Uint))
	assert.Equal(t, true, roundTrip(t, true, Bool))
	assert.Equal(t, false, roundTrip(t, false, Bool))
	assert.Equal(t, 'ж', roundTrip(t, 'ж', Rune))
	assert.Equal(t, complex(1.5, -2), roundTrip(t, complex(1.5, -2), Complex128))
	assert.Equal(t, complex64(complex(3, 4)), roundTrip(t, complex64(complex(3, 4)), Complex64))
	assert.Equal(t, ID(-99), roundTrip(t, ID(-99), PackID))
}

func TestFloatBitPatterns(t *testing.T) {
	for _, v := range []float64{0, math.Copysign(0, -1), 1.25, math.Inf(1), math.Inf(-1), math.NaN(),
		math.Float64frombits(0x7ff8000000000001), math.SmallestNonzeroFloat64} {
		out := roundTrip(t, v, Float64)
		assert.Equal(t, math.Float64bits(v), math.Float64bits(out))
	}
	for _, v := range []float32{float32(math.Inf(1)), float32(math.NaN()), math.Float32frombits(0x7fc00001), -0.5} {
		out := roundTrip(t, v, Float32)
		assert.Equal(t, math.Float32bits(v), math.Float32bits(out))
	}
}

func TestFixedWidths(t *testing.T) {
	type celsius float32
	type code uint16

	sizes := []struct {
		name string
		size func() (int, error)
		want int
	}{
		{"int8", func() (int, error) { v := int8(1); return SizeOf(&v, Int8, DefaultMode) }, 1},
		{"bool", func() (int, error) { v := true; return SizeOf(&v, Bool, DefaultMode) }, 1},
		{"int16", func() (int, error) { v := int16(1); return SizeOf(&v, Int16, DefaultMode) }, 2},
		{"int32", func() (int, error) { v := int32(1); return SizeOf(&v, Int32, DefaultMode) }, 4},
		{"rune", func() (int, error) { v := 'x'; return SizeOf(&v, Rune, DefaultMode) }, 4},
		{"int", func() (int, error) { v := 1; return SizeOf(&v, Int, DefaultMode) }, 8},
		{"float64", func() (int, error) { v := 1.0; return SizeOf(&v, Float64, DefaultMode) }, 8},
		{"complex128", func() (int, error) { v := complex(1, 1); return SizeOf(&v, Complex128, DefaultMode) }, 16},
		{"celsius", func() (int, error) { v := celsius(1); return SizeOf(&v, Fixed[celsius], DefaultMode) }, 4},
		{"code", func() (int, error) { v := code(1); return SizeOf(&v, Fixed[code], DefaultMode) }, 2},
	}
	for _, tc := range sizes {
		n, err := tc.size()
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, n, tc.name)
	}

	assert.Equal(t, celsius(-40), roundTrip(t, celsius(-40), Fixed[celsius]))
	assert.Equal(t, code(0xBEEF), roundTrip(t, code(0xBEEF), Fixed[code]))
}

func TestFixedMatchesNamedCodec(t *testing.T) {
	v := uint32(0xA1B2C3D4)
	assert.Equal(t, ToBytes(&v, Uint32, DefaultMode), ToBytes(&v, Fixed[uint32], DefaultMode))

	f := math.Pi
	assert.Equal(t, ToBytes(&f, Float64, DefaultMode), ToBytes(&f, Fixed[float64], DefaultMode))
}

func TestPlainBlock(t *testing.T) {
	type point struct {
		X, Y int32
		Z    float64
	}
	p := point{X: 3, Y: -4, Z: 0.5}
	data := ToBytes(&p, Plain[point], DefaultMode)
	require.Len(t, data, 16)
	assert.Equal(t, p, roundTrip(t, p, Plain[point]))
}

func TestVarints(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 63, -64, 300, math.MaxInt64, math.MinInt64} {
		assert.Equal(t, v, roundTrip(t, v, Varint))

		data := ToBytes(&v, Varint, DefaultMode)
		n, err := SizeOf(&v, Varint, DefaultMode)
		require.NoError(t, err)
		assert.Len(t, data, n)
	}
	small := uint64(100)
	assert.Len(t, ToBytes(&small, Uvarint, DefaultMode), 1)
	assert.Equal(t, uint64(math.MaxUint64), roundTrip(t, uint64(math.MaxUint64), Uvarint))
}

func TestTruncatedInputIsNotReady(t *testing.T) {
	ar := NewArchive(NewReader([]byte{1, 2, 3}), DefaultMode)
	var v int64 = 17
	n := Read(ar, &v, Int64)
	assert.Equal(t, 0, n)
	assert.False(t, ar.Ready())
	assert.ErrorIs(t, ar.Err(), ErrStreamNotReady)
	assert.Equal(t, int64(17), v, "failed read leaves the value untouched")

	// sticky: later calls are no-ops
	var b byte
	assert.Equal(t, 0, Read(ar, &b, Byte))
}

func TestNilStreamIsNoop(t *testing.T) {
	ar := NewArchive(nil, DefaultMode)
	v := int64(5)
	assert.Equal(t, 0, Write(ar, &v, Int64))
	assert.Equal(t, 0, Read(ar, &v, Int64))
	assert.False(t, ar.Ready())
	assert.NoError(t, ar.Err())

	n, err := Size(ar, &v, Int64)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestSizeKeepsEarlierError(t *testing.T) {
	ar := NewArchive(NewReader([]byte{1}), DefaultMode)
	var v int64
	Read(ar, &v, Int64)
	require.ErrorIs(t, ar.Err(), ErrStreamNotReady)

	_, err := Size(ar, &v, Int64)
	assert.ErrorIs(t, err, ErrStreamNotReady)
	assert.ErrorIs(t, ar.Err(), ErrStreamNotReady, "sizing does not clear a failed read")
	assert.False(t, ar.Ready())
}
