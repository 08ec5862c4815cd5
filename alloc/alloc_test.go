package alloc

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveBestFit(t *testing.T) {
	a, err := Restore(100, []Placement{
		{Offset: 0, Length: 10},
		{Offset: 20, Length: 6},
		{Offset: 40, Length: 6},
		{Offset: 60, Length: 40},
	})
	require.NoError(t, err)

	p, err := a.Reserve(5)
	require.NoError(t, err)
	assert.Equal(t, Placement{Offset: 20, Length: 5}, p, "smallest fit, lowest offset among equals")

	p, err = a.Reserve(6)
	require.NoError(t, err)
	assert.Equal(t, Placement{Offset: 40, Length: 6}, p, "exact fit is taken whole")

	p, err = a.Reserve(10)
	require.NoError(t, err)
	assert.Equal(t, Placement{Offset: 0, Length: 10}, p)

	assert.Equal(t, []Placement{{Offset: 25, Length: 1}, {Offset: 60, Length: 40}}, a.Free())
	assert.EqualValues(t, 41, a.FreeBytes())
	assert.EqualValues(t, 40, a.Largest())
}

func TestReserveZero(t *testing.T) {
	a := New(16)
	p, err := a.Reserve(0)
	require.NoError(t, err)
	assert.Equal(t, Placement{}, p)
	assert.Equal(t, []Placement{{Offset: 0, Length: 16}}, a.Free())
}

func TestOutOfSpaceLeavesListUntouched(t *testing.T) {
	a := New(32)
	_, err := a.Reserve(10)
	require.NoError(t, err)
	before := a.Free()

	_, err = a.Reserve(23)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfSpace))
	assert.Equal(t, before, a.Free())

	_, err = a.Reserve(-1)
	assert.True(t, errors.Is(err, ErrBadRange))
}

func TestReleaseCoalesces(t *testing.T) {
	a := New(30)
	x, _ := a.Reserve(10)
	y, _ := a.Reserve(10)
	z, _ := a.Reserve(10)
	assert.Empty(t, a.Free())

	a.Release(x)
	a.Release(z)
	assert.Equal(t, []Placement{{Offset: 0, Length: 10}, {Offset: 20, Length: 10}}, a.Free())
	require.NoError(t, a.Check([]Placement{y}))

	// y touches both free ranges
	a.Release(y)
	assert.Equal(t, []Placement{{Offset: 0, Length: 30}}, a.Free())
	require.NoError(t, a.Check(nil))
}

func TestClaim(t *testing.T) {
	a := New(50)
	p, _ := a.Reserve(20)
	a.Release(p)

	require.NoError(t, a.Claim(Placement{Offset: 5, Length: 10}))
	assert.Equal(t, []Placement{{Offset: 0, Length: 5}, {Offset: 15, Length: 35}}, a.Free())

	err := a.Claim(Placement{Offset: 10, Length: 10})
	assert.True(t, errors.Is(err, ErrNotFree))
	require.NoError(t, a.Check([]Placement{{Offset: 5, Length: 10}}))
}

func TestRestoreRejectsBadLists(t *testing.T) {
	_, err := Restore(10, []Placement{{Offset: 5, Length: 10}})
	assert.True(t, errors.Is(err, ErrBadRange))

	_, err = Restore(10, []Placement{{Offset: 0, Length: 4}, {Offset: 4, Length: 2}})
	assert.True(t, errors.Is(err, ErrCorrupt))

	_, err = Restore(10, []Placement{{Offset: 0, Length: 4}, {Offset: 2, Length: 4}})
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestCheckFindsDefects(t *testing.T) {
	a := New(20)
	p, _ := a.Reserve(8)

	assert.True(t, errors.Is(a.Check(nil), ErrCorrupt), "gap where the live range is missing")
	assert.True(t, errors.Is(a.Check([]Placement{p, {Offset: 4, Length: 2}}), ErrCorrupt), "overlap")
	assert.NoError(t, a.Check([]Placement{p}))
}

func TestRandomReserveRelease(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const capacity = 4096
	a := New(capacity)
	var live []Placement

	for i := 0; i < 2000; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			k := rng.Intn(len(live))
			a.Release(live[k])
			live[k] = live[len(live)-1]
			live = live[:len(live)-1]
		} else {
			before := a.Free()
			size := int64(1 + rng.Intn(200))
			p, err := a.Reserve(size)
			if err != nil {
				require.True(t, errors.Is(err, ErrOutOfSpace))
				require.Equal(t, before, a.Free())
				continue
			}
			require.Equal(t, size, p.Length)
			live = append(live, p)
		}
		require.NoError(t, a.Check(live), "step %d", i)
	}

	for _, p := range live {
		a.Release(p)
	}
	assert.Equal(t, []Placement{{Offset: 0, Length: capacity}}, a.Free())

	restored, err := Restore(capacity, a.Free())
	require.NoError(t, err)
	assert.Equal(t, a.Free(), restored.Free())
}
