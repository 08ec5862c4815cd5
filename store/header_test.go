package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hasen.dev/vstore"
)

// populated returns a store holding a named object with shared children,
// a plain object with metadata, and its region.
func populated(t *testing.T) (*Store, vstore.Region) {
	t.Helper()
	region := vstore.NewRegionBuffer(2048)
	s := New(region, Options{})

	leaf := vstore.NewRef(node{Name: "leaf"})
	h := holder{Label: "root", A: vstore.NewRef(node{Name: "mid", Next: leaf}), B: leaf.Clone()}
	_, err := PutNamed(s, "root", &h, packHolder, 3)
	require.NoError(t, err)

	v := "plain"
	id, err := Put(s, &v, vstore.String, 4)
	require.NoError(t, err)
	require.NoError(t, s.SetMeta(id, map[string]int{"version": 2}))
	return s, region
}

func TestHeaderRoundTrip(t *testing.T) {
	s, region := populated(t)
	buf := vstore.NewWriter()
	require.NoError(t, s.SaveHeader(buf))

	loaded := New(region, Options{})
	require.NoError(t, loaded.LoadHeader(vstore.NewReader(buf.Bytes())))
	require.NoError(t, loaded.Check())

	assert.Equal(t, s.UUID(), loaded.UUID())
	assert.Equal(t, s.IDs(), loaded.IDs())
	assert.Equal(t, s.Names(), loaded.Names())
	assert.Equal(t, s.ByCategory(3), loaded.ByCategory(3))
	assert.Equal(t, s.Allocator().Free(), loaded.Allocator().Free())
	for _, id := range s.IDs() {
		want, _ := s.Record(id)
		got, _ := loaded.Record(id)
		assert.Equal(t, want, got)
		assert.Equal(t, s.Refs(id), loaded.Refs(id))
	}

	var h holder
	found, err := GetNamed(loaded, "root", &h, packHolder)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "root", h.Label)
	assert.Equal(t, "mid", h.A.Get().Name)
	assert.True(t, h.A.Get().Next.Same(h.B))

	var meta map[string]int
	found, err = loaded.GetMeta(2, &meta)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]int{"version": 2}, meta)

	// counters continue past the loaded ids
	v := "next"
	id, err := Put(loaded, &v, vstore.String, DefaultCategory)
	require.NoError(t, err)
	assert.Equal(t, ID(3), id)
	fresh := holder{A: vstore.NewRef(node{Name: "new"})}
	_, err = Put(loaded, &fresh, packHolder, DefaultCategory)
	require.NoError(t, err)
	assert.Equal(t, ID(-3), loaded.IDs()[0])
	require.NoError(t, loaded.Check())
}

func TestHeaderRejectsTampering(t *testing.T) {
	s, region := populated(t)
	buf := vstore.NewWriter()
	require.NoError(t, s.SaveHeader(buf))
	data := buf.Bytes()

	tampered := append([]byte(nil), data...)
	tampered[len(headerMagic)+3] ^= 0xff
	err := New(region, Options{}).LoadHeader(vstore.NewReader(tampered))
	assert.True(t, errors.Is(err, ErrDigestMismatch))

	tampered = append([]byte(nil), data...)
	tampered[0] = 'X'
	err = New(region, Options{}).LoadHeader(vstore.NewReader(tampered))
	assert.True(t, errors.Is(err, ErrBadHeader))

	err = New(region, Options{}).LoadHeader(vstore.NewReader(data[:len(data)-1]))
	assert.Error(t, err)

	// a damaged count fails the read instead of sizing an allocation by it
	corrupt := append([]byte(nil), headerMagic[:]...)
	corrupt = append(corrupt, make([]byte, 16+8)...)
	corrupt = append(corrupt, 0xff, 0xff, 0xff, 0x7f)
	err = New(region, Options{}).LoadHeader(vstore.NewReader(corrupt))
	assert.Error(t, err)

	small := New(vstore.NewRegionBuffer(16), Options{})
	err = small.LoadHeader(vstore.NewReader(data))
	assert.True(t, errors.Is(err, ErrBadHeader))
	assert.Empty(t, small.IDs(), "a rejected header leaves the store as it was")
}

func TestHeaderRejectsDanglingEntries(t *testing.T) {
	s, region := populated(t)
	damage := []func(h *Header){
		func(h *Header) { h.Names["ghost"] = 99 },
		func(h *Header) { h.Categories[7] = map[ID]struct{}{99: {}} },
		func(h *Header) { h.Shares[1][-99] = 1 },
		func(h *Header) { h.Shares[99] = map[ID]int{-1: 1} },
		func(h *Header) { h.Objects = append(h.Objects, h.Objects[0]) },
	}
	for i, fn := range damage {
		h := s.Header()
		fn(&h)
		buf := vstore.NewWriter()
		require.NoError(t, WriteHeader(buf, &h))

		loaded := New(region, Options{})
		err := loaded.LoadHeader(vstore.NewReader(buf.Bytes()))
		assert.Error(t, err, "damage %d", i)
		assert.Empty(t, loaded.IDs(), "damage %d", i)
	}
}

func TestOpenPersistsAcrossSessions(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		Capacity:   4096,
		DataPath:   filepath.Join(dir, "objects.dat"),
		HeaderPath: filepath.Join(dir, "objects.hdr"),
	}

	s, err := Open(opts)
	require.NoError(t, err)
	h := holder{Label: "saved", A: vstore.NewRef(node{Name: "child"})}
	id, err := PutNamed(s, "saved", &h, packHolder, DefaultCategory)
	require.NoError(t, err)
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	opts.Capacity = 0
	reopened, err := Open(opts)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, s.UUID(), reopened.UUID())

	var loaded holder
	found, err := Get(reopened, id, &loaded, packHolder)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "saved", loaded.Label)
	assert.Equal(t, "child", loaded.A.Get().Name)

	opts.Capacity = 1024
	_, err = Open(opts)
	assert.Error(t, err, "size of an existing data file cannot change")
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
capacity: 65536
shallow: true
track_pointers: true
data: /var/lib/vstore/objects.dat
log_level: debug
`), 0o644))

	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.EqualValues(t, 65536, opts.Capacity)
	assert.True(t, opts.Shallow)
	assert.Equal(t, "/var/lib/vstore/objects.dat", opts.DataPath)
	assert.Equal(t, vstore.TrackShared|vstore.TrackPointers, opts.Mode())

	_, err = LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
