package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hasen.dev/vstore"
	"go.hasen.dev/vstore/store"
)

func seed(t *testing.T) (data, header string) {
	t.Helper()
	dir := t.TempDir()
	data = filepath.Join(dir, "objects.dat")
	header = filepath.Join(dir, "objects.hdr")

	s, err := store.Open(store.Options{Capacity: 1024, DataPath: data, HeaderPath: header})
	require.NoError(t, err)
	v := "hello"
	_, err = store.PutNamed(s, "greeting", &v, vstore.String, 2)
	require.NoError(t, err)
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())
	return data, header
}

func TestCheckCommand(t *testing.T) {
	data, header := seed(t)
	var out bytes.Buffer
	require.NoError(t, run([]string{"check", "--data", data, "--header", header}, &out))
	assert.Equal(t, "ok: 1 objects, 1015 of 1024 bytes free\n", out.String())
}

func TestInspectJSON(t *testing.T) {
	data, header := seed(t)
	var out bytes.Buffer
	require.NoError(t, run([]string{"inspect", "--data", data, "--header", header, "--json"}, &out))

	var view directoryView
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	assert.False(t, view.Store.IsZero())
	assert.EqualValues(t, 1024, view.Capacity)
	require.Len(t, view.Objects, 1)
	assert.EqualValues(t, 9, view.Objects[0].Length)
	assert.EqualValues(t, 2, view.Objects[0].Category)
	assert.Equal(t, map[string]vstore.ID{"greeting": 1}, view.Names)
}

func TestDumpCommand(t *testing.T) {
	data, header := seed(t)
	var out bytes.Buffer
	require.NoError(t, run([]string{"dump", "--data", data, "--header", header, "--id", "1"}, &out))
	assert.Contains(t, out.String(), "|....hello|")

	assert.Error(t, run([]string{"dump", "--data", data, "--header", header, "--id", "5"}, &out))
	assert.Error(t, run([]string{"frobnicate", "--data", data, "--header", header}, &out))
	assert.Error(t, run(nil, &out))
}
