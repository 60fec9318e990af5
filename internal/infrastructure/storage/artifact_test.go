package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_Save(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(filepath.Join(dir, "audit"))

	loc, err := store.Save(context.Background(), "products_audit.json", []byte(`[]`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "audit", "products_audit.json"), loc)

	data, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestLocalStore_RejectsEscapingNames(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	for _, name := range []string{"", "../secrets", "/etc/passwd", "a/../../b"} {
		_, err := store.Save(context.Background(), name, []byte("x"), "text/plain")
		assert.Error(t, err, name)
	}
}

type failingStore struct{ err error }

func (f failingStore) Save(context.Context, string, []byte, string) (string, error) {
	return "", f.err
}

func TestTee_Save(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("bucket unavailable")
	tee := Tee{NewLocalStore(dir), failingStore{err: boom}}

	loc, err := tee.Save(context.Background(), "kpi.json", []byte("{}"), "application/json")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, filepath.Join(dir, "kpi.json"), loc, "first store location survives later failures")
	assert.FileExists(t, loc)
}
