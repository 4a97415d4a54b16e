// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-cpi-dedup/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		tempDir := t.TempDir()
		store, err := local.New(local.Config{BaseDir: tempDir})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp(t.TempDir(), "testfile")
		require.NoError(t, err)
		require.NoError(t, tempFile.Close())

		_, err = local.New(local.Config{BaseDir: tempFile.Name()})
		assert.Error(t, err)
	})
}

func TestPutAndGetObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	t.Run("ValidPut", func(t *testing.T) {
		path := "out/records.jsonl"
		data := []byte("{\"page_url\":\"u\"}\n")
		uri, err := store.PutObject(context.Background(), path, "application/x-ndjson", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, path), uri)

		rc, err := store.GetObject(context.Background(), path)
		require.NoError(t, err)
		defer rc.Close() //nolint:errcheck // test cleanup
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("Overwrite", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "o.txt", "", bytes.NewReader([]byte("first")))
		require.NoError(t, err)
		_, err = store.PutObject(context.Background(), "o.txt", "", bytes.NewReader([]byte("second")))
		require.NoError(t, err)
		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(tempDir, "o.txt"))
		require.NoError(t, err)
		assert.Equal(t, "second", string(got))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.txt", "", bytes.NewReader([]byte("x")))
		assert.Error(t, err)
		_, err = store.GetObject(context.Background(), "../../etc/passwd")
		assert.Error(t, err)
	})

	t.Run("MissingObject", func(t *testing.T) {
		_, err := store.GetObject(context.Background(), "nope.json")
		assert.Error(t, err)
	})
}

func TestRelativeBaseDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	store, err := local.New(local.Config{BaseDir: "."})
	require.NoError(t, err)
	uri, err := store.PutObject(context.Background(), "products.jsonl", "", bytes.NewReader([]byte("{}\n")))
	require.NoError(t, err)
	assert.Equal(t, "file://products.jsonl", uri)

	rc, err := store.GetObject(context.Background(), "products.jsonl")
	require.NoError(t, err)
	require.NoError(t, rc.Close())
}
