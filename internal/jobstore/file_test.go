package jobstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/raphaelgruber/onboard-go/internal/jobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKVRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	kv := jobstore.NewFileKV(path)

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, jobstore.ErrNotFound)

	require.NoError(t, kv.SetMany(ctx, map[string]string{"a": "1", "b": "2"}))

	// A second instance sees the same data.
	other := jobstore.NewFileKV(path)
	v, err := other.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	require.NoError(t, kv.Delete(ctx, "a", "never-set"))
	_, err = other.Get(ctx, "a")
	assert.ErrorIs(t, err, jobstore.ErrNotFound)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileKVCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := jobstore.NewFileKV(path).Get(ctx, "a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, jobstore.ErrNotFound)
}

func TestFileKVBacksStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	s := jobstore.New(jobstore.NewFileKV(path), jobstore.Options{Logger: discardLogger()})

	require.NoError(t, s.Save(ctx, "abc", "https://example.com"))

	reopened := jobstore.New(jobstore.NewFileKV(path), jobstore.Options{Logger: discardLogger()})
	rec, ok := reopened.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, "abc", rec.JobID)
	assert.False(t, reopened.IsExpired(*rec))
}
