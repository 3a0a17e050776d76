package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStore_PutGetList(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "fleet-backup-2024-06-02.json", []byte(`{"b":2}`)))
	require.NoError(t, s.Put(ctx, "fleet-backup-2024-06-01.json", []byte(`{"a":1}`)))
	// overwrite
	require.NoError(t, s.Put(ctx, "fleet-backup-2024-06-01.json", []byte(`{"a":10}`)))

	got, err := s.Get(ctx, "fleet-backup-2024-06-01.json")
	require.NoError(t, err)
	require.Equal(t, `{"a":10}`, string(got))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "fleet-backup-2024-06-01.json", list[0].Name)
	require.EqualValues(t, 8, list[0].Size)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2, "no temp files left behind")

	require.Equal(t, filepath.Join(dir, "x.json"), s.Location("x.json"))
}

func TestFileStore_Errors(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Get(ctx, "missing.json")
	require.ErrorIs(t, err, ErrNotFound)

	for _, name := range []string{"", "../escape.json", "a/b.json", ".hidden"} {
		require.ErrorIs(t, s.Put(ctx, name, []byte("x")), ErrInvalidName, name)
	}
}
