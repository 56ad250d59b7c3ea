package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/bookbinder/internal/catalog"
	"git.home.luguber.info/inful/bookbinder/internal/model"
	"git.home.luguber.info/inful/bookbinder/internal/storage"
)

func TestSpoolKind(t *testing.T) {
	cases := []struct {
		name string
		kind model.AssetKind
		ok   bool
	}{
		{"q3.xlsx", model.AssetDataset, true},
		{"Q3.XLSX", model.AssetDataset, true},
		{"macros.xlsm", model.AssetDataset, true},
		{"cover.pdf", model.AssetDocument, true},
		{"notes.txt", "", false},
		{".hidden.xlsx", "", false},
		{"noext", "", false},
	}
	for _, tc := range cases {
		kind, ok := spoolKind(tc.name)
		assert.Equal(t, tc.ok, ok, tc.name)
		assert.Equal(t, tc.kind, kind, tc.name)
	}
}

func TestSpoolIngestsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "q3.xlsx"), []byte("workbook bytes"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cover.pdf"), []byte("%PDF cover"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored"), 0o600))

	store := storage.NewMockStore()
	cat, err := catalog.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	w, err := NewSpoolWatcher(dir, store, cat)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()

	// Ingested files are removed from the spool; foreign files stay.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "readme.txt", entries[0].Name())

	datasets, err := store.List(context.Background(), storage.ObjectTypeDataset)
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	sources, err := store.List(context.Background(), storage.ObjectTypeSource)
	require.NoError(t, err)
	require.Len(t, sources, 1)

	// The dataset landed in the catalog under its checksum with its kind.
	asset, err := cat.GetAssetByChecksum(context.Background(), datasets[0])
	require.NoError(t, err)
	assert.Equal(t, model.AssetDataset, asset.Kind)
	assert.Equal(t, "q3.xlsx", asset.Name)

	doc, err := cat.GetAssetByChecksum(context.Background(), sources[0])
	require.NoError(t, err)
	assert.Equal(t, model.AssetDocument, doc.Kind)
}
