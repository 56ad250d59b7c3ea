package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"git.home.luguber.info/inful/bookbinder/internal/catalog"
	"git.home.luguber.info/inful/bookbinder/internal/model"
	"git.home.luguber.info/inful/bookbinder/internal/storage"
)

// settleDelay gives writers time to finish a file before it is ingested.
const settleDelay = 2 * time.Second

// SpoolWatcher ingests files dropped into a spool directory: workbooks become
// dataset assets, PDFs become document assets. Each file is stored
// content-addressed, registered in the catalog, and removed from the spool.
// Operators can then reference the checksum without touching the HTTP API.
type SpoolWatcher struct {
	dir      string
	store    storage.ObjectStore
	catalog  catalog.Store
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
}

// NewSpoolWatcher creates a watcher over dir, creating the directory if
// needed.
func NewSpoolWatcher(dir string, store storage.ObjectStore, cat catalog.Store) (*SpoolWatcher, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("resolve spool dir: %w", err)
	}
	return &SpoolWatcher{
		dir:      absDir,
		store:    store,
		catalog:  cat,
		watcher:  watcher,
		stopChan: make(chan struct{}),
	}, nil
}

// Start ingests any files already waiting, then begins watching.
func (w *SpoolWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch spool dir %s: %w", w.dir, err)
	}
	w.ingestExisting(ctx)
	go w.watchLoop(ctx)
	slog.Info("Spool watcher started", "dir", w.dir)
	return nil
}

// Stop stops the watcher.
func (w *SpoolWatcher) Stop() {
	close(w.stopChan)
	if err := w.watcher.Close(); err != nil {
		slog.Error("Closing spool watcher failed", "err", err)
	}
}

func (w *SpoolWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !ingestible(event.Name) {
				continue
			}
			// Let the writer finish before reading the file.
			select {
			case <-time.After(settleDelay):
			case <-w.stopChan:
				return
			case <-ctx.Done():
				return
			}
			w.ingest(ctx, event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Spool watcher error", "err", err)
		}
	}
}

func (w *SpoolWatcher) ingestExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Error("Reading spool dir failed", "dir", w.dir, "err", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !ingestible(entry.Name()) {
			continue
		}
		w.ingest(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

// ingest stores one spooled file as an asset and removes it.
func (w *SpoolWatcher) ingest(ctx context.Context, path string) {
	kind, ok := spoolKind(path)
	if !ok {
		return
	}
	data, err := os.ReadFile(path) // #nosec G304 - path is inside the spool dir
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Reading spooled file failed", "path", path, "err", err)
		}
		return
	}
	if len(data) == 0 {
		return
	}

	objType := storage.ObjectTypeDataset
	if kind == model.AssetDocument {
		objType = storage.ObjectTypeSource
	}
	ref, err := w.store.Put(ctx, &storage.Object{
		Type: objType,
		Data: data,
		Metadata: storage.Metadata{Custom: map[string]string{
			"source": "spool",
			"name":   filepath.Base(path),
		}},
	})
	if err != nil {
		slog.Error("Storing spooled file failed", "path", path, "err", err)
		return
	}
	asset := model.UploadedAsset{
		ID:       uuid.NewString(),
		Checksum: ref,
		Kind:     kind,
		Size:     int64(len(data)),
		Name:     filepath.Base(path),
	}
	if err := w.catalog.RegisterAsset(ctx, asset); err != nil {
		slog.Error("Registering spooled asset failed", "path", path, "err", err)
		return
	}
	if err := os.Remove(path); err != nil {
		slog.Warn("Removing ingested spool file failed", "path", path, "err", err)
	}
	slog.Info("Ingested spooled asset", "name", filepath.Base(path), "kind", kind, "checksum", ref)
}

// ingestible reports whether a spool entry is a known asset type.
func ingestible(name string) bool {
	_, ok := spoolKind(name)
	return ok
}

// spoolKind maps a spool file name onto an asset kind by extension.
func spoolKind(name string) (model.AssetKind, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return "", false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".xlsx", ".xlsm":
		return model.AssetDataset, true
	case ".pdf":
		return model.AssetDocument, true
	}
	return "", false
}
