package models

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ProgressFunc reports download progress in [0, 100].
type ProgressFunc func(progress float64)

// Manager resolves model IDs to on-disk paths under modelsDir, downloading
// on demand. One Manager is shared by the whisper-server supervisor, the
// VAD checker, and the diarizer, keyed by the same modelsDir.
type Manager struct {
	modelsDir string

	mu        sync.Mutex
	downloads map[string]context.CancelFunc
}

func NewManager(modelsDir string) (*Manager, error) {
	if err := os.MkdirAll(modelsDir, 0755); err != nil {
		return nil, fmt.Errorf("models: create dir %s: %w", modelsDir, err)
	}
	return &Manager{modelsDir: modelsDir, downloads: make(map[string]context.CancelFunc)}, nil
}

// Path returns where model id would live on disk, regardless of whether
// it has been downloaded yet.
func (m *Manager) Path(id string) (string, error) {
	info, ok := ByID(id)
	if !ok {
		return "", fmt.Errorf("models: unknown model %q", id)
	}
	return filepath.Join(m.modelsDir, id+filepath.Ext(info.DownloadURL)), nil
}

// IsDownloaded reports whether id's file exists and looks complete (bigger
// than a nominal floor, matching the teacher's >1MB sanity check).
func (m *Manager) IsDownloaded(id string) bool {
	path, err := m.Path(id)
	if err != nil {
		return false
	}
	stat, err := os.Stat(path)
	return err == nil && stat.Size() > 1_000_000
}

// EnsureDownloaded blocks until id is present on disk, downloading it if
// necessary. Concurrent calls for the same id share one in-flight download.
func (m *Manager) EnsureDownloaded(ctx context.Context, id string, onProgress ProgressFunc) (string, error) {
	path, err := m.Path(id)
	if err != nil {
		return "", err
	}
	if m.IsDownloaded(id) {
		return path, nil
	}

	info, _ := ByID(id)

	m.mu.Lock()
	for m.downloads[id] != nil {
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
		if m.IsDownloaded(id) {
			return path, nil
		}
		m.mu.Lock()
	}
	dlCtx, cancel := context.WithCancel(ctx)
	m.downloads[id] = cancel
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.downloads, id)
		m.mu.Unlock()
	}()

	log.Printf("models: downloading %s (%s)", id, info.Description)
	if err := DownloadFile(dlCtx, info.DownloadURL, path, info.SizeBytes, onProgress); err != nil {
		return "", fmt.Errorf("models: download %s: %w", id, err)
	}
	return path, nil
}

// Cancel aborts an in-flight download for id, if any.
func (m *Manager) Cancel(id string) {
	m.mu.Lock()
	cancel, ok := m.downloads[id]
	m.mu.Unlock()
	if ok {
		cancel()
	}
}
