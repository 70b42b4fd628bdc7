package rag

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Store is the vector-store contract: add/delete chunks, search by
// embedding, and track a per-file manifest for incremental sync. Grounded
// on rag/store.rs's RagStore/RagManifestStore traits; the vector-store
// engine itself is out of scope per spec.md, so DiskStore below is a
// reference implementation analogous to store.rs's MemoryStore, persisted
// to JSON rather than kept purely in memory so an index survives restarts.
type Store interface {
	AddChunks(ctx context.Context, chunks []ChunkRecord) error
	DeleteByFile(ctx context.Context, projectID, fileID string) (int, error)
	Search(ctx context.Context, queryEmbedding []float32, projectIDs []string, topK int) ([]ChunkHit, error)
	UpsertFileManifest(ctx context.Context, record FileRecord) error
	ListFiles(ctx context.Context, projectID string) ([]FileRecord, error)
	GetFileManifest(ctx context.Context, projectID, fileID string) (FileRecord, bool, error)
}

type fileKey struct {
	projectID string
	fileID    string
}

// DiskStore is the default Store: an in-memory index whose chunks and file
// manifest are mirrored together to <dir>/index.json on every mutation, the
// way segment.Index mirrors its manifest to index.json.
type DiskStore struct {
	dir string

	mu     sync.Mutex
	chunks []ChunkRecord
	files  map[fileKey]FileRecord
}

type diskStoreSnapshot struct {
	Chunks []ChunkRecord `json:"chunks"`
	Files  []FileRecord  `json:"files"`
}

func NewDiskStore(dir string) (*DiskStore, error) {
	s := &DiskStore{dir: dir, files: make(map[fileKey]FileRecord)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DiskStore) snapshotPath() string {
	return filepath.Join(s.dir, "index.json")
}

func (s *DiskStore) load() error {
	raw, err := os.ReadFile(s.snapshotPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap diskStoreSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return err
	}
	s.chunks = snap.Chunks
	for _, f := range snap.Files {
		s.files[fileKey{f.ProjectID, f.FileID}] = f
	}
	return nil
}

// saveLocked writes the full snapshot atomically, mirroring
// segment.Index.saveLocked's write-to-temp-then-rename pattern.
func (s *DiskStore) saveLocked() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	snap := diskStoreSnapshot{Chunks: s.chunks, Files: make([]FileRecord, 0, len(s.files))}
	for _, f := range s.files {
		snap.Files = append(snap.Files, f)
	}
	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.snapshotPath() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshotPath())
}

func (s *DiskStore) AddChunks(_ context.Context, chunks []ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
	return s.saveLocked()
}

func (s *DiskStore) DeleteByFile(_ context.Context, projectID, fileID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.chunks)
	kept := s.chunks[:0]
	for _, c := range s.chunks {
		if c.ProjectID == projectID && c.FileID == fileID {
			continue
		}
		kept = append(kept, c)
	}
	s.chunks = kept
	deleted := before - len(s.chunks)
	if deleted > 0 {
		if err := s.saveLocked(); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

func (s *DiskStore) Search(_ context.Context, queryEmbedding []float32, projectIDs []string, topK int) ([]ChunkHit, error) {
	want := make(map[string]struct{}, len(projectIDs))
	for _, id := range projectIDs {
		want[id] = struct{}{}
	}

	s.mu.Lock()
	candidates := make([]ChunkRecord, 0, len(s.chunks))
	for _, c := range s.chunks {
		if len(want) > 0 {
			if _, ok := want[c.ProjectID]; !ok {
				continue
			}
		}
		if len(c.Embedding) != len(queryEmbedding) {
			continue
		}
		candidates = append(candidates, c)
	}
	s.mu.Unlock()

	hits := make([]ChunkHit, 0, len(candidates))
	for _, c := range candidates {
		hits = append(hits, ChunkHit{
			ProjectID:  c.ProjectID,
			FileID:     c.FileID,
			FilePath:   c.FilePath,
			ChunkID:    c.ChunkID,
			ChunkIndex: c.ChunkIndex,
			Text:       c.Text,
			Score:      fullCosineSimilarity(c.Embedding, queryEmbedding),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *DiskStore) UpsertFileManifest(_ context.Context, record FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fileKey{record.ProjectID, record.FileID}] = record
	return s.saveLocked()
}

func (s *DiskStore) ListFiles(_ context.Context, projectID string) ([]FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FileRecord, 0)
	for key, f := range s.files {
		if key.projectID == projectID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FilePath < out[j].FilePath })
	return out, nil
}

func (s *DiskStore) GetFileManifest(_ context.Context, projectID, fileID string) (FileRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileKey{projectID, fileID}]
	return f, ok, nil
}

// fullCosineSimilarity does not assume pre-normalized inputs, matching
// store.rs's own cosine_similarity (distinct from embedder.go's
// dot-product shortcut, which assumes normalized vectors).
func fullCosineSimilarity(left, right []float32) float32 {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	l64 := make([]float64, n)
	r64 := make([]float64, n)
	for i := 0; i < n; i++ {
		l64[i] = float64(left[i])
		r64[i] = float64(right[i])
	}
	normLeft := floats.Norm(l64, 2)
	normRight := floats.Norm(r64, 2)
	if normLeft == 0 || normRight == 0 {
		return 0
	}
	return float32(floats.Dot(l64, r64) / (normLeft * normRight))
}
