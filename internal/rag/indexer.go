package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 150
	defaultMaxFileSize  = 1 << 20 // 1 MiB
)

// Indexer orchestrates project file discovery, chunking, embedding, and
// upsert into a Store, grounded on rag/service.rs's RagService.
type Indexer struct {
	store       Store
	embedder    Embedder
	projects    *ProjectRegistry
	chunkSize   int
	chunkOver   int
	maxFileSize int64
}

func NewIndexer(store Store, embedder Embedder, projects *ProjectRegistry) *Indexer {
	return &Indexer{
		store:       store,
		embedder:    embedder,
		projects:    projects,
		chunkSize:   defaultChunkSize,
		chunkOver:   defaultChunkOverlap,
		maxFileSize: defaultMaxFileSize,
	}
}

type fileCandidate struct {
	fileID   string
	filePath string
	fileHash string
	text     string
	mtime    int64
	size     int64
}

// AddFiles indexes an explicit file list, inferring the project root as the
// files' common parent directory when the project has none registered yet.
func (idx *Indexer) AddFiles(ctx context.Context, projectID string, filePaths []string) (IndexReport, error) {
	report := IndexReport{ProjectID: projectID}

	root, hasRoot := idx.projects.Root(projectID)
	if !hasRoot {
		if inferred, ok := commonParent(filePaths); ok {
			if _, err := os.Stat(inferred); err == nil {
				root = inferred
				hasRoot = true
				_ = idx.projects.UpsertRoot(projectID, root)
			}
		}
	}
	if hasRoot {
		report.RootDir = root
	}

	for _, path := range filePaths {
		candidate, ok := idx.prepareCandidate(projectID, path, root, hasRoot)
		if !ok {
			report.SkippedFiles = append(report.SkippedFiles, SkippedFile{Path: path, Reason: "filtered"})
			continue
		}

		existing, found, err := idx.store.GetFileManifest(ctx, projectID, candidate.fileID)
		if err != nil {
			return report, err
		}
		if found && existing.FileHash == candidate.fileHash && !existing.IsDeleted {
			report.SkippedFiles = append(report.SkippedFiles, SkippedFile{Path: candidate.filePath, Reason: "unchanged"})
			continue
		}

		if found {
			deleted, err := idx.store.DeleteByFile(ctx, projectID, candidate.fileID)
			if err != nil {
				return report, err
			}
			report.ChunksDeleted += deleted
			report.UpdatedFiles++
		} else {
			report.IndexedFiles++
		}

		chunks, err := idx.buildChunks(ctx, projectID, candidate)
		if err != nil {
			return report, err
		}
		report.ChunksAdded += len(chunks)
		if err := idx.store.AddChunks(ctx, chunks); err != nil {
			return report, err
		}

		if err := idx.store.UpsertFileManifest(ctx, FileRecord{
			ProjectID: projectID,
			FileID:    candidate.fileID,
			FilePath:  candidate.filePath,
			FileHash:  candidate.fileHash,
			Mtime:     candidate.mtime,
			Size:      candidate.size,
			IsDeleted: false,
			UpdatedAt: nowRFC3339(),
		}); err != nil {
			return report, err
		}
	}

	return report, nil
}

// SyncProject walks rootOverride (or the registered root) and diffs the
// current file set against the stored manifest: new/changed files are
// re-chunked, vanished files are tombstoned, per rag/service.rs
// index_sync_project.
func (idx *Indexer) SyncProject(ctx context.Context, projectID, rootOverride string) (IndexReport, error) {
	report := IndexReport{ProjectID: projectID}

	root := rootOverride
	if root != "" {
		if _, err := os.Stat(root); err != nil {
			return report, fmt.Errorf("rag: root dir not found: %w", err)
		}
		_ = idx.projects.UpsertRoot(projectID, root)
	} else {
		r, ok := idx.projects.Root(projectID)
		if !ok {
			return report, fmt.Errorf("rag: project root not set")
		}
		if _, err := os.Stat(r); err != nil {
			return report, fmt.Errorf("rag: root dir not found: %w", err)
		}
		root = r
	}
	report.RootDir = root

	candidates, err := idx.scanProjectFiles(projectID, root)
	if err != nil {
		return report, err
	}
	current := make(map[string]fileCandidate, len(candidates))
	for _, c := range candidates {
		current[c.fileID] = c
	}

	existingRecords, err := idx.store.ListFiles(ctx, projectID)
	if err != nil {
		return report, err
	}
	existing := make(map[string]FileRecord, len(existingRecords))
	for _, rec := range existingRecords {
		if rec.IsDeleted {
			continue
		}
		existing[rec.FileID] = rec
	}

	for fileID, rec := range existing {
		if _, ok := current[fileID]; ok {
			continue
		}
		deleted, err := idx.store.DeleteByFile(ctx, projectID, fileID)
		if err != nil {
			return report, err
		}
		report.ChunksDeleted += deleted
		report.DeletedFiles++
		rec.IsDeleted = true
		rec.UpdatedAt = nowRFC3339()
		if err := idx.store.UpsertFileManifest(ctx, rec); err != nil {
			return report, err
		}
	}

	for fileID, candidate := range current {
		rec, wasIndexed := existing[fileID]
		shouldIndex := !wasIndexed || rec.FileHash != candidate.fileHash
		if !shouldIndex {
			continue
		}

		if wasIndexed {
			deleted, err := idx.store.DeleteByFile(ctx, projectID, fileID)
			if err != nil {
				return report, err
			}
			report.ChunksDeleted += deleted
			report.UpdatedFiles++
		} else {
			report.IndexedFiles++
		}

		chunks, err := idx.buildChunks(ctx, projectID, candidate)
		if err != nil {
			return report, err
		}
		report.ChunksAdded += len(chunks)
		if err := idx.store.AddChunks(ctx, chunks); err != nil {
			return report, err
		}

		if err := idx.store.UpsertFileManifest(ctx, FileRecord{
			ProjectID: projectID,
			FileID:    candidate.fileID,
			FilePath:  candidate.filePath,
			FileHash:  candidate.fileHash,
			Mtime:     candidate.mtime,
			Size:      candidate.size,
			IsDeleted: false,
			UpdatedAt: nowRFC3339(),
		}); err != nil {
			return report, err
		}
	}

	return report, nil
}

// RemoveFiles tombstones files by explicit id or by path (resolved relative
// to the registered project root).
func (idx *Indexer) RemoveFiles(ctx context.Context, projectID string, filePaths, fileIDs []string) (IndexReport, error) {
	report := IndexReport{ProjectID: projectID}

	ids := append([]string{}, fileIDs...)
	if len(filePaths) > 0 {
		root, ok := idx.projects.Root(projectID)
		if !ok {
			return report, fmt.Errorf("rag: project root not set")
		}
		for _, p := range filePaths {
			relative := normalizeRelativePath(root, p)
			ids = append(ids, hashText(projectID+":"+relative))
		}
	}

	for _, fileID := range ids {
		deleted, err := idx.store.DeleteByFile(ctx, projectID, fileID)
		if err != nil {
			return report, err
		}
		report.ChunksDeleted += deleted
		report.DeletedFiles++

		if rec, found, err := idx.store.GetFileManifest(ctx, projectID, fileID); err == nil && found {
			rec.IsDeleted = true
			rec.UpdatedAt = nowRFC3339()
			_ = idx.store.UpsertFileManifest(ctx, rec)
		}
	}

	return report, nil
}

// Search embeds query with the E5 "query: " prefix and returns the top-k
// hits across projectIDs.
func (idx *Indexer) Search(ctx context.Context, query string, projectIDs []string, topK int) ([]ChunkHit, error) {
	if len(projectIDs) == 0 {
		return nil, fmt.Errorf("rag: project_ids is empty")
	}
	embedding, err := idx.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	normalizeEmbedding(embedding)
	return idx.store.Search(ctx, embedding, projectIDs, topK)
}

func (idx *Indexer) buildChunks(ctx context.Context, projectID string, candidate fileCandidate) ([]ChunkRecord, error) {
	chunks := chunkText(candidate.text, idx.chunkSize, idx.chunkOver)
	if len(chunks) == 0 {
		return nil, nil
	}

	embeddings, err := idx.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return nil, err
	}
	for _, e := range embeddings {
		normalizeEmbedding(e)
	}

	records := make([]ChunkRecord, len(chunks))
	now := nowRFC3339()
	for i, chunk := range chunks {
		records[i] = ChunkRecord{
			ProjectID:  projectID,
			FileID:     candidate.fileID,
			FilePath:   candidate.filePath,
			FileHash:   candidate.fileHash,
			ChunkID:    fmt.Sprintf("%s:%d", candidate.fileID, i),
			ChunkIndex: i,
			Text:       chunk,
			Embedding:  embeddings[i],
			UpdatedAt:  now,
		}
	}
	return records, nil
}

func (idx *Indexer) scanProjectFiles(projectID, root string) ([]fileCandidate, error) {
	var candidates []fileCandidate
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if _, skip := shouldSkipPath(path); skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if candidate, ok := idx.prepareCandidate(projectID, path, root, true); ok {
			candidates = append(candidates, candidate)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func (idx *Indexer) prepareCandidate(projectID, path, root string, hasRoot bool) (fileCandidate, bool) {
	if _, skip := shouldSkipPath(path); skip {
		return fileCandidate{}, false
	}
	if !extensionAllowed(path) {
		return fileCandidate{}, false
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() > idx.maxFileSize {
		return fileCandidate{}, false
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileCandidate{}, false
	}
	for _, b := range raw {
		if b == 0 {
			return fileCandidate{}, false // binary file
		}
	}
	text := string(raw)
	if isMinifiedCode(path, text) {
		return fileCandidate{}, false
	}

	var relative string
	if hasRoot {
		relative = normalizeRelativePath(root, path)
	} else {
		relative = strings.ToLower(filepath.Base(path))
	}

	fileHash := hashText(text)
	fileID := hashText(projectID + ":" + relative)

	return fileCandidate{
		fileID:   fileID,
		filePath: relative,
		fileHash: fileHash,
		text:     text,
		mtime:    info.ModTime().Unix(),
		size:     info.Size(),
	}, true
}

func normalizeRelativePath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	text := strings.ReplaceAll(rel, "\\", "/")
	text = strings.TrimPrefix(text, "./")
	return strings.ToLower(text)
}

func commonParent(paths []string) (string, bool) {
	if len(paths) == 0 {
		return "", false
	}
	prefix := filepath.Dir(paths[0])
	for _, p := range paths[1:] {
		prefix = commonDirPrefix(prefix, filepath.Dir(p))
		if prefix == "" {
			return "", false
		}
	}
	return prefix, true
}

func commonDirPrefix(a, b string) string {
	aParts := strings.Split(filepath.ToSlash(a), "/")
	bParts := strings.Split(filepath.ToSlash(b), "/")
	n := len(aParts)
	if len(bParts) < n {
		n = len(bParts)
	}
	shared := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if aParts[i] != bParts[i] {
			break
		}
		shared = append(shared, aParts[i])
	}
	if len(shared) == 0 {
		return ""
	}
	return strings.Join(shared, "/")
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
