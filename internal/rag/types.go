// Package rag implements the incremental vector index: file discovery and
// filtering, boundary-snapping chunking, embedding, content-addressed
// upsert into a vector store, and natural-language Q&A over the indexed
// projects.
//
// Grounded on original_source/src-tauri/src/rag/{types,store,service}.rs;
// the vector-store engine itself is out of scope per spec.md §1 ("the
// vector-store library, specified by the operations we call"), so Store
// below is the contract plus an in-process default implementation, the way
// store.rs ships MemoryStore alongside the LanceDbStore it specifies.
package rag

import "time"

// ChunkRecord is one embedded slice of a file, keyed by chunk_id =
// "<file_id>:<chunk_index>".
type ChunkRecord struct {
	ProjectID  string    `json:"projectId"`
	FileID     string    `json:"fileId"`
	FilePath   string    `json:"filePath"`
	FileHash   string    `json:"fileHash"`
	ChunkID    string    `json:"chunkId"`
	ChunkIndex int       `json:"chunkIndex"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding"`
	UpdatedAt  string    `json:"updatedAt"`
}

// FileRecord is the per-file manifest entry used to diff disk vs. index
// state during project sync.
type FileRecord struct {
	ProjectID string `json:"projectId"`
	FileID    string `json:"fileId"`
	FilePath  string `json:"filePath"`
	FileHash  string `json:"fileHash"`
	Mtime     int64  `json:"mtime,omitempty"`
	Size      int64  `json:"size,omitempty"`
	IsDeleted bool   `json:"isDeleted"`
	UpdatedAt string `json:"updatedAt"`
}

// ChunkHit is one ranked search result.
type ChunkHit struct {
	ProjectID  string  `json:"projectId"`
	FileID     string  `json:"fileId"`
	FilePath   string  `json:"filePath"`
	ChunkID    string  `json:"chunkId"`
	ChunkIndex int     `json:"chunkIndex"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

// SkippedFile records a per-file reason a sync/add operation didn't index
// something, so one bad file never aborts the whole run.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// IndexReport summarizes one add/sync/remove call.
type IndexReport struct {
	ProjectID     string        `json:"projectId"`
	RootDir       string        `json:"rootDir,omitempty"`
	IndexedFiles  int           `json:"indexedFiles"`
	UpdatedFiles  int           `json:"updatedFiles"`
	DeletedFiles  int           `json:"deletedFiles"`
	SkippedFiles  []SkippedFile `json:"skippedFiles,omitempty"`
	ChunksAdded   int           `json:"chunksAdded"`
	ChunksDeleted int           `json:"chunksDeleted"`
}

// Project is the public DTO for a registered indexing root.
type Project struct {
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName"`
	RootDir     string `json:"rootDir"`
	UpdatedAt   string `json:"updatedAt"`
}

// Reference is one numbered citation returned alongside a Q&A answer.
type Reference struct {
	Index    int     `json:"index"`
	Score    float32 `json:"score"`
	FilePath string  `json:"filePath"`
	ChunkID  string  `json:"chunkId"`
	Snippet  string  `json:"snippet"`
}

// Answer is the Q&A result: the LLM's answer plus its supporting hits.
type Answer struct {
	Text       string      `json:"text"`
	References []Reference `json:"references"`
}

func nowRFC3339() string {
	return time.Now().Format(time.RFC3339Nano)
}
