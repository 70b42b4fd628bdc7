package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// projectEntry is the on-disk record; ProjectName may be empty until
// resolveProjectName fills it in from the root directory's basename.
type projectEntry struct {
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName,omitempty"`
	RootDir     string `json:"rootDir"`
	UpdatedAt   string `json:"updatedAt"`
}

type projectsIndex struct {
	Projects []projectEntry `json:"projects"`
}

// ProjectRegistry persists the set of indexed roots to <ragDir>/projects.json,
// grounded on rag/projects.rs.
type ProjectRegistry struct {
	dir string
	mu  sync.Mutex
}

func NewProjectRegistry(dir string) *ProjectRegistry {
	return &ProjectRegistry{dir: dir}
}

func (r *ProjectRegistry) path() string {
	return filepath.Join(r.dir, "projects.json")
}

func (r *ProjectRegistry) load() projectsIndex {
	raw, err := os.ReadFile(r.path())
	if err != nil {
		return projectsIndex{}
	}
	var idx projectsIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return projectsIndex{}
	}
	for i := range idx.Projects {
		if strings.TrimSpace(idx.Projects[i].ProjectName) == "" {
			idx.Projects[i].ProjectName = resolveProjectName("", idx.Projects[i].RootDir, idx.Projects[i].ProjectID)
		}
	}
	return idx
}

func (r *ProjectRegistry) save(idx projectsIndex) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path(), raw, 0o644)
}

// List returns all registered projects, name-sorted case-insensitively.
func (r *ProjectRegistry) List() []Project {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.load()
	out := make([]Project, 0, len(idx.Projects))
	for _, e := range idx.Projects {
		out = append(out, toProjectDTO(e))
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].ProjectName) < strings.ToLower(out[j].ProjectName)
	})
	return out
}

// Root returns the registered root directory for projectID, if any.
func (r *ProjectRegistry) Root(projectID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.load().Projects {
		if e.ProjectID == projectID {
			return e.RootDir, true
		}
	}
	return "", false
}

// Create registers a new root directory as a project, rejecting duplicates
// by normalized root path.
func (r *ProjectRegistry) Create(projectName, rootDir string) (Project, error) {
	info, err := os.Stat(rootDir)
	if err != nil {
		return Project{}, fmt.Errorf("rag: root dir not found: %w", err)
	}
	if !info.IsDir() {
		return Project{}, fmt.Errorf("rag: root dir is not a directory: %s", rootDir)
	}

	canonical, err := filepath.Abs(rootDir)
	if err != nil {
		canonical = rootDir
	}
	if resolved, err := filepath.EvalSymlinks(canonical); err == nil {
		canonical = resolved
	}
	normalizedRoot := normalizeRootDir(canonical)
	projectID := hashProjectID(normalizedRoot)

	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.load()
	for _, e := range idx.Projects {
		if normalizeRootDir(e.RootDir) == normalizedRoot {
			return Project{}, fmt.Errorf("rag: project root already exists")
		}
	}

	entry := projectEntry{
		ProjectID:   projectID,
		ProjectName: resolveProjectName(projectName, canonical, projectID),
		RootDir:     canonical,
		UpdatedAt:   nowRFC3339(),
	}
	idx.Projects = append(idx.Projects, entry)
	if err := r.save(idx); err != nil {
		return Project{}, err
	}
	return toProjectDTO(entry), nil
}

// Remove deletes a project's registry entry (not its indexed chunks — the
// caller is expected to also call the indexer's remove-files path).
func (r *ProjectRegistry) Remove(projectID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.load()
	before := len(idx.Projects)
	kept := idx.Projects[:0]
	for _, e := range idx.Projects {
		if e.ProjectID != projectID {
			kept = append(kept, e)
		}
	}
	idx.Projects = kept
	if len(idx.Projects) == before {
		return false, nil
	}
	return true, r.save(idx)
}

// UpsertRoot sets or updates the root directory for an existing or new
// projectID, matching projects.rs's upsert_project_root: unlike Create, the
// caller supplies the id rather than it being derived from the root hash.
func (r *ProjectRegistry) UpsertRoot(projectID, rootDir string) error {
	canonical, err := filepath.Abs(rootDir)
	if err != nil {
		canonical = rootDir
	}
	if resolved, err := filepath.EvalSymlinks(canonical); err == nil {
		canonical = resolved
	}
	rootName := resolveProjectName("", canonical, projectID)

	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.load()

	for i := range idx.Projects {
		if idx.Projects[i].ProjectID != projectID {
			continue
		}
		idx.Projects[i].RootDir = canonical
		if strings.TrimSpace(idx.Projects[i].ProjectName) == "" {
			idx.Projects[i].ProjectName = rootName
		}
		idx.Projects[i].UpdatedAt = nowRFC3339()
		return r.save(idx)
	}

	idx.Projects = append(idx.Projects, projectEntry{
		ProjectID:   projectID,
		ProjectName: rootName,
		RootDir:     canonical,
		UpdatedAt:   nowRFC3339(),
	})
	return r.save(idx)
}

func toProjectDTO(e projectEntry) Project {
	return Project{
		ProjectID:   e.ProjectID,
		ProjectName: resolveProjectName(e.ProjectName, e.RootDir, e.ProjectID),
		RootDir:     e.RootDir,
		UpdatedAt:   e.UpdatedAt,
	}
}

func resolveProjectName(input, rootDir, fallback string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed != "" {
		return trimmed
	}
	base := strings.TrimSpace(filepath.Base(rootDir))
	if base != "" && base != "." && base != string(filepath.Separator) {
		return base
	}
	return fallback
}

func normalizeRootDir(rootDir string) string {
	normalized := strings.TrimSpace(strings.ReplaceAll(rootDir, "\\", "/"))
	normalized = strings.TrimRight(normalized, "/")
	if runtime.GOOS == "windows" {
		normalized = strings.ToLower(normalized)
	}
	return normalized
}

func hashProjectID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "proj_" + hex.EncodeToString(sum[:])
}
