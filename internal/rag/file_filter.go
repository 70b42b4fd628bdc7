package rag

import (
	"path/filepath"
	"strings"
)

var allowedExtensions = map[string]struct{}{
	"md": {}, "markdown": {}, "txt": {}, "rst": {}, "adoc": {}, "org": {},
	"rs": {}, "go": {}, "py": {}, "js": {}, "jsx": {}, "ts": {}, "tsx": {}, "java": {}, "kt": {}, "swift": {},
	"rb": {}, "php": {}, "cs": {}, "fs": {}, "scala": {}, "c": {}, "h": {}, "cc": {}, "cpp": {}, "hpp": {},
	"json": {}, "toml": {}, "yaml": {}, "yml": {}, "ini": {}, "cfg": {}, "conf": {}, "env": {},
	"sql": {}, "html": {}, "css": {}, "scss": {}, "less": {}, "xml": {}, "vue": {}, "svelte": {},
	"sh": {}, "bat": {}, "ps1": {}, "dockerfile": {}, "makefile": {}, "gradle": {}, "properties": {},
}

var ignoredDirs = map[string]struct{}{
	".git": {}, ".hg": {}, ".svn": {}, ".idea": {}, ".vscode": {},
	"node_modules": {}, "dist": {}, "build": {}, "target": {}, "out": {}, "coverage": {},
	".next": {}, ".turbo": {}, ".cache": {}, ".venv": {}, "__pycache__": {},
}

var disallowedExtensions = map[string]struct{}{
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "bmp": {}, "svg": {}, "webp": {},
	"mp3": {}, "wav": {}, "flac": {}, "ogg": {}, "mp4": {}, "mkv": {}, "avi": {}, "mov": {},
	"zip": {}, "rar": {}, "7z": {}, "tar": {}, "gz": {}, "bz2": {},
	"pdf": {}, "doc": {}, "docx": {}, "ppt": {}, "pptx": {}, "xls": {}, "xlsx": {},
	"exe": {}, "dll": {}, "so": {}, "dylib": {},
}

// shouldSkipPath reports whether any path component names an ignored
// directory, with the matching reason for SkippedFile.Reason.
func shouldSkipPath(path string) (string, bool) {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		name := strings.ToLower(part)
		if _, ok := ignoredDirs[name]; ok {
			return "ignored dir: " + name, true
		}
	}
	return "", false
}

// extensionAllowed matches file_filter.rs extension_allowed: dockerfile and
// makefile are allowed by filename since they carry no extension.
func extensionAllowed(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		name := strings.ToLower(filepath.Base(path))
		return name == "dockerfile" || name == "makefile"
	}
	if _, bad := disallowedExtensions[ext]; bad {
		return false
	}
	_, ok := allowedExtensions[ext]
	return ok
}

// isMinifiedCode flags generated/bundled JS-family files so they don't
// pollute the index with unreadable chunks.
func isMinifiedCode(path string, text string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "js", "jsx", "ts", "tsx":
	default:
		return false
	}

	name := strings.ToLower(filepath.Base(path))
	if strings.Contains(name, ".min.") {
		return true
	}

	maxLine, lines := 0, 0
	for _, line := range strings.Split(text, "\n") {
		lines++
		if n := len([]rune(line)); n > maxLine {
			maxLine = n
		}
		if maxLine > 4000 {
			return true
		}
	}

	if maxLine > 2000 && lines < 5 {
		return true
	}
	if lines <= 3 && len(text) > 200_000 {
		return true
	}
	return false
}
