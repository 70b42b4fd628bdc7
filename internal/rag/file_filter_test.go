package rag

import "testing"

func TestExtensionAllowedMatchesText(t *testing.T) {
	if !extensionAllowed("readme.md") {
		t.Fatal("expected readme.md to be allowed")
	}
	if extensionAllowed("image.png") {
		t.Fatal("expected image.png to be disallowed")
	}
	if !extensionAllowed("Dockerfile") {
		t.Fatal("expected Dockerfile (no extension) to be allowed")
	}
}

func TestIsMinifiedCode(t *testing.T) {
	if !isMinifiedCode("bundle.min.js", "var a=1;") {
		t.Fatal("expected bundle.min.js to be flagged minified")
	}
	if isMinifiedCode("main.go", "package main") {
		t.Fatal("go files are never flagged minified")
	}
}

func TestShouldSkipPath(t *testing.T) {
	if _, skip := shouldSkipPath("project/node_modules/pkg/index.js"); !skip {
		t.Fatal("expected node_modules path to be skipped")
	}
	if _, skip := shouldSkipPath("project/src/main.go"); skip {
		t.Fatal("expected ordinary source path not to be skipped")
	}
}
