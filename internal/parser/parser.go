// Package parser implements spec.md §6's pluggable language parsers:
// registered by file-extension predicate, each exposing one pure
// operation (path + bytes -> Entity stream). Grounded on the
// teacher's internal/chunking (ChunkingService.RegisterParser /
// DetectLanguage / fallbackChunking idiom), generalized from
// CodeChunk output to this spec's Entity record.
package parser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vosbek/repoindex/internal/models"
)

// LanguageParser is the pluggable parser contract of spec.md §6:
// "given a path and its bytes, return a finite sequence of Entity
// records. Parsing must be pure over file content."
type LanguageParser interface {
	Language() string
	Extensions() []string
	Parse(ctx context.Context, path string, content string) ([]models.Entity, error)
}

// Registry maps file extensions to a LanguageParser, mirroring the
// teacher's ChunkingService. It has no fallback: Resolve reports false
// for an unregistered extension.
type Registry struct {
	byExtension map[string]LanguageParser
}

// NewRegistry creates an empty registry. Use Register to add parsers;
// internal/parser/builtin.go registers the shipped set.
func NewRegistry() *Registry {
	return &Registry{byExtension: make(map[string]LanguageParser)}
}

// Register adds a parser under every extension it declares,
// overwriting any previous registration for that extension.
func (r *Registry) Register(p LanguageParser) {
	for _, ext := range p.Extensions() {
		r.byExtension[strings.ToLower(ext)] = p
	}
}

// Resolve returns the parser registered for path's extension, or
// (nil, false) if none matches — the indexer's step 2 ("resolve a
// parser by file type; if none, mark SKIPPED") depends on this ok
// value to distinguish "no parser" from "parser found."
func (r *Registry) Resolve(path string) (LanguageParser, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	p, ok := r.byExtension[ext]
	return p, ok
}

// countLines counts 1-based line numbers the way the teacher's
// chunking.countLines does (one more than the newline count).
func countLines(s string) int {
	count := 1
	for _, c := range s {
		if c == '\n' {
			count++
		}
	}
	return count
}

// EntityID derives a deterministic entity identifier from the
// coordinates that make an entity unique within a file: parsing must
// be pure over file content (spec.md §6), so the ID is a pure
// function of path, kind, name and start line rather than a random
// UUID — the same bytes always yield the same entity IDs.
func EntityID(path string, kind models.EntityKind, name string, startLine int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d", path, kind, name, startLine)
	return hex.EncodeToString(h.Sum(nil))
}
