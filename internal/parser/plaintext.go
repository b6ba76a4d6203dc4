package parser

import (
	"context"

	"github.com/vosbek/repoindex/internal/models"
)

// PlainTextParser registers for extensions with no structural parser
// (docs, config, text), producing a single whole-file Entity —
// grounded on the teacher's ChunkingService.fallbackChunking, but
// made an explicit opt-in registration rather than an implicit
// catch-all: spec.md §4.D step 2 requires unresolved extensions to be
// marked SKIPPED, not silently whole-file indexed.
type PlainTextParser struct {
	language   string
	extensions []string
}

func NewPlainTextParser(language string, extensions ...string) *PlainTextParser {
	return &PlainTextParser{language: language, extensions: extensions}
}

func (p *PlainTextParser) Language() string     { return p.language }
func (p *PlainTextParser) Extensions() []string { return p.extensions }

func (p *PlainTextParser) Parse(ctx context.Context, path string, content string) ([]models.Entity, error) {
	return []models.Entity{wholeFileEntity(path, content, p.language)}, nil
}

func wholeFileEntity(path, content, language string) models.Entity {
	return models.Entity{
		ID:        EntityID(path, models.EntityKindFile, path, 1),
		Name:      path,
		Kind:      models.EntityKindFile,
		Language:  language,
		StartLine: 1,
		EndLine:   countLines(content),
		Text:      content,
	}
}
