package parser

import (
	"context"
	"regexp"
	"sort"

	"github.com/vosbek/repoindex/internal/models"
)

// Regex patterns for Python code elements, grounded on the teacher's
// own pkg/chunking/parsers/python.go, which extracts classes and
// methods with the same line-anchored `^class ...:` / `^\s*def ...:`
// regexes rather than a real Python parser; this package collapses
// the teacher's file/import/docstring/dependency chunk graph down to
// the class/function/method entities the single-file pipeline needs.
var (
	pyClassRegex = regexp.MustCompile(`(?m)^class\s+(\w+)\s*(?:\([^)]*\))?\s*:`)
	pyDefRegex   = regexp.MustCompile(`(?m)^([ \t]*)def\s+(\w+)\s*\(`)
)

// PythonParser extracts classes and functions from Python source. A
// construct's end line is the line before the next recognized
// construct (or EOF) — an intentionally simple boundary, since exact
// block-end detection needs real indentation parsing that a
// regex-only parser cannot give without Python's own tokenizer.
type PythonParser struct{}

func NewPythonParser() *PythonParser { return &PythonParser{} }

func (p *PythonParser) Language() string     { return "python" }
func (p *PythonParser) Extensions() []string { return []string{".py"} }

type pyMatch struct {
	kind      models.EntityKind
	name      string
	startLine int
}

func (p *PythonParser) Parse(ctx context.Context, path string, content string) ([]models.Entity, error) {
	var matches []pyMatch

	for _, m := range pyClassRegex.FindAllStringSubmatchIndex(content, -1) {
		matches = append(matches, pyMatch{
			kind:      models.EntityKindClass,
			name:      content[m[2]:m[3]],
			startLine: countLines(content[:m[0]]),
		})
	}
	for _, m := range pyDefRegex.FindAllStringSubmatchIndex(content, -1) {
		kind := models.EntityKindFunction
		if m[3] > m[2] { // non-empty leading indent capture group
			kind = models.EntityKindMethod
		}
		matches = append(matches, pyMatch{
			kind:      kind,
			name:      content[m[4]:m[5]],
			startLine: countLines(content[:m[0]]),
		})
	}

	if len(matches) == 0 {
		return []models.Entity{wholeFileEntity(path, content, "python")}, nil
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].startLine < matches[j].startLine })

	lines := splitLinesKeepEnds(content)
	totalLines := len(lines)

	entities := make([]models.Entity, 0, len(matches))
	for i, m := range matches {
		end := totalLines
		if i+1 < len(matches) {
			end = matches[i+1].startLine - 1
		}
		if end < m.startLine {
			end = m.startLine
		}
		text := joinLines(lines, m.startLine, end)
		entities = append(entities, models.Entity{
			ID:        EntityID(path, m.kind, m.name, m.startLine),
			Name:      m.name,
			Kind:      m.kind,
			Language:  "python",
			StartLine: m.startLine,
			EndLine:   end,
			Text:      text,
		})
	}
	return entities, nil
}

func splitLinesKeepEnds(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// joinLines concatenates 1-based lines [from, to] inclusive.
func joinLines(lines []string, from, to int) string {
	if from < 1 {
		from = 1
	}
	if to > len(lines) {
		to = len(lines)
	}
	out := ""
	for i := from - 1; i < to && i < len(lines); i++ {
		out += lines[i]
	}
	return out
}
