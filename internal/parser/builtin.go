package parser

// NewBuiltinRegistry returns a Registry with every shipped parser
// registered, mirroring the teacher's parsers.NewParserFactory /
// InitializeChunkingService wiring.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewGoParser())
	r.Register(NewPythonParser())
	r.Register(NewPlainTextParser("markdown", ".md", ".markdown"))
	r.Register(NewPlainTextParser("yaml", ".yaml", ".yml"))
	r.Register(NewPlainTextParser("json", ".json"))
	r.Register(NewPlainTextParser("text", ".txt"))
	return r
}
