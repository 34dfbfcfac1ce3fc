package intent

import (
	"context"
	"strings"
)

// StaticParser resolves requests from a fixed table keyed by the lowercased,
// trimmed text. It backs intent.provider=none and tests.
type StaticParser struct {
	intents map[string]Intent
}

// NewStaticParser copies the table.
func NewStaticParser(intents map[string]Intent) *StaticParser {
	table := make(map[string]Intent, len(intents))
	for text, in := range intents {
		table[key(text)] = normalize(in)
	}
	return &StaticParser{intents: table}
}

func (s *StaticParser) Parse(_ context.Context, text string) Intent {
	if in, ok := s.intents[key(text)]; ok {
		return in
	}
	// A bare action name is accepted as-is.
	if name := key(text); name != "" && !strings.ContainsAny(name, " \t") {
		return normalize(Intent{Action: name})
	}
	return Help()
}

func key(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

var _ Parser = (*StaticParser)(nil)
