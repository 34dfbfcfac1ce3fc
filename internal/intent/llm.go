package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/llm"
)

const parseMaxTokens = 500

// Catalog lists the actions a parser may choose from.
type Catalog interface {
	Describe() []action.ActionInfo
}

// LLMParser asks an LLM provider to map the request onto the action catalog.
type LLMParser struct {
	provider llm.Provider
	prompt   string
	logger   *slog.Logger
}

// NewLLMParser builds the system prompt once from the catalog.
func NewLLMParser(provider llm.Provider, catalog Catalog, logger *slog.Logger) *LLMParser {
	return &LLMParser{
		provider: provider,
		prompt:   systemPrompt(catalog.Describe()),
		logger:   logger,
	}
}

// Parse never returns an error; provider or decoding failures yield Help.
func (p *LLMParser) Parse(ctx context.Context, text string) Intent {
	text = strings.TrimSpace(text)
	if text == "" {
		return Help()
	}

	zero := 0.0
	resp, err := p.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: p.prompt,
		Messages:     []llm.Message{llm.UserMessage(text)},
		MaxTokens:    parseMaxTokens,
		Temperature:  &zero,
	})
	if err != nil {
		p.logger.WarnContext(ctx, "intent parsing failed, falling back to help",
			slog.String("provider", p.provider.Name()),
			slog.String("error", err.Error()),
		)
		return Help()
	}

	in, err := decode(resp.Content)
	if err != nil {
		p.logger.WarnContext(ctx, "intent reply not understood, falling back to help",
			slog.String("provider", p.provider.Name()),
			slog.String("error", err.Error()),
		)
		return Help()
	}
	p.logger.DebugContext(ctx, "intent parsed",
		slog.String("action", in.Action),
		slog.Int("parameters", len(in.Parameters)),
	)
	return in
}

// decode extracts the first JSON object from a model reply, tolerating code
// fences and surrounding prose.
func decode(reply string) (Intent, error) {
	obj, err := firstObject(reply)
	if err != nil {
		return Intent{}, err
	}
	var in Intent
	dec := json.NewDecoder(bytes.NewReader(obj))
	dec.UseNumber()
	if err := dec.Decode(&in); err != nil {
		return Intent{}, fmt.Errorf("decoding intent: %w", err)
	}
	return normalize(in), nil
}

func firstObject(s string) ([]byte, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, errors.New("no JSON object in reply")
	}
	depth, inString, escaped := 0, false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return []byte(s[start : i+1]), nil
			}
		}
	}
	return nil, errors.New("unterminated JSON object in reply")
}

func systemPrompt(actions []action.ActionInfo) string {
	var b strings.Builder
	b.WriteString("You translate cloud infrastructure requests into exactly one action call.\n\n")
	b.WriteString("Available actions:\n")
	for _, a := range actions {
		fmt.Fprintf(&b, "- %s: %s", a.Name, a.Description)
		if len(a.Required) > 0 {
			fmt.Fprintf(&b, " Required: %s.", strings.Join(a.Required, ", "))
		}
		b.WriteByte('\n')
	}
	b.WriteString("\nIf the user supplies a confirmation token, include it as parameters.confirmation_token.\n")
	b.WriteString("If the request matches no action, use \"help\".\n")
	b.WriteString(`Return ONLY JSON: {"action": "...", "parameters": {...}}`)
	return b.String()
}

var _ Parser = (*LLMParser)(nil)
