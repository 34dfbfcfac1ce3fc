// Package llm defines the provider-agnostic interface used to turn free-form
// requests into structured intents.
package llm

import "context"

// Provider is the abstraction over an LLM backend.
type Provider interface {
	// SendMessage sends a conversation to the LLM and returns its response.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string
}

// Request represents a full conversation sent to the LLM.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Temperature  *float64 // nil = provider default.
}

// Message is a single turn in the conversation.
type Message struct {
	Role    Role
	Content string
}

// UserMessage creates a user turn.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Response is what the LLM returns.
type Response struct {
	Content    string // Concatenated text blocks.
	Usage      Usage
	StopReason string // "end_turn", "max_tokens", "stop_sequence"
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
