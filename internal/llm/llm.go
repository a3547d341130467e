// Package llm defines the generator contract the refinement loop consumes
// and the provider implementations that satisfy it.
//
// The loop treats generation as an opaque call: a conversation goes in, text
// plus usage metadata comes out. All provider stochasticity is explicit in
// the request temperature; providers hold no conversational state between
// calls.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Role identifies the author of a conversation message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation sent to a generator
type Message struct {
	Role    Role
	Content string
}

// Request is a single generation request. Requests are built fresh per turn
// and never reference hidden provider state.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Response carries the generated text and per-call usage metadata
type Response struct {
	Text    string
	Tokens  int
	Latency time.Duration
}

// Generator produces text from a conversation. Implementations must be safe
// for concurrent use; self-consistency sampling issues overlapping calls.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Config holds shared provider configuration
type Config struct {
	APIKey string // if empty, read from the provider's conventional env var
	Model  string // if empty, the provider default is used

	// MaxConcurrentCalls bounds in-flight API calls per provider (0 = unlimited)
	MaxConcurrentCalls int

	// RequestsPerSecond throttles call admission (0 = unthrottled)
	RequestsPerSecond float64
}

// NewGenerator constructs a provider by name ("anthropic" or "openai")
func NewGenerator(provider string, cfg Config) (Generator, error) {
	switch provider {
	case "anthropic":
		return NewAnthropicGenerator(cfg)
	case "openai":
		return NewOpenAIGenerator(cfg)
	default:
		return nil, fmt.Errorf("unknown generator provider: %q", provider)
	}
}
