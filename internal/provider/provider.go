// Package provider abstracts upstream LLM providers behind a single Invoker
// interface. Each invoker speaks its provider's native wire format but emits
// chat-completions-shaped chunks, so the relay and orchestrator stay
// provider-agnostic.
package provider

import (
	"context"
	"fmt"

	"github.com/rdeshpande/chat-gateway/internal/domain"
)

// Request carries everything an invoker needs for one upstream turn. The
// credentials come from the tenant's resolved config, never from process env.
type Request struct {
	Model    string
	Messages []domain.Message
	APIKey   string
	BaseURL  string

	// RestrictDial marks BaseURL as tenant-supplied; calls to it must not
	// reach loopback or private address ranges.
	RestrictDial bool
}

// Chunk is one streamed increment in chat-completions chunk shape, or a
// terminal error. Data is raw JSON; tolerant decoding happens downstream.
type Chunk struct {
	Data []byte
	Err  error
}

// Invoker executes turns against one upstream provider.
type Invoker interface {
	// Complete performs a non-streaming turn and returns the assistant text.
	Complete(ctx context.Context, req Request) (string, error)

	// Stream performs a streaming turn. The returned channel closes when the
	// upstream stream ends or ctx is cancelled.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)

	// DecodeError maps an upstream failure to an HTTP status and a message
	// suitable for the client. Provider error formats differ enough that each
	// invoker owns its own mapping.
	DecodeError(err error) (int, string)
}

// Registry maps provider ids to invokers.
type Registry struct {
	invokers map[string]Invoker
}

// NewRegistry returns a registry with every supported provider wired in.
func NewRegistry() *Registry {
	openaiCompat := NewOpenAICompat()
	return &Registry{invokers: map[string]Invoker{
		"openai":     openaiCompat,
		"groq":       openaiCompat,
		"perplexity": openaiCompat,
		"ollama":     openaiCompat,
		"mistral":    NewMistral(),
		"anthropic":  NewAnthropic(),
	}}
}

// Register adds or replaces the invoker for a provider id.
func (r *Registry) Register(providerID string, inv Invoker) {
	r.invokers[providerID] = inv
}

// Invoker returns the invoker for a provider id.
func (r *Registry) Invoker(providerID string) (Invoker, error) {
	inv, ok := r.invokers[providerID]
	if !ok {
		return nil, domain.ErrInternal(fmt.Sprintf("no invoker registered for provider %q", providerID))
	}
	return inv, nil
}
