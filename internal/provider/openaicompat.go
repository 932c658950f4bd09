package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/rdeshpande/chat-gateway/internal/api/openai"
	"github.com/rdeshpande/chat-gateway/internal/domain"
	"github.com/rdeshpande/chat-gateway/internal/safehttp"
)

// OpenAICompat invokes any provider speaking the chat-completions wire format:
// OpenAI itself, plus Groq, Perplexity and Ollama, which differ only in base
// URL and auth.
type OpenAICompat struct {
	httpClient *http.Client
}

// NewOpenAICompat returns an invoker for chat-completions-compatible
// providers.
func NewOpenAICompat(opts ...OpenAICompatOption) *OpenAICompat {
	inv := &OpenAICompat{httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// OpenAICompatOption configures the invoker.
type OpenAICompatOption func(*OpenAICompat)

// WithHTTPClient sets the HTTP client shared by all upstream calls.
func WithHTTPClient(httpClient *http.Client) OpenAICompatOption {
	return func(inv *OpenAICompat) {
		inv.httpClient = httpClient
	}
}

func (inv *OpenAICompat) client(req Request) *openai.Client {
	httpClient := inv.httpClient
	if req.RestrictDial {
		httpClient = safehttp.Client
	}
	return openai.NewClient(req.APIKey,
		openai.WithBaseURL(req.BaseURL),
		openai.WithHTTPClient(httpClient),
	)
}

func toWireMessages(msgs []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Complete implements Invoker.
func (inv *OpenAICompat) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := inv.client(req).CreateChatCompletion(ctx, &openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toWireMessages(req.Messages),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream implements Invoker. Chunks pass through in their native
// chat-completions shape.
func (inv *OpenAICompat) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	upstream, err := inv.client(req).StreamChatCompletion(ctx, &openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toWireMessages(req.Messages),
	})
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for res := range upstream {
			select {
			case out <- Chunk{Data: res.Data, Err: res.Err}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// DecodeError implements Invoker. The status falls back to 400 and the error
// code, when present, is preferred over the longer message.
func (inv *OpenAICompat) DecodeError(err error) (int, string) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		if code := apiErr.CodeString(); code != "" {
			return status, code
		}
		return status, apiErr.Message
	}
	return http.StatusBadRequest, err.Error()
}
