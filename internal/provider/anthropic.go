package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rdeshpande/chat-gateway/internal/api/anthropic"
	"github.com/rdeshpande/chat-gateway/internal/api/openai"
	"github.com/rdeshpande/chat-gateway/internal/domain"
	"github.com/rdeshpande/chat-gateway/internal/safehttp"
)

// Anthropic's messages API requires an explicit output cap.
const anthropicDefaultMaxTokens = 4096

// Anthropic invokes the Anthropic Messages API and adapts its native events
// into chat-completions-shaped chunks.
type Anthropic struct {
	httpClient *http.Client
}

// NewAnthropic returns an invoker for the Anthropic API.
func NewAnthropic(opts ...AnthropicOption) *Anthropic {
	inv := &Anthropic{httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// AnthropicOption configures the invoker.
type AnthropicOption func(*Anthropic)

// WithAnthropicHTTPClient sets the HTTP client shared by all upstream calls.
func WithAnthropicHTTPClient(httpClient *http.Client) AnthropicOption {
	return func(inv *Anthropic) {
		inv.httpClient = httpClient
	}
}

func (inv *Anthropic) client(req Request) *anthropic.Client {
	httpClient := inv.httpClient
	if req.RestrictDial {
		httpClient = safehttp.Client
	}
	return anthropic.NewClient(req.APIKey,
		anthropic.WithBaseURL(req.BaseURL),
		anthropic.WithHTTPClient(httpClient),
	)
}

// toMessagesRequest splits system messages out of the thread; the messages
// API carries them in a dedicated field.
func toMessagesRequest(req Request) *anthropic.MessagesRequest {
	out := &anthropic.MessagesRequest{
		Model:     req.Model,
		MaxTokens: anthropicDefaultMaxTokens,
	}
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			out.System = m.Content
			continue
		}
		out.Messages = append(out.Messages, anthropic.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// Complete implements Invoker.
func (inv *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := inv.client(req).CreateMessage(ctx, toMessagesRequest(req))
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Stream implements Invoker. Native text deltas are re-wrapped as
// chat-completions chunks so downstream consumers see one format.
func (inv *Anthropic) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	upstream, err := inv.client(req).StreamMessage(ctx, toMessagesRequest(req))
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for res := range upstream {
			if res.Err != nil {
				select {
				case out <- Chunk{Err: res.Err}:
				case <-ctx.Done():
				}
				return
			}
			if res.Event.Type != "content_block_delta" || res.Event.Delta.Text == "" {
				continue
			}
			data, err := json.Marshal(openai.ChatCompletionChunk{
				Object: "chat.completion.chunk",
				Model:  req.Model,
				Choices: []openai.ChunkChoice{
					{Delta: openai.Delta{Content: res.Event.Delta.Text}},
				},
			})
			if err != nil {
				continue
			}
			select {
			case out <- Chunk{Data: data}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// DecodeError implements Invoker.
func (inv *Anthropic) DecodeError(err error) (int, string) {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return status, apiErr.Message
	}
	return http.StatusInternalServerError, err.Error()
}
