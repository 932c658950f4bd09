// Package openai provides the wire types and HTTP client for
// chat-completions-style APIs. Several upstream providers (OpenAI, Groq,
// Perplexity, Mistral, Ollama) share this format.
package openai

import (
	"encoding/json"
	"fmt"
)

// ChatCompletionMessage is a single message in a completion request.
type ChatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamOptions controls streaming behavior.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// ChatCompletionRequest is a chat completion request.
type ChatCompletionRequest struct {
	Model         string                  `json:"model"`
	Messages      []ChatCompletionMessage `json:"messages"`
	Stream        bool                    `json:"stream,omitempty"`
	StreamOptions *StreamOptions          `json:"stream_options,omitempty"`
	MaxTokens     int                     `json:"max_tokens,omitempty"`
	Temperature   *float32                `json:"temperature,omitempty"`
}

// ChatCompletionResponse is a complete (non-streaming) response.
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int                   `json:"index"`
		Message      ChatCompletionMessage `json:"message"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
}

// Delta is the incremental payload of one streaming choice.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkChoice is one choice within a streaming chunk.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// ChatCompletionChunk is a single streaming chunk.
type ChatCompletionChunk struct {
	ID      string        `json:"id,omitempty"`
	Object  string        `json:"object,omitempty"`
	Created int64         `json:"created,omitempty"`
	Model   string        `json:"model,omitempty"`
	Choices []ChunkChoice `json:"choices"`
}

// APIError is the error payload of a failed upstream call.
type APIError struct {
	Type    string `json:"type,omitempty"`
	Code    any    `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`

	// HTTPStatus is the status code of the upstream response.
	HTTPStatus int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if code := e.CodeString(); code != "" {
		return fmt.Sprintf("%s: %s", code, e.Message)
	}
	return e.Message
}

// CodeString returns the error code as a string; upstreams send either a
// string or a number.
func (e *APIError) CodeString() string {
	switch c := e.Code.(type) {
	case string:
		return c
	case float64:
		return fmt.Sprintf("%d", int(c))
	default:
		return ""
	}
}

// ErrorResponse is the envelope upstream errors arrive in.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// ParseErrorResponse parses an upstream error body.
func ParseErrorResponse(data []byte, status int) (*APIError, error) {
	var errResp ErrorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	if errResp.Error == nil {
		return nil, nil
	}
	errResp.Error.HTTPStatus = status
	return errResp.Error, nil
}
