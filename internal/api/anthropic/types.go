// Package anthropic provides wire types and an HTTP client for the Anthropic
// Messages API.
package anthropic

import (
	"encoding/json"
	"fmt"
)

// Message is one conversation message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MessagesRequest is a Messages API request.
type MessagesRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Stream    bool      `json:"stream,omitempty"`
}

// ContentPart is one block of response content.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// MessagesResponse is a complete (non-streaming) response.
type MessagesResponse struct {
	ID         string        `json:"id"`
	Role       string        `json:"role"`
	Content    []ContentPart `json:"content"`
	StopReason string        `json:"stop_reason"`
}

// Text returns the concatenated text content of the response.
func (r *MessagesResponse) Text() string {
	var out string
	for _, part := range r.Content {
		if part.Type == "text" || part.Type == "" {
			out += part.Text
		}
	}
	return out
}

// StreamEvent is a single SSE event from a streaming messages call.
type StreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index,omitempty"`
	Delta struct {
		Type string `json:"type,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"delta,omitempty"`
}

// APIError is the error payload of a failed upstream call.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`

	// HTTPStatus is the status code of the upstream response.
	HTTPStatus int `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

type errorResponse struct {
	Type  string    `json:"type"`
	Error *APIError `json:"error"`
}

// ParseErrorResponse parses an upstream error body.
func ParseErrorResponse(data []byte, status int) (*APIError, error) {
	var errResp errorResponse
	if err := json.Unmarshal(data, &errResp); err != nil {
		return nil, err
	}
	if errResp.Error == nil {
		return nil, nil
	}
	errResp.Error.HTTPStatus = status
	return errResp.Error, nil
}
