// Package relay forwards provider stream chunks to HTTP clients as
// newline-delimited JSON while accumulating the full assistant reply for
// persistence.
package relay

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/kaptinlin/jsonrepair"

	"github.com/rdeshpande/chat-gateway/internal/api/openai"
	"github.com/rdeshpande/chat-gateway/internal/provider"
)

// Relay streams chunks to a writer in NDJSON form.
type Relay struct {
	logger *slog.Logger
}

// New creates a relay. A nil logger disables logging.
func New(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Relay{logger: logger}
}

type sentinel struct {
	ConversationID string `json:"conversationId"`
}

// Run forwards chunks to w until the stream ends, then writes the terminal
// conversation-id line. It returns the accumulated assistant text, which
// always matches what was relayed, and the stream error if one cut the relay
// short.
//
// Chunks that decode to no content are dropped, as is a leading "\n" delta
// (some upstreams emit one before the real reply). Malformed chunk JSON is
// repaired when possible and otherwise skipped; a bad chunk never ends the
// stream.
func (r *Relay) Run(ctx context.Context, chunks <-chan provider.Chunk, w io.Writer, conversationID string) (string, error) {
	flusher, _ := w.(http.Flusher)

	var accumulated string
	var streamErr error
	first := true

	for chunk := range chunks {
		if chunk.Err != nil {
			streamErr = chunk.Err
			break
		}
		if ctx.Err() != nil {
			streamErr = ctx.Err()
			break
		}

		parsed, ok := r.decode(chunk.Data)
		if !ok {
			continue
		}
		content := chunkContent(parsed)
		if content == "" {
			continue
		}
		if first && content == "\n" {
			first = false
			continue
		}
		first = false
		accumulated += content

		line, err := json.Marshal(parsed)
		if err != nil {
			continue
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			streamErr = err
			break
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	// The terminal line goes out even after a mid-stream failure so the
	// client learns which conversation the partial reply belongs to.
	if line, err := json.Marshal(sentinel{ConversationID: conversationID}); err == nil {
		if _, err := w.Write(append(line, '\n')); err == nil && flusher != nil {
			flusher.Flush()
		}
	}

	return accumulated, streamErr
}

func (r *Relay) decode(data []byte) (*openai.ChatCompletionChunk, bool) {
	var chunk openai.ChatCompletionChunk
	if err := json.Unmarshal(data, &chunk); err == nil {
		return &chunk, true
	}

	repaired, err := jsonrepair.JSONRepair(string(data))
	if err != nil {
		r.logger.Warn("dropping unparseable stream chunk", "error", err)
		return nil, false
	}
	if err := json.Unmarshal([]byte(repaired), &chunk); err != nil {
		r.logger.Warn("dropping unparseable stream chunk", "error", err)
		return nil, false
	}
	return &chunk, true
}

func chunkContent(chunk *openai.ChatCompletionChunk) string {
	if len(chunk.Choices) == 0 {
		return ""
	}
	return chunk.Choices[0].Delta.Content
}
