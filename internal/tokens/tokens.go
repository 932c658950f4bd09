// Package tokens estimates per-turn token usage. Counts use tiktoken
// encodings where the model is known and a bytes/4 heuristic otherwise; they
// feed logs and metrics, not billing.
package tokens

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/rdeshpande/chat-gateway/internal/domain"
	"github.com/rdeshpande/chat-gateway/internal/metrics"
)

// Estimator counts tokens for usage reporting.
type Estimator struct {
	logger *slog.Logger

	mu     sync.Mutex
	codecs map[string]tokenizer.Codec
}

// NewEstimator creates an Estimator. A nil logger uses the default.
func NewEstimator(logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{
		logger: logger,
		codecs: make(map[string]tokenizer.Codec),
	}
}

func (e *Estimator) codec(model string) tokenizer.Codec {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.codecs[model]; ok {
		return c
	}

	c, err := tokenizer.ForModel(tokenizer.Model(strings.ToLower(model)))
	if err != nil {
		// Non-OpenAI models have no registered encoding; cl100k is a close
		// enough proxy for usage estimates.
		c, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			c = nil
		}
	}
	e.codecs[model] = c
	return c
}

// Count estimates the token count of text for a model.
func (e *Estimator) Count(model, text string) int {
	if text == "" {
		return 0
	}
	if c := e.codec(model); c != nil {
		if n, err := c.Count(text); err == nil {
			return n
		}
	}
	return len(text) / 4
}

// RecordTurn logs and counts the estimated usage of one completed turn.
func (e *Estimator) RecordTurn(tenant, provider, model string, prompt []domain.Message, completion string) {
	var promptTokens int
	for _, m := range prompt {
		promptTokens += e.Count(model, m.Content)
	}
	completionTokens := e.Count(model, completion)

	m := metrics.Global()
	m.PromptTokens.WithLabelValues(provider, model).Add(float64(promptTokens))
	m.CompletionTokens.WithLabelValues(provider, model).Add(float64(completionTokens))

	e.logger.Info("turn usage",
		slog.String("tenant", tenant),
		slog.String("provider", provider),
		slog.String("model", model),
		slog.Int("prompt_tokens", promptTokens),
		slog.Int("completion_tokens", completionTokens))
}
