package provider

import (
	"net/http"
	"strings"
)

// Mistral speaks the same wire format as OpenAI but reports auth failures in
// its own way, so it carries its own error mapping.
type Mistral struct {
	*OpenAICompat
}

// NewMistral returns an invoker for the Mistral API.
func NewMistral(opts ...OpenAICompatOption) *Mistral {
	return &Mistral{OpenAICompat: NewOpenAICompat(opts...)}
}

// DecodeError implements Invoker. Mistral auth failures do not always arrive
// as a structured error body, so the mapping matches on message text.
func (inv *Mistral) DecodeError(err error) (int, string) {
	msg := err.Error()
	status := http.StatusBadRequest
	if strings.Contains(msg, "401") || strings.Contains(msg, "Unauthorized") {
		status = http.StatusUnauthorized
	}
	if strings.Contains(msg, "Unauthorized") {
		return status, "Unauthorized"
	}
	return status, msg
}
