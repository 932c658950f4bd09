// Package catalog holds the static provider registry: for each supported
// provider its display name, base URL convention, and the models the gateway
// knows how to serve. The table is built once at init and never mutated.
package catalog

import "sort"

// Model describes a single model offered by a provider.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Provider describes a supported upstream provider.
type Provider struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	BaseURL string  `json:"-"`
	Models  []Model `json:"-"`

	// Keyless marks providers that require no API key (local models).
	Keyless bool `json:"-"`
}

// Document-chat turns are pinned to a reserved provider and model.
const (
	DocumentChatProvider = "openai"
	DocumentChatModel    = "gpt-4o"
)

// OllamaProvider is the self-hosted provider; its base URLs legitimately
// point at private addresses.
const OllamaProvider = "ollama"

var providers = map[string]Provider{
	"openai": {
		ID:      "openai",
		Name:    "OpenAI",
		BaseURL: "https://api.openai.com/v1",
		Models: []Model{
			{ID: "gpt-4o", Name: "GPT-4o", MaxTokens: 128000},
			{ID: "gpt-4o-mini", Name: "GPT-4o mini", MaxTokens: 128000},
			{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", MaxTokens: 128000},
			{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", MaxTokens: 16385},
		},
	},
	"anthropic": {
		ID:      "anthropic",
		Name:    "Anthropic",
		BaseURL: "https://api.anthropic.com",
		Models: []Model{
			{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", MaxTokens: 200000},
			{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", MaxTokens: 200000},
			{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", MaxTokens: 200000},
		},
	},
	"mistral": {
		ID:      "mistral",
		Name:    "Mistral",
		BaseURL: "https://api.mistral.ai/v1",
		Models: []Model{
			{ID: "mistral-large-latest", Name: "Mistral Large", MaxTokens: 128000},
			{ID: "mistral-small-latest", Name: "Mistral Small", MaxTokens: 32000},
			{ID: "open-mistral-7b", Name: "Open Mistral 7B", MaxTokens: 32000},
		},
	},
	"groq": {
		ID:      "groq",
		Name:    "Groq",
		BaseURL: "https://api.groq.com/openai/v1",
		Models: []Model{
			{ID: "llama-3.1-70b-versatile", Name: "Llama 3.1 70B", MaxTokens: 128000},
			{ID: "llama-3.1-8b-instant", Name: "Llama 3.1 8B", MaxTokens: 128000},
			{ID: "mixtral-8x7b-32768", Name: "Mixtral 8x7B", MaxTokens: 32768},
		},
	},
	"perplexity": {
		ID:      "perplexity",
		Name:    "Perplexity",
		BaseURL: "https://api.perplexity.ai",
		Models: []Model{
			{ID: "llama-3.1-sonar-large-128k-online", Name: "Sonar Large Online", MaxTokens: 128000},
			{ID: "llama-3.1-sonar-small-128k-online", Name: "Sonar Small Online", MaxTokens: 128000},
		},
	},
	"ollama": {
		ID:      "ollama",
		Name:    "Ollama",
		BaseURL: "http://localhost:11434/v1",
		Keyless: true,
		// Ollama serves whatever models are pulled locally; the catalog
		// cannot enumerate them, so model validation relies on tenant config.
		Models: []Model{},
	},
}

// Lookup returns the catalog entry for a provider id.
func Lookup(id string) (Provider, bool) {
	p, ok := providers[id]
	return p, ok
}

// Providers returns every catalog entry sorted by provider id.
func Providers() []Provider {
	out := make([]Provider, 0, len(providers))
	for _, p := range providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Models returns the model list for a provider id, nil if unknown.
func Models(id string) []Model {
	p, ok := providers[id]
	if !ok {
		return nil
	}
	return p.Models
}

// FindModel returns a provider's catalog entry for a model id.
func FindModel(providerID, modelID string) (Model, bool) {
	for _, m := range Models(providerID) {
		if m.ID == modelID {
			return m, true
		}
	}
	return Model{}, false
}

// Keyless reports whether a provider requires no API key.
func Keyless(id string) bool {
	p, ok := providers[id]
	return ok && p.Keyless
}
