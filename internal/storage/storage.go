// Package storage defines the persistence interfaces the gateway consumes and
// the entities they operate on. Implementations live in subpackages; the
// orchestrator and config resolver depend only on these interfaces.
package storage

import (
	"context"
	"time"
)

// Conversation is one user's chat thread within a tenant. Immutable after
// creation except for its message list.
type Conversation struct {
	ID        string    `json:"id"`
	Tenant    string    `json:"tenant"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatMessage is one append-only entry in a conversation's transcript.
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ProviderConfig maps a tenant to a provider credential set. The API key is
// never stored here; VaultToken references the secret in the vault.
type ProviderConfig struct {
	ID           string    `json:"id"`
	Tenant       string    `json:"tenant"`
	Provider     string    `json:"provider"`
	BaseURL      string    `json:"baseURL"`
	Models       []string  `json:"models"`
	VaultToken   string    `json:"-"`
	DocumentChat bool      `json:"isDocumentChatProvider"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ConfigUpdate carries the non-secret fields applied on config update.
type ConfigUpdate struct {
	Provider string
	BaseURL  string
	Models   []string
}

// ConversationStore persists conversations and their messages.
//
// Lookups for absent rows return a domain not-found error. Access control is
// the orchestrator's job, not the store's.
type ConversationStore interface {
	// CreateConversation creates a conversation and returns it with id and
	// creation time assigned.
	CreateConversation(ctx context.Context, tenant, userID, title, provider, model string) (Conversation, error)

	// GetConversation returns a conversation by id.
	GetConversation(ctx context.Context, id string) (Conversation, error)

	// ListConversations returns a tenant user's conversations, most recent
	// first.
	ListConversations(ctx context.Context, tenant, userID string) ([]Conversation, error)

	// DeleteConversation removes a conversation and all of its messages.
	DeleteConversation(ctx context.Context, id string) error

	// AppendMessage appends one message to a conversation's transcript.
	AppendMessage(ctx context.Context, conversationID, role, content string) (ChatMessage, error)

	// Thread returns a conversation's messages ordered oldest first, ties
	// broken by insertion order.
	Thread(ctx context.Context, conversationID string) ([]ChatMessage, error)
}

// ConfigStore persists tenant provider configs.
type ConfigStore interface {
	CreateConfig(ctx context.Context, cfg ProviderConfig) (ProviderConfig, error)
	GetConfig(ctx context.Context, id string) (ProviderConfig, error)
	ListConfigs(ctx context.Context, tenant string) ([]ProviderConfig, error)
	ListConfigsByProvider(ctx context.Context, tenant, provider string) ([]ProviderConfig, error)
	UpdateConfig(ctx context.Context, id string, update ConfigUpdate) error
	DeleteConfig(ctx context.Context, id, tenant string) error
}

// Store is the full persistence surface the gateway needs from one backend.
type Store interface {
	ConversationStore
	ConfigStore
}
