// Package memory provides an in-memory Store used by tests and single-process
// deployments without durable storage.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rdeshpande/chat-gateway/internal/domain"
	"github.com/rdeshpande/chat-gateway/internal/storage"
)

type conversation struct {
	storage.Conversation
	seq int64
}

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu            sync.RWMutex
	seq           int64
	conversations map[string]conversation
	messages      map[string][]storage.ChatMessage
	configs       map[string]storage.ProviderConfig
	configSeq     map[string]int64
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		conversations: make(map[string]conversation),
		messages:      make(map[string][]storage.ChatMessage),
		configs:       make(map[string]storage.ProviderConfig),
		configSeq:     make(map[string]int64),
	}
}

func (s *Store) CreateConversation(ctx context.Context, tenant, userID, title, provider, model string) (storage.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	conv := storage.Conversation{
		ID:        uuid.New().String(),
		Tenant:    tenant,
		UserID:    userID,
		Title:     title,
		Provider:  provider,
		Model:     model,
		CreatedAt: time.Now().UTC(),
	}
	s.conversations[conv.ID] = conversation{Conversation: conv, seq: s.seq}
	s.messages[conv.ID] = nil
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (storage.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return storage.Conversation{}, domain.ErrNotFound("conversation not found")
	}
	return conv.Conversation, nil
}

func (s *Store) ListConversations(ctx context.Context, tenant, userID string) ([]storage.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []conversation
	for _, conv := range s.conversations {
		if conv.Tenant == tenant && conv.UserID == userID {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].seq > out[j].seq
	})

	convs := make([]storage.Conversation, len(out))
	for i, c := range out {
		convs[i] = c.Conversation
	}
	return convs, nil
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return domain.ErrNotFound("conversation not found")
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) (storage.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return storage.ChatMessage{}, domain.ErrNotFound("conversation not found")
	}

	msg := storage.ChatMessage{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return msg, nil
}

func (s *Store) Thread(ctx context.Context, conversationID string) ([]storage.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, domain.ErrNotFound("conversation not found")
	}

	// Messages are held in insertion order, which is also createdAt order.
	msgs := s.messages[conversationID]
	out := make([]storage.ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *Store) CreateConfig(ctx context.Context, cfg storage.ProviderConfig) (storage.ProviderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	cfg.ID = uuid.New().String()
	cfg.CreatedAt = time.Now().UTC()
	s.configs[cfg.ID] = cfg
	s.configSeq[cfg.ID] = s.seq
	return cfg, nil
}

func (s *Store) GetConfig(ctx context.Context, id string) (storage.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[id]
	if !ok {
		return storage.ProviderConfig{}, domain.ErrNotFound("config not found")
	}
	return cfg, nil
}

func (s *Store) ListConfigs(ctx context.Context, tenant string) ([]storage.ProviderConfig, error) {
	return s.listConfigs(tenant, "")
}

func (s *Store) ListConfigsByProvider(ctx context.Context, tenant, provider string) ([]storage.ProviderConfig, error) {
	return s.listConfigs(tenant, provider)
}

func (s *Store) listConfigs(tenant, provider string) ([]storage.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.ProviderConfig
	for _, cfg := range s.configs {
		if cfg.Tenant != tenant {
			continue
		}
		if provider != "" && cfg.Provider != provider {
			continue
		}
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.configSeq[out[i].ID] < s.configSeq[out[j].ID]
	})
	return out, nil
}

func (s *Store) UpdateConfig(ctx context.Context, id string, update storage.ConfigUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[id]
	if !ok {
		return domain.ErrNotFound("config not found")
	}
	if update.Provider != "" {
		cfg.Provider = update.Provider
	}
	if update.BaseURL != "" {
		cfg.BaseURL = update.BaseURL
	}
	if update.Models != nil {
		cfg.Models = update.Models
	}
	s.configs[id] = cfg
	return nil
}

func (s *Store) DeleteConfig(ctx context.Context, id, tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[id]
	if !ok || cfg.Tenant != tenant {
		return domain.ErrNotFound("config not found")
	}
	delete(s.configs, id)
	delete(s.configSeq, id)
	return nil
}
