// Package chat sequences one chat turn: resolve the tenant's provider
// credentials, validate the model, resolve or create the conversation,
// persist the user message, invoke the provider, relay the stream, and
// persist the assistant reply.
package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rdeshpande/chat-gateway/internal/catalog"
	"github.com/rdeshpande/chat-gateway/internal/domain"
	"github.com/rdeshpande/chat-gateway/internal/metrics"
	"github.com/rdeshpande/chat-gateway/internal/provider"
	"github.com/rdeshpande/chat-gateway/internal/relay"
	"github.com/rdeshpande/chat-gateway/internal/storage"
	"github.com/rdeshpande/chat-gateway/internal/tokens"
	"github.com/rdeshpande/chat-gateway/internal/vault"
)

const defaultProviderTimeout = 120 * time.Second

// ConfigSource is the credential-resolution surface the orchestrator needs.
type ConfigSource interface {
	ConfigsFor(ctx context.Context, tenant, provider string) ([]storage.ProviderConfig, error)
	Secret(ctx context.Context, cfg storage.ProviderConfig) (vault.Secret, error)
	Models(ctx context.Context, tenant, provider string, filterByTenant bool) ([]catalog.Model, error)
}

// InvokerSource selects the invoker for a provider id.
type InvokerSource interface {
	Invoker(providerID string) (provider.Invoker, error)
}

// Request is one inbound chat turn.
type Request struct {
	Tenant         string
	UserID         string
	Provider       string
	Model          string
	ConversationID string
	Messages       []domain.Message
	DocumentChat   bool
	Stream         bool
}

// Turn is the in-flight result of a turn once the upstream call has begun.
// For non-streaming turns Message holds the persisted assistant reply; for
// streaming turns the caller drives Relay.
type Turn struct {
	ConversationID string
	Message        string
	Streaming      bool

	tenant   string
	provider string
	model    string
	prompt   []domain.Message
	inv      provider.Invoker
	chunks   <-chan provider.Chunk
	cancel   context.CancelFunc
	started  time.Time
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithProviderTimeout caps how long one upstream call (including streaming)
// may run.
func WithProviderTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithUsage enables per-turn token usage recording.
func WithUsage(est *tokens.Estimator) Option {
	return func(o *Orchestrator) { o.usage = est }
}

// Orchestrator runs the chat turn state machine.
type Orchestrator struct {
	configs  ConfigSource
	store    storage.ConversationStore
	invokers InvokerSource
	relay    *relay.Relay
	usage    *tokens.Estimator
	logger   *slog.Logger
	timeout  time.Duration
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(configs ConfigSource, store storage.ConversationStore, invokers InvokerSource, r *relay.Relay, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		configs:  configs,
		store:    store,
		invokers: invokers,
		relay:    r,
		logger:   slog.Default(),
		timeout:  defaultProviderTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs a turn up to and including the start of the upstream call.
// Non-streaming turns complete fully, assistant message persisted; streaming
// turns return with the chunk channel open, to be drained via Relay. Errors
// are typed: upstream failures arrive already decoded to a status and
// client-safe message.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Turn, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	providerID, model := req.Provider, req.Model
	if req.DocumentChat {
		providerID, model = catalog.DocumentChatProvider, catalog.DocumentChatModel
	}

	cfg, err := o.resolveConfig(ctx, req, providerID, model)
	if err != nil {
		return nil, err
	}

	secret, err := o.configs.Secret(ctx, cfg)
	if err != nil {
		return nil, err
	}

	conversationID, err := o.resolveConversation(ctx, req, providerID, model)
	if err != nil {
		return nil, err
	}

	// The user's input survives any upstream failure past this point.
	userContent := req.Messages[len(req.Messages)-1].Content
	if _, err := o.store.AppendMessage(ctx, conversationID, domain.RoleUser, userContent); err != nil {
		return nil, err
	}

	inv, err := o.invokers.Invoker(providerID)
	if err != nil {
		return nil, err
	}

	turn := &Turn{
		ConversationID: conversationID,
		Streaming:      req.Stream,
		tenant:         req.Tenant,
		provider:       providerID,
		model:          model,
		prompt:         req.Messages,
		inv:            inv,
		started:        time.Now(),
	}
	baseURL, restrictDial := resolveBaseURL(secret, cfg)
	invReq := provider.Request{
		Model:        model,
		Messages:     req.Messages,
		APIKey:       secret.APIKey,
		BaseURL:      baseURL,
		RestrictDial: restrictDial,
	}

	if !req.Stream {
		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		message, err := inv.Complete(callCtx, invReq)
		if err != nil {
			o.recordFailure(providerID)
			return nil, decode(inv, err)
		}
		if message != "" {
			persistCtx := context.WithoutCancel(ctx)
			if _, err := o.store.AppendMessage(persistCtx, conversationID, domain.RoleAssistant, message); err != nil {
				return nil, err
			}
		}
		turn.Message = message
		o.finish(turn, message)
		return turn, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	chunks, err := inv.Stream(callCtx, invReq)
	if err != nil {
		cancel()
		o.recordFailure(providerID)
		return nil, decode(inv, err)
	}
	turn.chunks = chunks
	turn.cancel = cancel
	return turn, nil
}

// Relay drains a streaming turn into w, then persists whatever the stream
// produced. It is called after the response status has been committed, so a
// mid-stream failure is returned for logging, not for rewriting the response.
func (o *Orchestrator) Relay(ctx context.Context, turn *Turn, w io.Writer) error {
	defer turn.cancel()

	accumulated, streamErr := o.relay.Run(ctx, turn.chunks, w, turn.ConversationID)

	// Persistence must survive a client disconnect: the turn happened even if
	// nobody watched it finish.
	if accumulated != "" {
		persistCtx := context.WithoutCancel(ctx)
		if err := appendAssistant(persistCtx, o.store, turn.ConversationID, accumulated); err != nil {
			o.logger.Error("failed to persist assistant message",
				slog.String("conversation_id", turn.ConversationID),
				slog.String("error", err.Error()))
		}
	}

	if streamErr != nil {
		o.recordFailure(turn.provider)
		status, msg := turn.inv.DecodeError(streamErr)
		return domain.ErrUpstream(status, msg)
	}

	o.finish(turn, accumulated)
	return nil
}

// Thread returns a conversation's transcript after checking the caller owns
// it.
func (o *Orchestrator) Thread(ctx context.Context, tenant, userID, conversationID string) ([]storage.ChatMessage, error) {
	if _, err := o.authorize(ctx, tenant, userID, conversationID); err != nil {
		return nil, err
	}
	return o.store.Thread(ctx, conversationID)
}

// Conversations lists the caller's conversations, most recent first.
func (o *Orchestrator) Conversations(ctx context.Context, tenant, userID string) ([]storage.Conversation, error) {
	return o.store.ListConversations(ctx, tenant, userID)
}

// DeleteConversation removes a conversation and its messages after checking
// the caller owns it.
func (o *Orchestrator) DeleteConversation(ctx context.Context, tenant, userID, conversationID string) error {
	if _, err := o.authorize(ctx, tenant, userID, conversationID); err != nil {
		return err
	}
	return o.store.DeleteConversation(ctx, conversationID)
}

func (o *Orchestrator) authorize(ctx context.Context, tenant, userID, conversationID string) (storage.Conversation, error) {
	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return storage.Conversation{}, err
	}
	if conv.Tenant != tenant || conv.UserID != userID {
		return storage.Conversation{}, domain.ErrForbidden("you do not have access to this conversation")
	}
	return conv, nil
}

func validate(req Request) error {
	if !req.DocumentChat {
		if req.Provider == "" {
			return domain.ErrValidation("Provider is required")
		}
		if req.Model == "" {
			return domain.ErrValidation("Model is required")
		}
	}
	if len(req.Messages) == 0 {
		return domain.ErrValidation("Messages are required")
	}
	return nil
}

func (o *Orchestrator) resolveConfig(ctx context.Context, req Request, providerID, model string) (storage.ProviderConfig, error) {
	configs, err := o.configs.ConfigsFor(ctx, req.Tenant, providerID)
	if err != nil {
		return storage.ProviderConfig{}, err
	}
	if len(configs) == 0 {
		if req.ConversationID != "" {
			return storage.ProviderConfig{}, domain.ErrValidation("The provider and model related to this conversation are no longer available.")
		}
		return storage.ProviderConfig{}, domain.ErrValidation("LLM Config not found. Please create one before using LLM.")
	}

	if req.DocumentChat {
		for _, cfg := range configs {
			if cfg.DocumentChat {
				return cfg, nil
			}
		}
		return storage.ProviderConfig{}, domain.ErrValidation("No config found for chat with Document")
	}

	if err := o.validateModel(ctx, req, providerID, model); err != nil {
		return storage.ProviderConfig{}, err
	}

	for _, cfg := range configs {
		for _, m := range cfg.Models {
			if m == model {
				return cfg, nil
			}
		}
	}
	return configs[0], nil
}

// validateModel rejects models outside the tenant's allowed set. An empty
// allowed set means the tenant did not constrain models for this provider.
func (o *Orchestrator) validateModel(ctx context.Context, req Request, providerID, model string) error {
	allowed, err := o.configs.Models(ctx, req.Tenant, providerID, true)
	if err != nil {
		var gwErr *domain.Error
		if errors.As(err, &gwErr) && gwErr.Kind == domain.ErrorKindNotFound {
			return nil
		}
		return err
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, m := range allowed {
		if m.ID == model {
			return nil
		}
	}
	if req.ConversationID != "" {
		return domain.ErrValidation("The provider and model related to this conversation are no longer available.")
	}
	return domain.ErrValidation("Model not allowed")
}

func (o *Orchestrator) resolveConversation(ctx context.Context, req Request, providerID, model string) (string, error) {
	if req.ConversationID != "" {
		conv, err := o.store.GetConversation(ctx, req.ConversationID)
		if err != nil {
			var gwErr *domain.Error
			if errors.As(err, &gwErr) && gwErr.Kind == domain.ErrorKindNotFound {
				return "", domain.ErrNotFound("Conversation not found")
			}
			return "", err
		}
		if conv.Tenant != req.Tenant || conv.UserID != req.UserID {
			return "", domain.ErrForbidden("you do not have access to this conversation")
		}
		return conv.ID, nil
	}

	conv, err := o.store.CreateConversation(ctx, req.Tenant, req.UserID,
		titleFrom(req.Messages[0].Content), providerID, model)
	if err != nil {
		return "", err
	}
	return conv.ID, nil
}

// titleFrom derives a conversation title from the opening message.
func titleFrom(content string) string {
	title := []rune(strings.TrimSpace(content))
	if len(title) > 50 {
		title = title[:50]
	}
	return string(title)
}

// resolveBaseURL picks the upstream endpoint: secret override, then config
// override, then the catalog default. Tenant-supplied URLs are flagged so the
// invoker refuses dials into the gateway's own network; ollama is exempt
// because pointing it at a self-hosted address is its normal use.
func resolveBaseURL(secret vault.Secret, cfg storage.ProviderConfig) (string, bool) {
	tenantSupplied := cfg.Provider != catalog.OllamaProvider
	if secret.BaseURL != "" {
		return secret.BaseURL, tenantSupplied
	}
	if cfg.BaseURL != "" {
		return cfg.BaseURL, tenantSupplied
	}
	if p, ok := catalog.Lookup(cfg.Provider); ok {
		return p.BaseURL, false
	}
	return "", false
}

func decode(inv provider.Invoker, err error) error {
	var gwErr *domain.Error
	if errors.As(err, &gwErr) {
		return err
	}
	status, msg := inv.DecodeError(err)
	return domain.ErrUpstream(status, msg)
}

func appendAssistant(ctx context.Context, store storage.ConversationStore, conversationID, content string) error {
	_, err := store.AppendMessage(ctx, conversationID, domain.RoleAssistant, content)
	return err
}

func (o *Orchestrator) finish(turn *Turn, completion string) {
	m := metrics.Global()
	m.TurnsTotal.WithLabelValues(turn.provider, turn.model).Inc()
	m.TurnDuration.WithLabelValues(turn.provider).Observe(time.Since(turn.started).Seconds())
	if o.usage != nil {
		o.usage.RecordTurn(turn.tenant, turn.provider, turn.model, turn.prompt, completion)
	}
}

func (o *Orchestrator) recordFailure(providerID string) {
	metrics.Global().TurnErrorsTotal.WithLabelValues(providerID).Inc()
}
