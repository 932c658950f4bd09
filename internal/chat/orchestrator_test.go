package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rdeshpande/chat-gateway/internal/catalog"
	"github.com/rdeshpande/chat-gateway/internal/domain"
	"github.com/rdeshpande/chat-gateway/internal/provider"
	"github.com/rdeshpande/chat-gateway/internal/relay"
	"github.com/rdeshpande/chat-gateway/internal/storage"
	"github.com/rdeshpande/chat-gateway/internal/storage/memory"
	"github.com/rdeshpande/chat-gateway/internal/vault"
)

// stubConfigs is a canned ConfigSource.
type stubConfigs struct {
	configs   []storage.ProviderConfig
	models    []catalog.Model
	modelsErr error
	secret    vault.Secret
	secretErr error
}

func (s *stubConfigs) ConfigsFor(ctx context.Context, tenant, provider string) ([]storage.ProviderConfig, error) {
	return s.configs, nil
}

func (s *stubConfigs) Secret(ctx context.Context, cfg storage.ProviderConfig) (vault.Secret, error) {
	return s.secret, s.secretErr
}

func (s *stubConfigs) Models(ctx context.Context, tenant, provider string, filterByTenant bool) ([]catalog.Model, error) {
	return s.models, s.modelsErr
}

// fakeInvoker records the request it receives and plays back canned output.
type fakeInvoker struct {
	completeText string
	chunks       []provider.Chunk
	err          error

	called bool
	gotReq provider.Request
}

func (f *fakeInvoker) Complete(ctx context.Context, req provider.Request) (string, error) {
	f.called = true
	f.gotReq = req
	return f.completeText, f.err
}

func (f *fakeInvoker) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	f.called = true
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan provider.Chunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeInvoker) DecodeError(err error) (int, string) {
	if strings.Contains(err.Error(), "401") {
		return 401, "invalid_api_key"
	}
	return 500, err.Error()
}

func contentChunk(t *testing.T, content string) provider.Chunk {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"choices": []map[string]any{{"delta": map[string]string{"content": content}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return provider.Chunk{Data: data}
}

type fixture struct {
	orch    *Orchestrator
	store   *memory.Store
	configs *stubConfigs
	inv     *fakeInvoker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	configs := &stubConfigs{
		configs: []storage.ProviderConfig{{
			ID:         "cfg-1",
			Tenant:     "acme",
			Provider:   "openai",
			Models:     []string{"gpt-4o"},
			VaultToken: "tok",
		}},
		models: []catalog.Model{{ID: "gpt-4o", Name: "GPT-4o"}},
		secret: vault.Secret{APIKey: "sk-test"},
	}
	inv := &fakeInvoker{}
	reg := provider.NewRegistry()
	reg.Register("openai", inv)

	return &fixture{
		orch:    NewOrchestrator(configs, store, reg, relay.New(nil)),
		store:   store,
		configs: configs,
		inv:     inv,
	}
}

func turnRequest(stream bool) Request {
	return Request{
		Tenant:   "acme",
		UserID:   "user-1",
		Provider: "openai",
		Model:    "gpt-4o",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "What is the answer?"}},
		Stream:   stream,
	}
}

func TestStreamingTurnPersistsBothMessages(t *testing.T) {
	f := newFixture(t)
	f.inv.chunks = []provider.Chunk{contentChunk(t, "The answer "), contentChunk(t, "is 42.")}
	ctx := context.Background()

	turn, err := f.orch.Execute(ctx, turnRequest(true))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var buf bytes.Buffer
	if err := f.orch.Relay(ctx, turn, &buf); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	thread, err := f.store.Thread(ctx, turn.ConversationID)
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	if len(thread) != 2 {
		t.Fatalf("thread has %d messages, want 2", len(thread))
	}
	if thread[0].Role != domain.RoleUser || thread[0].Content != "What is the answer?" {
		t.Errorf("first message = %+v", thread[0])
	}
	if thread[1].Role != domain.RoleAssistant || thread[1].Content != "The answer is 42." {
		t.Errorf("second message = %+v", thread[1])
	}

	if !strings.Contains(buf.String(), `"conversationId":"`+turn.ConversationID+`"`) {
		t.Error("relayed output missing terminal conversation line")
	}
}

func TestNewConversationTitleFromFirstMessage(t *testing.T) {
	f := newFixture(t)
	f.inv.chunks = []provider.Chunk{contentChunk(t, "ok")}
	ctx := context.Background()

	long := strings.Repeat("x", 80)
	req := turnRequest(true)
	req.Messages = []domain.Message{{Role: domain.RoleUser, Content: "  " + long}}

	turn, err := f.orch.Execute(ctx, req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	conv, err := f.store.GetConversation(ctx, turn.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.Title != strings.Repeat("x", 50) {
		t.Errorf("title = %q (len %d)", conv.Title, len(conv.Title))
	}
	if conv.Provider != "openai" || conv.Model != "gpt-4o" {
		t.Errorf("conversation tagged %s/%s", conv.Provider, conv.Model)
	}
}

func TestModelNotAllowedSkipsUpstream(t *testing.T) {
	f := newFixture(t)
	req := turnRequest(true)
	req.Model = "gpt-3.5"

	_, err := f.orch.Execute(context.Background(), req)
	var gwErr *domain.Error
	if !errors.As(err, &gwErr) || gwErr.HTTPStatusCode() != 400 {
		t.Fatalf("expected 400, got %v", err)
	}
	if gwErr.Message != "Model not allowed" {
		t.Errorf("message = %q", gwErr.Message)
	}
	if f.inv.called {
		t.Error("upstream was called despite model rejection")
	}
}

func TestNoConfigs(t *testing.T) {
	f := newFixture(t)
	f.configs.configs = nil

	_, err := f.orch.Execute(context.Background(), turnRequest(true))
	var gwErr *domain.Error
	if !errors.As(err, &gwErr) || gwErr.HTTPStatusCode() != 400 {
		t.Fatalf("expected 400, got %v", err)
	}
	if !strings.Contains(gwErr.Message, "LLM Config not found") {
		t.Errorf("message = %q", gwErr.Message)
	}

	// With a conversation id the wording changes.
	req := turnRequest(true)
	req.ConversationID = "conv-1"
	_, err = f.orch.Execute(context.Background(), req)
	if !errors.As(err, &gwErr) || !strings.Contains(gwErr.Message, "no longer available") {
		t.Errorf("got %v", err)
	}
}

func TestMissingProviderAndModel(t *testing.T) {
	f := newFixture(t)

	for _, req := range []Request{
		{Tenant: "acme", UserID: "u", Model: "gpt-4o", Messages: []domain.Message{{Role: "user", Content: "hi"}}},
		{Tenant: "acme", UserID: "u", Provider: "openai", Messages: []domain.Message{{Role: "user", Content: "hi"}}},
	} {
		_, err := f.orch.Execute(context.Background(), req)
		var gwErr *domain.Error
		if !errors.As(err, &gwErr) || gwErr.Kind != domain.ErrorKindValidation {
			t.Errorf("expected validation error, got %v", err)
		}
	}
}

func TestConversationNotFound(t *testing.T) {
	f := newFixture(t)
	req := turnRequest(true)
	req.ConversationID = "missing"

	_, err := f.orch.Execute(context.Background(), req)
	var gwErr *domain.Error
	if !errors.As(err, &gwErr) || gwErr.HTTPStatusCode() != 404 {
		t.Fatalf("expected 404, got %v", err)
	}
	if gwErr.Message != "Conversation not found" {
		t.Errorf("message = %q", gwErr.Message)
	}
}

func TestConversationOwnedByAnotherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, _ := f.store.CreateConversation(ctx, "acme", "someone-else", "t", "openai", "gpt-4o")
	req := turnRequest(true)
	req.ConversationID = conv.ID

	_, err := f.orch.Execute(ctx, req)
	var gwErr *domain.Error
	if !errors.As(err, &gwErr) || gwErr.HTTPStatusCode() != 403 {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestUpstreamFailureKeepsUserMessage(t *testing.T) {
	f := newFixture(t)
	f.inv.err = errors.New("API error (status 401): bad key")
	ctx := context.Background()

	_, err := f.orch.Execute(ctx, turnRequest(true))
	var gwErr *domain.Error
	if !errors.As(err, &gwErr) || gwErr.HTTPStatusCode() != 401 {
		t.Fatalf("expected decoded 401, got %v", err)
	}
	if gwErr.Message != "invalid_api_key" {
		t.Errorf("message = %q", gwErr.Message)
	}

	// The user's message was persisted before the upstream call.
	convs, _ := f.store.ListConversations(ctx, "acme", "user-1")
	if len(convs) != 1 {
		t.Fatalf("got %d conversations", len(convs))
	}
	thread, _ := f.store.Thread(ctx, convs[0].ID)
	if len(thread) != 1 || thread[0].Role != domain.RoleUser {
		t.Errorf("thread = %+v", thread)
	}
}

func TestMidStreamErrorPersistsPartial(t *testing.T) {
	f := newFixture(t)
	f.inv.chunks = []provider.Chunk{
		contentChunk(t, "partial "),
		{Err: errors.New("connection reset")},
	}
	ctx := context.Background()

	turn, err := f.orch.Execute(ctx, turnRequest(true))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var buf bytes.Buffer
	if err := f.orch.Relay(ctx, turn, &buf); err == nil {
		t.Fatal("expected relay error")
	}

	thread, _ := f.store.Thread(ctx, turn.ConversationID)
	if len(thread) != 2 || thread[1].Content != "partial " {
		t.Errorf("thread = %+v", thread)
	}
	if !strings.Contains(buf.String(), `"conversationId"`) {
		t.Error("terminal line missing after stream error")
	}
}

func TestEmptyStreamSkipsAssistantMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	turn, err := f.orch.Execute(ctx, turnRequest(true))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var buf bytes.Buffer
	if err := f.orch.Relay(ctx, turn, &buf); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	thread, _ := f.store.Thread(ctx, turn.ConversationID)
	if len(thread) != 1 {
		t.Errorf("expected only the user message, got %+v", thread)
	}
}

func TestNonStreamingTurn(t *testing.T) {
	f := newFixture(t)
	f.inv.completeText = "Hello!"
	ctx := context.Background()

	turn, err := f.orch.Execute(ctx, turnRequest(false))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if turn.Streaming {
		t.Error("turn marked streaming")
	}
	if turn.Message != "Hello!" {
		t.Errorf("Message = %q", turn.Message)
	}

	thread, _ := f.store.Thread(ctx, turn.ConversationID)
	if len(thread) != 2 || thread[1].Content != "Hello!" {
		t.Errorf("thread = %+v", thread)
	}
}

func TestDocumentChatPinsProviderAndModel(t *testing.T) {
	f := newFixture(t)
	f.configs.configs = []storage.ProviderConfig{{
		ID:           "cfg-doc",
		Tenant:       "acme",
		Provider:     "openai",
		DocumentChat: true,
		VaultToken:   "tok",
	}}
	f.inv.chunks = []provider.Chunk{contentChunk(t, "doc answer")}
	ctx := context.Background()

	req := Request{
		Tenant:       "acme",
		UserID:       "user-1",
		DocumentChat: true,
		Messages:     []domain.Message{{Role: domain.RoleUser, Content: "summarize"}},
		Stream:       true,
	}
	turn, err := f.orch.Execute(ctx, req)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if f.inv.gotReq.Model != catalog.DocumentChatModel {
		t.Errorf("model = %q, want pinned %q", f.inv.gotReq.Model, catalog.DocumentChatModel)
	}

	conv, _ := f.store.GetConversation(ctx, turn.ConversationID)
	if conv.Provider != catalog.DocumentChatProvider {
		t.Errorf("conversation provider = %q", conv.Provider)
	}
}

func TestDocumentChatRequiresDocumentConfig(t *testing.T) {
	f := newFixture(t)
	// Only a regular config exists.
	req := Request{
		Tenant:       "acme",
		UserID:       "user-1",
		DocumentChat: true,
		Messages:     []domain.Message{{Role: domain.RoleUser, Content: "summarize"}},
		Stream:       true,
	}

	_, err := f.orch.Execute(context.Background(), req)
	var gwErr *domain.Error
	if !errors.As(err, &gwErr) || gwErr.Message != "No config found for chat with Document" {
		t.Fatalf("got %v", err)
	}
}

func TestDeleteConversationChecksOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, _ := f.store.CreateConversation(ctx, "acme", "user-1", "t", "openai", "gpt-4o")
	f.store.AppendMessage(ctx, conv.ID, domain.RoleUser, "hi")

	if err := f.orch.DeleteConversation(ctx, "acme", "intruder", conv.ID); err == nil {
		t.Fatal("expected forbidden")
	}
	if err := f.orch.DeleteConversation(ctx, "acme", "user-1", conv.ID); err != nil {
		t.Fatalf("owner delete failed: %v", err)
	}
	if _, err := f.store.GetConversation(ctx, conv.ID); err == nil {
		t.Error("conversation still present")
	}
}

func TestThreadChecksOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, _ := f.store.CreateConversation(ctx, "acme", "user-1", "t", "openai", "gpt-4o")

	_, err := f.orch.Thread(ctx, "acme", "intruder", conv.ID)
	var gwErr *domain.Error
	if !errors.As(err, &gwErr) || gwErr.HTTPStatusCode() != 403 {
		t.Fatalf("expected 403, got %v", err)
	}
}
