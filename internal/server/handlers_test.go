package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/rdeshpande/chat-gateway/internal/chat"
	"github.com/rdeshpande/chat-gateway/internal/domain"
	"github.com/rdeshpande/chat-gateway/internal/llmconfig"
	"github.com/rdeshpande/chat-gateway/internal/provider"
	"github.com/rdeshpande/chat-gateway/internal/relay"
	"github.com/rdeshpande/chat-gateway/internal/storage/memory"
	"github.com/rdeshpande/chat-gateway/internal/vault"
)

type memVault struct {
	secrets map[string]vault.Secret
}

func (m *memVault) Store(ctx context.Context, tenant string, secret vault.Secret) (string, error) {
	token := uuid.New().String()
	m.secrets[token] = secret
	return token, nil
}

func (m *memVault) Retrieve(ctx context.Context, tenant, token string) (vault.Secret, error) {
	s, ok := m.secrets[token]
	if !ok {
		return vault.Secret{}, domain.ErrNotFound("config not found in vault")
	}
	return s, nil
}

func (m *memVault) Update(ctx context.Context, tenant, token string, secret vault.Secret) error {
	m.secrets[token] = secret
	return nil
}

func (m *memVault) Delete(ctx context.Context, tenant, token string) error {
	delete(m.secrets, token)
	return nil
}

type scriptedInvoker struct {
	text string
	err  error
}

func (s *scriptedInvoker) Complete(ctx context.Context, req provider.Request) (string, error) {
	return s.text, s.err
}

func (s *scriptedInvoker) Stream(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan provider.Chunk, len(s.text))
	for _, r := range s.text {
		data, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"delta": map[string]string{"content": string(r)}}},
		})
		ch <- provider.Chunk{Data: data}
	}
	close(ch)
	return ch, nil
}

func (s *scriptedInvoker) DecodeError(err error) (int, string) {
	return 401, "invalid_api_key"
}

type testEnv struct {
	srv *httptest.Server
	inv *scriptedInvoker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.New()
	mv := &memVault{secrets: make(map[string]vault.Secret)}
	resolver := llmconfig.NewResolver(store, mv, logger)

	inv := &scriptedInvoker{text: "Hello there"}
	reg := provider.NewRegistry()
	reg.Register("openai", inv)

	orch := chat.NewOrchestrator(resolver, store, reg, relay.New(logger), chat.WithLogger(logger))
	h := NewHandlers(orch, resolver, logger)
	s := New(Options{Port: 0}, h, logger)

	ts := httptest.NewServer(s.Router)
	t.Cleanup(ts.Close)
	return &testEnv{srv: ts, inv: inv}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", "user-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeData(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func (e *testEnv) createConfig(t *testing.T) {
	t.Helper()
	resp := e.do(t, "POST", "/chat/acme/config", map[string]any{
		"provider": "openai",
		"apiKey":   "sk-test",
		"models":   []string{"gpt-4o"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("create config: status %d body %s", resp.StatusCode, body)
	}
}

func TestChatStreamsNDJSON(t *testing.T) {
	e := newTestEnv(t)
	e.createConfig(t)

	resp := e.do(t, "POST", "/chat/acme", map[string]any{
		"provider": "openai",
		"model":    "gpt-4o",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-ndjson") {
		t.Errorf("Content-Type = %q", ct)
	}

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) < 2 {
		t.Fatalf("got %d lines", len(lines))
	}

	var accumulated string
	for _, line := range lines[:len(lines)-1] {
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		accumulated += chunk.Choices[0].Delta.Content
	}
	if accumulated != "Hello there" {
		t.Errorf("accumulated = %q", accumulated)
	}

	var sentinel struct {
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &sentinel); err != nil || sentinel.ConversationID == "" {
		t.Fatalf("terminal line = %q", lines[len(lines)-1])
	}

	// The transcript was persisted alongside the stream.
	resp = e.do(t, "GET", "/chat/acme/conversation/"+sentinel.ConversationID, nil)
	var thread []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	decodeData(t, resp, &thread)
	if len(thread) != 2 || thread[1].Content != "Hello there" {
		t.Errorf("thread = %+v", thread)
	}
}

func TestChatNonStreaming(t *testing.T) {
	e := newTestEnv(t)
	e.createConfig(t)

	resp := e.do(t, "POST", "/chat/acme", map[string]any{
		"provider": "openai",
		"model":    map[string]string{"id": "gpt-4o"}, // object form
		"stream":   false,
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Message        string `json:"message"`
		ConversationID string `json:"conversationId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Message != "Hello there" || out.ConversationID == "" {
		t.Errorf("response = %+v", out)
	}
}

func TestChatWithoutConfig(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, "POST", "/chat/acme", map[string]any{
		"provider": "openai",
		"model":    "gpt-4o",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(body.Error.Message, "LLM Config not found") {
		t.Errorf("message = %q", body.Error.Message)
	}
}

func TestChatUpstreamAuthFailure(t *testing.T) {
	e := newTestEnv(t)
	e.createConfig(t)
	e.inv.err = fmt.Errorf("API error (status 401): bad key")

	resp := e.do(t, "POST", "/chat/acme", map[string]any{
		"provider": "openai",
		"model":    "gpt-4o",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "invalid_api_key") {
		t.Errorf("body = %s", body)
	}
}

func TestChatRequiresUserIdentity(t *testing.T) {
	e := newTestEnv(t)

	req, _ := http.NewRequest("POST", e.srv.URL+"/chat/acme", strings.NewReader("{}"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestConversationLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.createConfig(t)

	resp := e.do(t, "POST", "/chat/acme", map[string]any{
		"provider": "openai",
		"model":    "gpt-4o",
		"stream":   false,
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	var out struct {
		ConversationID string `json:"conversationId"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()

	resp = e.do(t, "GET", "/chat/acme/conversation", nil)
	var conversations []struct {
		ID string `json:"id"`
	}
	decodeData(t, resp, &conversations)
	if len(conversations) != 1 || conversations[0].ID != out.ConversationID {
		t.Fatalf("conversations = %+v", conversations)
	}

	resp = e.do(t, "DELETE", "/chat/acme/conversation/"+out.ConversationID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp = e.do(t, "GET", "/chat/acme/conversation/"+out.ConversationID, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", resp.StatusCode)
	}
}

func TestProvidersAndModels(t *testing.T) {
	e := newTestEnv(t)
	e.createConfig(t)

	resp := e.do(t, "GET", "/chat/acme/providers", nil)
	var configured []struct {
		ID string `json:"id"`
	}
	decodeData(t, resp, &configured)
	if len(configured) != 1 || configured[0].ID != "openai" {
		t.Errorf("configured providers = %+v", configured)
	}

	resp = e.do(t, "GET", "/chat/acme/providers?filterByTenant=false", nil)
	var all []struct {
		ID string `json:"id"`
	}
	decodeData(t, resp, &all)
	if len(all) <= 1 {
		t.Errorf("catalog listing = %+v", all)
	}

	resp = e.do(t, "GET", "/chat/acme/providers/openai/models", nil)
	var models []struct {
		ID string `json:"id"`
	}
	decodeData(t, resp, &models)
	if len(models) != 1 || models[0].ID != "gpt-4o" {
		t.Errorf("models = %+v", models)
	}
}

func TestConfigListMasksSecrets(t *testing.T) {
	e := newTestEnv(t)
	e.createConfig(t)

	resp := e.do(t, "GET", "/chat/acme/config", nil)
	var configs []struct {
		APIKey string `json:"apiKey"`
	}
	decodeData(t, resp, &configs)
	if len(configs) != 1 {
		t.Fatalf("configs = %+v", configs)
	}
	if configs[0].APIKey != strings.Repeat("*", len("sk-test")) {
		t.Errorf("apiKey = %q, want masked", configs[0].APIKey)
	}
}

func newMultipart(t *testing.T, buf *bytes.Buffer, field, filename, content string) string {
	t.Helper()
	mw := multipart.NewWriter(buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return mw.FormDataContentType()
}

func TestUploadFileAccepted(t *testing.T) {
	e := newTestEnv(t)

	var buf bytes.Buffer
	mw := newMultipart(t, &buf, "file", "notes.pdf", "pdf bytes")

	req, _ := http.NewRequest("POST", e.srv.URL+"/chat/acme/upload-file", &buf)
	req.Header.Set("Content-Type", mw)
	req.Header.Set("X-User-Id", "user-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Get(e.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestMetricsExposed(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Get(e.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
