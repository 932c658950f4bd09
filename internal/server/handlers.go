package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rdeshpande/chat-gateway/internal/chat"
	"github.com/rdeshpande/chat-gateway/internal/domain"
	"github.com/rdeshpande/chat-gateway/internal/llmconfig"
)

const maxUploadBytes = 32 << 20

// Handlers holds the HTTP handlers for the chat surface.
type Handlers struct {
	orch     *chat.Orchestrator
	resolver *llmconfig.Resolver
	logger   *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(orch *chat.Orchestrator, resolver *llmconfig.Resolver, logger *slog.Logger) *Handlers {
	return &Handlers{orch: orch, resolver: resolver, logger: logger}
}

// modelField accepts a model as either a plain string or an object carrying
// an id, which is how older clients send it.
type modelField string

func (m *modelField) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = modelField(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*m = modelField(obj.ID)
	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages       []chatMessage `json:"messages"`
	Model          modelField    `json:"model"`
	Provider       string        `json:"provider"`
	ConversationID string        `json:"conversationId"`
	DocumentChat   bool          `json:"isDocumentChatProvider"`
	Stream         *bool         `json:"stream"`
}

// userID extracts the opaque user identity resolved by the fronting auth
// layer.
func userID(r *http.Request) (string, error) {
	id := r.Header.Get("X-User-Id")
	if id == "" {
		return "", domain.ErrForbidden("missing user identity")
	}
	return id, nil
}

func filterByTenant(r *http.Request) bool {
	return r.URL.Query().Get("filterByTenant") != "false"
}

// Chat runs one chat turn, streaming the reply as NDJSON unless the client
// asked for a single JSON response.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.ErrValidation("invalid request body"))
		return
	}

	stream := body.Stream == nil || *body.Stream

	req := chat.Request{
		Tenant:         chi.URLParam(r, "tenant"),
		UserID:         uid,
		Provider:       body.Provider,
		Model:          string(body.Model),
		ConversationID: body.ConversationID,
		DocumentChat:   body.DocumentChat,
		Stream:         stream,
	}
	for _, m := range body.Messages {
		req.Messages = append(req.Messages, domain.Message{Role: m.Role, Content: m.Content})
	}
	AddLogField(r.Context(), "tenant", req.Tenant)
	AddLogField(r.Context(), "provider", req.Provider)

	turn, err := h.orch.Execute(r.Context(), req)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, err)
		return
	}

	if !turn.Streaming {
		writeJSON(w, http.StatusOK, map[string]string{
			"message":        turn.Message,
			"conversationId": turn.ConversationID,
		})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.WriteHeader(http.StatusOK)

	// The status is committed; a mid-stream failure can only be logged.
	if err := h.orch.Relay(r.Context(), turn, w); err != nil {
		AddError(r.Context(), err)
	}
}

// ListConversations returns the caller's conversations, most recent first.
func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	conversations, err := h.orch.Conversations(r.Context(), chi.URLParam(r, "tenant"), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, conversations)
}

// GetConversation returns one conversation's transcript.
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	thread, err := h.orch.Thread(r.Context(),
		chi.URLParam(r, "tenant"), uid, chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, thread)
}

// DeleteConversation removes a conversation the caller owns.
func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	err = h.orch.DeleteConversation(r.Context(),
		chi.URLParam(r, "tenant"), uid, chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ListProviders lists the tenant's configured providers, or the whole catalog
// with filterByTenant=false.
func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.resolver.Providers(r.Context(), chi.URLParam(r, "tenant"), filterByTenant(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, providers)
}

// ListModels lists a provider's models, scoped to the tenant's configs unless
// filterByTenant=false.
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.resolver.Models(r.Context(),
		chi.URLParam(r, "tenant"), chi.URLParam(r, "provider"), filterByTenant(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, models)
}

type configRequest struct {
	Provider     string   `json:"provider"`
	APIKey       string   `json:"apiKey"`
	BaseURL      string   `json:"baseURL"`
	Models       []string `json:"models"`
	DocumentChat bool     `json:"isDocumentChatProvider"`
}

// ListConfigs returns the tenant's provider configs, secrets masked.
func (h *Handlers) ListConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := h.resolver.List(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, configs)
}

// CreateConfig creates a provider config, storing the API key in the vault.
func (h *Handlers) CreateConfig(w http.ResponseWriter, r *http.Request) {
	var body configRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.ErrValidation("invalid request body"))
		return
	}

	cfg, err := h.resolver.Create(r.Context(), llmconfig.CreateParams{
		Tenant:       chi.URLParam(r, "tenant"),
		Provider:     body.Provider,
		APIKey:       body.APIKey,
		BaseURL:      body.BaseURL,
		Models:       body.Models,
		DocumentChat: body.DocumentChat,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"config": cfg})
}

// UpdateConfig updates a config's secret and non-secret fields.
func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var body configRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, domain.ErrValidation("invalid request body"))
		return
	}

	err := h.resolver.Update(r.Context(), chi.URLParam(r, "configID"), llmconfig.UpdateParams{
		Tenant:   chi.URLParam(r, "tenant"),
		Provider: body.Provider,
		APIKey:   body.APIKey,
		BaseURL:  body.BaseURL,
		Models:   body.Models,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteConfig removes a config row and its vault record.
func (h *Handlers) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	err := h.resolver.Delete(r.Context(), chi.URLParam(r, "configID"), chi.URLParam(r, "tenant"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadFile accepts a document for document-chat context. Ingestion is
// handled by an external pipeline; the gateway only acknowledges receipt.
func (h *Handlers) UploadFile(w http.ResponseWriter, r *http.Request) {
	if _, err := userID(r); err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, domain.ErrValidation("a single file is required"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, domain.ErrValidation("a single file is required"))
		return
	}
	file.Close()

	writeData(w, http.StatusAccepted, map[string]string{
		"fileName": header.Filename,
		"status":   "accepted",
	})
}

// Healthz reports liveness.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
