package vault

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rdeshpande/chat-gateway/internal/domain"
)

// fakeVault is a minimal in-process stand-in for the secret store.
func fakeVault(t *testing.T) (*httptest.Server, map[string]string) {
	t.Helper()

	secrets := make(map[string]string)
	next := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/vault/acme/llm/data", func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		switch r.Method {
		case http.MethodPost:
			next++
			tok := "tok-" + string(rune('a'+next))
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			raw, _ := json.Marshal(body)
			secrets[tok] = string(raw)
			json.NewEncoder(w).Encode(map[string]string{"token": tok})
		case http.MethodGet:
			data, ok := secrets[token]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]map[string]string{
				token: {"data": data},
			})
		case http.MethodPut:
			if _, ok := secrets[token]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			raw, _ := json.Marshal(body)
			secrets[token] = string(raw)
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			delete(secrets, token)
			w.WriteHeader(http.StatusNoContent)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, secrets
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	srv, _ := fakeVault(t)
	c := NewClient(srv.URL, "llm", "read-key", "write-key")

	token, err := c.Store(context.Background(), "acme", Secret{APIKey: "sk-test", BaseURL: "https://example.com"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if token == "" {
		t.Fatal("Store returned empty token")
	}

	secret, err := c.Retrieve(context.Background(), "acme", token)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if secret.APIKey != "sk-test" || secret.BaseURL != "https://example.com" {
		t.Errorf("unexpected secret: %+v", secret)
	}
}

func TestRetrieveUnknownTokenIsNotFound(t *testing.T) {
	srv, _ := fakeVault(t)
	c := NewClient(srv.URL, "llm", "read-key", "write-key")

	_, err := c.Retrieve(context.Background(), "acme", "no-such-token")
	var gwErr *domain.Error
	if !errors.As(err, &gwErr) || gwErr.Kind != domain.ErrorKindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestUpdateMergesOverExisting(t *testing.T) {
	srv, _ := fakeVault(t)
	c := NewClient(srv.URL, "llm", "read-key", "write-key")

	token, err := c.Store(context.Background(), "acme", Secret{APIKey: "sk-old"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	if err := c.Update(context.Background(), "acme", token, Secret{APIKey: "sk-new"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	secret, err := c.Retrieve(context.Background(), "acme", token)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if secret.APIKey != "sk-new" {
		t.Errorf("APIKey = %q, want sk-new", secret.APIKey)
	}
}

func TestUpdateUnknownTokenIsNotFound(t *testing.T) {
	srv, _ := fakeVault(t)
	c := NewClient(srv.URL, "llm", "read-key", "write-key")

	err := c.Update(context.Background(), "acme", "missing", Secret{APIKey: "sk"})
	var gwErr *domain.Error
	if !errors.As(err, &gwErr) || gwErr.Kind != domain.ErrorKindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	srv, secrets := fakeVault(t)
	c := NewClient(srv.URL, "llm", "read-key", "write-key")

	token, err := c.Store(context.Background(), "acme", Secret{APIKey: "sk"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	if err := c.Delete(context.Background(), "acme", token); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := secrets[token]; ok {
		t.Error("secret still present after delete")
	}

	// Second delete of the same token must not error.
	if err := c.Delete(context.Background(), "acme", token); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}
