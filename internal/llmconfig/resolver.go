// Package llmconfig owns the tenant→provider→credential mapping. The raw API
// key lives only in the vault; the local row stores the vault token that
// references it.
package llmconfig

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/rdeshpande/chat-gateway/internal/catalog"
	"github.com/rdeshpande/chat-gateway/internal/domain"
	"github.com/rdeshpande/chat-gateway/internal/storage"
	"github.com/rdeshpande/chat-gateway/internal/vault"
)

// SecretStore is the vault surface the resolver needs.
type SecretStore interface {
	Store(ctx context.Context, tenant string, secret vault.Secret) (string, error)
	Retrieve(ctx context.Context, tenant, token string) (vault.Secret, error)
	Update(ctx context.Context, tenant, token string, secret vault.Secret) error
	Delete(ctx context.Context, tenant, token string) error
}

// Config is a tenant provider config as exposed to callers: the API key is
// masked and the vault token blanked.
type Config struct {
	storage.ProviderConfig
	APIKey string `json:"apiKey"`
}

// CreateParams are the inputs for creating a config.
type CreateParams struct {
	Tenant       string
	Provider     string
	APIKey       string
	BaseURL      string
	Models       []string
	DocumentChat bool
}

// UpdateParams are the inputs for updating a config. A zero APIKey keeps the
// stored secret; a non-empty Tenant restricts the update to that tenant's
// configs.
type UpdateParams struct {
	Tenant   string
	Provider string
	APIKey   string
	BaseURL  string
	Models   []string
}

// ProviderInfo identifies a provider in listing responses.
type ProviderInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Resolver implements the config operations over a ConfigStore and the vault.
type Resolver struct {
	store  storage.ConfigStore
	vault  SecretStore
	logger *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(store storage.ConfigStore, secrets SecretStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, vault: secrets, logger: logger}
}

// List returns a tenant's configs with the secret masked: the API key is
// replaced by an asterisk per character and the vault token removed.
func (r *Resolver) List(ctx context.Context, tenant string) ([]Config, error) {
	configs, err := r.store.ListConfigs(ctx, tenant)
	if err != nil {
		return nil, err
	}

	out := make([]Config, 0, len(configs))
	for _, cfg := range configs {
		masked := Config{ProviderConfig: cfg}
		if cfg.VaultToken != "" {
			secret, err := r.vault.Retrieve(ctx, tenant, cfg.VaultToken)
			if err == nil {
				masked.APIKey = strings.Repeat("*", len(secret.APIKey))
			} else {
				r.logger.Warn("vault lookup failed while listing configs",
					slog.String("config_id", cfg.ID),
					slog.String("error", err.Error()))
			}
		}
		masked.VaultToken = ""
		out = append(out, masked)
	}
	return out, nil
}

// ConfigsFor returns the tenant's configs for one provider, vault token
// included; used internally to pick a credential set for a chat turn.
func (r *Resolver) ConfigsFor(ctx context.Context, tenant, provider string) ([]storage.ProviderConfig, error) {
	return r.store.ListConfigsByProvider(ctx, tenant, provider)
}

// Secret resolves the API key and base URL stored for a config.
func (r *Resolver) Secret(ctx context.Context, cfg storage.ProviderConfig) (vault.Secret, error) {
	return r.vault.Retrieve(ctx, cfg.Tenant, cfg.VaultToken)
}

// Create validates the request, writes the secret to the vault, then persists
// the config row referencing the returned token. A vault record orphaned by a
// failed local persist is logged, not repaired.
func (r *Resolver) Create(ctx context.Context, params CreateParams) (storage.ProviderConfig, error) {
	if _, ok := catalog.Lookup(params.Provider); !ok {
		return storage.ProviderConfig{}, domain.ErrValidation(fmt.Sprintf("unknown provider %q", params.Provider))
	}

	apiKey := params.APIKey
	if params.DocumentChat {
		// Document-chat configs carry a deterministic per-tenant placeholder.
		apiKey = "chat_with_document_" + params.Tenant + "_key"
	}
	if apiKey == "" && !catalog.Keyless(params.Provider) {
		return storage.ProviderConfig{}, domain.ErrValidation("API key is required")
	}

	token, err := r.vault.Store(ctx, params.Tenant, vault.Secret{APIKey: apiKey, BaseURL: params.BaseURL})
	if err != nil {
		return storage.ProviderConfig{}, err
	}

	cfg, err := r.store.CreateConfig(ctx, storage.ProviderConfig{
		Tenant:       params.Tenant,
		Provider:     params.Provider,
		BaseURL:      params.BaseURL,
		Models:       params.Models,
		VaultToken:   token,
		DocumentChat: params.DocumentChat,
	})
	if err != nil {
		// The vault record is now orphaned. Accepted failure mode: a stray
		// secret is harmless, a config row with no secret is not.
		r.logger.Error("config persist failed after vault write; vault record orphaned",
			slog.String("tenant", params.Tenant),
			slog.String("provider", params.Provider),
			slog.String("error", err.Error()))
		return storage.ProviderConfig{}, err
	}
	return cfg, nil
}

// Update merges the new API key over the stored secret, writes the secret
// back to the vault, then updates the local row's non-secret fields.
func (r *Resolver) Update(ctx context.Context, configID string, params UpdateParams) error {
	cfg, err := r.store.GetConfig(ctx, configID)
	if err != nil {
		return err
	}
	if params.Tenant != "" && cfg.Tenant != params.Tenant {
		return domain.ErrNotFound("config not found")
	}

	secret, err := r.vault.Retrieve(ctx, cfg.Tenant, cfg.VaultToken)
	if err != nil {
		return err
	}

	if params.APIKey != "" {
		secret.APIKey = params.APIKey
	}
	if params.BaseURL != "" {
		secret.BaseURL = params.BaseURL
	}
	if err := r.vault.Update(ctx, cfg.Tenant, cfg.VaultToken, secret); err != nil {
		return err
	}

	return r.store.UpdateConfig(ctx, configID, storage.ConfigUpdate{
		Provider: params.Provider,
		BaseURL:  params.BaseURL,
		Models:   params.Models,
	})
}

// Delete removes the local row first, then the vault record. A failed vault
// delete leaves a harmless orphan rather than a dangling local reference.
func (r *Resolver) Delete(ctx context.Context, configID, tenant string) error {
	cfg, err := r.store.GetConfig(ctx, configID)
	if err != nil {
		return err
	}
	if cfg.Tenant != tenant {
		return domain.ErrNotFound("config not found")
	}

	if err := r.store.DeleteConfig(ctx, configID, tenant); err != nil {
		return err
	}

	if err := r.vault.Delete(ctx, tenant, cfg.VaultToken); err != nil {
		r.logger.Warn("vault delete failed; vault record orphaned",
			slog.String("config_id", configID),
			slog.String("error", err.Error()))
	}
	return nil
}

// Providers lists providers. When filtering by tenant it returns the distinct
// providers the tenant has configured, excluding document-chat-only configs;
// otherwise the full catalog.
func (r *Resolver) Providers(ctx context.Context, tenant string, filterByTenant bool) ([]ProviderInfo, error) {
	if !filterByTenant {
		all := catalog.Providers()
		out := make([]ProviderInfo, len(all))
		for i, p := range all {
			out[i] = ProviderInfo{ID: p.ID, Name: p.Name}
		}
		return out, nil
	}

	configs, err := r.store.ListConfigs(ctx, tenant)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	for _, cfg := range configs {
		if cfg.DocumentChat || seen[cfg.Provider] {
			continue
		}
		seen[cfg.Provider] = true
		ids = append(ids, cfg.Provider)
	}
	sort.Strings(ids)

	out := make([]ProviderInfo, 0, len(ids))
	for _, id := range ids {
		info := ProviderInfo{ID: id, Name: id}
		if p, ok := catalog.Lookup(id); ok {
			info.Name = p.Name
		}
		out = append(out, info)
	}
	return out, nil
}

// Models lists a provider's models. When filtering by tenant it returns the
// intersection of the catalog's model list with the union of model ids across
// the tenant's configs for that provider.
func (r *Resolver) Models(ctx context.Context, tenant, provider string, filterByTenant bool) ([]catalog.Model, error) {
	if !filterByTenant {
		models := catalog.Models(provider)
		if models == nil {
			return nil, domain.ErrNotFound(fmt.Sprintf("unknown provider %q", provider))
		}
		return models, nil
	}

	configs, err := r.store.ListConfigsByProvider(ctx, tenant, provider)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, domain.ErrNotFound("config not found")
	}

	enabled := make(map[string]bool)
	for _, cfg := range configs {
		for _, id := range cfg.Models {
			if id != "" {
				enabled[id] = true
			}
		}
	}
	if len(enabled) == 0 {
		return nil, domain.ErrNotFound("no models found")
	}

	var out []catalog.Model
	for _, m := range catalog.Models(provider) {
		if enabled[m.ID] {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, domain.ErrNotFound("no models found")
	}
	return out, nil
}
