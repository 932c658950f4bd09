// Package sqldb implements storage.Store on database/sql. SQLite (modernc)
// serves single-node deployments and tests; Postgres (pgx) serves shared
// deployments, with schema managed by embedded goose migrations.
package sqldb

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/rdeshpande/chat-gateway/internal/domain"
	"github.com/rdeshpande/chat-gateway/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a SQL implementation of storage.Store.
type Store struct {
	db     *sql.DB
	driver string
	sql    sq.StatementBuilderType
}

var _ storage.Store = (*Store)(nil)

// Open connects to the database, runs schema setup, and returns a Store.
// Supported drivers: "sqlite" and "postgres" (pgx).
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	driver = normalizeDriver(driver)
	if dsn == "" {
		return nil, fmt.Errorf("dsn is empty")
	}

	sqlDriver := driver
	if driver == "postgres" {
		sqlDriver = "pgx"
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	switch driver {
	case "postgres":
		goose.SetBaseFS(migrations)
		if err := goose.SetDialect("postgres"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set goose dialect: %w", err)
		}
		if err := goose.Up(db, "migrations"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	case "sqlite":
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		if err := initSQLiteSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite schema: %w", err)
		}
	default:
		_ = db.Close()
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	var placeholder sq.PlaceholderFormat = sq.Question
	if driver == "postgres" {
		placeholder = sq.Dollar
	}

	return &Store{
		db:     db,
		driver: driver,
		sql:    sq.StatementBuilder.PlaceholderFormat(placeholder),
	}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func normalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3", "":
		return "sqlite"
	case "postgres", "postgresql", "pgx":
		return "postgres"
	default:
		return strings.ToLower(strings.TrimSpace(driver))
	}
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS llm_configs (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL,
			provider TEXT NOT NULL,
			base_url TEXT NOT NULL DEFAULT '',
			models TEXT NOT NULL DEFAULT '[]',
			vault_token TEXT NOT NULL DEFAULT '',
			document_chat INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			tenant TEXT NOT NULL,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_llm_configs_tenant ON llm_configs(tenant)`,
		`CREATE INDEX IF NOT EXISTS idx_llm_configs_tenant_provider ON llm_configs(tenant, provider)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_tenant_user ON conversations(tenant, user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateConversation(ctx context.Context, tenant, userID, title, provider, model string) (storage.Conversation, error) {
	conv := storage.Conversation{
		ID:        uuid.New().String(),
		Tenant:    tenant,
		UserID:    userID,
		Title:     title,
		Provider:  provider,
		Model:     model,
		CreatedAt: time.Now().UTC(),
	}

	query, args, err := s.sql.Insert("conversations").
		Columns("id", "tenant", "user_id", "title", "provider", "model", "created_at").
		Values(conv.ID, conv.Tenant, conv.UserID, conv.Title, conv.Provider, conv.Model, conv.CreatedAt).
		ToSql()
	if err != nil {
		return storage.Conversation{}, fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return storage.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (storage.Conversation, error) {
	query, args, err := s.sql.Select("id", "tenant", "user_id", "title", "provider", "model", "created_at").
		From("conversations").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return storage.Conversation{}, fmt.Errorf("build select: %w", err)
	}

	var conv storage.Conversation
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&conv.ID, &conv.Tenant, &conv.UserID, &conv.Title, &conv.Provider, &conv.Model, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Conversation{}, domain.ErrNotFound("conversation not found")
	}
	if err != nil {
		return storage.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *Store) ListConversations(ctx context.Context, tenant, userID string) ([]storage.Conversation, error) {
	query, args, err := s.sql.Select("id", "tenant", "user_id", "title", "provider", "model", "created_at").
		From("conversations").
		Where(sq.Eq{"tenant": tenant, "user_id": userID}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []storage.Conversation
	for rows.Next() {
		var conv storage.Conversation
		if err := rows.Scan(&conv.ID, &conv.Tenant, &conv.UserID, &conv.Title, &conv.Provider, &conv.Model, &conv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	delMsgs, args, err := s.sql.Delete("messages").Where(sq.Eq{"conversation_id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, delMsgs, args...); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	delConv, args, err := s.sql.Delete("conversations").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	res, err := tx.ExecContext(ctx, delConv, args...)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("conversation not found")
	}
	return tx.Commit()
}

func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) (storage.ChatMessage, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return storage.ChatMessage{}, err
	}

	msg := storage.ChatMessage{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}

	// seq is assigned by the database and breaks created_at ties.
	query, args, err := s.sql.Insert("messages").
		Columns("id", "conversation_id", "role", "content", "created_at").
		Values(msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt).
		ToSql()
	if err != nil {
		return storage.ChatMessage{}, fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return storage.ChatMessage{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *Store) Thread(ctx context.Context, conversationID string) ([]storage.ChatMessage, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	query, args, err := s.sql.Select("id", "conversation_id", "role", "content", "created_at").
		From("messages").
		Where(sq.Eq{"conversation_id": conversationID}).
		OrderBy("created_at ASC", "seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	defer rows.Close()

	var out []storage.ChatMessage
	for rows.Next() {
		var msg storage.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *Store) CreateConfig(ctx context.Context, cfg storage.ProviderConfig) (storage.ProviderConfig, error) {
	cfg.ID = uuid.New().String()
	cfg.CreatedAt = time.Now().UTC()
	if cfg.Models == nil {
		cfg.Models = []string{}
	}

	models, err := json.Marshal(cfg.Models)
	if err != nil {
		return storage.ProviderConfig{}, fmt.Errorf("marshal models: %w", err)
	}

	query, args, err := s.sql.Insert("llm_configs").
		Columns("id", "tenant", "provider", "base_url", "models", "vault_token", "document_chat", "created_at").
		Values(cfg.ID, cfg.Tenant, cfg.Provider, cfg.BaseURL, string(models), cfg.VaultToken, cfg.DocumentChat, cfg.CreatedAt).
		ToSql()
	if err != nil {
		return storage.ProviderConfig{}, fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return storage.ProviderConfig{}, fmt.Errorf("create config: %w", err)
	}
	return cfg, nil
}

func (s *Store) GetConfig(ctx context.Context, id string) (storage.ProviderConfig, error) {
	query, args, err := s.configSelect().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return storage.ProviderConfig{}, fmt.Errorf("build select: %w", err)
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	cfg, err := scanConfig(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ProviderConfig{}, domain.ErrNotFound("config not found")
	}
	if err != nil {
		return storage.ProviderConfig{}, fmt.Errorf("get config: %w", err)
	}
	return cfg, nil
}

func (s *Store) ListConfigs(ctx context.Context, tenant string) ([]storage.ProviderConfig, error) {
	return s.listConfigs(ctx, sq.Eq{"tenant": tenant})
}

func (s *Store) ListConfigsByProvider(ctx context.Context, tenant, provider string) ([]storage.ProviderConfig, error) {
	return s.listConfigs(ctx, sq.Eq{"tenant": tenant, "provider": provider})
}

func (s *Store) listConfigs(ctx context.Context, where sq.Eq) ([]storage.ProviderConfig, error) {
	query, args, err := s.configSelect().Where(where).OrderBy("created_at ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	defer rows.Close()

	var out []storage.ProviderConfig
	for rows.Next() {
		cfg, err := scanConfig(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *Store) configSelect() sq.SelectBuilder {
	return s.sql.Select("id", "tenant", "provider", "base_url", "models", "vault_token", "document_chat", "created_at").
		From("llm_configs")
}

func scanConfig(scan func(dest ...any) error) (storage.ProviderConfig, error) {
	var cfg storage.ProviderConfig
	var models string
	if err := scan(&cfg.ID, &cfg.Tenant, &cfg.Provider, &cfg.BaseURL, &models, &cfg.VaultToken, &cfg.DocumentChat, &cfg.CreatedAt); err != nil {
		return storage.ProviderConfig{}, err
	}
	if err := json.Unmarshal([]byte(models), &cfg.Models); err != nil {
		return storage.ProviderConfig{}, fmt.Errorf("unmarshal models: %w", err)
	}
	return cfg, nil
}

func (s *Store) UpdateConfig(ctx context.Context, id string, update storage.ConfigUpdate) error {
	builder := s.sql.Update("llm_configs").Where(sq.Eq{"id": id})
	changed := false
	if update.Provider != "" {
		builder = builder.Set("provider", update.Provider)
		changed = true
	}
	if update.BaseURL != "" {
		builder = builder.Set("base_url", update.BaseURL)
		changed = true
	}
	if update.Models != nil {
		models, err := json.Marshal(update.Models)
		if err != nil {
			return fmt.Errorf("marshal models: %w", err)
		}
		builder = builder.Set("models", string(models))
		changed = true
	}
	if !changed {
		_, err := s.GetConfig(ctx, id)
		return err
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("config not found")
	}
	return nil
}

func (s *Store) DeleteConfig(ctx context.Context, id, tenant string) error {
	query, args, err := s.sql.Delete("llm_configs").Where(sq.Eq{"id": id, "tenant": tenant}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound("config not found")
	}
	return nil
}
