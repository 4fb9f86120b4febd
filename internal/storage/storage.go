// Package storage persists linked mail accounts, outbound message records,
// message templates, and the sync audit log. It speaks SQLite for local
// deployments and PostgreSQL in production; queries are written with `?`
// placeholders and rebound for the postgres driver.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lucsky/cuid"
	_ "github.com/mattn/go-sqlite3"

	apperrors "crm-mailer/internal/common/errors"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Store wraps the SQL database with the persistence operations the mail
// subsystem needs. Token columns always carry encrypted blobs; callers are
// responsible for vault encryption before writes.
type Store struct {
	db      *sql.DB
	dialect string
}

// Open connects to the database, verifies connectivity and runs migrations.
// dialect is "sqlite" or "postgres"; dsn is a file path for SQLite or a
// connection string for PostgreSQL.
func Open(dialect, dsn string) (*Store, error) {
	var driver string
	switch dialect {
	case DialectSQLite:
		driver = "sqlite3"
	case DialectPostgres, "postgresql":
		driver = "pgx"
		dialect = DialectPostgres
	default:
		return nil, apperrors.ConfigError(fmt.Sprintf("unsupported database dialect: %s", dialect))
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, apperrors.StorageFailed("failed to open database", err)
	}

	if err := db.Ping(); err != nil {
		return nil, apperrors.StorageFailed("failed to ping database", err)
	}

	store := &Store{db: db, dialect: dialect}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind converts `?` placeholders to the `$n` form the pgx driver expects.
// SQLite queries pass through unchanged.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS linked_accounts (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			account_email TEXT NOT NULL,
			encrypted_access_token TEXT NOT NULL,
			encrypted_refresh_token TEXT NOT NULL,
			token_expiry TIMESTAMP NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			last_sync_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE (owner_id, provider, account_email)
		)`,
		`CREATE TABLE IF NOT EXISTS outbound_messages (
			id TEXT PRIMARY KEY,
			person_id TEXT NOT NULL DEFAULT '',
			template_id TEXT NOT NULL DEFAULT '',
			linked_account_id TEXT NOT NULL,
			provider_message_id TEXT NOT NULL DEFAULT '',
			provider_thread_id TEXT NOT NULL DEFAULT '',
			recipients TEXT NOT NULL,
			subject TEXT NOT NULL,
			body_html TEXT NOT NULL DEFAULT '',
			body_text TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			sent_at TIMESTAMP,
			delivered_at TIMESTAMP,
			failed_at TIMESTAMP,
			error_detail TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS message_templates (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			subject TEXT NOT NULL,
			body_html TEXT NOT NULL,
			body_text TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT 'other',
			placeholders TEXT NOT NULL DEFAULT '[]',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_log (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			status TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			error_detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_linked_accounts_owner ON linked_accounts(owner_id, provider, active)`,
		`CREATE INDEX IF NOT EXISTS idx_outbound_messages_account ON outbound_messages(linked_account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_outbound_messages_created ON outbound_messages(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_message_templates_owner ON message_templates(owner_id, active)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_log_owner ON sync_log(owner_id, created_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return apperrors.StorageFailed("failed to execute migration query", err)
		}
	}

	return nil
}

// UpsertLinkedAccount writes a connected account in a single statement. A
// repeat handshake for the same (owner, provider, email) replaces the token
// pair and reactivates the row instead of inserting a duplicate. The account
// ID is populated on the passed struct.
func (s *Store) UpsertLinkedAccount(ctx context.Context, account *LinkedAccount) error {
	now := time.Now().UTC()
	if account.ID == "" {
		account.ID = cuid.New()
	}
	account.CreatedAt = now
	account.UpdatedAt = now
	account.Active = true

	query := s.rebind(`INSERT INTO linked_accounts
		(id, owner_id, provider, account_email, encrypted_access_token, encrypted_refresh_token,
		 token_expiry, scope, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, provider, account_email) DO UPDATE SET
			encrypted_access_token = excluded.encrypted_access_token,
			encrypted_refresh_token = excluded.encrypted_refresh_token,
			token_expiry = excluded.token_expiry,
			scope = excluded.scope,
			active = TRUE,
			updated_at = excluded.updated_at`)

	_, err := s.db.ExecContext(ctx, query,
		account.ID, account.OwnerID, account.Provider, account.AccountEmail,
		account.EncryptedAccessToken, account.EncryptedRefreshToken,
		account.TokenExpiry.UTC(), account.Scope, account.Active,
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return apperrors.StorageFailed("failed to upsert linked account", err)
	}

	// On the update path the stored row keeps its original id; read it back
	// so the caller always sees the persisted identity.
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, created_at FROM linked_accounts WHERE owner_id = ? AND provider = ? AND account_email = ?`),
		account.OwnerID, account.Provider, account.AccountEmail)
	if err := row.Scan(&account.ID, &account.CreatedAt); err != nil {
		return apperrors.StorageFailed("failed to read back linked account", err)
	}

	return nil
}

// GetActiveLinkedAccount returns the active account for an owner and
// provider, or a NO_ACCOUNT error when none exists.
func (s *Store) GetActiveLinkedAccount(ctx context.Context, ownerID, provider string) (*LinkedAccount, error) {
	query := s.rebind(`SELECT id, owner_id, provider, account_email, encrypted_access_token,
		encrypted_refresh_token, token_expiry, scope, active, last_sync_at, created_at, updated_at
		FROM linked_accounts
		WHERE owner_id = ? AND provider = ? AND active = TRUE
		ORDER BY updated_at DESC LIMIT 1`)

	account := &LinkedAccount{}
	err := s.db.QueryRowContext(ctx, query, ownerID, provider).Scan(
		&account.ID, &account.OwnerID, &account.Provider, &account.AccountEmail,
		&account.EncryptedAccessToken, &account.EncryptedRefreshToken,
		&account.TokenExpiry, &account.Scope, &account.Active,
		&account.LastSyncAt, &account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NoAccount(ownerID, provider)
	}
	if err != nil {
		return nil, apperrors.StorageFailed("failed to get linked account", err)
	}

	return account, nil
}

// GetLinkedAccountByID returns an account regardless of its active flag.
func (s *Store) GetLinkedAccountByID(ctx context.Context, id string) (*LinkedAccount, error) {
	query := s.rebind(`SELECT id, owner_id, provider, account_email, encrypted_access_token,
		encrypted_refresh_token, token_expiry, scope, active, last_sync_at, created_at, updated_at
		FROM linked_accounts WHERE id = ?`)

	account := &LinkedAccount{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&account.ID, &account.OwnerID, &account.Provider, &account.AccountEmail,
		&account.EncryptedAccessToken, &account.EncryptedRefreshToken,
		&account.TokenExpiry, &account.Scope, &account.Active,
		&account.LastSyncAt, &account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NoAccount("", "")
	}
	if err != nil {
		return nil, apperrors.StorageFailed("failed to get linked account", err)
	}

	return account, nil
}

// ListLinkedAccounts returns all of an owner's accounts, active or not,
// newest first.
func (s *Store) ListLinkedAccounts(ctx context.Context, ownerID string) ([]*LinkedAccount, error) {
	query := s.rebind(`SELECT id, owner_id, provider, account_email, encrypted_access_token,
		encrypted_refresh_token, token_expiry, scope, active, last_sync_at, created_at, updated_at
		FROM linked_accounts WHERE owner_id = ? ORDER BY created_at DESC`)

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, apperrors.StorageFailed("failed to list linked accounts", err)
	}
	defer rows.Close()

	var accounts []*LinkedAccount
	for rows.Next() {
		account := &LinkedAccount{}
		err := rows.Scan(
			&account.ID, &account.OwnerID, &account.Provider, &account.AccountEmail,
			&account.EncryptedAccessToken, &account.EncryptedRefreshToken,
			&account.TokenExpiry, &account.Scope, &account.Active,
			&account.LastSyncAt, &account.CreatedAt, &account.UpdatedAt)
		if err != nil {
			return nil, apperrors.StorageFailed("failed to scan linked account", err)
		}
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

// UpdateLinkedAccountTokens replaces the stored token pair and expiry in a
// single statement. Used by the refresh path; the refresh token column is
// only rewritten when the provider rotated it.
func (s *Store) UpdateLinkedAccountTokens(ctx context.Context, id, encryptedAccess, encryptedRefresh string, expiry time.Time) error {
	var query string
	var args []interface{}
	if encryptedRefresh != "" {
		query = `UPDATE linked_accounts SET encrypted_access_token = ?, encrypted_refresh_token = ?,
			token_expiry = ?, updated_at = ? WHERE id = ?`
		args = []interface{}{encryptedAccess, encryptedRefresh, expiry.UTC(), time.Now().UTC(), id}
	} else {
		query = `UPDATE linked_accounts SET encrypted_access_token = ?, token_expiry = ?, updated_at = ?
			WHERE id = ?`
		args = []interface{}{encryptedAccess, expiry.UTC(), time.Now().UTC(), id}
	}

	if _, err := s.db.ExecContext(ctx, s.rebind(query), args...); err != nil {
		return apperrors.StorageFailed("failed to update linked account tokens", err)
	}
	return nil
}

// DeactivateLinkedAccount clears the active flag. Historical message records
// referencing the account are untouched.
func (s *Store) DeactivateLinkedAccount(ctx context.Context, id string) error {
	query := s.rebind(`UPDATE linked_accounts SET active = FALSE, updated_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		return apperrors.StorageFailed("failed to deactivate linked account", err)
	}
	return nil
}

// TouchLinkedAccountSync stamps the last successful sync time.
func (s *Store) TouchLinkedAccountSync(ctx context.Context, id string) error {
	query := s.rebind(`UPDATE linked_accounts SET last_sync_at = ?, updated_at = ? WHERE id = ?`)
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, query, now, now, id); err != nil {
		return apperrors.StorageFailed("failed to update linked account sync time", err)
	}
	return nil
}

// CreateOutboundMessage persists a send record. The ID is populated on the
// passed struct.
func (s *Store) CreateOutboundMessage(ctx context.Context, msg *OutboundMessage) error {
	if msg.ID == "" {
		msg.ID = cuid.New()
	}
	msg.CreatedAt = time.Now().UTC()
	if msg.Metadata == "" {
		msg.Metadata = "{}"
	}

	query := s.rebind(`INSERT INTO outbound_messages
		(id, person_id, template_id, linked_account_id, provider_message_id, provider_thread_id,
		 recipients, subject, body_html, body_text, status, sent_at, failed_at, error_detail,
		 metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.PersonID, msg.TemplateID, msg.LinkedAccountID,
		msg.ProviderMessageID, msg.ProviderThreadID, msg.Recipients, msg.Subject,
		msg.BodyHTML, msg.BodyText, msg.Status, msg.SentAt, msg.FailedAt,
		msg.ErrorDetail, msg.Metadata, msg.CreatedAt)
	if err != nil {
		return apperrors.StorageFailed("failed to create outbound message", err)
	}

	return nil
}

// UpdateOutboundMessageStatus applies an asynchronous delivery-status update.
// Accepts "delivered", "failed" or "bounced" and stamps the matching
// timestamp column. The update is scoped to messages sent through ownerID's
// linked accounts; another owner's message id matches nothing.
func (s *Store) UpdateOutboundMessageStatus(ctx context.Context, ownerID, id, status, errorDetail string) error {
	now := time.Now().UTC()

	ownerScope := ` AND linked_account_id IN (SELECT id FROM linked_accounts WHERE owner_id = ?)`

	var query string
	var args []interface{}
	switch status {
	case MessageStatusDelivered:
		query = `UPDATE outbound_messages SET status = ?, delivered_at = ? WHERE id = ?` + ownerScope
		args = []interface{}{status, now, id, ownerID}
	case MessageStatusFailed, MessageStatusBounced:
		query = `UPDATE outbound_messages SET status = ?, failed_at = ?, error_detail = ? WHERE id = ?` + ownerScope
		args = []interface{}{status, now, errorDetail, id, ownerID}
	default:
		return apperrors.ValidationError(fmt.Sprintf("invalid message status: %s", status))
	}

	result, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return apperrors.StorageFailed("failed to update message status", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return apperrors.ValidationError(fmt.Sprintf("no outbound message with id %s", id))
	}

	return nil
}

// ListOutboundMessages returns an owner's send records, newest first,
// joined through their linked accounts.
func (s *Store) ListOutboundMessages(ctx context.Context, ownerID string, limit int) ([]*OutboundMessage, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := s.rebind(`SELECT m.id, m.person_id, m.template_id, m.linked_account_id,
		m.provider_message_id, m.provider_thread_id, m.recipients, m.subject,
		m.body_html, m.body_text, m.status, m.sent_at, m.delivered_at, m.failed_at,
		m.error_detail, m.metadata, m.created_at
		FROM outbound_messages m
		JOIN linked_accounts a ON a.id = m.linked_account_id
		WHERE a.owner_id = ?
		ORDER BY m.created_at DESC LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, apperrors.StorageFailed("failed to list outbound messages", err)
	}
	defer rows.Close()

	var messages []*OutboundMessage
	for rows.Next() {
		msg := &OutboundMessage{}
		err := rows.Scan(
			&msg.ID, &msg.PersonID, &msg.TemplateID, &msg.LinkedAccountID,
			&msg.ProviderMessageID, &msg.ProviderThreadID, &msg.Recipients, &msg.Subject,
			&msg.BodyHTML, &msg.BodyText, &msg.Status, &msg.SentAt, &msg.DeliveredAt,
			&msg.FailedAt, &msg.ErrorDetail, &msg.Metadata, &msg.CreatedAt)
		if err != nil {
			return nil, apperrors.StorageFailed("failed to scan outbound message", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// CreateMessageTemplate persists a template. The ID is populated on the
// passed struct.
func (s *Store) CreateMessageTemplate(ctx context.Context, tmpl *MessageTemplate) error {
	if tmpl.ID == "" {
		tmpl.ID = cuid.New()
	}
	now := time.Now().UTC()
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now
	if tmpl.Category == "" {
		tmpl.Category = TemplateCategoryOther
	}
	if tmpl.Placeholders == "" {
		tmpl.Placeholders = "[]"
	}

	query := s.rebind(`INSERT INTO message_templates
		(id, owner_id, name, subject, body_html, body_text, category, placeholders, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		tmpl.ID, tmpl.OwnerID, tmpl.Name, tmpl.Subject, tmpl.BodyHTML, tmpl.BodyText,
		tmpl.Category, tmpl.Placeholders, tmpl.Active, tmpl.CreatedAt, tmpl.UpdatedAt)
	if err != nil {
		return apperrors.StorageFailed("failed to create message template", err)
	}

	return nil
}

// GetMessageTemplate returns a single template owned by ownerID.
func (s *Store) GetMessageTemplate(ctx context.Context, ownerID, id string) (*MessageTemplate, error) {
	query := s.rebind(`SELECT id, owner_id, name, subject, body_html, body_text, category,
		placeholders, active, created_at, updated_at
		FROM message_templates WHERE id = ? AND owner_id = ?`)

	tmpl := &MessageTemplate{}
	err := s.db.QueryRowContext(ctx, query, id, ownerID).Scan(
		&tmpl.ID, &tmpl.OwnerID, &tmpl.Name, &tmpl.Subject, &tmpl.BodyHTML, &tmpl.BodyText,
		&tmpl.Category, &tmpl.Placeholders, &tmpl.Active, &tmpl.CreatedAt, &tmpl.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.ValidationError(fmt.Sprintf("no template with id %s", id))
	}
	if err != nil {
		return nil, apperrors.StorageFailed("failed to get message template", err)
	}

	return tmpl, nil
}

// ListMessageTemplates returns an owner's active templates, newest first.
func (s *Store) ListMessageTemplates(ctx context.Context, ownerID string) ([]*MessageTemplate, error) {
	query := s.rebind(`SELECT id, owner_id, name, subject, body_html, body_text, category,
		placeholders, active, created_at, updated_at
		FROM message_templates WHERE owner_id = ? AND active = TRUE
		ORDER BY created_at DESC`)

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, apperrors.StorageFailed("failed to list message templates", err)
	}
	defer rows.Close()

	var templates []*MessageTemplate
	for rows.Next() {
		tmpl := &MessageTemplate{}
		err := rows.Scan(
			&tmpl.ID, &tmpl.OwnerID, &tmpl.Name, &tmpl.Subject, &tmpl.BodyHTML, &tmpl.BodyText,
			&tmpl.Category, &tmpl.Placeholders, &tmpl.Active, &tmpl.CreatedAt, &tmpl.UpdatedAt)
		if err != nil {
			return nil, apperrors.StorageFailed("failed to scan message template", err)
		}
		templates = append(templates, tmpl)
	}

	return templates, rows.Err()
}

// CreateSyncLogEntry appends an audit record. Never updates existing rows.
func (s *Store) CreateSyncLogEntry(ctx context.Context, entry *SyncLogEntry) error {
	if entry.ID == "" {
		entry.ID = cuid.New()
	}
	entry.CreatedAt = time.Now().UTC()

	query := s.rebind(`INSERT INTO sync_log
		(id, owner_id, operation, status, message_count, error_detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.OwnerID, entry.Operation, entry.Status,
		entry.MessageCount, entry.ErrorDetail, entry.CreatedAt)
	if err != nil {
		return apperrors.StorageFailed("failed to create sync log entry", err)
	}

	return nil
}

// ListSyncLogEntries returns an owner's audit records, newest first.
func (s *Store) ListSyncLogEntries(ctx context.Context, ownerID string, limit int) ([]*SyncLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := s.rebind(`SELECT id, owner_id, operation, status, message_count, error_detail, created_at
		FROM sync_log WHERE owner_id = ? ORDER BY created_at DESC LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, apperrors.StorageFailed("failed to list sync log entries", err)
	}
	defer rows.Close()

	var entries []*SyncLogEntry
	for rows.Next() {
		entry := &SyncLogEntry{}
		err := rows.Scan(&entry.ID, &entry.OwnerID, &entry.Operation, &entry.Status,
			&entry.MessageCount, &entry.ErrorDetail, &entry.CreatedAt)
		if err != nil {
			return nil, apperrors.StorageFailed("failed to scan sync log entry", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
