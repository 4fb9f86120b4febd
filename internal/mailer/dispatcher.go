package mailer

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	apperrors "crm-mailer/internal/common/errors"
	"crm-mailer/internal/common/logging"
	"crm-mailer/internal/ratelimit"
	"crm-mailer/internal/storage"
)

const sendOperation = "send_email"

// TokenSource yields a valid plaintext access token for an owner's linked
// account. Satisfied by *oauth2.Lifecycle.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context, ownerID, provider string) (string, error)
}

// DispatchStore is the persistence surface the dispatcher needs. Satisfied
// by *storage.Store.
type DispatchStore interface {
	GetActiveLinkedAccount(ctx context.Context, ownerID, provider string) (*storage.LinkedAccount, error)
	GetMessageTemplate(ctx context.Context, ownerID, id string) (*storage.MessageTemplate, error)
	CreateOutboundMessage(ctx context.Context, msg *storage.OutboundMessage) error
	CreateSyncLogEntry(ctx context.Context, entry *storage.SyncLogEntry) error
	TouchLinkedAccountSync(ctx context.Context, id string) error
}

// DispatchRequest is one send on behalf of an owner. Subject and bodies may
// come either directly or from a template; when TemplateID is set the
// template is rendered with TemplateData and wins over the inline fields.
type DispatchRequest struct {
	OwnerID      string            `json:"-"`
	Provider     string            `json:"provider,omitempty"`
	PersonID     string            `json:"person_id,omitempty"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	To           []string          `json:"to"`
	Cc           []string          `json:"cc,omitempty"`
	Bcc          []string          `json:"bcc,omitempty"`
	Subject      string            `json:"subject,omitempty"`
	BodyText     string            `json:"body_text,omitempty"`
	BodyHTML     string            `json:"body_html,omitempty"`
}

// Dispatcher runs the send pipeline: rate limit, token fetch, compose,
// provider send, record write, in that order. A denied rate-limit check
// short-circuits before any network call; a provider rejection is recorded
// in the audit log but never as a sent message.
type Dispatcher struct {
	store   DispatchStore
	tokens  TokenSource
	limiter ratelimit.Limiter
	sender  Sender
	logger  logging.Logger
}

func NewDispatcher(store DispatchStore, tokens TokenSource, limiter ratelimit.Limiter, sender Sender, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		tokens:  tokens,
		limiter: limiter,
		sender:  sender,
		logger:  logger,
	}
}

// Dispatch sends one message and returns its persisted record.
func (d *Dispatcher) Dispatch(ctx context.Context, req *DispatchRequest) (*storage.OutboundMessage, error) {
	if req.Provider == "" {
		req.Provider = "google"
	}

	account, err := d.store.GetActiveLinkedAccount(ctx, req.OwnerID, req.Provider)
	if err != nil {
		return nil, err
	}

	subject, bodyHTML, bodyText := req.Subject, req.BodyHTML, req.BodyText
	if req.TemplateID != "" {
		tmpl, err := d.store.GetMessageTemplate(ctx, req.OwnerID, req.TemplateID)
		if err != nil {
			return nil, err
		}
		subject, bodyHTML, bodyText = RenderTemplate(tmpl, req.TemplateData)
	}

	composeReq := &ComposeRequest{
		From:     account.AccountEmail,
		To:       req.To,
		Cc:       req.Cc,
		Bcc:      req.Bcc,
		Subject:  subject,
		BodyText: bodyText,
		BodyHTML: bodyHTML,
	}
	if err := composeReq.Validate(); err != nil {
		return nil, err
	}

	allowed, err := d.limiter.Allow(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, apperrors.RateLimited(account.ID)
	}

	accessToken, err := d.tokens.GetValidAccessToken(ctx, req.OwnerID, req.Provider)
	if err != nil {
		return nil, err
	}

	raw, err := Compose(composeReq)
	if err != nil {
		return nil, err
	}

	messageID, threadID, err := d.sender.Send(ctx, accessToken, raw)
	if err != nil {
		d.audit(ctx, req.OwnerID, storage.SyncStatusError, 0, err.Error())
		return nil, err
	}

	now := time.Now().UTC()
	record := &storage.OutboundMessage{
		PersonID:          req.PersonID,
		TemplateID:        req.TemplateID,
		LinkedAccountID:   account.ID,
		ProviderMessageID: messageID,
		ProviderThreadID:  threadID,
		Recipients:        strings.Join(req.To, ","),
		Subject:           subject,
		BodyHTML:          bodyHTML,
		BodyText:          bodyText,
		Status:            storage.MessageStatusSent,
		SentAt:            &now,
		Metadata:          buildMetadata(req),
	}
	if err := d.store.CreateOutboundMessage(ctx, record); err != nil {
		// The provider accepted the message; surface the storage failure but
		// record the delivery in the audit log so it is not lost entirely.
		d.audit(ctx, req.OwnerID, storage.SyncStatusError, 1, err.Error())
		return nil, err
	}

	if err := d.store.TouchLinkedAccountSync(ctx, account.ID); err != nil {
		d.logger.Warn("Failed to update account sync time",
			logging.String("account_id", account.ID), logging.Err(err))
	}
	d.audit(ctx, req.OwnerID, storage.SyncStatusSuccess, 1, "")

	d.logger.Info("Dispatched message",
		logging.String("owner_id", req.OwnerID),
		logging.String("account_id", account.ID),
		logging.String("provider_message_id", messageID),
		logging.Int("recipients", len(req.To)))

	return record, nil
}

// audit appends a sync log entry. Best-effort: an audit failure is logged
// and swallowed, it never changes the outcome of a dispatch.
func (d *Dispatcher) audit(ctx context.Context, ownerID, status string, count int, detail string) {
	entry := &storage.SyncLogEntry{
		OwnerID:      ownerID,
		Operation:    sendOperation,
		Status:       status,
		MessageCount: count,
		ErrorDetail:  detail,
	}
	if err := d.store.CreateSyncLogEntry(ctx, entry); err != nil {
		d.logger.Warn("Failed to write sync log entry",
			logging.String("owner_id", ownerID), logging.Err(err))
	}
}

func buildMetadata(req *DispatchRequest) string {
	all := make([]string, 0, len(req.To)+len(req.Cc)+len(req.Bcc))
	all = append(all, req.To...)
	all = append(all, req.Cc...)
	all = append(all, req.Bcc...)

	meta := map[string]interface{}{
		"cc":             req.Cc,
		"bcc":            req.Bcc,
		"all_recipients": all,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(data)
}
