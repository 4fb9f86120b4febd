package storage

import "time"

// Message delivery statuses.
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusFailed    = "failed"
	MessageStatusBounced   = "bounced"
)

// Template categories.
const (
	TemplateCategoryOutreach   = "outreach"
	TemplateCategoryFollowUp   = "follow_up"
	TemplateCategoryScheduling = "scheduling"
	TemplateCategoryOther      = "other"
)

// Sync log statuses.
const (
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// LinkedAccount is a mail account connected through the OAuth2 handshake.
// Token fields hold vault-encrypted blobs, never plaintext. At most one
// active row exists per (owner_id, provider, account_email). Disconnecting
// clears the active flag; rows are never hard-deleted.
type LinkedAccount struct {
	ID                    string     `json:"id"`
	OwnerID               string     `json:"owner_id"`
	Provider              string     `json:"provider"`
	AccountEmail          string     `json:"account_email"`
	EncryptedAccessToken  string     `json:"-"`
	EncryptedRefreshToken string     `json:"-"`
	TokenExpiry           time.Time  `json:"token_expiry"`
	Scope                 string     `json:"scope"`
	Active                bool       `json:"active"`
	LastSyncAt            *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// OutboundMessage records a single provider send. Created with status
// "sent"; only asynchronous delivery-status updates mutate it afterwards.
type OutboundMessage struct {
	ID                string     `json:"id"`
	PersonID          string     `json:"person_id,omitempty"`
	TemplateID        string     `json:"template_id,omitempty"`
	LinkedAccountID   string     `json:"linked_account_id"`
	ProviderMessageID string     `json:"provider_message_id"`
	ProviderThreadID  string     `json:"provider_thread_id,omitempty"`
	Recipients        string     `json:"recipients"` // comma-separated To addresses
	Subject           string     `json:"subject"`
	BodyHTML          string     `json:"body_html"`
	BodyText          string     `json:"body_text"`
	Status            string     `json:"status"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`
	ErrorDetail       string     `json:"error_detail,omitempty"`
	Metadata          string     `json:"metadata"` // JSON blob: cc, bcc, all recipients
	CreatedAt         time.Time  `json:"created_at"`
}

// MessageTemplate is a reusable subject/body pattern with {{placeholder}}
// tokens substituted at compose time.
type MessageTemplate struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Name         string    `json:"name"`
	Subject      string    `json:"subject"`
	BodyHTML     string    `json:"body_html"`
	BodyText     string    `json:"body_text,omitempty"`
	Category     string    `json:"category"`
	Placeholders string    `json:"placeholders"` // JSON array of recognized tokens
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SyncLogEntry is an append-only audit record of mail operations.
type SyncLogEntry struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Operation    string    `json:"operation"`
	Status       string    `json:"status"`
	MessageCount int       `json:"message_count"`
	ErrorDetail  string    `json:"error_detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
