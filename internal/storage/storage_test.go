package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "crm-mailer/internal/common/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(DialectSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testAccount(ownerID string) *LinkedAccount {
	return &LinkedAccount{
		OwnerID:               ownerID,
		Provider:              "google",
		AccountEmail:          "user@example.com",
		EncryptedAccessToken:  "enc-access",
		EncryptedRefreshToken: "enc-refresh",
		TokenExpiry:           time.Now().Add(time.Hour),
		Scope:                 "https://www.googleapis.com/auth/gmail.send",
	}
}

func TestStore_UpsertLinkedAccount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := testAccount("owner-1")
	require.NoError(t, store.UpsertLinkedAccount(ctx, account))
	require.NotEmpty(t, account.ID)
	firstID := account.ID

	got, err := store.GetActiveLinkedAccount(ctx, "owner-1", "google")
	require.NoError(t, err)
	assert.Equal(t, firstID, got.ID)
	assert.Equal(t, "enc-access", got.EncryptedAccessToken)
	assert.True(t, got.Active)

	// Repeat handshake for the same account replaces tokens, keeps identity.
	again := testAccount("owner-1")
	again.EncryptedAccessToken = "enc-access-2"
	require.NoError(t, store.UpsertLinkedAccount(ctx, again))
	assert.Equal(t, firstID, again.ID)

	got, err = store.GetActiveLinkedAccount(ctx, "owner-1", "google")
	require.NoError(t, err)
	assert.Equal(t, "enc-access-2", got.EncryptedAccessToken)

	var count int
	require.NoError(t, store.db.QueryRow(
		`SELECT COUNT(*) FROM linked_accounts WHERE owner_id = 'owner-1'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestStore_GetActiveLinkedAccount_NoAccount(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetActiveLinkedAccount(context.Background(), "nobody", "google")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNoAccount, apperrors.KindOf(err))
}

func TestStore_DeactivateLinkedAccount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := testAccount("owner-1")
	require.NoError(t, store.UpsertLinkedAccount(ctx, account))
	require.NoError(t, store.DeactivateLinkedAccount(ctx, account.ID))

	_, err := store.GetActiveLinkedAccount(ctx, "owner-1", "google")
	assert.Equal(t, apperrors.KindNoAccount, apperrors.KindOf(err))

	// Row survives for the audit trail.
	got, err := store.GetLinkedAccountByID(ctx, account.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	// A new handshake reactivates it.
	require.NoError(t, store.UpsertLinkedAccount(ctx, testAccount("owner-1")))
	got, err = store.GetActiveLinkedAccount(ctx, "owner-1", "google")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
}

func TestStore_UpdateLinkedAccountTokens(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := testAccount("owner-1")
	require.NoError(t, store.UpsertLinkedAccount(ctx, account))

	newExpiry := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)

	t.Run("access token only", func(t *testing.T) {
		require.NoError(t, store.UpdateLinkedAccountTokens(ctx, account.ID, "enc-access-new", "", newExpiry))

		got, err := store.GetLinkedAccountByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "enc-access-new", got.EncryptedAccessToken)
		assert.Equal(t, "enc-refresh", got.EncryptedRefreshToken)
	})

	t.Run("rotated refresh token", func(t *testing.T) {
		require.NoError(t, store.UpdateLinkedAccountTokens(ctx, account.ID, "enc-access-3", "enc-refresh-2", newExpiry))

		got, err := store.GetLinkedAccountByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, "enc-access-3", got.EncryptedAccessToken)
		assert.Equal(t, "enc-refresh-2", got.EncryptedRefreshToken)
	})
}

func TestStore_OutboundMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := testAccount("owner-1")
	require.NoError(t, store.UpsertLinkedAccount(ctx, account))

	sentAt := time.Now().UTC()
	msg := &OutboundMessage{
		LinkedAccountID:   account.ID,
		ProviderMessageID: "gmail-msg-1",
		ProviderThreadID:  "gmail-thread-1",
		Recipients:        "a@example.com,b@example.com",
		Subject:           "Hello",
		BodyHTML:          "<p>Hello</p>",
		BodyText:          "Hello",
		Status:            MessageStatusSent,
		SentAt:            &sentAt,
		Metadata:          `{"cc":["c@example.com"]}`,
	}
	require.NoError(t, store.CreateOutboundMessage(ctx, msg))
	require.NotEmpty(t, msg.ID)

	messages, err := store.ListOutboundMessages(ctx, "owner-1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "gmail-msg-1", messages[0].ProviderMessageID)
	assert.Equal(t, MessageStatusSent, messages[0].Status)
	require.NotNil(t, messages[0].SentAt)

	// Other owners see nothing.
	messages, err = store.ListOutboundMessages(ctx, "owner-2", 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestStore_UpdateOutboundMessageStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := testAccount("owner-1")
	require.NoError(t, store.UpsertLinkedAccount(ctx, account))

	msg := &OutboundMessage{
		LinkedAccountID: account.ID,
		Recipients:      "a@example.com",
		Subject:         "Hello",
		Status:          MessageStatusSent,
	}
	require.NoError(t, store.CreateOutboundMessage(ctx, msg))

	tests := []struct {
		name    string
		status  string
		detail  string
		wantErr bool
	}{
		{name: "delivered", status: MessageStatusDelivered},
		{name: "bounced", status: MessageStatusBounced, detail: "mailbox full"},
		{name: "invalid status", status: "queued", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.UpdateOutboundMessageStatus(ctx, "owner-1", msg.ID, tt.status, tt.detail)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			messages, err := store.ListOutboundMessages(ctx, "owner-1", 0)
			require.NoError(t, err)
			require.Len(t, messages, 1)
			assert.Equal(t, tt.status, messages[0].Status)
		})
	}

	err := store.UpdateOutboundMessageStatus(ctx, "owner-1", "missing-id", MessageStatusDelivered, "")
	require.Error(t, err)
}

func TestStore_UpdateOutboundMessageStatus_OwnerScoped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := testAccount("owner-1")
	require.NoError(t, store.UpsertLinkedAccount(ctx, account))

	msg := &OutboundMessage{
		LinkedAccountID: account.ID,
		Recipients:      "a@example.com",
		Subject:         "Hello",
		Status:          MessageStatusSent,
	}
	require.NoError(t, store.CreateOutboundMessage(ctx, msg))

	// Another owner cannot touch the record, even with a valid id.
	err := store.UpdateOutboundMessageStatus(ctx, "owner-2", msg.ID, MessageStatusFailed, "forged")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	messages, err := store.ListOutboundMessages(ctx, "owner-1", 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, MessageStatusSent, messages[0].Status)
	assert.Empty(t, messages[0].ErrorDetail)

	require.NoError(t, store.UpdateOutboundMessageStatus(ctx, "owner-1", msg.ID, MessageStatusDelivered, ""))
}

func TestStore_MessageTemplates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tmpl := &MessageTemplate{
		OwnerID:      "owner-1",
		Name:         "Intro",
		Subject:      "Hi {{first_name}}",
		BodyHTML:     "<p>Hi {{first_name}} at {{company}}</p>",
		Category:     TemplateCategoryOutreach,
		Placeholders: `["first_name","company"]`,
		Active:       true,
	}
	require.NoError(t, store.CreateMessageTemplate(ctx, tmpl))
	require.NotEmpty(t, tmpl.ID)

	got, err := store.GetMessageTemplate(ctx, "owner-1", tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Intro", got.Name)
	assert.Equal(t, TemplateCategoryOutreach, got.Category)

	// Ownership is enforced on reads.
	_, err = store.GetMessageTemplate(ctx, "owner-2", tmpl.ID)
	require.Error(t, err)

	templates, err := store.ListMessageTemplates(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, templates, 1)
}

func TestStore_SyncLog(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entries := []*SyncLogEntry{
		{OwnerID: "owner-1", Operation: "send_email", Status: SyncStatusSuccess, MessageCount: 1},
		{OwnerID: "owner-1", Operation: "send_email", Status: SyncStatusError, ErrorDetail: "provider rejected message"},
	}
	for _, e := range entries {
		require.NoError(t, store.CreateSyncLogEntry(ctx, e))
	}

	got, err := store.ListSyncLogEntries(ctx, "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	got, err = store.ListSyncLogEntries(ctx, "owner-2", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_Rebind(t *testing.T) {
	sqlite := &Store{dialect: DialectSQLite}
	postgres := &Store{dialect: DialectPostgres}

	query := `SELECT * FROM t WHERE a = ? AND b = ?`
	assert.Equal(t, query, sqlite.rebind(query))
	assert.Equal(t, `SELECT * FROM t WHERE a = $1 AND b = $2`, postgres.rebind(query))
}
