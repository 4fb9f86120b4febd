package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "crm-mailer/internal/common/errors"
	"crm-mailer/internal/common/logging"
	"crm-mailer/internal/crypto"
	"crm-mailer/internal/storage"
)

// AccountStore is the persistence surface the lifecycle manager needs.
// Satisfied by *storage.Store.
type AccountStore interface {
	GetActiveLinkedAccount(ctx context.Context, ownerID, provider string) (*storage.LinkedAccount, error)
	GetLinkedAccountByID(ctx context.Context, id string) (*storage.LinkedAccount, error)
	UpsertLinkedAccount(ctx context.Context, account *storage.LinkedAccount) error
	UpdateLinkedAccountTokens(ctx context.Context, id, encryptedAccess, encryptedRefresh string, expiry time.Time) error
	DeactivateLinkedAccount(ctx context.Context, id string) error
}

// tokenResponse maps the RFC 6749 token endpoint response fields.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Lifecycle owns decryption and refresh of stored credentials. Plaintext
// tokens only ever exist in memory on their way to a provider call; the
// store sees encrypted blobs exclusively.
//
// Refreshes for the same account are serialized through a singleflight
// group, so two concurrent callers hitting an expired account produce one
// provider call and share its result. Providers that rotate refresh tokens
// invalidate the old one on use, which makes a duplicate refresh not just
// wasteful but fatal to the grant.
type Lifecycle struct {
	store        AccountStore
	vault        *crypto.Vault
	clientID     string
	clientSecret string
	tokenURL     string
	httpClient   *http.Client
	logger       logging.Logger
	group        singleflight.Group
	now          func() time.Time
}

// LifecycleConfig carries the provider credentials and endpoint for refresh
// calls. TokenURL is overridable for tests.
type LifecycleConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client
}

func NewLifecycle(store AccountStore, vault *crypto.Vault, cfg LifecycleConfig, logger logging.Logger) *Lifecycle {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Lifecycle{
		store:        store,
		vault:        vault,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURL:     cfg.TokenURL,
		httpClient:   httpClient,
		logger:       logger,
		now:          time.Now,
	}
}

// GetValidAccessToken returns a plaintext access token for the owner's
// active account, refreshing it first when the stored one has expired.
func (l *Lifecycle) GetValidAccessToken(ctx context.Context, ownerID, provider string) (string, error) {
	account, err := l.store.GetActiveLinkedAccount(ctx, ownerID, provider)
	if err != nil {
		return "", err
	}

	if l.now().Before(account.TokenExpiry) {
		return l.vault.Decrypt(account.EncryptedAccessToken)
	}

	return l.refreshShared(ctx, account.ID)
}

// refreshShared collapses concurrent refreshes of one account into a single
// provider call. The account is re-read inside the critical section: the
// winner of the race refreshes, later entrants see the fresh expiry and
// return the already-updated token without touching the provider.
func (l *Lifecycle) refreshShared(ctx context.Context, accountID string) (string, error) {
	// The flight is shared by every concurrent caller, so it must not die
	// with the one that happened to start it.
	ctx = context.WithoutCancel(ctx)
	token, err, _ := l.group.Do(accountID, func() (interface{}, error) {
		account, err := l.store.GetLinkedAccountByID(ctx, accountID)
		if err != nil {
			return "", err
		}
		if !account.Active {
			return "", apperrors.NoAccount(account.OwnerID, account.Provider)
		}
		if l.now().Before(account.TokenExpiry) {
			return l.vault.Decrypt(account.EncryptedAccessToken)
		}
		return l.refresh(ctx, account)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// refresh exchanges the stored refresh token for a new access token and
// persists the result. A provider rejection deactivates the account so
// callers see NO_ACCOUNT instead of retrying a revoked grant forever.
func (l *Lifecycle) refresh(ctx context.Context, account *storage.LinkedAccount) (string, error) {
	refreshToken, err := l.vault.Decrypt(account.EncryptedRefreshToken)
	if err != nil {
		return "", err
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", l.clientID)
	data.Set("client_secret", l.clientSecret)

	req, err := http.NewRequestWithContext(ctx, "POST", l.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", apperrors.InternalError("failed to create refresh request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", apperrors.RefreshFailed("refresh request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		l.deactivate(ctx, account)

		var errResp struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return "", apperrors.RefreshFailed(
				fmt.Sprintf("provider rejected refresh: %s - %s", errResp.Error, errResp.Description), nil)
		}
		return "", apperrors.RefreshFailed(
			fmt.Sprintf("refresh failed with status %d", resp.StatusCode), nil)
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", apperrors.RefreshFailed("failed to decode refresh response", err)
	}
	if tokenResp.AccessToken == "" {
		l.deactivate(ctx, account)
		return "", apperrors.RefreshFailed("refresh response missing access token", nil)
	}

	expiry := l.now()
	if tokenResp.ExpiresIn > 0 {
		expiry = expiry.Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}

	encryptedAccess, err := l.vault.Encrypt(tokenResp.AccessToken)
	if err != nil {
		return "", err
	}

	// Most providers keep the refresh token stable; Google rotates it only
	// in specific circumstances. Persist the rotation when it happens.
	var encryptedRefresh string
	if tokenResp.RefreshToken != "" && tokenResp.RefreshToken != refreshToken {
		encryptedRefresh, err = l.vault.Encrypt(tokenResp.RefreshToken)
		if err != nil {
			return "", err
		}
	}

	if err := l.store.UpdateLinkedAccountTokens(ctx, account.ID, encryptedAccess, encryptedRefresh, expiry); err != nil {
		return "", err
	}

	l.logger.Info("Refreshed access token",
		logging.String("account_id", account.ID),
		logging.String("provider", account.Provider),
		logging.Time("expiry", expiry))

	return tokenResp.AccessToken, nil
}

func (l *Lifecycle) deactivate(ctx context.Context, account *storage.LinkedAccount) {
	if err := l.store.DeactivateLinkedAccount(ctx, account.ID); err != nil {
		l.logger.Error("Failed to deactivate account after refresh rejection", err,
			logging.String("account_id", account.ID))
		return
	}
	l.logger.Warn("Deactivated linked account after provider rejected refresh",
		logging.String("account_id", account.ID),
		logging.String("owner_id", account.OwnerID))
}

// Disconnect clears the active flag on the owner's account for a provider.
// Send history referencing the account is preserved.
func (l *Lifecycle) Disconnect(ctx context.Context, ownerID, provider string) error {
	account, err := l.store.GetActiveLinkedAccount(ctx, ownerID, provider)
	if err != nil {
		return err
	}
	return l.store.DeactivateLinkedAccount(ctx, account.ID)
}
