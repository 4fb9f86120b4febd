package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	xoauth2 "golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	apperrors "crm-mailer/internal/common/errors"
	"crm-mailer/internal/common/logging"
	"crm-mailer/internal/crypto"
	"crm-mailer/internal/storage"
)

const ProviderGoogle = "google"

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

var googleScopes = []string{
	"https://www.googleapis.com/auth/gmail.send",
	"https://www.googleapis.com/auth/userinfo.email",
}

// HandshakeConfig configures the authorization-code flow. Endpoint URLs
// default to Google's and are overridable for tests.
type HandshakeConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	HTTPClient   *http.Client
}

// Handshake runs the OAuth2 authorization-code flow and persists the
// resulting credential as an active LinkedAccount. The callback is the only
// write path for new accounts; it either completes fully or writes nothing.
type Handshake struct {
	oauthCfg    *xoauth2.Config
	userInfoURL string
	httpClient  *http.Client
	states      *StateStore
	vault       *crypto.Vault
	store       AccountStore
	logger      logging.Logger
}

func NewHandshake(store AccountStore, vault *crypto.Vault, states *StateStore, cfg HandshakeConfig, logger logging.Logger) *Handshake {
	endpoint := google.Endpoint
	if cfg.AuthURL != "" && cfg.TokenURL != "" {
		endpoint = xoauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL}
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = googleUserInfoURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Handshake{
		oauthCfg: &xoauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       googleScopes,
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		httpClient:  httpClient,
		states:      states,
		vault:       vault,
		store:       store,
		logger:      logger,
	}
}

// BuildAuthorizationURL issues a state token for ownerID and returns the
// provider consent URL to redirect the caller to. AccessTypeOffline plus a
// forced consent prompt makes Google return a refresh token even for repeat
// connects.
func (h *Handshake) BuildAuthorizationURL(ownerID string) (string, error) {
	state, err := h.states.Generate(ownerID)
	if err != nil {
		return "", err
	}

	return h.oauthCfg.AuthCodeURL(state,
		xoauth2.AccessTypeOffline,
		xoauth2.SetAuthURLParam("prompt", "consent")), nil
}

// ConsumeState invalidates a state token without completing the handshake.
// Used when the provider reports a consent denial on the callback.
func (h *Handshake) ConsumeState(state string) {
	h.states.Validate(state)
}

// HandleCallback completes the handshake: validates the state token,
// exchanges the authorization code, resolves the account identity, and
// persists the encrypted credential. State validation happens first; an
// invalid state aborts before any network call.
func (h *Handshake) HandleCallback(ctx context.Context, code, state string) (*storage.LinkedAccount, error) {
	ownerID, err := h.states.Validate(state)
	if err != nil {
		return nil, err
	}

	if code == "" {
		return nil, apperrors.ValidationError("authorization code is required")
	}

	ctx = context.WithValue(ctx, xoauth2.HTTPClient, h.httpClient)
	token, err := h.oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, apperrors.TokenExchangeFailed(err)
	}
	if token.RefreshToken == "" {
		return nil, apperrors.TokenExchangeFailed(
			fmt.Errorf("provider did not return a refresh token"))
	}

	email, err := h.fetchAccountEmail(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	encryptedAccess, err := h.vault.Encrypt(token.AccessToken)
	if err != nil {
		return nil, err
	}
	encryptedRefresh, err := h.vault.Encrypt(token.RefreshToken)
	if err != nil {
		return nil, err
	}

	scope, _ := token.Extra("scope").(string)
	account := &storage.LinkedAccount{
		OwnerID:               ownerID,
		Provider:              ProviderGoogle,
		AccountEmail:          email,
		EncryptedAccessToken:  encryptedAccess,
		EncryptedRefreshToken: encryptedRefresh,
		TokenExpiry:           token.Expiry,
		Scope:                 scope,
	}

	if err := h.store.UpsertLinkedAccount(ctx, account); err != nil {
		return nil, err
	}

	h.logger.Info("Linked mail account",
		logging.String("owner_id", ownerID),
		logging.String("account_email", email),
		logging.String("account_id", account.ID))

	return account, nil
}

func (h *Handshake) fetchAccountEmail(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", h.userInfoURL, nil)
	if err != nil {
		return "", apperrors.InternalError("failed to create userinfo request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", apperrors.UserInfoFailed(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.UserInfoFailed(
			fmt.Errorf("userinfo request failed with status %d", resp.StatusCode))
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", apperrors.UserInfoFailed(err)
	}
	if info.Email == "" {
		return "", apperrors.UserInfoFailed(fmt.Errorf("userinfo response missing email"))
	}

	return info.Email, nil
}
