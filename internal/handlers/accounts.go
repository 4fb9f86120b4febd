package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// AccountResponse is the wire shape of a linked account. Token material is
// summarized as a connected flag, never echoed.
type AccountResponse struct {
	ID           string     `json:"id"`
	Provider     string     `json:"provider"`
	AccountEmail string     `json:"account_email"`
	Active       bool       `json:"active"`
	TokenExpiry  time.Time  `json:"token_expiry"`
	Scope        string     `json:"scope,omitempty"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ConnectAccount starts the OAuth2 handshake and returns the provider
// consent URL for the frontend to redirect to.
func (h *Handlers) ConnectAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	authURL, err := h.handshake.BuildAuthorizationURL(userID)
	if err != nil {
		h.sendAppError(w, r, err)
		return
	}

	h.sendJSONResponse(w, http.StatusOK, map[string]string{
		"authorization_url": authURL,
	})
}

// OAuthCallback completes the handshake. The route is unauthenticated; the
// caller's identity travels in the state token, bound server-side when the
// connect was initiated.
func (h *Handlers) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")

	if errParam := query.Get("error"); errParam != "" {
		// The user declined consent at the provider. Consume the state so it
		// cannot be replayed, then report the denial.
		if state != "" {
			h.handshake.ConsumeState(state)
		}
		h.sendJSONResponse(w, http.StatusBadRequest, map[string]string{
			"error": "provider authorization was denied: " + errParam,
		})
		return
	}

	account, err := h.handshake.HandleCallback(r.Context(), code, state)
	if err != nil {
		h.sendAppError(w, r, err)
		return
	}

	h.sendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"connected": true,
		"account": AccountResponse{
			ID:           account.ID,
			Provider:     account.Provider,
			AccountEmail: account.AccountEmail,
			Active:       account.Active,
			TokenExpiry:  account.TokenExpiry,
			Scope:        account.Scope,
			CreatedAt:    account.CreatedAt,
		},
	})
}

// ListAccounts returns all of the caller's linked accounts.
func (h *Handlers) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	accounts, err := h.store.ListLinkedAccounts(r.Context(), userID)
	if err != nil {
		h.sendAppError(w, r, err)
		return
	}

	response := make([]AccountResponse, 0, len(accounts))
	for _, account := range accounts {
		response = append(response, AccountResponse{
			ID:           account.ID,
			Provider:     account.Provider,
			AccountEmail: account.AccountEmail,
			Active:       account.Active,
			TokenExpiry:  account.TokenExpiry,
			Scope:        account.Scope,
			LastSyncAt:   account.LastSyncAt,
			CreatedAt:    account.CreatedAt,
		})
	}

	h.sendJSONResponse(w, http.StatusOK, response)
}

// DisconnectAccount soft-deletes the caller's account for a provider. Send
// history referencing the account remains readable.
func (h *Handlers) DisconnectAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	provider := mux.Vars(r)["provider"]
	if err := h.lifecycle.Disconnect(r.Context(), userID, provider); err != nil {
		h.sendAppError(w, r, err)
		return
	}

	h.sendJSONResponse(w, http.StatusOK, map[string]bool{"disconnected": true})
}
