// Package handlers exposes the mail subsystem over HTTP. Every handler
// resolves the caller from the request context, delegates to the domain
// packages, and maps error kinds to HTTP statuses with a single
// human-readable message. Encrypted token material never appears in a
// response body.
package handlers

import (
	"encoding/json"
	"net/http"

	"crm-mailer/internal/auth"
	apperrors "crm-mailer/internal/common/errors"
	"crm-mailer/internal/common/logging"
	"crm-mailer/internal/mailer"
	"crm-mailer/internal/oauth2"
	"crm-mailer/internal/storage"
)

type Handlers struct {
	store      *storage.Store
	handshake  *oauth2.Handshake
	lifecycle  *oauth2.Lifecycle
	dispatcher *mailer.Dispatcher
	logger     logging.Logger
}

func New(store *storage.Store, handshake *oauth2.Handshake, lifecycle *oauth2.Lifecycle, dispatcher *mailer.Dispatcher, logger logging.Logger) *Handlers {
	return &Handlers{
		store:      store,
		handshake:  handshake,
		lifecycle:  lifecycle,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (h *Handlers) sendJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", err)
	}
}

// sendAppError maps the error's kind to an HTTP status and logs the cause
// server-side. The response carries the kind and message only; wrapped
// causes may contain provider details that do not belong on the wire.
func (h *Handlers) sendAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	message := "internal server error"
	kind := apperrors.KindInternal

	var appErr *apperrors.AppError
	if apperrors.AsAppError(err, &appErr) {
		message = appErr.Message
		kind = appErr.Kind
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", err,
			logging.String("path", r.URL.Path),
			logging.String("method", r.Method))
	} else {
		h.logger.Warn("Request rejected",
			logging.String("path", r.URL.Path),
			logging.String("kind", string(kind)),
			logging.Err(err))
	}

	h.sendJSONResponse(w, status, map[string]string{
		"error": message,
		"kind":  string(kind),
	})
}

// callerID pulls the authenticated user set by the auth middleware.
func (h *Handlers) callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		h.sendAppError(w, r, apperrors.Unauthorized("authentication required"))
		return "", false
	}
	return userID, true
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.sendJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
