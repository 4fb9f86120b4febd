package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "crm-mailer/internal/common/errors"
	"crm-mailer/internal/mailer"
)

// SendMessage dispatches one outbound message on behalf of the caller and
// returns its persisted send record.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req mailer.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendAppError(w, r, apperrors.ValidationError("invalid request body"))
		return
	}
	req.OwnerID = userID

	record, err := h.dispatcher.Dispatch(r.Context(), &req)
	if err != nil {
		h.sendAppError(w, r, err)
		return
	}

	h.sendJSONResponse(w, http.StatusCreated, record)
}

// ListMessages returns the caller's send records, newest first. The limit
// query parameter caps the page size.
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, err := h.store.ListOutboundMessages(r.Context(), userID, limit)
	if err != nil {
		h.sendAppError(w, r, err)
		return
	}

	h.sendJSONResponse(w, http.StatusOK, messages)
}

// UpdateMessageStatus applies an asynchronous delivery-status update to a
// send record, typically fed by provider delivery notifications.
func (h *Handlers) UpdateMessageStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req struct {
		Status      string `json:"status"`
		ErrorDetail string `json:"error_detail,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendAppError(w, r, apperrors.ValidationError("invalid request body"))
		return
	}

	messageID := mux.Vars(r)["id"]
	if err := h.store.UpdateOutboundMessageStatus(r.Context(), userID, messageID, req.Status, req.ErrorDetail); err != nil {
		h.sendAppError(w, r, err)
		return
	}

	h.sendJSONResponse(w, http.StatusOK, map[string]bool{"updated": true})
}

// ListSyncLog returns the caller's audit entries, newest first.
func (h *Handlers) ListSyncLog(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.store.ListSyncLogEntries(r.Context(), userID, limit)
	if err != nil {
		h.sendAppError(w, r, err)
		return
	}

	h.sendJSONResponse(w, http.StatusOK, entries)
}
