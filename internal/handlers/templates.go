package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "crm-mailer/internal/common/errors"
	"crm-mailer/internal/storage"
)

type templateRequest struct {
	Name         string   `json:"name"`
	Subject      string   `json:"subject"`
	BodyHTML     string   `json:"body_html"`
	BodyText     string   `json:"body_text,omitempty"`
	Category     string   `json:"category,omitempty"`
	Placeholders []string `json:"placeholders,omitempty"`
}

func (r *templateRequest) validate() error {
	if r.Name == "" {
		return apperrors.ValidationError("template name is required")
	}
	if r.Subject == "" {
		return apperrors.ValidationError("template subject is required")
	}
	if r.BodyHTML == "" && r.BodyText == "" {
		return apperrors.ValidationError("template body is required")
	}

	switch r.Category {
	case "", storage.TemplateCategoryOutreach, storage.TemplateCategoryFollowUp,
		storage.TemplateCategoryScheduling, storage.TemplateCategoryOther:
	default:
		return apperrors.ValidationError(fmt.Sprintf("unknown template category: %s", r.Category))
	}
	return nil
}

// CreateTemplate stores a reusable message template for the caller.
func (h *Handlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendAppError(w, r, apperrors.ValidationError("invalid request body"))
		return
	}
	if err := req.validate(); err != nil {
		h.sendAppError(w, r, err)
		return
	}

	placeholders := "[]"
	if len(req.Placeholders) > 0 {
		data, err := json.Marshal(req.Placeholders)
		if err != nil {
			h.sendAppError(w, r, apperrors.InternalError("failed to encode placeholders", err))
			return
		}
		placeholders = string(data)
	}

	tmpl := &storage.MessageTemplate{
		OwnerID:      userID,
		Name:         req.Name,
		Subject:      req.Subject,
		BodyHTML:     req.BodyHTML,
		BodyText:     req.BodyText,
		Category:     req.Category,
		Placeholders: placeholders,
		Active:       true,
	}
	if err := h.store.CreateMessageTemplate(r.Context(), tmpl); err != nil {
		h.sendAppError(w, r, err)
		return
	}

	h.sendJSONResponse(w, http.StatusCreated, tmpl)
}

// GetTemplate returns one of the caller's templates.
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	tmpl, err := h.store.GetMessageTemplate(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.sendAppError(w, r, err)
		return
	}

	h.sendJSONResponse(w, http.StatusOK, tmpl)
}

// ListTemplates returns the caller's active templates.
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	templates, err := h.store.ListMessageTemplates(r.Context(), userID)
	if err != nil {
		h.sendAppError(w, r, err)
		return
	}

	h.sendJSONResponse(w, http.StatusOK, templates)
}
