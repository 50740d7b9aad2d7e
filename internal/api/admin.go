package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/ldninbox/internal/acl"
	"github.com/lalithlochan/ldninbox/internal/auth"
	"github.com/lalithlochan/ldninbox/internal/db"
)

const maxOriginIRILength = 1000

// CreateInboxRequest is the body of POST /admin/inboxes
type CreateInboxRequest struct {
	ResourceIRI *string `json:"resource_iri"`
	OwnerUserID *int64  `json:"owner_user_id"`
	InboxIRI    string  `json:"inbox_iri"`
	Visibility  string  `json:"visibility"`
}

// CreateRuleRequest is the body of POST /admin/inboxes/{id}/acl
type CreateRuleRequest struct {
	RuleType   string `json:"rule_type"`
	MatchKind  string `json:"match_kind"`
	MatchValue string `json:"match_value"`
}

// OriginRequest is the body of PUT /admin/origin
type OriginRequest struct {
	IRI  string `json:"iri"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// CreateInbox handles POST /admin/inboxes
func (h *Handler) CreateInbox(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.FromContext(r.Context())

	var req CreateInboxRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	inbox := &db.Inbox{
		OwnerUserID: caller.UserID,
		InboxIRI:    strings.TrimSpace(req.InboxIRI),
		Visibility:  strings.ToLower(strings.TrimSpace(req.Visibility)),
	}
	if inbox.InboxIRI == "" {
		h.writeError(w, http.StatusBadRequest, "inbox_iri is required")
		return
	}
	if req.ResourceIRI != nil {
		if iri := strings.TrimSpace(*req.ResourceIRI); iri != "" {
			inbox.ResourceIRI = &iri
		}
	}

	switch inbox.Visibility {
	case "":
		inbox.Visibility = db.VisibilityPublic
	case db.VisibilityPublic, db.VisibilityPrivate:
	default:
		h.writeError(w, http.StatusBadRequest, "visibility must be public or private")
		return
	}

	if req.OwnerUserID != nil && *req.OwnerUserID != caller.UserID {
		if !caller.IsAdmin {
			h.writeError(w, http.StatusForbidden, "Only admins may create inboxes for other users")
			return
		}
		if *req.OwnerUserID <= 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid owner_user_id")
			return
		}
		inbox.OwnerUserID = *req.OwnerUserID
	}

	if err := h.repo.CreateInbox(r.Context(), inbox); err != nil {
		if errors.Is(err, db.ErrConflict) {
			h.writeError(w, http.StatusConflict, "Inbox IRI already in use")
			return
		}
		h.logger.Error("failed to create inbox", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to create inbox")
		return
	}

	w.Header().Set("Location", inbox.InboxIRI)
	writeJSON(w, http.StatusCreated, inbox)
}

// SetPrimaryInbox handles POST /admin/inboxes/{id}/primary
func (h *Handler) SetPrimaryInbox(w http.ResponseWriter, r *http.Request) {
	inbox, ok := h.ownedInbox(w, r)
	if !ok {
		return
	}

	if err := h.repo.SetPrimaryInbox(r.Context(), inbox.ID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Inbox not found")
			return
		}
		h.logger.Error("failed to set primary inbox", zap.Error(err), zap.Int64("inbox_id", inbox.ID))
		h.writeError(w, http.StatusInternalServerError, "Failed to set primary inbox")
		return
	}

	inbox.IsPrimary = true
	writeJSON(w, http.StatusOK, inbox)
}

// ListRules handles GET /admin/inboxes/{id}/acl
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	inbox, ok := h.ownedInbox(w, r)
	if !ok {
		return
	}

	rules, err := h.repo.ListACLRules(r.Context(), inbox.ID)
	if err != nil {
		h.logger.Error("failed to list acl rules", zap.Error(err), zap.Int64("inbox_id", inbox.ID))
		h.writeError(w, http.StatusInternalServerError, "Failed to list ACL rules")
		return
	}
	if rules == nil {
		rules = []db.ACLRule{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"inbox_id": inbox.ID,
		"items":    rules,
	})
}

// CreateRule handles POST /admin/inboxes/{id}/acl
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	inbox, ok := h.ownedInbox(w, r)
	if !ok {
		return
	}

	var req CreateRuleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	ruleType, err := acl.ParseRuleType(req.RuleType)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "rule_type must be allow or deny")
		return
	}
	matchKind, err := acl.ParseMatchKind(req.MatchKind)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid match_kind")
		return
	}
	value := strings.TrimSpace(req.MatchValue)
	if value == "" {
		h.writeError(w, http.StatusBadRequest, "match_value is required")
		return
	}

	rule := &db.ACLRule{
		InboxID:   inbox.ID,
		RuleType:  ruleType,
		MatchKind: matchKind,
		Value:     value,
	}
	if err := h.repo.CreateACLRule(r.Context(), rule); err != nil {
		h.logger.Error("failed to create acl rule", zap.Error(err), zap.Int64("inbox_id", inbox.ID))
		h.writeError(w, http.StatusInternalServerError, "Failed to create ACL rule")
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

// DeleteRule handles DELETE /admin/acl/{id}. Only the owner of the rule's
// inbox or an admin may delete it.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := positiveInt(chi.URLParam(r, "id"))
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Invalid rule id")
		return
	}

	rule, err := h.repo.GetACLRule(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "ACL rule not found")
			return
		}
		h.logger.Error("failed to get acl rule", zap.Error(err), zap.Int64("rule_id", id))
		h.writeError(w, http.StatusInternalServerError, "Failed to get ACL rule")
		return
	}

	inbox, err := h.repo.GetInbox(ctx, rule.InboxID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		h.logger.Error("failed to get inbox", zap.Error(err), zap.Int64("inbox_id", rule.InboxID))
		h.writeError(w, http.StatusInternalServerError, "Failed to get inbox")
		return
	}
	if !canManage(r, inbox) {
		h.writeError(w, http.StatusForbidden, "Not allowed to manage this inbox")
		return
	}

	if err := h.repo.DeleteACLRule(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "ACL rule not found")
			return
		}
		h.logger.Error("failed to delete acl rule", zap.Error(err), zap.Int64("rule_id", id))
		h.writeError(w, http.StatusInternalServerError, "Failed to delete ACL rule")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetOrigin handles GET /admin/origin
func (h *Handler) GetOrigin(w http.ResponseWriter, r *http.Request) {
	o := h.origin(r)
	writeJSON(w, http.StatusOK, OriginRequest{IRI: o.IRI, Name: o.Name, Type: o.Type})
}

// PutOrigin handles PUT /admin/origin. Admin only.
func (h *Handler) PutOrigin(w http.ResponseWriter, r *http.Request) {
	if caller, _ := auth.FromContext(r.Context()); !caller.IsAdmin {
		h.writeError(w, http.StatusForbidden, "Admin access required")
		return
	}

	var req OriginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	origin := &db.Origin{
		IRI:  strings.TrimSpace(req.IRI),
		Name: strings.TrimSpace(req.Name),
		Type: strings.TrimSpace(req.Type),
	}
	if origin.IRI == "" {
		h.writeError(w, http.StatusBadRequest, "iri is required")
		return
	}
	if len(origin.IRI) > maxOriginIRILength {
		h.writeError(w, http.StatusBadRequest, "iri must be at most 1000 characters")
		return
	}
	if !isAbsoluteHTTP(origin.IRI) {
		h.writeError(w, http.StatusBadRequest, "iri must be an absolute http(s) IRI")
		return
	}
	if origin.Type == "" {
		origin.Type = DefaultOriginType
	}

	if err := h.repo.UpsertOrigin(r.Context(), origin); err != nil {
		h.logger.Error("failed to update origin", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to update origin")
		return
	}

	writeJSON(w, http.StatusOK, origin)
}

// ownedInbox loads the {id} inbox and checks the caller may manage it
func (h *Handler) ownedInbox(w http.ResponseWriter, r *http.Request) (*db.Inbox, bool) {
	id, ok := positiveInt(chi.URLParam(r, "id"))
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Missing or invalid inbox id")
		return nil, false
	}

	inbox, err := h.repo.GetInbox(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Inbox not found")
			return nil, false
		}
		h.logger.Error("failed to get inbox", zap.Error(err), zap.Int64("inbox_id", id))
		h.writeError(w, http.StatusInternalServerError, "Failed to get inbox")
		return nil, false
	}

	if !canManage(r, inbox) {
		h.writeError(w, http.StatusForbidden, "Not allowed to manage this inbox")
		return nil, false
	}
	return inbox, true
}

// canManage reports whether the caller owns inbox or is an admin. A nil
// inbox can only be managed by admins.
func canManage(r *http.Request, inbox *db.Inbox) bool {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		return false
	}
	if caller.IsAdmin {
		return true
	}
	return inbox != nil && inbox.OwnerUserID == caller.UserID
}

func isAbsoluteHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
