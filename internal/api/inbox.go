package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/ldninbox/internal/db"
	"github.com/lalithlochan/ldninbox/internal/ingest"
)

// AcceptPost lists the media types the inbox advertises
const AcceptPost = "application/ld+json, application/json"

const (
	defaultInboxLimit = 50
	maxInboxLimit     = 200
)

// InboxItem is one entry of GET /inbox
type InboxItem struct {
	ReceivedAt time.Time `json:"received_at"`
	IRI        *string   `json:"iri"`
	Type       *string   `json:"type"`
	Object     *string   `json:"object"`
	Target     *string   `json:"target"`
	ID         int64     `json:"id"`
}

// InboxListResponse is the body of GET /inbox
type InboxListResponse struct {
	Items   []InboxItem `json:"items"`
	InboxID int64       `json:"inbox_id"`
}

// ReceiveNotification handles POST /inbox?inbox_id=N
func (h *Handler) ReceiveNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	inboxID, ok := positiveInt(q.Get("inbox_id"))
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Missing or invalid inbox_id")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	token := q.Get("token")
	if token == "" {
		token = r.Header.Get("X-Auth-Token")
	}

	res, err := h.receiver.Receive(ctx, ingest.Request{
		InboxID:     inboxID,
		Body:        body,
		ContentType: r.Header.Get("Content-Type"),
		AuthToken:   token,
		Meta: &ingest.Meta{
			Method:    r.Method,
			RemoteIP:  r.RemoteAddr,
			UserAgent: r.UserAgent(),
			Host:      r.Host,
			Signature: r.Header.Get("Signature"),
		},
	})
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	w.Header().Set("Location", res.IRI)
	writeJSON(w, http.StatusCreated, res)
}

// InboxOptions handles OPTIONS /inbox for LDN discovery
func (h *Handler) InboxOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Accept-Post", AcceptPost)
	w.Header().Set("Allow", "GET, POST, OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}

// ListInbox handles GET /inbox?inbox_id=N&limit=L
func (h *Handler) ListInbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	inboxID, ok := positiveInt(q.Get("inbox_id"))
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Missing or invalid inbox_id")
		return
	}

	limit := defaultInboxLimit
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = max(1, min(maxInboxLimit, l))
		}
	}

	notifications, err := h.repo.ListNotifications(ctx, inboxID, limit)
	if err != nil {
		h.logger.Error("failed to list notifications",
			zap.Error(err),
			zap.Int64("inbox_id", inboxID),
		)
		h.writeError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}

	items := make([]InboxItem, 0, len(notifications))
	for _, n := range notifications {
		items = append(items, InboxItem{
			ID:         n.ID,
			IRI:        n.NotificationIRI,
			Type:       n.AsType,
			Object:     n.AsObjectIRI,
			Target:     n.AsTargetIRI,
			ReceivedAt: n.ReceivedAt,
		})
	}

	w.Header().Set("Accept-Post", AcceptPost)
	writeJSON(w, http.StatusOK, InboxListResponse{InboxID: inboxID, Items: items})
}

// GetNotification handles GET /notification?id=N and serves the stored body
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := positiveInt(r.URL.Query().Get("id"))
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Missing id")
		return
	}

	n, err := h.repo.GetNotification(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Not found")
			return
		}
		h.logger.Error("failed to get notification", zap.Error(err), zap.Int64("id", id))
		h.writeError(w, http.StatusInternalServerError, "Failed to get notification")
		return
	}

	w.Header().Set("Content-Type", n.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(n.Body)
}
