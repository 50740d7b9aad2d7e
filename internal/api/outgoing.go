package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/ldninbox/internal/activity"
	"github.com/lalithlochan/ldninbox/internal/apperr"
	"github.com/lalithlochan/ldninbox/internal/auth"
	"github.com/lalithlochan/ldninbox/internal/db"
	"github.com/lalithlochan/ldninbox/internal/delivery"
	"github.com/lalithlochan/ldninbox/internal/metrics"
	"github.com/lalithlochan/ldninbox/internal/redis"
)

const (
	defaultOutgoingLimit = 50
	maxOutgoingLimit     = 1000
)

// Origin fallback used until an origin record is configured
const (
	DefaultOriginName = "LDN Inbox System"
	DefaultOriginType = "Application"
)

// SendRequest is the JSON body of POST /outgoing. Integer fields accept
// numbers or numeric strings; body_jsonld accepts a string or an inline
// document.
type SendRequest struct {
	ToInboxIRI            string          `json:"to_inbox_iri"`
	FromUserID            json.RawMessage `json:"from_user_id"`
	CorrToken             *string         `json:"corr_token"`
	ReplyToNotificationID json.RawMessage `json:"reply_to_notification_id"`
	BodyJSONLD            json.RawMessage `json:"body_jsonld"`
}

// ComposeRequest is the body of POST /outgoing/compose
type ComposeRequest struct {
	activity.Draft
	FromUserID            *int64  `json:"from_user_id"`
	ReplyToNotificationID *int64  `json:"reply_to_notification_id"`
	CorrToken             *string `json:"corr_token"`
	ToInboxIRI            string  `json:"to_inbox_iri"`
}

// OutgoingListResponse is the body of GET /outgoing
type OutgoingListResponse struct {
	Items []*db.OutgoingNotification `json:"items"`
}

// AttemptView is one delivery attempt with its captured response. A body
// that is valid UTF-8 is returned as text in ResponseBody; any other body is
// returned base64-encoded in ResponseBodyBase64 with ResponseBody empty.
type AttemptView struct {
	CreatedAt          time.Time `json:"created_at"`
	ResponseStatus     *int      `json:"response_status"`
	ResponseHeaders    *string   `json:"response_headers"`
	ResponseBody       string    `json:"response_body"`
	ResponseBodyBase64 string    `json:"response_body_base64,omitempty"`
	ID                 int64     `json:"id"`
	AttemptNo          int       `json:"attempt_no"`
}

func newAttemptView(a *db.DeliveryAttempt) AttemptView {
	v := AttemptView{
		ID:              a.ID,
		AttemptNo:       a.AttemptNo,
		ResponseStatus:  a.ResponseStatus,
		ResponseHeaders: a.ResponseHeaders,
		CreatedAt:       a.CreatedAt,
	}
	if utf8.Valid(a.ResponseBody) {
		v.ResponseBody = string(a.ResponseBody)
	} else {
		v.ResponseBodyBase64 = base64.StdEncoding.EncodeToString(a.ResponseBody)
	}
	return v
}

// SendOutgoing handles POST /outgoing
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) SendOutgoing(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseSendRequest(w, r)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.send(w, r, req)
}

// ComposeOutgoing handles POST /outgoing/compose. It renders an
// ActivityStreams activity and sends it like POST /outgoing.
func (h *Handler) ComposeOutgoing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ComposeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	target := strings.TrimSpace(req.ToInboxIRI)
	if target == "" {
		h.writeError(w, http.StatusBadRequest, "to_inbox_iri is required")
		return
	}

	draft := req.Draft
	if draft.CorrelationID == "" && req.CorrToken != nil {
		draft.CorrelationID = *req.CorrToken
	}
	if req.ReplyToNotificationID != nil && draft.InReplyTo == "" {
		original, err := h.repo.GetNotification(ctx, *req.ReplyToNotificationID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				h.writeError(w, http.StatusNotFound, "Notification not found")
				return
			}
			h.logger.Error("failed to load replied notification", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "Failed to load notification")
			return
		}
		if original.NotificationIRI != nil {
			draft.InReplyTo = *original.NotificationIRI
		}
	}

	body, err := activity.Compose(draft, h.origin(r), h.baseURL, time.Now())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	corrToken := req.CorrToken
	if corrToken == nil && draft.CorrelationID != "" {
		corrToken = &draft.CorrelationID
	}

	h.send(w, r, delivery.Request{
		ToInboxIRI:            target,
		FromUserID:            req.FromUserID,
		CorrToken:             corrToken,
		ReplyToNotificationID: req.ReplyToNotificationID,
		Body:                  body,
	})
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request, req delivery.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")
	scope := idempotencyScope(r)
	reserved := false

	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, scope, idempotencyKey)
		switch {
		case errors.Is(err, redis.ErrInFlight):
			h.writeError(w, http.StatusConflict, "Request with this Idempotency-Key is in progress")
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		case cached != nil:
			metrics.RecordIdempotencyHit()
			w.Header().Set("Idempotency-Replayed", "true")
			writeJSON(w, http.StatusOK, &delivery.Outcome{
				ID:       cached.OutgoingID,
				Status:   cached.Status,
				HTTPCode: cached.HTTPCode,
				Error:    cached.Error,
			})
			return
		default:
			reserved = true
		}
	}

	outcome, err := h.sender.Send(ctx, req)
	if err != nil {
		if reserved {
			if rerr := h.idempotency.Release(ctx, scope, idempotencyKey); rerr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(rerr))
			}
		}
		h.writeAppError(w, err)
		return
	}

	if reserved {
		result := &redis.IdempotencyResult{
			OutgoingID: outcome.ID,
			Status:     outcome.Status,
			HTTPCode:   outcome.HTTPCode,
			Error:      outcome.Error,
		}
		if err := h.idempotency.Store(ctx, scope, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	writeJSON(w, http.StatusOK, outcome)
}

func idempotencyScope(r *http.Request) string {
	if ac, ok := auth.FromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(ac.UserID, 10)
	}
	return "anonymous"
}

// origin returns the configured origin record, or the built-in description
// of this system when none is stored
func (h *Handler) origin(r *http.Request) activity.Origin {
	fallback := activity.Origin{IRI: h.baseURL, Name: DefaultOriginName, Type: DefaultOriginType}

	o, err := h.repo.GetOrigin(r.Context())
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			h.logger.Warn("failed to load origin, using default", zap.Error(err))
		}
		return fallback
	}
	return activity.Origin{IRI: o.IRI, Name: o.Name, Type: o.Type}
}

func (h *Handler) parseSendRequest(w http.ResponseWriter, r *http.Request) (delivery.Request, error) {
	var (
		req     delivery.Request
		fromRaw string
		replRaw string
		body    []byte
	)

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "application/json" {
		var sr SendRequest
		if err := json.NewDecoder(r.Body).Decode(&sr); err != nil && !errors.Is(err, io.EOF) {
			return req, apperr.InvalidInput("Malformed JSON body")
		}
		req.ToInboxIRI = sr.ToInboxIRI
		if sr.CorrToken != nil {
			token := strings.TrimSpace(*sr.CorrToken)
			req.CorrToken = &token
		}
		fromRaw = scalarText(sr.FromUserID)
		replRaw = scalarText(sr.ReplyToNotificationID)
		body = documentBytes(sr.BodyJSONLD)
	} else {
		if err := r.ParseForm(); err != nil {
			return req, apperr.InvalidInput("Malformed form body")
		}
		req.ToInboxIRI = r.PostForm.Get("to_inbox_iri")
		if _, ok := r.PostForm["corr_token"]; ok {
			token := strings.TrimSpace(r.PostForm.Get("corr_token"))
			req.CorrToken = &token
		}
		fromRaw = r.PostForm.Get("from_user_id")
		replRaw = r.PostForm.Get("reply_to_notification_id")
		body = []byte(r.PostForm.Get("body_jsonld"))
	}

	req.ToInboxIRI = strings.TrimSpace(req.ToInboxIRI)
	req.Body = body
	if req.ToInboxIRI == "" || len(req.Body) == 0 {
		return req, apperr.InvalidInput("to_inbox_iri and body_jsonld are required")
	}

	var err error
	if req.FromUserID, err = optionalID("from_user_id", fromRaw); err != nil {
		return req, err
	}
	if req.ReplyToNotificationID, err = optionalID("reply_to_notification_id", replRaw); err != nil {
		return req, err
	}

	return req, nil
}

func optionalID(name, raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, apperr.InvalidInput("Invalid " + name)
	}
	return &n, nil
}

// scalarText returns a JSON number or string as text; null and absent give ""
func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// documentBytes unquotes a JSON string and keeps an inline document as is
func documentBytes(raw json.RawMessage) []byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		return []byte(s)
	}
	return []byte(raw)
}

// ListOutgoing handles GET /outgoing?status=&reply_to_notification_id=&limit=
func (h *Handler) ListOutgoing(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := db.OutgoingFilter{Limit: defaultOutgoingLimit}

	if _, ok := q["status"]; ok {
		f.Status = strings.TrimSpace(q.Get("status"))
		if !db.ValidDeliveryStatus(f.Status) {
			h.writeError(w, http.StatusBadRequest, "Invalid status")
			return
		}
	}

	if raw := q.Get("reply_to_notification_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid reply_to_notification_id")
			return
		}
		f.ReplyToNotificationID = &id
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			f.Limit = min(l, maxOutgoingLimit)
		}
	}

	items, err := h.repo.ListOutgoing(r.Context(), f)
	if err != nil {
		h.logger.Error("failed to list outgoing notifications", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to list outgoing notifications")
		return
	}
	if items == nil {
		items = []*db.OutgoingNotification{}
	}

	writeJSON(w, http.StatusOK, OutgoingListResponse{Items: items})
}

// GetOutgoing handles GET /outgoing/{id} and serves the stored body
func (h *Handler) GetOutgoing(w http.ResponseWriter, r *http.Request) {
	out, ok := h.loadOutgoing(w, r)
	if !ok {
		return
	}

	contentType := out.ContentType
	if contentType == "" {
		contentType = delivery.ContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Body)
}

// ListAttempts handles GET /outgoing/{id}/attempts
func (h *Handler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	out, ok := h.loadOutgoing(w, r)
	if !ok {
		return
	}

	attempts, err := h.repo.ListDeliveryAttempts(r.Context(), out.ID)
	if err != nil {
		h.logger.Error("failed to list delivery attempts", zap.Error(err), zap.Int64("outgoing_id", out.ID))
		h.writeError(w, http.StatusInternalServerError, "Failed to list delivery attempts")
		return
	}

	views := make([]AttemptView, 0, len(attempts))
	for _, a := range attempts {
		views = append(views, newAttemptView(a))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"outgoing_id":     out.ID,
		"delivery_status": out.DeliveryStatus,
		"last_error":      out.LastError,
		"items":           views,
	})
}

func (h *Handler) loadOutgoing(w http.ResponseWriter, r *http.Request) (*db.OutgoingNotification, bool) {
	id, ok := positiveInt(chi.URLParam(r, "id"))
	if !ok {
		h.writeError(w, http.StatusBadRequest, "Missing id")
		return nil, false
	}

	out, err := h.repo.GetOutgoing(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "Not found")
			return nil, false
		}
		h.logger.Error("failed to get outgoing notification", zap.Error(err), zap.Int64("id", id))
		h.writeError(w, http.StatusInternalServerError, "Failed to get outgoing notification")
		return nil, false
	}
	return out, true
}
