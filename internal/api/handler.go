// Package api exposes the inbox, outgoing and admin HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lalithlochan/ldninbox/internal/apperr"
	"github.com/lalithlochan/ldninbox/internal/db"
	"github.com/lalithlochan/ldninbox/internal/delivery"
	"github.com/lalithlochan/ldninbox/internal/ingest"
	"github.com/lalithlochan/ldninbox/internal/redis"
)

// Repository defines the reads and admin writes the handlers need
type Repository interface {
	GetInbox(ctx context.Context, id int64) (*db.Inbox, error)
	CreateInbox(ctx context.Context, inbox *db.Inbox) error
	SetPrimaryInbox(ctx context.Context, id int64) error

	ListACLRules(ctx context.Context, inboxID int64) ([]db.ACLRule, error)
	CreateACLRule(ctx context.Context, rule *db.ACLRule) error
	GetACLRule(ctx context.Context, id int64) (*db.ACLRule, error)
	DeleteACLRule(ctx context.Context, id int64) error

	GetOrigin(ctx context.Context) (*db.Origin, error)
	UpsertOrigin(ctx context.Context, origin *db.Origin) error

	ListNotifications(ctx context.Context, inboxID int64, limit int) ([]*db.Notification, error)
	GetNotification(ctx context.Context, id int64) (*db.Notification, error)

	ListOutgoing(ctx context.Context, f db.OutgoingFilter) ([]*db.OutgoingNotification, error)
	GetOutgoing(ctx context.Context, id int64) (*db.OutgoingNotification, error)
	ListDeliveryAttempts(ctx context.Context, outgoingID int64) ([]*db.DeliveryAttempt, error)
}

// Receiver accepts inbound notifications
type Receiver interface {
	Receive(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// Sender delivers outgoing notifications
type Sender interface {
	Send(ctx context.Context, req delivery.Request) (*delivery.Outcome, error)
}

// Idempotency replays outgoing sends that carry an Idempotency-Key
type Idempotency interface {
	CheckOrReserve(ctx context.Context, scope, key string) (*redis.IdempotencyResult, error)
	Store(ctx context.Context, scope, key string, result *redis.IdempotencyResult) error
	Release(ctx context.Context, scope, key string) error
}

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// HandlerConfig holds handler settings
type HandlerConfig struct {
	// Checks are run by GET /health, keyed by dependency name
	Checks       map[string]HealthCheck
	BaseURL      string
	MaxBodyBytes int64
}

// ErrorResponse is the body of every error answer
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	repo        Repository
	receiver    Receiver
	sender      Sender
	idempotency Idempotency // nil if Redis not configured
	checks      map[string]HealthCheck
	baseURL     string
	maxBody     int64
}

const defaultMaxBodyBytes = 10 << 20

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo Repository, receiver Receiver, sender Sender, cfg HandlerConfig) *Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Handler{
		logger:   logger,
		repo:     repo,
		receiver: receiver,
		sender:   sender,
		checks:   cfg.Checks,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		maxBody:  maxBody,
	}
}

// NewHandlerWithIdempotency creates a handler with idempotent outgoing sends
func NewHandlerWithIdempotency(
	logger *zap.Logger,
	repo Repository,
	receiver Receiver,
	sender Sender,
	idempotency Idempotency,
	cfg HandlerConfig,
) *Handler {
	h := NewHandler(logger, repo, receiver, sender, cfg)
	h.idempotency = idempotency
	return h
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeAppError maps a classified failure to its status. Server errors carry
// the cause as detail.
func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	resp := ErrorResponse{Error: apperr.Message(err)}
	if status == http.StatusInternalServerError {
		var e *apperr.Error
		if errors.As(err, &e) && e.Err != nil {
			resp.Detail = e.Err.Error()
		} else {
			resp.Detail = err.Error()
		}
	}
	writeJSON(w, status, resp)
}

// positiveInt parses a strictly positive integer, reporting false otherwise
func positiveInt(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
