// Package delivery sends outgoing notifications to inboxes and records the
// outcome of each attempt.
package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/ldninbox/internal/activity"
	"github.com/lalithlochan/ldninbox/internal/apperr"
	"github.com/lalithlochan/ldninbox/internal/db"
	"github.com/lalithlochan/ldninbox/internal/events"
	"github.com/lalithlochan/ldninbox/internal/metrics"
)

// Store is the persistence the engine needs
type Store interface {
	CreateOutgoing(ctx context.Context, out *db.OutgoingNotification) error
	InsertDeliveryAttempt(ctx context.Context, a *db.DeliveryAttempt) error
	UpdateDeliveryStatus(ctx context.Context, id int64, status string, lastError *string) error
}

// Request is one notification to send
type Request struct {
	FromUserID            *int64
	CorrToken             *string
	ReplyToNotificationID *int64
	ToInboxIRI            string
	Body                  []byte
}

// Outcome summarizes a delivery
type Outcome struct {
	Error    *string `json:"error"`
	Status   string  `json:"status"`
	ID       int64   `json:"id"`
	HTTPCode int     `json:"http_code"`
}

// Routes
const (
	RouteInternal = "internal"
	RouteExternal = "external"
)

// Engine persists, dispatches and records outgoing notifications. There is
// exactly one attempt per outgoing notification.
type Engine struct {
	store     Store
	local     Dispatcher
	remote    Dispatcher
	matcher   *OriginMatcher
	publisher events.Publisher
	logger    *zap.Logger
}

// NewEngine creates an engine that routes targets matched by matcher to
// local and everything else to remote
func NewEngine(store Store, local, remote Dispatcher, matcher *OriginMatcher, logger *zap.Logger) *Engine {
	return NewEngineWithEvents(store, local, remote, matcher, events.Nop{}, logger)
}

// NewEngineWithEvents creates an engine that announces delivery outcomes
func NewEngineWithEvents(
	store Store,
	local, remote Dispatcher,
	matcher *OriginMatcher,
	publisher events.Publisher,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		store:     store,
		local:     local,
		remote:    remote,
		matcher:   matcher,
		publisher: publisher,
		logger:    logger,
	}
}

// Send delivers one notification. Transport failures and non-2xx answers
// are reported through the outcome, not as errors.
func (e *Engine) Send(ctx context.Context, req Request) (*Outcome, error) {
	target := strings.TrimSpace(req.ToInboxIRI)
	if target == "" || len(req.Body) == 0 {
		return nil, apperr.InvalidInput("to_inbox_iri and body_jsonld are required")
	}

	var asType *string
	if doc, err := activity.Parse(req.Body); err == nil {
		asType = activity.TypeOf(doc)
	}

	out := &db.OutgoingNotification{
		FromUserID:            req.FromUserID,
		ToInboxIRI:            target,
		Body:                  req.Body,
		ContentType:           ContentType,
		AsType:                asType,
		CorrToken:             req.CorrToken,
		ReplyToNotificationID: req.ReplyToNotificationID,
		DeliveryStatus:        db.DeliveryPending,
	}
	if err := e.store.CreateOutgoing(ctx, out); err != nil {
		return nil, apperr.Storage("Failed to store outgoing notification", err)
	}

	// The notification may already be delivered once dispatch starts, so the
	// attempt and terminal status are written even if the caller goes away.
	record := context.WithoutCancel(ctx)

	route, dispatcher := RouteExternal, e.remote
	if e.matcher != nil && e.matcher.IsLocal(target) {
		route, dispatcher = RouteInternal, e.local
	}

	start := time.Now()
	resp, dispatchErr := dispatcher.Dispatch(ctx, target, req.Body)
	elapsed := time.Since(start)

	attempt := &db.DeliveryAttempt{
		OutgoingNotificationID: out.ID,
		AttemptNo:              1,
	}
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
		attempt.ResponseStatus = &statusCode
		attempt.ResponseHeaders = &resp.Header
		attempt.ResponseBody = resp.Body
	}
	if err := e.store.InsertDeliveryAttempt(record, attempt); err != nil {
		return nil, apperr.Storage("Failed to record delivery attempt", err)
	}

	status := db.DeliveryDelivered
	var lastError *string
	if dispatchErr != nil || statusCode < 200 || statusCode >= 300 {
		status = db.DeliveryFailed
		msg := DescribeFailure(statusCode, dispatchErr)
		lastError = &msg
	}

	if err := e.store.UpdateDeliveryStatus(record, out.ID, status, lastError); err != nil {
		return nil, apperr.Storage("Failed to update delivery status", err)
	}

	metrics.RecordDelivery(route, status, elapsed)

	fields := []zap.Field{
		zap.Int64("outgoing_id", out.ID),
		zap.String("route", route),
		zap.String("target", target),
		zap.Int("http_code", statusCode),
		zap.Duration("elapsed", elapsed),
	}
	if lastError != nil {
		e.logger.Warn("delivery failed", append(fields, zap.String("error", *lastError))...)
	} else {
		e.logger.Info("delivery succeeded", fields...)
	}

	events.Notify(record, e.publisher, e.logger, events.Event{
		Type:           events.TypeDeliveryCompleted,
		OutgoingID:     out.ID,
		TargetInboxIRI: target,
		DeliveryStatus: status,
		HTTPCode:       statusCode,
	})

	return &Outcome{
		ID:       out.ID,
		Status:   status,
		HTTPCode: statusCode,
		Error:    lastError,
	}, nil
}

var statusExplanations = map[int]string{
	400: "Bad Request (malformed notification)",
	403: "Forbidden (rejected by ACL rules)",
	404: "Not Found (inbox does not exist)",
	415: "Unsupported Media Type (invalid JSON)",
	500: "Internal Server Error (receiver error)",
}

// DescribeFailure renders the last_error text of a failed delivery
func DescribeFailure(statusCode int, err error) string {
	if err != nil {
		return err.Error()
	}
	if explanation, ok := statusExplanations[statusCode]; ok {
		return fmt.Sprintf("HTTP %d - %s", statusCode, explanation)
	}
	return fmt.Sprintf("HTTP %d", statusCode)
}
