// Package ingest accepts notifications into inboxes.
package ingest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/lalithlochan/ldninbox/internal/acl"
	"github.com/lalithlochan/ldninbox/internal/activity"
	"github.com/lalithlochan/ldninbox/internal/apperr"
	"github.com/lalithlochan/ldninbox/internal/db"
	"github.com/lalithlochan/ldninbox/internal/events"
	"github.com/lalithlochan/ldninbox/internal/metrics"
)

// DefaultContentType is stored when a request does not declare one
const DefaultContentType = "application/octet-stream"

// Store is the persistence the pipeline needs
type Store interface {
	GetInbox(ctx context.Context, id int64) (*db.Inbox, error)
	ListACLRules(ctx context.Context, inboxID int64) ([]db.ACLRule, error)
	WithNotificationTx(ctx context.Context, fn func(db.NotificationTx) error) error
}

// Meta describes the HTTP request that carried a notification
type Meta struct {
	Method    string
	RemoteIP  string
	UserAgent string
	Host      string
	Signature string
}

// Request is one notification to accept into an inbox
type Request struct {
	// Meta is recorded as the audit row; nil skips the audit row.
	Meta        *Meta
	ContentType string
	AuthToken   string
	Body        []byte
	InboxID     int64
}

// Result identifies the stored notification
type Result struct {
	IRI    string `json:"iri"`
	Status string `json:"status"`
	ID     int64  `json:"id"`
}

// Pipeline validates, authorizes, deduplicates and stores notifications
type Pipeline struct {
	store     Store
	publisher events.Publisher
	logger    *zap.Logger
	baseURL   string
}

// NewPipeline creates a pipeline minting IRIs under baseURL
func NewPipeline(store Store, baseURL string, logger *zap.Logger) *Pipeline {
	return NewPipelineWithEvents(store, baseURL, events.Nop{}, logger)
}

// NewPipelineWithEvents creates a pipeline that announces accepted notifications
func NewPipelineWithEvents(store Store, baseURL string, publisher events.Publisher, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		publisher: publisher,
		logger:    logger,
		baseURL:   strings.TrimRight(baseURL, "/"),
	}
}

// MintIRI returns the public IRI of notification id
func MintIRI(baseURL string, id int64) string {
	return fmt.Sprintf("%s/notification?id=%d", strings.TrimRight(baseURL, "/"), id)
}

// Receive accepts a notification from an untrusted sender, enforcing the
// inbox ACL
func (p *Pipeline) Receive(ctx context.Context, req Request) (*Result, error) {
	return p.run(ctx, req, false)
}

// ReceiveTrusted accepts a notification produced by this system. The ACL
// check is skipped.
func (p *Pipeline) ReceiveTrusted(ctx context.Context, req Request) (*Result, error) {
	return p.run(ctx, req, true)
}

func (p *Pipeline) run(ctx context.Context, req Request, trusted bool) (*Result, error) {
	res, err := p.receive(ctx, req, trusted)
	if err != nil {
		kind := apperr.KindOf(err)
		metrics.RecordInbound(kind.String())
		if kind == apperr.KindStorage || kind == apperr.KindUnknown {
			p.logger.Error("failed to store notification",
				zap.Int64("inbox_id", req.InboxID),
				zap.Error(err),
			)
		} else {
			p.logger.Info("notification rejected",
				zap.Int64("inbox_id", req.InboxID),
				zap.String("reason", kind.String()),
			)
		}
		return nil, err
	}

	metrics.RecordInbound(db.NotificationAccepted)
	return res, nil
}

func (p *Pipeline) receive(ctx context.Context, req Request, trusted bool) (*Result, error) {
	if req.InboxID <= 0 {
		return nil, apperr.InvalidInput("Missing or invalid inbox_id")
	}

	if _, err := p.store.GetInbox(ctx, req.InboxID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("Inbox not found")
		}
		return nil, apperr.Storage("Server error", err)
	}

	if len(req.Body) == 0 {
		return nil, apperr.InvalidInput("Empty request body")
	}

	doc, err := activity.Parse(req.Body)
	if err != nil {
		return nil, apperr.UnsupportedPayload("Invalid JSON", err)
	}
	fields := activity.Extract(doc)

	if !trusted {
		if err := p.authorize(ctx, req, fields); err != nil {
			return nil, err
		}
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	digest := sha256.Sum256(req.Body)

	var res Result
	err = p.store.WithNotificationTx(ctx, func(tx db.NotificationTx) error {
		var senderID *int64
		if fields.Actor != nil {
			if err := tx.InsertSender(ctx, *fields.Actor); err != nil {
				return err
			}
			id, err := tx.SenderIDByActor(ctx, *fields.Actor)
			if err != nil {
				return fmt.Errorf("lookup sender: %w", err)
			}
			senderID = &id
		}

		if err := tx.InsertNotification(ctx, &db.Notification{
			InboxID:     req.InboxID,
			SenderID:    senderID,
			ContentType: contentType,
			Body:        req.Body,
			AsType:      fields.Type,
			AsObjectIRI: fields.Object,
			AsTargetIRI: fields.Target,
			CorrToken:   fields.CorrelationToken,
			Digest:      digest[:],
			Status:      db.NotificationAccepted,
		}); err != nil {
			return err
		}

		id, err := tx.NotificationIDByDigest(ctx, req.InboxID, digest[:])
		if err != nil {
			return fmt.Errorf("lookup notification: %w", err)
		}

		iri, err := tx.AssignNotificationIRI(ctx, id, MintIRI(p.baseURL, id))
		if err != nil {
			return err
		}

		if req.Meta != nil {
			if err := tx.InsertHTTPMeta(ctx, &db.HTTPMeta{
				NotificationID: id,
				Method:         req.Meta.Method,
				OriginIP:       PackIP(req.Meta.RemoteIP),
				UserAgent:      req.Meta.UserAgent,
				Host:           req.Meta.Host,
				Signature:      req.Meta.Signature,
				StatusCode:     201,
			}); err != nil {
				return err
			}
		}

		res = Result{ID: id, IRI: iri, Status: db.NotificationAccepted}
		return nil
	})
	if err != nil {
		return nil, apperr.Storage("Server error", err)
	}

	p.logger.Info("notification accepted",
		zap.Int64("notification_id", res.ID),
		zap.Int64("inbox_id", req.InboxID),
		zap.Bool("trusted", trusted),
	)

	e := events.Event{
		Type:            events.TypeNotificationAccepted,
		NotificationID:  res.ID,
		NotificationIRI: res.IRI,
		InboxID:         req.InboxID,
	}
	if fields.Type != nil {
		e.ActivityType = *fields.Type
	}
	if fields.Actor != nil {
		e.Actor = *fields.Actor
	}
	events.Notify(ctx, p.publisher, p.logger, e)

	return &res, nil
}

func (p *Pipeline) authorize(ctx context.Context, req Request, fields activity.Fields) error {
	stored, err := p.store.ListACLRules(ctx, req.InboxID)
	if err != nil {
		return apperr.Storage("Server error", err)
	}

	rules := make([]acl.Rule, len(stored))
	for i, r := range stored {
		rules[i] = r.Rule()
	}

	actor := ""
	if fields.Actor != nil {
		actor = *fields.Actor
	}
	if !acl.Evaluate(rules, actor, req.AuthToken) {
		metrics.RecordACLDenial()
		return apperr.PolicyDenied("Sender not allowed by ACL")
	}
	return nil
}

// PackIP returns the 4 or 16 byte form of an address, nil when it does not
// parse. Host:port forms are accepted.
func PackIP(addr string) []byte {
	if addr == "" {
		return nil
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	ip := net.ParseIP(strings.Trim(addr, "[]"))
	if ip == nil {
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip.To16()
}
