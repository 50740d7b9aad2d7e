package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// NotificationTx is the set of writes an inbound notification performs
// inside one transaction
type NotificationTx interface {
	InsertSender(ctx context.Context, actorIRI string) error
	SenderIDByActor(ctx context.Context, actorIRI string) (int64, error)
	InsertNotification(ctx context.Context, n *Notification) error
	NotificationIDByDigest(ctx context.Context, inboxID int64, digest []byte) (int64, error)
	AssignNotificationIRI(ctx context.Context, id int64, iri string) (string, error)
	InsertHTTPMeta(ctx context.Context, meta *HTTPMeta) error
}

// WithNotificationTx runs fn in a transaction that is committed only when fn
// returns nil
func (r *Repository) WithNotificationTx(ctx context.Context, fn func(NotificationTx) error) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&notificationTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

type notificationTx struct {
	tx pgx.Tx
}

// InsertSender creates the sender row unless one already exists for actorIRI
func (t *notificationTx) InsertSender(ctx context.Context, actorIRI string) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO senders (actor_iri) VALUES ($1) ON CONFLICT (actor_iri) DO NOTHING`,
		actorIRI,
	)
	if err != nil {
		return fmt.Errorf("insert sender: %w", err)
	}
	return nil
}

func (t *notificationTx) SenderIDByActor(ctx context.Context, actorIRI string) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM senders WHERE actor_iri = $1`, actorIRI).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query sender: %w", err)
	}
	return id, nil
}

// InsertNotification stores n unless the inbox already holds a notification
// with the same digest
func (t *notificationTx) InsertNotification(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (
			inbox_id, sender_id, content_type, body_jsonld,
			as_type, as_object_iri, as_target_iri, corr_token,
			digest_sha256, status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (inbox_id, digest_sha256) DO NOTHING
	`

	_, err := t.tx.Exec(ctx, query,
		n.InboxID,
		n.SenderID,
		n.ContentType,
		n.Body,
		n.AsType,
		n.AsObjectIRI,
		n.AsTargetIRI,
		n.CorrToken,
		n.Digest,
		n.Status,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (t *notificationTx) NotificationIDByDigest(ctx context.Context, inboxID int64, digest []byte) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT id FROM notifications WHERE inbox_id = $1 AND digest_sha256 = $2`,
		inboxID, digest,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query notification by digest: %w", err)
	}
	return id, nil
}

// AssignNotificationIRI sets the IRI of a notification that has none yet and
// returns the IRI stored afterwards
func (t *notificationTx) AssignNotificationIRI(ctx context.Context, id int64, iri string) (string, error) {
	query := `
		UPDATE notifications
		SET notification_iri = COALESCE(notification_iri, $1)
		WHERE id = $2
		RETURNING notification_iri
	`

	var stored string
	err := t.tx.QueryRow(ctx, query, iri, id).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("assign notification iri: %w", err)
	}
	return stored, nil
}

func (t *notificationTx) InsertHTTPMeta(ctx context.Context, meta *HTTPMeta) error {
	query := `
		INSERT INTO notification_http_meta (
			notification_id, method, origin_ip, user_agent,
			header_host, header_signature, status_code
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7
		)
	`

	_, err := t.tx.Exec(ctx, query,
		meta.NotificationID,
		meta.Method,
		meta.OriginIP,
		meta.UserAgent,
		meta.Host,
		meta.Signature,
		meta.StatusCode,
	)
	if err != nil {
		return fmt.Errorf("insert http meta: %w", err)
	}
	return nil
}

// ListNotifications returns the newest accepted notifications of an inbox
func (r *Repository) ListNotifications(ctx context.Context, inboxID int64, limit int) ([]*Notification, error) {
	query := `
		SELECT
			id, inbox_id, sender_id, content_type, as_type, as_object_iri,
			as_target_iri, corr_token, notification_iri, status, received_at
		FROM notifications
		WHERE inbox_id = $1 AND status = 'accepted'
		ORDER BY received_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, inboxID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]*Notification, 0, limit)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(
			&n.ID,
			&n.InboxID,
			&n.SenderID,
			&n.ContentType,
			&n.AsType,
			&n.AsObjectIRI,
			&n.AsTargetIRI,
			&n.CorrToken,
			&n.NotificationIRI,
			&n.Status,
			&n.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}

// GetNotification retrieves an accepted notification including its body
func (r *Repository) GetNotification(ctx context.Context, id int64) (*Notification, error) {
	query := `
		SELECT
			id, inbox_id, sender_id, content_type, body_jsonld, as_type, as_object_iri,
			as_target_iri, corr_token, notification_iri, status, received_at
		FROM notifications
		WHERE id = $1 AND status = 'accepted'
	`

	var n Notification
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&n.ID,
		&n.InboxID,
		&n.SenderID,
		&n.ContentType,
		&n.Body,
		&n.AsType,
		&n.AsObjectIRI,
		&n.AsTargetIRI,
		&n.CorrToken,
		&n.NotificationIRI,
		&n.Status,
		&n.ReceivedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("failed to get notification",
			zap.Error(err),
			zap.Int64("notification_id", id),
		)
		return nil, fmt.Errorf("query notification: %w", err)
	}

	return &n, nil
}
