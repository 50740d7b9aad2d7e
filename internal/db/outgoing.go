package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// CreateOutgoing inserts a pending outgoing notification
func (r *Repository) CreateOutgoing(ctx context.Context, out *OutgoingNotification) error {
	query := `
		INSERT INTO outgoing_notifications (
			from_user_id, to_inbox_iri, body_jsonld, content_type,
			as_type, corr_token, reply_to_notification_id, delivery_status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		out.FromUserID,
		out.ToInboxIRI,
		out.Body,
		out.ContentType,
		out.AsType,
		out.CorrToken,
		out.ReplyToNotificationID,
		out.DeliveryStatus,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create outgoing notification",
			zap.Error(err),
			zap.String("to_inbox_iri", out.ToInboxIRI),
		)
		return fmt.Errorf("insert outgoing notification: %w", err)
	}

	return nil
}

// UpdateDeliveryStatus records the final status of an outgoing notification
func (r *Repository) UpdateDeliveryStatus(ctx context.Context, id int64, status string, lastError *string) error {
	query := `
		UPDATE outgoing_notifications
		SET delivery_status = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, status, lastError, id)
	if err != nil {
		r.logger.Error("failed to update delivery status",
			zap.Error(err),
			zap.Int64("outgoing_id", id),
		)
		return fmt.Errorf("update delivery status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// InsertDeliveryAttempt records the response to one delivery
func (r *Repository) InsertDeliveryAttempt(ctx context.Context, a *DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (
			outgoing_notification_id, attempt_no, response_status,
			response_headers, response_body
		) VALUES (
			$1, $2, $3, $4, $5
		)
		RETURNING id, created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		a.OutgoingNotificationID,
		a.AttemptNo,
		a.ResponseStatus,
		a.ResponseHeaders,
		a.ResponseBody,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert delivery attempt: %w", err)
	}

	return nil
}

const outgoingColumns = `
	id, from_user_id, to_inbox_iri, content_type, as_type, corr_token,
	reply_to_notification_id, delivery_status, last_error, created_at, updated_at
`

// buildOutgoingQuery renders the list query for a filter
func buildOutgoingQuery(f OutgoingFilter) (string, []any) {
	var (
		where []string
		args  []any
	)

	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("delivery_status = $%d", len(args)))
	}
	if f.ReplyToNotificationID != nil {
		args = append(args, *f.ReplyToNotificationID)
		where = append(where, fmt.Sprintf("reply_to_notification_id = $%d", len(args)))
	}

	var b strings.Builder
	b.WriteString("SELECT")
	b.WriteString(outgoingColumns)
	b.WriteString("FROM outgoing_notifications")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, f.Limit)
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	return b.String(), args
}

// ListOutgoing returns outgoing notifications newest first
func (r *Repository) ListOutgoing(ctx context.Context, f OutgoingFilter) ([]*OutgoingNotification, error) {
	query, args := buildOutgoingQuery(f)

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query outgoing notifications: %w", err)
	}
	defer rows.Close()

	var list []*OutgoingNotification
	for rows.Next() {
		var out OutgoingNotification
		if err := rows.Scan(
			&out.ID,
			&out.FromUserID,
			&out.ToInboxIRI,
			&out.ContentType,
			&out.AsType,
			&out.CorrToken,
			&out.ReplyToNotificationID,
			&out.DeliveryStatus,
			&out.LastError,
			&out.CreatedAt,
			&out.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outgoing notification: %w", err)
		}
		list = append(list, &out)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return list, nil
}

// GetOutgoing retrieves an outgoing notification including its body
func (r *Repository) GetOutgoing(ctx context.Context, id int64) (*OutgoingNotification, error) {
	query := `
		SELECT
			id, from_user_id, to_inbox_iri, body_jsonld, COALESCE(content_type, ''), as_type,
			corr_token, reply_to_notification_id, delivery_status, last_error,
			created_at, updated_at
		FROM outgoing_notifications
		WHERE id = $1
	`

	var out OutgoingNotification
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&out.ID,
		&out.FromUserID,
		&out.ToInboxIRI,
		&out.Body,
		&out.ContentType,
		&out.AsType,
		&out.CorrToken,
		&out.ReplyToNotificationID,
		&out.DeliveryStatus,
		&out.LastError,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query outgoing notification: %w", err)
	}

	return &out, nil
}

// ListDeliveryAttempts returns the attempts of an outgoing notification in order
func (r *Repository) ListDeliveryAttempts(ctx context.Context, outgoingID int64) ([]*DeliveryAttempt, error) {
	query := `
		SELECT id, outgoing_notification_id, attempt_no, response_status,
			response_headers, response_body, created_at
		FROM delivery_attempts
		WHERE outgoing_notification_id = $1
		ORDER BY attempt_no
	`

	rows, err := r.db.Pool().Query(ctx, query, outgoingID)
	if err != nil {
		return nil, fmt.Errorf("query delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*DeliveryAttempt
	for rows.Next() {
		var a DeliveryAttempt
		if err := rows.Scan(
			&a.ID,
			&a.OutgoingNotificationID,
			&a.AttemptNo,
			&a.ResponseStatus,
			&a.ResponseHeaders,
			&a.ResponseBody,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return attempts, nil
}
