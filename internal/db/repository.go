package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Repository handles database operations for inboxes, notifications and deliveries
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// GetInbox retrieves an inbox by ID
func (r *Repository) GetInbox(ctx context.Context, id int64) (*Inbox, error) {
	query := `
		SELECT id, owner_user_id, inbox_iri, resource_iri, visibility, is_primary, created_at
		FROM inboxes
		WHERE id = $1
	`

	var inbox Inbox
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&inbox.ID,
		&inbox.OwnerUserID,
		&inbox.InboxIRI,
		&inbox.ResourceIRI,
		&inbox.Visibility,
		&inbox.IsPrimary,
		&inbox.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query inbox: %w", err)
	}

	return &inbox, nil
}

// CreateInbox inserts a new, non-primary inbox
func (r *Repository) CreateInbox(ctx context.Context, inbox *Inbox) error {
	query := `
		INSERT INTO inboxes (owner_user_id, inbox_iri, resource_iri, visibility)
		VALUES ($1, $2, $3, $4)
		RETURNING id, is_primary, created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		inbox.OwnerUserID,
		inbox.InboxIRI,
		inbox.ResourceIRI,
		inbox.Visibility,
	).Scan(&inbox.ID, &inbox.IsPrimary, &inbox.CreatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		r.logger.Error("failed to create inbox",
			zap.Error(err),
			zap.String("inbox_iri", inbox.InboxIRI),
		)
		return fmt.Errorf("insert inbox: %w", err)
	}

	r.logger.Info("inbox created",
		zap.Int64("inbox_id", inbox.ID),
		zap.Int64("owner_user_id", inbox.OwnerUserID),
	)

	return nil
}

// SetPrimaryInbox makes an inbox the primary one of its owner and clears the
// flag on the owner's other inboxes
func (r *Repository) SetPrimaryInbox(ctx context.Context, id int64) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var ownerID int64
	err = tx.QueryRow(ctx, `SELECT owner_user_id FROM inboxes WHERE id = $1 FOR UPDATE`, id).Scan(&ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock inbox: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE inboxes SET is_primary = FALSE WHERE owner_user_id = $1 AND is_primary AND id <> $2`,
		ownerID, id,
	); err != nil {
		return fmt.Errorf("clear primary inbox: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE inboxes SET is_primary = TRUE WHERE id = $1`, id); err != nil {
		return fmt.Errorf("set primary inbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("primary inbox changed",
		zap.Int64("inbox_id", id),
		zap.Int64("owner_user_id", ownerID),
	)

	return nil
}

// ListACLRules returns the rules of an inbox in insertion order
func (r *Repository) ListACLRules(ctx context.Context, inboxID int64) ([]ACLRule, error) {
	query := `
		SELECT id, inbox_id, rule_type, match_kind, match_value, created_at
		FROM inbox_acl_rules
		WHERE inbox_id = $1
		ORDER BY id
	`

	rows, err := r.db.Pool().Query(ctx, query, inboxID)
	if err != nil {
		return nil, fmt.Errorf("query acl rules: %w", err)
	}
	defer rows.Close()

	var rules []ACLRule
	for rows.Next() {
		var rule ACLRule
		if err := rows.Scan(
			&rule.ID,
			&rule.InboxID,
			&rule.RuleType,
			&rule.MatchKind,
			&rule.Value,
			&rule.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan acl rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return rules, nil
}

// CreateACLRule adds a rule to an inbox
func (r *Repository) CreateACLRule(ctx context.Context, rule *ACLRule) error {
	query := `
		INSERT INTO inbox_acl_rules (inbox_id, rule_type, match_kind, match_value)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		rule.InboxID,
		string(rule.RuleType),
		string(rule.MatchKind),
		rule.Value,
	).Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert acl rule: %w", err)
	}

	r.logger.Info("acl rule created",
		zap.Int64("rule_id", rule.ID),
		zap.Int64("inbox_id", rule.InboxID),
		zap.String("rule_type", string(rule.RuleType)),
		zap.String("match_kind", string(rule.MatchKind)),
	)

	return nil
}

// GetACLRule retrieves a rule by ID
func (r *Repository) GetACLRule(ctx context.Context, id int64) (*ACLRule, error) {
	query := `
		SELECT id, inbox_id, rule_type, match_kind, match_value, created_at
		FROM inbox_acl_rules
		WHERE id = $1
	`

	var rule ACLRule
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&rule.ID,
		&rule.InboxID,
		&rule.RuleType,
		&rule.MatchKind,
		&rule.Value,
		&rule.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query acl rule: %w", err)
	}

	return &rule, nil
}

// DeleteACLRule removes a rule
func (r *Repository) DeleteACLRule(ctx context.Context, id int64) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM inbox_acl_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete acl rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.logger.Info("acl rule deleted", zap.Int64("rule_id", id))

	return nil
}

// GetOrigin returns the singleton origin record
func (r *Repository) GetOrigin(ctx context.Context) (*Origin, error) {
	query := `SELECT id_iri, COALESCE(name, ''), type, updated_at FROM origin WHERE id = 1`

	var origin Origin
	err := r.db.Pool().QueryRow(ctx, query).Scan(&origin.IRI, &origin.Name, &origin.Type, &origin.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query origin: %w", err)
	}

	return &origin, nil
}

// UpsertOrigin creates or replaces the singleton origin record
func (r *Repository) UpsertOrigin(ctx context.Context, origin *Origin) error {
	query := `
		INSERT INTO origin (id, id_iri, name, type)
		VALUES (1, $1, NULLIF($2, ''), $3)
		ON CONFLICT (id) DO UPDATE
		SET id_iri = EXCLUDED.id_iri, name = EXCLUDED.name, type = EXCLUDED.type, updated_at = NOW()
		RETURNING updated_at
	`

	if err := r.db.Pool().QueryRow(ctx, query, origin.IRI, origin.Name, origin.Type).Scan(&origin.UpdatedAt); err != nil {
		return fmt.Errorf("upsert origin: %w", err)
	}

	r.logger.Info("origin updated", zap.String("iri", origin.IRI))

	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
