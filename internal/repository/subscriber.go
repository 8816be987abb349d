package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/hearthline/waitlist/internal/model"
)

// Common errors for subscriber repository operations.
var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrDuplicateID        = errors.New("subscriber id already exists")
)

// DefaultListLimit and MaxListLimit bound ListSubscribers.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// SubscriberFilter narrows ListSubscribers.
type SubscriberFilter struct {
	Status model.VerificationStatus // empty means any
	Limit  int
}

const subscriberColumns = `
	id, email, name, phone, postal_code, property_type, monthly_heating_cost, consent,
	utm_source, utm_medium, utm_campaign, utm_term, utm_content, referrer,
	risk_score, risk_flags, status, token_hash, token_expires_at, verified_at,
	created_at, updated_at`

// UpsertSubscriber inserts a subscriber, or refreshes the existing row with
// the same email. A verified row keeps its status and token; a pending or
// expired row takes the new token and returns to pending.
//
// On return sub.ID, sub.Status and sub.CreatedAt reflect the stored row.
// The returned bool is true when a new row was created.
func (r *Repository) UpsertSubscriber(ctx context.Context, sub *model.Subscriber) (bool, error) {
	query := `
		INSERT INTO subscribers (` + subscriberColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			postal_code = EXCLUDED.postal_code,
			property_type = EXCLUDED.property_type,
			monthly_heating_cost = EXCLUDED.monthly_heating_cost,
			consent = EXCLUDED.consent,
			risk_score = EXCLUDED.risk_score,
			risk_flags = EXCLUDED.risk_flags,
			status = CASE WHEN subscribers.status = 'verified' THEN subscribers.status ELSE 'pending' END,
			token_hash = CASE WHEN subscribers.status = 'verified' THEN subscribers.token_hash ELSE EXCLUDED.token_hash END,
			token_expires_at = CASE WHEN subscribers.status = 'verified' THEN subscribers.token_expires_at ELSE EXCLUDED.token_expires_at END,
			updated_at = EXCLUDED.updated_at
		RETURNING id, status, created_at, (xmax = 0) AS inserted
	`

	flags := sub.RiskFlags
	if flags == nil {
		flags = []string{}
	}

	var inserted bool
	err := r.pool.QueryRow(ctx, query,
		sub.ID,
		sub.Email,
		sub.Name,
		sub.Phone,
		sub.PostalCode,
		sub.PropertyType,
		sub.MonthlyHeatingCost,
		sub.Consent,
		sub.Attribution.Source,
		sub.Attribution.Medium,
		sub.Attribution.Campaign,
		sub.Attribution.Term,
		sub.Attribution.Content,
		sub.Referrer,
		sub.RiskScore,
		pq.Array(flags),
		sub.Status,
		sub.TokenHash,
		sub.TokenExpiresAt,
		sub.VerifiedAt,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Scan(&sub.ID, &sub.Status, &sub.CreatedAt, &inserted)
	if err != nil {
		if isUniqueViolation(err) {
			return false, ErrDuplicateID
		}
		return false, fmt.Errorf("failed to upsert subscriber: %w", err)
	}

	return inserted, nil
}

// FindByTokenHash retrieves the subscriber owning a verification token hash.
func (r *Repository) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE token_hash = $1`

	sub, err := scanSubscriber(r.pool.QueryRow(ctx, query, tokenHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("failed to get subscriber by token: %w", err)
	}

	return sub, nil
}

// MarkVerified transitions a pending subscriber whose token is still valid at
// now. It reports false when the row was not pending or the token expired,
// so concurrent callers see exactly one true.
func (r *Repository) MarkVerified(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE subscribers
		SET status = 'verified', verified_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending' AND token_expires_at > $2
	`

	result, err := r.pool.Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark subscriber verified: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// MarkExpired moves a pending subscriber to expired.
func (r *Repository) MarkExpired(ctx context.Context, id string) error {
	query := `
		UPDATE subscribers
		SET status = 'expired', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark subscriber expired: %w", err)
	}

	return nil
}

// ListSubscribers returns the most recent subscribers, newest first.
func (r *Repository) ListSubscribers(ctx context.Context, filter SubscriberFilter) ([]*model.Subscriber, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `SELECT ` + subscriberColumns + ` FROM subscribers`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, filter.Status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribers: %w", err)
	}
	defer rows.Close()

	subs := make([]*model.Subscriber, 0, limit)
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscribers: %w", err)
	}

	return subs, nil
}

// CountByStatus aggregates subscribers per verification status.
func (r *Repository) CountByStatus(ctx context.Context) (model.StatusCounts, error) {
	query := `SELECT status, COUNT(*) FROM subscribers GROUP BY status`

	var counts model.StatusCounts

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return counts, fmt.Errorf("failed to count subscribers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status model.VerificationStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("failed to scan status count: %w", err)
		}
		switch status {
		case model.StatusPending:
			counts.Pending = n
		case model.StatusVerified:
			counts.Verified = n
		case model.StatusExpired:
			counts.Expired = n
		}
	}

	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("error iterating status counts: %w", err)
	}

	return counts, nil
}

func scanSubscriber(row rowScanner) (*model.Subscriber, error) {
	var sub model.Subscriber
	var flags []string

	err := row.Scan(
		&sub.ID,
		&sub.Email,
		&sub.Name,
		&sub.Phone,
		&sub.PostalCode,
		&sub.PropertyType,
		&sub.MonthlyHeatingCost,
		&sub.Consent,
		&sub.Attribution.Source,
		&sub.Attribution.Medium,
		&sub.Attribution.Campaign,
		&sub.Attribution.Term,
		&sub.Attribution.Content,
		&sub.Referrer,
		&sub.RiskScore,
		pq.Array(&flags),
		&sub.Status,
		&sub.TokenHash,
		&sub.TokenExpiresAt,
		&sub.VerifiedAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.RiskFlags = flags
	return &sub, nil
}
