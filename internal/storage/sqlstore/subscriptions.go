package sqlstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"area-engine/internal/common/errors"
	"area-engine/internal/models"
)

const subscriptionColumns = `id, user_id, provider, external_id, callback_url, secret, watched_event_types, status, is_active, created_at, updated_at`

func (s *Store) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	watched, err := marshalJSON(sub.WatchedEventTypes)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	_, err = s.exec(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			external_id = excluded.external_id,
			callback_url = excluded.callback_url,
			secret = excluded.secret,
			watched_event_types = excluded.watched_event_types,
			status = excluded.status,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		sub.ID, sub.UserID, sub.Provider, sub.ExternalID, sub.CallbackURL, sub.Secret, watched, sub.Status,
		sub.IsActive, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return errors.InternalError("failed to save subscription", err).WithContext("subscription_id", sub.ID)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	return s.getSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
}

func (s *Store) GetSubscriptionByExternalID(ctx context.Context, provider, externalID string) (*models.Subscription, error) {
	return s.getSubscription(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE provider = ? AND external_id = ? ORDER BY updated_at DESC LIMIT 1`, provider, externalID)
}

func (s *Store) ListSubscriptions(ctx context.Context, provider string) ([]*models.Subscription, error) {
	rows, err := s.query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE provider = ? ORDER BY created_at ASC`, provider)
	if err != nil {
		return nil, errors.InternalError("failed to list subscriptions", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, errors.InternalError("failed to scan subscription", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) UpdateSubscriptionStatus(ctx context.Context, id, status string, active bool) error {
	res, err := s.exec(ctx, `UPDATE subscriptions SET status = ?, is_active = ?, updated_at = ? WHERE id = ?`,
		status, active, time.Now().UTC(), id)
	if err != nil {
		return errors.InternalError("failed to update subscription", err)
	}
	return rowsAffected(res, "subscription")
}

func (s *Store) getSubscription(ctx context.Context, query string, args ...interface{}) (*models.Subscription, error) {
	sub, err := scanSubscription(s.queryRow(ctx, query, args...))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError("subscription")
	}
	if err != nil {
		return nil, errors.InternalError("failed to get subscription", err)
	}
	return sub, nil
}

func scanSubscription(row scanner) (*models.Subscription, error) {
	var (
		sub     models.Subscription
		watched string
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.Provider, &sub.ExternalID, &sub.CallbackURL, &sub.Secret,
		&watched, &sub.Status, &sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(watched, &sub.WatchedEventTypes); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) CreateReactionRecord(ctx context.Context, record *models.ReactionRecord) error {
	output, err := marshalJSON(record.Output)
	if err != nil {
		return err
	}
	if record.ExecutedAt.IsZero() {
		record.ExecutedAt = time.Now().UTC()
	}
	_, err = s.exec(ctx, `INSERT INTO reactions (id, event_id, mapping_id, reaction_type, status, output, error, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.EventID, record.MappingID, record.ReactionType, string(record.Status), output, record.Error,
		record.ExecutedAt.UTC())
	if err != nil {
		return errors.InternalError("failed to record reaction", err).WithContext("event_id", record.EventID)
	}
	return nil
}

func (s *Store) ListReactionRecords(ctx context.Context, eventID string) ([]*models.ReactionRecord, error) {
	rows, err := s.query(ctx, `SELECT id, event_id, mapping_id, reaction_type, status, output, error, executed_at
		FROM reactions WHERE event_id = ? ORDER BY executed_at ASC`, eventID)
	if err != nil {
		return nil, errors.InternalError("failed to list reactions", err)
	}
	defer rows.Close()

	var records []*models.ReactionRecord
	for rows.Next() {
		var (
			r      models.ReactionRecord
			status string
			output string
		)
		if err := rows.Scan(&r.ID, &r.EventID, &r.MappingID, &r.ReactionType, &status, &output, &r.Error, &r.ExecutedAt); err != nil {
			return nil, errors.InternalError("failed to scan reaction", err)
		}
		r.Status = models.ReactionStatus(status)
		if err := unmarshalJSON(output, &r.Output); err != nil {
			return nil, errors.InternalError("corrupt reaction output", err)
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}
