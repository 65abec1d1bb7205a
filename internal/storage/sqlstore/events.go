package sqlstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"area-engine/internal/common/errors"
	"area-engine/internal/models"
)

const eventColumns = `id, action_type, user_id, payload, source, status, created_at, processed_at`

func (s *Store) CreateEvent(ctx context.Context, event *models.Event) error {
	payload, err := marshalJSON(event.Payload)
	if err != nil {
		return err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = models.EventStatusReceived
	}

	_, err = s.exec(ctx, `INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.ActionType, event.UserID, payload, event.Source, string(event.Status),
		event.CreatedAt.UTC(), nullTime(event.ProcessedAt))
	if err != nil {
		return errors.InternalError("failed to create event", err).WithContext("event_id", event.ID)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	row := s.queryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	event, err := scanEvent(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError("event")
	}
	if err != nil {
		return nil, errors.InternalError("failed to get event", err)
	}
	return event, nil
}

func (s *Store) ListPendingEvents(ctx context.Context, limit int) ([]*models.Event, error) {
	rows, err := s.query(ctx, `SELECT `+eventColumns+` FROM events WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		string(models.EventStatusReceived), limit)
	if err != nil {
		return nil, errors.InternalError("failed to list pending events", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, errors.InternalError("failed to scan event", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *Store) UpdateEventStatus(ctx context.Context, id string, status models.EventStatus) error {
	var processedAt sql.NullTime
	if status == models.EventStatusCompleted || status == models.EventStatusFailed {
		processedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	res, err := s.exec(ctx, `UPDATE events SET status = ?, processed_at = ? WHERE id = ?`, string(status), processedAt, id)
	if err != nil {
		return errors.InternalError("failed to update event status", err)
	}
	return rowsAffected(res, "event")
}

// ClaimEvent moves a received event to processing. It reports false when the
// event is no longer received, e.g. another dispatch already settled it.
func (s *Store) ClaimEvent(ctx context.Context, id string) (bool, error) {
	res, err := s.exec(ctx, `UPDATE events SET status = ? WHERE id = ? AND status = ?`,
		string(models.EventStatusProcessing), id, string(models.EventStatusReceived))
	if err != nil {
		return false, errors.InternalError("failed to claim event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.InternalError("failed to claim event", err)
	}
	return n == 1, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*models.Event, error) {
	var (
		event       models.Event
		payload     string
		status      string
		processedAt sql.NullTime
	)
	if err := row.Scan(&event.ID, &event.ActionType, &event.UserID, &payload, &event.Source, &status,
		&event.CreatedAt, &processedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(payload, &event.Payload); err != nil {
		return nil, err
	}
	event.Status = models.EventStatus(status)
	event.ProcessedAt = timePtr(processedAt)
	return &event, nil
}
