package sqlstore

import (
	"context"
	"time"

	"area-engine/internal/common/errors"
	"area-engine/internal/models"
)

const mappingColumns = `id, created_by, name, action_type, action_config, reaction_type, reaction_config, is_active, created_at`

func (s *Store) CreateMapping(ctx context.Context, m *models.Mapping) error {
	actionConfig, err := marshalJSON(m.Action.Config)
	if err != nil {
		return err
	}
	reactionConfig, err := marshalJSON(m.Reaction.Config)
	if err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err = s.exec(ctx, `INSERT INTO mappings (`+mappingColumns+`, action_provider) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CreatedBy, m.Name, m.Action.Type, actionConfig, m.Reaction.Type, reactionConfig, m.IsActive,
		m.CreatedAt.UTC(), providerOf(m.Action.Type))
	if err != nil {
		return errors.InternalError("failed to create mapping", err).WithContext("mapping_id", m.ID)
	}
	return nil
}

func (s *Store) SetMappingActive(ctx context.Context, id string, active bool) error {
	res, err := s.exec(ctx, `UPDATE mappings SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return errors.InternalError("failed to update mapping", err)
	}
	return rowsAffected(res, "mapping")
}

func (s *Store) ListActiveMappingsByActionType(ctx context.Context, actionType string) ([]*models.Mapping, error) {
	return s.listMappings(ctx, `SELECT `+mappingColumns+` FROM mappings
		WHERE action_type = ? AND is_active = ? ORDER BY created_at ASC`, actionType, true)
}

func (s *Store) ListActiveMappingsForUser(ctx context.Context, userID, provider string) ([]*models.Mapping, error) {
	return s.listMappings(ctx, `SELECT `+mappingColumns+` FROM mappings
		WHERE created_by = ? AND action_provider = ? AND is_active = ? ORDER BY created_at ASC`, userID, provider, true)
}

func (s *Store) ListActiveUserIDs(ctx context.Context, provider string) ([]string, error) {
	rows, err := s.query(ctx, `SELECT DISTINCT created_by FROM mappings
		WHERE action_provider = ? AND is_active = ? ORDER BY created_by`, provider, true)
	if err != nil {
		return nil, errors.InternalError("failed to list active users", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.InternalError("failed to scan user id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) listMappings(ctx context.Context, query string, args ...interface{}) ([]*models.Mapping, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, errors.InternalError("failed to list mappings", err)
	}
	defer rows.Close()

	var mappings []*models.Mapping
	for rows.Next() {
		var (
			m              models.Mapping
			actionConfig   string
			reactionConfig string
		)
		if err := rows.Scan(&m.ID, &m.CreatedBy, &m.Name, &m.Action.Type, &actionConfig, &m.Reaction.Type,
			&reactionConfig, &m.IsActive, &m.CreatedAt); err != nil {
			return nil, errors.InternalError("failed to scan mapping", err)
		}
		if err := unmarshalJSON(actionConfig, &m.Action.Config); err != nil {
			return nil, errors.InternalError("corrupt action config", err).WithContext("mapping_id", m.ID)
		}
		if err := unmarshalJSON(reactionConfig, &m.Reaction.Config); err != nil {
			return nil, errors.InternalError("corrupt reaction config", err).WithContext("mapping_id", m.ID)
		}
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}
