package sqlstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"area-engine/internal/common/errors"
	"area-engine/internal/models"
)

func (s *Store) SaveCredential(ctx context.Context, cred *models.Credential) error {
	scopes, err := marshalJSON(cred.Scopes)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	_, err = s.exec(ctx, `INSERT INTO user_tokens
		(user_id, token_type, token_value, expires_at, scopes, is_revoked, revoked_at, revoked_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, token_type) DO UPDATE SET
			token_value = excluded.token_value,
			expires_at = excluded.expires_at,
			scopes = excluded.scopes,
			is_revoked = excluded.is_revoked,
			revoked_at = excluded.revoked_at,
			revoked_reason = excluded.revoked_reason,
			updated_at = excluded.updated_at`,
		cred.UserID, cred.TokenType, cred.Value, nullTime(cred.ExpiresAt), scopes, cred.IsRevoked,
		nullTime(cred.RevokedAt), cred.RevokedReason, cred.CreatedAt, cred.UpdatedAt)
	if err != nil {
		return errors.InternalError("failed to save credential", err).
			WithContext("user_id", cred.UserID).
			WithContext("token_type", cred.TokenType)
	}
	return nil
}

func (s *Store) GetCredential(ctx context.Context, userID, tokenType string) (*models.Credential, error) {
	var (
		cred      models.Credential
		expiresAt sql.NullTime
		revokedAt sql.NullTime
		scopes    string
	)
	err := s.queryRow(ctx, `SELECT user_id, token_type, token_value, expires_at, scopes, is_revoked, revoked_at,
		revoked_reason, created_at, updated_at FROM user_tokens WHERE user_id = ? AND token_type = ?`, userID, tokenType).
		Scan(&cred.UserID, &cred.TokenType, &cred.Value, &expiresAt, &scopes, &cred.IsRevoked, &revokedAt,
			&cred.RevokedReason, &cred.CreatedAt, &cred.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError("credential")
	}
	if err != nil {
		return nil, errors.InternalError("failed to get credential", err)
	}
	if err := unmarshalJSON(scopes, &cred.Scopes); err != nil {
		return nil, errors.InternalError("corrupt credential scopes", err)
	}
	cred.ExpiresAt = timePtr(expiresAt)
	cred.RevokedAt = timePtr(revokedAt)
	return &cred, nil
}

func (s *Store) RevokeCredential(ctx context.Context, userID, tokenType, reason string, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE user_tokens SET is_revoked = ?, revoked_at = ?, revoked_reason = ?, updated_at = ?
		WHERE user_id = ? AND token_type = ?`, true, at.UTC(), reason, time.Now().UTC(), userID, tokenType)
	if err != nil {
		return errors.InternalError("failed to revoke credential", err)
	}
	return rowsAffected(res, "credential")
}
