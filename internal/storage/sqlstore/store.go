// Package sqlstore implements storage.Storage over database/sql. The sqlite and
// postgres adapters supply the driver connection and a Dialect; the queries are
// shared and written with '?' placeholders.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"area-engine/internal/common/errors"
)

// Dialect describes the differences between the supported databases.
type Dialect struct {
	Name string
	// NumberedPlaceholders rewrites '?' into $1, $2, ...
	NumberedPlaceholders bool
	Migrations           []string
}

// Store is a storage.Storage backed by a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps db and runs the dialect's migrations.
func New(db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate applies the CREATE TABLE IF NOT EXISTS statements of the dialect.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.InternalError(fmt.Sprintf("%s migration failed", s.dialect.Name), err)
		}
	}
	return nil
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) rebind(query string) string {
	if !s.dialect.NumberedPlaceholders {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// providerOf returns the provider part of a fully-qualified action type.
func providerOf(actionType string) string {
	if i := strings.Index(actionType, "."); i >= 0 {
		return actionType[:i]
	}
	return actionType
}

func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "null", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.ValidationError("value is not JSON serializable").WithContext("cause", err.Error())
	}
	return string(data), nil
}

func unmarshalJSON(raw string, v interface{}) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func rowsAffected(res sql.Result, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.InternalError("failed to read affected rows", err)
	}
	if n == 0 {
		return errors.NotFoundError(resource)
	}
	return nil
}
