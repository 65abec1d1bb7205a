package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	t.Run("fills defaults", func(t *testing.T) {
		cfg := &Config{Host: "db", Database: "area", Username: "area"}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, 5432, cfg.Port)
		assert.Equal(t, "prefer", cfg.SSLMode)
	})

	t.Run("requires host database and user", func(t *testing.T) {
		assert.Error(t, (&Config{Database: "area", Username: "u"}).Validate())
		assert.Error(t, (&Config{Host: "db", Username: "u"}).Validate())
		assert.Error(t, (&Config{Host: "db", Database: "area"}).Validate())
	})
}

func TestConnectionString(t *testing.T) {
	cfg := &Config{Host: "db", Port: 5433, Database: "area", Username: "area", Password: "p@ss", SSLMode: "disable"}
	dsn := cfg.ConnectionString()

	assert.True(t, strings.HasPrefix(dsn, "postgres://area:p%40ss@db:5433/area"))
	assert.Contains(t, dsn, "sslmode=disable")
}

func TestDialectUsesNumberedPlaceholders(t *testing.T) {
	assert.True(t, Dialect.NumberedPlaceholders)
	assert.NotEmpty(t, Dialect.Migrations)
}
