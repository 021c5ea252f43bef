package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DBNAME", "wbfleet")
	t.Setenv("DBUSER", "ingestor")
	t.Setenv("PASSWORD", "secret")
	t.Setenv("HOST", "db.internal")
	t.Setenv("PORT", "")

	cfg := LoadConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "Europe/Moscow", cfg.Timezone)
	assert.Equal(t, defaultMaxOpenConns, cfg.MaxOpenConns)
	assert.Equal(t, 30*time.Minute, cfg.ConnMaxLifetime)
}

func TestLoadConfig_EmptyDatabaseNameFailsValidation(t *testing.T) {
	t.Setenv("DBNAME", "")
	t.Setenv("DBUSER", "")
	t.Setenv("PASSWORD", "")
	t.Setenv("HOST", "")
	t.Setenv("PORT", "")

	cfg := LoadConfig()

	require.ErrorIs(t, cfg.Validate(), ErrDatabaseNameEmpty)
}

func TestMaskDatabaseURL(t *testing.T) {
	t.Setenv("DBNAME", "wbfleet")
	t.Setenv("DBUSER", "ingestor")
	t.Setenv("PASSWORD", "s3cr3t")
	t.Setenv("HOST", "db.internal")
	t.Setenv("PORT", "5432")

	cfg := LoadConfig()

	assert.Contains(t, cfg.MaskDatabaseURL(), "ingestor:***@db.internal:5432")
	assert.NotContains(t, cfg.MaskDatabaseURL(), "s3cr3t")
}
