package services

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/monkbot/gateway/internal/config"
	"github.com/monkbot/gateway/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := models.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// newFileTestDB opens a WAL-mode sqlite file with conns pooled
// connections, for tests where writers must contend across connections.
func newFileTestDB(t *testing.T, conns int) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "gateway.db") + "?_journal_mode=WAL&_busy_timeout=10000"
	db, err := models.Open(&config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(conns)
	require.NoError(t, models.Migrate(db))

	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func testPolicy() KeyPolicy {
	return KeyPolicy{
		DefaultModel:    "gpt-4o-mini",
		DefaultCredits:  50,
		FreeDomainLimit: 1,
		RetainPlaintext: true,
	}
}

// seedKey provisions a standalone key with the given balance and active
// bindings.
func seedKey(t *testing.T, db *gorm.DB, plan string, credits int, domains ...string) *IssuedKey {
	t.Helper()

	keys := NewKeyService(db, KeyPolicy{DefaultModel: "gpt-4o-mini"})
	issued, err := keys.CreateKey(context.Background(), CreateKeyInput{Plan: plan, Credits: &credits})
	require.NoError(t, err)

	for _, d := range domains {
		var binding models.AllowedDomain
		binding.APIKeyID = issued.Key.ID
		binding.Domain = d
		binding.Status = models.DomainStatusActive
		require.NoError(t, db.Create(&binding).Error)
	}
	return issued
}
