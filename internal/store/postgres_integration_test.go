//go:build integration

package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuscheck/attendance/internal/config"
	"github.com/campuscheck/attendance/internal/model"
)

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	log := zap.NewNop()

	runContract(t, func(t *testing.T) Store {
		db, err := OpenDB(context.Background(), config.DatabaseConfig{URL: url, MaxOpenConns: 10, MaxIdleConns: 5})
		require.NoError(t, err)
		require.NoError(t, MigrateUp(db, log))
		_, err = db.Exec(`TRUNCATE attendance_logs, events, users RESTART IDENTITY CASCADE`)
		require.NoError(t, err)

		s := NewPostgres(db, log, model.DefaultDescriptorLength)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
