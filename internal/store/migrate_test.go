package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesAllMigrations(t *testing.T) {
	s := newTestStore(t)

	v, err := s.CurrentSchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Migrations[len(Migrations)-1].Version, v)
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	before, err := s.CurrentSchemaVersion(ctx)
	require.NoError(t, err)

	// A second pass over the same migration set is a no-op.
	require.NoError(t, s.ApplyMigrations(ctx, Migrations))

	after, err := s.CurrentSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestApplyMigrations_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.UpsertEcho(ctx, testEcho("echo-1")))
	require.NoError(t, s1.Close())

	// Second launch against the same file: migrations are skipped, data
	// is intact.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, ok, err := s2.GetEcho(ctx, "echo-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Road trip", got.Title)
}

func TestApplyMigrations_FailedStatementRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bad := Migration{
		Version: 99,
		Statements: []string{
			`CREATE TABLE should_not_survive (id TEXT PRIMARY KEY)`,
			`THIS IS NOT SQL`,
		},
	}
	err := s.ApplyMigrations(ctx, []Migration{bad})
	require.Error(t, err)

	v, verr := s.CurrentSchemaVersion(ctx)
	require.NoError(t, verr)
	assert.NotEqual(t, 99, v, "version bump rolls back with the failed migration")

	var n int
	scanErr := s.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'should_not_survive'
	`).Scan(&n)
	require.NoError(t, scanErr)
	assert.Zero(t, n, "earlier statements of the failed migration roll back too")
}

func TestApplyMigrations_SkipsOlderVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A stale v1 with destructive statements must not run against a
	// database already at a later version.
	destructive := Migration{
		Version:    1,
		Statements: []string{`DROP TABLE echoes`},
	}
	require.NoError(t, s.ApplyMigrations(ctx, []Migration{destructive}))

	require.NoError(t, s.UpsertEcho(ctx, testEcho("echo-1")))
}
