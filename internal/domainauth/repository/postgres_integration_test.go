//go:build integration

package repository_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/senderauth/internal/domainauth/model"
	"github.com/jmerrifield20/senderauth/internal/domainauth/repository"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err, "connect to postgres")
	t.Cleanup(db.Close)
	require.NoError(t, db.Ping(ctx), "ping postgres")

	files, err := filepath.Glob(filepath.Join("..", "..", "..", "migrations", "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)
	for _, f := range files {
		schema, err := os.ReadFile(f)
		require.NoError(t, err)
		_, err = db.Exec(ctx, string(schema))
		require.NoError(t, err, "apply %s", filepath.Base(f))
	}
	return db
}

func TestPostgresStore(t *testing.T) {
	db := setupPostgres(t)
	runStoreSuite(t, func() store {
		_, err := db.Exec(context.Background(), "DELETE FROM domain_auth")
		require.NoError(t, err)
		return repository.NewPostgresRepository(db)
	})
}

func TestPostgresStore_ProviderRoundTrip(t *testing.T) {
	db := setupPostgres(t)
	_, err := db.Exec(context.Background(), "DELETE FROM domain_auth")
	require.NoError(t, err)
	s := repository.NewPostgresRepository(db)
	ctx := context.Background()

	d := newEntity("acct-1", "example.com")
	require.NoError(t, s.Create(ctx, d))

	d.Status = model.StatusAuthInProgress
	d.ClearChallenge()
	d.Provider = &model.ProviderMeta{
		ProviderID:          "cloudflare",
		ProviderName:        "Cloudflare",
		HelpURL:             "https://developers.cloudflare.com/dns/",
		Suspected:           "Cloudflare",
		DetectedNameservers: []string{"ada.ns.cloudflare.com", "bob.ns.cloudflare.com"},
	}
	require.NoError(t, s.Update(ctx, d))

	got, err := s.Get(ctx, "acct-1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAuthInProgress, got.Status)
	assert.False(t, got.HasChallenge())
	require.NotNil(t, got.Provider)
	assert.Equal(t, *d.Provider, *got.Provider)
}
