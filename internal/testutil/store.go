package testutil

import (
	"context"
	"testing"

	"github.com/HerbHall/entitykit/internal/services"
	"github.com/HerbHall/entitykit/internal/store"
	"github.com/stretchr/testify/require"
)

// NewStore opens a private in-memory database that is closed with the test.
func NewStore(t testing.TB) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(context.Background(), ":memory:")
	require.NoError(t, err, "open in-memory store")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// NewEntityRepo returns a migrated entity repository over NewStore.
func NewEntityRepo(t testing.TB, opts ...services.EntityRepoOption) *services.SQLiteEntityRepository {
	t.Helper()
	repo, err := services.NewSQLiteEntityRepository(context.Background(), NewStore(t), opts...)
	require.NoError(t, err, "migrate entity repository")
	return repo
}
