package credentials

import (
	"context"
	"path/filepath"
	"testing"

	"marketsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "credentials.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadLatestMissingBrand(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LoadLatest(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestAppendAndLoadLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AppendVersion(ctx, "alpha", models.CredentialPair{AccessToken: "at1", RefreshToken: "rt1"})
	require.NoError(t, err)
	_, err = store.AppendVersion(ctx, "alpha", models.CredentialPair{AccessToken: "at2", RefreshToken: "rt2"})
	require.NoError(t, err)

	pair, err := store.LoadLatest(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "at2", pair.AccessToken)
	assert.Equal(t, "rt2", pair.RefreshToken)
}

func TestRetireLeavesSingleLiveVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old, err := store.AppendVersion(ctx, "alpha", models.CredentialPair{AccessToken: "old", RefreshToken: "old-rt"})
	require.NoError(t, err)
	_, err = store.AppendVersion(ctx, "alpha", models.CredentialPair{AccessToken: "new", RefreshToken: "new-rt"})
	require.NoError(t, err)

	require.NoError(t, store.DestroyVersion(ctx, old))

	live, err := store.ListVersions(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "new", live[0].Pair.AccessToken)
}

func TestBrandsAreIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AppendVersion(ctx, "alpha", models.CredentialPair{AccessToken: "a", RefreshToken: "ar"})
	require.NoError(t, err)
	_, err = store.AppendVersion(ctx, "beta", models.CredentialPair{AccessToken: "b", RefreshToken: "br"})
	require.NoError(t, err)

	pair, err := store.LoadLatest(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, "b", pair.AccessToken)

	live, err := store.ListVersions(ctx, "alpha")
	require.NoError(t, err)
	assert.Len(t, live, 1)
}
