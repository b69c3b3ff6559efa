package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"marketsync/internal/config"
	"marketsync/internal/credentials"
	"marketsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenServer(t *testing.T, refreshToken string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		body := `{"access_token":"fresh-at","token_type":"bearer","expires_in":3600`
		if refreshToken != "" {
			body += `,"refresh_token":"` + refreshToken + `"`
		}
		body += `}`
		_, _ = w.Write([]byte(body))
	}))
}

func newTestRefresher(t *testing.T, tokenURL string) (*Refresher, *credentials.Store) {
	t.Helper()
	store, err := credentials.NewStore(filepath.Join(t.TempDir(), "creds.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.MarketplaceConfig{TokenURL: tokenURL, ClientID: "cid", ClientSecret: "secret"}
	return NewRefresher(store, cfg, nil), store
}

func TestRefreshRotatesPair(t *testing.T) {
	srv := newTokenServer(t, "fresh-rt")
	defer srv.Close()

	refresher, store := newTestRefresher(t, srv.URL)
	ctx := context.Background()

	_, err := store.AppendVersion(ctx, "alpha", models.CredentialPair{AccessToken: "old-at", RefreshToken: "old-rt"})
	require.NoError(t, err)

	pair, err := refresher.Refresh(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "fresh-at", pair.AccessToken)
	assert.Equal(t, "fresh-rt", pair.RefreshToken)

	// Exactly one live version after a successful refresh.
	live, err := store.ListVersions(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "fresh-at", live[0].Pair.AccessToken)
}

func TestRefreshKeepsRefreshTokenWhenOmitted(t *testing.T) {
	srv := newTokenServer(t, "")
	defer srv.Close()

	refresher, store := newTestRefresher(t, srv.URL)
	ctx := context.Background()

	_, err := store.AppendVersion(ctx, "alpha", models.CredentialPair{AccessToken: "old-at", RefreshToken: "old-rt"})
	require.NoError(t, err)

	pair, err := refresher.Refresh(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "old-rt", pair.RefreshToken)
}

func TestRefreshFailsFastWithoutCredentials(t *testing.T) {
	srv := newTokenServer(t, "rt")
	defer srv.Close()

	refresher, _ := newTestRefresher(t, srv.URL)
	_, err := refresher.Refresh(context.Background(), "ghost")
	assert.ErrorIs(t, err, credentials.ErrNoCredentials)
}
