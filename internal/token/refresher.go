// Package token refreshes and persists marketplace credentials. The refresh
// runs at the start of every brand job, before any fetch stage; a failure
// here fails that brand's job only.
package token

import (
	"context"
	"fmt"

	"marketsync/internal/config"
	"marketsync/internal/credentials"
	"marketsync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

type Refresher struct {
	store  *credentials.Store
	conf   *oauth2.Config
	logger zerolog.Logger
}

func NewRefresher(store *credentials.Store, cfg config.MarketplaceConfig, logger *zerolog.Logger) *Refresher {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "token").Logger()
	}
	return &Refresher{
		store: store,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		},
		logger: base,
	}
}

// Refresh exchanges the brand's current refresh token for a fresh pair,
// persists it as a new version and retires every previous live version.
// After a successful refresh exactly one live version remains.
func (r *Refresher) Refresh(ctx context.Context, brandKey string) (models.CredentialPair, error) {
	current, err := r.store.LoadLatest(ctx, brandKey)
	if err != nil {
		return models.CredentialPair{}, err
	}

	stale := &oauth2.Token{RefreshToken: current.RefreshToken}
	fresh, err := r.conf.TokenSource(ctx, stale).Token()
	if err != nil {
		return models.CredentialPair{}, fmt.Errorf("refresh token for %s: %w", brandKey, err)
	}

	pair := models.CredentialPair{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
	}
	if pair.RefreshToken == "" {
		// Some token endpoints omit the refresh token when it is unchanged.
		pair.RefreshToken = current.RefreshToken
	}

	stored, err := r.store.AppendVersion(ctx, brandKey, pair)
	if err != nil {
		return models.CredentialPair{}, err
	}

	versions, err := r.store.ListVersions(ctx, brandKey)
	if err != nil {
		return models.CredentialPair{}, err
	}
	for _, v := range versions {
		if v.ID == stored.ID {
			continue
		}
		if err := r.store.DestroyVersion(ctx, v); err != nil {
			return models.CredentialPair{}, err
		}
	}

	r.logger.Info().Str("brand", brandKey).Msg("credentials refreshed")
	return pair, nil
}
