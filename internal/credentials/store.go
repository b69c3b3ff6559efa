// Package credentials is the per-brand secret storage: a versioned
// access/refresh token pair per brand. Each brand's pair is mutated only by
// that brand's token refresh routine, and old versions are retired after a
// successful refresh so at most one live version exists.
package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"marketsync/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var ErrNoCredentials = errors.New("no live credentials for brand")

// Version is one stored credential version handle.
type Version struct {
	ID        int64
	BrandKey  string
	Pair      models.CredentialPair
	CreatedAt time.Time
}

type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewStore(path string, logger *zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create credentials directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open credentials store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect credentials store: %w", err)
	}
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("create credential tables: %w", err)
	}

	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "credentials").Logger()
	}
	base.Info().Str("path", path).Msg("credential store initialized")
	return &Store{db: db, logger: base}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS credential_versions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            brand_key TEXT NOT NULL,
            access_token TEXT NOT NULL,
            refresh_token TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            retired_at DATETIME
        )`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_brand ON credential_versions(brand_key, retired_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadLatest returns the newest live version for one brand.
func (s *Store) LoadLatest(ctx context.Context, brandKey string) (models.CredentialPair, error) {
	query := `SELECT access_token, refresh_token FROM credential_versions
              WHERE brand_key = ? AND retired_at IS NULL
              ORDER BY id DESC LIMIT 1`

	var pair models.CredentialPair
	err := s.db.QueryRowContext(ctx, query, brandKey).Scan(&pair.AccessToken, &pair.RefreshToken)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CredentialPair{}, fmt.Errorf("%w: %s", ErrNoCredentials, brandKey)
	}
	if err != nil {
		return models.CredentialPair{}, fmt.Errorf("load credentials for %s: %w", brandKey, err)
	}
	return pair, nil
}

// AppendVersion stores a new credential version and returns its handle.
func (s *Store) AppendVersion(ctx context.Context, brandKey string, pair models.CredentialPair) (Version, error) {
	query := `INSERT INTO credential_versions (brand_key, access_token, refresh_token, created_at)
              VALUES (?, ?, ?, ?)`
	now := time.Now()

	result, err := s.db.ExecContext(ctx, query, brandKey, pair.AccessToken, pair.RefreshToken, now)
	if err != nil {
		return Version{}, fmt.Errorf("append credential version for %s: %w", brandKey, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return Version{}, fmt.Errorf("append credential version for %s: %w", brandKey, err)
	}

	return Version{ID: id, BrandKey: brandKey, Pair: pair, CreatedAt: now}, nil
}

// ListVersions returns all live versions for one brand, newest first.
func (s *Store) ListVersions(ctx context.Context, brandKey string) ([]Version, error) {
	query := `SELECT id, brand_key, access_token, refresh_token, created_at
              FROM credential_versions
              WHERE brand_key = ? AND retired_at IS NULL
              ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, brandKey)
	if err != nil {
		return nil, fmt.Errorf("list credential versions for %s: %w", brandKey, err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.ID, &v.BrandKey, &v.Pair.AccessToken, &v.Pair.RefreshToken, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credential version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// DestroyVersion retires one version. Retired versions are never returned by
// LoadLatest or ListVersions again.
func (s *Store) DestroyVersion(ctx context.Context, v Version) error {
	query := `UPDATE credential_versions SET retired_at = ? WHERE id = ? AND retired_at IS NULL`
	_, err := s.db.ExecContext(ctx, query, time.Now(), v.ID)
	if err != nil {
		return fmt.Errorf("destroy credential version %d: %w", v.ID, err)
	}
	return nil
}
