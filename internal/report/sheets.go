package report

import (
	"context"
	"fmt"
	"os"

	"marketsync/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsMirror pushes run summaries into a shared Google Sheet. It overwrites
// the Runs range on every push; the sheet mirrors the latest report, it is
// not an append-only log.
type SheetsMirror struct {
	service       *sheets.Service
	spreadsheetID string
}

// NewSheetsMirror authenticates with a service-account credentials file.
func NewSheetsMirror(credentialsFile, spreadsheetID string) (*SheetsMirror, error) {
	ctx := context.Background()

	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	jwtConfig, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &SheetsMirror{service: srv, spreadsheetID: spreadsheetID}, nil
}

// TestConnection reads one cell to verify access before the first push.
func (m *SheetsMirror) TestConnection(ctx context.Context) error {
	_, err := m.service.Spreadsheets.Values.Get(m.spreadsheetID, "Runs!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// MirrorRuns replaces the Runs range with a header row plus one row per run.
func (m *SheetsMirror) MirrorRuns(ctx context.Context, runs []models.SyncRun) error {
	values := make([][]any, 0, len(runs)+1)
	header := make([]any, len(columns))
	for i, col := range columns {
		header[i] = col
	}
	values = append(values, header)
	for _, run := range runs {
		values = append(values, runRow(run))
	}

	rangeRef := fmt.Sprintf("Runs!A1:M%d", len(values))
	_, err := m.service.Spreadsheets.Values.
		Update(m.spreadsheetID, rangeRef, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("mirror runs: %w", err)
	}
	return nil
}
