// Package report renders sync run summaries for operators: an xlsx export on
// disk and an optional mirror into a Google Sheet the finance team watches.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"marketsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Sync Runs"

var columns = []string{"Brand", "Job ID", "Started", "Finished", "Duration",
	"Orders Fetched", "Orders Inserted", "Escrow", "Returns", "Wallet", "Ad Spend", "Partial", "Error"}

type Exporter struct {
	dir    string
	logger zerolog.Logger
}

func NewExporter(dir string, logger *zerolog.Logger) *Exporter {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "report").Logger()
	}
	return &Exporter{dir: dir, logger: base}
}

// WriteRunReport writes one xlsx file covering the given runs and returns its
// path.
func (e *Exporter) WriteRunReport(runs []models.SyncRun, since time.Time) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Sync runs since %s", since.Format("2006-01-02")))
	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, col)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	first, _ := excelize.CoordinatesToCellName(1, 2)
	last, _ := excelize.CoordinatesToCellName(len(columns), 2)
	_ = f.SetCellStyle(sheetName, first, last, headerStyle)

	for i, run := range runs {
		for j, v := range runRow(run) {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+3)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "E", 22)
	_ = f.DeleteSheet("Sheet1")

	path := filepath.Join(e.dir, fmt.Sprintf("sync_runs_%s.xlsx", time.Now().Format("2006-01-02_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	e.logger.Info().Str("path", path).Int("runs", len(runs)).Msg("run report written")
	return path, nil
}

func runRow(run models.SyncRun) []any {
	return []any{
		run.Brand,
		run.JobID,
		run.StartedAt.Format(time.RFC3339),
		run.FinishedAt.Format(time.RFC3339),
		run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String(),
		run.OrdersFetched,
		run.OrdersInserted,
		run.EscrowInserted,
		run.ReturnsInserted,
		run.WalletInserted,
		run.AdSpendInserted,
		run.Partial,
		run.Error,
	}
}
