package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/insightdelivered/statement-viewer/internal/models"
)

// ErrNothingToExport is returned when there is no successful result.
var ErrNothingToExport = errors.New("no successful result to export")

// ExportFilename names an export file after the moment it was produced,
// e.g. statement_analysis_2025-01-15T10-20-30.123Z.json.
func ExportFilename(now time.Time, ext string) string {
	ts := now.UTC().Format("2006-01-02T15:04:05.000Z")
	return fmt.Sprintf("statement_analysis_%s.%s", strings.ReplaceAll(ts, ":", "-"), ext)
}

// ExportJSON serialises the data of the last successful result.
func ExportJSON(res *models.ParseResult, now time.Time) (string, []byte, error) {
	if res == nil || !res.Success {
		return "", nil, ErrNothingToExport
	}
	data := res.Data
	if data == nil {
		data = models.StatementFields{}
	}
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("encode export: %w", err)
	}
	return ExportFilename(now, "json"), body, nil
}
