package writer

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/insightdelivered/statement-viewer/internal/results"
)

// CSVWriter writes the rendered statement fields in CSV format.
type CSVWriter struct {
	IncludeHeader bool
}

// WriteToFile writes the view to a CSV file at the given path.
func (w *CSVWriter) WriteToFile(path string, view results.View) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %q: %w", path, err)
	}
	defer f.Close()

	return w.Write(f, view)
}

// Write writes the view's fields to out.
func (w *CSVWriter) Write(out io.Writer, view results.View) error {
	if !view.Success {
		return results.ErrNothingToExport
	}

	writer := csv.NewWriter(out)

	// Metadata as comment-style header rows
	if w.IncludeHeader {
		for _, row := range metadataRows(view) {
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("failed to write CSV metadata: %w", err)
			}
		}
	}

	if err := writer.Write([]string{"Field", "Value"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, f := range view.Fields {
		if err := writer.Write([]string{f.Label, f.Value}); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func metadataRows(view results.View) [][]string {
	rows := [][]string{
		{"# Bank", view.Bank},
		{"# Method", view.Method},
	}
	for _, w := range view.Warnings {
		rows = append(rows, []string{"# Warning", w})
	}
	return rows
}
