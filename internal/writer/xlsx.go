package writer

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/insightdelivered/statement-viewer/internal/results"
)

const sheetName = "Statement"

// XLSXWriter builds a one-sheet workbook of the rendered statement fields.
type XLSXWriter struct {
	IncludeHeader bool
}

// Bytes returns the workbook as XLSX bytes.
func (w *XLSXWriter) Bytes(view results.View) ([]byte, error) {
	if !view.Success {
		return nil, results.ErrNothingToExport
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	var rows [][]string
	if w.IncludeHeader {
		rows = append(rows, metadataRows(view)...)
	}
	rows = append(rows, []string{"Field", "Value"})
	headerRow := len(rows)
	for _, fld := range view.Fields {
		rows = append(rows, []string{fld.Label, fld.Value})
	}

	for i, row := range rows {
		for j, v := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, fmt.Errorf("set %s: %w", cell, err)
			}
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	if err := f.SetRowStyle(sheetName, headerRow, headerRow, bold); err != nil {
		return nil, fmt.Errorf("apply header style: %w", err)
	}
	_ = f.SetColWidth(sheetName, "A", "A", 24)
	_ = f.SetColWidth(sheetName, "B", "B", 28)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
