package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrEmptyWorkbook is returned for workbooks without sheets.
var ErrEmptyWorkbook = errors.New("workbook has no sheets")

// ConvertWorkbook writes the first sheet of an xlsx workbook as CSV into
// outDir and returns the CSV path. Ragged rows are padded to the header
// width.
func ConvertWorkbook(path, outDir string) (string, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return "", ErrEmptyWorkbook
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return "", fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	out := filepath.Join(outDir, base+".csv")
	fh, err := os.Create(out)
	if err != nil {
		return "", err
	}
	width := 0
	if len(rows) > 0 {
		width = len(rows[0])
	}
	w := csv.NewWriter(fh)
	for _, row := range rows {
		for len(row) < width {
			row = append(row, "")
		}
		if err := w.Write(row); err != nil {
			fh.Close()
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		fh.Close()
		return "", err
	}
	return out, fh.Close()
}

// ToTabular converts every record file into CSV form. Failures are kept as
// entries with Err set, in input order.
func ToTabular(files []RecordFile, outDir string) []TabularFile {
	out := make([]TabularFile, 0, len(files))
	for _, f := range files {
		if f.Format == "csv" {
			out = append(out, TabularFile{Source: f.Path, CSV: f.Path})
			continue
		}
		csvPath, err := ConvertWorkbook(f.Path, outDir)
		if err != nil {
			out = append(out, TabularFile{Source: f.Path, Err: err.Error()})
			continue
		}
		out = append(out, TabularFile{Source: f.Path, CSV: csvPath})
	}
	return out
}
