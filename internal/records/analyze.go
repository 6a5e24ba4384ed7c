package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/mohammad-safakhou/scholar/internal/core"
)

// ErrNoStudentColumn is reported for sheets without a usable student key.
var ErrNoStudentColumn = errors.New("no Student ID or First Name/Last Name columns")

// Row is one student row with normalized field names.
type Row struct {
	Entity string
	Fields map[string]any
}

// Sheet is one parsed CSV.
type Sheet struct {
	Source string
	Rows   []Row
}

// ReadSheet parses a CSV into rows keyed by student. Headers become
// snake_case field names, blank cells are omitted and numeric cells become
// float64. The key is the Student ID column, or First Name plus Last Name.
func ReadSheet(source, csvPath string) (Sheet, error) {
	fh, err := os.Open(csvPath)
	if err != nil {
		return Sheet{}, err
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Sheet{Source: source}, nil
		}
		return Sheet{}, fmt.Errorf("read header: %w", err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = FieldName(h)
	}
	key, err := keyFunc(cols)
	if err != nil {
		return Sheet{}, err
	}

	sheet := Sheet{Source: source}
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Sheet{}, fmt.Errorf("line %d: %w", line, err)
		}
		fields := make(map[string]any, len(cols))
		for i, col := range cols {
			if col == "" || i >= len(rec) {
				continue
			}
			if v := strings.TrimSpace(rec[i]); v != "" {
				fields[col] = cellValue(v)
			}
		}
		entity := key(fields)
		if entity == "" {
			continue
		}
		if _, ok := fields["name"]; !ok {
			if name := fullName(fields); name != "" {
				fields["name"] = name
			}
		}
		sheet.Rows = append(sheet.Rows, Row{Entity: entity, Fields: fields})
	}
	return sheet, nil
}

// Matching returns the rows whose key or name matches hint, case-insensitively.
func (s Sheet) Matching(hint string) []Row {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return s.Rows
	}
	var out []Row
	for _, row := range s.Rows {
		if strings.ToLower(row.Entity) == hint {
			out = append(out, row)
			continue
		}
		if name, ok := row.Fields["name"].(string); ok && nameMatches(name, hint) {
			out = append(out, row)
		}
	}
	return out
}

// FieldName normalizes a header such as "Math Score" to "math_score".
func FieldName(header string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(header) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingSep = true
	}
	return b.String()
}

func keyFunc(cols []string) (func(map[string]any) string, error) {
	has := map[string]bool{}
	for _, c := range cols {
		has[c] = true
	}
	switch {
	case has["student_id"]:
		return func(f map[string]any) string { return cellString(f["student_id"]) }, nil
	case has["first_name"] && has["last_name"]:
		return fullName, nil
	}
	return nil, ErrNoStudentColumn
}

func fullName(f map[string]any) string {
	first, last := cellString(f["first_name"]), cellString(f["last_name"])
	return strings.TrimSpace(first + " " + last)
}

func nameMatches(name, hint string) bool {
	name = strings.ToLower(name)
	if name == hint {
		return true
	}
	for _, part := range strings.Fields(name) {
		if part == hint {
			return true
		}
	}
	return false
}

func cellValue(v string) any {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// SheetRecords turns the rows of a sheet into analysis records, one per row.
func SheetRecords(s Sheet, rows []Row) []core.AnalysisRecord {
	out := make([]core.AnalysisRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, core.AnalysisRecord{Entity: row.Entity, Source: s.Source, Fields: row.Fields})
	}
	return out
}

// FailedRecord reports an unreadable source.
func FailedRecord(source string, err error) core.AnalysisRecord {
	rec := core.SourceError(source, err)
	return core.AnalysisRecord{Source: source, Failure: &rec}
}
