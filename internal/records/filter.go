package records

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/search/query"
	"github.com/xuri/excelize/v2"
)

// genericTokens are file-name words that say nothing about a particular
// student. A file named only with these words is assumed to hold data for
// the whole class.
var genericTokens = map[string]struct{}{
	"all": {}, "class": {}, "school": {}, "student": {}, "students": {},
	"record": {}, "records": {}, "grade": {}, "grades": {}, "score": {}, "scores": {},
	"report": {}, "reports": {}, "result": {}, "results": {}, "term": {}, "year": {},
	"semester": {}, "attendance": {}, "feedback": {}, "comments": {}, "data": {},
	"export": {}, "sheet": {}, "final": {}, "midterm": {}, "exam": {}, "exams": {},
	"performance": {}, "summary": {}, "subject": {}, "subjects": {},
	"math": {}, "maths": {}, "mathematics": {}, "english": {}, "science": {},
	"history": {}, "physics": {}, "chemistry": {}, "biology": {}, "geography": {},
	"art": {}, "music": {}, "pe": {}, "spring": {}, "summer": {}, "autumn": {}, "fall": {}, "winter": {},
}

type indexedFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Supported reports whether path has a spreadsheet extension this domain reads.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".xlsx", ".xlsm":
		return true
	}
	return false
}

// ListRecordFiles returns every spreadsheet directly inside dir, sorted.
func ListRecordFiles(dir string) ([]RecordFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []RecordFile
	for _, e := range entries {
		if e.IsDir() || !Supported(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		out = append(out, RecordFile{
			Path:    path,
			Format:  strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
			Generic: isGeneric(path),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// FilterRecords keeps the files relevant to the hints. Without hints every
// file is kept. Otherwise a file is kept when it is generic or when its
// name or content matches a hint. Files whose content cannot be read are
// kept so the failure is reported downstream.
func FilterRecords(dir, entityHint, topicHint string) ([]RecordFile, error) {
	files, err := ListRecordFiles(dir)
	if err != nil {
		return nil, err
	}
	var hints []string
	for _, h := range []string{entityHint, topicHint} {
		if h = strings.TrimSpace(h); h != "" {
			hints = append(hints, h)
		}
	}
	if len(hints) == 0 || len(files) == 0 {
		return files, nil
	}

	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("record index: %w", err)
	}
	defer idx.Close()

	unreadable := map[string]bool{}
	for _, f := range files {
		content, err := fileText(f)
		if err != nil {
			unreadable[f.Path] = true
		}
		doc := indexedFile{Name: strings.Join(nameTokens(f.Path), " "), Content: content}
		if err := idx.Index(f.Path, doc); err != nil {
			return nil, fmt.Errorf("index %s: %w", filepath.Base(f.Path), err)
		}
	}

	queries := make([]query.Query, 0, len(hints))
	for _, h := range hints {
		queries = append(queries, bleve.NewMatchQuery(h))
	}
	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(queries...), len(files), 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	scores := make(map[string]float64, len(res.Hits))
	for _, hit := range res.Hits {
		scores[hit.ID] = hit.Score
	}

	out := make([]RecordFile, 0, len(files))
	for _, f := range files {
		score, hit := scores[f.Path]
		if hit || f.Generic || unreadable[f.Path] {
			f.Score = score
			out = append(out, f)
		}
	}
	return out, nil
}

func nameTokens(path string) []string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.FieldsFunc(strings.ToLower(base), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isGeneric(path string) bool {
	for _, tok := range nameTokens(path) {
		if _, ok := genericTokens[tok]; ok {
			continue
		}
		if strings.IndexFunc(tok, func(r rune) bool { return !unicode.IsDigit(r) }) == -1 {
			continue
		}
		return false
	}
	return true
}

const maxIndexedBytes = 1 << 20

// fileText returns the searchable text of a record file.
func fileText(f RecordFile) (string, error) {
	if f.Format == "csv" {
		fh, err := os.Open(f.Path)
		if err != nil {
			return "", err
		}
		defer fh.Close()
		var b strings.Builder
		sc := bufio.NewScanner(fh)
		for sc.Scan() && b.Len() < maxIndexedBytes {
			b.WriteString(sc.Text())
			b.WriteByte('\n')
		}
		return b.String(), sc.Err()
	}
	wb, err := excelize.OpenFile(f.Path)
	if err != nil {
		return "", err
	}
	defer wb.Close()
	var b strings.Builder
	for _, sheet := range wb.GetSheetList() {
		rows, err := wb.GetRows(sheet)
		if err != nil {
			return "", err
		}
		for _, row := range rows {
			b.WriteString(strings.Join(row, " "))
			b.WriteByte('\n')
			if b.Len() >= maxIndexedBytes {
				return b.String(), nil
			}
		}
	}
	return b.String(), nil
}
