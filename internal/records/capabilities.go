package records

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/internal/blackboard"
	"github.com/mohammad-safakhou/scholar/internal/capability"
	"github.com/mohammad-safakhou/scholar/internal/core"
)

// Capabilities returns the records-domain capabilities. assessor may be nil.
// At most maxAssessed students per sheet are assessed.
func Capabilities(assessor Assessor, maxAssessed int, logger *zap.Logger) []capability.Capability {
	if logger == nil {
		logger = zap.NewNop()
	}
	return []capability.Capability{
		filterSchoolRecords(),
		excelToCSV(),
		analyzeStudentPerformance(assessor, maxAssessed, logger),
	}
}

func slots(s ...blackboard.Slot) []blackboard.Slot { return s }

func filterSchoolRecords() capability.Capability {
	return capability.New(capability.Card{
		Name:        "filter_school_records",
		Description: "Find the record spreadsheets relevant to the student and subject in question",
		Tier:        0,
		Requires:    slots(blackboard.RecordsDir),
		Optional:    slots(blackboard.EntityHint, blackboard.TopicHint),
		Produces:    slots(blackboard.RecordFiles),
	}, func(ctx context.Context, in *blackboard.View, out *blackboard.Output) error {
		dir, _ := blackboard.Get(in, RecordsDirKey)
		entity, _ := blackboard.Get(in, blackboard.EntityHintKey)
		topic, _ := blackboard.Get(in, blackboard.TopicHintKey)
		files, err := FilterRecords(dir, entity, topic)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return nil
		}
		return blackboard.Put(out, RecordFilesKey, files)
	})
}

func excelToCSV() capability.Capability {
	return capability.New(capability.Card{
		Name:        "excel_to_csv",
		Description: "Convert Excel workbooks to CSV so every record file can be analyzed",
		Tier:        1,
		Requires:    slots(blackboard.RecordFiles),
		Optional:    slots(blackboard.WorkDir),
		Produces:    slots(blackboard.TabularFiles),
	}, func(ctx context.Context, in *blackboard.View, out *blackboard.Output) error {
		files, _ := blackboard.Get(in, RecordFilesKey)
		dir, ok := blackboard.Get(in, blackboard.WorkDirKey)
		if !ok {
			tmp, err := os.MkdirTemp("", "scholar-records-")
			if err != nil {
				return err
			}
			dir = tmp
		}
		return blackboard.Put(out, TabularFilesKey, ToTabular(files, filepath.Join(dir, "csv")))
	})
}

func analyzeStudentPerformance(assessor Assessor, maxAssessed int, logger *zap.Logger) capability.Capability {
	timeout := time.Duration(0)
	if assessor != nil {
		timeout = 3 * time.Minute
	}
	return capability.New(capability.Card{
		Name:        "analyze_student_performance",
		Description: "Extract grades, GPA, attendance and feedback per student from the record files",
		Tier:        2,
		Requires:    slots(blackboard.TabularFiles),
		Optional:    slots(blackboard.EntityHint),
		Produces:    slots(blackboard.AnalysisRecords),
		Timeout:     timeout,
	}, func(ctx context.Context, in *blackboard.View, out *blackboard.Output) error {
		tabs, _ := blackboard.Get(in, TabularFilesKey)
		hint, _ := blackboard.Get(in, blackboard.EntityHintKey)
		var recs []core.AnalysisRecord
		for _, tab := range tabs {
			if tab.Err != "" {
				recs = append(recs, FailedRecord(tab.Source, errors.New(tab.Err)))
				continue
			}
			sheet, err := ReadSheet(tab.Source, tab.CSV)
			if err != nil {
				recs = append(recs, FailedRecord(tab.Source, err))
				continue
			}
			rows := sheet.Matching(hint)
			recs = append(recs, SheetRecords(sheet, rows)...)
			if assessor != nil {
				recs = append(recs, assess(ctx, assessor, sheet.Source, rows, maxAssessed, logger)...)
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return blackboard.Put(out, AnalysisRecordsKey, recs)
	})
}

// assess adds one assessment record per student. A failed assessment only
// omits the fields.
func assess(ctx context.Context, assessor Assessor, source string, rows []Row, limit int, logger *zap.Logger) []core.AnalysisRecord {
	var order []string
	grouped := map[string][]map[string]any{}
	for _, row := range rows {
		if _, ok := grouped[row.Entity]; !ok {
			order = append(order, row.Entity)
		}
		grouped[row.Entity] = append(grouped[row.Entity], row.Fields)
	}
	if limit > 0 && len(order) > limit {
		logger.Debug("skipping assessment", zap.String("source", source), zap.Int("students", len(order)))
		return nil
	}
	var out []core.AnalysisRecord
	for _, entity := range order {
		if ctx.Err() != nil {
			return out
		}
		a, err := assessor.Assess(ctx, entity, grouped[entity])
		if err != nil {
			logger.Warn("assessment failed", zap.String("entity", entity), zap.String("source", source), zap.Error(err))
			continue
		}
		if fields := a.Fields(); len(fields) > 0 {
			out = append(out, core.AnalysisRecord{Entity: entity, Source: source, Fields: fields})
		}
	}
	return out
}
