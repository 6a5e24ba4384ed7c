package records

import (
	"github.com/mohammad-safakhou/scholar/internal/blackboard"
	"github.com/mohammad-safakhou/scholar/internal/core"
)

// RecordFile is a spreadsheet selected for analysis.
type RecordFile struct {
	Path    string  `json:"path"`
	Format  string  `json:"format"`
	Generic bool    `json:"generic"`
	Score   float64 `json:"score,omitempty"`
}

// TabularFile is a record file in CSV form. Err is set when the source
// could not be converted; such entries surface as SourceReadFailures.
type TabularFile struct {
	Source string `json:"source"`
	CSV    string `json:"csv,omitempty"`
	Err    string `json:"error,omitempty"`
}

var (
	RecordsDirKey      = blackboard.NewKey[string](blackboard.RecordsDir)
	RecordFilesKey     = blackboard.NewKey[[]RecordFile](blackboard.RecordFiles)
	TabularFilesKey    = blackboard.NewKey[[]TabularFile](blackboard.TabularFiles)
	AnalysisRecordsKey = blackboard.NewKey[[]core.AnalysisRecord](blackboard.AnalysisRecords)
)
