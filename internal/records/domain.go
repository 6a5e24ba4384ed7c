package records

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/internal/blackboard"
	"github.com/mohammad-safakhou/scholar/internal/capability"
	"github.com/mohammad-safakhou/scholar/internal/consolidate"
	"github.com/mohammad-safakhou/scholar/internal/core"
	"github.com/mohammad-safakhou/scholar/internal/orchestrator"
	"github.com/mohammad-safakhou/scholar/internal/planner"
)

// Name is the domain name used for routing.
const Name = "records"

// InputRecordsDir is the query input naming the records directory.
const InputRecordsDir = "records_dir"

// Config holds the records domain settings.
type Config struct {
	RecordsDir       string
	WorkDir          string
	AccumulateFields []string
	// NumericMerge is "first" or "average".
	NumericMerge string
	MaxAssessed  int
}

// Domain analyses school record spreadsheets.
type Domain struct {
	cfg    Config
	reg    *capability.Registry
	rules  consolidate.Rules
	logger *zap.Logger
}

var _ orchestrator.Domain = (*Domain)(nil)

// NewDomain builds the records domain. assessor may be nil.
func NewDomain(cfg Config, assessor Assessor, logger *zap.Logger) (*Domain, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("records")
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "scholar")
	}
	if cfg.AccumulateFields == nil {
		cfg.AccumulateFields = []string{"feedback", "comments"}
	}
	reg, err := capability.NewRegistry(Capabilities(assessor, cfg.MaxAssessed, logger),
		"filter_school_records", "excel_to_csv", "analyze_student_performance")
	if err != nil {
		return nil, fmt.Errorf("records registry: %w", err)
	}
	rules := consolidate.AccumulateFields(cfg.AccumulateFields...)
	switch cfg.NumericMerge {
	case "", "first":
	case "average":
		rules.Numeric = consolidate.Average
	default:
		return nil, fmt.Errorf("unknown numeric merge %q", cfg.NumericMerge)
	}
	return &Domain{cfg: cfg, reg: reg, rules: rules, logger: logger}, nil
}

func (d *Domain) Name() string { return Name }

func (d *Domain) Description() string {
	return "academic records: grades, GPA, attendance and teacher feedback from school record spreadsheets"
}

func (d *Domain) Registry() *capability.Registry { return d.reg }

func (d *Domain) DefaultPlan() planner.RawPlan {
	return planner.RawPlan{
		RequiresAnalysis: true,
		Explanation:      "basic analysis of the relevant school records",
		Steps: []planner.RawStep{
			{Capability: "filter_school_records", Description: "find relevant files"},
			{Capability: "excel_to_csv", Description: "convert files to CSV"},
			{Capability: "analyze_student_performance", Description: "analyze student data"},
		},
	}
}

func (d *Domain) Rules() consolidate.Rules { return d.rules }

func (d *Domain) FocusRules() []blackboard.FocusRule { return nil }

// Seed fails with ErrInputUnavailable when the records directory is missing.
func (d *Domain) Seed(q core.Query, bb *blackboard.Blackboard) error {
	dir, ok := q.Input(InputRecordsDir)
	if !ok {
		dir = d.cfg.RecordsDir
	}
	if dir == "" {
		return fmt.Errorf("%w: no records directory configured", orchestrator.ErrInputUnavailable)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: records directory %s does not exist", orchestrator.ErrInputUnavailable, dir)
	}
	run := q.ID
	if run == "" {
		run = "adhoc"
	}
	for _, err := range []error{
		blackboard.Seed(bb, blackboard.QueryTextKey, q.Text),
		blackboard.Seed(bb, blackboard.EntityHintKey, q.EntityHint),
		blackboard.Seed(bb, blackboard.TopicHintKey, q.TopicHint),
		blackboard.Seed(bb, blackboard.WorkDirKey, filepath.Join(d.cfg.WorkDir, run)),
		blackboard.Seed(bb, RecordsDirKey, dir),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Domain) Collect(q core.Query, bb *blackboard.Blackboard) []core.AnalysisRecord {
	recs, _ := blackboard.Lookup(bb, AnalysisRecordsKey)
	return recs
}
