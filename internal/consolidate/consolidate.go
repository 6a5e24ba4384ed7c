package consolidate

import (
	"encoding/json"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/mohammad-safakhou/scholar/internal/core"
)

// MergeRule decides how values for one field are folded across sources.
type MergeRule string

const (
	// FirstNonNull keeps the first non-null value in source order.
	FirstNonNull MergeRule = "first_non_null"
	// Accumulate appends every non-null value to an ordered list.
	Accumulate MergeRule = "accumulate"
	// Average replaces numeric values with their mean. Non-numeric values
	// fall back to FirstNonNull.
	Average MergeRule = "average"
)

// Rules declares merge behaviour for a domain. Fields without an explicit
// rule use FirstNonNull, or Numeric when the value is a number and Numeric
// is set.
type Rules struct {
	Fields  map[string]MergeRule
	Numeric MergeRule
}

// AccumulateFields is a convenience for declaring several accumulate fields.
func AccumulateFields(names ...string) Rules {
	r := Rules{Fields: make(map[string]MergeRule, len(names))}
	for _, n := range names {
		r.Fields[n] = Accumulate
	}
	return r
}

func (r Rules) ruleFor(field string, v any) MergeRule {
	if rule, ok := r.Fields[field]; ok {
		return rule
	}
	if r.Numeric == Average {
		if _, ok := toFloat(v); ok {
			return Average
		}
	}
	return FirstNonNull
}

// Consolidator folds per-source records into per-entity records.
type Consolidator struct {
	rules  Rules
	logger *zap.Logger
}

// New returns a consolidator applying rules.
func New(rules Rules, logger *zap.Logger) *Consolidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consolidator{rules: rules, logger: logger.Named("consolidate")}
}

// Consolidate groups records by entity key and folds each group in source
// order. Entity keys are opaque and compared exactly. Failure records are
// kept as errors and never folded. The result depends only on the input,
// so consolidating the same records twice yields equal reports.
func (c *Consolidator) Consolidate(domain string, records []core.AnalysisRecord) core.DomainReport {
	report := core.NewDomainReport(domain)
	groups := make(map[string][]core.AnalysisRecord)
	for _, rec := range records {
		if rec.Failed() {
			e := *rec.Failure
			e.Domain = domain
			if e.Source == "" {
				e.Source = rec.Source
			}
			if e.Kind == "" {
				e.Kind = core.SourceReadFailure
			}
			report.Errors = append(report.Errors, e)
			continue
		}
		if rec.Entity == "" {
			report.Errors = append(report.Errors, core.ErrorRecord{
				Domain: domain, Source: rec.Source, Kind: core.SourceReadFailure,
				Message: "record has no entity key",
			})
			continue
		}
		if _, ok := groups[rec.Entity]; !ok {
			report.Order = append(report.Order, rec.Entity)
		}
		groups[rec.Entity] = append(groups[rec.Entity], rec)
	}
	for _, entity := range report.Order {
		report.Records[entity] = c.fold(entity, groups[entity])
	}
	c.logger.Debug("consolidated",
		zap.String("domain", domain),
		zap.Int("records", len(records)),
		zap.Int("entities", len(report.Order)),
		zap.Int("errors", len(report.Errors)))
	return report
}

func (c *Consolidator) fold(entity string, recs []core.AnalysisRecord) core.ConsolidatedRecord {
	out := core.ConsolidatedRecord{Entity: entity, Fields: map[string]any{}}
	sums := map[string][]float64{}
	seenSource := map[string]struct{}{}
	for _, rec := range recs {
		if _, ok := seenSource[rec.Source]; !ok {
			seenSource[rec.Source] = struct{}{}
			out.Sources = append(out.Sources, rec.Source)
		}
		keys := make([]string, 0, len(rec.Fields))
		for k := range rec.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := rec.Fields[k]
			if isNull(v) {
				continue
			}
			switch c.rules.ruleFor(k, v) {
			case Accumulate:
				if out.Accumulated == nil {
					out.Accumulated = map[string][]any{}
				}
				out.Accumulated[k] = append(out.Accumulated[k], v)
			case Average:
				if f, ok := toFloat(v); ok {
					sums[k] = append(sums[k], f)
					continue
				}
				if _, set := out.Fields[k]; !set {
					out.Fields[k] = v
				}
			default:
				if _, set := out.Fields[k]; !set {
					out.Fields[k] = v
				}
			}
		}
	}
	for k, vals := range sums {
		total := 0.0
		for _, f := range vals {
			total += f
		}
		out.Fields[k] = total / float64(len(vals))
	}
	return out
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	if f, ok := v.(float64); ok && math.IsNaN(f) {
		return true
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
