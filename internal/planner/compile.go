package planner

import (
	"fmt"
	"sort"

	"github.com/mohammad-safakhou/scholar/internal/capability"
	"github.com/mohammad-safakhou/scholar/internal/core"
)

// Step is a validated reference to a registered capability.
type Step struct {
	Capability  string `json:"capability"`
	Description string `json:"description,omitempty"`
	Tier        int    `json:"tier"`
}

// Plan is an ordered, validated step list for one query. It is never
// shared between queries.
type Plan struct {
	Steps     []Step `json:"steps"`
	Rationale string `json:"rationale,omitempty"`
}

// Names returns the capability names in execution order.
func (p Plan) Names() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Capability
	}
	return out
}

// Contains reports whether any step references name.
func (p Plan) Contains(name string) bool {
	for _, s := range p.Steps {
		if s.Capability == name {
			return true
		}
	}
	return false
}

// OutcomeKind tags a PlanValidationOutcome.
type OutcomeKind int

const (
	// OutcomeEmpty means a plan was requested but no step survived validation.
	OutcomeEmpty OutcomeKind = iota
	// OutcomeNotRequired means the oracle decided no analysis is needed.
	OutcomeNotRequired
	// OutcomeValid carries a runnable plan.
	OutcomeValid
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNotRequired:
		return "not_required"
	case OutcomeValid:
		return "valid"
	default:
		return "empty"
	}
}

// Warning describes a step the compiler dropped.
type Warning struct {
	Index      int
	Capability string
	Kind       core.ErrorKind
	Reason     string
}

// ErrorRecord converts the warning for reporting.
func (w Warning) ErrorRecord() core.ErrorRecord {
	return core.ErrorRecord{Step: w.Capability, Kind: w.Kind, Message: w.Reason}
}

// Outcome is the tagged result of compiling a raw plan.
type Outcome struct {
	Kind     OutcomeKind
	Plan     Plan
	Warnings []Warning
}

// Valid returns the plan when the outcome is runnable.
func (o Outcome) Valid() (Plan, bool) {
	if o.Kind != OutcomeValid {
		return Plan{}, false
	}
	return o.Plan, true
}

// Resolver looks up capabilities by name.
type Resolver interface {
	Resolve(name string) (capability.Capability, error)
}

// Compile validates raw against reg. Unknown and repeated capability names
// are dropped with a warning; surviving steps are stably ordered by tier so
// the relative order the oracle chose is kept within a tier.
func Compile(raw RawPlan, reg Resolver) Outcome {
	if !raw.RequiresAnalysis {
		return Outcome{Kind: OutcomeNotRequired, Plan: Plan{Rationale: raw.Explanation}}
	}
	out := Outcome{Plan: Plan{Rationale: raw.Explanation}}
	seen := make(map[string]struct{}, len(raw.Steps))
	for i, rs := range raw.Steps {
		name := rs.Name()
		c, err := reg.Resolve(name)
		if err != nil {
			out.Warnings = append(out.Warnings, Warning{
				Index: i, Capability: name, Kind: core.UnknownCapability,
				Reason: fmt.Sprintf("step %d dropped: %v", i, err),
			})
			continue
		}
		if _, dup := seen[name]; dup {
			out.Warnings = append(out.Warnings, Warning{
				Index: i, Capability: name, Kind: core.UnknownCapability,
				Reason: fmt.Sprintf("step %d dropped: %s already planned", i, name),
			})
			continue
		}
		seen[name] = struct{}{}
		out.Plan.Steps = append(out.Plan.Steps, Step{
			Capability:  name,
			Description: rs.Description,
			Tier:        c.Card().Tier,
		})
	}
	sort.SliceStable(out.Plan.Steps, func(i, j int) bool {
		return out.Plan.Steps[i].Tier < out.Plan.Steps[j].Tier
	})
	if len(out.Plan.Steps) == 0 {
		out.Kind = OutcomeEmpty
		return out
	}
	out.Kind = OutcomeValid
	return out
}
