package core

import (
	"sort"
	"time"
)

// Query is a single user question. It is created at request time and is
// passed by value so downstream components cannot mutate the caller's copy.
type Query struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	EntityHint string            `json:"entity_hint,omitempty"`
	TopicHint  string            `json:"topic_hint,omitempty"`
	Inputs     map[string]string `json:"inputs,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Input returns a named input such as an image path or records directory.
func (q Query) Input(name string) (string, bool) {
	v, ok := q.Inputs[name]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithHints returns a copy of the query with empty hints filled in.
// Hints already provided by the caller are kept.
func (q Query) WithHints(entity, topic string) Query {
	out := q
	if out.EntityHint == "" {
		out.EntityHint = entity
	}
	if out.TopicHint == "" {
		out.TopicHint = topic
	}
	if q.Inputs != nil {
		out.Inputs = make(map[string]string, len(q.Inputs))
		for k, v := range q.Inputs {
			out.Inputs[k] = v
		}
	}
	return out
}

// AnalysisRecord is one source's result for one entity. Failure is set when
// the source could not be read or parsed; such records carry no fields.
type AnalysisRecord struct {
	Entity  string         `json:"entity"`
	Source  string         `json:"source"`
	Fields  map[string]any `json:"fields,omitempty"`
	Failure *ErrorRecord   `json:"failure,omitempty"`
}

// Failed reports whether the record stands for a read or parse failure.
func (r AnalysisRecord) Failed() bool { return r.Failure != nil }

// ConsolidatedRecord is the per-entity merge of every AnalysisRecord that
// shares the same entity key.
type ConsolidatedRecord struct {
	Entity      string           `json:"entity"`
	Fields      map[string]any   `json:"fields"`
	Accumulated map[string][]any `json:"accumulated,omitempty"`
	Sources     []string         `json:"sources"`
}

// Diagnostic captures an expected control-flow branch, such as a step that
// was skipped because an earlier step produced nothing.
type Diagnostic struct {
	Step    string   `json:"step"`
	Kind    string   `json:"kind"`
	Missing []string `json:"missing,omitempty"`
	Message string   `json:"message"`
}

// PlanSummary describes the plan a domain ran, for reporting.
type PlanSummary struct {
	Outcome     string   `json:"outcome"`
	Steps       []string `json:"steps,omitempty"`
	Rationale   string   `json:"rationale,omitempty"`
	UsedDefault bool     `json:"used_default,omitempty"`
}

// DomainReport is the consolidated output of one analysis domain.
type DomainReport struct {
	Domain      string                        `json:"domain"`
	Records     map[string]ConsolidatedRecord `json:"records"`
	Order       []string                      `json:"order"`
	Errors      []ErrorRecord                 `json:"errors"`
	Diagnostics []Diagnostic                  `json:"diagnostics,omitempty"`
	Plan        PlanSummary                   `json:"plan"`
}

// NewDomainReport returns an empty, well-formed report for domain.
func NewDomainReport(domain string) DomainReport {
	return DomainReport{
		Domain:  domain,
		Records: map[string]ConsolidatedRecord{},
		Order:   []string{},
		Errors:  []ErrorRecord{},
	}
}

// Empty reports whether the domain produced no records and no errors.
func (r DomainReport) Empty() bool { return len(r.Records) == 0 && len(r.Errors) == 0 }

// FederatedReport aggregates domain reports for one query. Domains are
// independent namespaces so no cross-domain merging happens here.
type FederatedReport struct {
	Query        Query                   `json:"query"`
	Requested    []string                `json:"requested"`
	NotConsulted []string                `json:"not_consulted"`
	Descriptions map[string]string       `json:"descriptions,omitempty"`
	Domains      map[string]DomainReport `json:"domains"`
	Errors       []ErrorRecord           `json:"errors"`
}

// NewFederatedReport returns an empty report for q.
func NewFederatedReport(q Query) FederatedReport {
	return FederatedReport{
		Query:        q,
		Requested:    []string{},
		NotConsulted: []string{},
		Descriptions: map[string]string{},
		Domains:      map[string]DomainReport{},
		Errors:       []ErrorRecord{},
	}
}

// DomainNames returns the names of the domains present in the report, sorted.
func (r FederatedReport) DomainNames() []string {
	names := make([]string, 0, len(r.Domains))
	for name := range r.Domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DomainErrors returns the domain-level errors recorded for domain.
func (r FederatedReport) DomainErrors(domain string) []ErrorRecord {
	var out []ErrorRecord
	for _, e := range r.Errors {
		if e.Domain == domain {
			out = append(out, e)
		}
	}
	return out
}
