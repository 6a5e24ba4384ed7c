package core

import (
	"fmt"
	"strings"
)

// Limitations lists, in a stable order, every gap a reader of the answer
// should know about: domains that were not consulted, domains that failed
// or timed out, plans that could not be formed and sources or steps that
// failed.
func (r FederatedReport) Limitations() []string {
	var out []string
	for _, e := range r.Errors {
		if e.Domain == "" {
			switch e.Kind {
			case ClassificationFailure:
				out = append(out, "The question could not be classified, so every domain was consulted.")
			default:
				out = append(out, fmt.Sprintf("%s: %s", e.Kind, e.Message))
			}
		}
	}
	for _, name := range r.NotConsulted {
		out = append(out, fmt.Sprintf("No %s data was used: the question was not routed to the %s domain.", r.describe(name), name))
	}
	for _, name := range r.Requested {
		for _, e := range r.DomainErrors(name) {
			switch e.Kind {
			case FederationTimeout:
				out = append(out, fmt.Sprintf("No %s data was used: the %s analysis timed out.", r.describe(name), name))
			default:
				out = append(out, fmt.Sprintf("No %s data was used: %s.", r.describe(name), e.Message))
			}
		}
		dr, ok := r.Domains[name]
		if !ok {
			continue
		}
		if dr.Plan.Outcome == "empty" {
			out = append(out, fmt.Sprintf("No %s analysis could be planned for this question.", r.describe(name)))
		}
		if dr.Plan.UsedDefault {
			out = append(out, fmt.Sprintf("The %s analysis used its default plan because planning failed.", r.describe(name)))
		}
		for _, e := range dr.Errors {
			switch e.Kind {
			case SourceReadFailure:
				out = append(out, fmt.Sprintf("Source %s could not be read: %s.", e.Source, e.Message))
			case CapabilityExecutionFailure:
				out = append(out, fmt.Sprintf("The %s step failed: %s.", e.Step, e.Message))
			}
		}
	}
	return out
}

// describe returns the short label of a domain: its description up to the
// first colon, or the domain name when no description is known.
func (r FederatedReport) describe(domain string) string {
	d := r.Descriptions[domain]
	if i := strings.Index(d, ":"); i >= 0 {
		d = d[:i]
	}
	if d = strings.TrimSpace(d); d != "" {
		return d
	}
	return domain
}
