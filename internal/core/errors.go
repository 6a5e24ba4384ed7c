package core

import "fmt"

// ErrorKind classifies recoverable failures recorded during a run.
type ErrorKind string

const (
	// PlanningFailure means the planning oracle was unreachable or returned
	// something unusable; the domain falls back to its default plan.
	PlanningFailure ErrorKind = "planning_failure"
	// UnknownCapability means a plan step named a capability the registry
	// does not know. The step is dropped.
	UnknownCapability ErrorKind = "unknown_capability"
	// MissingPrerequisite is only used for diagnostics, never ErrorRecords.
	MissingPrerequisite ErrorKind = "missing_prerequisite"
	// CapabilityExecutionFailure covers errors, panics and timeouts of a step.
	CapabilityExecutionFailure ErrorKind = "capability_execution_failure"
	// SourceReadFailure means one file or source could not be read or parsed.
	SourceReadFailure ErrorKind = "source_read_failure"
	// ClassificationFailure means every domain was assumed to be required.
	ClassificationFailure ErrorKind = "classification_failure"
	// FederationTimeout marks a domain that did not finish in time.
	FederationTimeout ErrorKind = "federation_timeout"
	// DomainUnavailable marks a requested domain whose inputs do not exist.
	DomainUnavailable ErrorKind = "domain_unavailable"
)

// ErrorRecord is appended during a run and never removed.
type ErrorRecord struct {
	Domain  string    `json:"domain,omitempty"`
	Step    string    `json:"step,omitempty"`
	Source  string    `json:"source,omitempty"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e ErrorRecord) String() string {
	where := e.Step
	if where == "" {
		where = e.Source
	}
	if e.Domain != "" {
		where = e.Domain + "/" + where
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, where, e.Message)
}

// StepError builds an ErrorRecord for a failing plan step.
func StepError(step string, kind ErrorKind, err error) ErrorRecord {
	return ErrorRecord{Step: step, Kind: kind, Message: errMessage(err)}
}

// SourceError builds an ErrorRecord for an unreadable source.
func SourceError(source string, err error) ErrorRecord {
	return ErrorRecord{Source: source, Kind: SourceReadFailure, Message: errMessage(err)}
}

func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
