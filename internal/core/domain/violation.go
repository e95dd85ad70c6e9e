package domain

import (
	"fmt"
	"slices"
)

type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityAdvisory Severity = "advisory"
)

// GlobalEntry marks a violation not tied to a single entry.
const GlobalEntry = -1

type Violation struct {
	RuleID     string   `json:"rule_id"`
	EntryIndex int      `json:"entry_index"`
	Message    string   `json:"message"`
	Severity   Severity `json:"severity"`
}

func (v Violation) String() string {
	if v.EntryIndex == GlobalEntry {
		return fmt.Sprintf("[%s] %s: %s", v.Severity, v.RuleID, v.Message)
	}
	return fmt.Sprintf("[%s] %s (entry %d): %s", v.Severity, v.RuleID, v.EntryIndex+1, v.Message)
}

type ViolationReport struct {
	Violations []Violation `json:"violations"`
}

func (r ViolationReport) Blocking() []Violation {
	return r.filter(SeverityBlocking)
}

func (r ViolationReport) Advisory() []Violation {
	return r.filter(SeverityAdvisory)
}

func (r ViolationReport) HasBlocking() bool {
	return slices.ContainsFunc(r.Violations, func(v Violation) bool { return v.Severity == SeverityBlocking })
}

// FlaggedEntries returns the sorted indices of entries carrying a blocking violation.
func (r ViolationReport) FlaggedEntries() []int {
	var out []int
	for _, v := range r.Violations {
		if v.Severity != SeverityBlocking || v.EntryIndex == GlobalEntry {
			continue
		}
		if !slices.Contains(out, v.EntryIndex) {
			out = append(out, v.EntryIndex)
		}
	}
	slices.Sort(out)
	return out
}

// HasBlockingRule reports whether a blocking violation of ruleID exists.
func (r ViolationReport) HasBlockingRule(ruleID string) bool {
	return slices.ContainsFunc(r.Violations, func(v Violation) bool {
		return v.Severity == SeverityBlocking && v.RuleID == ruleID
	})
}

func (r ViolationReport) filter(severity Severity) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == severity {
			out = append(out, v)
		}
	}
	return out
}
