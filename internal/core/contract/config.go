package contract

import (
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/consolidation"
	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

const (
	RuleHeader               = "header"
	RuleEntryGrammar         = "entry-grammar"
	RuleBannedConstruct      = "banned-construct"
	RuleTone                 = "tone"
	RuleImaging              = "imaging"
	RuleTherapyConsolidation = "therapy-consolidation"
	RuleTraceability         = "traceability"
	RuleOrdering             = "ordering"
	// RuleEntryModel reports generator output that could not be turned into entries.
	RuleEntryModel = "entry-model"
)

// SeverityOff disables a rule.
const SeverityOff domain.Severity = "off"

// RuleOrder is the evaluation and reporting order of rules.
var RuleOrder = []string{
	RuleHeader,
	RuleEntryModel,
	RuleEntryGrammar,
	RuleBannedConstruct,
	RuleTone,
	RuleImaging,
	RuleTherapyConsolidation,
	RuleTraceability,
	RuleOrdering,
}

var defaultSeverity = map[string]domain.Severity{
	RuleHeader:               domain.SeverityBlocking,
	RuleEntryModel:           domain.SeverityBlocking,
	RuleEntryGrammar:         domain.SeverityBlocking,
	RuleBannedConstruct:      domain.SeverityBlocking,
	RuleTone:                 domain.SeverityAdvisory,
	RuleImaging:              domain.SeverityBlocking,
	RuleTherapyConsolidation: domain.SeverityBlocking,
	RuleTraceability:         domain.SeverityBlocking,
	RuleOrdering:             domain.SeverityBlocking,
}

var DefaultTonePhrases = []string{
	"the patient was seen for",
	"patient presented with",
	"the patient presented",
	"pre-procedure laboratory studies were performed",
	"the patient reports that",
}

var DefaultImagingForbidden = []string{"Findings:", "Technique:", "Comparison:", "Clinical History:"}

type Config struct {
	// Severity overrides the default severity per rule id.
	Severity         map[string]domain.Severity
	TherapyMaxLapse  time.Duration
	TonePhrases      []string
	ImagingForbidden []string
}

func DefaultConfig() Config {
	return Config{
		TherapyMaxLapse:  consolidation.DefaultMaxLapse,
		TonePhrases:      DefaultTonePhrases,
		ImagingForbidden: DefaultImagingForbidden,
	}
}

// SeverityOf returns the effective severity of rule.
func (c Config) SeverityOf(rule string) domain.Severity {
	if sev, ok := c.Severity[rule]; ok {
		return sev
	}
	if sev, ok := defaultSeverity[rule]; ok {
		return sev
	}
	return domain.SeverityBlocking
}

// ParseSeverity accepts blocking, advisory and off.
func ParseSeverity(raw string) (domain.Severity, bool) {
	switch domain.Severity(raw) {
	case domain.SeverityBlocking:
		return domain.SeverityBlocking, true
	case domain.SeverityAdvisory:
		return domain.SeverityAdvisory, true
	case SeverityOff:
		return SeverityOff, true
	default:
		return "", false
	}
}

func KnownRule(rule string) bool {
	_, ok := defaultSeverity[rule]
	return ok
}
