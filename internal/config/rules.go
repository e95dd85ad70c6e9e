package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/medical-chronology/internal/core/contract"
	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

// rulesFile is the YAML layout of CONTRACT_RULES_PATH.
type rulesFile struct {
	Severity         map[string]string `yaml:"severity"`
	TherapyMaxLapse  string            `yaml:"therapy_max_lapse"`
	TonePhrases      []string          `yaml:"tone_phrases"`
	ImagingForbidden []string          `yaml:"imaging_forbidden"`
}

// LoadContractRules overlays the rules file at path onto base. An empty path
// returns base unchanged.
func LoadContractRules(path string, base contract.Config) (contract.Config, error) {
	if strings.TrimSpace(path) == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read contract rules: %w", err)
	}
	return ParseContractRules(data, base)
}

func ParseContractRules(data []byte, base contract.Config) (contract.Config, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return base, domain.WrapError(domain.ErrInvalidInput, "parse contract rules", err)
	}

	out := base
	if len(file.Severity) > 0 {
		out.Severity = make(map[string]domain.Severity, len(base.Severity)+len(file.Severity))
		for rule, sev := range base.Severity {
			out.Severity[rule] = sev
		}
		for rule, raw := range file.Severity {
			if !contract.KnownRule(rule) {
				return base, domain.WrapError(domain.ErrInvalidInput, "parse contract rules", fmt.Errorf("unknown rule %q", rule))
			}
			sev, ok := contract.ParseSeverity(strings.ToLower(strings.TrimSpace(raw)))
			if !ok {
				return base, domain.WrapError(domain.ErrInvalidInput, "parse contract rules", fmt.Errorf("rule %q: unknown severity %q", rule, raw))
			}
			out.Severity[rule] = sev
		}
	}
	if file.TherapyMaxLapse != "" {
		lapse, err := ParseDuration(strings.TrimSpace(file.TherapyMaxLapse))
		if err != nil || lapse < 0 {
			return base, domain.WrapError(domain.ErrInvalidInput, "parse contract rules", fmt.Errorf("therapy_max_lapse %q", file.TherapyMaxLapse))
		}
		out.TherapyMaxLapse = lapse
	}
	if len(file.TonePhrases) > 0 {
		out.TonePhrases = file.TonePhrases
	}
	if len(file.ImagingForbidden) > 0 {
		out.ImagingForbidden = file.ImagingForbidden
	}
	return out, nil
}
