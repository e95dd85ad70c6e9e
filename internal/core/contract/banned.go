package contract

import (
	"fmt"
	"regexp"
	"strings"
)

type pattern struct {
	re    *regexp.Regexp
	label string
}

var (
	boldPattern      = regexp.MustCompile(`\*\*[^*\n]+\*\*|__[^_\n]+__`)
	italicPattern    = regexp.MustCompile(`\*[^*\s][^*\n]*\*|\b_[^_\s][^_\n]*_\b`)
	listPattern      = regexp.MustCompile(`(?m)^[ \t]*(?:[-*•]|\d+[.)])[ \t]+`)
	allCapsPattern   = regexp.MustCompile(`\b[A-Z]{2,}(?:\s+[A-Z]{2,}){3,}\b`)
	paragraphPattern = regexp.MustCompile(`\n[ \t]*\n`)

	citationPatterns = []pattern{
		{regexp.MustCompile(`(?i)\b(?:page|pg\.?|pp?\.)\s*\d+(?:\s*-\s*\d+)?`), "page citation"},
		{regexp.MustCompile(`\[\d+(?:\s*[-,]\s*\d+)*\]`), "reference citation"},
		{regexp.MustCompile(`(?i)\bref\.?\s*\d+`), "reference citation"},
		{regexp.MustCompile(`(?i)\bbates\b`), "Bates citation"},
	}
)

// bannedConstructs returns one message per banned occurrence in text.
func bannedConstructs(text string) []string {
	var out []string
	add := func(label, match string) {
		out = append(out, fmt.Sprintf("%s %q is not allowed", label, strings.TrimSpace(match)))
	}

	for _, m := range boldPattern.FindAllString(text, -1) {
		add("emphasis", m)
	}
	stripped := boldPattern.ReplaceAllString(text, " ")
	for _, m := range italicPattern.FindAllString(stripped, -1) {
		add("emphasis", m)
	}
	for _, m := range listPattern.FindAllString(text, -1) {
		add("list marker", m)
	}
	for _, m := range allCapsPattern.FindAllString(text, -1) {
		add("all-caps run", m)
	}
	for _, p := range citationPatterns {
		for _, m := range p.re.FindAllString(text, -1) {
			add(p.label, m)
		}
	}
	for range paragraphPattern.FindAllStringIndex(text, -1) {
		out = append(out, "summary must be a single paragraph")
	}
	return out
}

func tonePhrases(text string, phrases []string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, phrase := range phrases {
		if phrase == "" {
			continue
		}
		for range strings.Count(lower, strings.ToLower(phrase)) {
			out = append(out, fmt.Sprintf("narrative connective %q; use a direct in-paragraph heading", phrase))
		}
	}
	return out
}
