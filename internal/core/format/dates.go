package format

import (
	"regexp"
	"strings"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

// sourceDateLayouts are the date spellings accepted when matching service
// dates against recognized document text.
var sourceDateLayouts = []string{
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"2006-01-02",
	"01-02-2006",
	"1-2-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"Jan. 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
}

func HeadingDate(t time.Time) string {
	return t.Format(domain.HeadingDateLayout)
}

func LongDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(domain.LongDateLayout)
}

// DateSpellings returns the distinct spellings of t checked against source text.
func DateSpellings(t time.Time) []string {
	seen := make(map[string]struct{}, len(sourceDateLayouts))
	out := make([]string, 0, len(sourceDateLayouts))
	for _, layout := range sourceDateLayouts {
		s := t.Format(layout)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// TextMentionsDate reports whether text spells t in any accepted layout.
// A spelling only counts when no digit touches it on either side, so
// 1/2/2023 is not found inside 11/2/2023.
func TextMentionsDate(text string, t time.Time) bool {
	if text == "" || t.IsZero() {
		return false
	}
	for _, s := range DateSpellings(t) {
		if dateMention(s).MatchString(text) {
			return true
		}
	}
	return false
}

func dateMention(spelling string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(^|\D)` + regexp.QuoteMeta(spelling) + `(\D|$)`)
}

// ParseDate accepts ISO, heading and long layouts. Empty input returns the zero time.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	var lastErr error
	for _, layout := range []string{domain.ISODateLayout, domain.HeadingDateLayout, domain.LongDateLayout, time.RFC3339} {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return domain.Day(t), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
