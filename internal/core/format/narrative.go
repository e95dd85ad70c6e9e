package format

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

var (
	headingPattern    = regexp.MustCompile(`^(\d{2}/\d{2}/\d{4})\. (.+)\.$`)
	headingStartRegex = regexp.MustCompile(`^\d{1,4}[/-]\d{1,2}[/-]\d{1,4}`)
)

// Heading is the parsed first line of a narrative entry block.
type Heading struct {
	Date      time.Time
	Facility  string
	Provider  domain.Provider
	VisitType string
}

// HeaderLines returns the four fixed header lines for m.
func HeaderLines(m domain.Metadata) []string {
	return []string{
		domain.NarrativeTitle,
		strings.ToUpper(strings.TrimSpace(m.PatientName)),
		"Date of Birth: " + LongDate(m.DateOfBirth),
		"Date of Injury: " + LongDate(m.DateOfInjury),
	}
}

// ProviderSegment renders "Name, Credentials" with periods removed from credentials.
func ProviderSegment(p domain.Provider) string {
	name := cleanSegment(p.Name())
	creds := cleanSegment(strings.ReplaceAll(p.Credentials, ".", ""))
	switch {
	case name == "":
		return ""
	case creds == "":
		return name
	default:
		return name + ", " + creds
	}
}

func RenderHeading(e domain.Entry) string {
	segments := make([]string, 0, 3)
	for _, seg := range []string{cleanSegment(e.Facility), ProviderSegment(e.Provider), cleanSegment(e.VisitType)} {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return HeadingDate(e.Date) + ". " + strings.Join(segments, ". ") + "."
}

// RenderNarrative renders the header block followed by one block per entry.
func RenderNarrative(set *domain.ChronologySet) string {
	var b strings.Builder
	for _, line := range HeaderLines(set.Metadata) {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, e := range set.Entries {
		b.WriteByte('\n')
		b.WriteString(RenderHeading(e))
		b.WriteByte('\n')
		b.WriteString(e.Summary)
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseHeading checks a heading line against the entry grammar.
func ParseHeading(line string) (Heading, error) {
	line = strings.TrimSpace(line)
	if strings.Contains(line, "..") {
		return Heading{}, errors.New("heading contains an empty segment")
	}
	m := headingPattern.FindStringSubmatch(line)
	if m == nil {
		if !headingStartRegex.MatchString(line) {
			return Heading{}, errors.New("heading does not start with an MM/DD/YYYY date")
		}
		return Heading{}, errors.New("heading does not match \"MM/DD/YYYY. facility. provider, credentials. visit type.\"")
	}
	date, err := time.Parse(domain.HeadingDateLayout, m[1])
	if err != nil {
		return Heading{}, fmt.Errorf("heading date %q is not a calendar date", m[1])
	}
	segments := strings.Split(m[2], ". ")
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			return Heading{}, errors.New("heading contains an empty segment")
		}
	}

	h := Heading{Date: domain.Day(date), VisitType: strings.TrimSpace(segments[len(segments)-1])}
	rest := segments[:len(segments)-1]
	if len(rest) == 0 {
		return h, nil
	}
	last := rest[len(rest)-1]
	if strings.Contains(last, ", ") || len(rest) == 2 {
		h.Provider = parseProvider(last)
		h.Facility = strings.Join(rest[:len(rest)-1], ". ")
	} else {
		h.Facility = strings.Join(rest, ". ")
	}
	return h, nil
}

func parseProvider(seg string) domain.Provider {
	name, creds := seg, ""
	if i := strings.LastIndex(seg, ", "); i >= 0 {
		name, creds = seg[:i], seg[i+2:]
	}
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return domain.Provider{Credentials: strings.TrimSpace(creds)}
	case 1:
		return domain.Provider{Last: fields[0], Credentials: strings.TrimSpace(creds)}
	default:
		return domain.Provider{
			First:       strings.Join(fields[:len(fields)-1], " "),
			Last:        fields[len(fields)-1],
			Credentials: strings.TrimSpace(creds),
		}
	}
}

// Block is one entry block of a narrative document.
type Block struct {
	Line    int
	Heading string
	Summary string
}

// Narrative is a narrative document split into header lines and entry blocks.
type Narrative struct {
	Header []string
	Blocks []Block
}

// ParseNarrative splits text without judging it; grammar checks belong to the validator.
func ParseNarrative(text string) Narrative {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var (
		out     Narrative
		current *Block
		body    []string
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Summary = strings.TrimSpace(strings.Join(body, "\n"))
		out.Blocks = append(out.Blocks, *current)
		current, body = nil, nil
	}
	for i, raw := range lines {
		line := strings.TrimRight(raw, " \t")
		if headingStartRegex.MatchString(strings.TrimSpace(line)) {
			flush()
			current = &Block{Line: i + 1, Heading: strings.TrimSpace(line)}
			continue
		}
		if current == nil {
			if strings.TrimSpace(line) != "" {
				out.Header = append(out.Header, strings.TrimSpace(line))
			}
			continue
		}
		body = append(body, line)
	}
	flush()
	return out
}

func cleanSegment(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ". ")
}
