package domain

import (
	"strings"
	"time"
)

// SessionRequest starts or resumes a chronology session for one patient.
type SessionRequest struct {
	SessionID   string   `json:"session_id"`
	PatientID   string   `json:"patient_id,omitempty"`
	Reference   string   `json:"reference"`
	Destination string   `json:"destination,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

type SessionResult struct {
	SessionID   string          `json:"session_id"`
	Status      SessionStatus   `json:"status"`
	FailedPhase Phase           `json:"failed_phase,omitempty"`
	Error       string          `json:"error,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	RoundsUsed  int             `json:"rounds_used"`
	Report      ViolationReport `json:"report"`
	Documents   int             `json:"documents"`
	Entries     int             `json:"entries"`
	Artifacts   []string        `json:"artifacts,omitempty"`
	Skipped     []Phase         `json:"skipped,omitempty"`
}

// Artifact is one persisted output handed to the remote uploader.
type Artifact struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// CorrectionFeedback carries violations back to the generator.
type CorrectionFeedback struct {
	Round          int            `json:"round"`
	Violations     []Violation    `json:"violations"`
	FlaggedEntries []int          `json:"flagged_entries"`
	Current        *ChronologySet `json:"current"`
}

type GenerationRequest struct {
	Documents []RecognizedDocument `json:"documents"`
	Contract  string               `json:"contract"`
	Metadata  Metadata             `json:"metadata"`
	Feedback  *CorrectionFeedback  `json:"feedback,omitempty"`
}

// NewSessionID builds "<patient>_<YYYYMMDD_HHMMSS>" or just the timestamp.
func NewSessionID(patientID string, now time.Time) string {
	stamp := now.UTC().Format("20060102_150405")
	patient := sanitizeIDPart(patientID)
	if patient == "" {
		return stamp
	}
	return patient + "_" + stamp
}

func sanitizeIDPart(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.ReplaceAll(raw, " ", "_")
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_':
			return r
		default:
			return -1
		}
	}, raw)
}

// ValidSessionID reports whether id is safe to use as a directory name.
func ValidSessionID(id string) bool {
	return id != "" && sanitizeIDPart(id) == id
}
