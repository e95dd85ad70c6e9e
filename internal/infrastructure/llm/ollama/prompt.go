package ollama

import (
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/format"
)

const maxDocumentChars = 12000

const recordShape = `Return one strict JSON object:
{"metadata": {"patient_name": string, "date_of_birth": "YYYY-MM-DD", "date_of_injury": "YYYY-MM-DD"},
 "entries": [{"date": "YYYY-MM-DD", "facility": string, "provider": {"first": string, "last": string, "credentials": string},
   "visit_type": string, "summary": string, "source_document_id": string,
   "entry_kind": "standard" | "imaging" | "therapy" | "deposition", "service_dates": ["YYYY-MM-DD"]}]}
No markdown, no extra keys.`

func buildPrompt(req domain.GenerationRequest) (string, error) {
	if req.Feedback != nil {
		return buildCorrectionPrompt(req)
	}
	return buildDraftPrompt(req), nil
}

func buildDraftPrompt(req domain.GenerationRequest) string {
	var b strings.Builder
	b.WriteString("You are a medical records analyst building a chronology of care for one patient.\n")
	b.WriteString("Extract one entry per dated encounter found in the documents below.\n\n")
	b.WriteString(req.Contract)
	b.WriteString("\n")
	b.WriteString(recordShape)
	b.WriteString("\n\n")
	writeKnownMetadata(&b, req.Metadata)
	writeDocuments(&b, req.Documents)
	return b.String()
}

func buildCorrectionPrompt(req domain.GenerationRequest) (string, error) {
	fb := req.Feedback
	var b strings.Builder
	b.WriteString("You are correcting a medical chronology that broke its formatting contract.\n")
	fmt.Fprintf(&b, "Correction round %d.\n\n", fb.Round)
	b.WriteString(req.Contract)
	b.WriteString("\n")
	b.WriteString(recordShape)
	b.WriteString("\n\nViolations:\n")
	for _, v := range fb.Violations {
		b.WriteString("- ")
		b.WriteString(v.String())
		b.WriteByte('\n')
	}
	if len(fb.FlaggedEntries) > 0 {
		numbers := make([]string, len(fb.FlaggedEntries))
		for i, idx := range fb.FlaggedEntries {
			numbers[i] = fmt.Sprint(idx + 1)
		}
		fmt.Fprintf(&b, "\nRewrite only entries %s. Copy every other entry unchanged.\n", strings.Join(numbers, ", "))
	}

	if fb.Current != nil {
		current, err := format.MarshalRecord(format.BuildRecord(fb.Current, len(req.Documents), time.Time{}))
		if err != nil {
			return "", err
		}
		b.WriteString("\nCurrent chronology:\n")
		b.Write(current)
	}
	b.WriteString("\n")
	writeKnownMetadata(&b, req.Metadata)
	writeDocuments(&b, req.Documents)
	return b.String(), nil
}

func writeKnownMetadata(b *strings.Builder, m domain.Metadata) {
	if strings.TrimSpace(m.PatientName) == "" && m.DateOfBirth.IsZero() && m.DateOfInjury.IsZero() {
		return
	}
	b.WriteString("Known patient details (use them verbatim):\n")
	if name := strings.TrimSpace(m.PatientName); name != "" {
		fmt.Fprintf(b, "patient_name: %s\n", name)
	}
	if !m.DateOfBirth.IsZero() {
		fmt.Fprintf(b, "date_of_birth: %s\n", m.DateOfBirth.Format(domain.ISODateLayout))
	}
	if !m.DateOfInjury.IsZero() {
		fmt.Fprintf(b, "date_of_injury: %s\n", m.DateOfInjury.Format(domain.ISODateLayout))
	}
	b.WriteByte('\n')
}

func writeDocuments(b *strings.Builder, docs []domain.RecognizedDocument) {
	b.WriteString("Documents:\n")
	for _, doc := range docs {
		text := doc.Text
		if len(text) > maxDocumentChars {
			text = text[:maxDocumentChars]
		}
		fmt.Fprintf(b, "\n[%s] file=%s quality=%s\n%s\n", doc.ID, doc.Name, doc.Quality, text)
	}
}
