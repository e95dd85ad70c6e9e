package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/format"
	"github.com/kirillkom/medical-chronology/internal/core/gapreport"
)

func (uc *SessionUseCase) fetch(ctx context.Context, run *sessionRun, w *artifactWriter) error {
	var raw []domain.RawDocument
	err := uc.retry(ctx, run, domain.PhaseFetch, func(attemptCtx context.Context) error {
		docs, err := callCollaborator(attemptCtx, domain.PhaseFetch, "fetch documents", uc.cfg.CallTimeout,
			func(callCtx context.Context) ([]domain.RawDocument, error) {
				return uc.deps.Documents.Fetch(callCtx, run.req.Reference)
			})
		if err != nil {
			return err
		}
		raw = docs
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetch documents: %w", err)
	}
	if len(raw) == 0 {
		return domain.WrapError(domain.ErrNotFound, "fetch documents", fmt.Errorf("reference %q holds no documents", run.req.Reference))
	}

	manifest := make([]manifestEntry, 0, len(raw))
	for i := range raw {
		raw[i].ID = fmt.Sprintf("doc-%03d", i+1)
		raw[i].Order = i
		key := artifactKey(run.req.SessionID, inputDir, fmt.Sprintf("%03d_%s", i+1, sanitizeFilename(raw[i].Name)))
		if err := w.save(ctx, key, raw[i].Data); err != nil {
			return err
		}
		manifest = append(manifest, manifestEntry{
			ID:          raw[i].ID,
			Name:        raw[i].Name,
			ContentType: raw[i].ContentType,
			Order:       raw[i].Order,
			Key:         key,
		})
	}
	if err := w.saveJSON(ctx, artifactKey(run.req.SessionID, inputDir, manifestName), manifest); err != nil {
		return err
	}

	run.raw = raw
	run.result.Documents = len(raw)
	return nil
}

func (uc *SessionUseCase) loadFetch(ctx context.Context, run *sessionRun) error {
	var manifest []manifestEntry
	if err := readJSON(ctx, uc.deps.Artifacts, artifactKey(run.req.SessionID, inputDir, manifestName), &manifest); err != nil {
		return err
	}
	raw := make([]domain.RawDocument, 0, len(manifest))
	for _, m := range manifest {
		data, err := readArtifact(ctx, uc.deps.Artifacts, m.Key)
		if err != nil {
			return err
		}
		raw = append(raw, domain.RawDocument{ID: m.ID, Name: m.Name, ContentType: m.ContentType, Data: data, Order: m.Order})
	}
	run.raw = raw
	run.result.Documents = len(raw)
	return nil
}

// recognize keeps unreadable documents as unprocessable records instead of failing the phase.
func (uc *SessionUseCase) recognize(ctx context.Context, run *sessionRun, w *artifactWriter) error {
	docs := make([]domain.RecognizedDocument, 0, len(run.raw))
	for _, raw := range run.raw {
		var doc domain.RecognizedDocument
		err := uc.retry(ctx, run, domain.PhaseRecognize, func(attemptCtx context.Context) error {
			out, err := callCollaborator(attemptCtx, domain.PhaseRecognize, "recognize "+raw.ID, uc.cfg.CallTimeout,
				func(callCtx context.Context) (domain.RecognizedDocument, error) {
					return uc.deps.Recognizer.Recognize(callCtx, raw)
				})
			if err != nil {
				return err
			}
			doc = out
			return nil
		})
		if unreadable, ok := domain.AsUnreadable(err); ok {
			slog.Warn("document_unreadable", "session_id", run.req.SessionID, "document_id", raw.ID, "reason", unreadable.Reason)
			doc, err = domain.UnprocessableDocument(raw, unreadable.Reason), nil
		}
		if err != nil {
			return fmt.Errorf("recognize document %s: %w", raw.ID, err)
		}

		doc.ID, doc.Name, doc.Order = raw.ID, raw.Name, raw.Order
		if doc.Quality == "" {
			doc.Quality = domain.QualityFromConfidence(doc.Confidence)
		}
		if doc.Processable {
			if err := w.save(ctx, artifactKey(run.req.SessionID, extractedDir, doc.ID+".txt"), []byte(doc.Text)); err != nil {
				return err
			}
		}
		docs = append(docs, doc)
	}
	if err := w.saveJSON(ctx, artifactKey(run.req.SessionID, extractedDir, documentsName), docs); err != nil {
		return err
	}
	run.docs = docs
	return nil
}

func (uc *SessionUseCase) loadRecognize(ctx context.Context, run *sessionRun) error {
	var docs []domain.RecognizedDocument
	if err := readJSON(ctx, uc.deps.Artifacts, artifactKey(run.req.SessionID, extractedDir, documentsName), &docs); err != nil {
		return err
	}
	for i := range docs {
		if !docs[i].Processable {
			continue
		}
		text, err := readArtifact(ctx, uc.deps.Artifacts, artifactKey(run.req.SessionID, extractedDir, docs[i].ID+".txt"))
		if err != nil {
			return err
		}
		docs[i].Text = string(text)
	}
	run.docs = docs
	return nil
}

// generate drafts the chronology. Malformed output becomes a seed violation
// for the correction loop rather than a phase failure.
func (uc *SessionUseCase) generate(ctx context.Context, run *sessionRun, w *artifactWriter) error {
	req := domain.GenerationRequest{Documents: processable(run.docs), Metadata: run.req.Metadata}

	var draft *domain.ChronologySet
	var seed []domain.Violation
	err := uc.retry(ctx, run, domain.PhaseGenerate, func(attemptCtx context.Context) error {
		set, err := uc.drafts.generate(attemptCtx, domain.PhaseGenerate, req)
		if err != nil {
			return err
		}
		draft = set
		return nil
	})
	if malformed, ok := domain.AsMalformed(err); ok {
		slog.Warn("draft_malformed", "session_id", run.req.SessionID, "error", malformed)
		draft, seed, err = &domain.ChronologySet{}, []domain.Violation{entryModelViolation(malformed)}, nil
	}
	if err != nil {
		return fmt.Errorf("generate draft: %w", err)
	}

	draft.Metadata = run.req.Metadata.Merge(draft.Metadata)
	draft.Entries = uc.deps.Refiner.engine.Consolidate(draft.Entries)
	domain.SortEntries(draft.Entries, domain.IngestionIndex(run.docs))

	data, err := format.MarshalRecord(format.BuildRecord(draft, len(run.docs), time.Time{}))
	if err != nil {
		return err
	}
	if err := w.save(ctx, artifactKey(run.req.SessionID, draftsDir, draftName), data); err != nil {
		return err
	}
	if err := w.saveJSON(ctx, artifactKey(run.req.SessionID, draftsDir, draftIssuesName), nonNil(seed)); err != nil {
		return err
	}
	run.draft, run.seed = draft, seed
	return nil
}

func (uc *SessionUseCase) loadGenerate(ctx context.Context, run *sessionRun) error {
	data, err := readArtifact(ctx, uc.deps.Artifacts, artifactKey(run.req.SessionID, draftsDir, draftName))
	if err != nil {
		return err
	}
	draft, err := format.ParseRecord(data)
	if err != nil {
		return err
	}
	var seed []domain.Violation
	if err := readJSON(ctx, uc.deps.Artifacts, artifactKey(run.req.SessionID, draftsDir, draftIssuesName), &seed); err != nil {
		return err
	}
	run.draft, run.seed = draft, seed
	return nil
}

// validate runs the correction loop. The report is written even when the
// loop is exhausted so a failed session still shows why.
func (uc *SessionUseCase) validate(ctx context.Context, run *sessionRun, w *artifactWriter) error {
	res, err := uc.deps.Refiner.Refine(ctx, run.draft, run.docs, run.seed, uc.cfg.MaxRounds)
	if err != nil {
		return fmt.Errorf("refine chronology: %w", err)
	}
	uc.deps.Observer.RefineRounds(res.RoundsUsed, res.Outcome == RefineAccepted)

	outcome := validationOutcome{Outcome: res.Outcome, RoundsUsed: res.RoundsUsed, Report: res.Report}
	if res.GeneratorErr != nil {
		outcome.GeneratorError = res.GeneratorErr.Error()
	}
	data, err := format.MarshalRecord(format.BuildRecord(res.Set, len(run.docs), time.Time{}))
	if err != nil {
		return err
	}
	if err := w.save(ctx, artifactKey(run.req.SessionID, draftsDir, validatedName), data); err != nil {
		return err
	}
	if err := w.saveJSON(ctx, artifactKey(run.req.SessionID, draftsDir, reportName), outcome); err != nil {
		return err
	}

	run.validated, run.outcome = res.Set, outcome
	run.result.RoundsUsed = res.RoundsUsed
	run.result.Report = res.Report
	run.result.Entries = len(res.Set.Entries)

	if res.GeneratorErr != nil {
		return fmt.Errorf("correct chronology: %w", res.GeneratorErr)
	}
	if res.Outcome != RefineAccepted {
		return domain.WrapError(domain.ErrContractUnsatisfied, "validate chronology",
			fmt.Errorf("%d blocking violations remain after %d rounds", len(res.Report.Blocking()), res.RoundsUsed))
	}
	return nil
}

func (uc *SessionUseCase) loadValidate(ctx context.Context, run *sessionRun) error {
	data, err := readArtifact(ctx, uc.deps.Artifacts, artifactKey(run.req.SessionID, draftsDir, validatedName))
	if err != nil {
		return err
	}
	set, err := format.ParseRecord(data)
	if err != nil {
		return err
	}
	var outcome validationOutcome
	if err := readJSON(ctx, uc.deps.Artifacts, artifactKey(run.req.SessionID, draftsDir, reportName), &outcome); err != nil {
		return err
	}
	if outcome.Outcome != RefineAccepted {
		return errors.New("validated chronology was not accepted")
	}
	run.validated, run.outcome = set, outcome
	run.result.RoundsUsed = outcome.RoundsUsed
	run.result.Report = outcome.Report
	run.result.Entries = len(set.Entries)
	return nil
}

func (uc *SessionUseCase) persist(ctx context.Context, run *sessionRun, w *artifactWriter) error {
	now := uc.deps.Clock()
	set := run.validated

	record, err := format.MarshalRecord(format.BuildRecord(set, len(run.docs), now))
	if err != nil {
		return err
	}
	gaps := gapreport.Build(set, run.docs, run.outcome.Report.Violations, gapreport.Config{GapThreshold: uc.cfg.GapThreshold})

	outputs := map[string][]byte{
		narrativeName: []byte(format.RenderNarrative(set)),
		recordName:    record,
		summaryName:   []byte(format.RenderExecutiveSummary(set, run.docs)),
		gapsName:      []byte(gapreport.Render(gaps)),
	}
	if uc.deps.Spreadsheet != nil {
		xlsx, err := uc.deps.Spreadsheet.WriteChronology(set, run.docs)
		if err != nil {
			return fmt.Errorf("render spreadsheet: %w", err)
		}
		outputs[spreadsheetName] = xlsx
	}

	var artifacts []domain.Artifact
	for _, out := range persistedOutputs {
		data, ok := outputs[out.name]
		if !ok {
			continue
		}
		key := artifactKey(run.req.SessionID, outputDir, out.name)
		if err := w.save(ctx, key, data); err != nil {
			return err
		}
		artifacts = append(artifacts, domain.Artifact{Key: key, Name: out.name, ContentType: out.contentType, Data: data})
	}
	run.persisted = artifacts
	run.result.Artifacts = artifactKeys(artifacts)
	return nil
}

func (uc *SessionUseCase) loadPersist(ctx context.Context, run *sessionRun) error {
	rec := run.state.Record(domain.PhasePersist)
	var artifacts []domain.Artifact
	for _, ref := range rec.Artifacts {
		data, err := readArtifact(ctx, uc.deps.Artifacts, ref.Key)
		if err != nil {
			return err
		}
		name := path.Base(ref.Key)
		artifacts = append(artifacts, domain.Artifact{Key: ref.Key, Name: name, ContentType: contentTypeFor(name), Data: data})
	}
	run.persisted = artifacts
	run.result.Artifacts = artifactKeys(artifacts)
	return nil
}

// upload is best effort: a failure is recorded as a warning and the session still completes.
func (uc *SessionUseCase) upload(ctx context.Context, run *sessionRun, _ *artifactWriter) error {
	destination := strings.TrimSpace(run.req.Destination)
	if destination == "" {
		destination = uc.cfg.Destination
	}
	if uc.deps.Uploader == nil || destination == "" {
		run.state.Skip(domain.PhaseUpload, "remote persistence not configured", uc.deps.Clock())
		return nil
	}

	remote := strings.TrimRight(destination, "/") + "/" + run.req.SessionID
	err := uc.retry(ctx, run, domain.PhaseUpload, func(attemptCtx context.Context) error {
		_, err := callCollaborator(attemptCtx, domain.PhaseUpload, "upload artifacts", uc.cfg.CallTimeout,
			func(callCtx context.Context) (struct{}, error) {
				return struct{}{}, uc.deps.Uploader.Upload(callCtx, run.persisted, remote)
			})
		return err
	})
	if err != nil {
		warning := fmt.Sprintf("upload to %s failed: %v", remote, err)
		slog.Warn("upload_failed", "session_id", run.req.SessionID, "destination", remote, "error", err)
		run.state.Warn(domain.PhaseUpload, err, uc.deps.Clock())
		run.result.Warnings = append(run.result.Warnings, warning)
	}
	return nil
}

func processable(docs []domain.RecognizedDocument) []domain.RecognizedDocument {
	out := make([]domain.RecognizedDocument, 0, len(docs))
	for _, doc := range docs {
		if doc.Processable {
			out = append(out, doc)
		}
	}
	return out
}

func artifactKeys(artifacts []domain.Artifact) []string {
	keys := make([]string, len(artifacts))
	for i, a := range artifacts {
		keys[i] = a.Key
	}
	return keys
}

func contentTypeFor(name string) string {
	for _, out := range persistedOutputs {
		if out.name == name {
			return out.contentType
		}
	}
	return contentTypePlain
}

func nonNil(v []domain.Violation) []domain.Violation {
	if v == nil {
		return []domain.Violation{}
	}
	return v
}
