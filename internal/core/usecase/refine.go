package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/consolidation"
	"github.com/kirillkom/medical-chronology/internal/core/contract"
	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/ports"
)

const DefaultMaxRounds = 3

type RefineOutcome string

const (
	RefineAccepted  RefineOutcome = "accepted"
	RefineExhausted RefineOutcome = "exhausted"
)

type RefineResult struct {
	Set        *domain.ChronologySet
	Report     domain.ViolationReport
	RoundsUsed int
	Outcome    RefineOutcome
	// GeneratorErr is set when a collaborator failure ended the loop.
	GeneratorErr error
}

type RefineUseCase struct {
	drafts    *draftGenerator
	validator *contract.Validator
	engine    *consolidation.Engine
	maxRounds int
}

func NewRefineUseCase(
	generator ports.NarrativeGenerator,
	limiter ports.GenerationLimiter,
	validator *contract.Validator,
	engine *consolidation.Engine,
	maxRounds int,
	callTimeout time.Duration,
) *RefineUseCase {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &RefineUseCase{
		drafts: &draftGenerator{
			generator:   generator,
			limiter:     limiter,
			contract:    contract.Describe(validator.Config()),
			callTimeout: callTimeout,
		},
		validator: validator,
		engine:    engine,
		maxRounds: maxRounds,
	}
}

func (uc *RefineUseCase) MaxRounds() int {
	return uc.maxRounds
}

// Refine validates set and asks the generator to correct flagged entries until
// no blocking violation remains or maxRounds generator calls were spent.
// seed carries violations found before validation, such as malformed drafts.
func (uc *RefineUseCase) Refine(
	ctx context.Context,
	set *domain.ChronologySet,
	docs []domain.RecognizedDocument,
	seed []domain.Violation,
	maxRounds int,
) (RefineResult, error) {
	if set == nil {
		return RefineResult{}, domain.WrapError(domain.ErrInvalidInput, "refine chronology", errors.New("chronology set is nil"))
	}
	if maxRounds <= 0 {
		maxRounds = uc.maxRounds
	}

	current := uc.prepare(set, docs)
	report := uc.validate(current, docs, seed)
	rounds := 0

	for report.HasBlocking() && rounds < maxRounds {
		rounds++
		feedback := &domain.CorrectionFeedback{
			Round:          rounds,
			Violations:     report.Violations,
			FlaggedEntries: report.FlaggedEntries(),
			Current:        current.Clone(),
		}
		slog.Info("refine_round",
			"round", rounds,
			"max_rounds", maxRounds,
			"blocking", len(report.Blocking()),
			"flagged_entries", len(feedback.FlaggedEntries),
		)

		revised, err := uc.drafts.generate(ctx, domain.PhaseValidate, domain.GenerationRequest{
			Documents: docs,
			Metadata:  current.Metadata,
			Feedback:  feedback,
		})
		if err != nil {
			if malformed, ok := domain.AsMalformed(err); ok {
				report = uc.validate(current, docs, []domain.Violation{entryModelViolation(malformed)})
				continue
			}
			slog.Warn("refine_generator_failed", "round", rounds, "error", err)
			return RefineResult{
				Set:          current,
				Report:       report,
				RoundsUsed:   rounds,
				Outcome:      RefineExhausted,
				GeneratorErr: err,
			}, nil
		}

		current = uc.prepare(mergeRevision(current, revised, report), docs)
		report = uc.validate(current, docs, nil)
	}

	outcome := RefineAccepted
	if report.HasBlocking() {
		outcome = RefineExhausted
	}
	return RefineResult{Set: current, Report: report, RoundsUsed: rounds, Outcome: outcome}, nil
}

// prepare consolidates therapy runs and restores chronological order.
func (uc *RefineUseCase) prepare(set *domain.ChronologySet, docs []domain.RecognizedDocument) *domain.ChronologySet {
	out := &domain.ChronologySet{Metadata: set.Metadata, Entries: uc.engine.Consolidate(set.Entries)}
	domain.SortEntries(out.Entries, domain.IngestionIndex(docs))
	return out
}

func (uc *RefineUseCase) validate(set *domain.ChronologySet, docs []domain.RecognizedDocument, extra []domain.Violation) domain.ViolationReport {
	report := uc.validator.Validate(set, docs)
	if len(extra) > 0 {
		report.Violations = append(append([]domain.Violation{}, extra...), report.Violations...)
	}
	return report
}

// mergeRevision keeps every unflagged entry verbatim and takes from revised
// only entries attributable to flagged ones. Metadata is replaced only when
// the header rule blocked.
func mergeRevision(current, revised *domain.ChronologySet, report domain.ViolationReport) *domain.ChronologySet {
	flagged := make(map[int]bool)
	for _, i := range report.FlaggedEntries() {
		flagged[i] = true
	}

	out := &domain.ChronologySet{Metadata: current.Metadata}
	if report.HasBlockingRule(contract.RuleHeader) {
		out.Metadata = revised.Metadata.Merge(current.Metadata)
	}

	// With nothing flagged per entry, only a header fix or a malformed draft is being corrected.
	if len(flagged) == 0 && report.HasBlockingRule(contract.RuleEntryModel) {
		for _, e := range revised.Entries {
			out.Entries = append(out.Entries, e.Clone())
		}
		return out
	}

	flaggedSources := make(map[string]bool)
	keptSources := make(map[string]bool)
	for i, e := range current.Entries {
		target := keptSources
		if flagged[i] {
			target = flaggedSources
		} else {
			out.Entries = append(out.Entries, e.Clone())
		}
		for _, id := range e.Sources() {
			target[id] = true
		}
	}

	for _, e := range revised.Entries {
		if attributable(e, flaggedSources, keptSources) {
			out.Entries = append(out.Entries, e.Clone())
		}
	}
	return out
}

func attributable(e domain.Entry, flaggedSources, keptSources map[string]bool) bool {
	sources := e.Sources()
	for _, id := range sources {
		if flaggedSources[id] {
			return true
		}
	}
	for _, id := range sources {
		if keptSources[id] {
			return false
		}
	}
	return len(sources) > 0
}

func entryModelViolation(err *domain.MalformedEntryError) domain.Violation {
	return domain.Violation{
		RuleID:     contract.RuleEntryModel,
		EntryIndex: domain.GlobalEntry,
		Message:    err.Error(),
		Severity:   domain.SeverityBlocking,
	}
}
