package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/ports"
)

// callCollaborator runs fn detached from ctx cancellation and bounded by timeout.
// A call that outlives its timeout is reported as domain.ErrCallTimeout.
func callCollaborator[T any](
	ctx context.Context,
	phase domain.Phase,
	op string,
	timeout time.Duration,
	fn func(context.Context) (T, error),
) (T, error) {
	callCtx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, timeout)
		defer cancel()
	}

	out, err := fn(callCtx)
	if err == nil {
		return out, nil
	}
	if _, ok := domain.AsMalformed(err); ok {
		return out, err
	}
	if _, ok := domain.AsUnreadable(err); ok {
		return out, err
	}
	if _, ok := domain.AsCollaborator(err); ok {
		return out, err
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrCallTimeout) {
		err = domain.WrapError(domain.ErrCallTimeout, op, err)
	}
	return out, &domain.CollaboratorError{Phase: phase, Op: op, Err: err}
}

// draftGenerator serializes generator calls through the shared limiter.
type draftGenerator struct {
	generator   ports.NarrativeGenerator
	limiter     ports.GenerationLimiter
	contract    string
	callTimeout time.Duration
}

func (g *draftGenerator) generate(ctx context.Context, phase domain.Phase, req domain.GenerationRequest) (*domain.ChronologySet, error) {
	req.Contract = g.contract
	if g.limiter != nil {
		release, err := g.limiter.Acquire(ctx)
		if err != nil {
			return nil, &domain.CollaboratorError{Phase: phase, Op: "acquire generation slot", Err: err}
		}
		defer release()
	}

	set, err := callCollaborator(ctx, phase, "generate", g.callTimeout, func(callCtx context.Context) (*domain.ChronologySet, error) {
		return g.generator.Generate(callCtx, req)
	})
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, &domain.MalformedEntryError{Index: -1, Field: "chronology", Reason: "generator returned no chronology"}
	}
	return set, nil
}
