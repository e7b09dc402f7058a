package popup

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FlowConfig describes one verification attempt. It is owned by the Manager
// for the duration of the attempt and replaced, never merged, by the next
// Open call.
type FlowConfig struct {
	TargetURL   string
	CallbackURL string
	Options     Options

	// OnOutcome, when set, is called once with the terminal outcome. It is
	// never called for an attempt abandoned by a newer Open.
	OnOutcome func(Outcome)
}

// Flow is the handle for one attempt.
type Flow struct {
	id        string
	env       Environment
	config    FlowConfig
	startedAt time.Time
	ctx       context.Context
	span      trace.Span

	done      chan struct{}
	outcome   Outcome
	resolved  bool
	abandoned bool
}

func (f *Flow) ID() string               { return f.id }
func (f *Flow) Environment() Environment { return f.env }

// Done is closed once the flow is resolved or abandoned.
func (f *Flow) Done() <-chan struct{} { return f.done }

// Outcome returns the terminal outcome once Done is closed. The boolean is
// false while the flow is pending and for abandoned flows.
func (f *Flow) Outcome() (Outcome, bool) {
	select {
	case <-f.done:
		return f.outcome, f.resolved
	default:
		return Outcome{}, false
	}
}

// Wait blocks until the flow is resolved, abandoned or ctx ends.
func (f *Flow) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		if f.abandoned {
			return Outcome{}, ErrAbandoned
		}
		return f.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// resolve must run under the manager lock. The returned func delivers the
// observer callback and must be invoked after the lock is released.
func (f *Flow) resolve(out Outcome) func() {
	if f.resolved || f.abandoned {
		return noop
	}
	f.outcome = out
	f.resolved = true
	close(f.done)

	f.span.SetAttributes(
		attribute.String("popup.outcome", string(out.Kind)),
		attribute.String("popup.cancel_reason", string(out.Reason)),
	)
	if out.Kind == KindError {
		f.span.SetStatus(codes.Error, out.Message())
	}
	f.span.End()

	cb := f.config.OnOutcome
	if cb == nil {
		return noop
	}
	return func() { cb(out) }
}

func (f *Flow) abandon() bool {
	if f.resolved || f.abandoned {
		return false
	}
	f.abandoned = true
	close(f.done)
	f.span.SetAttributes(attribute.Bool("popup.abandoned", true))
	f.span.End()
	return true
}

func noop() {}
