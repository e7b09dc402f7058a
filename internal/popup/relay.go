package popup

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"popupflow/internal/popup/ports"
	"popupflow/pkg/platform/origins"
)

// Status is the state an aggregating page shows for a relayed flow.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusCancelled Status = "cancelled"
	StatusClosed    Status = "closed"
	StatusError     Status = "error"
)

// Relay runs in the aggregating top-level page. It opens flows on behalf of
// an embedded descendant and re-broadcasts their outcomes down to it.
type Relay struct {
	manager        *Manager
	host           ports.Host
	logger         *slog.Logger
	callbackPath   string
	allowedOrigins []string
	onStatus       func(Status, string)

	mu          sync.Mutex
	unsubscribe func()
}

type RelayOption func(*Relay)

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithCallbackPath sets the path, relative to the host origin, the
// verification page redirects to on success.
func WithCallbackPath(path string) RelayOption {
	return func(r *Relay) {
		r.callbackPath = path
	}
}

// WithAllowedOrigins accepts open requests from descendants served from
// other origins. The host's own origin is always accepted.
func WithAllowedOrigins(allowed ...string) RelayOption {
	return func(r *Relay) {
		r.allowedOrigins = origins.Normalize(append(r.allowedOrigins, allowed...))
	}
}

// WithStatusObserver reports status transitions, e.g. to render them.
func WithStatusObserver(fn func(Status, string)) RelayOption {
	return func(r *Relay) {
		r.onStatus = fn
	}
}

func NewRelay(manager *Manager, opts ...RelayOption) (*Relay, error) {
	if manager == nil {
		return nil, errors.New("manager is required")
	}
	r := &Relay{
		manager:      manager,
		host:         manager.host,
		logger:       manager.logger,
		callbackPath: "/success-callback",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start subscribes to open requests. Calling it twice is a no-op.
func (r *Relay) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe != nil {
		return
	}
	r.unsubscribe = r.host.OnMessage(r.handleEvent)
}

func (r *Relay) Stop() {
	r.mu.Lock()
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (r *Relay) handleEvent(ev ports.Event) {
	if ev.Origin != r.host.Origin() && !slices.Contains(r.allowedOrigins, ev.Origin) {
		return
	}
	msg, err := DecodeMessage(ev.Data)
	if err != nil || !msg.Type.isOpenRequest() || msg.URL == "" {
		return
	}

	r.report(StatusPending, "Verification in progress...")
	flow, err := r.manager.Open(context.Background(), FlowConfig{
		TargetURL:   msg.URL,
		CallbackURL: r.host.Origin() + r.callbackPath,
		OnOutcome:   r.forward,
	})
	if err != nil {
		r.logger.Warn("relayed popup request rejected", "error", err)
		r.report(StatusError, err.Error())
		r.post(Message{Type: TypeOTPError, Error: err.Error()})
		return
	}
	r.logger.Info("popup opened for embedded page", "flow_id", flow.ID(), "origin", ev.Origin)
}

// forward re-broadcasts a terminal outcome to the embedded descendant.
func (r *Relay) forward(out Outcome) {
	switch out.Kind {
	case KindSuccess:
		r.report(StatusSuccess, "Verification successful")
		r.post(Message{Type: TypeOTPVerified, Data: out.Data})
	case KindCancelled:
		if out.Reason == ReasonUserCancelled {
			r.report(StatusCancelled, "Verification cancelled by user")
			r.post(NewMessage(TypeOTPCancelled, TextUserCancelled))
			return
		}
		r.report(StatusClosed, "Verification window closed")
		r.post(NewMessage(TypeOTPCancelled, TextTabClosed))
	case KindError:
		text := out.Message()
		if text == "" {
			text = "Verification failed"
		}
		r.report(StatusError, text)
		r.post(Message{Type: TypeOTPError, Error: text})
	}
}

func (r *Relay) post(msg Message) {
	if err := r.host.PostToEmbedded(Encode(msg)); err != nil {
		r.logger.Warn("failed to notify embedded page", "type", msg.Type, "error", err)
	}
}

func (r *Relay) report(status Status, message string) {
	if r.onStatus != nil {
		r.onStatus(status, message)
	}
}
