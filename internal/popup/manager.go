package popup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"popupflow/internal/popup/ports"
)

const (
	// DefaultLegitimateCloseAfter debounces the tab tracker: a return to the
	// page sooner than this after opening is treated as a visibility flicker,
	// not an abandoned flow. It is a heuristic, hence tunable.
	DefaultLegitimateCloseAfter = 2 * time.Second
	// DefaultSettleDelay gives the secondary tab time to finish writing the
	// outcome slot before it is read.
	DefaultSettleDelay = 100 * time.Millisecond

	tracerName = "popupflow/internal/popup"
)

// Recorder receives flow lifecycle metrics.
type Recorder interface {
	FlowOpened(env string)
	FlowResolved(env, kind, reason string, elapsed time.Duration)
	FlowAbandoned(env string)
}

// Manager is the flow coordinator. It owns the secondary context handle and
// its timers; at most one flow is active at a time.
type Manager struct {
	host    ports.Host
	store   ports.OutcomeStore
	clock   clock.WithTickerAndDelayedExecution
	logger  *slog.Logger
	metrics Recorder
	tracer  trace.Tracer

	defaults             Options
	watchInterval        time.Duration
	settleDelay          time.Duration
	legitimateCloseAfter time.Duration
	slotKey              string

	strategies map[Environment]strategy

	mu                  sync.Mutex
	active              *Flow
	window              ports.Window
	loadingTimer        clock.Timer
	watchdog            *watchdog
	tracker             *tabTracker
	hasReceivedResponse bool

	unsubscribe func()
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithClock(clk clock.WithTickerAndDelayedExecution) Option {
	return func(m *Manager) {
		m.clock = clk
	}
}

func WithMetrics(r Recorder) Option {
	return func(m *Manager) {
		m.metrics = r
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}

// WithDefaults replaces the base options every flow is merged over.
func WithDefaults(o Options) Option {
	return func(m *Manager) {
		m.defaults = DefaultOptions().merge(o)
	}
}

func WithWatchInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.watchInterval = d
		}
	}
}

func WithSettleDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.settleDelay = d
		}
	}
}

func WithLegitimateCloseAfter(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.legitimateCloseAfter = d
		}
	}
}

func WithSlotKey(key string) Option {
	return func(m *Manager) {
		if key != "" {
			m.slotKey = key
		}
	}
}

// NewManager builds a coordinator bound to host and subscribes its message
// router for the lifetime of the Manager.
func NewManager(host ports.Host, store ports.OutcomeStore, opts ...Option) (*Manager, error) {
	if host == nil {
		return nil, errors.New("host is required")
	}
	if store == nil {
		return nil, errors.New("outcome store is required")
	}

	m := &Manager{
		host:                 host,
		store:                store,
		clock:                clock.RealClock{},
		logger:               slog.Default(),
		tracer:               otel.Tracer(tracerName),
		defaults:             DefaultOptions(),
		watchInterval:        WatchInterval,
		settleDelay:          DefaultSettleDelay,
		legitimateCloseAfter: DefaultLegitimateCloseAfter,
		slotKey:              SlotKey,
		strategies: map[Environment]strategy{
			EnvDesktop: desktopStrategy{},
			EnvMobile:  tabStrategy{},
			EnvInApp:   tabStrategy{},
			EnvIframe:  iframeStrategy{},
		},
	}
	for _, opt := range opts {
		opt(m)
	}

	m.unsubscribe = host.OnMessage(m.handleEvent)
	return m, nil
}

// Open starts a new flow attempt. Any attempt still in flight is abandoned
// first: its handle is closed, its timers cleared and its outcome never
// delivered. Failures to open the secondary context are reported through the
// returned Flow's outcome, not as an error.
func (m *Manager) Open(ctx context.Context, cfg FlowConfig) (*Flow, error) {
	if cfg.TargetURL == "" {
		return nil, errors.New("target url is required")
	}

	env := Classify(m.host)
	if env.usesTab() {
		// A record left by an earlier attempt must not resolve this one.
		if _, _, err := m.store.Take(ctx, m.slotKey); err != nil {
			m.logger.WarnContext(ctx, "failed to clear stale popup response", "error", err)
		}
	}

	ctx, span := m.tracer.Start(context.WithoutCancel(ctx), "popup.flow",
		trace.WithAttributes(attribute.String("popup.environment", string(env))))

	f := &Flow{
		id:        uuid.NewString(),
		env:       env,
		config:    cfg,
		startedAt: m.clock.Now(),
		ctx:       ctx,
		span:      span,
		done:      make(chan struct{}),
	}
	opts := m.defaults.merge(cfg.Options)
	target := BuildTargetURL(cfg.TargetURL, cfg.CallbackURL)

	m.mu.Lock()
	m.abandonLocked()
	m.hasReceivedResponse = false
	m.active = f
	if m.metrics != nil {
		m.metrics.FlowOpened(string(env))
	}
	m.logger.InfoContext(ctx, "popup flow opened",
		"flow_id", f.id,
		"environment", env,
		"target_url", cfg.TargetURL,
	)
	notify := m.strategies[env].open(m, f, target, opts)
	m.mu.Unlock()

	m.deliver(notify)
	return f, nil
}

// ClosePopup closes the secondary context. Top-level contexts close their
// own handle; embedded contexts ask their ancestor to do it.
func (m *Manager) ClosePopup() {
	env := Classify(m.host)

	m.mu.Lock()
	notify := m.strategies[env].close(m)
	m.mu.Unlock()

	m.deliver(notify)
}

// Shutdown detaches the message router and abandons the active flow.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.abandonLocked()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Active returns the flow currently in progress, if any.
func (m *Manager) Active() *Flow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// resolveLocked delivers out to f if f is still the active attempt and runs
// cleanup alongside. Stale callers get a no-op.
func (m *Manager) resolveLocked(f *Flow, out Outcome) func() {
	if f == nil || m.active != f {
		return noop
	}
	m.cleanupLocked()
	if m.metrics != nil {
		m.metrics.FlowResolved(string(f.env), string(out.Kind), string(out.Reason), m.clock.Since(f.startedAt))
	}
	notify := f.resolve(out)

	attrs := []any{
		"flow_id", f.id,
		"environment", f.env,
		"outcome", out.Kind,
	}
	if out.Reason != "" {
		attrs = append(attrs, "reason", out.Reason)
	}
	if out.Kind == KindError {
		m.logger.WarnContext(f.ctx, "popup flow failed", append(attrs, "error", out.Message())...)
	} else {
		m.logger.InfoContext(f.ctx, "popup flow resolved", attrs...)
	}
	return notify
}

func (m *Manager) abandonLocked() {
	f := m.active
	if f == nil {
		return
	}
	m.cleanupLocked()
	if f.abandon() {
		if m.metrics != nil {
			m.metrics.FlowAbandoned(string(f.env))
		}
		m.logger.InfoContext(f.ctx, "popup flow abandoned", "flow_id", f.id, "environment", f.env)
	}
}

// cleanupLocked clears timers and listeners, closes the handle if it is
// still open and drops the active flow so late callbacks become no-ops.
func (m *Manager) cleanupLocked() {
	if m.loadingTimer != nil {
		m.loadingTimer.Stop()
		m.loadingTimer = nil
	}
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
	if m.tracker != nil {
		m.tracker.detach()
		m.tracker = nil
	}
	if m.window != nil && !m.window.Closed() {
		m.window.Close()
	}
	m.window = nil
	m.active = nil
}

// onWindowClosed is the closure watchdog callback.
func (m *Manager) onWindowClosed(f *Flow) {
	m.mu.Lock()
	if m.active != f {
		m.mu.Unlock()
		return
	}
	if m.hasReceivedResponse {
		m.cleanupLocked()
		m.mu.Unlock()
		return
	}
	notify := m.resolveLocked(f, Cancelled(ReasonManualClose))
	m.mu.Unlock()

	m.deliver(notify)
}

// redirect moves the secondary context from the loading page to the real
// target once the loading timeout elapses.
func (m *Manager) redirect(f *Flow, target string) {
	m.mu.Lock()
	if m.active != f {
		m.mu.Unlock()
		return
	}
	m.loadingTimer = nil

	if f.env.usesTab() && (m.window == nil || m.window.Closed()) {
		// Closed while still on the loading page.
		m.mu.Unlock()
		m.abandonTab(f)
		return
	}

	var notify func()
	if err := navigate(m.window, target); err != nil {
		m.logger.WarnContext(f.ctx, "failed to redirect popup", "flow_id", f.id, "error", err)
		notify = m.resolveLocked(f, Failed(ErrRedirectFailed))
	} else {
		m.logger.DebugContext(f.ctx, "popup redirected", "flow_id", f.id)
		notify = noop
	}
	m.mu.Unlock()

	m.deliver(notify)
}

// navigate never lets a misbehaving handle escape as a panic.
func navigate(w ports.Window, target string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("navigation panicked")
		}
	}()
	if w == nil || w.Closed() {
		return errors.New("window is closed")
	}
	return w.Navigate(target)
}
