package popup

import (
	"fmt"
)

// strategy is the per-environment way of opening and closing the secondary
// context. Both methods run under the manager lock and return a func to call
// once the lock is released.
type strategy interface {
	open(m *Manager, f *Flow, target string, opts Options) func()
	close(m *Manager) func()
}

// desktopStrategy opens a positioned popup window and watches its handle.
type desktopStrategy struct{}

func (desktopStrategy) open(m *Manager, f *Flow, target string, opts Options) func() {
	left, top := opts.position(m.host.Geometry())
	w, err := m.host.Open(opts.LoadingPath, opts.Name, opts.features(left, top))
	if err != nil || w == nil {
		if err != nil {
			m.logger.WarnContext(f.ctx, "popup open failed", "flow_id", f.id, "error", err)
		}
		return m.resolveLocked(f, Failed(ErrBlocked))
	}

	// Many embedding contexts ignore geometry passed at creation time.
	w.ResizeTo(opts.Width, opts.Height)
	w.MoveTo(left, top)
	w.Focus()

	m.window = w
	m.watchdog = startWatchdog(m.clock, m.watchInterval, w, func() { m.onWindowClosed(f) })
	// Timer callbacks may run under the clock's own lock, so they hand off.
	m.loadingTimer = m.clock.AfterFunc(opts.LoadingTimeout, func() { go m.redirect(f, target) })
	return noop
}

func (desktopStrategy) close(m *Manager) func() {
	return closeLocal(m)
}

// tabStrategy opens a new tab. The handle is kept for redirecting and
// closing, but the page may be backgrounded or discarded, so the outcome is
// inferred by the tab tracker from visibility and the persisted slot.
type tabStrategy struct{}

func (tabStrategy) open(m *Manager, f *Flow, target string, opts Options) func() {
	tab, err := m.host.Open(opts.LoadingPath, "_blank", "")
	if err != nil || tab == nil {
		if err != nil {
			m.logger.WarnContext(f.ctx, "tab open failed", "flow_id", f.id, "error", err)
		}
		return m.resolveLocked(f, Failed(ErrBlocked))
	}

	m.window = tab
	m.tracker = startTabTracker(m, f)
	m.loadingTimer = m.clock.AfterFunc(opts.LoadingTimeout, func() { go m.redirect(f, target) })
	return noop
}

func (tabStrategy) close(m *Manager) func() {
	return closeLocal(m)
}

// iframeStrategy relays the open request to the top-level context, which
// runs its own flow and re-broadcasts the outcome. There is no local
// watchdog: resolution arrives only through the message router.
type iframeStrategy struct{}

func (iframeStrategy) open(m *Manager, f *Flow, target string, _ Options) func() {
	payload := Encode(Message{Type: TypeOpenPopup, URL: target})
	if err := m.host.PostToTop(payload, "*"); err != nil {
		return m.resolveLocked(f, Failed(fmt.Errorf("%w: %v", ErrNoTopContext, err)))
	}
	m.logger.DebugContext(f.ctx, "popup request relayed to top context", "flow_id", f.id)
	return noop
}

func (iframeStrategy) close(m *Manager) func() {
	if err := m.host.PostToTop(Encode(Message{Type: TypeAppClose}), "*"); err != nil {
		m.logger.Warn("failed to relay popup close", "error", err)
	}
	return noop
}

// closeLocal closes the handle this context holds. An unresolved flow ends
// as a manual close so its waiter is never left hanging.
func closeLocal(m *Manager) func() {
	if m.active == nil {
		m.cleanupLocked()
		return noop
	}
	return m.resolveLocked(m.active, Cancelled(ReasonManualClose))
}
