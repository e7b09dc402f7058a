package popup

import (
	"time"

	"k8s.io/utils/clock"

	"popupflow/internal/popup/ports"
)

// tabTracker infers the outcome of a tab-based flow. Without a reliable
// handle it relies on the page becoming visible again and on the persisted
// outcome slot the secondary tab writes before closing itself.
//
// All fields are guarded by the manager lock.
type tabTracker struct {
	openedAt  time.Time
	responded bool
	pending   bool
	detached  bool
	settle    clock.Timer

	unsubMessage    func()
	unsubVisibility func()
}

func startTabTracker(m *Manager, f *Flow) *tabTracker {
	t := &tabTracker{openedAt: m.clock.Now()}
	origin := m.host.Origin()

	t.unsubMessage = m.host.OnMessage(func(ev ports.Event) {
		if ev.Origin != origin {
			return
		}
		msg, err := DecodeMessage(ev.Data)
		if err != nil || !msg.Type.isOutcome() {
			return
		}
		m.mu.Lock()
		if m.tracker == t {
			t.responded = true
		}
		m.mu.Unlock()
	})
	t.unsubVisibility = m.host.OnVisibilityChange(func(visible bool) {
		if visible {
			m.onTabVisible(f, t)
		}
	})
	return t
}

// detach removes both listeners and any pending settle timer. Idempotent.
func (t *tabTracker) detach() {
	if t.detached {
		return
	}
	t.detached = true
	if t.settle != nil {
		t.settle.Stop()
		t.settle = nil
	}
	t.unsubMessage()
	t.unsubVisibility()
}

func (m *Manager) onTabVisible(f *Flow, t *tabTracker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != f || m.tracker != t || t.pending {
		return
	}
	t.pending = true
	t.settle = m.clock.AfterFunc(m.settleDelay, func() { go m.settleTab(f, t) })
}

// settleTab runs once the page has been visible for the settle delay.
func (m *Manager) settleTab(f *Flow, t *tabTracker) {
	m.mu.Lock()
	if m.active != f || m.tracker != t {
		m.mu.Unlock()
		return
	}
	t.pending = false
	t.settle = nil
	responded := t.responded || m.hasReceivedResponse
	elapsed := m.clock.Since(t.openedAt)
	m.mu.Unlock()

	raw, ok, err := m.store.Take(f.ctx, m.slotKey)
	if err != nil {
		m.logger.WarnContext(f.ctx, "failed to read popup response", "flow_id", f.id, "error", err)
		ok = false
	}

	if ok {
		if _, err := DecodeMessage([]byte(raw)); err != nil {
			m.logger.WarnContext(f.ctx, "error parsing popup response", "flow_id", f.id, "error", err)
			m.abandonTab(f)
			return
		}
		if !m.routeTo(f, []byte(raw)) {
			m.logger.WarnContext(f.ctx, "unrecognised popup response", "flow_id", f.id)
			m.abandonTab(f)
		}
		return
	}

	if responded || elapsed <= m.legitimateCloseAfter {
		// Visibility flicker while the tab was opening; keep listening.
		m.logger.DebugContext(f.ctx, "tab visible without response, too early to call it closed",
			"flow_id", f.id,
			"elapsed", elapsed,
		)
		return
	}
	m.abandonTab(f)
}

// abandonTab resolves the flow as a manual close, then records a synthetic
// cancel and tells the embedded page so nested contexts stay in sync. Nothing
// is recorded or posted when another outcome got there first.
func (m *Manager) abandonTab(f *Flow) {
	m.mu.Lock()
	if m.active != f {
		m.mu.Unlock()
		return
	}
	notify := m.resolveLocked(f, Cancelled(ReasonManualClose))
	m.mu.Unlock()

	record := Encode(NewMessage(TypeCancel, TextTabClosed))
	if err := m.store.Put(f.ctx, m.slotKey, string(record)); err != nil {
		m.logger.WarnContext(f.ctx, "failed to persist popup cancel", "flow_id", f.id, "error", err)
	}
	if err := m.host.PostToEmbedded(Encode(NewMessage(TypeOTPCancelled, TextTabClosed))); err != nil {
		m.logger.DebugContext(f.ctx, "no embedded page to notify", "flow_id", f.id, "error", err)
	}
	m.deliver(notify)
}
