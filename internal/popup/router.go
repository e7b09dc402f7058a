package popup

import (
	"popupflow/internal/popup/ports"
)

// handleEvent is the single message listener bound for the lifetime of the
// Manager. Same-origin delivery is the only authenticity check.
func (m *Manager) handleEvent(ev ports.Event) {
	if ev.Origin != m.host.Origin() {
		return
	}
	m.routeTo(nil, ev.Data)
}

// routeTo decodes raw and applies it to the active flow. A non-nil expect
// restricts the message to that attempt. It reports whether the message type
// was recognised.
func (m *Manager) routeTo(expect *Flow, raw []byte) bool {
	msg, err := DecodeMessage(raw)

	m.mu.Lock()
	if expect != nil && m.active != expect {
		m.mu.Unlock()
		return true
	}
	notify, handled := m.dispatchLocked(msg, err)
	m.mu.Unlock()

	m.deliver(notify)
	return handled
}

func (m *Manager) dispatchLocked(msg Message, decodeErr error) (notify func(), handled bool) {
	f := m.active
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("panic while routing popup message", "panic", r)
			notify, handled = m.resolveLocked(f, Cancelled(ReasonErrorParsing)), true
		}
	}()

	if decodeErr != nil {
		m.logger.Warn("error parsing popup response", "error", decodeErr)
		return m.resolveLocked(f, Cancelled(ReasonErrorParsing)), true
	}

	switch msg.Type {
	case TypeSuccess:
		m.hasReceivedResponse = true
		return m.resolveLocked(f, Succeeded(msg.Data)), true

	case TypeCancel:
		m.hasReceivedResponse = true
		return m.resolveLocked(f, Cancelled(ReasonUserCancelled)), true

	case TypeError:
		text, ok := msg.text()
		if !ok {
			m.logger.Warn("error parsing popup response", "error", "POPUP_ERROR without message")
			return m.resolveLocked(f, Cancelled(ReasonErrorParsing)), true
		}
		return m.resolveLocked(f, Failed(&RemoteError{Message: text})), true

	case TypeAppClose:
		return m.strategies[Classify(m.host)].close(m), true

	case TypeOTPVerified, TypeOTPCancelled, TypeOTPError:
		// Re-broadcasts from an aggregating ancestor only concern relayed flows.
		if f == nil || f.env != EnvIframe {
			return noop, false
		}
		return m.resolveLocked(f, relayedOutcome(msg)), true
	}
	return noop, false
}

func relayedOutcome(msg Message) Outcome {
	switch msg.Type {
	case TypeOTPVerified:
		return Succeeded(msg.Data)
	case TypeOTPCancelled:
		if text, _ := msg.text(); text == TextUserCancelled {
			return Cancelled(ReasonUserCancelled)
		}
		return Cancelled(ReasonManualClose)
	default:
		text, _ := msg.text()
		return Failed(&RemoteError{Message: text})
	}
}

// deliver runs an outcome callback outside the lock; a panicking observer
// must not take the host page down.
func (m *Manager) deliver(notify func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("popup outcome observer panicked", "panic", r)
		}
	}()
	notify()
}
