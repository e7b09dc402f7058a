//go:build js && wasm

package jsdom

import (
	"context"
	"syscall/js"
)

// SessionStore keeps the outcome slot in window.sessionStorage.
type SessionStore struct {
	storage js.Value
}

func NewSessionStore(window js.Value) *SessionStore {
	return &SessionStore{storage: window.Get("sessionStorage")}
}

func (s *SessionStore) Put(_ context.Context, key, value string) error {
	return guard(func() { s.storage.Call("setItem", key, value) })
}

func (s *SessionStore) Take(_ context.Context, key string) (value string, ok bool, err error) {
	err = guard(func() {
		v := s.storage.Call("getItem", key)
		if v.IsNull() {
			return
		}
		value, ok = v.String(), true
		s.storage.Call("removeItem", key)
	})
	return value, ok, err
}
