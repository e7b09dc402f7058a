//go:build js && wasm

// Package jsdom adapts a real browser window, reached through syscall/js, to
// the ports the popup coordinator depends on.
package jsdom

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall/js"

	"popupflow/internal/popup/ports"
)

// ErrNoEmbeddedFrame is returned when no embedded page matches the selector.
var ErrNoEmbeddedFrame = errors.New("no embedded frame")

// Host wraps the global window. Event callbacks are handed to a single
// dispatcher goroutine so handlers may block without stalling the JS event
// loop, and still run in the order the browser raised them.
type Host struct {
	window        js.Value
	frameSelector string
	events        chan func()
}

type Option func(*Host)

// WithFrameSelector picks the iframes PostToEmbedded writes to.
func WithFrameSelector(selector string) Option {
	return func(h *Host) {
		h.frameSelector = selector
	}
}

func NewHost(window js.Value, opts ...Option) *Host {
	h := &Host{
		window:        window,
		frameSelector: "iframe",
		events:        make(chan func(), 64),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.dispatch()
	return h
}

func (h *Host) dispatch() {
	for fn := range h.events {
		fn()
	}
}

func (h *Host) Origin() string {
	return h.window.Get("location").Get("origin").String()
}

func (h *Host) UserAgent() string {
	return h.window.Get("navigator").Get("userAgent").String()
}

// IsTopLevel compares window.top with window.self. Sandboxed or cross-origin
// ancestors make the property access throw, which is reported as an error.
func (h *Host) IsTopLevel() (top bool, err error) {
	err = guard(func() {
		top = h.window.Get("top").Equal(h.window.Get("self"))
	})
	return top, err
}

func (h *Host) Geometry() ports.Geometry {
	return ports.Geometry{
		ScreenLeft:  firstInt(h.window, "screenLeft", "screenX"),
		ScreenTop:   firstInt(h.window, "screenTop", "screenY"),
		InnerWidth:  h.window.Get("innerWidth").Int(),
		InnerHeight: h.window.Get("innerHeight").Int(),
	}
}

func (h *Host) Open(url, name, features string) (ports.Window, error) {
	var handle js.Value
	if err := guard(func() {
		handle = h.window.Call("open", url, name, features)
	}); err != nil {
		return nil, err
	}
	if handle.IsNull() || handle.IsUndefined() {
		return nil, nil
	}
	return &Window{value: handle}, nil
}

func (h *Host) Navigate(url string) error {
	return guard(func() {
		h.window.Get("location").Set("href", url)
	})
}

func (h *Host) PostToTop(payload []byte, targetOrigin string) error {
	return guard(func() {
		top := h.window.Get("top")
		if top.IsNull() || top.IsUndefined() || top.Equal(h.window.Get("self")) {
			panic(js.Error{Value: js.ValueOf("no parent window")})
		}
		top.Call("postMessage", toJS(payload), targetOrigin)
	})
}

func (h *Host) PostToEmbedded(payload []byte) error {
	return guard(func() {
		frames := h.window.Get("document").Call("querySelectorAll", h.frameSelector)
		n := frames.Length()
		if n == 0 {
			panic(ErrNoEmbeddedFrame)
		}
		msg := toJS(payload)
		for i := 0; i < n; i++ {
			if cw := frames.Index(i).Get("contentWindow"); !cw.IsNull() {
				cw.Call("postMessage", msg, "*")
			}
		}
	})
}

func (h *Host) OnMessage(fn func(ports.Event)) func() {
	return h.listen(h.window, "message", func(ev js.Value) {
		origin := ev.Get("origin").String()
		data := fromJS(ev.Get("data"))
		h.events <- func() { fn(ports.Event{Origin: origin, Data: data}) }
	})
}

func (h *Host) OnVisibilityChange(fn func(bool)) func() {
	doc := h.window.Get("document")
	return h.listen(doc, "visibilitychange", func(js.Value) {
		visible := doc.Get("visibilityState").String() == "visible"
		h.events <- func() { fn(visible) }
	})
}

func (h *Host) listen(target js.Value, event string, fn func(js.Value)) func() {
	cb := js.FuncOf(func(_ js.Value, args []js.Value) any {
		if len(args) > 0 {
			fn(args[0])
		}
		return nil
	})
	target.Call("addEventListener", event, cb)

	var once sync.Once
	return func() {
		once.Do(func() {
			target.Call("removeEventListener", event, cb)
			cb.Release()
		})
	}
}

// Window is a popup or tab handle returned by window.open.
type Window struct {
	value js.Value
}

func (w *Window) Closed() bool {
	closed := true
	_ = guard(func() { closed = w.value.Get("closed").Bool() })
	return closed
}

func (w *Window) Close() {
	_ = guard(func() { w.value.Call("close") })
}

// Navigate sets location.href, which browsers allow even across origins.
func (w *Window) Navigate(url string) error {
	return guard(func() {
		if w.value.Get("closed").Bool() {
			panic(errors.New("window is closed"))
		}
		w.value.Get("location").Set("href", url)
	})
}

func (w *Window) ResizeTo(width, height int) {
	_ = guard(func() { w.value.Call("resizeTo", width, height) })
}

func (w *Window) MoveTo(left, top int) {
	_ = guard(func() { w.value.Call("moveTo", left, top) })
}

func (w *Window) Focus() {
	_ = guard(func() { w.value.Call("focus") })
}

// guard turns a thrown JS exception into an error.
func guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = v
			default:
				err = fmt.Errorf("%v", v)
			}
		}
	}()
	fn()
	return nil
}

func firstInt(v js.Value, names ...string) int {
	for _, name := range names {
		if p := v.Get(name); p.Type() == js.TypeNumber {
			return p.Int()
		}
	}
	return 0
}

// toJS posts object messages as objects and bare strings as strings, the
// shapes the verification pages send.
func toJS(payload []byte) js.Value {
	return js.Global().Get("JSON").Call("parse", string(payload))
}

// fromJS serialises event data. Strings holding a JSON object are passed
// through unchanged.
func fromJS(data js.Value) []byte {
	if data.Type() == js.TypeString {
		s := data.String()
		if strings.HasPrefix(strings.TrimSpace(s), "{") {
			return []byte(s)
		}
		b, _ := json.Marshal(s)
		return b
	}
	var out string
	if err := guard(func() {
		out = js.Global().Get("JSON").Call("stringify", data).String()
	}); err != nil {
		return nil
	}
	return []byte(out)
}
