//go:build js && wasm

// Command wasm exposes the popup coordinator to page scripts as the global
// popupflow object:
//
//	popupflow.openPopup(targetURL, callbackURL, options) -> Promise<outcome>
//	popupflow.closePopup()
//	popupflow.startRelay(onStatus, allowedOrigins)
//
// Build with GOOS=js GOARCH=wasm and serve the result from the static dir.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"syscall/js"
	"time"

	"popupflow/internal/browser/jsdom"
	"popupflow/internal/platform/logger"
	"popupflow/internal/popup"
	"popupflow/internal/popup/store/outcome"
)

type bridge struct {
	window js.Value
	host   *jsdom.Host
	logger *slog.Logger

	mu       sync.Mutex
	manager  *popup.Manager
	slotMode bool
	relay    *popup.Relay
}

func main() {
	window := js.Global()
	b := &bridge{
		window: window,
		host:   jsdom.NewHost(window),
		logger: logger.NewWithWriter(os.Stdout, "info"),
	}

	window.Set("popupflow", js.ValueOf(map[string]any{
		"openPopup":  js.FuncOf(b.openPopup),
		"closePopup": js.FuncOf(b.closePopup),
		"startRelay": js.FuncOf(b.startRelay),
	}))
	b.logger.Info("popupflow ready", "origin", b.host.Origin())

	select {}
}

// managerFor returns the coordinator for the requested slot mode. Switching
// modes shuts the previous coordinator down, abandoning its flow, so only one
// attempt is ever in flight.
func (b *bridge) managerFor(ctx context.Context, serverSlot bool) (*popup.Manager, url.Values, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !serverSlot && b.manager != nil && !b.slotMode {
		return b.manager, nil, nil
	}
	if serverSlot && b.relay != nil {
		return nil, nil, errors.New("server slots are unavailable while relaying")
	}
	if b.manager != nil {
		b.manager.Shutdown()
		b.manager = nil
	}

	var (
		store popup.Option
		extra url.Values
		m     *popup.Manager
		err   error
	)
	if serverSlot {
		httpStore := outcome.NewHTTP(b.host.Origin(), nil)
		slot, serr := httpStore.NewSlot(ctx)
		if serr != nil {
			return nil, nil, serr
		}
		store = popup.WithSlotKey(slot)
		extra = url.Values{"slot": {slot}}
		m, err = popup.NewManager(b.host, httpStore, popup.WithLogger(b.logger), store)
	} else {
		m, err = popup.NewManager(b.host, jsdom.NewSessionStore(b.window), popup.WithLogger(b.logger))
	}
	if err != nil {
		return nil, nil, err
	}
	b.manager = m
	b.slotMode = serverSlot
	return m, extra, nil
}

func (b *bridge) openPopup(_ js.Value, args []js.Value) any {
	target := argString(args, 0)
	callback := argString(args, 1)
	var jsOpts js.Value
	if len(args) > 2 {
		jsOpts = args[2]
	}
	opts, serverSlot := parseOptions(jsOpts)

	return newPromise(func(resolve, reject js.Value) {
		ctx := context.Background()
		m, extra, err := b.managerFor(ctx, serverSlot)
		if err != nil {
			reject.Invoke(err.Error())
			return
		}
		if len(extra) > 0 {
			callback = withQuery(callback, extra)
		}

		flow, err := m.Open(ctx, popup.FlowConfig{
			TargetURL:   target,
			CallbackURL: callback,
			Options:     opts,
		})
		if err != nil {
			reject.Invoke(err.Error())
			return
		}
		out, err := flow.Wait(ctx)
		if err != nil {
			reject.Invoke(err.Error())
			return
		}
		resolve.Invoke(outcomeToJS(out))
	})
}

func (b *bridge) closePopup(js.Value, []js.Value) any {
	b.mu.Lock()
	m := b.manager
	b.mu.Unlock()
	if m != nil {
		go m.ClosePopup()
	}
	return nil
}

// startRelay turns this page into an aggregator for embedded frames.
// onStatus(status, message) is called on every status transition; the
// optional array lists extra frame origins to accept.
func (b *bridge) startRelay(_ js.Value, args []js.Value) any {
	var onStatus js.Value
	if len(args) > 0 && args[0].Type() == js.TypeFunction {
		onStatus = args[0]
	}
	var allowed []string
	if len(args) > 1 && args[1].InstanceOf(js.Global().Get("Array")) {
		for i := 0; i < args[1].Length(); i++ {
			allowed = append(allowed, args[1].Index(i).String())
		}
	}

	go func() {
		m, _, err := b.managerFor(context.Background(), false)
		if err != nil {
			b.logger.Error("failed to start relay", "error", err)
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.relay != nil {
			return
		}
		relay, err := popup.NewRelay(m,
			popup.WithRelayLogger(b.logger),
			popup.WithAllowedOrigins(allowed...),
			popup.WithStatusObserver(func(status popup.Status, message string) {
				if onStatus.Truthy() {
					onStatus.Invoke(string(status), message)
				}
			}),
		)
		if err != nil {
			b.logger.Error("failed to start relay", "error", err)
			return
		}
		relay.Start()
		b.relay = relay
	}()
	return nil
}

func parseOptions(v js.Value) (popup.Options, bool) {
	var opts popup.Options
	if v.IsUndefined() || v.IsNull() || v.Type() != js.TypeObject {
		return opts, false
	}
	if n := v.Get("width"); n.Type() == js.TypeNumber {
		opts.Width = n.Int()
	}
	if n := v.Get("height"); n.Type() == js.TypeNumber {
		opts.Height = n.Int()
	}
	if n := v.Get("left"); n.Type() == js.TypeNumber {
		left := n.Int()
		opts.Left = &left
	}
	if n := v.Get("top"); n.Type() == js.TypeNumber {
		top := n.Int()
		opts.Top = &top
	}
	if s := v.Get("name"); s.Type() == js.TypeString {
		opts.Name = s.String()
	}
	if s := v.Get("loadingPath"); s.Type() == js.TypeString {
		opts.LoadingPath = s.String()
	}
	if n := v.Get("loadingTimeout"); n.Type() == js.TypeNumber {
		opts.LoadingTimeout = time.Duration(n.Int()) * time.Millisecond
	}
	return opts, v.Get("serverSlot").Truthy()
}

func outcomeToJS(out popup.Outcome) js.Value {
	result := map[string]any{
		"kind":    string(out.Kind),
		"message": out.Message(),
	}
	if out.Reason != "" {
		result["reason"] = string(out.Reason)
	}
	if len(out.Data) > 0 {
		result["data"] = js.Global().Get("JSON").Call("parse", string(out.Data))
	}
	return js.ValueOf(result)
}

// newPromise runs fn on its own goroutine; blocking inside a js.Func
// callback would deadlock the event loop.
func newPromise(fn func(resolve, reject js.Value)) js.Value {
	var executor js.Func
	executor = js.FuncOf(func(_ js.Value, args []js.Value) any {
		resolve, reject := args[0], args[1]
		go func() {
			defer executor.Release()
			fn(resolve, reject)
		}()
		return nil
	})
	return js.Global().Get("Promise").New(executor)
}

func argString(args []js.Value, i int) string {
	if i < len(args) && args[i].Type() == js.TypeString {
		return args[i].String()
	}
	return ""
}

func withQuery(raw string, extra url.Values) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for k, vs := range extra {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
