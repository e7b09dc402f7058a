// Package sim is an in-process browser used to drive the popup coordinator
// without a real one. Pages share a single event loop, as browsing contexts
// in one browser process do: messages and visibility changes are delivered
// in order on one goroutine.
package sim

import (
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"

	"popupflow/internal/popup/ports"
)

var (
	ErrNoParent   = errors.New("page has no parent context")
	ErrNoEmbedded = errors.New("page embeds no frame")
	ErrClosed     = errors.New("page is closed")
	ErrSandboxed  = errors.New("access to top context denied")
)

// Browser owns the pages and the event loop.
type Browser struct {
	mu          sync.Mutex
	pages       []*Page
	blockPopups bool

	queue chan func()
	stop  chan struct{}
	once  sync.Once
}

func NewBrowser() *Browser {
	b := &Browser{
		queue: make(chan func(), 256),
		stop:  make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Browser) loop() {
	for {
		select {
		case <-b.stop:
			return
		case task := <-b.queue:
			task()
		}
	}
}

// Close stops the event loop. Pending tasks are dropped.
func (b *Browser) Close() {
	b.once.Do(func() { close(b.stop) })
}

func (b *Browser) enqueue(task func()) {
	select {
	case b.queue <- task:
	case <-b.stop:
	}
}

// BlockPopups makes every subsequent Open return no handle.
func (b *Browser) BlockPopups(block bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blockPopups = block
}

// NewPage creates a visible top-level page.
func (b *Browser) NewPage(origin, userAgent string) *Page {
	p := &Page{
		browser:   b,
		origin:    origin,
		url:       origin + "/",
		userAgent: userAgent,
		visible:   true,
		geometry:  ports.Geometry{InnerWidth: 1280, InnerHeight: 800},
		msgSubs:   make(map[int]func(ports.Event)),
		visSubs:   make(map[int]func(bool)),
	}
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p
}

// NewFrame creates a page embedded in parent. It becomes the parent's
// embedded frame for PostToEmbedded.
func (b *Browser) NewFrame(parent *Page, origin, userAgent string) *Page {
	p := b.NewPage(origin, userAgent)
	b.mu.Lock()
	p.parent = parent
	parent.embedded = p
	b.mu.Unlock()
	return p
}

// Opened returns the pages created through Open, oldest first.
func (b *Browser) Opened() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Page
	for _, p := range b.pages {
		if p.opener != nil {
			out = append(out, p)
		}
	}
	return out
}

// LastOpened returns the most recent page created through Open, or nil.
func (b *Browser) LastOpened() *Page {
	opened := b.Opened()
	if len(opened) == 0 {
		return nil
	}
	return opened[len(opened)-1]
}

// Page is a browsing context. It implements ports.Host for the page the
// coordinator runs in and ports.Window for the pages it opens.
type Page struct {
	browser *Browser

	origin    string
	url       string
	history   []string
	userAgent string
	geometry  ports.Geometry
	name      string
	features  string

	parent   *Page
	embedded *Page
	opener   *Page

	visible     bool
	closed      bool
	sandboxed   bool
	navigateErr error

	resizedTo [2]int
	movedTo   [2]int
	focused   bool

	nextSub int
	msgSubs map[int]func(ports.Event)
	visSubs map[int]func(bool)
}

var (
	_ ports.Host   = (*Page)(nil)
	_ ports.Window = (*Page)(nil)
)

func (p *Page) Origin() string    { return p.origin }
func (p *Page) UserAgent() string { return p.userAgent }

func (p *Page) IsTopLevel() (bool, error) {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	if p.sandboxed {
		return false, ErrSandboxed
	}
	return p.parent == nil, nil
}

func (p *Page) Geometry() ports.Geometry {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	return p.geometry
}

// Open creates a new page with p as its opener. Opening with the "_blank"
// name behaves like a tab: the opener is backgrounded.
func (p *Page) Open(url, name, features string) (ports.Window, error) {
	b := p.browser
	b.mu.Lock()
	if b.blockPopups {
		b.mu.Unlock()
		return nil, nil
	}
	b.mu.Unlock()

	w := b.NewPage(p.origin, p.userAgent)
	b.mu.Lock()
	w.opener = p
	w.name = name
	w.features = features
	w.url = p.resolve(url)
	w.history = []string{w.url}
	b.mu.Unlock()

	if name == "_blank" {
		p.SetVisible(false)
	}
	return w, nil
}

func (p *Page) Navigate(url string) error {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.navigateErr != nil {
		return p.navigateErr
	}
	p.url = p.resolve(url)
	p.history = append(p.history, p.url)
	return nil
}

func (p *Page) PostToTop(payload []byte, _ string) error {
	p.browser.mu.Lock()
	top := p
	for top.parent != nil {
		top = top.parent
	}
	p.browser.mu.Unlock()
	if top == p {
		return ErrNoParent
	}
	top.Deliver(ports.Event{Origin: p.origin, Data: payload})
	return nil
}

func (p *Page) PostToEmbedded(payload []byte) error {
	p.browser.mu.Lock()
	frame := p.embedded
	p.browser.mu.Unlock()
	if frame == nil {
		return ErrNoEmbedded
	}
	frame.Deliver(ports.Event{Origin: p.origin, Data: payload})
	return nil
}

func (p *Page) OnMessage(fn func(ports.Event)) func() {
	b := p.browser
	b.mu.Lock()
	defer b.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.msgSubs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(p.msgSubs, id)
	}
}

func (p *Page) OnVisibilityChange(fn func(bool)) func() {
	b := p.browser
	b.mu.Lock()
	defer b.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.visSubs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(p.visSubs, id)
	}
}

func (p *Page) Closed() bool {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	return p.closed
}

func (p *Page) Close() {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	p.closed = true
}

func (p *Page) ResizeTo(width, height int) {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	p.resizedTo = [2]int{width, height}
}

func (p *Page) MoveTo(left, top int) {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	p.movedTo = [2]int{left, top}
}

func (p *Page) Focus() {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	p.focused = true
}

// Deliver queues a message event on p as if posted from ev.Origin.
func (p *Page) Deliver(ev ports.Event) {
	p.browser.enqueue(func() {
		p.browser.mu.Lock()
		subs := make([]func(ports.Event), 0, len(p.msgSubs))
		for _, id := range sortedKeys(p.msgSubs) {
			subs = append(subs, p.msgSubs[id])
		}
		closed := p.closed
		p.browser.mu.Unlock()
		if closed {
			return
		}
		for _, fn := range subs {
			fn(ev)
		}
	})
}

// PostToOpener sends payload to the page that opened p. It reports false
// when p has no opener reference, as in the tab case.
func (p *Page) PostToOpener(payload []byte) bool {
	p.browser.mu.Lock()
	opener := p.opener
	p.browser.mu.Unlock()
	if opener == nil {
		return false
	}
	opener.Deliver(ports.Event{Origin: p.origin, Data: payload})
	return true
}

// SetVisible queues a visibility change.
func (p *Page) SetVisible(visible bool) {
	p.browser.enqueue(func() {
		p.browser.mu.Lock()
		if p.visible == visible {
			p.browser.mu.Unlock()
			return
		}
		p.visible = visible
		subs := make([]func(bool), 0, len(p.visSubs))
		for _, id := range sortedKeys(p.visSubs) {
			subs = append(subs, p.visSubs[id])
		}
		p.browser.mu.Unlock()
		for _, fn := range subs {
			fn(visible)
		}
	})
}

// Sync blocks until every task queued before the call has run.
func (b *Browser) Sync() {
	done := make(chan struct{})
	b.enqueue(func() { close(done) })
	select {
	case <-done:
	case <-b.stop:
	}
}

// Sandbox makes IsTopLevel fail, as it does for sandboxed frames.
func (p *Page) Sandbox() {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	p.sandboxed = true
}

// FailNavigation makes subsequent Navigate calls return err.
func (p *Page) FailNavigation(err error) {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	p.navigateErr = err
}

func (p *Page) SetGeometry(g ports.Geometry) {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	p.geometry = g
}

func (p *Page) URL() string {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	return p.url
}

func (p *Page) History() []string {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	return append([]string(nil), p.history...)
}

func (p *Page) Name() string {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	return p.name
}

func (p *Page) Features() string {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	return p.features
}

func (p *Page) Visible() bool {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	return p.visible
}

// Placement returns the size and position last applied through ResizeTo and
// MoveTo, and whether the page was focused.
func (p *Page) Placement() (size, position [2]int, focused bool) {
	p.browser.mu.Lock()
	defer p.browser.mu.Unlock()
	return p.resizedTo, p.movedTo, p.focused
}

func (p *Page) resolve(url string) string {
	if strings.HasPrefix(url, "/") {
		return p.origin + url
	}
	return url
}

func sortedKeys[V any](m map[int]V) []int {
	return slices.Sorted(maps.Keys(m))
}
