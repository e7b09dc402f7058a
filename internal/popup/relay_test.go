package popup

import (
	"strings"
	"sync"
	"time"

	"popupflow/internal/browser/sim"
	"popupflow/internal/popup/ports"
)

type statusLog struct {
	mu       sync.Mutex
	statuses []Status
}

func (l *statusLog) record(st Status, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, st)
}

func (l *statusLog) all() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Status(nil), l.statuses...)
}

// embeddedSetup is an aggregating top page running a Relay with a frame
// that runs its own Manager.
type embeddedSetup struct {
	top      *sim.Page
	frame    *sim.Page
	topMgr   *Manager
	frameMgr *Manager
	statuses *statusLog
}

func (s *ManagerSuite) newEmbedded(topUA string, opts ...RelayOption) embeddedSetup {
	top := s.browser.NewPage(appOrigin, topUA)
	frame := s.browser.NewFrame(top, appOrigin, topUA)
	statuses := &statusLog{}

	topMgr := s.newManager(top)
	relay, err := NewRelay(topMgr, append([]RelayOption{WithStatusObserver(statuses.record)}, opts...)...)
	s.Require().NoError(err)
	relay.Start()
	s.T().Cleanup(relay.Stop)

	return embeddedSetup{
		top:      top,
		frame:    frame,
		topMgr:   topMgr,
		frameMgr: s.newManager(frame),
		statuses: statuses,
	}
}

// popupFor waits until the top page has opened the relayed popup with its
// watchdog armed.
func (s *ManagerSuite) popupFor(e embeddedSetup) *sim.Page {
	s.Require().Eventually(func() bool { return e.topMgr.Active() != nil }, waitFor, pollEvery)
	popup := s.browser.LastOpened()
	s.Require().NotNil(popup)
	return popup
}

func (s *ManagerSuite) TestRelayedFlow() {
	s.Run("success is re-broadcast to the embedded page", func() {
		e := s.newEmbedded(uaMacChrome)
		f, log := s.open(e.frameMgr)
		s.Equal(EnvIframe, f.Environment())

		popup := s.popupFor(e)
		s.Equal(appOrigin+"/loading", popup.URL())

		s.clock.Step(2 * time.Second)
		s.Require().Eventually(func() bool { return strings.HasPrefix(popup.URL(), bankTarget) }, waitFor, pollEvery)
		s.Contains(popup.URL(), "callback_url=https%3A%2F%2Fapp.example%2Fsuccess-callback")

		popup.PostToOpener(Encode(NewMessage(TypeSuccess, "OTP verified successfully")))

		out := s.await(f)
		s.Equal(KindSuccess, out.Kind)
		s.Equal("OTP verified successfully", out.Message())
		s.True(popup.Closed())
		s.requireDeliveredOnce(log)
		s.Equal([]Status{StatusPending, StatusSuccess}, e.statuses.all())
	})

	s.Run("user cancel", func() {
		e := s.newEmbedded(uaMacChrome)
		f, _ := s.open(e.frameMgr)
		popup := s.popupFor(e)

		popup.PostToOpener(Encode(NewMessage(TypeCancel, TextUserCancelled)))

		s.Equal(Cancelled(ReasonUserCancelled), s.await(f))
		s.Equal([]Status{StatusPending, StatusCancelled}, e.statuses.all())
	})

	s.Run("popup closed by the user", func() {
		e := s.newEmbedded(uaMacChrome)
		f, _ := s.open(e.frameMgr)
		popup := s.popupFor(e)

		popup.Close()
		s.clock.Step(WatchInterval)

		s.Equal(Cancelled(ReasonManualClose), s.await(f))
		s.Equal([]Status{StatusPending, StatusClosed}, e.statuses.all())
	})

	s.Run("remote error", func() {
		e := s.newEmbedded(uaMacChrome)
		f, _ := s.open(e.frameMgr)
		popup := s.popupFor(e)

		popup.PostToOpener([]byte(`{"type":"POPUP_ERROR","data":{"message":"Card declined"}}`))

		out := s.await(f)
		s.Equal(KindError, out.Kind)
		s.Equal("Card declined", out.Message())
		s.Equal([]Status{StatusPending, StatusError}, e.statuses.all())
	})

	s.Run("close requested by the embedded page", func() {
		e := s.newEmbedded(uaMacChrome)
		f, _ := s.open(e.frameMgr)
		popup := s.popupFor(e)

		e.frameMgr.ClosePopup()

		s.Equal(Cancelled(ReasonManualClose), s.await(f))
		s.True(popup.Closed())
	})
}

// TestRelayedTabClosed covers a mobile aggregating page whose tab is closed.
func (s *ManagerSuite) TestRelayedTabClosed() {
	e := s.newEmbedded(uaIPhoneSafari)
	f, _ := s.open(e.frameMgr)
	tab := s.popupFor(e)
	s.Equal("_blank", tab.Name())

	s.clock.Step(3 * time.Second)
	s.Require().Eventually(s.redirected(tab), waitFor, pollEvery)
	tab.Close()
	e.top.SetVisible(true)
	s.settle(DefaultSettleDelay)

	s.Equal(Cancelled(ReasonManualClose), s.await(f))
	s.Eventually(func() bool { return len(e.statuses.all()) == 2 }, waitFor, pollEvery)
	s.Equal([]Status{StatusPending, StatusClosed}, e.statuses.all())
}

func (s *ManagerSuite) TestRelayFiltering() {
	s.Run("foreign origins are ignored", func() {
		e := s.newEmbedded(uaMacChrome)

		e.top.Deliver(ports.Event{
			Origin: "https://evil.example",
			Data:   Encode(Message{Type: TypeOpenOTPPopup, URL: bankTarget}),
		})
		s.browser.Sync()

		s.Nil(e.topMgr.Active())
		s.Empty(e.statuses.all())
	})

	s.Run("allowed origins are accepted", func() {
		e := s.newEmbedded(uaMacChrome, WithAllowedOrigins(" https://Partner.example/", "https://partner.example"))

		e.top.Deliver(ports.Event{
			Origin: "https://partner.example",
			Data:   Encode(Message{Type: TypeOpenOTPPopup, URL: bankTarget}),
		})

		s.popupFor(e)
		s.Equal([]Status{StatusPending}, e.statuses.all())
	})

	s.Run("requests without a url are ignored", func() {
		e := s.newEmbedded(uaMacChrome)

		e.top.Deliver(ports.Event{Origin: appOrigin, Data: Encode(Message{Type: TypeOpenPopup})})
		s.browser.Sync()

		s.Nil(e.topMgr.Active())
	})
}

func (s *ManagerSuite) TestEmbeddedWithoutTopContext() {
	s.Run("sandboxed page relays and fails without a parent", func() {
		page := s.desktopPage()
		page.Sandbox()
		m := s.newManager(page)

		f, _ := s.open(m)

		s.Equal(EnvIframe, f.Environment())
		out, ok := f.Outcome()
		s.Require().True(ok)
		s.ErrorIs(out.Err, ErrNoTopContext)
	})

	s.Run("relayed outcomes are ignored by top-level flows", func() {
		top := s.desktopPage()
		m := s.newManager(top)
		f, _ := s.open(m)

		top.Deliver(ports.Event{Origin: appOrigin, Data: Encode(NewMessage(TypeOTPVerified, "forged"))})
		s.browser.Sync()

		_, resolved := f.Outcome()
		s.False(resolved)
	})
}

func (s *ManagerSuite) TestNewRelayRequiresManager() {
	_, err := NewRelay(nil)
	s.ErrorContains(err, "manager is required")
}
