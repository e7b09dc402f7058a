package popup

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"popupflow/internal/browser/sim"
	"popupflow/internal/popup/metrics"
	"popupflow/internal/popup/ports"
	"popupflow/internal/popup/ports/mocks"
)

func (s *ManagerSuite) mobilePage() *sim.Page {
	return s.browser.NewPage(appOrigin, uaIPhoneSafari)
}

// openTab opens a flow on a mobile page and lets the loading timer redirect
// the tab.
func (s *ManagerSuite) openTab(m *Manager) (*Flow, *outcomeLog, *sim.Page) {
	f, log := s.open(m)
	tab := s.browser.LastOpened()
	s.Require().NotNil(tab)

	s.clock.Step(2 * time.Second)
	s.Require().Eventually(s.redirected(tab), waitFor, pollEvery)
	return f, log, tab
}

func (s *ManagerSuite) TestTabOpen() {
	s.Run("mobile opens a blank tab and backgrounds the page", func() {
		top := s.mobilePage()
		m := s.newManager(top)

		f, _ := s.open(m)
		tab := s.browser.LastOpened()

		s.Equal(EnvMobile, f.Environment())
		s.Equal("_blank", tab.Name())
		s.Empty(tab.Features())
		s.Equal(appOrigin+"/loading", tab.URL())
		s.browser.Sync()
		s.False(top.Visible())
	})

	s.Run("in-app browsers use a tab too", func() {
		m := s.newManager(s.browser.NewPage(appOrigin, uaFacebookIOS))

		f, _ := s.open(m)

		s.Equal(EnvInApp, f.Environment())
		s.Equal("_blank", s.browser.LastOpened().Name())
	})

	s.Run("blocked tab fails the flow", func() {
		s.browser.BlockPopups(true)
		defer s.browser.BlockPopups(false)
		m := s.newManager(s.mobilePage())

		f, _ := s.open(m)

		out, ok := f.Outcome()
		s.Require().True(ok)
		s.ErrorIs(out.Err, ErrBlocked)
	})

	s.Run("stale slot from an earlier attempt is cleared", func() {
		s.Require().NoError(s.store.Put(s.ctx, SlotKey, string(Encode(NewMessage(TypeSuccess, "old")))))
		m := s.newManager(s.mobilePage())

		s.open(m)

		_, ok := s.store.Peek(SlotKey)
		s.False(ok)
	})
}

// TestTabClosedByUser is the user closing the tab and returning to the page.
func (s *ManagerSuite) TestTabClosedByUser() {
	top := s.mobilePage()
	frame := s.browser.NewFrame(top, appOrigin, uaIPhoneSafari)
	var embedded inbox
	embedded.listen(frame)
	m := s.newManager(top)

	f, log, tab := s.openTab(m)
	tab.Close()
	s.clock.Step(500 * time.Millisecond)
	top.SetVisible(true)
	s.settle(DefaultSettleDelay)

	out := s.await(f)
	s.Equal(Cancelled(ReasonManualClose), out)
	s.requireDeliveredOnce(log)

	record, ok := s.store.Peek(SlotKey)
	s.Require().True(ok)
	s.JSONEq(`{"type":"POPUP_CANCEL","data":{"message":"Tab closed by user"}}`, record)

	s.Eventually(func() bool {
		types := embedded.types()
		return len(types) == 1 && types[0] == TypeOTPCancelled
	}, waitFor, pollEvery)
}

// TestTabClosedBeforeRedirect is the user closing the tab while it still
// shows the loading page.
func (s *ManagerSuite) TestTabClosedBeforeRedirect() {
	top := s.mobilePage()
	frame := s.browser.NewFrame(top, appOrigin, uaIPhoneSafari)
	var embedded inbox
	embedded.listen(frame)
	m := s.newManager(top)

	f, log := s.open(m)
	tab := s.browser.LastOpened()
	tab.Close()
	s.clock.Step(2 * time.Second)

	s.Equal(Cancelled(ReasonManualClose), s.await(f))
	s.requireDeliveredOnce(log)
	s.Equal([]string{appOrigin + "/loading"}, tab.History())
	record, ok := s.store.Peek(SlotKey)
	s.Require().True(ok)
	s.Contains(record, TextTabClosed)
	s.Eventually(func() bool {
		types := embedded.types()
		return len(types) == 1 && types[0] == TypeOTPCancelled
	}, waitFor, pollEvery)
}

func (s *ManagerSuite) TestTabPersistedOutcome() {
	s.Run("success written by the tab", func() {
		top := s.mobilePage()
		m := s.newManager(top)
		f, log, tab := s.openTab(m)

		s.Require().NoError(s.store.Put(s.ctx, SlotKey, string(Encode(NewMessage(TypeSuccess, "OTP verified successfully")))))
		tab.Close()
		top.SetVisible(true)
		s.settle(DefaultSettleDelay)

		out := s.await(f)
		s.Equal(KindSuccess, out.Kind)
		s.Equal("OTP verified successfully", out.Message())
		s.requireDeliveredOnce(log)
		_, ok := s.store.Peek(SlotKey)
		s.False(ok, "the slot is consumed")
	})

	s.Run("cancel written by the tab", func() {
		top := s.mobilePage()
		m := s.newManager(top)
		f, _, _ := s.openTab(m)

		s.Require().NoError(s.store.Put(s.ctx, SlotKey, string(Encode(NewMessage(TypeCancel, TextUserCancelled)))))
		top.SetVisible(true)
		s.settle(DefaultSettleDelay)

		s.Equal(Cancelled(ReasonUserCancelled), s.await(f))
	})

	s.Run("unreadable record counts as abandoned", func() {
		top := s.mobilePage()
		m := s.newManager(top)
		f, _, _ := s.openTab(m)

		s.Require().NoError(s.store.Put(s.ctx, SlotKey, "{not json"))
		top.SetVisible(true)
		s.settle(DefaultSettleDelay)

		s.Equal(Cancelled(ReasonManualClose), s.await(f))
		s.Eventually(func() bool {
			record, ok := s.store.Peek(SlotKey)
			return ok && strings.Contains(record, TextTabClosed)
		}, waitFor, pollEvery)
	})

	s.Run("unknown record type counts as abandoned", func() {
		top := s.mobilePage()
		m := s.newManager(top)
		f, _, _ := s.openTab(m)

		s.Require().NoError(s.store.Put(s.ctx, SlotKey, `{"type":"SOMETHING_ELSE"}`))
		top.SetVisible(true)
		s.settle(DefaultSettleDelay)

		s.Equal(Cancelled(ReasonManualClose), s.await(f))
	})
}

// TestTabDirectMessage covers tabs that keep an opener reference.
func (s *ManagerSuite) TestTabDirectMessage() {
	top := s.mobilePage()
	m := s.newManager(top)
	f, log, tab := s.openTab(m)

	tab.PostToOpener(Encode(NewMessage(TypeSuccess, "OTP verified successfully")))

	s.Equal(KindSuccess, s.await(f).Kind)
	s.True(tab.Closed())

	// Returning to the page afterwards does not produce a second outcome.
	top.SetVisible(true)
	s.browser.Sync()
	s.False(s.clock.HasWaiters())
	s.requireDeliveredOnce(log)
}

// TestTabVisibilityFlicker verifies an early return to the page is not taken
// as the user abandoning the tab.
func (s *ManagerSuite) TestTabVisibilityFlicker() {
	ctrl := gomock.NewController(s.T())
	store := mocks.NewMockOutcomeStore(ctrl)
	takes := make(chan struct{}, 8)
	store.EXPECT().Take(gomock.Any(), SlotKey).DoAndReturn(func(context.Context, string) (string, bool, error) {
		takes <- struct{}{}
		return "", false, nil
	}).AnyTimes()
	store.EXPECT().Put(gomock.Any(), SlotKey, gomock.Any()).Return(nil).Times(1)

	top := s.mobilePage()
	m := s.newManagerWithStore(top, store, WithLegitimateCloseAfter(5*time.Second))

	f, _, _ := s.openTab(m)
	s.receive(takes) // stale slot cleared on open

	top.SetVisible(true)
	s.settle(DefaultSettleDelay)
	s.receive(takes)
	s.browser.Sync()
	_, resolved := f.Outcome()
	s.False(resolved, "2.1s after opening is still a flicker")

	s.clock.Step(3 * time.Second)
	top.SetVisible(false)
	top.SetVisible(true)
	s.settle(DefaultSettleDelay)
	s.receive(takes)

	s.Equal(Cancelled(ReasonManualClose), s.await(f))
}

func (s *ManagerSuite) TestTabStoreFailures() {
	s.Run("unreadable slot after the threshold is a close", func() {
		ctrl := gomock.NewController(s.T())
		store := mocks.NewMockOutcomeStore(ctrl)
		store.EXPECT().Take(gomock.Any(), SlotKey).Return("", false, errors.New("storage unavailable")).AnyTimes()
		store.EXPECT().Put(gomock.Any(), SlotKey, gomock.Any()).Return(errors.New("storage unavailable"))

		top := s.mobilePage()
		m := s.newManagerWithStore(top, store)
		f, _, _ := s.openTab(m)

		s.clock.Step(time.Second)
		top.SetVisible(true)
		s.settle(DefaultSettleDelay)

		s.Equal(Cancelled(ReasonManualClose), s.await(f))
	})
}

// TestTabMetricsRecorded resolves tab flows from timer callbacks with metrics
// enabled, so resolution reads the clock from inside a fired timer.
func (s *ManagerSuite) TestTabMetricsRecorded() {
	s.Run("closed after the redirect", func() {
		reg := prometheus.NewRegistry()
		rec := metrics.NewWithRegisterer(reg)
		top := s.mobilePage()
		m := s.newManager(top, WithMetrics(rec))

		f, _, tab := s.openTab(m)
		tab.Close()
		s.clock.Step(500 * time.Millisecond)
		top.SetVisible(true)
		s.settle(DefaultSettleDelay)

		s.Equal(Cancelled(ReasonManualClose), s.await(f))
		s.Equal(float64(1), testutil.ToFloat64(rec.FlowOutcomes.WithLabelValues("mobile", "cancelled", "manual_close")))
		s.Equal(1, testutil.CollectAndCount(rec.FlowDuration))
	})

	s.Run("closed before the redirect", func() {
		reg := prometheus.NewRegistry()
		rec := metrics.NewWithRegisterer(reg)
		m := s.newManager(s.mobilePage(), WithMetrics(rec))

		f, _ := s.open(m)
		s.browser.LastOpened().Close()
		s.clock.Step(2 * time.Second)

		s.Equal(Cancelled(ReasonManualClose), s.await(f))
		s.Equal(float64(1), testutil.ToFloat64(rec.FlowOutcomes.WithLabelValues("mobile", "cancelled", "manual_close")))
	})
}

// TestTabAbandonRace covers a direct outcome racing the tracker's decision
// that the tab was abandoned.
func (s *ManagerSuite) TestTabAbandonRace() {
	s.Run("outcome that lands first wins and nothing is recorded", func() {
		top := s.mobilePage()
		frame := s.browser.NewFrame(top, appOrigin, uaIPhoneSafari)
		var embedded inbox
		embedded.listen(frame)

		var (
			takes atomic.Int32
			flow  atomic.Pointer[Flow]
		)
		ctrl := gomock.NewController(s.T())
		store := mocks.NewMockOutcomeStore(ctrl)
		store.EXPECT().Take(gomock.Any(), SlotKey).DoAndReturn(func(context.Context, string) (string, bool, error) {
			if takes.Add(1) == 1 {
				return "", false, nil
			}
			top.Deliver(ports.Event{Origin: appOrigin, Data: Encode(NewMessage(TypeSuccess, "OTP verified successfully"))})
			s.Eventually(func() bool {
				_, resolved := flow.Load().Outcome()
				return resolved
			}, waitFor, pollEvery)
			return "", false, nil
		}).Times(2)

		m := s.newManagerWithStore(top, store, WithLegitimateCloseAfter(0))
		f, log, _ := s.openTab(m)
		flow.Store(f)

		top.SetVisible(true)
		s.settle(DefaultSettleDelay)

		s.Equal(KindSuccess, s.await(f).Kind)
		s.requireDeliveredOnce(log)
		s.Never(func() bool { return len(embedded.types()) > 0 }, 50*time.Millisecond, pollEvery)
	})

	s.Run("outcome that lands after the abandon is ignored", func() {
		top := s.mobilePage()
		frame := s.browser.NewFrame(top, appOrigin, uaIPhoneSafari)
		var embedded inbox
		embedded.listen(frame)

		ctrl := gomock.NewController(s.T())
		store := mocks.NewMockOutcomeStore(ctrl)
		store.EXPECT().Take(gomock.Any(), SlotKey).Return("", false, nil).Times(2)
		store.EXPECT().Put(gomock.Any(), SlotKey, gomock.Any()).DoAndReturn(func(context.Context, string, string) error {
			top.Deliver(ports.Event{Origin: appOrigin, Data: Encode(NewMessage(TypeSuccess, "OTP verified successfully"))})
			s.browser.Sync()
			return nil
		})

		m := s.newManagerWithStore(top, store, WithLegitimateCloseAfter(0))
		f, log, _ := s.openTab(m)

		top.SetVisible(true)
		s.settle(DefaultSettleDelay)

		s.Equal(Cancelled(ReasonManualClose), s.await(f))
		s.requireDeliveredOnce(log)
		s.Eventually(func() bool {
			types := embedded.types()
			return len(types) == 1 && types[0] == TypeOTPCancelled
		}, waitFor, pollEvery)
	})
}

func (s *ManagerSuite) receive(ch <-chan struct{}) {
	select {
	case <-ch:
	case <-time.After(waitFor):
		s.FailNow("timed out waiting for the outcome store")
	}
}
