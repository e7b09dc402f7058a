package popup

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"popupflow/internal/popup/ports"
)

// WatchInterval is how often the closure watchdog polls the window handle.
// Browsers expose no portable "context closed" event, so polling it is.
const WatchInterval = 100 * time.Millisecond

// watchdog polls a held window until it reports closed, then fires onClosed
// once.
type watchdog struct {
	ticker clock.Ticker
	stop   chan struct{}
	once   sync.Once
}

func startWatchdog(clk clock.WithTicker, interval time.Duration, w ports.Window, onClosed func()) *watchdog {
	wd := &watchdog{
		ticker: clk.NewTicker(interval),
		stop:   make(chan struct{}),
	}
	go wd.run(w, onClosed)
	return wd
}

func (wd *watchdog) run(w ports.Window, onClosed func()) {
	for {
		select {
		case <-wd.stop:
			return
		case <-wd.ticker.C():
			// A tick may already be buffered when Stop runs.
			select {
			case <-wd.stop:
				return
			default:
			}
			if w.Closed() {
				wd.Stop()
				onClosed()
				return
			}
		}
	}
}

// Stop is idempotent.
func (wd *watchdog) Stop() {
	wd.once.Do(func() {
		wd.ticker.Stop()
		close(wd.stop)
	})
}
