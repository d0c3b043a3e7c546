// Package utils holds small pieces of infrastructure shared by other
// packages: a process uptime clock and a registry of named tickers so the
// broker's heartbeat and idle-reaper loops can be looked up and stopped by
// name instead of each carrying its own *time.Ticker field.
package utils

import (
	"sync"
	"time"
)

// Ticker wraps time.Ticker with a name so it can be looked up in the
// package-level registry, and tracks how many times it has fired.
type Ticker struct {
	Name string
	*time.Ticker
	Func func(t time.Time)

	mu       sync.Mutex
	ticks    int
	lastTick time.Time
	done     chan struct{}
	stopOnce sync.Once
}

var (
	// StartTime is the time this process started.
	StartTime time.Time

	tickersMu sync.Mutex
	tickers   = make(map[string]*Ticker)
)

func init() {
	StartTime = time.Now()
}

// Timestamp returns the time.Duration since the program was started,
// useful for stamping communication messages.
func Timestamp() time.Duration {
	return time.Since(StartTime)
}

// NewTicker creates a ticker named n that fires every d, calling f on each
// tick until Stop is called. The ticker is registered under n so it can be
// looked up with GetTicker/GetTickers, and is de-registered on Stop.
func NewTicker(n string, d time.Duration, f func(t time.Time)) *Ticker {
	t := &Ticker{
		Name:   n,
		Ticker: time.NewTicker(d),
		Func:   f,
		done:   make(chan struct{}),
	}

	tickersMu.Lock()
	tickers[n] = t
	tickersMu.Unlock()

	go func() {
		for {
			select {
			case <-t.done:
				return
			case tick := <-t.Ticker.C:
				t.mu.Lock()
				t.ticks++
				t.lastTick = tick
				t.mu.Unlock()
				f(tick)
			}
		}
	}()
	return t
}

// Stop halts the ticker's future ticks, unblocks its delivery goroutine, and
// de-registers it from the package-level map.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() {
		t.Ticker.Stop()
		close(t.done)
		tickersMu.Lock()
		delete(tickers, t.Name)
		tickersMu.Unlock()
	})
}

// GetTickers returns a snapshot of every currently registered ticker.
func GetTickers() map[string]*Ticker {
	tickersMu.Lock()
	defer tickersMu.Unlock()
	out := make(map[string]*Ticker, len(tickers))
	for k, v := range tickers {
		out[k] = v
	}
	return out
}

// GetTicker returns the named ticker, or nil if it does not exist.
func GetTicker(n string) *Ticker {
	tickersMu.Lock()
	defer tickersMu.Unlock()
	return tickers[n]
}
