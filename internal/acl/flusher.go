package acl

import (
	"context"
	"sync"
	"time"
)

// DefaultSaveDelay is how often the flusher saves when not configured
const DefaultSaveDelay = 300 * time.Second

// SaveResult reports the outcome of one flush
type SaveResult struct {
	At    time.Time
	Err   error
	Final bool // the save performed by Stop
}

// Saver is what the flusher persists
type Saver interface {
	Save() error
}

// Flusher periodically saves a store in the background
type Flusher struct {
	saver    Saver
	interval time.Duration
	results  chan SaveResult

	// tick is swapped by tests for a manual clock
	tick func(d time.Duration) (<-chan time.Time, func())

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
	finalErr error
}

// NewFlusher creates a flusher saving every interval. A non-positive
// interval uses DefaultSaveDelay.
func NewFlusher(saver Saver, interval time.Duration) *Flusher {
	if interval <= 0 {
		interval = DefaultSaveDelay
	}
	return &Flusher{
		saver:    saver,
		interval: interval,
		results:  make(chan SaveResult, 16),
		tick:     realTicker,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Results delivers one SaveResult per save. The channel is closed after
// the final save made by Stop. Results that nobody reads are dropped once
// the buffer is full.
func (f *Flusher) Results() <-chan SaveResult {
	return f.results
}

// Start runs the save loop until ctx is cancelled or Stop is called
func (f *Flusher) Start(ctx context.Context) {
	f.started = true
	ticks, stopTicker := f.tick(f.interval)
	go func() {
		defer close(f.done)
		defer stopTicker()
		for {
			select {
			case <-ctx.Done():
				return
			case <-f.stop:
				return
			case <-ticks:
			}
			// a stop that raced the tick wins
			select {
			case <-f.stop:
				return
			default:
			}
			f.report(SaveResult{At: time.Now(), Err: f.saver.Save()})
		}
	}()
}

// Stop cancels further scheduled saves, waits for one in progress to
// finish, then performs a final save and returns its error. Calling Stop
// more than once only saves once.
func (f *Flusher) Stop() error {
	f.stopOnce.Do(func() {
		close(f.stop)
		if f.started {
			<-f.done
		}
		f.finalErr = f.saver.Save()
		f.report(SaveResult{At: time.Now(), Err: f.finalErr, Final: true})
		close(f.results)
	})
	return f.finalErr
}

func (f *Flusher) report(r SaveResult) {
	select {
	case f.results <- r:
	default:
	}
}
