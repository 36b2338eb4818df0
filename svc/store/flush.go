package store

import (
	"sync"
	"time"

	"pastebox/metrics"
	"pastebox/svc/util"
)

// Flusher debounces persistence. It is Idle until Mark is called, then
// Pending until the delay passes with no further Mark, at which point the
// flush function runs once and the Flusher returns to Idle. Flushes never
// overlap, and a Mark that lands while a flush is in flight arms a new timer,
// so the state it announced is written by a later flush.
type Flusher struct {
	clock Clock
	delay time.Duration
	flush func() error

	mu        sync.Mutex
	timer     Timer
	seq       uint64
	dirty     bool
	closed    bool
	lastFlush time.Time
	lastErr   error
	count     uint64

	writeMu sync.Mutex
}

func NewFlusher(clock Clock, delay time.Duration, flush func() error) *Flusher {
	if clock == nil {
		clock = RealClock
	}
	return &Flusher{clock: clock, delay: delay, flush: flush}
}

// Mark records that state changed and (re)starts the debounce timer.
func (f *Flusher) Mark() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty = true
	if f.closed {
		return
	}
	if f.timer != nil {
		f.timer.Stop()
	}
	f.seq++
	seq := f.seq
	f.timer = f.clock.AfterFunc(f.delay, func() { f.fire(seq) })
}

// fire runs when a timer expires. A timer whose Stop lost the race with its
// own expiry carries an outdated seq and does nothing.
func (f *Flusher) fire(seq uint64) {
	f.mu.Lock()
	if seq != f.seq || f.closed {
		f.mu.Unlock()
		return
	}
	f.timer = nil
	f.mu.Unlock()
	_ = f.run()
}

// Flush cancels any pending timer and writes synchronously.
func (f *Flusher) Flush() error {
	f.cancelTimer()
	return f.run()
}

// Close stops the scheduler. If unflushed changes remain, one final flush is
// attempted and its error returned.
func (f *Flusher) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()
	f.cancelTimer()

	f.mu.Lock()
	dirty := f.dirty
	f.mu.Unlock()
	if !dirty {
		// wait out a flush that is already running
		f.writeMu.Lock()
		f.writeMu.Unlock()
		return nil
	}
	return f.run()
}

func (f *Flusher) cancelTimer() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.seq++
}

func (f *Flusher) run() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.Lock()
	f.dirty = false
	f.mu.Unlock()

	start := time.Now()
	err := f.flush()
	elapsed := time.Since(start)
	metrics.FlushDuration.Observe(elapsed.Seconds())

	f.mu.Lock()
	f.count++
	f.lastErr = err
	if err != nil {
		// left for the next Mark (or Close) to retry
		f.dirty = true
	} else {
		f.lastFlush = f.clock.Now()
	}
	f.mu.Unlock()

	if err != nil {
		metrics.FlushErrors.Inc()
		util.Error().Err(err).Dur("duration", elapsed).Msg("snapshot flush failed")
		return err
	}
	metrics.Flushes.Inc()
	util.Debug().Dur("duration", elapsed).Msg("snapshot flushed")
	return nil
}

// Pending reports whether a debounce timer is armed.
func (f *Flusher) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timer != nil
}

type FlushStatus struct {
	Dirty     bool
	Pending   bool
	Flushes   uint64
	LastFlush time.Time
	LastErr   error
}

func (f *Flusher) Status() FlushStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FlushStatus{
		Dirty:     f.dirty,
		Pending:   f.timer != nil,
		Flushes:   f.count,
		LastFlush: f.lastFlush,
		LastErr:   f.lastErr,
	}
}
