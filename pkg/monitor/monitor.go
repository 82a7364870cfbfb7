// Package monitor measures the runtime constituents of a federated project:
// computation, network send/receive, and idle time on the clients, aggregation
// time on the server, and compensation time on the compensator, plus the
// traffic exchanged between the parties.
package monitor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer is an additive duration accumulator. It tracks the sum of the
// statistics up to the PREVIOUS communication round, because e.g. the network
// send time of the current round cannot be known within the round itself.
// NewRound rolls the current round's bucket into the total.
type Timer struct {
	mu sync.Mutex

	name  string
	clock clockwork.Clock

	startTime         time.Time
	totalDuration     time.Duration
	thisRoundDuration time.Duration
	inProgress        bool
}

func NewTimer(name string) *Timer {
	return NewTimerWithClock(name, clockwork.NewRealClock())
}

func NewTimerWithClock(name string, clock clockwork.Clock) *Timer {
	return &Timer{
		name:  name,
		clock: clock,
	}
}

// Start begins a measurement. Starting an already-running timer indicates a
// bug in the calling code; it is logged and ignored.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.inProgress {
		slog.Error("timer already started, it must be stopped first", slog.String("timer", t.name))

		return
	}

	t.inProgress = true
	t.startTime = t.clock.Now()
}

// Stop ends the current measurement and adds its duration to the current
// round's bucket.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.inProgress {
		slog.Error("timer already stopped, it must be started first", slog.String("timer", t.name))

		return
	}

	t.thisRoundDuration += t.clock.Since(t.startTime)
	t.inProgress = false
}

// Ignore discards the current measurement without accumulating it.
func (t *Timer) Ignore() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.inProgress {
		slog.Error("timer already stopped, it must be started first", slog.String("timer", t.name))

		return
	}

	t.inProgress = false
}

// NewRound rolls the current round's duration into the total.
func (t *Timer) NewRound() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalDuration += t.thisRoundDuration
	t.thisRoundDuration = 0
}

// Reset clears all accumulated values.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalDuration = 0
	t.thisRoundDuration = 0
	t.inProgress = false
}

// ThisRound returns the duration accumulated in the current round's bucket.
func (t *Timer) ThisRound() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.thisRoundDuration
}

// TotalDuration returns the accumulated duration up to the previous
// communication round.
func (t *Timer) TotalDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.totalDuration
}

// Counter tracks the number of bytes exchanged over one direction of a
// connection, e.g. client -> server.
type Counter struct {
	mu sync.Mutex

	name  string
	total uint64
}

func NewCounter(name string) *Counter {
	return &Counter{name: name}
}

func (c *Counter) Increment(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total += n
}

func (c *Counter) Total() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.total
}
