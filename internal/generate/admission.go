package generate

import (
	"context"
	"time"
)

// Gate serializes generations. The inference server handles one request at
// a time, so callers first reserve a queue slot, then the single in-flight
// slot. Waiting longer than maxWait for either rejects with ErrBusy.
type Gate struct {
	genCh   chan struct{}
	queueCh chan struct{}
	maxWait time.Duration
}

// NewGate builds a gate admitting one in-flight generation with up to
// queueDepth waiters.
func NewGate(queueDepth int, maxWait time.Duration) *Gate {
	if queueDepth < 1 {
		queueDepth = 1
	}
	return &Gate{
		genCh:   make(chan struct{}, 1),
		queueCh: make(chan struct{}, queueDepth),
		maxWait: maxWait,
	}
}

// QueueLen reports the number of admissions holding a queue slot,
// including the in-flight one.
func (g *Gate) QueueLen() int { return len(g.queueCh) }

// Inflight reports whether a generation currently holds the gate.
func (g *Gate) Inflight() int { return len(g.genCh) }

// Depth returns the configured queue capacity.
func (g *Gate) Depth() int { return cap(g.queueCh) }

// Acquire reserves a queue slot and then the in-flight slot. The returned
// release func must be deferred by the caller.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	timer := time.NewTimer(g.maxWait)
	defer timer.Stop()
	select {
	case g.queueCh <- struct{}{}:
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, ErrBusy()
	}

	acquired := false
	defer func() {
		if !acquired {
			<-g.queueCh
		}
	}()
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	timer2 := time.NewTimer(g.maxWait)
	defer timer2.Stop()
	select {
	case g.genCh <- struct{}{}:
		acquired = true
		return func() { <-g.genCh; <-g.queueCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer2.C:
		return func() {}, ErrBusy()
	}
}
