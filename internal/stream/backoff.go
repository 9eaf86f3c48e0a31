package stream

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff produces reconnect delays: exponential growth from an initial
// delay up to a cap, with jitter so a fleet of clients does not redial the
// platform in lockstep.
type Backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64

	mu      sync.Mutex
	attempt int
}

// NewBackoff returns a backoff with the reconnect defaults: 1s initial,
// 30s cap, doubling, 10% jitter.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(time.Second, 30*time.Second, 2.0, 0.1)
}

// NewBackoffWithConfig returns a backoff with custom parameters. Values at
// or below zero fall back to the defaults.
func NewBackoffWithConfig(initial, max time.Duration, multiplier, jitter float64) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	if multiplier <= 1 {
		multiplier = 2.0
	}
	if jitter < 0 {
		jitter = 0.1
	}
	return &Backoff{
		initial:    initial,
		max:        max,
		multiplier: multiplier,
		jitter:     jitter,
	}
}

// Next returns the delay before the next attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := float64(b.initial) * math.Pow(b.multiplier, float64(b.attempt))
	if delay > float64(b.max) {
		delay = float64(b.max)
	}
	if b.jitter > 0 {
		delay += (rand.Float64()*2 - 1) * delay * b.jitter
	}
	if delay < 0 {
		delay = float64(b.initial)
	}

	b.attempt++
	return time.Duration(delay)
}

// Reset zeroes the attempt counter after a successful connect.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}

// Attempt returns how many delays have been handed out since the last reset.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}
