package ratelimit

import "time"

// Handle is a client of a Limiter's run loop. The zero value is not usable.
//
// Copying a Handle clones it; every copy talks to the same ledger.
type Handle struct {
	requests chan<- request
	done     <-chan struct{}
}

// Wait blocks until one token is available.
func (h Handle) Wait() {
	h.WaitFor(1)
}

// WaitFor asks the limiter for count tokens and sleeps for the delay it
// returns. The sleep happens on the calling goroutine, never in the run loop.
//
// WaitFor panics with ErrLimiterStopped if the limiter is no longer running.
// There is no cancellation: once requested, the wait runs to completion.
func (h Handle) WaitFor(count int) {
	if count <= 0 {
		return
	}
	if h.requests == nil {
		panic(ErrLimiterStopped)
	}

	reply := make(chan time.Duration, 1)
	select {
	case h.requests <- request{count: count, reply: reply}:
	case <-h.done:
		panic(ErrLimiterStopped)
	}

	if wait := <-reply; wait > 0 {
		time.Sleep(wait)
	}
}
