// Package sender implements the Flow-Controlled Sender from spec.md 4.2: a
// backpressure-aware wrapper around the outbound half of a server stream.
//
// The original system's sender rides on a stream observer that exposes
// isReady()/setOnReadyHandler()/setOnCancelHandler() (a Java gRPC idiom).
// grpc-go has no equivalent readiness callback — SendMsg already blocks
// until the HTTP/2 flow-control window has room, and aborts once the
// call's context is cancelled. This package maps the spec's ready/cancel/
// stall state machine onto that blocking-call model: Send runs the
// underlying transport write on a goroutine and races it against the call
// context's Done channel and a stall timer, which is the direct Go
// analogue of the suspension point named in spec.md 5.
package sender

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/National-Digital-Twin/federator-sub003/pkg/logger"
)

// DefaultStallDeadline is the default maximum time Send will wait for the
// transport to accept a frame before failing the call (spec.md 4.2, 5).
const DefaultStallDeadline = 2 * time.Minute

// safetyWakeup is the periodic re-check interval tolerating a missed
// readiness signal, per spec.md 4.2 ("Signalling").
const safetyWakeup = 200 * time.Millisecond

// traceThreshold is the minimum wait duration worth logging, per spec.md 4.2
// ("Observability") — below it, stay silent to avoid log flapping.
const traceThreshold = 200 * time.Millisecond

var (
	// ErrClosed is returned by Send once the sender has terminated, from
	// cancellation, completion, or error (spec.md 4.2 "Cancellation").
	ErrClosed = errors.New("sender: closed")
	// ErrStalled is returned by Send when the transport did not accept the
	// frame within the stall deadline (spec.md 4.2 "Stall").
	ErrStalled = errors.New("sender: stall deadline exceeded")
)

// Sender wraps a single outbound stream of T (*wire.EventFrame or
// *wire.FileStreamFrame). It is not safe for concurrent Send calls — callers
// hand off frames single-threadedly per stream, per spec.md 4.2
// "Concurrency".
type Sender[T any] struct {
	ctx           context.Context
	write         func(T) error
	stallDeadline time.Duration
	log           *logger.Logger

	mu     sync.Mutex
	closed bool
}

// New builds a Sender bound to ctx (the call context, cancelled on RPC
// cancellation) that writes frames via write (typically the generated
// stream's Send method).
func New[T any](ctx context.Context, write func(T) error, log *logger.Logger) *Sender[T] {
	return &Sender[T]{
		ctx:           ctx,
		write:         write,
		stallDeadline: DefaultStallDeadline,
		log:           log,
	}
}

// WithStallDeadline overrides the default stall deadline (tests use this to
// avoid a 2-minute wait).
func (s *Sender[T]) WithStallDeadline(d time.Duration) *Sender[T] {
	s.stallDeadline = d
	return s
}

// Send blocks until the transport accepts frame, the call is cancelled, the
// sender is already closed, or the stall deadline elapses.
func (s *Sender[T]) Send(frame T) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- s.write(frame)
	}()

	timer := time.NewTimer(s.stallDeadline)
	defer timer.Stop()
	ticker := time.NewTicker(safetyWakeup)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			if waited := time.Since(start); waited > traceThreshold {
				s.log.Debug("sender: send waited %s for transport readiness", waited)
			}
			if err != nil {
				_ = s.terminate()
			}
			return err
		case <-s.ctx.Done():
			_ = s.terminate()
			return ErrClosed
		case <-timer.C:
			_ = s.terminate()
			return ErrStalled
		case <-ticker.C:
			// Safety wake-up: re-poll the same select, tolerating a missed
			// ready/cancel signal. No action needed — the loop just spins
			// again; this case exists purely to bound each iteration.
		}
	}
}

// Complete marks the sender closed. Idempotent: repeated or concurrent
// calls emit at most one terminal transition, per spec.md 4.2.
func (s *Sender[T]) Complete() error {
	return s.terminate()
}

// Error marks the sender closed due to err. Idempotent, same as Complete.
func (s *Sender[T]) Error(err error) error {
	return s.terminate()
}

// Closed reports whether the sender has terminated.
func (s *Sender[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sender[T]) terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return nil
}
