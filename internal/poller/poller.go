// Package poller implements the repeat-until-terminal primitive shared by
// the verification and payment confirmation flows. One poller issues one
// check at a time: the next attempt is gated on settlement of the previous
// one, never on a fixed-rate timer, so a slow response can never be
// overtaken by a newer one.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("poller already started")
)

// CheckFunc performs one status check against the remote side.
type CheckFunc[T any] func(ctx context.Context) (T, error)

// Config describes one polling loop. Error policy belongs to the caller:
// OnError returning true stops the loop (fail closed), returning false keeps
// it going (soft, retry-eligible failure).
type Config[T any] struct {
	Check      CheckFunc[T]
	IsTerminal func(T) bool

	// OnObservation receives every successfully settled check while the
	// poller is live. terminal true marks the final delivery.
	OnObservation func(obs T, terminal bool)

	// OnError receives check errors; return true to stop polling.
	OnError func(err error) (stop bool)

	// OnExhausted fires when MaxAttempts checks settled without a terminal
	// observation.
	OnExhausted func()

	Interval time.Duration

	// MaxAttempts caps the number of checks; 0 means unlimited.
	MaxAttempts int
}

// Poller drives a single polling loop. It is safe for concurrent use; all
// callbacks run sequentially on the loop goroutine.
type Poller[T any] struct {
	cfg Config[T]

	mu      sync.Mutex
	started bool
	stopped bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New validates the configuration and returns an unstarted poller.
func New[T any](cfg Config[T]) (*Poller[T], error) {
	if cfg.Check == nil {
		return nil, errors.New("poller: Check is required")
	}
	if cfg.IsTerminal == nil {
		return nil, errors.New("poller: IsTerminal is required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: Interval must be positive")
	}
	return &Poller[T]{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the loop. The first check is issued immediately.
func (p *Poller[T]) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.mu.Unlock()

	go p.run(ctx)
	return nil
}

// Stop cancels the loop. No check is issued after Stop returns, and a check
// already in flight has its result discarded rather than delivered.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stopCh)
}

// Done is closed once the loop has fully exited.
func (p *Poller[T]) Done() <-chan struct{} {
	return p.doneCh
}

func (p *Poller[T]) live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.stopped
}

func (p *Poller[T]) run(ctx context.Context) {
	defer close(p.doneCh)

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		default:
		}

		obs, err := p.cfg.Check(ctx)
		attempts++

		// Stale-response guard: a result that settled after cancellation
		// must not resurrect a stopped poll.
		if !p.live() || ctx.Err() != nil {
			return
		}

		if err != nil {
			if p.cfg.OnError != nil && p.cfg.OnError(err) {
				p.Stop()
				return
			}
		} else {
			terminal := p.cfg.IsTerminal(obs)
			if p.cfg.OnObservation != nil {
				p.cfg.OnObservation(obs, terminal)
			}
			if terminal {
				p.Stop()
				return
			}
		}

		if p.cfg.MaxAttempts > 0 && attempts >= p.cfg.MaxAttempts {
			if p.cfg.OnExhausted != nil {
				p.cfg.OnExhausted()
			}
			p.Stop()
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-time.After(p.cfg.Interval):
		}
	}
}
