// Package payment implements the redirect-return payment confirmation: it
// takes the opaque token carried on the return URL, polls the payment's
// lifecycle until a terminal status, and arms a single purpose-selected
// continuation that fires at most once. Unlike verification polling, any
// transport failure here is promoted to terminal failure: payment
// confirmation fails closed.
package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vecinoapp/vecino-core/internal/cache"
	"github.com/vecinoapp/vecino-core/internal/poller"
	"github.com/vecinoapp/vecino-core/pkg/metrics"
	"github.com/vecinoapp/vecino-core/pkg/models"
)

// State is the view state of one confirmation.
type State string

const (
	StateLoading   State = "loading"
	StateSuccess   State = "success"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

const genericFailureMessage = "No pudimos confirmar tu pago. Si el cobro se realizó, contáctanos."

var (
	// ErrNoContinuation is returned by Confirm when nothing is armed: the
	// payment is not completed, or the continuation was already consumed.
	ErrNoContinuation = errors.New("no continuation armed")
)

// StatusClient is the slice of the gateway this controller consumes.
type StatusClient interface {
	GetPaymentStatus(ctx context.Context, token string) (*models.PaymentTicket, error)
}

// ContinuationJournal persists consumed continuations across reloads.
type ContinuationJournal interface {
	MarkContinuationConsumed(ctx context.Context, token string, purpose models.PaymentPurpose) (bool, error)
	ContinuationConsumed(ctx context.Context, token string) (bool, error)
}

// View is a read-only snapshot of a confirmation.
type View struct {
	Token          string                `json:"token,omitempty"`
	State          State                 `json:"state"`
	Ticket         *models.PaymentTicket `json:"ticket,omitempty"`
	FailureMessage string                `json:"failureMessage,omitempty"`
	// ContinuationArmed is true while a completed payment still has its
	// continuation waiting for the user's confirm.
	ContinuationArmed bool `json:"continuationArmed"`
	// RecoveryRoute is the single recovery action offered on failure.
	RecoveryRoute string `json:"recoveryRoute,omitempty"`
}

// Config wires a confirmation's dependencies.
type Config struct {
	Gateway  StatusClient
	Journal  ContinuationJournal
	Cache    *cache.Snapshots
	Logger   *zap.Logger
	Interval time.Duration
	// MaxAttempts caps polling; 0 keeps the product behavior of polling
	// until terminal or cancellation.
	MaxAttempts int
}

// Confirmation resolves one payment token to a terminal status.
type Confirmation struct {
	mu sync.Mutex

	token          string
	state          State
	ticket         *models.PaymentTicket
	failureMessage string

	action   *Action
	consumed bool

	poll *poller.Poller[*models.PaymentTicket]

	gateway  StatusClient
	journal  ContinuationJournal
	cache    *cache.Snapshots
	logger   *zap.Logger
	interval time.Duration
	maxTries int
}

// NewConfirmation creates a confirmation for the token extracted from the
// return URL and starts resolving it. A missing token short-circuits to the
// failure view without a single network call.
func NewConfirmation(ctx context.Context, token string, cfg Config) (*Confirmation, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("payment confirmation requires a gateway client")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}

	c := &Confirmation{
		token:    token,
		state:    StateLoading,
		gateway:  cfg.Gateway,
		journal:  cfg.Journal,
		cache:    cfg.Cache,
		logger:   cfg.Logger,
		interval: cfg.Interval,
		maxTries: cfg.MaxAttempts,
	}

	if token == "" {
		c.state = StateFailed
		c.failureMessage = genericFailureMessage
		c.logger.Warn("Payment confirmation opened without a token")
		metrics.TerminalObservations.WithLabelValues("payment", string(models.PaymentFailed)).Inc()
		return c, nil
	}

	// last known snapshot, if any, renders before the first poll settles
	if cached := c.cache.Get(ctx, token); cached != nil {
		c.ticket = cached
	}

	if err := c.start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Confirmation) start(ctx context.Context) error {
	p, err := poller.New(poller.Config[*models.PaymentTicket]{
		Check: func(ctx context.Context) (*models.PaymentTicket, error) {
			metrics.PollsIssued.WithLabelValues("payment").Inc()
			return c.gateway.GetPaymentStatus(ctx, c.token)
		},
		IsTerminal: func(t *models.PaymentTicket) bool {
			return t.Status.Terminal()
		},
		OnObservation: func(t *models.PaymentTicket, terminal bool) {
			c.observe(ctx, t, terminal)
		},
		// payment confirmation fails closed on any transport error
		OnError: func(err error) bool {
			c.fail(err)
			return true
		},
		Interval:    c.interval,
		MaxAttempts: c.maxTries,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.poll = p
	c.mu.Unlock()
	return p.Start(ctx)
}

// observe folds one gateway observation into the view state.
func (c *Confirmation) observe(ctx context.Context, ticket *models.PaymentTicket, terminal bool) {
	c.cache.Put(ctx, ticket)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ticket = ticket
	if !terminal {
		// display fields may already be present while pending
		return
	}

	metrics.TerminalObservations.WithLabelValues("payment", string(ticket.Status)).Inc()

	switch ticket.Status {
	case models.PaymentCompleted:
		c.state = StateSuccess
		c.armContinuation(ctx, ticket)
	case models.PaymentCancelled:
		c.state = StateCancelled
	default:
		c.state = StateFailed
		c.failureMessage = genericFailureMessage
	}

	c.logger.Info("Payment reached terminal status",
		zap.String("token", c.token),
		zap.String("status", string(ticket.Status)),
		zap.String("purpose", string(ticket.Purpose())))
}

// armContinuation prepares the one-shot continuation, unless the journal
// says this token's continuation already fired on a previous visit.
func (c *Confirmation) armContinuation(ctx context.Context, ticket *models.PaymentTicket) {
	if c.journal != nil {
		already, err := c.journal.ContinuationConsumed(ctx, c.token)
		if err != nil {
			c.logger.Warn("Continuation journal read failed",
				zap.String("token", c.token),
				zap.Error(err))
		} else if already {
			c.consumed = true
			return
		}
	}
	c.action = buildAction(ticket)
}

// fail promotes a polling error to the terminal failure view.
func (c *Confirmation) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateFailed
	c.failureMessage = genericFailureMessage
	c.logger.Warn("Payment status poll failed, failing closed",
		zap.String("token", c.token),
		zap.Error(err))
	metrics.TerminalObservations.WithLabelValues("payment", string(models.PaymentFailed)).Inc()
}

// Snapshot returns the current view.
func (c *Confirmation) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		Token:             c.token,
		State:             c.state,
		FailureMessage:    c.failureMessage,
		ContinuationArmed: c.action != nil && !c.consumed,
	}
	if c.ticket != nil {
		ticket := *c.ticket
		v.Ticket = &ticket
	}
	if c.state == StateFailed || c.state == StateCancelled {
		v.RecoveryRoute = RouteHome
	}
	return v
}

// Confirm executes the armed continuation. The first call consumes it and
// returns the action; every later call reports ErrNoContinuation, so a
// double-click can never duplicate the deep link or the navigation.
func (c *Confirmation) Confirm(ctx context.Context) (*Action, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.action == nil || c.consumed {
		return nil, ErrNoContinuation
	}

	if c.journal != nil {
		first, err := c.journal.MarkContinuationConsumed(ctx, c.token, c.action.Purpose)
		if err != nil {
			return nil, err
		}
		if !first {
			c.consumed = true
			return nil, ErrNoContinuation
		}
	}

	c.consumed = true
	action := c.action
	metrics.ContinuationsFired.WithLabelValues(string(action.Purpose)).Inc()
	c.logger.Info("Continuation fired",
		zap.String("token", c.token),
		zap.String("purpose", string(action.Purpose)))
	return action, nil
}

// Stop cancels the poll loop; no further checks are issued.
func (c *Confirmation) Stop() {
	c.mu.Lock()
	p := c.poll
	c.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}

// Done exposes the poll loop's completion, mainly for tests and shutdown.
func (c *Confirmation) Done() <-chan struct{} {
	c.mu.Lock()
	p := c.poll
	c.mu.Unlock()
	if p == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return p.Done()
}
