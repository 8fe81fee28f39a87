// Package verification drives the identity-verification handoff: device
// classification, the five-step document capture wizard, the single
// multipart submission, and reconciliation against the remote verification
// status. The wizard cursor is owned locally; the verification status is
// owned by the remote gateway and can force-reset the cursor, never the
// other way around.
package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vecinoapp/vecino-core/internal/gateway"
	"github.com/vecinoapp/vecino-core/internal/poller"
	"github.com/vecinoapp/vecino-core/pkg/metrics"
	"github.com/vecinoapp/vecino-core/pkg/models"
)

var (
	// ErrSessionClosed is returned by every operation after Close.
	ErrSessionClosed = errors.New("verification session closed")
	// ErrInvalidTransition is returned for a wizard move that the current
	// step does not allow.
	ErrInvalidTransition = errors.New("invalid capture step transition")
	// ErrEmptyArtifact is returned when an attach carries no bytes.
	ErrEmptyArtifact = errors.New("artifact is empty")
)

// StatusClient is the slice of the gateway the controller consumes.
type StatusClient interface {
	GetVerificationStatus(ctx context.Context, email string) (*models.VerificationStatusResponse, error)
	SubmitVerification(ctx context.Context, req *gateway.SubmitVerificationRequest) (*models.SubmitVerificationResponse, error)
}

// CompletionJournal records fired completions so re-entry never fires the
// side effect twice. May be absent; the session then falls back to its
// in-memory flag alone.
type CompletionJournal interface {
	MarkVerificationCompleted(ctx context.Context, subject string) (bool, error)
	VerificationCompleted(ctx context.Context, subject string) (bool, error)
}

// SessionConfig describes one verification surface being opened.
type SessionConfig struct {
	Email         string
	UserAgent     string
	ViewportWidth int

	// PageURL is the surface's own origin+path; the handoff link overlays
	// query parameters on it.
	PageURL string
	QRSize  int

	Gateway StatusClient
	Journal CompletionJournal
	Logger  *zap.Logger

	// OnVerified runs exactly once when the remote status is observed
	// verified.
	OnVerified func()

	PollInterval time.Duration
}

// SessionView is a read-only snapshot of a session.
type SessionView struct {
	ID              uuid.UUID                  `json:"sessionId"`
	Email           string                     `json:"email,omitempty"`
	Capable         bool                       `json:"capable"`
	HandoffURL      string                     `json:"handoffUrl"`
	Status          models.VerificationStatus  `json:"status"`
	RejectionReason string                     `json:"rejectionReason,omitempty"`
	Step            models.CaptureStep         `json:"step"`
	Captured        map[models.ArtifactSlot]bool `json:"captured"`
}

// Session is one verification flow instance. Captured artifacts live only in
// this session's memory and are discarded once submission resolves.
type Session struct {
	mu sync.Mutex

	id         uuid.UUID
	email      string
	userAgent  string
	capable    bool
	handoffURL string
	qrSize     int

	status models.VerificationStatus
	reason string
	step   models.CaptureStep

	artifacts map[models.ArtifactSlot][]byte

	completed bool
	closed    bool

	gateway    StatusClient
	journal    CompletionJournal
	logger     *zap.Logger
	onVerified func()

	interval time.Duration
	watch    *poller.Poller[*models.VerificationStatusResponse]
}

// NewSession classifies the device, builds the handoff link and opens the
// wizard at the info step.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("verification session requires a gateway client")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("verification session requires a positive poll interval")
	}

	handoffURL, err := HandoffLink(cfg.PageURL, cfg.Email)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:         uuid.New(),
		email:      cfg.Email,
		userAgent:  cfg.UserAgent,
		capable:    Capable(cfg.UserAgent, cfg.ViewportWidth),
		handoffURL: handoffURL,
		qrSize:     cfg.QRSize,
		status:     models.VerificationNotStarted,
		step:       models.StepInfo,
		artifacts:  make(map[models.ArtifactSlot][]byte),
		gateway:    cfg.Gateway,
		journal:    cfg.Journal,
		logger:     cfg.Logger,
		onVerified: cfg.OnVerified,
		interval:   cfg.PollInterval,
	}

	s.logger.Info("Verification session opened",
		zap.String("session_id", s.id.String()),
		zap.Bool("capable", s.capable),
		zap.String("email", s.email))

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	captured := make(map[models.ArtifactSlot]bool, len(s.artifacts))
	for slot := range s.artifacts {
		captured[slot] = true
	}
	return SessionView{
		ID:              s.id,
		Email:           s.email,
		Capable:         s.capable,
		HandoffURL:      s.handoffURL,
		Status:          s.status,
		RejectionReason: s.reason,
		Step:            s.step,
		Captured:        captured,
	}
}

// HandoffQR renders the session's handoff link as a PNG.
func (s *Session) HandoffQR() ([]byte, error) {
	s.mu.Lock()
	link, size := s.handoffURL, s.qrSize
	s.mu.Unlock()
	return HandoffQR(link, size)
}

// Reclassify re-runs device classification for a new viewport width, the
// way a resize listener would. It is inert after Close.
func (s *Session) Reclassify(viewportWidth int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.capable
	}
	s.capable = Capable(s.userAgent, viewportWidth)
	return s.capable
}

// Confirm acknowledges the info step and opens the front-document capture.
func (s *Session) Confirm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.step != models.StepInfo {
		return fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, s.step)
	}
	s.step = models.StepDocFront
	return nil
}

// Attach stores an artifact in the current step's slot and advances the
// wizard. Re-attaching after going back overwrites only the current slot.
func (s *Session) Attach(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if len(data) == 0 {
		return ErrEmptyArtifact
	}

	slot := s.step.Slot()
	if slot == "" {
		return fmt.Errorf("%w: attach at %s", ErrInvalidTransition, s.step)
	}
	s.artifacts[slot] = data

	switch s.step {
	case models.StepDocFront:
		s.step = models.StepDocBack
	case models.StepDocBack:
		s.step = models.StepLiveness
	case models.StepLiveness:
		s.step = models.StepSubmitting
	}
	return nil
}

// Back moves the wizard one capture step backwards without touching any
// artifact already captured; the user may only re-capture the slot they
// land on.
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	switch s.step {
	case models.StepDocBack:
		s.step = models.StepDocFront
	case models.StepLiveness:
		s.step = models.StepDocBack
	default:
		return fmt.Errorf("%w: back from %s", ErrInvalidTransition, s.step)
	}
	return nil
}

// Submit sends the three captured artifacts and the subject email as one
// multipart request. On success the wizard exits with the remote status
// pending; on failure it recycles to the info step with status rejected so
// the user can retry. Either way the artifacts are discarded.
func (s *Session) Submit(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.step != models.StepSubmitting {
		step := s.step
		s.mu.Unlock()
		return fmt.Errorf("%w: submit from %s", ErrInvalidTransition, step)
	}
	req := &gateway.SubmitVerificationRequest{
		IDFront:   s.artifacts[models.SlotFront],
		IDBack:    s.artifacts[models.SlotBack],
		FacePhoto: s.artifacts[models.SlotFace],
		Email:     s.email,
	}
	s.mu.Unlock()

	resp, err := s.gateway.SubmitVerification(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// teardown raced the upload; drop the outcome
		return ErrSessionClosed
	}

	s.artifacts = make(map[models.ArtifactSlot][]byte)
	s.step = models.StepInfo

	if err != nil {
		s.status = models.VerificationRejected
		s.reason = "upload failed"
		s.logger.Warn("Verification submit failed",
			zap.String("session_id", s.id.String()),
			zap.Error(err))
		return fmt.Errorf("submit verification: %w", err)
	}

	s.status = models.VerificationPending
	s.reason = ""
	s.logger.Info("Verification documents submitted",
		zap.String("session_id", s.id.String()),
		zap.String("message", resp.Message))
	return nil
}

// Reconcile fetches the remote status and applies it. A failed fetch
// resolves to not_started rather than an error: the subject may simply not
// be authenticated yet, and that must never surface as a failure.
func (s *Session) Reconcile(ctx context.Context) (*models.VerificationStatusResponse, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	email := s.email
	s.mu.Unlock()

	metrics.PollsIssued.WithLabelValues("verification").Inc()
	resp, err := s.gateway.GetVerificationStatus(ctx, email)
	if err != nil {
		s.logger.Debug("Verification status fetch failed, treating as not started",
			zap.String("session_id", s.id.String()),
			zap.Error(err))
		resp = &models.VerificationStatusResponse{Status: models.VerificationNotStarted}
	}

	s.apply(ctx, resp)
	return resp, nil
}

// Watch polls the remote status until it turns verified. Fetch errors are
// soft here, unlike payment polling: the loop keeps going. Used by the
// incapable device showing the handoff code while a second device captures.
func (s *Session) Watch(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.watch != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	p, err := poller.New(poller.Config[*models.VerificationStatusResponse]{
		Check: func(ctx context.Context) (*models.VerificationStatusResponse, error) {
			metrics.PollsIssued.WithLabelValues("verification").Inc()
			return s.gateway.GetVerificationStatus(ctx, s.email)
		},
		IsTerminal: func(resp *models.VerificationStatusResponse) bool {
			return resp.Status.Terminal()
		},
		OnObservation: func(resp *models.VerificationStatusResponse, terminal bool) {
			s.apply(ctx, resp)
		},
		OnError: func(err error) bool {
			s.logger.Debug("Verification watch poll failed, retrying",
				zap.String("session_id", s.id.String()),
				zap.Error(err))
			return false
		},
		Interval: s.interval,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.watch != nil {
		// another caller raced us here; their loop is the one Close knows,
		// so ours never starts
		s.mu.Unlock()
		return nil
	}
	s.watch = p
	s.mu.Unlock()

	return p.Start(ctx)
}

// Close tears the session down: the watch poll stops, the resize
// reclassification goes inert and the captured artifacts are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	watch := s.watch
	s.watch = nil
	s.artifacts = nil
	s.closed = true
	s.mu.Unlock()

	if watch != nil {
		watch.Stop()
	}
}

// apply folds a remote observation into local state. The remote status may
// force the wizard cursor back to info; the cursor never writes back.
func (s *Session) apply(ctx context.Context, resp *models.VerificationStatusResponse) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	switch resp.Status {
	case models.VerificationVerified:
		s.status = models.VerificationVerified
		s.reason = ""
		s.artifacts = make(map[models.ArtifactSlot][]byte)
		fire := !s.completed
		s.completed = true
		s.mu.Unlock()
		if fire {
			s.fireCompletion(ctx)
		}
		return
	case models.VerificationRejected:
		s.status = models.VerificationRejected
		s.reason = resp.RejectionReason
		s.step = models.StepInfo
	case models.VerificationPending:
		s.status = models.VerificationPending
		s.reason = ""
	default:
		s.status = models.VerificationNotStarted
	}
	s.mu.Unlock()
}

// fireCompletion runs the verified side effect at most once per subject,
// consulting the journal so a fresh session for an already-verified subject
// stays quiet.
func (s *Session) fireCompletion(ctx context.Context) {
	first := true
	if s.journal != nil && s.email != "" {
		var err error
		first, err = s.journal.MarkVerificationCompleted(ctx, s.email)
		if err != nil {
			s.logger.Warn("Completion journal write failed",
				zap.String("session_id", s.id.String()),
				zap.Error(err))
			// fall back to the in-memory flag, which already gated us
			first = true
		}
	}

	metrics.TerminalObservations.WithLabelValues("verification", string(models.VerificationVerified)).Inc()
	if first && s.onVerified != nil {
		s.onVerified()
	}
	s.logger.Info("Verification completed",
		zap.String("session_id", s.id.String()),
		zap.Bool("side_effect_fired", first))
}
