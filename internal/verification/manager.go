package verification

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSessionNotFound is returned when a session id is unknown or already
// closed.
var ErrSessionNotFound = errors.New("verification session not found")

// Manager owns the live verification sessions of this process. Each surface
// (device/tab) gets its own session; artifacts are never shared across them.
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session

	gateway  StatusClient
	journal  CompletionJournal
	logger   *zap.Logger
	interval time.Duration
	pageURL  string
	qrSize   int
}

// ManagerConfig wires the session dependencies.
type ManagerConfig struct {
	Gateway      StatusClient
	Journal      CompletionJournal
	Logger       *zap.Logger
	PollInterval time.Duration
	// DefaultPageURL is used for handoff links when the opening request
	// does not carry its own page URL.
	DefaultPageURL string
	QRSize         int
}

// NewManager creates a session manager
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("verification manager requires a gateway client")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Manager{
		sessions: make(map[uuid.UUID]*Session),
		gateway:  cfg.Gateway,
		journal:  cfg.Journal,
		logger:   cfg.Logger,
		interval: cfg.PollInterval,
		pageURL:  cfg.DefaultPageURL,
		qrSize:   cfg.QRSize,
	}, nil
}

// OpenRequest describes a surface opening the verification flow.
type OpenRequest struct {
	Email         string
	UserAgent     string
	ViewportWidth int
	PageURL       string
	OnVerified    func()
}

// Open creates and registers a new session.
func (m *Manager) Open(req OpenRequest) (*Session, error) {
	pageURL := req.PageURL
	if pageURL == "" {
		pageURL = m.pageURL
	}

	s, err := NewSession(SessionConfig{
		Email:         req.Email,
		UserAgent:     req.UserAgent,
		ViewportWidth: req.ViewportWidth,
		PageURL:       pageURL,
		QRSize:        m.qrSize,
		Gateway:       m.gateway,
		Journal:       m.journal,
		Logger:        m.logger,
		OnVerified:    req.OnVerified,
		PollInterval:  m.interval,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close tears one session down and forgets it.
func (m *Manager) Close(id uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// Shutdown closes every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
