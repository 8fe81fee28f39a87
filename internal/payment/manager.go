package payment

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vecinoapp/vecino-core/internal/cache"
)

// Manager deduplicates confirmations by token: a reloaded return URL
// reattaches to the confirmation already resolving that token instead of
// spawning a second poll loop for it.
type Manager struct {
	mu            sync.Mutex
	confirmations map[string]*Confirmation

	gateway     StatusClient
	journal     ContinuationJournal
	cache       *cache.Snapshots
	logger      *zap.Logger
	interval    time.Duration
	maxAttempts int
}

// ManagerConfig wires the confirmation dependencies.
type ManagerConfig struct {
	Gateway     StatusClient
	Journal     ContinuationJournal
	Cache       *cache.Snapshots
	Logger      *zap.Logger
	Interval    time.Duration
	MaxAttempts int
}

// NewManager creates a confirmation manager
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Manager{
		confirmations: make(map[string]*Confirmation),
		gateway:       cfg.Gateway,
		journal:       cfg.Journal,
		cache:         cfg.Cache,
		logger:        cfg.Logger,
		interval:      cfg.Interval,
		maxAttempts:   cfg.MaxAttempts,
	}, nil
}

// Resolve returns the confirmation for a token, creating and starting one
// on first sight. A tokenless call always yields a fresh, already-failed
// confirmation.
func (m *Manager) Resolve(ctx context.Context, token string) (*Confirmation, error) {
	if token == "" {
		return NewConfirmation(ctx, "", m.config())
	}

	m.mu.Lock()
	if existing, ok := m.confirmations[token]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	c, err := NewConfirmation(ctx, token, m.config())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.confirmations[token]; ok {
		// two requests raced; keep the first loop, drop ours
		c.Stop()
		return existing, nil
	}
	m.confirmations[token] = c
	return c, nil
}

// Get returns the confirmation for a token without creating one.
func (m *Manager) Get(token string) (*Confirmation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.confirmations[token]
	return c, ok
}

// Shutdown stops every live confirmation.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	confirmations := make([]*Confirmation, 0, len(m.confirmations))
	for _, c := range m.confirmations {
		confirmations = append(confirmations, c)
	}
	m.confirmations = make(map[string]*Confirmation)
	m.mu.Unlock()

	for _, c := range confirmations {
		c.Stop()
	}
}

func (m *Manager) config() Config {
	return Config{
		Gateway:     m.gateway,
		Journal:     m.journal,
		Cache:       m.cache,
		Logger:      m.logger,
		Interval:    m.interval,
		MaxAttempts: m.maxAttempts,
	}
}
