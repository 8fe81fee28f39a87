package verification_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vecinoapp/vecino-core/internal/gateway"
	"github.com/vecinoapp/vecino-core/internal/journal"
	"github.com/vecinoapp/vecino-core/internal/verification"
	"github.com/vecinoapp/vecino-core/pkg/models"
)

type statusReply struct {
	resp *models.VerificationStatusResponse
	err  error
}

// fakeGateway replays scripted status replies and records submissions.
type fakeGateway struct {
	mu          sync.Mutex
	replies     []statusReply
	statusCalls int
	submitErr   error
	submitCalls int
	lastSubmit  *gateway.SubmitVerificationRequest
}

func (f *fakeGateway) GetVerificationStatus(ctx context.Context, email string) (*models.VerificationStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.statusCalls
	f.statusCalls++
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	r := f.replies[idx]
	return r.resp, r.err
}

func (f *fakeGateway) SubmitVerification(ctx context.Context, req *gateway.SubmitVerificationRequest) (*models.SubmitVerificationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	f.lastSubmit = req
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &models.SubmitVerificationResponse{Message: "ok"}, nil
}

func (f *fakeGateway) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

func newSession(t *testing.T, gw verification.StatusClient, opts ...func(*verification.SessionConfig)) *verification.Session {
	t.Helper()
	cfg := verification.SessionConfig{
		Email:         "ana@example.com",
		UserAgent:     "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X)",
		ViewportWidth: 390,
		PageURL:       "https://app.vecinoapp.cl/registro",
		Gateway:       gw,
		Logger:        zap.NewNop(),
		PollInterval:  time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	s, err := verification.NewSession(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestCapableClassificationIsPure(t *testing.T) {
	desktopUA := "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
	phoneUA := "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X)"

	cases := []struct {
		name  string
		ua    string
		width int
		want  bool
	}{
		{"desktop wide", desktopUA, 1920, false},
		{"desktop narrow window", desktopUA, 800, true},
		{"desktop at threshold", desktopUA, 1024, false},
		{"desktop just below threshold", desktopUA, 1023, true},
		{"phone", phoneUA, 390, true},
		{"phone wide viewport", phoneUA, 1366, true},
		{"android tablet", "Mozilla/5.0 (Linux; Android 13; SM-X906) Mobile", 1280, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// same inputs, same answer, every time
			for i := 0; i < 3; i++ {
				assert.Equal(t, tc.want, verification.Capable(tc.ua, tc.width))
			}
		})
	}
}

func TestHandoffLink(t *testing.T) {
	link, err := verification.HandoffLink("https://app.vecinoapp.cl/registro", "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://app.vecinoapp.cl/registro?email=ana%40example.com&step=2", link)

	// without email only step is overlaid
	link, err = verification.HandoffLink("https://app.vecinoapp.cl/registro", "")
	require.NoError(t, err)
	assert.Equal(t, "https://app.vecinoapp.cl/registro?step=2", link)

	// existing query parameters survive, fragments do not
	link, err = verification.HandoffLink("https://app.vecinoapp.cl/registro?utm=qr#top", "")
	require.NoError(t, err)
	assert.Equal(t, "https://app.vecinoapp.cl/registro?step=2&utm=qr", link)

	_, err = verification.HandoffLink("/registro", "")
	assert.Error(t, err, "relative handoff base must be rejected")
}

func TestHandoffQRProducesPNG(t *testing.T) {
	link, err := verification.HandoffLink("https://app.vecinoapp.cl/registro", "ana@example.com")
	require.NoError(t, err)
	png, err := verification.HandoffQR(link, 256)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestWizardRequiresAllSlotsInOrder(t *testing.T) {
	s := newSession(t, &fakeGateway{replies: []statusReply{{resp: &models.VerificationStatusResponse{Status: models.VerificationNotStarted}}}})

	// attaching before confirming the info step is invalid
	assert.ErrorIs(t, s.Attach([]byte("front")), verification.ErrInvalidTransition)

	require.NoError(t, s.Confirm())
	assert.Equal(t, models.StepDocFront, s.Snapshot().Step)

	// empty artifact never advances
	assert.ErrorIs(t, s.Attach(nil), verification.ErrEmptyArtifact)
	assert.Equal(t, models.StepDocFront, s.Snapshot().Step)

	// submit is unreachable until every slot is filled
	assert.ErrorIs(t, s.Submit(context.Background()), verification.ErrInvalidTransition)

	require.NoError(t, s.Attach([]byte("front")))
	assert.Equal(t, models.StepDocBack, s.Snapshot().Step)
	assert.ErrorIs(t, s.Submit(context.Background()), verification.ErrInvalidTransition)

	require.NoError(t, s.Attach([]byte("back")))
	assert.Equal(t, models.StepLiveness, s.Snapshot().Step)
	assert.ErrorIs(t, s.Submit(context.Background()), verification.ErrInvalidTransition)

	require.NoError(t, s.Attach([]byte("face")))
	assert.Equal(t, models.StepSubmitting, s.Snapshot().Step)

	view := s.Snapshot()
	assert.True(t, view.Captured[models.SlotFront])
	assert.True(t, view.Captured[models.SlotBack])
	assert.True(t, view.Captured[models.SlotFace])

	// once every slot is filled, only submit remains
	assert.ErrorIs(t, s.Back(), verification.ErrInvalidTransition)
}

func TestBackKeepsCapturedArtifacts(t *testing.T) {
	gw := &fakeGateway{replies: []statusReply{{resp: &models.VerificationStatusResponse{Status: models.VerificationNotStarted}}}}
	s := newSession(t, gw)

	require.NoError(t, s.Confirm())
	require.NoError(t, s.Attach([]byte("front-v1")))
	require.NoError(t, s.Attach([]byte("back-v1")))

	// one step back from liveness lands on the back capture, with its
	// artifact intact
	require.NoError(t, s.Back())
	assert.Equal(t, models.StepDocBack, s.Snapshot().Step)
	assert.True(t, s.Snapshot().Captured[models.SlotBack])

	// a second back reaches the front capture for re-shooting
	require.NoError(t, s.Back())
	assert.Equal(t, models.StepDocFront, s.Snapshot().Step)
	assert.True(t, s.Snapshot().Captured[models.SlotFront])

	// re-capture the front slot, then walk forward again
	require.NoError(t, s.Attach([]byte("front-v2")))
	require.NoError(t, s.Attach([]byte("back-v1")))
	require.NoError(t, s.Attach([]byte("face-v1")))

	require.NoError(t, s.Submit(context.Background()))
	assert.Equal(t, []byte("front-v2"), gw.lastSubmit.IDFront)

	// back is invalid outside the two middle capture steps
	assert.ErrorIs(t, s.Back(), verification.ErrInvalidTransition)
}

func TestSubmitSuccessExitsWizardPending(t *testing.T) {
	gw := &fakeGateway{replies: []statusReply{{resp: &models.VerificationStatusResponse{Status: models.VerificationNotStarted}}}}
	s := newSession(t, gw)

	require.NoError(t, s.Confirm())
	require.NoError(t, s.Attach([]byte("front")))
	require.NoError(t, s.Attach([]byte("back")))
	require.NoError(t, s.Attach([]byte("face")))
	require.NoError(t, s.Submit(context.Background()))

	view := s.Snapshot()
	assert.Equal(t, models.VerificationPending, view.Status)
	assert.Equal(t, models.StepInfo, view.Step)
	assert.Empty(t, view.Captured, "artifacts are discarded once submission resolves")

	assert.Equal(t, 1, gw.submitCalls)
	assert.Equal(t, "ana@example.com", gw.lastSubmit.Email)
}

func TestSubmitFailureRecyclesToInfoRejected(t *testing.T) {
	gw := &fakeGateway{
		replies:   []statusReply{{resp: &models.VerificationStatusResponse{Status: models.VerificationNotStarted}}},
		submitErr: errors.New("connection reset"),
	}
	s := newSession(t, gw)

	require.NoError(t, s.Confirm())
	require.NoError(t, s.Attach([]byte("front")))
	require.NoError(t, s.Attach([]byte("back")))
	require.NoError(t, s.Attach([]byte("face")))

	err := s.Submit(context.Background())
	assert.Error(t, err)

	view := s.Snapshot()
	assert.Equal(t, models.StepInfo, view.Step)
	assert.Equal(t, models.VerificationRejected, view.Status)
	assert.Empty(t, view.Captured, "failed submission clears captured artifacts")
}

func TestReconcileFetchFailureResolvesNotStarted(t *testing.T) {
	gw := &fakeGateway{replies: []statusReply{{err: errors.New("unauthenticated")}}}
	s := newSession(t, gw)

	resp, err := s.Reconcile(context.Background())
	require.NoError(t, err, "fetch failure must not surface as an error")
	assert.Equal(t, models.VerificationNotStarted, resp.Status)
	assert.Equal(t, models.VerificationNotStarted, s.Snapshot().Status)
}

func TestReconcileRejectedResetsCursorWithReason(t *testing.T) {
	gw := &fakeGateway{replies: []statusReply{
		{resp: &models.VerificationStatusResponse{Status: models.VerificationRejected, RejectionReason: "blurry photo"}},
	}}
	s := newSession(t, gw)

	require.NoError(t, s.Confirm())
	_, err := s.Reconcile(context.Background())
	require.NoError(t, err)

	view := s.Snapshot()
	assert.Equal(t, models.VerificationRejected, view.Status)
	assert.Equal(t, "blurry photo", view.RejectionReason)
	assert.Equal(t, models.StepInfo, view.Step, "remote status forces the cursor back")
}

func TestVerifiedFiresCompletionExactlyOnce(t *testing.T) {
	gw := &fakeGateway{replies: []statusReply{
		{resp: &models.VerificationStatusResponse{Status: models.VerificationVerified}},
	}}

	var fired int
	s := newSession(t, gw, func(cfg *verification.SessionConfig) {
		cfg.OnVerified = func() { fired++ }
	})

	_, err := s.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, models.VerificationVerified, s.Snapshot().Status)

	// re-entering the reconciliation entry point must not re-fire
	_, err = s.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
}

func TestJournalSuppressesCompletionAcrossSessions(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	store, err := journal.NewStore(db, zap.NewNop())
	require.NoError(t, err)

	gw := &fakeGateway{replies: []statusReply{
		{resp: &models.VerificationStatusResponse{Status: models.VerificationVerified}},
	}}

	var fired int
	open := func() *verification.Session {
		return newSession(t, gw, func(cfg *verification.SessionConfig) {
			cfg.Journal = store
			cfg.OnVerified = func() { fired++ }
		})
	}

	first := open()
	_, err = first.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	// a fresh session for the same subject observes verified but stays quiet
	second := open()
	_, err = second.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
}

func TestWatchPollsUntilVerified(t *testing.T) {
	gw := &fakeGateway{replies: []statusReply{
		{resp: &models.VerificationStatusResponse{Status: models.VerificationNotStarted}},
		{err: errors.New("gateway hiccup")}, // soft, retry-eligible
		{resp: &models.VerificationStatusResponse{Status: models.VerificationPending}},
		{resp: &models.VerificationStatusResponse{Status: models.VerificationVerified}},
	}}

	done := make(chan struct{})
	s := newSession(t, gw, func(cfg *verification.SessionConfig) {
		cfg.OnVerified = func() { close(done) }
	})

	require.NoError(t, s.Watch(context.Background()))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch never observed verified")
	}

	assert.Equal(t, models.VerificationVerified, s.Snapshot().Status)

	calls := gw.calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, gw.calls(), "poll must stop on the terminal observation")
}

func TestConcurrentWatchStartsOneLoop(t *testing.T) {
	gw := &fakeGateway{replies: []statusReply{{resp: &models.VerificationStatusResponse{Status: models.VerificationPending}}}}
	// an hour between checks: every status call seen below is a loop's
	// immediate first check
	s := newSession(t, gw, func(cfg *verification.SessionConfig) {
		cfg.PollInterval = time.Hour
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Watch(context.Background()))
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return gw.calls() >= 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, gw.calls(), "racing Watch calls must share one poll loop")
}

func TestCloseStopsWatch(t *testing.T) {
	gw := &fakeGateway{replies: []statusReply{
		{resp: &models.VerificationStatusResponse{Status: models.VerificationPending}},
	}}
	s := newSession(t, gw)
	require.NoError(t, s.Watch(context.Background()))

	time.Sleep(10 * time.Millisecond)
	s.Close()
	// let any check that raced the teardown settle before sampling
	time.Sleep(10 * time.Millisecond)
	calls := gw.calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, gw.calls(), "no checks after teardown")

	assert.ErrorIs(t, s.Confirm(), verification.ErrSessionClosed)
	_, err := s.Reconcile(context.Background())
	assert.ErrorIs(t, err, verification.ErrSessionClosed)
}
