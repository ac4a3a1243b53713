package kiosk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kozaktomas/attendance-kiosk/internal/capture"
	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/kozaktomas/attendance-kiosk/internal/facegate"
	"github.com/kozaktomas/attendance-kiosk/internal/identity"
	"github.com/kozaktomas/attendance-kiosk/internal/models"
	"github.com/kozaktomas/attendance-kiosk/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type fakeSampler struct {
	mu     sync.Mutex
	noFeed bool
	seq    uint64
	calls  int
}

func (f *fakeSampler) Sample(ctx context.Context) *capture.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.noFeed {
		return nil
	}
	f.seq++
	return &capture.Frame{Seq: f.seq, Data: []byte{0xFF, 0xD8, byte(f.seq)}, Width: 4, Height: 4}
}

func (f *fakeSampler) setNoFeed(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noFeed = v
}

func (f *fakeSampler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGate struct {
	mu        sync.Mutex
	verdict   facegate.Verdict
	available bool
}

func (g *fakeGate) Check(ctx context.Context, jpegData []byte) facegate.Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verdict
}

func (g *fakeGate) Available() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.available
}

func (g *fakeGate) set(v facegate.Verdict, available bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verdict, g.available = v, available
}

// fakeVerifier counts calls and tracks how many chains are outstanding.
type fakeVerifier struct {
	uploads  atomic.Int32
	resolves atomic.Int32
	profiles atomic.Int32

	inflight    atomic.Int32
	maxInflight atomic.Int32

	mu        sync.Mutex
	uploadFn  func(ctx context.Context, attemptID string) error
	resolveFn func(ctx context.Context, attemptID string, call int32) (identity.Match, error)
	profileFn func(ctx context.Context, faceID string) (*models.Profile, error)
	keys      []string
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{
		uploadFn: func(context.Context, string) error { return nil },
		resolveFn: func(context.Context, string, int32) (identity.Match, error) {
			return identity.Match{Matched: true, FaceID: "abc", Message: "Success"}, nil
		},
		profileFn: func(context.Context, string) (*models.Profile, error) {
			return &models.Profile{EmployeeID: "42", Name: "Jana"}, nil
		},
	}
}

func (v *fakeVerifier) Upload(ctx context.Context, attemptID, key string, jpegData []byte) identity.Outcome[struct{}] {
	v.uploads.Add(1)
	n := v.inflight.Add(1)
	for {
		m := v.maxInflight.Load()
		if n <= m || v.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	v.mu.Lock()
	v.keys = append(v.keys, key)
	fn := v.uploadFn
	v.mu.Unlock()

	err := fn(ctx, attemptID)
	if err != nil {
		v.inflight.Add(-1)
	}
	return identity.Outcome[struct{}]{AttemptID: attemptID, Err: err}
}

func (v *fakeVerifier) Resolve(ctx context.Context, attemptID, key string) identity.Outcome[identity.Match] {
	call := v.resolves.Add(1)
	v.mu.Lock()
	fn := v.resolveFn
	v.mu.Unlock()

	m, err := fn(ctx, attemptID, call)
	if err != nil || !m.Matched {
		v.inflight.Add(-1)
	}
	return identity.Outcome[identity.Match]{AttemptID: attemptID, Value: m, Err: err}
}

func (v *fakeVerifier) LookupProfile(ctx context.Context, attemptID, faceID string) identity.Outcome[*models.Profile] {
	v.profiles.Add(1)
	v.mu.Lock()
	fn := v.profileFn
	v.mu.Unlock()

	p, err := fn(ctx, faceID)
	v.inflight.Add(-1)
	return identity.Outcome[*models.Profile]{AttemptID: attemptID, Value: p, Err: err}
}

func (v *fakeVerifier) networkCalls() int32 {
	return v.uploads.Load() + v.resolves.Load() + v.profiles.Load()
}

type recordingFeedback struct {
	mu       sync.Mutex
	statuses []models.Status
	spoken   []string
}

func (r *recordingFeedback) Render(status models.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recordingFeedback) Speak(ctx context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spoken = append(r.spoken, text)
}

func (r *recordingFeedback) states() []models.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.State, 0, len(r.statuses))
	for _, s := range r.statuses {
		out = append(out, s.State)
	}
	return out
}

func (r *recordingFeedback) spokenTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.spoken...)
}

type harness struct {
	c        *Coordinator
	clock    *clockwork.FakeClock
	sampler  *fakeSampler
	gate     *fakeGate
	verifier *fakeVerifier
	feedback *recordingFeedback
	ctx      context.Context
	stop     func()
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		clock:    clockwork.NewFakeClock(),
		sampler:  &fakeSampler{},
		gate:     &fakeGate{verdict: facegate.VerdictFace, available: true},
		verifier: newFakeVerifier(),
		feedback: &recordingFeedback{},
	}
	opts := Options{
		Hold:           10 * time.Second,
		AttemptTimeout: 30 * time.Second,
		Messages:       config.DefaultMessages(),
		Clock:          h.clock,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.c = New(h.sampler, h.gate, h.verifier, h.feedback, opts)

	ctx, cancel := context.WithCancel(context.Background())
	h.ctx = ctx
	runDone := make(chan error, 1)
	go func() { runDone <- h.c.Run(ctx) }()

	var once sync.Once
	h.stop = func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-runDone:
				require.NoError(t, err)
			case <-time.After(waitTimeout):
				t.Fatal("Run did not return after cancel")
			}
		})
	}
	t.Cleanup(h.stop)
	return h
}

// tick runs one cycle and waits for it to settle.
func (h *harness) tick(t *testing.T) scheduler.Report {
	t.Helper()
	return waitReport(t, h.c.Tick(context.Background()))
}

func waitReport(t *testing.T, ch <-chan scheduler.Report) scheduler.Report {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("cycle did not settle")
		return scheduler.Report{}
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		t.Fatal("expected signal")
	}
}

func TestNoFace_NoNetworkCalls(t *testing.T) {
	h := newHarness(t, nil)
	h.gate.set(facegate.VerdictNoFace, true)

	h.tick(t)

	st := h.c.Status()
	assert.Equal(t, models.StateFailed, st.State)
	assert.Equal(t, models.ReasonNoFace, st.Reason)
	assert.Equal(t, config.DefaultMessages().NoFace, st.Message)
	assert.Zero(t, h.verifier.networkCalls())
}

func TestHappyPath_Verified(t *testing.T) {
	h := newHarness(t, nil)
	start := h.clock.Now()

	report := h.tick(t)

	st := h.c.Status()
	require.Equal(t, models.StateVerified, st.State)
	require.NotNil(t, st.Profile)
	assert.Equal(t, "Jana", st.Profile.Name)
	assert.Equal(t, "Hi Jana, welcome to work!", st.Message)
	assert.Equal(t, start.Add(10*time.Second), st.VerifiedUntil)
	assert.Equal(t, st.VerifiedUntil, report.PauseUntil)
	assert.Empty(t, st.AttemptID, "no attempt is active once verified")

	assert.Equal(t, []string{"Hi Jana, welcome to work!"}, h.feedback.spokenTexts())
	assert.Equal(t, []models.State{
		models.StateIdle,
		models.StateLocalGateOpen,
		models.StateUploading,
		models.StateResolving,
		models.StateProfileLookingUp,
		models.StateVerified,
	}, h.feedback.states())

	stats := h.c.Stats()
	assert.Equal(t, uint64(1), stats.Attempts)
	assert.Equal(t, uint64(1), stats.Verified)
}

func TestAlreadyMarkedGreeting(t *testing.T) {
	h := newHarness(t, nil)
	h.verifier.profileFn = func(context.Context, string) (*models.Profile, error) {
		return &models.Profile{Name: "Petr", AttendanceAlreadyMarked: true}, nil
	}

	h.tick(t)
	assert.Equal(t, "Hi Petr, attendance has already been marked.", h.c.Status().Message)
}

func TestVerifiedHold_SuppressesSampling(t *testing.T) {
	h := newHarness(t, nil)
	h.tick(t)
	require.Equal(t, models.StateVerified, h.c.Status().State)
	samples := h.sampler.callCount()
	calls := h.verifier.networkCalls()

	for range 3 {
		h.clock.Advance(3 * time.Second)
		report := h.tick(t)
		assert.Equal(t, h.c.Status().VerifiedUntil, report.PauseUntil)
	}

	assert.Equal(t, models.StateVerified, h.c.Status().State)
	assert.Equal(t, samples, h.sampler.callCount(), "no sampling while verified")
	assert.Equal(t, calls, h.verifier.networkCalls(), "no network calls while verified")
	assert.Len(t, h.feedback.spokenTexts(), 1, "spoken once per verification")

	// Hold expires at exactly verifiedUntil.
	h.clock.Advance(time.Second)
	h.sampler.setNoFeed(true)
	h.tick(t)

	st := h.c.Status()
	assert.Equal(t, models.StateIdle, st.State)
	assert.Nil(t, st.Profile, "profile cleared")
	assert.True(t, st.VerifiedUntil.IsZero())
	assert.Equal(t, samples+1, h.sampler.callCount(), "sampling resumes in the same tick")
}

func TestVerifiedExpired_StartsNewAttempt(t *testing.T) {
	h := newHarness(t, nil)
	h.tick(t)
	h.clock.Advance(10 * time.Second)

	h.tick(t)

	assert.Equal(t, models.StateVerified, h.c.Status().State)
	assert.Equal(t, int32(2), h.verifier.uploads.Load())
	assert.Len(t, h.feedback.spokenTexts(), 2)
}

func TestResolveNoMatch(t *testing.T) {
	h := newHarness(t, nil)
	h.verifier.resolveFn = func(context.Context, string, int32) (identity.Match, error) {
		return identity.Match{Message: "Failed"}, nil
	}

	h.tick(t)

	st := h.c.Status()
	assert.Equal(t, models.StateFailed, st.State)
	assert.Equal(t, models.ReasonAuthFailed, st.Reason)
	assert.Equal(t, "Authentication failed.", st.Message)
	assert.Zero(t, h.verifier.profiles.Load(), "no profile lookup after a failed match")
	assert.Empty(t, h.feedback.spokenTexts())
}

func TestFailureReasons(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name       string
		setup      func(v *fakeVerifier)
		wantReason string
		wantCalls  int32
	}{
		{
			name:       "upload error",
			setup:      func(v *fakeVerifier) { v.uploadFn = func(context.Context, string) error { return boom } },
			wantReason: models.ReasonUploadError,
			wantCalls:  1,
		},
		{
			name: "resolver unreachable",
			setup: func(v *fakeVerifier) {
				v.resolveFn = func(context.Context, string, int32) (identity.Match, error) { return identity.Match{}, boom }
			},
			wantReason: models.ReasonAuthFailed,
			wantCalls:  2,
		},
		{
			name: "employee not found",
			setup: func(v *fakeVerifier) {
				v.profileFn = func(context.Context, string) (*models.Profile, error) { return nil, nil }
			},
			wantReason: models.ReasonEmployeeNotFound,
			wantCalls:  3,
		},
		{
			name: "profile service error",
			setup: func(v *fakeVerifier) {
				v.profileFn = func(context.Context, string) (*models.Profile, error) { return nil, boom }
			},
			wantReason: models.ReasonProfileError,
			wantCalls:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			tt.setup(h.verifier)

			report := h.tick(t)

			st := h.c.Status()
			assert.Equal(t, models.StateFailed, st.State)
			assert.Equal(t, tt.wantReason, st.Reason)
			assert.Nil(t, st.Profile)
			assert.True(t, report.PauseUntil.IsZero())
			assert.Equal(t, tt.wantCalls, h.verifier.networkCalls())
			assert.Equal(t, uint64(1), h.c.Stats().Failed)
		})
	}
}

func TestFailedReturnsToIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.gate.set(facegate.VerdictNoFace, true)
	h.tick(t)
	require.Equal(t, models.StateFailed, h.c.Status().State)

	h.sampler.setNoFeed(true)
	h.tick(t)

	st := h.c.Status()
	assert.Equal(t, models.StateIdle, st.State)
	assert.Empty(t, st.Reason)
	assert.Equal(t, config.DefaultMessages().Looking, st.Message)
}

func TestNoFrame_NoTransition(t *testing.T) {
	h := newHarness(t, nil)
	h.sampler.setNoFeed(true)

	h.tick(t)

	assert.Equal(t, models.StateIdle, h.c.Status().State)
	assert.Equal(t, []models.State{models.StateIdle}, h.feedback.states())
	assert.Zero(t, h.c.Stats().Attempts)
}

func TestTicksDuringChain_AtMostOneChain(t *testing.T) {
	h := newHarness(t, nil)
	resolveStarted := make(chan struct{}, 1)
	release := make(chan struct{})
	h.verifier.resolveFn = func(ctx context.Context, id string, call int32) (identity.Match, error) {
		resolveStarted <- struct{}{}
		<-release
		return identity.Match{Matched: true, FaceID: "abc", Message: "Success"}, nil
	}

	first := h.c.Tick(context.Background())
	waitSignal(t, resolveStarted)

	// A burst of ticks while the first chain is waiting on Resolve.
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case report := <-h.c.Tick(context.Background()):
				assert.True(t, report.PauseUntil.IsZero())
			case <-time.After(waitTimeout):
				assert.Fail(t, "tick during chain did not settle")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, models.StateResolving, h.c.Status().State)
	assert.Equal(t, int32(1), h.verifier.uploads.Load())

	close(release)
	waitReport(t, first)

	assert.Equal(t, models.StateVerified, h.c.Status().State)
	assert.Equal(t, int32(1), h.verifier.uploads.Load())
	assert.Equal(t, int32(1), h.verifier.resolves.Load())
	assert.Equal(t, int32(1), h.verifier.profiles.Load())
	assert.Equal(t, int32(1), h.verifier.maxInflight.Load())
	assert.Len(t, h.feedback.spokenTexts(), 1)
}

func TestStaleResultIsDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	resolveStarted := make(chan struct{}, 2)
	release := make(chan struct{})
	h.verifier.resolveFn = func(ctx context.Context, id string, call int32) (identity.Match, error) {
		resolveStarted <- struct{}{}
		if call == 1 {
			// The slow first resolver ignores cancellation and answers late.
			<-release
			return identity.Match{Matched: true, FaceID: "late", Message: "Success"}, nil
		}
		return identity.Match{Message: "Failed"}, nil
	}

	first := h.c.Tick(context.Background())
	waitSignal(t, resolveStarted)
	firstAttempt := h.c.Status().AttemptID
	require.NotEmpty(t, firstAttempt)

	h.clock.Advance(30 * time.Second)
	waitReport(t, first)

	st := h.c.Status()
	require.Equal(t, models.StateFailed, st.State)
	assert.Equal(t, models.ReasonTimedOut, st.Reason)

	// The next attempt fails its match while the first is still outstanding.
	h.tick(t)
	require.Equal(t, models.StateFailed, h.c.Status().State)
	require.Equal(t, models.ReasonAuthFailed, h.c.Status().Reason)
	rendered := len(h.feedback.states())

	close(release)
	require.Eventually(t, func() bool { return h.c.Stats().Stale == 1 }, waitTimeout, 5*time.Millisecond)

	st = h.c.Status()
	assert.Equal(t, models.StateFailed, st.State)
	assert.Equal(t, models.ReasonAuthFailed, st.Reason)
	assert.Nil(t, st.Profile)
	assert.Zero(t, h.verifier.profiles.Load(), "stale match must not start a profile lookup")
	assert.Len(t, h.feedback.states(), rendered, "stale result must not render")
}

func TestAttemptTimeout_CancelsSteps(t *testing.T) {
	h := newHarness(t, nil)
	uploadStarted := make(chan struct{}, 1)
	uploadCancelled := make(chan struct{})
	h.verifier.uploadFn = func(ctx context.Context, id string) error {
		uploadStarted <- struct{}{}
		<-ctx.Done()
		close(uploadCancelled)
		return ctx.Err()
	}

	first := h.c.Tick(context.Background())
	waitSignal(t, uploadStarted)
	h.clock.Advance(30 * time.Second)
	waitReport(t, first)

	waitSignal(t, uploadCancelled)
	assert.Equal(t, models.ReasonTimedOut, h.c.Status().Reason)
	require.Eventually(t, func() bool { return h.c.Stats().Stale == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, models.ReasonTimedOut, h.c.Status().Reason, "cancelled upload result is stale")
}

func TestDetectionUnavailable_FailClosed(t *testing.T) {
	h := newHarness(t, nil)
	h.gate.set(facegate.VerdictUnavailable, false)

	h.tick(t)

	st := h.c.Status()
	assert.Equal(t, models.StateFailed, st.State)
	assert.Equal(t, models.ReasonDetectionUnavailable, st.Reason)
	assert.False(t, st.DetectionAvailable)
	assert.Zero(t, h.verifier.networkCalls())

	// The status persists across cycles while the capability stays down.
	h.tick(t)
	assert.Equal(t, models.ReasonDetectionUnavailable, h.c.Status().Reason)
	assert.Zero(t, h.verifier.networkCalls())
}

func TestDetectionUnavailable_FailOpen(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.FailOpen = true })
	h.gate.set(facegate.VerdictUnavailable, false)

	h.tick(t)

	st := h.c.Status()
	assert.Equal(t, models.StateVerified, st.State)
	assert.False(t, st.DetectionAvailable)
	assert.Equal(t, int32(1), h.verifier.uploads.Load())
}

func TestFailOpen_StillHonoursNoFace(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.FailOpen = true })
	h.gate.set(facegate.VerdictNoFace, true)

	h.tick(t)
	assert.Equal(t, models.ReasonNoFace, h.c.Status().Reason)
	assert.Zero(t, h.verifier.networkCalls())
}

func TestObjectKeyPerAttempt(t *testing.T) {
	var n atomic.Int32
	h := newHarness(t, func(o *Options) {
		o.NewObjectKey = func() string { return "key-" + string(rune('a'+n.Add(1)-1)) }
	})
	h.verifier.resolveFn = func(context.Context, string, int32) (identity.Match, error) {
		return identity.Match{Message: "Failed"}, nil
	}

	h.tick(t)
	h.tick(t)

	h.verifier.mu.Lock()
	defer h.verifier.mu.Unlock()
	assert.Equal(t, []string{"key-a", "key-b"}, h.verifier.keys)
}

func TestStop_LateResultIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	uploadStarted := make(chan struct{}, 1)
	release := make(chan struct{})
	h.verifier.uploadFn = func(ctx context.Context, id string) error {
		uploadStarted <- struct{}{}
		<-release
		return nil
	}

	h.c.Tick(context.Background())
	waitSignal(t, uploadStarted)
	require.Equal(t, models.StateUploading, h.c.Status().State)

	h.stop()
	close(release)

	// The late upload result must not start a resolve.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, h.verifier.resolves.Load())
	assert.Equal(t, models.StateUploading, h.c.Status().State)

	// Ticks after stop settle immediately and start nothing.
	report := waitReport(t, h.c.Tick(context.Background()))
	assert.True(t, report.PauseUntil.IsZero())
	assert.Equal(t, int32(1), h.verifier.uploads.Load())
}

func TestRun_AnswersQueuedTicksOnExit(t *testing.T) {
	gate := &fakeGate{verdict: facegate.VerdictNoFace, available: true}
	c := New(&fakeSampler{}, gate, newFakeVerifier(), &recordingFeedback{}, Options{
		Messages: config.DefaultMessages(),
		Clock:    clockwork.NewFakeClock(),
	})

	// Queued before the loop runs; the loop sees them together with a
	// cancelled context and may exit before reading any of them.
	var replies []<-chan scheduler.Report
	for range 8 {
		replies = append(replies, c.Tick(context.Background()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Run(ctx))

	for _, reply := range replies {
		waitReport(t, reply)
	}
	waitReport(t, c.Tick(context.Background()))
}

func TestTickRacingShutdown_AlwaysAnswered(t *testing.T) {
	for range 20 {
		h := newHarness(t, nil)
		h.gate.set(facegate.VerdictNoFace, true)

		var wg sync.WaitGroup
		replies := make(chan (<-chan scheduler.Report), 64)
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 16 {
					replies <- h.c.Tick(context.Background())
				}
			}()
		}
		h.stop()
		wg.Wait()
		close(replies)

		for reply := range replies {
			waitReport(t, reply)
		}
	}
}

func TestRunTwice(t *testing.T) {
	h := newHarness(t, nil)
	h.tick(t) // ensures the first Run is active
	assert.ErrorIs(t, h.c.Run(context.Background()), ErrAlreadyRunning)
}

func TestWithScheduler_SelfReschedule(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.AttemptTimeout = 0 })
	h.gate.set(facegate.VerdictNoFace, true)

	s, err := scheduler.New(5*time.Second, scheduler.SelfReschedule, h.clock)
	require.NoError(t, err)
	require.NoError(t, s.Start(h.ctx, h.c))
	defer s.Stop()

	require.Eventually(t, func() bool { return h.sampler.callCount() == 1 }, waitTimeout, 5*time.Millisecond)
	require.NoError(t, h.clock.BlockUntilContext(h.ctx, 1))
	h.clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return h.sampler.callCount() == 2 }, waitTimeout, 5*time.Millisecond)

	assert.Zero(t, h.verifier.networkCalls())
}
