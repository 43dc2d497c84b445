package browser

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"visualtweets/internal/model"
)

func TestClassifyFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"context canceled", context.Canceled, FailurePermanent},
		{"deadline exceeded", context.DeadlineExceeded, FailurePermanent},
		{"timeout message", errors.New("navigation timeout after 10s"), FailureTransient},
		{"connection reset", errors.New("read tcp: connection reset by peer"), FailureTransient},
		{"eof", errors.New("unexpected EOF"), FailureTransient},
		{"chrome net error", errors.New("net::ERR_NAME_NOT_RESOLVED"), FailureTransient},
		{"invalid url", errors.New("invalid URL escape"), FailurePermanent},
		{"404", errors.New("page returned 404"), FailurePermanent},
		{"not found", errors.New("tweet not found"), FailurePermanent},
		{"unrecognized error", errors.New("something unexpected happened"), FailureUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyFailure(tc.err); got != tc.want {
				t.Errorf("ClassifyFailure(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifyFailureNilIsTransient(t *testing.T) {
	if got := ClassifyFailure(nil); got != FailureTransient {
		t.Errorf("ClassifyFailure(nil) = %v, want FailureTransient", got)
	}
}

// fakePage implements the page seam scrollAndSnapshot drives: a fixed
// viewport height and a canned sequence of scroll offsets, clamped to the
// last entry once exhausted so tests don't need to size the sequence
// exactly to the number of loop iterations.
type fakePage struct {
	viewport  float64
	offsets   []float64
	idx       int
	shotCount int
}

func (p *fakePage) viewportHeight() (float64, error) { return p.viewport, nil }

func (p *fakePage) scrollOffset() (float64, error) {
	o := p.offsets[p.idx]
	if p.idx < len(p.offsets)-1 {
		p.idx++
	}
	return o, nil
}

func (p *fakePage) scrollBy(int) error { return nil }

func (p *fakePage) screenshot() ([]byte, error) {
	p.shotCount++
	return []byte("fake-png-bytes"), nil
}

func noopSleep(context.Context, time.Duration) error { return nil }

// TestScrollTerminatesWithinTwoIterationsWhenNoProgress covers spec.md §8
// property 7: a page whose scroll offset never advances stops after two
// consecutive non-advancing scrolls and yields only the initial screenshot.
func TestScrollTerminatesWithinTwoIterationsWhenNoProgress(t *testing.T) {
	p := &fakePage{viewport: 1000, offsets: []float64{0, 0, 0, 0}}

	shots, err := scrollAndSnapshot(context.Background(), p, t.TempDir(), "post", 10, time.Millisecond, model.CropConfig{}, logrus.New(), noopSleep)
	if err != nil {
		t.Fatalf("scrollAndSnapshot: %v", err)
	}
	if len(shots) != 1 {
		t.Errorf("shots = %d, want 1 (top-of-page only)", len(shots))
	}
	if p.shotCount != 1 {
		t.Errorf("screenshot() called %d times, want 1", p.shotCount)
	}
}

// TestScrollSuppressesScreenshotsBelowAdvanceThreshold covers spec.md §8
// property 8: scroll advances under 30% of viewport height never produce
// an additional screenshot, even though the offset keeps changing.
func TestScrollSuppressesScreenshotsBelowAdvanceThreshold(t *testing.T) {
	// viewport 1000 -> suppression threshold 300px; each step advances
	// only 100px, then flatlines so the loop terminates via no-progress.
	p := &fakePage{viewport: 1000, offsets: []float64{0, 100, 200, 200, 200}}

	shots, err := scrollAndSnapshot(context.Background(), p, t.TempDir(), "post", 10, time.Millisecond, model.CropConfig{}, logrus.New(), noopSleep)
	if err != nil {
		t.Fatalf("scrollAndSnapshot: %v", err)
	}
	if len(shots) != 1 {
		t.Errorf("shots = %d, want 1 (suppressed below threshold)", len(shots))
	}
	if p.shotCount != 1 {
		t.Errorf("screenshot() called %d times, want 1", p.shotCount)
	}
}

// fakeSession is a trivially-successful session: navigation is a no-op and
// its page never scrolls, so scrollAndSnapshot yields exactly one shot.
type fakeSession struct{}

func (fakeSession) setZoom(int) error { return nil }
func (fakeSession) navigate(context.Context, string, time.Duration) error {
	return nil
}
func (fakeSession) waitLoad() error { return nil }
func (fakeSession) page() page {
	return &fakePage{viewport: 1000, offsets: []float64{0, 0, 0}}
}
func (fakeSession) close() error { return nil }

// recordingSleep records every requested duration instead of waiting.
func recordingSleep(sleeps *[]time.Duration) sleepFunc {
	return func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
}

// TestCaptureRetriesTransientFailuresThenSucceeds covers spec.md §8
// property 5 (transient half) and scenario E6: two failing session
// constructions followed by a successful third yield one successful
// capture, exactly three construction attempts, and two backoff sleeps of
// d and d*b.
func TestCaptureRetriesTransientFailuresThenSucceeds(t *testing.T) {
	attempts := 0
	factory := func() (session, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection timeout")
		}
		return fakeSession{}, nil
	}
	fallbackCalls := 0
	fallback := func() (session, error) {
		fallbackCalls++
		return fakeSession{}, nil
	}
	var sleeps []time.Duration

	d := 5 * time.Millisecond
	r := newRodRenderer(Config{MaxRetries: 3, RetryDelay: d, RetryBackoff: 2.0}, logrus.New(), factory, fallback, recordingSleep(&sleeps))

	shots, err := r.Capture(context.Background(), "https://x.com/user/status/1928105439368995193", t.TempDir(), "post", 10, 60, model.CropConfig{})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(shots) != 1 {
		t.Errorf("shots = %d, want 1", len(shots))
	}
	if attempts != 3 {
		t.Errorf("session construction attempts = %d, want 3", attempts)
	}
	if fallbackCalls != 0 {
		t.Errorf("fallback constructions = %d, want 0 (primary succeeded)", fallbackCalls)
	}
	// The injected sleeper also serves the successful attempt's post-load
	// dwell (3s default) and its two scroll dwells (2s default) before the
	// page is found not to scroll, so the two backoff sleeps precede three
	// dwell sleeps.
	if len(sleeps) != 5 {
		t.Fatalf("sleeps = %v, want 2 backoff sleeps followed by 3 dwell sleeps", sleeps)
	}
	if sleeps[0] != d {
		t.Errorf("sleeps[0] = %v, want %v", sleeps[0], d)
	}
	wantSecond := time.Duration(float64(d) * 2.0)
	if sleeps[1] != wantSecond {
		t.Errorf("sleeps[1] = %v, want %v", sleeps[1], wantSecond)
	}
	for i, want := range []time.Duration{3 * time.Second, 2 * time.Second, 2 * time.Second} {
		if sleeps[2+i] != want {
			t.Errorf("dwell sleeps[%d] = %v, want %v", 2+i, sleeps[2+i], want)
		}
	}
}

// TestCapturePermanentFailureAttemptsExactlyOnce covers spec.md §8
// property 5 (permanent half): a permanent-substring failure fails fast
// after exactly one session construction, with no retries and no fallback.
func TestCapturePermanentFailureAttemptsExactlyOnce(t *testing.T) {
	attempts := 0
	factory := func() (session, error) {
		attempts++
		return nil, errors.New("chrome executable not found")
	}
	fallbackCalls := 0
	fallback := func() (session, error) {
		fallbackCalls++
		return fakeSession{}, nil
	}
	var sleeps []time.Duration

	r := newRodRenderer(Config{MaxRetries: 3, RetryDelay: time.Millisecond, RetryBackoff: 2.0}, logrus.New(), factory, fallback, recordingSleep(&sleeps))

	if _, err := r.Capture(context.Background(), "https://x.com/user/status/1", t.TempDir(), "post", 10, 60, model.CropConfig{}); err == nil {
		t.Fatal("expected Capture to fail fast on a permanent error")
	}
	if attempts != 1 {
		t.Errorf("session construction attempts = %d, want 1", attempts)
	}
	if fallbackCalls != 0 {
		t.Errorf("fallback constructions = %d, want 0", fallbackCalls)
	}
	if len(sleeps) != 0 {
		t.Errorf("backoff sleeps = %v, want none", sleeps)
	}
}

// TestCaptureBackoffCadenceMatchesExponentialFormula covers spec.md §8
// property 6: sleeps between attempts follow delay*backoff^attempt, with
// no sleep issued after the final attempt.
func TestCaptureBackoffCadenceMatchesExponentialFormula(t *testing.T) {
	attempts := 0
	factory := func() (session, error) {
		attempts++
		return nil, errors.New("timeout waiting for article element")
	}
	fallback := func() (session, error) { return fakeSession{}, nil }
	var sleeps []time.Duration

	d := 10 * time.Millisecond
	b := 3.0
	r := newRodRenderer(Config{MaxRetries: 4, RetryDelay: d, RetryBackoff: b}, logrus.New(), factory, fallback, recordingSleep(&sleeps))

	if _, err := r.Capture(context.Background(), "https://x.com/user/status/1", t.TempDir(), "post", 10, 60, model.CropConfig{}); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if attempts != 5 {
		t.Fatalf("session construction attempts = %d, want MaxRetries+1=5", attempts)
	}
	// Four backoff sleeps (none after the last primary attempt), then the
	// fallback session's post-load dwell and its two scroll dwells.
	if len(sleeps) != 7 {
		t.Fatalf("sleeps = %v, want 4 backoff sleeps (no sleep after the last attempt) followed by 3 dwell sleeps", sleeps)
	}
	for i, got := range sleeps[:4] {
		want := time.Duration(float64(d) * math.Pow(b, float64(i)))
		if got != want {
			t.Errorf("sleeps[%d] = %v, want %v", i, got, want)
		}
	}
	for i, want := range []time.Duration{3 * time.Second, 2 * time.Second, 2 * time.Second} {
		if sleeps[4+i] != want {
			t.Errorf("dwell sleeps[%d] = %v, want %v", 4+i, sleeps[4+i], want)
		}
	}
}
