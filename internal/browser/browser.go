// Package browser implements the Browser Renderer (C2): it launches and
// supervises headless browser sessions, navigates to post URLs, and
// performs progressive scroll-and-screenshot capture with optional
// percentage-based cropping.
package browser

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"visualtweets/internal/model"
)

// MinScrollAdvanceRatio is the fraction of viewport height a scroll must
// advance by before a new screenshot is taken, to avoid near-duplicate
// frames. Flagged in spec.md §9 as a tunable heuristic, not a measured
// platform constant.
const MinScrollAdvanceRatio = 0.3

// ScrollAdvanceRatio is the fraction of viewport height scrolled per step.
const ScrollAdvanceRatio = 0.8

// maxNoProgressAttempts is how many consecutive non-advancing scrolls are
// tolerated before the loop gives up (testable property 7).
const maxNoProgressAttempts = 2

// Renderer is the capability the Capture Orchestrator depends on.
type Renderer interface {
	Capture(ctx context.Context, url string, outDir, filePrefix string, maxScreenshots int, zoomPercent int, crop model.CropConfig) ([]string, error)
	Close() error
}

// FailureClass categorizes a browser error for retry purposes.
type FailureClass int

const (
	// FailureTransient errors are worth retrying with backoff: timeouts,
	// connection resets, temporary navigation failures.
	FailureTransient FailureClass = iota
	// FailurePermanent errors should fail fast: malformed URLs, pages
	// that 404, a missing, uninstalled or non-executable browser binary.
	FailurePermanent
	// FailureUnknown errors are treated as transient but logged at WARN
	// so operators can tell the categorizer apart from a confirmed
	// transient failure (spec.md §5).
	FailureUnknown
)

// ClassifyFailure inspects err and categorizes it. The bare
// context.Canceled and context.DeadlineExceeded values are permanent
// (retrying won't help once the caller has given up); a wrapped error
// whose text reads "context deadline exceeded", such as a navigation
// timeout, is transient. Other errors are matched against known-transient
// substrings, then known-permanent ones, and default to FailureUnknown.
func ClassifyFailure(err error) FailureClass {
	if err == nil {
		return FailureTransient
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return FailurePermanent
	}
	switch err.(type) {
	case *rod.NavigationError:
		return FailureTransient
	}
	msg := err.Error()
	for _, s := range []string{"timeout", "connection reset", "EOF", "net::ERR", "context deadline exceeded", "session not created"} {
		if contains(msg, s) {
			return FailureTransient
		}
	}
	for _, s := range []string{"invalid URL", "404", "not found", "permission denied", "not installed", "executable"} {
		if contains(msg, s) {
			return FailurePermanent
		}
	}
	return FailureUnknown
}

func contains(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// Config configures session lifecycle and retry behavior.
type Config struct {
	MaxRetries        int
	RetryDelay        time.Duration
	RetryBackoff      float64
	NavigationTimeout time.Duration
	PostLoadDwell     time.Duration
	ScrollDwell       time.Duration
}

// page is the minimal seam scrollAndSnapshot needs from a live browser
// page: read scroll geometry, scroll, and grab a frame. A live rodPage
// backs it in production; tests drive scroll termination (property 7)
// and suppression (property 8) against a fake.
type page interface {
	viewportHeight() (float64, error)
	scrollOffset() (float64, error)
	scrollBy(px int) error
	screenshot() ([]byte, error)
}

// session is one short-lived browser+page pair. spec.md §4.2 requires
// "each capture acquires a fresh session" — a session is constructed,
// used for exactly one navigate-and-capture attempt, and torn down,
// never reused across attempts or across Capture calls.
type session interface {
	setZoom(percent int) error
	navigate(ctx context.Context, url string, navTimeout time.Duration) error
	waitLoad() error
	page() page
	close() error
}

// sessionFactory constructs a new session. Retry/backoff (spec.md §8
// properties 5, 6, and scenario E6) gates calls to this factory: each
// retry attempt is one factory call, categorized-failure triage decides
// whether to retry, and the fallback factory is used once the primary
// is exhausted.
type sessionFactory func() (session, error)

// sleepFunc pauses for d, or returns early on ctx cancellation. Tests
// substitute a recording fake so backoff cadence (property 6, E6) can be
// asserted without real waits.
type sleepFunc func(ctx context.Context, d time.Duration) error

func ctxSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// RodRenderer implements Renderer over go-rod, grounded on the launcher/
// rod.Browser/rod.Page lifecycle in screenshot.go and the retry/fallback
// idiom in browser_client.go.
type RodRenderer struct {
	cfg             Config
	logger          *logrus.Logger
	factory         sessionFactory
	fallbackFactory sessionFactory
	sleep           sleepFunc
}

// NewRodRenderer builds a Renderer that launches a fresh headless
// Chromium session for every capture attempt, per spec.md §4.2.
func NewRodRenderer(cfg Config, logger *logrus.Logger) (*RodRenderer, error) {
	return newRodRenderer(cfg, logger, newRodSession, newFallbackRodSession, ctxSleep), nil
}

// newRodRenderer is the fully-injectable constructor tests use to swap in
// fake session factories and a fake sleeper.
func newRodRenderer(cfg Config, logger *logrus.Logger, factory, fallbackFactory sessionFactory, sleep sleepFunc) *RodRenderer {
	return &RodRenderer{cfg: cfg, logger: logger, factory: factory, fallbackFactory: fallbackFactory, sleep: sleep}
}

// newRodSession launches a fully-instrumented headless Chromium process
// and opens a blank page, matching the launcher/rod.Browser lifecycle in
// screenshot.go.
func newRodSession() (session, error) {
	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Leakless(false)
	return launchRodSession(l)
}

// newFallbackRodSession launches a bare-default Chromium process (no
// extra flags, no user-agent override), used once the primary session's
// retry budget is exhausted (spec.md §4.2 "fallback configuration").
func newFallbackRodSession() (session, error) {
	return launchRodSession(launcher.New().Headless(true))
}

func launchRodSession(l *launcher.Launcher) (session, error) {
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("browser: launch: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	p, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	return &rodSession{browser: browser, p: p}, nil
}

// rodSession adapts a live rod.Browser/rod.Page pair to the session
// interface.
type rodSession struct {
	browser *rod.Browser
	p       *rod.Page
}

func (s *rodSession) setZoom(percent int) error {
	if percent <= 0 {
		return nil
	}
	_, err := s.p.Eval(fmt.Sprintf(`() => document.body.style.zoom = "%d%%"`, percent))
	return err
}

func (s *rodSession) navigate(ctx context.Context, url string, navTimeout time.Duration) error {
	s.p = s.p.Context(ctx).Timeout(navTimeout)
	return s.p.Navigate(url)
}

func (s *rodSession) waitLoad() error {
	return s.p.WaitLoad()
}

func (s *rodSession) page() page {
	return &rodPage{p: s.p}
}

func (s *rodSession) close() error {
	if s.browser == nil {
		return nil
	}
	err := s.browser.Close()
	s.browser = nil
	return err
}

// rodPage adapts a live rod.Page to the page interface.
type rodPage struct {
	p *rod.Page
}

func (rp *rodPage) viewportHeight() (float64, error) {
	return rp.evalNumber(`() => window.innerHeight`)
}

func (rp *rodPage) scrollOffset() (float64, error) {
	return rp.evalNumber(`() => window.pageYOffset`)
}

func (rp *rodPage) scrollBy(px int) error {
	_, err := rp.p.Eval(fmt.Sprintf(`() => window.scrollBy(0, %d)`, px))
	return err
}

func (rp *rodPage) screenshot() ([]byte, error) {
	return rp.p.Screenshot(false, nil)
}

func (rp *rodPage) evalNumber(js string) (float64, error) {
	res, err := rp.p.Eval(js)
	if err != nil {
		return 0, err
	}
	return res.Value.Num(), nil
}

// Capture navigates to url and returns up to maxScreenshots PNG file
// paths under outDir, named "<filePrefix>_page_NN.png". zoomPercent sets
// the page's CSS zoom; crop, if enabled, is applied to every frame.
//
// Each attempt constructs a brand-new session via r.factory (spec.md
// §4.2: "each capture acquires a fresh session") and tears it down
// before the next attempt. A categorized-failure triage (ClassifyFailure)
// gates retries: permanent failures fail fast after exactly one
// construction (property 5); transient/unknown failures are retried
// with exponential backoff delay*backoff^attempt up to MaxRetries
// (property 6), after which a bare-default fallback session is tried
// once more (E6).
func (r *RodRenderer) Capture(ctx context.Context, url string, outDir, filePrefix string, maxScreenshots int, zoomPercent int, crop model.CropConfig) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("browser: create output dir: %w", err)
	}

	delay := r.cfg.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	backoff := r.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2.0
	}
	maxRetries := r.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		shots, err := r.captureOnce(ctx, r.factory, url, outDir, filePrefix, maxScreenshots, zoomPercent, crop)
		if err == nil {
			return shots, nil
		}
		lastErr = err

		class := ClassifyFailure(err)
		fields := logrus.Fields{"component": "browser", "url": url, "attempt": attempt, "error": err.Error()}
		if class == FailurePermanent {
			r.logger.WithFields(fields).Error("browser: permanent failure, not retrying")
			return nil, err
		}
		if class == FailureUnknown {
			r.logger.WithFields(fields).Warn("browser: unknown failure class, treating as transient")
		} else {
			r.logger.WithFields(fields).Warn("browser: transient failure, retrying")
		}

		if attempt == maxRetries {
			break
		}

		wait := time.Duration(float64(delay) * math.Pow(backoff, float64(attempt)))
		if err := r.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	r.logger.WithFields(logrus.Fields{"component": "browser", "url": url}).Warn("browser: retries exhausted, falling back to bare-default session")
	shots, err := r.captureOnce(ctx, r.fallbackFactory, url, outDir, filePrefix, maxScreenshots, zoomPercent, crop)
	if err != nil {
		return nil, fmt.Errorf("browser: fallback session failed: %w (last capture error: %v)", err, lastErr)
	}
	return shots, nil
}

// captureOnce constructs exactly one session from factory, drives one
// navigate-dwell-scroll-snapshot pass, and unconditionally tears the
// session down on every exit path.
func (r *RodRenderer) captureOnce(ctx context.Context, factory sessionFactory, url string, outDir, filePrefix string, maxScreenshots int, zoomPercent int, crop model.CropConfig) ([]string, error) {
	sess, err := factory()
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sess.close(); cerr != nil {
			r.logger.WithFields(logrus.Fields{"component": "browser", "error": cerr.Error()}).Warn("browser: session close failed")
		}
	}()

	navTimeout := r.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 10 * time.Second
	}
	postLoadDwell := r.cfg.PostLoadDwell
	if postLoadDwell <= 0 {
		postLoadDwell = 3 * time.Second
	}
	scrollDwell := r.cfg.ScrollDwell
	if scrollDwell <= 0 {
		scrollDwell = 2 * time.Second
	}

	if err := sess.setZoom(zoomPercent); err != nil {
		r.logger.WithFields(logrus.Fields{"component": "browser", "error": err.Error()}).Warn("browser: set zoom failed")
	}

	if err := sess.navigate(ctx, url, navTimeout); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := sess.waitLoad(); err != nil {
		return nil, fmt.Errorf("browser: wait load %s: %w", url, err)
	}

	if err := r.sleep(ctx, postLoadDwell); err != nil {
		return nil, err
	}

	return scrollAndSnapshot(ctx, sess.page(), outDir, filePrefix, maxScreenshots, scrollDwell, crop, r.logger, r.sleep)
}

// scrollAndSnapshot implements the progressive scroll-and-screenshot
// algorithm: screenshot at top, then repeatedly scroll by 80% of viewport
// height, waiting scrollDwell between scrolls, taking a new screenshot
// only when the advance is at least MinScrollAdvanceRatio of viewport height,
// and stopping after two consecutive non-advancing scrolls or once
// maxScreenshots is reached.
func scrollAndSnapshot(ctx context.Context, p page, outDir, filePrefix string, maxScreenshots int, scrollDwell time.Duration, crop model.CropConfig, logger *logrus.Logger, sleep sleepFunc) ([]string, error) {
	if maxScreenshots <= 0 {
		maxScreenshots = 10
	}

	viewportHeight, err := p.viewportHeight()
	if err != nil {
		return nil, fmt.Errorf("browser: read viewport height: %w", err)
	}

	var shots []string

	first, err := snapshotWithLog(p, outDir, filePrefix, 0, crop, logger)
	if err != nil {
		return nil, err
	}
	shots = append(shots, first)

	lastOffset, err := p.scrollOffset()
	if err != nil {
		return shots, nil
	}

	noProgress := 0
	for len(shots) < maxScreenshots {
		scrollAmount := int(viewportHeight * ScrollAdvanceRatio)
		if err := p.scrollBy(scrollAmount); err != nil {
			break
		}

		if err := sleep(ctx, scrollDwell); err != nil {
			return shots, err
		}

		newOffset, err := p.scrollOffset()
		if err != nil {
			break
		}

		advance := newOffset - lastOffset
		if advance <= 0 {
			noProgress++
			if noProgress >= maxNoProgressAttempts {
				logger.WithField("component", "browser").Debug("browser: no further scroll progress, stopping")
				break
			}
			lastOffset = newOffset
			continue
		}
		noProgress = 0

		if advance < viewportHeight*MinScrollAdvanceRatio {
			logger.WithFields(logrus.Fields{"component": "browser", "advance_px": advance}).Debug("browser: scroll advance below suppression threshold, skipping screenshot")
			lastOffset = newOffset
			continue
		}

		shot, err := snapshotWithLog(p, outDir, filePrefix, len(shots), crop, logger)
		if err != nil {
			return shots, err
		}
		shots = append(shots, shot)
		lastOffset = newOffset
	}

	return shots, nil
}

func snapshotWithLog(p page, outDir, filePrefix string, index int, crop model.CropConfig, logger *logrus.Logger) (string, error) {
	data, err := p.screenshot()
	if err != nil {
		return "", fmt.Errorf("browser: screenshot: %w", err)
	}

	name := fmt.Sprintf("%s_page_%02d.png", filePrefix, index)
	path := filepath.Join(outDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("browser: write screenshot %s: %w", path, err)
	}

	if crop.Enabled {
		// Crop failures preserve the original screenshot rather than
		// failing the capture (spec.md §4.2).
		if err := CropImage(path, path, crop.Coordinates); err != nil {
			logger.WithFields(logrus.Fields{"component": "browser", "path": path, "error": err.Error()}).Warn("browser: crop failed, keeping original screenshot")
		}
	}

	return path, nil
}

// Close is a no-op: RodRenderer holds no persistent browser process
// between Capture calls, each of which owns and tears down its own
// session.
func (r *RodRenderer) Close() error {
	return nil
}
