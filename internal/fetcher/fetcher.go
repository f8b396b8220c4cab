// Package fetcher is the rate-limited, challenge-aware choke point for all
// outbound requests.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"zhihu_archiver/internal/logger"
	"zhihu_archiver/internal/session"
)

// Fetcher wraps a Session with global pacing, challenge cooldowns and
// bounded retries. It is safe for concurrent use.
type Fetcher struct {
	session session.Session
	pacer   *Pacer
	robots  *robotsPolicy
	cfg     Config
	log     logger.Interface
}

func New(s session.Session, cfg Config, log logger.Interface) *Fetcher {
	cfg = cfg.WithDefaults()
	f := &Fetcher{
		session: s,
		pacer:   NewPacer(cfg),
		cfg:     cfg,
		log:     log.WithComponent("fetcher"),
	}
	if cfg.RespectRobots {
		f.robots = newRobotsPolicy(cfg.RobotsAgent)
	}
	return f
}

// Page navigates to a content page.
func (f *Fetcher) Page(ctx context.Context, url string) (*session.Snapshot, error) {
	return f.fetch(ctx, url, ClassPage, f.session.Navigate)
}

// API requests a listing or comment endpoint.
func (f *Fetcher) API(ctx context.Context, url string) (*session.Snapshot, error) {
	return f.fetch(ctx, url, ClassPage, f.session.Request)
}

// Asset downloads image bytes using the asset delay interval.
func (f *Fetcher) Asset(ctx context.Context, url string) (*session.Snapshot, error) {
	return f.fetch(ctx, url, ClassAsset, f.session.Request)
}

type doFunc func(ctx context.Context, url string) (*session.Snapshot, error)

func (f *Fetcher) fetch(ctx context.Context, url string, class Class, do doFunc) (*session.Snapshot, error) {
	if f.robots != nil {
		ok, err := f.allowed(ctx, url)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrRobotsDisallowed, url)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= f.cfg.ChallengeMaxAttempts; attempt++ {
		snap, err := f.withRetries(ctx, url, class, do)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ErrChallengeDetected) {
			return nil, err
		}
		lastErr = err

		cooldown := f.cooldown(attempt)
		f.log.Warn("Challenge detected, cooling down",
			"url", url,
			"attempt", attempt,
			"max_attempts", f.cfg.ChallengeMaxAttempts,
			"cooldown", cooldown,
			"error", err,
		)
		if err := f.pacer.Hold(ctx, cooldown); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", f.cfg.ChallengeMaxAttempts, lastErr)
}

// cooldown is DelayMax * multiplier^attempt, capped.
func (f *Fetcher) cooldown(attempt int) time.Duration {
	d := float64(f.cfg.DelayMax) * math.Pow(f.cfg.ChallengeCooldownMultiplier, float64(attempt))
	if d > float64(f.cfg.ChallengeCooldownMax) {
		return f.cfg.ChallengeCooldownMax
	}
	return time.Duration(d)
}

// withRetries sends one paced request and retries timeouts, network
// errors and 5xx responses with exponential backoff.
func (f *Fetcher) withRetries(ctx context.Context, url string, class Class, do doFunc) (*session.Snapshot, error) {
	backoff := retry.WithMaxRetries(uint64(f.cfg.TransientRetries), retry.NewExponential(f.cfg.TransientBackoff))

	return retry.DoValue(ctx, backoff, func(ctx context.Context) (*session.Snapshot, error) {
		if err := f.pacer.Wait(ctx, class); err != nil {
			return nil, err
		}

		reqCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
		defer cancel()

		snap, err := do(reqCtx, url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if isTimeout(err) {
				f.log.Debug("Request timed out", "url", url, "timeout", f.cfg.RequestTimeout)
				return nil, retry.RetryableError(fmt.Errorf("%w: %s", ErrTimeout, url))
			}
			f.log.Debug("Request failed", "url", url, "error", err)
			return nil, retry.RetryableError(fmt.Errorf("%w: %w", ErrTransientNetwork, err))
		}

		if sig := DetectChallenge(snap, class); sig != "" {
			return nil, fmt.Errorf("%w: %s (%s)", ErrChallengeDetected, url, sig)
		}

		switch {
		case snap.StatusCode == http.StatusNotFound || snap.StatusCode == http.StatusGone:
			return nil, fmt.Errorf("%w: %s (status %d)", ErrNotFound, url, snap.StatusCode)
		case snap.StatusCode >= http.StatusInternalServerError:
			return nil, retry.RetryableError(fmt.Errorf("%w: %s (status %d)", ErrTransientNetwork, url, snap.StatusCode))
		case snap.StatusCode >= http.StatusBadRequest:
			return nil, fmt.Errorf("get %s: unexpected status %d", url, snap.StatusCode)
		}
		return snap, nil
	})
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
