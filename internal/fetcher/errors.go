package fetcher

import "errors"

var (
	// ErrChallengeDetected means the platform answered with an
	// anti-automation challenge instead of content.
	ErrChallengeDetected = errors.New("challenge detected")
	ErrTimeout           = errors.New("request timed out")
	ErrTransientNetwork  = errors.New("transient network error")
	ErrRobotsDisallowed  = errors.New("disallowed by robots.txt")
	// ErrNotFound is a permanent 404/410; it is never retried.
	ErrNotFound = errors.New("content not found")
)
