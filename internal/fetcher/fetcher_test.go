package fetcher_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhihu_archiver/internal/fetcher"
	"zhihu_archiver/internal/logger"
	"zhihu_archiver/internal/session"
)

const (
	testPageURL  = "https://www.zhihu.com/question/1/answer/2"
	testImageURL = "https://pic1.zhimg.com/v2-abc.jpg"
)

type call struct {
	url string
	at  time.Time
}

// fakeSession answers every request through respond; n counts calls from 1.
type fakeSession struct {
	mu      sync.Mutex
	calls   []call
	respond func(ctx context.Context, n int, url string) (*session.Snapshot, error)
}

func (s *fakeSession) Navigate(ctx context.Context, url string) (*session.Snapshot, error) {
	return s.do(ctx, url)
}

func (s *fakeSession) Request(ctx context.Context, url string) (*session.Snapshot, error) {
	return s.do(ctx, url)
}

func (s *fakeSession) do(ctx context.Context, url string) (*session.Snapshot, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call{url: url, at: time.Now()})
	n := len(s.calls)
	s.mu.Unlock()
	return s.respond(ctx, n, url)
}

func (s *fakeSession) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func ok(url, body string) *session.Snapshot {
	return &session.Snapshot{URL: url, FinalURL: url, StatusCode: http.StatusOK, ContentType: "text/html", Body: []byte(body)}
}

func testConfig() fetcher.Config {
	return fetcher.Config{
		RequestTimeout:              time.Second,
		TransientRetries:            2,
		TransientBackoff:            time.Millisecond,
		ChallengeMaxAttempts:        3,
		ChallengeCooldownMultiplier: 2,
		ChallengeCooldownMax:        time.Millisecond,
	}
}

func TestFetcher_ChallengeExhaustsAttempts(t *testing.T) {
	s := &fakeSession{respond: func(_ context.Context, _ int, url string) (*session.Snapshot, error) {
		return &session.Snapshot{URL: url, FinalURL: url, StatusCode: http.StatusForbidden}, nil
	}}
	f := fetcher.New(s, testConfig(), logger.NewNoOp())

	_, err := f.Page(context.Background(), testPageURL)
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcher.ErrChallengeDetected)
	assert.Equal(t, 3, s.count())
}

func TestFetcher_ChallengeThenSuccess(t *testing.T) {
	s := &fakeSession{respond: func(_ context.Context, n int, url string) (*session.Snapshot, error) {
		if n == 1 {
			return ok(url, `<html><head><title>安全验证 - 知乎</title></head></html>`), nil
		}
		return ok(url, "<html>content</html>"), nil
	}}
	f := fetcher.New(s, testConfig(), logger.NewNoOp())

	snap, err := f.Page(context.Background(), testPageURL)
	require.NoError(t, err)
	assert.Equal(t, "<html>content</html>", snap.Text())
	assert.Equal(t, 2, s.count())
}

func TestFetcher_TransientRetries(t *testing.T) {
	s := &fakeSession{respond: func(_ context.Context, n int, url string) (*session.Snapshot, error) {
		if n <= 2 {
			return nil, errors.New("connection reset by peer")
		}
		return ok(url, "{}"), nil
	}}
	f := fetcher.New(s, testConfig(), logger.NewNoOp())

	_, err := f.API(context.Background(), testPageURL)
	require.NoError(t, err)
	assert.Equal(t, 3, s.count())
}

func TestFetcher_TransientExhausted(t *testing.T) {
	s := &fakeSession{respond: func(_ context.Context, _ int, url string) (*session.Snapshot, error) {
		return &session.Snapshot{URL: url, FinalURL: url, StatusCode: http.StatusBadGateway}, nil
	}}
	f := fetcher.New(s, testConfig(), logger.NewNoOp())

	_, err := f.API(context.Background(), testPageURL)
	assert.ErrorIs(t, err, fetcher.ErrTransientNetwork)
	assert.Equal(t, 3, s.count())
}

func TestFetcher_Timeout(t *testing.T) {
	s := &fakeSession{respond: func(ctx context.Context, _ int, _ string) (*session.Snapshot, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	cfg := testConfig()
	cfg.RequestTimeout = 20 * time.Millisecond
	cfg.TransientRetries = 1
	f := fetcher.New(s, cfg, logger.NewNoOp())

	_, err := f.Page(context.Background(), testPageURL)
	assert.ErrorIs(t, err, fetcher.ErrTimeout)
	assert.Equal(t, 2, s.count())
}

func TestFetcher_NotFoundIsPermanent(t *testing.T) {
	s := &fakeSession{respond: func(_ context.Context, _ int, url string) (*session.Snapshot, error) {
		return &session.Snapshot{URL: url, FinalURL: url, StatusCode: http.StatusNotFound}, nil
	}}
	f := fetcher.New(s, testConfig(), logger.NewNoOp())

	_, err := f.Page(context.Background(), testPageURL)
	assert.ErrorIs(t, err, fetcher.ErrNotFound)
	assert.Equal(t, 1, s.count())
}

func TestFetcher_CanceledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &fakeSession{respond: func(_ context.Context, _ int, _ string) (*session.Snapshot, error) {
		cancel()
		return nil, errors.New("connection refused")
	}}
	f := fetcher.New(s, testConfig(), logger.NewNoOp())

	_, err := f.Page(ctx, testPageURL)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, s.count())
}

func TestFetcher_Robots(t *testing.T) {
	s := &fakeSession{respond: func(_ context.Context, _ int, url string) (*session.Snapshot, error) {
		if strings.HasSuffix(url, "/robots.txt") {
			return &session.Snapshot{URL: url, FinalURL: url, StatusCode: http.StatusOK, Body: []byte("User-agent: *\nDisallow: /people/\n")}, nil
		}
		return ok(url, "page"), nil
	}}
	cfg := testConfig()
	cfg.RespectRobots = true
	f := fetcher.New(s, cfg, logger.NewNoOp())

	_, err := f.Page(context.Background(), "https://www.zhihu.com/people/someone")
	assert.ErrorIs(t, err, fetcher.ErrRobotsDisallowed)

	_, err = f.Page(context.Background(), testPageURL)
	require.NoError(t, err)

	// robots.txt once plus the allowed page.
	assert.Equal(t, 2, s.count())
}

func TestFetcher_SharedGateAcrossClasses(t *testing.T) {
	const delay = 25 * time.Millisecond
	s := &fakeSession{respond: func(_ context.Context, _ int, url string) (*session.Snapshot, error) {
		return ok(url, "x"), nil
	}}
	cfg := testConfig()
	cfg.DelayMin, cfg.DelayMax = delay, delay
	f := fetcher.New(s, cfg, logger.NewNoOp())

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.Page(context.Background(), testPageURL)
		}()
		go func() {
			defer wg.Done()
			_, _ = f.Asset(context.Background(), testImageURL)
		}()
	}
	wg.Wait()

	require.Len(t, s.calls, 4)
	first, last := s.calls[0].at, s.calls[0].at
	for _, c := range s.calls {
		if c.at.Before(first) {
			first = c.at
		}
		if c.at.After(last) {
			last = c.at
		}
	}
	// Four grants through one gate need at least three gaps.
	assert.GreaterOrEqual(t, last.Sub(first), 3*delay-5*time.Millisecond)
}

func TestDetectChallenge(t *testing.T) {
	tests := []struct {
		name  string
		snap  session.Snapshot
		class fetcher.Class
		want  bool
	}{
		{"ok page", session.Snapshot{StatusCode: 200, Body: []byte("<p>40362 is just a number</p>")}, fetcher.ClassPage, false},
		{"forbidden", session.Snapshot{StatusCode: 403}, fetcher.ClassPage, true},
		{"too many requests", session.Snapshot{StatusCode: 429}, fetcher.ClassAsset, true},
		{"error code", session.Snapshot{StatusCode: 200, Body: []byte(`{"error":{"code": 40362,"message":"x"}}`)}, fetcher.ClassPage, true},
		{"notice text", session.Snapshot{StatusCode: 200, Body: []byte("您当前请求存在异常，暂时限制本次访问")}, fetcher.ClassPage, true},
		{"unhuman redirect", session.Snapshot{StatusCode: 200, FinalURL: "https://www.zhihu.com/account/unhuman?type=unhuman"}, fetcher.ClassPage, true},
		{"asset body ignored", session.Snapshot{StatusCode: 200, Body: []byte("请求存在异常")}, fetcher.ClassAsset, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fetcher.DetectChallenge(&tt.snap, tt.class)
			assert.Equal(t, tt.want, got != "", got)
		})
	}
}
