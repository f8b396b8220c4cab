// Package session provides the authenticated browsing capability the
// archiver fetches through.
package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gocolly/colly"
	"github.com/gocolly/colly/extensions"
	"golang.org/x/net/html/charset"

	"zhihu_archiver/internal/logger"
)

const (
	DefaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	DefaultMaxBodyBytes = 10 << 20

	snapshotKey = "snapshot"
	acceptHTML  = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptAny   = "*/*"
)

// Snapshot is the raw result of one navigation or request.
type Snapshot struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
}

func (s *Snapshot) Text() string {
	return string(s.Body)
}

// Session is an already-authenticated browsing capability. Navigate
// returns a rendered document, Request returns raw bytes.
type Session interface {
	Navigate(ctx context.Context, url string) (*Snapshot, error)
	Request(ctx context.Context, url string) (*Snapshot, error)
}

type Config struct {
	CookiesFile  string `yaml:"cookies_file"`
	UserAgent    string `yaml:"user_agent"`
	MaxBodyBytes int    `yaml:"max_body_bytes"`

	Headless       bool          `yaml:"-"`
	RequestTimeout time.Duration `yaml:"-"`
}

// CollySession is the default Session backed by a colly collector and a
// cookie jar loaded from disk.
type CollySession struct {
	collector *colly.Collector
	log       logger.Interface
}

func New(cfg Config, log logger.Interface) (*CollySession, error) {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	log = log.WithComponent("session")

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	if cfg.RequestTimeout > 0 {
		collector.SetRequestTimeout(cfg.RequestTimeout)
	}
	extensions.Referer(collector)

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	loaded, err := loadCookies(cfg.CookiesFile, jar)
	if err != nil {
		return nil, err
	}
	collector.SetCookieJar(jar)

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(snapshotKey, &Snapshot{
			FinalURL:    r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        r.Body,
		})
	})

	log.Info("Session ready",
		"cookies_file", cfg.CookiesFile,
		"cookies", loaded,
		"headless", cfg.Headless,
	)
	return &CollySession{collector: collector, log: log}, nil
}

func (s *CollySession) Navigate(ctx context.Context, url string) (*Snapshot, error) {
	snap, err := s.do(ctx, url, acceptHTML)
	if err != nil {
		return nil, err
	}
	snap.Body = decodeHTML(snap.Body, snap.ContentType)
	return snap, nil
}

func (s *CollySession) Request(ctx context.Context, url string) (*Snapshot, error) {
	return s.do(ctx, url, acceptAny)
}

func (s *CollySession) do(ctx context.Context, url, accept string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reqCtx := colly.NewContext()
	hdr := http.Header{}
	hdr.Set("Accept", accept)

	type result struct {
		snap *Snapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		err := s.collector.Request(http.MethodGet, url, nil, reqCtx, hdr)
		snap, _ := reqCtx.GetAny(snapshotKey).(*Snapshot)
		done <- result{snap: snap, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("get %s: %w", url, r.err)
		}
		if r.snap == nil {
			return nil, fmt.Errorf("get %s: no response", url)
		}
		r.snap.URL = url
		s.log.Debug("Fetched", "url", url, "status", r.snap.StatusCode, "bytes", len(r.snap.Body))
		return r.snap, nil
	}
}

// decodeHTML converts non-UTF-8 HTML bodies to UTF-8. Bodies that are
// already valid UTF-8 or cannot be decoded are returned unchanged.
func decodeHTML(body []byte, contentType string) []byte {
	if utf8.Valid(body) || !strings.Contains(strings.ToLower(contentType), "html") {
		return body
	}
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return body
	}
	return decoded
}
