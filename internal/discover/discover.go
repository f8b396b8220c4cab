// Package discover walks paginated listings and builds the link manifest
// for a crawl target.
package discover

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"

	"zhihu_archiver/internal/fetcher"
	"zhihu_archiver/internal/links"
	"zhihu_archiver/internal/logger"
	"zhihu_archiver/internal/models"
	"zhihu_archiver/internal/session"
)

// ErrDiscoveryFailed aborts the run; a partial manifest is never returned.
var ErrDiscoveryFailed = errors.New("discovery failed")

// APIFetcher is the part of the fetcher discovery needs.
type APIFetcher interface {
	API(ctx context.Context, url string) (*session.Snapshot, error)
}

type listing struct {
	kind       models.Kind
	path       string
	query      string
	questionID string
}

func (l listing) url(base string, offset, limit int) string {
	u := fmt.Sprintf("%s%s?offset=%d&limit=%d", base, l.path, offset, limit)
	if l.query != "" {
		u += "&" + l.query
	}
	return u
}

type Discoverer struct {
	fetch APIFetcher
	cfg   Config
	log   logger.Interface
}

func New(f APIFetcher, cfg Config, log logger.Interface) *Discoverer {
	return &Discoverer{fetch: f, cfg: cfg.WithDefaults(), log: log.WithComponent("discover")}
}

// pass tracks identifiers seen during one discovery pass.
type pass struct {
	seen  map[string]bool
	limit int
	added int
}

func (p *pass) full() bool {
	return p.limit > 0 && len(p.seen) >= p.limit
}

// Discover returns existing extended with every identifier found for
// target. Existing entries keep their order; new ones are appended in
// encounter order. existing is not modified.
func (d *Discoverer) Discover(ctx context.Context, target models.CrawlTarget, existing *links.Manifest) (*links.Manifest, error) {
	manifest := links.NewManifest()
	if existing != nil {
		manifest.Merge(existing.Items())
	}

	if target.Scope == models.ScopeSingleItem {
		id, err := links.ParseItemURL(target.ScopeKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
		}
		manifest.Add(id)
		return manifest, nil
	}

	listings, err := listingsFor(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}

	p := &pass{seen: make(map[string]bool), limit: target.Filters.ItemLimit}
	for _, l := range listings {
		if err := d.walk(ctx, l, manifest, p); err != nil {
			return nil, err
		}
		if p.full() {
			break
		}
	}

	d.log.Info("Discovery finished",
		"target", links.TargetKey(target),
		"seen", len(p.seen),
		"new", p.added,
		"manifest", manifest.Len(),
	)
	return manifest, nil
}

func listingsFor(target models.CrawlTarget) ([]listing, error) {
	switch target.Scope {
	case models.ScopeQuestion:
		qid, err := links.QuestionID(target.ScopeKey)
		if err != nil {
			return nil, err
		}
		return []listing{{
			kind:       models.KindAnswer,
			path:       "/api/v4/questions/" + qid + "/answers",
			query:      "sort_by=default",
			questionID: qid,
		}}, nil
	case models.ScopeUser:
		token, err := links.MemberToken(target.ScopeKey)
		if err != nil {
			return nil, err
		}
		base := "/api/v4/members/" + token
		var out []listing
		if target.Filters.Allows(models.KindAnswer) {
			out = append(out, listing{kind: models.KindAnswer, path: base + "/answers", query: "sort_by=created"})
		}
		if target.Filters.Allows(models.KindArticle) {
			out = append(out, listing{kind: models.KindArticle, path: base + "/articles", query: "sort_by=created"})
		}
		if target.Filters.Allows(models.KindPin) {
			out = append(out, listing{kind: models.KindPin, path: base + "/pins"})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown scope %q", target.Scope)
	}
}

// walk pages through one listing until it ends, a page brings nothing new
// to this pass, or the item limit is reached.
func (d *Discoverer) walk(ctx context.Context, l listing, m *links.Manifest, p *pass) error {
	for offset := 0; ; offset += d.cfg.PageSize {
		pg, err := d.page(ctx, l, offset)
		if err != nil {
			return err
		}

		fresh := 0
		for _, id := range pg.ids {
			if p.seen[id.Key()] {
				continue
			}
			p.seen[id.Key()] = true
			fresh++
			if m.Add(id) {
				p.added++
			}
			if p.full() {
				return nil
			}
		}

		d.log.Debug("Listing page",
			"kind", l.kind,
			"offset", offset,
			"items", len(pg.ids),
			"fresh", fresh,
			"end", pg.end,
		)
		if pg.end || fresh == 0 {
			return nil
		}
	}
}

// page fetches one page. A short page that does not claim to be the last
// is fetched once more before the listing is treated as exhausted.
func (d *Discoverer) page(ctx context.Context, l listing, offset int) (page, error) {
	pg, err := d.fetchPage(ctx, l, offset)
	if err != nil || pg.end || len(pg.ids) >= d.cfg.PageSize {
		return pg, err
	}

	d.log.Debug("Short listing page, retrying once", "kind", l.kind, "offset", offset, "items", len(pg.ids))
	again, err := d.fetchPage(ctx, l, offset)
	if err != nil {
		return page{}, err
	}
	if !again.end && len(again.ids) < d.cfg.PageSize {
		again.end = true
	}
	return again, nil
}

func (d *Discoverer) fetchPage(ctx context.Context, l listing, offset int) (page, error) {
	url := l.url(d.cfg.APIBase, offset, d.cfg.PageSize)
	backoff := retry.WithMaxRetries(uint64(d.cfg.PageRetries), retry.NewExponential(d.cfg.RetryBackoff))

	pg, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (page, error) {
		snap, err := d.fetch.API(ctx, url)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, fetcher.ErrNotFound) {
				return page{}, err
			}
			d.log.Warn("Listing page failed", "url", url, "error", err)
			return page{}, retry.RetryableError(err)
		}
		pg, err := parsePage(snap.Body, l)
		if err != nil {
			d.log.Warn("Listing page unreadable", "url", url, "error", err)
			return page{}, retry.RetryableError(err)
		}
		return pg, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return page{}, ctx.Err()
		}
		return page{}, fmt.Errorf("%w: %s: %w", ErrDiscoveryFailed, url, err)
	}
	return pg, nil
}
