package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// robotsPolicy caches one robots.txt group per host.
type robotsPolicy struct {
	agent  string
	mu     sync.Mutex
	groups map[string]*robotstxt.Group
}

func newRobotsPolicy(agent string) *robotsPolicy {
	return &robotsPolicy{agent: agent, groups: make(map[string]*robotstxt.Group)}
}

// allowed fetches robots.txt through the gate on first use of a host. An
// unreadable robots.txt allows everything.
func (f *Fetcher) allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", rawURL, err)
	}

	p := f.robots
	p.mu.Lock()
	group, cached := p.groups[u.Host]
	p.mu.Unlock()

	if !cached {
		robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
		if err := f.pacer.Wait(ctx, ClassPage); err != nil {
			return false, err
		}
		snap, err := f.session.Request(ctx, robotsURL)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			f.log.Warn("Cannot load robots.txt, ignoring", "url", robotsURL, "error", err)
		} else if data, err := robotstxt.FromStatusAndBytes(snap.StatusCode, snap.Body); err != nil {
			f.log.Warn("Cannot parse robots.txt, ignoring", "url", robotsURL, "error", err)
		} else {
			group = data.FindGroup(p.agent)
			f.log.Info("Loaded robots.txt", "url", robotsURL)
		}
		p.mu.Lock()
		p.groups[u.Host] = group
		p.mu.Unlock()
	}

	if group == nil {
		return true, nil
	}
	return group.Test(u.Path), nil
}
