package fetcher

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// Class selects the delay interval applied before a request.
type Class int

const (
	ClassPage Class = iota
	ClassAsset
)

type interval struct {
	min, max time.Duration
}

// Pacer is the single gate every outbound request passes through. The gap
// between two consecutive grants is drawn from the interval of the class
// being granted, and a cooldown blocks every class.
type Pacer struct {
	sem     chan struct{}
	limiter *rate.Limiter
	page    interval
	asset   interval
	rnd     *rand.Rand
}

func NewPacer(cfg Config) *Pacer {
	return &Pacer{
		sem:     make(chan struct{}, 1),
		limiter: rate.NewLimiter(rate.Inf, 1),
		page:    interval{cfg.DelayMin, cfg.DelayMax},
		asset:   interval{cfg.AssetDelayMin, cfg.AssetDelayMax},
		rnd:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
}

// Wait blocks until a request of the given class may be sent.
func (p *Pacer) Wait(ctx context.Context, class Class) error {
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()

	iv := p.page
	if class == ClassAsset {
		iv = p.asset
	}
	d := p.jitter(iv)
	if d <= 0 {
		p.limiter.SetLimit(rate.Inf)
	} else {
		p.limiter.SetLimit(rate.Every(d))
	}
	return p.limiter.Wait(ctx)
}

// Hold keeps the gate closed for d. Requests queued behind it resume
// afterwards with their normal delay.
func (p *Pacer) Hold(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Pacer) jitter(iv interval) time.Duration {
	if iv.max <= iv.min {
		return iv.min
	}
	return iv.min + time.Duration(p.rnd.Int64N(int64(iv.max-iv.min)+1))
}

func (p *Pacer) acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pacer) release() {
	<-p.sem
}
