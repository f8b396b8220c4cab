// Package app runs the archive pipeline for one crawl target: discover,
// then fetch, extract, render and write each item in manifest order.
package app

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"zhihu_archiver/internal/config"
	"zhihu_archiver/internal/db"
	"zhihu_archiver/internal/discover"
	"zhihu_archiver/internal/extract"
	"zhihu_archiver/internal/fetcher"
	"zhihu_archiver/internal/images"
	"zhihu_archiver/internal/links"
	"zhihu_archiver/internal/logger"
	"zhihu_archiver/internal/models"
	"zhihu_archiver/internal/output"
	"zhihu_archiver/internal/progress"
	"zhihu_archiver/internal/session"
)

type Discoverer interface {
	Discover(ctx context.Context, target models.CrawlTarget, existing *links.Manifest) (*links.Manifest, error)
}

type PageFetcher interface {
	Page(ctx context.Context, url string) (*session.Snapshot, error)
}

type Extractor interface {
	Extract(id models.ContentIdentifier, snap *session.Snapshot) (*models.Document, error)
}

type CommentFetcher interface {
	Fetch(ctx context.Context, id models.ContentIdentifier) ([]*models.Comment, error)
}

type ImageLocalizer interface {
	Localize(ctx context.Context, doc *models.Document, dir string) ([]models.LocalImage, error)
}

// Catalog records archived items outside the output directory.
type Catalog interface {
	SaveEntry(ctx context.Context, e *db.Entry) error
	KindCounts(ctx context.Context) (map[models.Kind]int, error)
}

// Archiver wires the pipeline stages. Every network call goes through one
// shared fetcher so pacing holds across stages.
type Archiver struct {
	cfg        config.Config
	discoverer Discoverer
	pages      PageFetcher
	extractor  Extractor
	comments   CommentFetcher
	images     ImageLocalizer
	catalog    Catalog
	log        logger.Interface
}

func New(cfg config.Config, sess session.Session, log logger.Interface) *Archiver {
	f := fetcher.New(sess, cfg.Fetch, log)
	return &Archiver{
		cfg:        cfg,
		discoverer: discover.New(f, cfg.Discovery, log),
		pages:      f,
		extractor:  extract.New(log),
		comments:   extract.NewCommentFetcher(f, cfg.Discovery.APIBase, log),
		images:     images.New(f, log),
		log:        log,
	}
}

// WithCatalog enables catalog upserts for archived items.
func (a *Archiver) WithCatalog(c Catalog) *Archiver {
	a.catalog = c
	return a
}

// Run archives target into the configured output directory and reports
// progress as a lazy event sequence ending with EventRunFinished. Running
// the same target again resumes: completed items are skipped without any
// request. Cancelling ctx stops after the in-flight item is discarded.
func (a *Archiver) Run(ctx context.Context, target models.CrawlTarget) iter.Seq[models.Event] {
	return func(yield func(models.Event) bool) {
		r := a.newRun(target)
		r.execute(ctx, yield)
		r.finish()
		if !r.stopped {
			yield(models.Event{Type: models.EventRunFinished, Summary: r.summary})
		}
	}
}

type run struct {
	*Archiver
	target  models.CrawlTarget
	log     logger.Interface
	store   *progress.Store
	writer  *output.Writer
	summary *models.Summary
	started time.Time
	stopped bool
}

func (a *Archiver) newRun(target models.CrawlTarget) *run {
	id := uuid.NewString()
	key := links.TargetKey(target)
	return &run{
		Archiver: a,
		target:   target,
		log:      a.log.WithRunID(id).With("target", key),
		summary:  &models.Summary{RunID: id, Target: key},
		started:  time.Now(),
	}
}

func (r *run) emit(yield func(models.Event) bool, ev models.Event) bool {
	if r.stopped {
		return false
	}
	if !yield(ev) {
		r.stopped = true
	}
	return !r.stopped
}

func (r *run) fail(err error) {
	r.summary.Err = err
	r.log.Error("Run aborted", "error", err)
}

func (r *run) execute(ctx context.Context, yield func(models.Event) bool) {
	dir := r.cfg.OutputDir
	r.log.Info("Starting run",
		"output_dir", dir,
		"download_images", r.cfg.DownloadImages,
		"comments", r.cfg.Comments,
		"delay_min", r.cfg.Fetch.DelayMin,
		"delay_max", r.cfg.Fetch.DelayMax,
	)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.fail(fmt.Errorf("create output dir: %w", err))
		return
	}

	store, err := progress.Load(dir, links.TargetKey(r.target), r.cfg.FlushEvery, r.log)
	if err != nil {
		r.fail(err)
		return
	}
	r.store = store
	if err := store.SetConfig(r.cfg.Snapshot()); err != nil {
		r.fail(err)
		return
	}

	layout := output.LayoutFolder
	if !r.cfg.DownloadImages {
		layout = output.LayoutFlat
	}
	r.writer = output.NewWriter(dir, layout, r.log)
	if n, err := r.writer.CleanPartials(); err != nil {
		r.log.Warn("Could not remove staged leftovers", "error", err)
	} else if n > 0 {
		r.log.Info("Removed staged leftovers", "count", n)
	}

	manifest, err := r.manifest(ctx)
	if err != nil {
		r.fail(err)
		return
	}
	r.summary.Discovered = manifest.Len()
	if err := r.recoverArchived(manifest); err != nil {
		r.fail(err)
		return
	}

	items := manifest.Items()
	for i, id := range items {
		if err := ctx.Err(); err != nil {
			r.fail(err)
			return
		}
		ev := models.Event{Item: id, Index: i + 1, Total: len(items)}

		if r.store.IsCompleted(id) {
			r.summary.Skipped++
			ev.Type = models.EventItemSkipped
			if !r.emit(yield, ev) {
				return
			}
			continue
		}

		ev.Type = models.EventItemStarted
		if !r.emit(yield, ev) {
			return
		}

		itemLog := r.log.WithItem(id.Key()).With("url", id.CanonicalURL)
		start := time.Now()
		artifact, err := r.archive(ctx, id, itemLog)
		if err != nil && ctx.Err() != nil {
			itemLog.Info("Item interrupted", "status", "discarded")
			r.fail(ctx.Err())
			return
		}
		if err != nil {
			itemLog.WithDuration(time.Since(start)).Warn("Item failed", "status", "failed", "error", err)
			r.summary.Failures = append(r.summary.Failures, models.Failure{Item: id, Reason: err.Error()})
			ev.Type, ev.Err = models.EventItemFailed, err
			if !r.emit(yield, ev) {
				return
			}
			continue
		}

		if err := r.store.RecordCompleted(id, artifact.Path); err != nil {
			r.fail(fmt.Errorf("mark %s completed: %w", id.Key(), err))
			return
		}
		r.summary.Archived++
		itemLog.WithDuration(time.Since(start)).Info("Item archived", "status", "archived", "path", artifact.Path, "images", artifact.Images)

		ev.Type, ev.Path = models.EventItemCompleted, filepath.Join(dir, artifact.Path)
		if !r.emit(yield, ev) {
			return
		}
	}
}

// manifest returns the recorded manifest, discovering first when there
// is none or a refresh was requested.
func (r *run) manifest(ctx context.Context) (*links.Manifest, error) {
	existing := r.store.Manifest()
	if r.store.HasManifest() && !r.cfg.RefreshManifest {
		r.log.Info("Reusing recorded manifest", "items", existing.Len())
		return existing, nil
	}

	m, err := r.discoverer.Discover(ctx, r.target, existing)
	if err != nil {
		return nil, err
	}
	if err := r.store.RecordDiscovered(m); err != nil {
		return nil, err
	}
	return m, nil
}

// recoverArchived reconciles completion marks with the disk. A mark whose
// artifact is missing or empty is dropped so the item is archived again;
// an item whose artifact is on disk but unmarked is marked completed.
func (r *run) recoverArchived(m *links.Manifest) error {
	reopened := 0
	for _, done := range r.store.Completed() {
		if r.writer.Exists(done.Path) {
			continue
		}
		if r.store.Reopen(done.ContentIdentifier) {
			r.log.Warn("Completed item has no artifact, archiving again", "item", done.Key(), "path", done.Path)
			reopened++
		}
	}
	if reopened > 0 {
		r.log.Info("Reopened items", "count", reopened)
	}

	found, err := r.writer.ScanArchived()
	if err != nil {
		r.log.Warn("Archive scan failed", "error", err)
		return nil
	}

	recovered := 0
	for _, id := range m.Items() {
		path, ok := found[id.CanonicalURL]
		if !ok || r.store.IsCompleted(id) {
			continue
		}
		if err := r.store.RecordCompleted(id, path); err != nil {
			return err
		}
		recovered++
	}
	if recovered > 0 {
		r.log.Info("Recovered archived items", "count", recovered)
	}
	return nil
}

// finish flushes progress and logs the summary.
func (r *run) finish() {
	r.summary.Duration = time.Since(r.started)
	if r.store != nil {
		if err := r.store.Flush(); err != nil {
			r.log.Error("Could not flush progress", "error", err)
			if r.summary.Err == nil {
				r.summary.Err = err
			}
		}
	}

	fields := []any{
		"discovered", r.summary.Discovered,
		"archived", r.summary.Archived,
		"skipped", r.summary.Skipped,
		"failed", r.summary.Failed(),
		"duration", r.summary.Duration,
	}
	if r.catalog != nil {
		if counts, err := r.catalog.KindCounts(context.Background()); err == nil {
			fields = append(fields, "catalogued", counts)
		}
	}
	for _, f := range r.summary.Failures {
		r.log.Warn("Failed item", "item", f.Item.Key(), "url", f.Item.CanonicalURL, "reason", f.Reason)
	}
	if r.summary.Err != nil && !errors.Is(r.summary.Err, context.Canceled) {
		r.log.Error("Run finished with error", append(fields, "error", r.summary.Err)...)
		return
	}
	r.log.Info("Run finished", fields...)
}
