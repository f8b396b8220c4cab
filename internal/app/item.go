package app

import (
	"context"
	"fmt"
	"time"

	"zhihu_archiver/internal/db"
	"zhihu_archiver/internal/logger"
	"zhihu_archiver/internal/models"
	"zhihu_archiver/internal/output"
	"zhihu_archiver/internal/render"
)

// archive runs one item through the pipeline. Nothing is visible on disk
// unless the returned error is nil.
func (r *run) archive(ctx context.Context, id models.ContentIdentifier, log logger.Interface) (*output.Artifact, error) {
	snap, err := r.pages.Page(ctx, id.CanonicalURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	doc, err := r.extractor.Extract(id, snap)
	if err != nil {
		return nil, err
	}
	if r.cfg.Comments {
		comments, err := r.comments.Fetch(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("comments: %w", err)
		}
		doc.Comments = comments
	}

	stage, err := r.writer.Stage(doc)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := stage.Discard(); err != nil {
			log.Warn("Could not discard staged item", "error", err)
		}
	}()

	var stored []models.LocalImage
	if r.cfg.DownloadImages {
		stored, err = r.images.Localize(ctx, doc, stage.Dir())
		if err != nil {
			return nil, fmt.Errorf("images: %w", err)
		}
	}

	markdown := render.Render(doc, render.Options{TextOnly: !r.cfg.DownloadImages})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	artifact, err := stage.Commit(markdown, stored)
	if err != nil {
		return nil, err
	}

	r.catalogue(ctx, doc, artifact, log)
	return artifact, nil
}

// catalogue upserts the archived item. Failures are logged only.
func (r *run) catalogue(ctx context.Context, doc *models.Document, artifact *output.Artifact, log logger.Interface) {
	if r.catalog == nil {
		return
	}
	entry := &db.Entry{
		Kind:        doc.ID.Kind,
		PlatformID:  doc.ID.PlatformID,
		URL:         doc.ID.CanonicalURL,
		Title:       doc.Meta.Title,
		Author:      doc.Meta.Author,
		Path:        artifact.Path,
		ContentHash: artifact.ContentHash,
		ImageCount:  artifact.Images,
		RunID:       r.summary.RunID,
		ArchivedAt:  time.Now().UTC(),
	}
	if !doc.Meta.PublishedAt.IsZero() {
		published := doc.Meta.PublishedAt
		entry.PublishedAt = &published
	}
	if err := r.catalog.SaveEntry(ctx, entry); err != nil {
		log.Warn("Catalog update failed", "error", err)
	}
}
