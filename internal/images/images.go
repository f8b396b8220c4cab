// Package images downloads the pictures an item references and stores them
// content-addressed next to the item's artifact.
package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"zhihu_archiver/internal/logger"
	"zhihu_archiver/internal/models"
	"zhihu_archiver/internal/output"
	"zhihu_archiver/internal/session"
)

// Dir is the image directory name inside an item folder.
const Dir = "images"

const hashLen = 16

var ErrImageFetch = errors.New("image fetch failed")

type AssetFetcher interface {
	Asset(ctx context.Context, url string) (*session.Snapshot, error)
}

type Localizer struct {
	fetcher AssetFetcher
	log     logger.Interface
}

func New(f AssetFetcher, log logger.Interface) *Localizer {
	return &Localizer{fetcher: f, log: log.WithComponent("images")}
}

// localization is the dedup state for one item.
type localization struct {
	dir    string
	byURL  map[string]string
	byHash map[string]models.LocalImage
	stored []models.LocalImage
}

// Localize downloads every image in doc, body and comments, into
// dir/images and points each image block at its stored relative path.
// A failed image keeps its remote URL. The returned error is non-nil only
// when the context ends or a file cannot be written.
func (l *Localizer) Localize(ctx context.Context, doc *models.Document, dir string) ([]models.LocalImage, error) {
	var targets []*models.Image
	collect := func(img *models.Image) { targets = append(targets, img) }
	models.WalkImages(doc.Blocks, collect)
	models.WalkCommentImages(doc.Comments, collect)

	state := &localization{
		dir:    dir,
		byURL:  make(map[string]string),
		byHash: make(map[string]models.LocalImage),
	}
	for _, img := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !downloadable(img.RemoteURL) {
			continue
		}
		if local, ok := state.byURL[img.RemoteURL]; ok {
			img.LocalPath = local
			continue
		}

		local, err := l.store(ctx, state, img.RemoteURL)
		switch {
		case err == nil:
			img.LocalPath = local
			state.byURL[img.RemoteURL] = local
		case errors.Is(err, ErrImageFetch):
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.log.Warn("Keeping remote image", "item", doc.ID.Key(), "url", img.RemoteURL, "error", err)
		default:
			return nil, err
		}
	}
	return state.stored, nil
}

func (l *Localizer) store(ctx context.Context, state *localization, url string) (string, error) {
	snap, err := l.fetcher.Asset(ctx, url)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrImageFetch, err)
	}
	if len(snap.Body) == 0 {
		return "", fmt.Errorf("%w: empty body", ErrImageFetch)
	}

	mtype := mimetype.Detect(snap.Body)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", fmt.Errorf("%w: got %s instead of an image", ErrImageFetch, mtype.String())
	}

	hash := ContentHash(snap.Body)
	if existing, ok := state.byHash[hash]; ok {
		return existing.StoredPath, nil
	}

	name := hash + extension(mtype, url)
	if err := output.WriteFileAtomic(filepath.Join(state.dir, Dir, name), snap.Body); err != nil {
		return "", fmt.Errorf("store image %s: %w", url, err)
	}

	local := models.LocalImage{
		ContentHash: hash,
		StoredPath:  path.Join(Dir, name),
		SourceURL:   url,
	}
	state.byHash[hash] = local
	state.stored = append(state.stored, local)
	l.log.Debug("Image stored", "url", url, "path", local.StoredPath, "type", mtype.String())
	return local.StoredPath, nil
}

// ContentHash returns the truncated hex SHA-256 used to name stored images.
func ContentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])[:hashLen]
}

func extension(mtype *mimetype.MIME, url string) string {
	if ext := mtype.Extension(); ext != "" {
		return ext
	}
	if ext := path.Ext(strings.SplitN(url, "?", 2)[0]); len(ext) > 1 && len(ext) <= 5 {
		return strings.ToLower(ext)
	}
	return ".img"
}

// downloadable skips inline data and rendered-equation URLs.
func downloadable(url string) bool {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return false
	}
	return !strings.Contains(url, "/equation?")
}
