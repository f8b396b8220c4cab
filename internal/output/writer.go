// Package output lays archived items out on disk. Every artifact is staged
// under a hidden ".partial" name and renamed into place, so a visible
// artifact is always complete.
package output

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/text/unicode/norm"

	"zhihu_archiver/internal/logger"
	"zhihu_archiver/internal/models"
	"zhihu_archiver/internal/render"
)

const (
	IndexFile = "index.md"
	MetaFile  = "meta.json"
)

var ErrEmptyArtifact = errors.New("refusing to write an empty artifact")

type Layout int

const (
	// LayoutFolder writes <kind>/<[date] title - author>/index.md with an
	// images directory and a meta.json sidecar.
	LayoutFolder Layout = iota
	// LayoutFlat writes <kind>/<date>_<title>.md.
	LayoutFlat
)

type Writer struct {
	root   string
	layout Layout
	log    logger.Interface
}

func NewWriter(root string, layout Layout, log logger.Interface) *Writer {
	return &Writer{root: root, layout: layout, log: log.WithComponent("output")}
}

// Artifact describes a committed item. Path is relative to the output root.
type Artifact struct {
	Path        string
	ContentHash string
	Images      int
}

// Stage is one item's output in progress. It becomes visible only on Commit.
type Stage struct {
	w       *Writer
	doc     *models.Document
	final   string
	partial string
	done    bool
}

// Stage reserves the artifact name for doc and prepares its staging area.
func (w *Writer) Stage(doc *models.Document) (*Stage, error) {
	kindDir := filepath.Join(w.root, doc.ID.Kind.Dir())
	if err := os.MkdirAll(kindDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", kindDir, err)
	}

	final := w.resolve(kindDir, doc)
	s := &Stage{
		w:       w,
		doc:     doc,
		final:   final,
		partial: filepath.Join(kindDir, "."+filepath.Base(final)+partialSuffix),
	}
	if w.layout == LayoutFolder {
		if err := os.RemoveAll(s.partial); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(s.partial, 0o755); err != nil {
			return nil, fmt.Errorf("create staging dir: %w", err)
		}
	}
	return s, nil
}

// Dir is where item files such as images are staged. It is empty for the
// flat layout.
func (s *Stage) Dir() string {
	if s.w.layout == LayoutFlat {
		return ""
	}
	return s.partial
}

// Commit writes the rendered Markdown and moves the artifact into place.
func (s *Stage) Commit(markdown string, images []models.LocalImage) (*Artifact, error) {
	if s.done {
		return nil, errors.New("stage already finished")
	}
	if markdown == "" {
		return nil, ErrEmptyArtifact
	}
	s.done = true

	sum := sha256.Sum256([]byte(markdown))
	artifact := &Artifact{ContentHash: hex.EncodeToString(sum[:]), Images: len(images)}

	rel, err := filepath.Rel(s.w.root, s.final)
	if err != nil {
		rel = s.final
	}
	artifact.Path = rel

	if s.w.layout == LayoutFlat {
		if err := WriteFileAtomic(s.final, []byte(markdown)); err != nil {
			return nil, err
		}
		return artifact, nil
	}

	if err := s.commitFolder(markdown, images, artifact.ContentHash); err != nil {
		_ = os.RemoveAll(s.partial)
		return nil, err
	}
	return artifact, nil
}

func (s *Stage) commitFolder(markdown string, images []models.LocalImage, hash string) error {
	if err := WriteFileAtomic(filepath.Join(s.partial, IndexFile), []byte(markdown)); err != nil {
		return err
	}

	meta, err := json.MarshalIndent(newSidecar(s.doc, hash, images), "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := WriteFileAtomic(filepath.Join(s.partial, MetaFile), meta); err != nil {
		return err
	}

	if err := os.RemoveAll(s.final); err != nil {
		return fmt.Errorf("replace %s: %w", s.final, err)
	}
	if err := os.Rename(s.partial, s.final); err != nil {
		return fmt.Errorf("commit %s: %w", s.final, err)
	}
	return syncDir(filepath.Dir(s.final))
}

// Discard drops anything staged. It is a no-op after Commit.
func (s *Stage) Discard() error {
	if s.done {
		return nil
	}
	s.done = true
	if s.w.layout == LayoutFlat {
		return nil
	}
	return os.RemoveAll(s.partial)
}

// resolve picks the artifact path. An existing artifact from another
// source keeps its name and this item gets the platform id appended. An
// empty artifact is overwritten.
func (w *Writer) resolve(kindDir string, doc *models.Document) string {
	name := w.name(doc)
	candidate := filepath.Join(kindDir, name+w.ext())
	if !present(candidate) {
		return candidate
	}
	if src, err := w.sourceOf(candidate); err == nil && src == doc.Meta.SourceURL {
		return candidate
	}
	return filepath.Join(kindDir, name+"-"+doc.ID.PlatformID+w.ext())
}

func (w *Writer) name(doc *models.Document) string {
	date := ""
	if !doc.Meta.PublishedAt.IsZero() {
		date = render.FormatDate(doc.Meta.PublishedAt)
	}

	title := norm.NFC.String(doc.Meta.Title)
	if w.layout == LayoutFlat {
		prefix := ""
		if date != "" {
			prefix = date + "_"
		}
		return Sanitize(prefix + truncateBytes(title, maxNameBytes-len(prefix)))
	}

	author := doc.Meta.Author
	if author == "" {
		author = "未知作者"
	}
	suffix := " - " + truncateBytes(norm.NFC.String(author), maxAuthorBytes)
	prefix := ""
	if date != "" {
		prefix = "[" + date + "] "
	}
	return Sanitize(prefix + truncateBytes(title, maxNameBytes-len(prefix)-len(suffix)) + suffix)
}

func (w *Writer) ext() string {
	if w.layout == LayoutFlat {
		return ".md"
	}
	return ""
}

func (w *Writer) sourceOf(artifact string) (string, error) {
	if w.layout == LayoutFolder {
		artifact = filepath.Join(artifact, IndexFile)
	}
	return readSource(artifact)
}

type sidecar struct {
	Kind        models.Kind         `json:"kind"`
	PlatformID  string              `json:"platform_id"`
	URL         string              `json:"url"`
	Title       string              `json:"title"`
	Author      string              `json:"author"`
	PublishedAt string              `json:"published_at,omitempty"`
	ContentHash string              `json:"content_hash"`
	Comments    int                 `json:"comments"`
	Images      []models.LocalImage `json:"images"`
	ArchivedAt  time.Time           `json:"archived_at"`
}

func newSidecar(doc *models.Document, hash string, images []models.LocalImage) sidecar {
	sc := sidecar{
		Kind:        doc.ID.Kind,
		PlatformID:  doc.ID.PlatformID,
		URL:         doc.Meta.SourceURL,
		Title:       doc.Meta.Title,
		Author:      doc.Meta.Author,
		ContentHash: hash,
		Comments:    countComments(doc.Comments),
		Images:      images,
		ArchivedAt:  time.Now().UTC(),
	}
	if sc.Images == nil {
		sc.Images = []models.LocalImage{}
	}
	if !doc.Meta.PublishedAt.IsZero() {
		sc.PublishedAt = render.FormatDate(doc.Meta.PublishedAt)
	}
	return sc
}

func countComments(comments []*models.Comment) int {
	n := 0
	for _, c := range comments {
		n += 1 + countComments(c.Children)
	}
	return n
}
