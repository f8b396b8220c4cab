// Package extract converts fetched pages into structured documents.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"zhihu_archiver/internal/logger"
	"zhihu_archiver/internal/models"
	"zhihu_archiver/internal/session"
)

const pinTitleRunes = 30

var datePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// anchors lists the selectors tried, in order, for one kind of page.
type anchors struct {
	title  []string
	author []string
	body   []string
}

var pageAnchors = map[models.Kind]anchors{
	models.KindAnswer: {
		title: []string{"h1.QuestionHeader-title"},
		author: []string{
			".QuestionAnswer-content .AuthorInfo-name .UserLink-link",
			".AuthorInfo-name .UserLink-link",
			".AuthorInfo span.UserLink-Name",
		},
		body: []string{".QuestionAnswer-content .RichText", ".AnswerCard .RichText", ".RichText"},
	},
	models.KindArticle: {
		title: []string{"h1.Post-Title"},
		author: []string{
			".AuthorInfo span.UserLink-Name",
			".AuthorInfo-name .UserLink-link",
		},
		body: []string{".Post-RichTextContainer .RichText", ".RichText"},
	},
	models.KindPin: {
		author: []string{
			".PinItem .AuthorInfo-name .UserLink-link",
			".AuthorInfo-name .UserLink-link",
			".AuthorInfo span.UserLink-Name",
		},
		body: []string{".PinItem-content .RichText", ".RichContent-inner", ".RichText"},
	},
}

type Extractor struct {
	log logger.Interface
}

func New(log logger.Interface) *Extractor {
	return &Extractor{log: log.WithComponent("extract")}
}

// Extract builds the structured document for id from a rendered page.
// Missing optional metadata is left empty; a missing or empty body is
// ErrMalformedContent.
func (e *Extractor) Extract(id models.ContentIdentifier, snap *session.Snapshot) (*models.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(snap.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrMalformedContent, id.CanonicalURL, err)
	}
	a, ok := pageAnchors[id.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported kind %q", ErrMalformedContent, id.Kind)
	}

	body := first(doc.Selection, a.body)
	if body == nil {
		return nil, fmt.Errorf("%w: no body in %s", ErrMalformedContent, id.CanonicalURL)
	}
	denoise(body)
	blocks := convertChildren(body.Nodes[0])

	if id.Kind == models.KindArticle {
		if src, ok := doc.Find("img.TitleImage").First().Attr("src"); ok && src != "" {
			if img := titleImage(src); img != nil {
				blocks = append([]models.Block{img}, blocks...)
			}
		}
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: empty body in %s", ErrMalformedContent, id.CanonicalURL)
	}

	meta := models.Metadata{
		Title:       textOf(doc.Selection, a.title),
		Author:      textOf(doc.Selection, a.author),
		PublishedAt: publishedAt(doc),
		SourceURL:   id.CanonicalURL,
	}
	if id.Kind == models.KindPin {
		meta.Title = truncateRunes(strings.TrimSpace(collapseSpace(body.Text())), pinTitleRunes)
	}
	if meta.Title == "" {
		meta.Title = e.fallbackTitle(snap, doc)
	}

	e.log.Debug("Extracted",
		"item", id.Key(),
		"title", meta.Title,
		"author", meta.Author,
		"blocks", len(blocks),
	)
	return &models.Document{ID: id, Meta: meta, Blocks: blocks}, nil
}

// fallbackTitle asks readability for a title, then the document title.
func (e *Extractor) fallbackTitle(snap *session.Snapshot, doc *goquery.Document) string {
	pageURL, err := url.Parse(snap.FinalURL)
	if err != nil || snap.FinalURL == "" {
		pageURL, _ = url.Parse(snap.URL)
	}
	if pageURL != nil {
		article, err := readability.FromReader(bytes.NewReader(snap.Body), pageURL)
		if err == nil {
			if title := cleanTitle(article.Title); title != "" {
				return title
			}
		} else {
			e.log.Debug("Readability failed", "url", snap.URL, "error", err)
		}
	}
	return cleanTitle(doc.Find("title").First().Text())
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(collapseSpace(s))
	s = strings.TrimSuffix(s, " - 知乎")
	return strings.TrimSpace(s)
}

func first(root *goquery.Selection, selectors []string) *goquery.Selection {
	for _, sel := range selectors {
		if found := root.Find(sel).First(); found.Length() > 0 {
			return found
		}
	}
	return nil
}

func textOf(root *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(collapseSpace(root.Find(sel).First().Text())); text != "" {
			return text
		}
	}
	return ""
}

// publishedAt reads the schema.org date, then a date in the timestamp line.
func publishedAt(doc *goquery.Document) time.Time {
	if v, ok := doc.Find(`meta[itemprop="datePublished"]`).First().Attr("content"); ok && len(v) >= 10 {
		if t, err := time.Parse(time.DateOnly, v[:10]); err == nil {
			return t
		}
	}
	for _, sel := range []string{".ContentItem-time", ".Post-Header .ContentItem-time"} {
		if m := datePattern.FindString(doc.Find(sel).First().Text()); m != "" {
			if t, err := time.Parse(time.DateOnly, m); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func titleImage(src string) *models.Image {
	src = strings.TrimSpace(src)
	if strings.HasPrefix(src, "//") {
		src = "https:" + src
	}
	if src == "" || strings.HasPrefix(src, "data:") {
		return nil
	}
	return &models.Image{RemoteURL: src, Alt: "TitleImage"}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
