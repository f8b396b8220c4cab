package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"zhihu_archiver/internal/logger"
	"zhihu_archiver/internal/models"
	"zhihu_archiver/internal/session"
)

const (
	commentPageSize  = 20
	anonymousAuthor  = "匿名用户"
	defaultAPIOrigin = "https://www.zhihu.com"
)

// APIFetcher is the part of the fetcher comment traversal needs.
type APIFetcher interface {
	API(ctx context.Context, url string) (*session.Snapshot, error)
}

type commentAuthor struct {
	Name   string `json:"name"`
	Member *struct {
		Name string `json:"name"`
	} `json:"member"`
}

func (a *commentAuthor) name() string {
	if a == nil {
		return ""
	}
	if a.Name != "" {
		return a.Name
	}
	if a.Member != nil {
		return a.Member.Name
	}
	return ""
}

type commentJSON struct {
	ID                flexString     `json:"id"`
	Content           string         `json:"content"`
	CreatedTime       int64          `json:"created_time"`
	LikeCount         int            `json:"like_count"`
	ChildCommentCount int            `json:"child_comment_count"`
	Author            *commentAuthor `json:"author"`
	ReplyToAuthor     *commentAuthor `json:"reply_to_author"`
}

type commentPage struct {
	Paging struct {
		IsEnd bool   `json:"is_end"`
		Next  string `json:"next"`
	} `json:"paging"`
	Data []commentJSON `json:"data"`
}

// flexString accepts ids encoded as JSON numbers or strings.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// CommentFetcher retrieves comment trees through the fetcher.
type CommentFetcher struct {
	fetch  APIFetcher
	origin string
	log    logger.Interface
}

func NewCommentFetcher(f APIFetcher, origin string, log logger.Interface) *CommentFetcher {
	if origin == "" {
		origin = defaultAPIOrigin
	}
	return &CommentFetcher{fetch: f, origin: strings.TrimRight(origin, "/"), log: log.WithComponent("comments")}
}

type pendingReplies struct {
	parent *models.Comment
}

// Fetch returns the root comments of id with their replies attached. The
// tree is walked breadth-first with an explicit worklist, one reply level
// at a time.
func (c *CommentFetcher) Fetch(ctx context.Context, id models.ContentIdentifier) ([]*models.Comment, error) {
	rootURL := fmt.Sprintf("%s/api/v4/comment_v5/%s/%s/root_comment?order_by=score&limit=%d&offset=",
		c.origin, id.Kind.Dir(), id.PlatformID, commentPageSize)
	roots, pending, err := c.collect(ctx, rootURL)
	if err != nil {
		return nil, err
	}

	queue := pending
	replies := 0
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := queue[0]
		queue = queue[1:]

		childURL := fmt.Sprintf("%s/api/v4/comment_v5/comment/%s/child_comment?order_by=ts&limit=%d&offset=",
			c.origin, next.parent.ID, commentPageSize)
		children, more, err := c.collect(ctx, childURL)
		if err != nil {
			return nil, err
		}
		next.parent.Children = children
		replies += len(children)
		queue = append(queue, more...)
	}

	c.log.Debug("Comments fetched", "item", id.Key(), "roots", len(roots), "replies", replies)
	return roots, nil
}

// collect pages through one comment listing and returns the comments and
// those that announce replies of their own.
func (c *CommentFetcher) collect(ctx context.Context, firstURL string) ([]*models.Comment, []pendingReplies, error) {
	var (
		out     []*models.Comment
		pending []pendingReplies
		seen    = make(map[string]bool)
	)
	url := firstURL
	for offset := 0; ; {
		snap, err := c.fetch.API(ctx, url)
		if err != nil {
			return nil, nil, fmt.Errorf("comments %s: %w", url, err)
		}
		var page commentPage
		if err := json.Unmarshal(snap.Body, &page); err != nil {
			return nil, nil, fmt.Errorf("%w: comments %s: %v", ErrMalformedContent, url, err)
		}

		fresh := 0
		for _, raw := range page.Data {
			if seen[string(raw.ID)] {
				continue
			}
			seen[string(raw.ID)] = true
			fresh++
			comment := convertComment(raw)
			out = append(out, comment)
			if raw.ChildCommentCount > 0 {
				pending = append(pending, pendingReplies{parent: comment})
			}
		}

		if page.Paging.IsEnd || len(page.Data) == 0 || fresh == 0 {
			return out, pending, nil
		}
		offset += commentPageSize
		if next := strings.TrimSpace(page.Paging.Next); next != "" {
			url = next
		} else {
			url = strings.TrimSuffix(firstURL, "offset=") + fmt.Sprintf("offset=%d", offset)
		}
	}
}

func convertComment(raw commentJSON) *models.Comment {
	comment := &models.Comment{
		ID:      string(raw.ID),
		Author:  raw.Author.name(),
		ReplyTo: raw.ReplyToAuthor.name(),
		Likes:   raw.LikeCount,
		Body:    commentBody(raw.Content),
	}
	if comment.Author == "" {
		comment.Author = anonymousAuthor
	}
	if raw.CreatedTime > 0 {
		comment.CreatedAt = time.Unix(raw.CreatedTime, 0).UTC()
	}
	return comment
}

// commentBody parses comment HTML into blocks; plain text comments become
// a single paragraph.
func commentBody(content string) []models.Block {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return []models.Block{&models.Paragraph{Inlines: []models.Inline{{Kind: models.InlineText, Text: content}}}}
	}
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return nil
	}
	denoise(body)
	return convertChildren(body.Nodes[0])
}
