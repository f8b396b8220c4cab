package extract_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zhihu_archiver/internal/extract"
	"zhihu_archiver/internal/links"
	"zhihu_archiver/internal/logger"
	"zhihu_archiver/internal/models"
	"zhihu_archiver/internal/session"
)

type scriptedAPI struct {
	pages     map[string]string
	requested []string
}

func (s *scriptedAPI) API(_ context.Context, url string) (*session.Snapshot, error) {
	s.requested = append(s.requested, url)
	body, ok := s.pages[url]
	if !ok {
		return nil, fmt.Errorf("unexpected url %s", url)
	}
	return &session.Snapshot{URL: url, FinalURL: url, StatusCode: 200, Body: []byte(body)}, nil
}

const origin = "https://api.test"

func TestCommentFetcher_BuildsTreeBreadthFirst(t *testing.T) {
	root := origin + "/api/v4/comment_v5/answers/2/root_comment?order_by=score&limit=20&offset="
	rootNext := origin + "/api/v4/comment_v5/answers/2/root_comment?order_by=score&limit=20&offset=cursor2"
	childA := origin + "/api/v4/comment_v5/comment/100/child_comment?order_by=ts&limit=20&offset="
	childC := origin + "/api/v4/comment_v5/comment/300/child_comment?order_by=ts&limit=20&offset="

	api := &scriptedAPI{pages: map[string]string{
		root: `{"paging":{"is_end":false,"next":"` + rootNext + `"},"data":[
			{"id":"100","content":"<p>第一条</p>","created_time":1700000000,"like_count":5,"child_comment_count":1,"author":{"name":"甲"}},
			{"id":"200","content":"第二条","created_time":1700000100,"like_count":0,"child_comment_count":0,"author":{"member":{"name":"乙"}}}
		]}`,
		rootNext: `{"paging":{"is_end":true},"data":[
			{"id":300,"content":"<p>第三条</p>","like_count":1,"child_comment_count":2}
		]}`,
		childA: `{"paging":{"is_end":true},"data":[
			{"id":"101","content":"回复内容","created_time":1700000200,"like_count":2,"author":{"name":"丙"},"reply_to_author":{"name":"甲"}}
		]}`,
		childC: `{"paging":{"is_end":true},"data":[
			{"id":"301","content":"a","author":{"name":"丁"}},
			{"id":"302","content":"b","author":{"name":"戊"},"reply_to_author":{"name":"丁"}}
		]}`,
	}}

	cf := extract.NewCommentFetcher(api, origin, logger.NewNoOp())
	tree, err := cf.Fetch(context.Background(), links.NewAnswer("1", "2"))
	require.NoError(t, err)

	assert.Equal(t, []string{root, rootNext, childA, childC}, api.requested)

	p := func(s string) []models.Block {
		return []models.Block{&models.Paragraph{Inlines: []models.Inline{{Kind: models.InlineText, Text: s}}}}
	}
	want := []*models.Comment{
		{
			ID: "100", Author: "甲", Likes: 5, CreatedAt: time.Unix(1700000000, 0).UTC(), Body: p("第一条"),
			Children: []*models.Comment{
				{ID: "101", Author: "丙", ReplyTo: "甲", Likes: 2, CreatedAt: time.Unix(1700000200, 0).UTC(), Body: p("回复内容")},
			},
		},
		{ID: "200", Author: "乙", CreatedAt: time.Unix(1700000100, 0).UTC(), Body: p("第二条")},
		{
			ID: "300", Author: "匿名用户", Likes: 1, Body: p("第三条"),
			Children: []*models.Comment{
				{ID: "301", Author: "丁", Body: p("a")},
				{ID: "302", Author: "戊", ReplyTo: "丁", Body: p("b")},
			},
		},
	}
	if diff := cmp.Diff(want, tree); diff != "" {
		t.Errorf("comment tree mismatch (-want +got):\n%s", diff)
	}
}

func TestCommentFetcher_PropagatesErrors(t *testing.T) {
	api := &scriptedAPI{pages: map[string]string{}}
	cf := extract.NewCommentFetcher(api, origin, logger.NewNoOp())
	_, err := cf.Fetch(context.Background(), links.NewArticle("5"))
	require.Error(t, err)
	assert.Equal(t, []string{origin + "/api/v4/comment_v5/articles/5/root_comment?order_by=score&limit=20&offset="}, api.requested)
}

func TestCommentFetcher_MalformedJSON(t *testing.T) {
	url := origin + "/api/v4/comment_v5/pins/5/root_comment?order_by=score&limit=20&offset="
	api := &scriptedAPI{pages: map[string]string{url: "<html>"}}
	cf := extract.NewCommentFetcher(api, origin, logger.NewNoOp())
	_, err := cf.Fetch(context.Background(), links.NewPin("5"))
	assert.ErrorIs(t, err, extract.ErrMalformedContent)
}
