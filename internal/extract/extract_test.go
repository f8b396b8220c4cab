package extract_test

import (
	"errors"
	"os"
	"path/filepath"
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

func loadPage(t *testing.T, name, url string) *session.Snapshot {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return &session.Snapshot{URL: url, FinalURL: url, StatusCode: 200, ContentType: "text/html; charset=utf-8", Body: body}
}

func text(s string) models.Inline {
	return models.Inline{Kind: models.InlineText, Text: s}
}

func para(inlines ...models.Inline) *models.Paragraph {
	return &models.Paragraph{Inlines: inlines}
}

func TestExtract_Answer(t *testing.T) {
	id := links.NewAnswer("1", "2")
	doc, err := extract.New(logger.NewNoOp()).Extract(id, loadPage(t, "answer.html", id.CanonicalURL))
	require.NoError(t, err)

	assert.Equal(t, "如何理解欧拉公式？", doc.Meta.Title)
	assert.Equal(t, "Alice", doc.Meta.Author)
	assert.Equal(t, time.Date(2023, 4, 5, 0, 0, 0, 0, time.UTC), doc.Meta.PublishedAt)
	assert.Equal(t, id.CanonicalURL, doc.Meta.SourceURL)

	want := []models.Block{
		para(
			text("先看 "),
			models.Inline{Kind: models.InlineText, Text: "定义", Style: models.StyleBold},
			text("："),
			models.Inline{Kind: models.InlineFormula, Text: `e^{i\pi}+1=0`},
			text(" 成立。"),
		),
		&models.Formula{Display: models.DisplayBlock, Source: `\int_0^1 x\,dx`},
		&models.Heading{Level: 2, Inlines: []models.Inline{text("推导")}},
		&models.List{Start: 1, Items: []models.ListItem{
			{Blocks: []models.Block{
				para(text("第一点")),
				&models.List{Start: 1, Items: []models.ListItem{{Blocks: []models.Block{para(text("嵌套"))}}}},
			}},
			{Blocks: []models.Block{para(models.Inline{Kind: models.InlineText, Text: "第二点", Style: models.StyleItalic})}},
		}},
		&models.List{Ordered: true, Start: 3, Items: []models.ListItem{{Blocks: []models.Block{para(text("三"))}}}},
		&models.Quote{Blocks: []models.Block{para(
			text("引用 "),
			models.Inline{Kind: models.InlineText, Text: "链接", Href: "https://example.com/a"},
		)}},
		&models.Code{Language: "python", Text: `print("hi")`},
		&models.Formula{Display: models.DisplayBlock, Source: "a^2+b^2=c^2"},
		&models.Image{RemoteURL: "https://pic1.zhimg.com/v2-abc_r.jpg", Alt: "示意图"},
		&models.EmbedCard{Kind: "link", Title: "Example Card", URL: "https://example.com/card"},
		para(text("这是知乎直答词条。")),
	}
	if diff := cmp.Diff(want, doc.Blocks); diff != "" {
		t.Errorf("blocks mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_Article(t *testing.T) {
	id := links.NewArticle("9")
	doc, err := extract.New(logger.NewNoOp()).Extract(id, loadPage(t, "article.html", id.CanonicalURL))
	require.NoError(t, err)

	assert.Equal(t, "专栏文章", doc.Meta.Title)
	assert.Equal(t, "Bob", doc.Meta.Author)
	assert.Equal(t, "2021-12-31", doc.Meta.PublishedAt.Format(time.DateOnly))

	want := []models.Block{
		&models.Image{RemoteURL: "https://pic2.zhimg.com/v2-title.jpg", Alt: "TitleImage"},
		para(text("正文第一段。")),
		&models.Rule{},
		para(text("第二段"), models.Inline{Kind: models.InlineBreak}, text("换行")),
	}
	if diff := cmp.Diff(want, doc.Blocks); diff != "" {
		t.Errorf("blocks mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_PinTitleAndMissingDate(t *testing.T) {
	id := links.NewPin("77")
	doc, err := extract.New(logger.NewNoOp()).Extract(id, loadPage(t, "pin.html", id.CanonicalURL))
	require.NoError(t, err)

	assert.Equal(t, "今天天气很好，适合出去走走，顺便记录一下这段非常长的想法内容", doc.Meta.Title)
	assert.Equal(t, "Carol", doc.Meta.Author)
	assert.True(t, doc.Meta.PublishedAt.IsZero())
}

func TestExtract_MalformedContent(t *testing.T) {
	id := links.NewAnswer("1", "3")
	ex := extract.New(logger.NewNoOp())

	pages := map[string]string{
		"no body":    `<html><body><h1 class="QuestionHeader-title">t</h1></body></html>`,
		"empty body": `<html><body><div class="RichText"> <div class="RichText-video">v</div> </div></body></html>`,
	}
	for name, page := range pages {
		t.Run(name, func(t *testing.T) {
			snap := &session.Snapshot{URL: id.CanonicalURL, FinalURL: id.CanonicalURL, StatusCode: 200, Body: []byte(page)}
			_, err := ex.Extract(id, snap)
			assert.True(t, errors.Is(err, extract.ErrMalformedContent), "got %v", err)
		})
	}
}

func TestExtract_OptionalMetadataDegrades(t *testing.T) {
	id := links.NewAnswer("1", "4")
	page := `<html><head><title>某问题 - 知乎</title></head><body>
		<div class="RichText"><p>只有正文。</p></div></body></html>`
	snap := &session.Snapshot{URL: id.CanonicalURL, FinalURL: id.CanonicalURL, StatusCode: 200, Body: []byte(page)}

	doc, err := extract.New(logger.NewNoOp()).Extract(id, snap)
	require.NoError(t, err)
	assert.Equal(t, "某问题", doc.Meta.Title)
	assert.Empty(t, doc.Meta.Author)
	assert.True(t, doc.Meta.PublishedAt.IsZero())
	assert.Len(t, doc.Blocks, 1)
}

func TestExtract_TrimsSpaceAroundLineBreaks(t *testing.T) {
	id := links.NewPin("5")
	page := `<html><body><div class="PinItem-content"><div class="RichText">
		<p>第一行 <br>
		# 不是标题<br>
		> 不是引用</p></div></div></body></html>`
	snap := &session.Snapshot{URL: id.CanonicalURL, FinalURL: id.CanonicalURL, StatusCode: 200, Body: []byte(page)}

	doc, err := extract.New(logger.NewNoOp()).Extract(id, snap)
	require.NoError(t, err)

	br := models.Inline{Kind: models.InlineBreak}
	want := []models.Block{para(text("第一行"), br, text("# 不是标题"), br, text("> 不是引用"))}
	if diff := cmp.Diff(want, doc.Blocks); diff != "" {
		t.Errorf("blocks mismatch (-want +got):\n%s", diff)
	}
}
