// Package render serializes structured documents to Markdown. Output is a
// pure function of its input.
package render

import (
	"fmt"
	"strings"
	"time"

	"zhihu_archiver/internal/models"
)

const (
	ImagePlaceholder = "[image]"
	unknownAuthor    = "未知作者"
	unknownDate      = "未知"
	unknownTime      = "未知时间"
	untitled         = "untitled"
)

// platformZone fixes comment timestamps to the platform's local time so
// output does not depend on the machine rendering it.
var platformZone = time.FixedZone("UTC+8", 8*60*60)

type Options struct {
	// TextOnly renders every image as ImagePlaceholder.
	TextOnly bool
}

// Render returns the full Markdown artifact for doc: header, body and,
// when present, the comment section.
func Render(doc *models.Document, opts Options) string {
	r := &renderer{opts: opts}
	var sb strings.Builder
	sb.WriteString(Header(doc.ID.Kind, doc.Meta))
	sb.WriteString(r.blocks(doc.Blocks))
	sb.WriteString("\n")
	if len(doc.Comments) > 0 {
		sb.WriteString(r.comments(doc.Comments))
	}
	return sb.String()
}

// Header renders the title and metadata block that opens every artifact.
func Header(kind models.Kind, meta models.Metadata) string {
	title := strings.TrimSpace(meta.Title)
	if title == "" {
		title = untitled
	}
	author := strings.TrimSpace(meta.Author)
	if author == "" {
		author = unknownAuthor
	}
	return fmt.Sprintf("# %s\n\n> **类型**: %s  \n> **作者**: %s  \n> **来源**: [%s](%s)  \n> **日期**: %s\n\n---\n\n",
		escapeText(title), kind.Label(), escapeText(author), meta.SourceURL, meta.SourceURL, FormatDate(meta.PublishedAt))
}

// FormatDate renders a publication date, or a marker when it is unknown.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return unknownDate
	}
	return t.Format(time.DateOnly)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return unknownTime
	}
	return t.In(platformZone).Format("2006-01-02 15:04")
}

type renderer struct {
	opts Options
}

func (r *renderer) blocks(blocks []models.Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if s := r.block(b); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func (r *renderer) block(b models.Block) string {
	switch v := b.(type) {
	case *models.Paragraph:
		return escapeLineStarts(inlines(v.Inlines))
	case *models.Heading:
		level := min(max(v.Level, 1), 6)
		text := strings.ReplaceAll(inlines(v.Inlines), "  \n", " ")
		return strings.Repeat("#", level) + " " + text
	case *models.List:
		return r.list(v)
	case *models.Quote:
		return quote(r.blocks(v.Blocks), 1)
	case *models.Code:
		return codeBlock(v)
	case *models.Formula:
		return "$$\n" + v.Source + "\n$$"
	case *models.Image:
		return r.image(v)
	case *models.EmbedCard:
		title := v.Title
		if title == "" {
			title = v.URL
		}
		return "[" + escapeText(title) + "](" + linkTarget(v.URL) + ")"
	case *models.Rule:
		return "---"
	default:
		return ""
	}
}

func (r *renderer) image(img *models.Image) string {
	if r.opts.TextOnly {
		return ImagePlaceholder
	}
	target := img.LocalPath
	if target == "" {
		target = img.RemoteURL
	}
	return "![" + escapeText(img.Alt) + "](" + linkTarget(target) + ")"
}

// list renders items with their continuation lines indented by the width
// of the item marker so nesting survives.
func (r *renderer) list(l *models.List) string {
	items := make([]string, 0, len(l.Items))
	for i, item := range l.Items {
		marker := "- "
		if l.Ordered {
			marker = fmt.Sprintf("%d. ", l.Start+i)
		}

		var body strings.Builder
		for j, b := range item.Blocks {
			s := r.block(b)
			if s == "" {
				continue
			}
			if body.Len() > 0 {
				if _, nested := item.Blocks[j].(*models.List); nested {
					body.WriteString("\n")
				} else {
					body.WriteString("\n\n")
				}
			}
			body.WriteString(s)
		}
		items = append(items, marker+indent(body.String(), len(marker)))
	}
	return strings.Join(items, "\n")
}

func indent(s string, width int) string {
	pad := strings.Repeat(" ", width)
	lines := strings.Split(s, "\n")
	for i := 1; i < len(lines); i++ {
		if lines[i] != "" {
			lines[i] = pad + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}

// quote prefixes every line with depth blockquote markers.
func quote(s string, depth int) string {
	prefix := strings.Repeat("> ", depth)
	bare := strings.TrimRight(prefix, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line == "" {
			lines[i] = bare
		} else {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}

func codeBlock(c *models.Code) string {
	fence := strings.Repeat("`", max(3, longestRun(c.Text, '`')+1))
	return fence + c.Language + "\n" + c.Text + "\n" + fence
}

func longestRun(s string, ch rune) int {
	longest, run := 0, 0
	for _, c := range s {
		if c == ch {
			run++
			longest = max(longest, run)
		} else {
			run = 0
		}
	}
	return longest
}

func (r *renderer) comments(roots []*models.Comment) string {
	var sb strings.Builder
	sb.WriteString("\n---\n\n## 评论区\n")
	for i, c := range roots {
		fmt.Fprintf(&sb, "\n### %d楼 · %s · %s · 👍 %d\n", i+1, escapeText(c.Author), formatTime(c.CreatedAt), c.Likes)
		if body := r.blocks(c.Body); body != "" {
			sb.WriteString("\n" + body + "\n")
		}
		r.replies(&sb, c.Children, 1)
	}
	return sb.String()
}

// replies writes each reply as its own blockquote, nested one level deeper
// per reply generation.
func (r *renderer) replies(sb *strings.Builder, children []*models.Comment, depth int) {
	for _, c := range children {
		head := "**" + escapeText(c.Author) + "**"
		if c.ReplyTo != "" {
			head += " 回复 " + escapeText(c.ReplyTo)
		}
		head += fmt.Sprintf(" · %s · 👍 %d", formatTime(c.CreatedAt), c.Likes)

		text := head
		if body := r.blocks(c.Body); body != "" {
			text += "\n\n" + body
		}
		sb.WriteString("\n" + quote(text, depth) + "\n")
		r.replies(sb, c.Children, depth+1)
	}
}
