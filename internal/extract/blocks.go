package extract

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"zhihu_archiver/internal/models"
)

// builder accumulates blocks and the inline runs of the paragraph being
// assembled.
type builder struct {
	blocks  []models.Block
	inlines []models.Inline
}

func (b *builder) add(block models.Block) {
	b.flush()
	b.blocks = append(b.blocks, block)
}

func (b *builder) inline(in models.Inline) {
	b.inlines = append(b.inlines, in)
}

// flush closes the current paragraph. A paragraph holding nothing but one
// formula becomes a display formula.
func (b *builder) flush() {
	inlines := tidyInlines(b.inlines)
	b.inlines = nil
	if len(inlines) == 0 {
		return
	}
	if len(inlines) == 1 && inlines[0].Kind == models.InlineFormula {
		b.blocks = append(b.blocks, &models.Formula{Display: models.DisplayBlock, Source: inlines[0].Text})
		return
	}
	b.blocks = append(b.blocks, &models.Paragraph{Inlines: inlines})
}

// convertChildren turns the children of n into blocks.
func convertChildren(n *html.Node) []models.Block {
	b := &builder{}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		convertNode(b, c, 0, "")
	}
	b.flush()
	return b.blocks
}

func convertNode(b *builder, n *html.Node, style models.Style, href string) {
	switch n.Type {
	case html.TextNode:
		if text := collapseSpace(n.Data); text != "" {
			b.inline(models.Inline{Kind: models.InlineText, Text: text, Style: style, Href: href})
		}
		return
	case html.ElementNode:
	default:
		return
	}

	if f, ok := recognizeFormula(n); ok {
		if f.Source == "" {
			return
		}
		if f.Display == models.DisplayBlock {
			b.add(f)
			return
		}
		b.inline(models.Inline{Kind: models.InlineFormula, Text: f.Source})
		return
	}
	if card, ok := linkCard(n); ok {
		b.add(card)
		return
	}

	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Svg:
		return
	case atom.Br:
		b.inline(models.Inline{Kind: models.InlineBreak})
	case atom.Hr:
		b.add(&models.Rule{})
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		level, _ := strconv.Atoi(n.Data[1:])
		b.flush()
		if inlines := inlineContent(n); len(inlines) > 0 {
			b.blocks = append(b.blocks, &models.Heading{Level: level, Inlines: inlines})
		}
	case atom.Ul, atom.Ol:
		if l := convertList(n); len(l.Items) > 0 {
			b.add(l)
		}
	case atom.Blockquote:
		if inner := convertChildren(n); len(inner) > 0 {
			b.add(&models.Quote{Blocks: inner})
		}
	case atom.Pre:
		b.add(convertCode(n))
	case atom.Figure:
		convertFigure(b, n)
	case atom.Img:
		if img := convertImage(n, ""); img != nil {
			b.add(img)
		}
	case atom.A:
		link, _ := attr(n, "href")
		convertInlineChildren(b, n, style, resolveHref(link))
	case atom.B, atom.Strong:
		convertInlineChildren(b, n, style|models.StyleBold, href)
	case atom.I, atom.Em:
		convertInlineChildren(b, n, style|models.StyleItalic, href)
	case atom.S, atom.Del, atom.Strike:
		convertInlineChildren(b, n, style|models.StyleStrike, href)
	case atom.Code:
		if text := textContent(n); text != "" {
			b.inline(models.Inline{Kind: models.InlineText, Text: text, Style: style | models.StyleCode, Href: href})
		}
	case atom.Td, atom.Th:
		b.inline(models.Inline{Kind: models.InlineText, Text: " | "})
		convertInlineChildren(b, n, style, href)
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Tr, atom.Table, atom.Tbody, atom.Thead, atom.Li, atom.Figcaption:
		b.flush()
		convertInlineChildren(b, n, style, href)
		b.flush()
	default:
		convertInlineChildren(b, n, style, href)
	}
}

func convertInlineChildren(b *builder, n *html.Node, style models.Style, href string) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		convertNode(b, c, style, href)
	}
}

// inlineContent flattens n into inline runs, dropping block structure.
func inlineContent(n *html.Node) []models.Inline {
	b := &builder{}
	convertInlineChildren(b, n, 0, "")
	inlines := b.inlines
	for _, block := range b.blocks {
		if p, ok := block.(*models.Paragraph); ok {
			inlines = append(inlines, p.Inlines...)
		}
	}
	return tidyInlines(inlines)
}

func convertList(n *html.Node) *models.List {
	l := &models.List{Ordered: n.DataAtom == atom.Ol, Start: 1}
	if l.Ordered {
		if v, ok := attr(n, "start"); ok {
			if start, err := strconv.Atoi(v); err == nil {
				l.Start = start
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.DataAtom != atom.Li {
			continue
		}
		l.Items = append(l.Items, models.ListItem{Blocks: convertChildren(c)})
	}
	return l
}

func convertCode(n *html.Node) *models.Code {
	code := &models.Code{Language: codeLanguage(n), Text: strings.TrimRight(textContent(n), "\n")}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Code && code.Language == "" {
			code.Language = codeLanguage(c)
		}
	}
	return code
}

func codeLanguage(n *html.Node) string {
	if lang, ok := attr(n, "lang"); ok && lang != "" {
		return strings.ToLower(lang)
	}
	if class, ok := attr(n, "class"); ok {
		for _, c := range strings.Fields(class) {
			if lang, found := strings.CutPrefix(c, "language-"); found && lang != "" && lang != "text" {
				return strings.ToLower(lang)
			}
		}
	}
	return ""
}

// convertFigure emits the figure's images, using the caption as alt text.
func convertFigure(b *builder, n *html.Node) {
	caption := ""
	var imgs []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Img:
				imgs = append(imgs, n)
				return
			case atom.Figcaption:
				caption = strings.TrimSpace(collapseSpace(textContent(n)))
				return
			case atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	for _, img := range imgs {
		if f, ok := recognizeFormula(img); ok {
			if f.Source != "" {
				f.Display = models.DisplayBlock
				b.add(f)
			}
			continue
		}
		if block := convertImage(img, caption); block != nil {
			b.add(block)
		}
	}
}

func convertImage(n *html.Node, caption string) *models.Image {
	src := imageSource(n)
	if src == "" {
		return nil
	}
	alt := caption
	if alt == "" {
		alt, _ = attr(n, "alt")
	}
	return &models.Image{RemoteURL: src, Alt: strings.TrimSpace(alt)}
}

// tidyInlines merges adjacent runs with equal formatting, trims the edges
// of the paragraph and drops leading or trailing breaks.
func tidyInlines(in []models.Inline) []models.Inline {
	var out []models.Inline
	for _, run := range in {
		if run.Kind == models.InlineText && run.Text == "" {
			continue
		}
		if n := len(out); n > 0 && run.Kind == models.InlineText && out[n-1].Kind == models.InlineText &&
			out[n-1].Style == run.Style && out[n-1].Href == run.Href {
			out[n-1].Text += run.Text
			if run.Style&models.StyleCode == 0 {
				out[n-1].Text = collapseSpace(out[n-1].Text)
			}
			continue
		}
		out = append(out, run)
	}

	for len(out) > 0 && out[0].Kind == models.InlineBreak {
		out = out[1:]
	}
	for len(out) > 0 && out[len(out)-1].Kind == models.InlineBreak {
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return nil
	}

	if out[0].Kind == models.InlineText && out[0].Style&models.StyleCode == 0 {
		out[0].Text = strings.TrimLeft(out[0].Text, " ")
	}
	last := len(out) - 1
	if out[last].Kind == models.InlineText && out[last].Style&models.StyleCode == 0 {
		out[last].Text = strings.TrimRight(out[last].Text, " ")
	}

	for i := range out {
		if out[i].Kind != models.InlineBreak {
			continue
		}
		if i > 0 && out[i-1].Kind == models.InlineText && out[i-1].Style&models.StyleCode == 0 {
			out[i-1].Text = strings.TrimRight(out[i-1].Text, " ")
		}
		if i+1 < len(out) && out[i+1].Kind == models.InlineText && out[i+1].Style&models.StyleCode == 0 {
			out[i+1].Text = strings.TrimLeft(out[i+1].Text, " ")
		}
	}

	kept := out[:0]
	for _, run := range out {
		if run.Kind == models.InlineText && run.Text == "" {
			continue
		}
		kept = append(kept, run)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
