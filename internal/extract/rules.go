package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"zhihu_archiver/internal/models"
)

// denoiseAction says what happens to an element matched by a rule.
type denoiseAction int

const (
	actionRemove denoiseAction = iota
	actionUnwrap
)

type denoiseRule struct {
	selector string
	action   denoiseAction
}

// denoiseRules drop promotional and video placeholders and flatten inline
// quick-answer links to their text.
var denoiseRules = []denoiseRule{
	{".RichText-ADLinkCardContainer", actionRemove},
	{".MCNLinkCard", actionRemove},
	{".RichText-video", actionRemove},
	{".VideoCard", actionRemove},
	{"a.video-box", actionRemove},
	{".ZVideoLinkCard", actionRemove},
	{"noscript", actionRemove},
	{"script", actionRemove},
	{"style", actionRemove},
	{"a.RichContent-EntityWord", actionUnwrap},
	{`a[href*="zhida.zhihu.com"]`, actionUnwrap},
}

func denoise(sel *goquery.Selection) {
	for _, rule := range denoiseRules {
		sel.Find(rule.selector).Each(func(_ int, s *goquery.Selection) {
			switch rule.action {
			case actionRemove:
				s.Remove()
			case actionUnwrap:
				s.ReplaceWithSelection(s.Contents())
			}
		})
	}
}

// formulaRule recognizes one kind of proprietary math markup and returns
// its raw TeX source.
type formulaRule struct {
	name   string
	source func(n *html.Node) (string, bool)
}

var formulaRules = []formulaRule{
	{name: "math span", source: mathSpanSource},
	{name: "equation image", source: equationImageSource},
}

func mathSpanSource(n *html.Node) (string, bool) {
	if n.DataAtom != atom.Span || !hasClass(n, "ztext-math") {
		return "", false
	}
	if tex, ok := attr(n, "data-tex"); ok {
		return tex, true
	}
	return textContent(n), true
}

func equationImageSource(n *html.Node) (string, bool) {
	if n.DataAtom != atom.Img {
		return "", false
	}
	src, _ := attr(n, "src")
	_, eeimg := attr(n, "eeimg")
	if !eeimg && !strings.Contains(src, "/equation?tex=") {
		return "", false
	}
	if alt, ok := attr(n, "alt"); ok && strings.TrimSpace(alt) != "" {
		return alt, true
	}
	if u, err := url.Parse(src); err == nil {
		if tex := u.Query().Get("tex"); tex != "" {
			return tex, true
		}
	}
	return "", true
}

// recognizeFormula applies the formula rules to n.
func recognizeFormula(n *html.Node) (*models.Formula, bool) {
	for _, rule := range formulaRules {
		if raw, ok := rule.source(n); ok {
			return normalizeFormula(raw), true
		}
	}
	return nil, false
}

// normalizeFormula trims the source. A trailing "\\" marks display math
// and is removed.
func normalizeFormula(raw string) *models.Formula {
	src := strings.TrimSpace(raw)
	f := &models.Formula{Display: models.DisplayInline}
	if strings.HasSuffix(src, `\\`) {
		f.Display = models.DisplayBlock
		src = strings.TrimSpace(strings.TrimSuffix(src, `\\`))
	}
	f.Source = src
	return f
}

// linkCard converts a.LinkCard anchors into embed cards.
func linkCard(n *html.Node) (*models.EmbedCard, bool) {
	if n.DataAtom != atom.A || !hasClass(n, "LinkCard") {
		return nil, false
	}
	href, _ := attr(n, "href")
	title, _ := attr(n, "data-text")
	if title == "" {
		title = collapseSpace(textContent(n))
	}
	return &models.EmbedCard{Kind: "link", Title: strings.TrimSpace(title), URL: resolveHref(href)}, true
}

// resolveHref unwraps link.zhihu.com redirects and protocol-relative URLs.
func resolveHref(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if u.Host == "link.zhihu.com" {
		if target := u.Query().Get("target"); target != "" {
			return target
		}
	}
	return href
}

// imageSource prefers the full-size original over lazy-load placeholders.
func imageSource(n *html.Node) string {
	for _, key := range []string{"data-original", "data-actualsrc", "src"} {
		if v, ok := attr(n, key); ok {
			v = strings.TrimSpace(v)
			if v == "" || strings.HasPrefix(v, "data:") {
				continue
			}
			if strings.HasPrefix(v, "//") {
				v = "https:" + v
			}
			return v
		}
	}
	return ""
}
