package render

import (
	"regexp"
	"strings"

	"zhihu_archiver/internal/models"
)

var (
	textEscaper = strings.NewReplacer(
		`\`, `\\`,
		"`", "\\`",
		`*`, `\*`,
		`_`, `\_`,
		`[`, `\[`,
		`]`, `\]`,
		`<`, `\<`,
		`$`, `\$`,
	)
	blockStart   = regexp.MustCompile(`^([ \t]*)([#>+=-])`)
	orderedStart = regexp.MustCompile(`^([ \t]*\d+)([.)])`)
)

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

// escapeLineStarts keeps paragraph lines from being read as headings,
// quotes or list items, including lines indented by a few spaces.
func escapeLineStarts(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		switch {
		case blockStart.MatchString(line):
			lines[i] = blockStart.ReplaceAllString(line, `$1\$2`)
		case orderedStart.MatchString(line):
			lines[i] = orderedStart.ReplaceAllString(line, `$1\$2`)
		}
	}
	return strings.Join(lines, "\n")
}

func inlines(runs []models.Inline) string {
	var sb strings.Builder
	for _, run := range runs {
		switch run.Kind {
		case models.InlineBreak:
			sb.WriteString("  \n")
		case models.InlineFormula:
			sb.WriteString("$" + run.Text + "$")
		default:
			sb.WriteString(textRun(run))
		}
	}
	return sb.String()
}

func textRun(run models.Inline) string {
	var s string
	if run.Has(models.StyleCode) {
		s = codeSpan(run.Text)
	} else {
		s = escapeText(run.Text)
		if run.Has(models.StyleStrike) {
			s = wrap(s, "~~")
		}
		if run.Has(models.StyleItalic) {
			s = wrap(s, "*")
		}
		if run.Has(models.StyleBold) {
			s = wrap(s, "**")
		}
	}
	if run.Href != "" {
		s = "[" + s + "](" + linkTarget(run.Href) + ")"
	}
	return s
}

// wrap places marker around s, keeping edge whitespace outside so the
// emphasis stays valid.
func wrap(s, marker string) string {
	core := strings.TrimSpace(s)
	if core == "" {
		return s
	}
	start := strings.Index(s, core)
	return s[:start] + marker + core + marker + s[start+len(core):]
}

func codeSpan(s string) string {
	fence := strings.Repeat("`", longestRun(s, '`')+1)
	if strings.HasPrefix(s, "`") || strings.HasSuffix(s, "`") {
		return fence + " " + s + " " + fence
	}
	return fence + s + fence
}

func linkTarget(u string) string {
	if strings.ContainsAny(u, " ()<>") {
		return "<" + strings.NewReplacer("<", "%3C", ">", "%3E").Replace(u) + ">"
	}
	return u
}
