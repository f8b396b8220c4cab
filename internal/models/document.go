package models

import "time"

// Metadata describes an extracted item. Missing optional fields stay empty;
// a zero PublishedAt means the date is unknown.
type Metadata struct {
	Title       string
	Author      string
	PublishedAt time.Time
	SourceURL   string
}

// Document is the structured intermediate representation of one item.
// It is produced per fetched item and never persisted.
type Document struct {
	ID       ContentIdentifier
	Meta     Metadata
	Blocks   []Block
	Comments []*Comment
}

// Block is one structural unit of extracted content. The concrete types
// below form a closed set.
type Block interface {
	block()
}

type Paragraph struct {
	Inlines []Inline
}

type Heading struct {
	Level   int
	Inlines []Inline
}

type List struct {
	Ordered bool
	Start   int
	Items   []ListItem
}

type ListItem struct {
	Blocks []Block
}

type Quote struct {
	Blocks []Block
}

type Code struct {
	Language string
	Text     string
}

// FormulaDisplay distinguishes inline from block formulas.
type FormulaDisplay int

const (
	DisplayInline FormulaDisplay = iota
	DisplayBlock
)

// Formula holds normalized TeX source; renderers insert it verbatim.
type Formula struct {
	Display FormulaDisplay
	Source  string
}

// Image references a remote picture. LocalPath is set by the image
// localizer once the bytes are stored next to the artifact.
type Image struct {
	RemoteURL string
	Alt       string
	LocalPath string
}

type EmbedCard struct {
	Kind  string
	Title string
	URL   string
}

// Rule is a thematic break.
type Rule struct{}

func (*Paragraph) block() {}
func (*Heading) block()   {}
func (*List) block()      {}
func (*Quote) block()     {}
func (*Code) block()      {}
func (*Formula) block()   {}
func (*Image) block()     {}
func (*EmbedCard) block() {}
func (*Rule) block()      {}

type InlineKind int

const (
	InlineText InlineKind = iota
	InlineFormula
	InlineBreak
)

type Style uint8

const (
	StyleBold Style = 1 << iota
	StyleItalic
	StyleCode
	StyleStrike
)

// Inline is a run of text inside a paragraph or heading.
type Inline struct {
	Kind  InlineKind
	Text  string
	Style Style
	Href  string
}

func (i Inline) Has(s Style) bool {
	return i.Style&s != 0
}

// Comment is one node of a comment tree. Roots keep platform order and
// replies keep their returned order.
type Comment struct {
	ID        string
	Author    string
	ReplyTo   string
	CreatedAt time.Time
	Likes     int
	Body      []Block
	Children  []*Comment
}

// LocalImage is a content-addressed image stored next to an artifact.
type LocalImage struct {
	ContentHash string `json:"content_hash"`
	StoredPath  string `json:"stored_path"`
	SourceURL   string `json:"source_url"`
}

// WalkImages calls fn for every image block, descending into lists,
// quotes and comment bodies.
func WalkImages(blocks []Block, fn func(*Image)) {
	for _, b := range blocks {
		switch v := b.(type) {
		case *Image:
			fn(v)
		case *List:
			for _, item := range v.Items {
				WalkImages(item.Blocks, fn)
			}
		case *Quote:
			WalkImages(v.Blocks, fn)
		}
	}
}

// WalkCommentImages applies WalkImages to every comment body in the tree.
func WalkCommentImages(comments []*Comment, fn func(*Image)) {
	queue := append([]*Comment(nil), comments...)
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		WalkImages(c.Body, fn)
		queue = append(queue, c.Children...)
	}
}
