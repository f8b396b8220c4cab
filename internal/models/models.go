package models

import "fmt"

// Kind is the type of an archivable content item.
type Kind string

const (
	KindAnswer  Kind = "answer"
	KindArticle Kind = "article"
	KindPin     Kind = "pin"
)

func (k Kind) Valid() bool {
	switch k {
	case KindAnswer, KindArticle, KindPin:
		return true
	default:
		return false
	}
}

// Dir is the per-kind directory name under the output root.
func (k Kind) Dir() string {
	return string(k) + "s"
}

// Label is the human-readable type label written into artifact headers.
func (k Kind) Label() string {
	switch k {
	case KindAnswer:
		return "回答"
	case KindArticle:
		return "文章"
	case KindPin:
		return "想法"
	default:
		return string(k)
	}
}

// ContentIdentifier is the canonical reference to one archivable item.
// Two identifiers are equal when kind and platform id match; the canonical
// URL is informational.
type ContentIdentifier struct {
	Kind         Kind   `json:"kind" bson:"kind"`
	PlatformID   string `json:"platform_id" bson:"platform_id"`
	CanonicalURL string `json:"canonical_url" bson:"canonical_url"`
}

// Key returns the equality key "<kind>:<platform_id>".
func (id ContentIdentifier) Key() string {
	return string(id.Kind) + ":" + id.PlatformID
}

func (id ContentIdentifier) Equal(other ContentIdentifier) bool {
	return id.Kind == other.Kind && id.PlatformID == other.PlatformID
}

func (id ContentIdentifier) String() string {
	return fmt.Sprintf("%s %s", id.Kind, id.PlatformID)
}

// Scope selects what a crawl target covers.
type Scope string

const (
	ScopeUser       Scope = "user"
	ScopeQuestion   Scope = "question"
	ScopeSingleItem Scope = "single_item"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeUser, ScopeQuestion, ScopeSingleItem:
		return true
	default:
		return false
	}
}

type Filters struct {
	OnlyAnswers  bool `json:"only_answers" yaml:"only_answers"`
	OnlyArticles bool `json:"only_articles" yaml:"only_articles"`
	IncludePins  bool `json:"include_pins" yaml:"include_pins"`
	// ItemLimit caps the number of discovered items; zero means no limit.
	ItemLimit int `json:"item_limit" yaml:"item_limit"`
}

// Allows reports whether items of the given kind pass the scope filters.
func (f Filters) Allows(kind Kind) bool {
	switch kind {
	case KindAnswer:
		return !f.OnlyArticles
	case KindArticle:
		return !f.OnlyAnswers
	case KindPin:
		return f.IncludePins && !f.OnlyAnswers && !f.OnlyArticles
	default:
		return false
	}
}

// CrawlTarget is created from caller input and stays immutable for a run.
type CrawlTarget struct {
	Scope    Scope   `json:"scope" yaml:"scope"`
	ScopeKey string  `json:"key" yaml:"key"`
	Filters  Filters `json:"filters" yaml:",inline"`
}
