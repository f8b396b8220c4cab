// Package links turns platform URLs into content identifiers and keeps the
// ordered manifest of discovered items.
package links

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"zhihu_archiver/internal/models"
)

const (
	MainHost   = "www.zhihu.com"
	ColumnHost = "zhuanlan.zhihu.com"
)

var ErrUnrecognizedURL = errors.New("unrecognized content url")

var (
	answerPath         = regexp.MustCompile(`^/question/(\d+)/answer/(\d+)/?$`)
	bareAnswerPath     = regexp.MustCompile(`^/answer/(\d+)/?$`)
	articlePath        = regexp.MustCompile(`^/p/(\d+)/?$`)
	pinPath            = regexp.MustCompile(`^/pin/(\d+)/?$`)
	questionPath       = regexp.MustCompile(`^/question/(\d+)`)
	memberPath         = regexp.MustCompile(`^/(?:people|org)/([^/?#]+)`)
	digitsOnly         = regexp.MustCompile(`^\d+$`)
	memberTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)
)

func AnswerURL(questionID, answerID string) string {
	return fmt.Sprintf("https://%s/question/%s/answer/%s", MainHost, questionID, answerID)
}

func ArticleURL(id string) string {
	return fmt.Sprintf("https://%s/p/%s", ColumnHost, id)
}

func PinURL(id string) string {
	return fmt.Sprintf("https://%s/pin/%s", MainHost, id)
}

func QuestionURL(questionID string) string {
	return fmt.Sprintf("https://%s/question/%s", MainHost, questionID)
}

func NewAnswer(questionID, answerID string) models.ContentIdentifier {
	return models.ContentIdentifier{Kind: models.KindAnswer, PlatformID: answerID, CanonicalURL: AnswerURL(questionID, answerID)}
}

func NewArticle(id string) models.ContentIdentifier {
	return models.ContentIdentifier{Kind: models.KindArticle, PlatformID: id, CanonicalURL: ArticleURL(id)}
}

func NewPin(id string) models.ContentIdentifier {
	return models.ContentIdentifier{Kind: models.KindPin, PlatformID: id, CanonicalURL: PinURL(id)}
}

// Normalize resolves protocol-relative, path-only and www-less forms to an
// absolute https URL and drops the query and fragment.
func Normalize(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "//"):
		raw = "https:" + raw
	case strings.HasPrefix(raw, "/"):
		raw = "https://" + MainHost + raw
	case !strings.Contains(raw, "://"):
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedURL, err)
	}
	parsed.Scheme = "https"
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.Host = strings.ToLower(parsed.Host)
	if parsed.Host == "zhihu.com" {
		parsed.Host = MainHost
	}
	return parsed, nil
}

// ParseItemURL recognizes answer, article and pin URLs.
func ParseItemURL(raw string) (models.ContentIdentifier, error) {
	return ParseItemURLIn(raw, "")
}

// ParseItemURLIn is ParseItemURL for links found on a question page, where
// answers may be referenced as /answer/<id> without their question.
func ParseItemURLIn(raw, questionID string) (models.ContentIdentifier, error) {
	parsed, err := Normalize(raw)
	if err != nil {
		return models.ContentIdentifier{}, err
	}

	switch parsed.Host {
	case ColumnHost:
		if m := articlePath.FindStringSubmatch(parsed.Path); m != nil {
			return NewArticle(m[1]), nil
		}
	case MainHost:
		if m := answerPath.FindStringSubmatch(parsed.Path); m != nil {
			return NewAnswer(m[1], m[2]), nil
		}
		if m := bareAnswerPath.FindStringSubmatch(parsed.Path); m != nil && questionID != "" {
			return NewAnswer(questionID, m[1]), nil
		}
		if m := pinPath.FindStringSubmatch(parsed.Path); m != nil {
			return NewPin(m[1]), nil
		}
	}
	return models.ContentIdentifier{}, fmt.Errorf("%w: %s", ErrUnrecognizedURL, raw)
}

// QuestionID accepts a question URL or a bare numeric id.
func QuestionID(key string) (string, error) {
	key = strings.TrimSpace(key)
	if digitsOnly.MatchString(key) {
		return key, nil
	}
	parsed, err := Normalize(key)
	if err != nil {
		return "", err
	}
	if parsed.Host == MainHost {
		if m := questionPath.FindStringSubmatch(parsed.Path); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: not a question: %s", ErrUnrecognizedURL, key)
}

// TargetKey identifies a crawl target by its canonical form, so a profile
// URL and its bare token name the same target. Keys that do not parse are
// kept as given.
func TargetKey(t models.CrawlTarget) string {
	key := strings.TrimSpace(t.ScopeKey)
	switch t.Scope {
	case models.ScopeUser:
		if token, err := MemberToken(key); err == nil {
			key = token
		}
	case models.ScopeQuestion:
		if qid, err := QuestionID(key); err == nil {
			key = qid
		}
	case models.ScopeSingleItem:
		if id, err := ParseItemURL(key); err == nil {
			key = id.Key()
		}
	}
	return string(t.Scope) + ":" + key
}

// MemberToken accepts a profile URL or a bare url token.
func MemberToken(key string) (string, error) {
	key = strings.TrimSpace(key)
	if memberTokenPattern.MatchString(key) {
		return key, nil
	}
	parsed, err := Normalize(key)
	if err != nil {
		return "", err
	}
	if parsed.Host == MainHost {
		if m := memberPath.FindStringSubmatch(parsed.Path); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: not a profile: %s", ErrUnrecognizedURL, key)
}
