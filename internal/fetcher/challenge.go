package fetcher

import (
	"net/http"
	"regexp"
	"strings"

	"zhihu_archiver/internal/session"
)

var (
	challengeCode  = regexp.MustCompile(`"code"\s*:\s*40362\b`)
	challengeTitle = regexp.MustCompile(`<title>[^<]*安全验证[^<]*</title>`)
)

const (
	challengeText = "请求存在异常"
	unhumanPath   = "/account/unhuman"
)

// DetectChallenge returns a short description of the challenge signature
// found in snap, or "" when the response looks like real content. Assets
// are only judged by status and redirect target.
func DetectChallenge(snap *session.Snapshot, class Class) string {
	switch snap.StatusCode {
	case http.StatusForbidden:
		return "status 403"
	case http.StatusTooManyRequests:
		return "status 429"
	}
	if strings.Contains(snap.FinalURL, unhumanPath) {
		return "redirected to " + unhumanPath
	}
	if class == ClassAsset {
		return ""
	}

	body := snap.Body
	if challengeCode.Match(body) {
		return "error code 40362"
	}
	text := string(body)
	if strings.Contains(text, challengeText) {
		return "abnormal request notice"
	}
	if challengeTitle.MatchString(text) {
		return "captcha page"
	}
	return ""
}
