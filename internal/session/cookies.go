package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"
)

// browserCookie is the cookie shape exported by browser automation tools,
// either as a bare array or under a "cookies" key.
type browserCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

type storageState struct {
	Cookies []browserCookie `json:"cookies"`
}

// loadCookies fills jar from path and returns how many cookies were set.
// A missing file yields an empty jar.
func loadCookies(path string, jar *cookiejar.Jar) (int, error) {
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cookies: %w", err)
	}

	var cookies []browserCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		var state storageState
		if err2 := json.Unmarshal(data, &state); err2 != nil {
			return 0, fmt.Errorf("parse cookies %s: %w", path, err)
		}
		cookies = state.Cookies
	}

	byHost := make(map[string][]*http.Cookie)
	for _, c := range cookies {
		host := strings.TrimPrefix(c.Domain, ".")
		if host == "" || c.Name == "" {
			continue
		}
		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HttpOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if cookie.Path == "" {
			cookie.Path = "/"
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0)
		}
		byHost[host] = append(byHost[host], cookie)
	}

	count := 0
	for host, list := range byHost {
		jar.SetCookies(&url.URL{Scheme: "https", Host: host, Path: "/"}, list)
		count += len(list)
	}
	return count, nil
}
