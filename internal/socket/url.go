package socket

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/soyeahso/wayfarer/internal/domain"
)

// SessionPlaceholder is replaced by the escaped session id in endpoint templates.
const SessionPlaceholder = "{sessionId}"

// BuildURL derives the socket URL for a session. The scheme follows the base
// URL: https becomes wss, http becomes ws.
func BuildURL(baseURL, endpoint string, sess domain.Session, includeUserID bool) (string, error) {
	if err := sess.Validate(); err != nil {
		return "", err
	}
	if !strings.Contains(endpoint, SessionPlaceholder) {
		return "", fmt.Errorf("endpoint %q has no %s segment", endpoint, SessionPlaceholder)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}

	path := strings.ReplaceAll(endpoint, SessionPlaceholder, url.PathEscape(sess.ID))
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawPath = ""
	u.Fragment = ""

	q := url.Values{}
	if includeUserID && sess.UserID != "" {
		q.Set("user_id", sess.UserID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
