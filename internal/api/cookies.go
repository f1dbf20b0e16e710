package api

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/user/price-aggregator/internal/domain"
)

var errNoCookies = errors.New("no cookies found in request body")

// ParseCookies normalizes the cookie formats clients actually send: a JSON
// array as exported by browser extensions, a JSON object wrapping either an
// array or a raw header string, or a bare "name=value; name2=value2" string.
// Everything downstream sees only []domain.Cookie.
func ParseCookies(body []byte) ([]domain.Cookie, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, errNoCookies
	}

	switch trimmed[0] {
	case '[':
		var cookies []domain.Cookie
		if err := json.Unmarshal(body, &cookies); err != nil {
			return nil, errors.New("invalid cookie array: " + err.Error())
		}
		return validCookies(cookies)
	case '{':
		var wrapper struct {
			Cookies json.RawMessage `json:"cookies"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil || len(wrapper.Cookies) == 0 {
			return nil, errors.New("expected a 'cookies' field holding an array or string")
		}
		inner := strings.TrimSpace(string(wrapper.Cookies))
		if strings.HasPrefix(inner, "\"") {
			var raw string
			if err := json.Unmarshal(wrapper.Cookies, &raw); err != nil {
				return nil, errors.New("invalid cookie string: " + err.Error())
			}
			return parseCookieString(raw)
		}
		return ParseCookies(wrapper.Cookies)
	default:
		return parseCookieString(trimmed)
	}
}

// parseCookieString splits a Cookie request header value.
func parseCookieString(s string) ([]domain.Cookie, error) {
	var cookies []domain.Cookie
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found || strings.TrimSpace(name) == "" {
			continue
		}
		cookies = append(cookies, domain.Cookie{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return validCookies(cookies)
}

func validCookies(cookies []domain.Cookie) ([]domain.Cookie, error) {
	out := cookies[:0]
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, errNoCookies
	}
	return out, nil
}
