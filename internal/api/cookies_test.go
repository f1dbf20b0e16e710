package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/price-aggregator/internal/domain"
)

func TestParseCookiesJSONArray(t *testing.T) {
	body := `[
		{"name":"SPC_SI","value":"abc123","domain":".shopee.co.id","path":"/"},
		{"name":"csrftoken","value":"xyz","domain":".shopee.co.id","path":"/","httpOnly":true,"secure":true}
	]`
	cookies, err := ParseCookies([]byte(body))
	require.NoError(t, err)
	require.Len(t, cookies, 2)
	assert.Equal(t, domain.Cookie{Name: "SPC_SI", Value: "abc123", Domain: ".shopee.co.id", Path: "/"}, cookies[0])
	// Extra browser-export fields are ignored.
	assert.Equal(t, "csrftoken", cookies[1].Name)
}

func TestParseCookiesWrappedArray(t *testing.T) {
	body := `{"cookies":[{"name":"sid","value":"1"}]}`
	cookies, err := ParseCookies([]byte(body))
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
}

func TestParseCookiesWrappedString(t *testing.T) {
	body := `{"cookies":"sid=1; token=abc; flag"}`
	cookies, err := ParseCookies([]byte(body))
	require.NoError(t, err)
	// Nameless fragments are dropped.
	require.Len(t, cookies, 2)
	assert.Equal(t, domain.Cookie{Name: "sid", Value: "1"}, cookies[0])
	assert.Equal(t, domain.Cookie{Name: "token", Value: "abc"}, cookies[1])
}

func TestParseCookiesRawHeaderString(t *testing.T) {
	cookies, err := ParseCookies([]byte("sid=1; token=abc"))
	require.NoError(t, err)
	require.Len(t, cookies, 2)
	assert.Equal(t, "token", cookies[1].Name)
	assert.Equal(t, "abc", cookies[1].Value)
}

func TestParseCookiesRejectsGarbage(t *testing.T) {
	for _, body := range []string{"", "   ", "[{broken", `{"other":1}`, ";;;"} {
		_, err := ParseCookies([]byte(body))
		assert.Error(t, err, "body %q", body)
	}
}
