package cookie

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"accountgate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNames = Names{
	Access:        "sb-access-token",
	Refresh:       "sb-refresh-token",
	LegacyAccess:  "access_token",
	LegacyRefresh: "refresh_token",
}

func TestParse(t *testing.T) {
	got := Parse("a=1; sb-access-token=tok; bad; a=2; theme=dark")
	assert.Equal(t, "1", got["a"])
	assert.Equal(t, "tok", got["sb-access-token"])
	assert.Equal(t, "dark", got["theme"])
	assert.NotContains(t, got, "bad")

	assert.Empty(t, Parse(""))
}

func TestNamesPreferCanonical(t *testing.T) {
	cookies := Parse("access_token=old; sb-access-token=new; refresh_token=r-old")
	assert.Equal(t, "new", testNames.AccessToken(cookies))
	assert.Equal(t, "r-old", testNames.RefreshToken(cookies))

	legacyOnly := Parse("access_token=old")
	assert.Equal(t, "old", testNames.AccessToken(legacyOnly))
	assert.Equal(t, "", testNames.RefreshToken(legacyOnly))
}

func TestPresent(t *testing.T) {
	cookies := Parse("access_token=x; sb-refresh-token=y; other=z")
	assert.ElementsMatch(t, []string{"access_token", "sb-refresh-token"}, testNames.Present(cookies))
}

func TestSessionCookiesRequiresBothTokens(t *testing.T) {
	c := NewCodec(testNames, "", true)
	_, err := c.SessionCookies(models.Session{AccessToken: "a"})
	assert.ErrorIs(t, err, ErrIncompleteSession)

	rec := httptest.NewRecorder()
	err = c.WriteSession(rec, models.Session{RefreshToken: "r"})
	assert.ErrorIs(t, err, ErrIncompleteSession)
	assert.Empty(t, rec.Header().Values("Set-Cookie"))
}

func TestSessionCookiesAttributes(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCodec(testNames, "example.com", true)
	c.now = func() time.Time { return now }

	cookies, err := c.SessionCookies(models.Session{
		AccessToken:   "acc",
		RefreshToken:  "ref",
		AccessExpiry:  now.Add(time.Hour),
		RefreshExpiry: now.Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, cookies, 2)

	access, refresh := cookies[0], cookies[1]
	assert.Equal(t, "sb-access-token", access.Name)
	assert.Equal(t, "acc", access.Value)
	assert.Equal(t, 3600, access.MaxAge)
	assert.True(t, access.HttpOnly)
	assert.True(t, access.Secure)
	assert.Equal(t, http.SameSiteLaxMode, access.SameSite)
	assert.Equal(t, "/", access.Path)

	assert.Equal(t, "sb-refresh-token", refresh.Name)
	assert.Equal(t, 30*24*3600, refresh.MaxAge)
}

func TestClearExpiresEveryName(t *testing.T) {
	c := NewCodec(testNames, "", false)
	rec := httptest.NewRecorder()
	c.Clear(rec)

	resp := rec.Result()
	defer resp.Body.Close()
	names := map[string]int{}
	for _, ck := range resp.Cookies() {
		names[ck.Name] = ck.MaxAge
	}
	assert.Len(t, names, 4)
	for name, maxAge := range names {
		assert.Equal(t, -1, maxAge, name)
	}
}
