package cookie

import (
	"errors"
	"net/http"
	"time"

	"accountgate/internal/models"
)

var ErrIncompleteSession = errors.New("session requires both access and refresh tokens")

// Names 当前写入的 cookie 名和历史遗留的 cookie 名，读取时两套都认
type Names struct {
	Access        string
	Refresh       string
	LegacyAccess  string
	LegacyRefresh string
}

// Parse 宽松解析 Cookie 请求头，格式错误或空值的条目跳过，同名取第一个
func Parse(header string) map[string]string {
	out := map[string]string{}
	if header == "" {
		return out
	}
	req := http.Request{Header: http.Header{"Cookie": {header}}}
	for _, c := range req.Cookies() {
		if c.Value == "" {
			continue
		}
		if _, seen := out[c.Name]; !seen {
			out[c.Name] = c.Value
		}
	}
	return out
}

func (n Names) AccessToken(cookies map[string]string) string {
	return first(cookies, n.Access, n.LegacyAccess)
}

func (n Names) RefreshToken(cookies map[string]string) string {
	return first(cookies, n.Refresh, n.LegacyRefresh)
}

// Present 返回请求中出现的已知 cookie 名
func (n Names) Present(cookies map[string]string) []string {
	var found []string
	for _, name := range []string{n.Access, n.Refresh, n.LegacyAccess, n.LegacyRefresh} {
		if name == "" {
			continue
		}
		if _, ok := cookies[name]; ok {
			found = append(found, name)
		}
	}
	return found
}

func first(cookies map[string]string, names ...string) string {
	for _, name := range names {
		if name == "" {
			continue
		}
		if v := cookies[name]; v != "" {
			return v
		}
	}
	return ""
}

// Codec 渲染 Set-Cookie
type Codec struct {
	Names  Names
	Domain string
	Secure bool
	now    func() time.Time
}

func NewCodec(names Names, domain string, secure bool) *Codec {
	return &Codec{Names: names, Domain: domain, Secure: secure, now: time.Now}
}

// SessionCookies 两个 token 必须同时存在，否则一个都不输出
func (c *Codec) SessionCookies(s models.Session) ([]*http.Cookie, error) {
	if s.AccessToken == "" || s.RefreshToken == "" {
		return nil, ErrIncompleteSession
	}
	now := c.now()
	return []*http.Cookie{
		c.build(c.Names.Access, s.AccessToken, s.AccessExpiry, now),
		c.build(c.Names.Refresh, s.RefreshToken, s.RefreshExpiry, now),
	}, nil
}

// ClearCookies 新旧两套名字全部过期
func (c *Codec) ClearCookies() []*http.Cookie {
	var out []*http.Cookie
	for _, name := range []string{c.Names.Access, c.Names.Refresh, c.Names.LegacyAccess, c.Names.LegacyRefresh} {
		if name == "" {
			continue
		}
		out = append(out, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   c.Domain,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   c.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return out
}

func (c *Codec) WriteSession(w http.ResponseWriter, s models.Session) error {
	cookies, err := c.SessionCookies(s)
	if err != nil {
		return err
	}
	for _, ck := range cookies {
		http.SetCookie(w, ck)
	}
	return nil
}

func (c *Codec) Clear(w http.ResponseWriter) {
	for _, ck := range c.ClearCookies() {
		http.SetCookie(w, ck)
	}
}

func (c *Codec) build(name, value string, expiry, now time.Time) *http.Cookie {
	maxAge := int(expiry.Sub(now).Seconds())
	if maxAge <= 0 {
		maxAge = 1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		Expires:  expiry.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
