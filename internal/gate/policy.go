package gate

import (
	"path"
	"strings"
)

// Class 路径分类
type Class int

const (
	// Passthrough 不在受保护前缀下，直接放行
	Passthrough Class = iota
	Public
	Protected
)

func (c Class) String() string {
	switch c {
	case Public:
		return "public"
	case Protected:
		return "protected"
	default:
		return "passthrough"
	}
}

// Policy 唯一的放行规则：白名单优先，其次受保护前缀，其余透传
type Policy struct {
	ProtectedPrefix string
	LoginPath       string
	PublicExact     []string
	// 以 / 结尾的按前缀匹配，否则按路径段匹配（/login 匹配 /login/x 但不匹配 /loginx）
	PublicPrefixes []string
}

func DefaultPolicy(protectedPrefix, loginPath string) Policy {
	return Policy{
		ProtectedPrefix: strings.TrimRight(protectedPrefix, "/"),
		LoginPath:       loginPath,
		PublicExact:     []string{"/", "/favicon.ico", "/robots.txt"},
		PublicPrefixes: []string{
			"/login",
			"/signup",
			"/forgot-password",
			"/reset-password",
			"/update-password",
			"/auth/callback",
			"/static/",
			"/assets/",
			"/partials/",
		},
	}
}

func (p Policy) Classify(requestPath string) Class {
	clean := cleanPath(requestPath)
	for _, exact := range p.PublicExact {
		if clean == exact {
			return Public
		}
	}
	for _, prefix := range p.PublicPrefixes {
		if matchPrefix(clean, prefix) {
			return Public
		}
	}
	if p.ProtectedPrefix != "" && matchPrefix(clean, p.ProtectedPrefix) {
		return Protected
	}
	return Passthrough
}

func matchPrefix(p, prefix string) bool {
	if strings.HasSuffix(prefix, "/") {
		return strings.HasPrefix(p, prefix)
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// cleanPath 先归一化，避免 /static/../account 这类路径绕过
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	clean := path.Clean(p)
	if strings.HasSuffix(p, "/") && clean != "/" {
		clean += "/"
	}
	return clean
}
