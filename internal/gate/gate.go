package gate

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"accountgate/internal/cookie"
	"accountgate/internal/identity"
	"accountgate/internal/metrics"
	"accountgate/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier 由 identity.Client 实现
type Verifier interface {
	Verify(ctx context.Context, token string) (models.Subject, error)
}

type Kind int

const (
	Admit Kind = iota
	DenyRedirect
)

func (k Kind) String() string {
	if k == Admit {
		return "admit"
	}
	return "deny"
}

const (
	ReasonPublic       = "public"
	ReasonPassthrough  = "passthrough"
	ReasonVerified     = "verified"
	ReasonMissingToken = "missing_token"
	ReasonInvalid      = "invalid"
	ReasonUnreachable  = "unreachable"
	ReasonOverride     = "override"
)

type Decision struct {
	Kind Kind
	// Target 拒绝时跳转的登录地址，带 redirect 参数
	Target  string
	Reason  string
	Class   Class
	Subject *models.Subject
}

type Options struct {
	// ForceAdmitOnUnreachable 只在 gateoverride 构建中生效
	ForceAdmitOnUnreachable bool
	IdentityConfigured      bool
}

type Gate struct {
	policy   Policy
	names    cookie.Names
	verifier Verifier
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

func New(policy Policy, names cookie.Names, verifier Verifier, opts Options, logger *slog.Logger) *Gate {
	return &Gate{
		policy:   policy,
		names:    names,
		verifier: verifier,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

func (g *Gate) Policy() Policy {
	return g.policy
}

// Decide 公开路径与透传路径不调用验证；受保护路径的结果只取决于验证结果，失败一律拒绝
func (g *Gate) Decide(ctx context.Context, requestPath, cookieHeader string) Decision {
	class := g.policy.Classify(requestPath)
	switch class {
	case Public:
		return g.record(Decision{Kind: Admit, Reason: ReasonPublic, Class: class})
	case Passthrough:
		return g.record(Decision{Kind: Admit, Reason: ReasonPassthrough, Class: class})
	}

	token := g.names.AccessToken(cookie.Parse(cookieHeader))
	if token == "" {
		return g.record(g.deny(requestPath, ReasonMissingToken))
	}
	return g.verify(ctx, requestPath, token)
}

// DecideToken 供 API 使用，token 已经由调用方取出
func (g *Gate) DecideToken(ctx context.Context, requestPath, token string) Decision {
	if token == "" {
		return g.record(g.deny(requestPath, ReasonMissingToken))
	}
	return g.verify(ctx, requestPath, token)
}

func (g *Gate) verify(ctx context.Context, requestPath, token string) Decision {
	subject, err := g.verifier.Verify(ctx, token)
	if err == nil {
		return g.record(Decision{Kind: Admit, Reason: ReasonVerified, Class: Protected, Subject: &subject})
	}

	if errors.Is(err, identity.ErrInvalidCredential) {
		g.logger.InfoContext(ctx, "gate denied: credential rejected",
			slog.String("path", requestPath),
			slog.String("reason", ReasonInvalid),
		)
		return g.record(g.deny(requestPath, ReasonInvalid))
	}

	g.logger.WarnContext(ctx, "gate denied: identity provider unreachable",
		slog.String("upstream", "identity"),
		slog.String("path", requestPath),
		slog.String("reason", ReasonUnreachable),
		slog.String("error", err.Error()),
	)
	if overrideCompiled && g.opts.ForceAdmitOnUnreachable {
		g.logger.WarnContext(ctx, "gate override admitted unverified request", slog.String("path", requestPath))
		return g.record(Decision{Kind: Admit, Reason: ReasonOverride, Class: Protected})
	}
	return g.record(g.deny(requestPath, ReasonUnreachable))
}

func (g *Gate) deny(requestPath, reason string) Decision {
	return Decision{
		Kind:   DenyRedirect,
		Target: g.policy.LoginPath + "?redirect=" + url.QueryEscape(requestPath),
		Reason: reason,
		Class:  Protected,
	}
}

func (g *Gate) record(d Decision) Decision {
	metrics.GateDecision(d.Kind.String(), d.Reason)
	return d
}

// Diagnostics 排障用的请求内省结果，不参与授权
type Diagnostics struct {
	Path               string   `json:"path"`
	Classification     string   `json:"classification"`
	CookiesPresent     []string `json:"cookies_present"`
	AccessTokenLength  int      `json:"access_token_length"`
	RefreshTokenFound  bool     `json:"refresh_token_found"`
	TokenSubject       string   `json:"token_subject,omitempty"`
	TokenExpiresAt     string   `json:"token_expires_at,omitempty"`
	TokenExpired       bool     `json:"token_expired"`
	TokenDecodeError   string   `json:"token_decode_error,omitempty"`
	IdentityConfigured bool     `json:"identity_configured"`
	OverrideCompiled   bool     `json:"override_compiled"`
}

// Diagnose 不调用身份提供方，token 声明只做未验签解析
func (g *Gate) Diagnose(requestPath, cookieHeader string) Diagnostics {
	cookies := cookie.Parse(cookieHeader)
	token := g.names.AccessToken(cookies)
	present := g.names.Present(cookies)
	if present == nil {
		present = []string{}
	}
	d := Diagnostics{
		Path:               requestPath,
		Classification:     g.policy.Classify(requestPath).String(),
		CookiesPresent:     present,
		AccessTokenLength:  len(token),
		RefreshTokenFound:  g.names.RefreshToken(cookies) != "",
		IdentityConfigured: g.opts.IdentityConfigured,
		OverrideCompiled:   overrideCompiled,
	}
	if token == "" {
		return d
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		d.TokenDecodeError = err.Error()
		return d
	}
	if sub, err := claims.GetSubject(); err == nil {
		d.TokenSubject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		d.TokenExpiresAt = exp.UTC().Format(time.RFC3339)
		d.TokenExpired = exp.Before(g.now())
	}
	return d
}
