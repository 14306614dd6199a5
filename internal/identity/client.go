package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"accountgate/internal/metrics"
	"accountgate/internal/models"
)

var (
	// ErrInvalidCredential 身份提供方明确拒绝了凭证 (4xx)
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrUnreachable 网络错误、超时、熔断或非 2xx/4xx 响应
	ErrUnreachable       = errors.New("identity provider unreachable")
	ErrRefreshFailed     = errors.New("refresh failed")
	// ErrRejected 注册、重置密码等请求被身份提供方拒绝
	ErrRejected          = errors.New("rejected by identity provider")
	ErrNotConfigured     = errors.New("identity provider not configured")
)

// Doer 出站 HTTP 执行器，由 httpclient 提供
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

type Options struct {
	BaseURL    string
	APIKey     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Client 身份提供方的 REST 客户端
type Client struct {
	baseURL    string
	apiKey     string
	http       Doer
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewClient(opts Options, doer Doer, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		http:       doer,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// AuthResult 签发结果。注册需要邮件确认时 Session 为空。
type AuthResult struct {
	Session models.Session
	Subject models.Subject
}

func (r AuthResult) HasSession() bool {
	return r.Session.AccessToken != "" && r.Session.RefreshToken != ""
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int64         `json:"expires_in"`
	User         *userResponse `json:"user"`
}

// signupResponse 需要确认邮件时返回用户本身，否则返回 token
type signupResponse struct {
	tokenResponse
	ID    string `json:"id"`
	Email string `json:"email"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e errorResponse) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Verify 用 bearer token 调用 user 接口换取当前主体
func (c *Client) Verify(ctx context.Context, token string) (models.Subject, error) {
	if c.baseURL == "" {
		return models.Subject{}, ErrNotConfigured
	}
	if token == "" {
		return models.Subject{}, ErrInvalidCredential
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/auth/v1/user", token, nil)
	if err != nil {
		return models.Subject{}, err
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		metrics.Upstream("identity", "unreachable")
		return models.Subject{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var user userResponse
		if err := json.NewDecoder(resp.Body).Decode(&user); err != nil || user.ID == "" {
			metrics.Upstream("identity", "malformed")
			return models.Subject{}, fmt.Errorf("%w: malformed user response", ErrUnreachable)
		}
		metrics.Upstream("identity", "ok")
		return models.Subject{ID: user.ID, Email: user.Email}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		metrics.Upstream("identity", "invalid")
		return models.Subject{}, ErrInvalidCredential
	default:
		metrics.Upstream("identity", "unreachable")
		return models.Subject{}, fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}
}

// Refresh 用 refresh token 换新的一对凭证。refresh token 只能用一次，失败后不重试。
func (c *Client) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	if c.baseURL == "" {
		return AuthResult{}, ErrNotConfigured
	}
	if refreshToken == "" {
		return AuthResult{}, ErrRefreshFailed
	}
	result, status, err := c.grant(ctx, "refresh_token", refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		if status >= 400 && status < 500 {
			metrics.Upstream("identity_refresh", "rejected")
			return AuthResult{}, ErrRefreshFailed
		}
		metrics.Upstream("identity_refresh", "unreachable")
		return AuthResult{}, err
	}
	if !result.HasSession() {
		metrics.Upstream("identity_refresh", "incomplete")
		return AuthResult{}, fmt.Errorf("%w: provider returned an incomplete session", ErrRefreshFailed)
	}
	metrics.Upstream("identity_refresh", "ok")
	return result, nil
}

// SignIn 密码登录
func (c *Client) SignIn(ctx context.Context, email, password string) (AuthResult, error) {
	if c.baseURL == "" {
		return AuthResult{}, ErrNotConfigured
	}
	result, status, err := c.grant(ctx, "password", credentialsRequest{Email: email, Password: password})
	if err != nil {
		if status >= 400 && status < 500 {
			return AuthResult{}, ErrInvalidCredential
		}
		return AuthResult{}, err
	}
	if !result.HasSession() {
		return AuthResult{}, fmt.Errorf("%w: provider returned an incomplete session", ErrUnreachable)
	}
	return result, nil
}

func (c *Client) SignUp(ctx context.Context, email, password string) (AuthResult, error) {
	if c.baseURL == "" {
		return AuthResult{}, ErrNotConfigured
	}
	var out signupResponse
	if err := c.call(ctx, http.MethodPost, "/auth/v1/signup", "", credentialsRequest{Email: email, Password: password}, &out); err != nil {
		return AuthResult{}, err
	}
	if out.AccessToken != "" {
		return c.toResult(out.tokenResponse), nil
	}
	return AuthResult{Subject: models.Subject{ID: out.ID, Email: out.Email}}, nil
}

// SendPasswordReset 让身份提供方发送重置密码邮件
func (c *Client) SendPasswordReset(ctx context.Context, email, redirectTo string) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	path := "/auth/v1/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	return c.call(ctx, http.MethodPost, path, "", map[string]string{"email": email}, nil)
}

// UpdatePassword 以当前用户身份修改密码
func (c *Client) UpdatePassword(ctx context.Context, accessToken, password string) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	err := c.call(ctx, http.MethodPut, "/auth/v1/user", accessToken, map[string]string{"password": password}, nil)
	var statusErr *statusError
	if errors.As(err, &statusErr) && statusErr.status == http.StatusUnauthorized {
		return ErrInvalidCredential
	}
	return err
}

// SignOut 尽力通知身份提供方吊销 refresh token
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if c.baseURL == "" || accessToken == "" {
		return nil
	}
	return c.call(ctx, http.MethodPost, "/auth/v1/logout", accessToken, nil, nil)
}

type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("%s: status %d", ErrRejected, e.status)
	}
	return fmt.Sprintf("%s: %s", ErrRejected, e.message)
}

func (e *statusError) Unwrap() error { return ErrRejected }

// grant 调用 token 接口，返回上游状态码供调用方区分 4xx
func (c *Client) grant(ctx context.Context, grantType string, payload any) (AuthResult, int, error) {
	var out tokenResponse
	err := c.call(ctx, http.MethodPost, "/auth/v1/token?grant_type="+url.QueryEscape(grantType), "", payload, &out)
	if err != nil {
		var statusErr *statusError
		if errors.As(err, &statusErr) {
			return AuthResult{}, statusErr.status, err
		}
		return AuthResult{}, 0, err
	}
	return c.toResult(out), http.StatusOK, nil
}

func (c *Client) toResult(tr tokenResponse) AuthResult {
	now := c.now()
	accessTTL := c.accessTTL
	if tr.ExpiresIn > 0 {
		accessTTL = time.Duration(tr.ExpiresIn) * time.Second
	}
	result := AuthResult{
		Session: models.Session{
			AccessToken:   tr.AccessToken,
			RefreshToken:  tr.RefreshToken,
			AccessExpiry:  now.Add(accessTTL),
			RefreshExpiry: now.Add(c.refreshTTL),
		},
	}
	if tr.User != nil {
		result.Subject = models.Subject{ID: tr.User.ID, Email: tr.User.Email}
	}
	return result
}

// call 发送 JSON 请求。请求体至少是 {}，身份提供方拒绝空 body。
// 4xx 返回 *statusError，其他失败归为 ErrUnreachable。
func (c *Client) call(ctx context.Context, method, path, bearer string, payload, out any) error {
	body := []byte("{}")
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		body = raw
	}
	req, err := c.newRequest(ctx, method, path, bearer, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		c.logger.WarnContext(ctx, "identity provider call failed",
			slog.String("upstream", "identity"),
			slog.String("path", stripQuery(path)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		var e errorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &e)
		return &statusError{status: resp.StatusCode, message: e.text()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnreachable, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path, bearer string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req, nil
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
