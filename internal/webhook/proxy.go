package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"accountgate/internal/metrics"
)

var (
	ErrEmptyPath     = errors.New("webhook path is required")
	ErrNotConfigured = errors.New("webhook downstream not configured")
	ErrUnreachable   = errors.New("webhook downstream unreachable")
)

// Doer 出站执行器。这里不做重试，下游状态与响应原样返回。
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

type Options struct {
	BaseURL      string
	Secret       string
	SecretHeader string
}

type Proxy struct {
	opts Options
	http Doer
}

func NewProxy(opts Options, doer Doer) *Proxy {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Proxy{opts: opts, http: doer}
}

// Response 下游原样响应。Body 由调用方读完并关闭
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Forward 把 body 原样转发到 BaseURL/trailingPath，并注入共享密钥
func (p *Proxy) Forward(ctx context.Context, trailingPath, rawQuery string, body io.Reader, contentType string) (Response, error) {
	// 末尾的斜杠属于下游路径，只去掉开头的
	if strings.Trim(trailingPath, "/") == "" {
		return Response{}, ErrEmptyPath
	}
	trailingPath = strings.TrimLeft(trailingPath, "/")
	if p.opts.BaseURL == "" || p.opts.Secret == "" {
		return Response{}, ErrNotConfigured
	}

	target := p.opts.BaseURL + "/" + trailingPath
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return Response{}, fmt.Errorf("build webhook request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(p.opts.SecretHeader, p.opts.Secret)

	resp, err := p.http.Do(ctx, req)
	if err != nil {
		metrics.Upstream("webhook", "unreachable")
		return Response{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	metrics.Upstream("webhook", fmt.Sprintf("%dxx", resp.StatusCode/100))
	return Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}
