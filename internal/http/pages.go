package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"accountgate/internal/gate"

	"github.com/go-chi/chi/v5/middleware"
)

// handlePage 页面请求：先过认证网关，放行后转发到托管账户应用
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	cookieHeader := r.Header.Get("Cookie")

	// 诊断模式由服务端配置开启，debug 参数本身不能打开它
	if s.cfg.DiagnosticsEnabled() && r.URL.Query().Get("debug") == "1" {
		respondJSON(w, http.StatusOK, s.deps.Gate.Diagnose(r.URL.Path, cookieHeader))
		return
	}

	d := s.deps.Gate.Decide(r.Context(), r.URL.Path, cookieHeader)
	if d.Kind == gate.DenyRedirect {
		http.Redirect(w, r, d.Target, http.StatusFound)
		return
	}

	r.Header.Del(headerUserID)
	r.Header.Del(headerUserEmail)
	if d.Subject != nil {
		r.Header.Set(headerUserID, d.Subject.ID)
		r.Header.Set(headerUserEmail, d.Subject.Email)
	}

	if s.deps.App == nil {
		respondError(w, http.StatusNotFound, errors.New("not found"))
		return
	}
	s.deps.App.ServeHTTP(w, r)
}

// NewAppProxy 反向代理到托管账户应用，上游不可用时返回 502 JSON
func NewAppProxy(rawURL string, logger *slog.Logger) (http.Handler, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("app origin must be an absolute URL")
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("app proxy error",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("upstream", "app"),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		respondError(w, http.StatusBadGateway, errors.New("account app unavailable"))
	}
	return proxy, nil
}
