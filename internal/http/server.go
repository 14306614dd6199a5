package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"accountgate/internal/billing"
	"accountgate/internal/config"
	"accountgate/internal/cookie"
	"accountgate/internal/gate"
	"accountgate/internal/identity"
	"accountgate/internal/logging"
	"accountgate/internal/metrics"
	"accountgate/internal/models"
	"accountgate/internal/refreshlock"
	"accountgate/internal/webhook"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// IdentityProvider 身份提供方在 HTTP 层用到的调用
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (identity.AuthResult, error)
	SignUp(ctx context.Context, email, password string) (identity.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (identity.AuthResult, error)
	SendPasswordReset(ctx context.Context, email, redirectTo string) error
	UpdatePassword(ctx context.Context, accessToken, password string) error
	SignOut(ctx context.Context, accessToken string) error
}

type RefreshLocker interface {
	Acquire(ctx context.Context, refreshToken string) (func(), error)
}

type BillingSummarizer interface {
	Summarize(ctx context.Context, userID, emailHint string) (models.BillingSummary, error)
}

type PortalProvider interface {
	URL(ctx context.Context, userID, emailHint string) (string, error)
}

type WebhookForwarder interface {
	Forward(ctx context.Context, trailingPath, rawQuery string, body io.Reader, contentType string) (webhook.Response, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps 由 main 组装
type Deps struct {
	Identity  IdentityProvider
	Gate      *gate.Gate
	Codec     *cookie.Codec
	Locker    RefreshLocker
	Summaries BillingSummarizer
	Portal    PortalProvider
	Resolver  billing.CustomerResolver
	Webhook   WebhookForwarder
	Store     Pinger
	// App 托管账户应用的反向代理，为空时页面请求返回 404
	App http.Handler
}

type Server struct {
	cfg      config.Config
	deps     Deps
	logger   *slog.Logger
	limiter  *ipLimiter
	validate *validator.Validate
}

func NewServer(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		limiter:  newIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// loggingRecoverer panic 恢复，记录堆栈，响应里不带内部信息
func (s *Server) loggingRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				logging.FromContext(r.Context()).Error("panic recovered",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Any("panic", rvr),
					slog.String("stack", string(debug.Stack())),
				)
				if r.Header.Get("Connection") != "Upgrade" {
					respondError(w, http.StatusInternalServerError, errInternal)
				}
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLogger 把带 request_id 的 logger 放进 context，并记录访问日志
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqLogger := s.logger.With(slog.String("request_id", middleware.GetReqID(r.Context())))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			reqLogger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
			)
		}()
		next.ServeHTTP(ww, r.WithContext(logging.NewContext(r.Context(), reqLogger)))
	})
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.loggingRecoverer)
	r.Use(metrics.Middleware)
	r.Use(s.corsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	// webhook 不经过认证网关，方法检查在 handler 里做，以便返回 405
	r.HandleFunc("/webhook", s.handleWebhook)
	r.HandleFunc("/webhook/*", s.handleWebhook)

	r.Route("/api", func(r chi.Router) {
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, http.StatusNotFound, errors.New("not found"))
		})

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/signup", s.handleSignup)
			r.Post("/auth/refresh", s.handleRefresh)
			r.Post("/auth/password-reset", s.handlePasswordReset)
		})
		r.Post("/auth/logout", s.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(s.apiGate)
			r.Get("/auth/session", s.handleSession)
			r.Put("/auth/password", s.handleUpdatePassword)
			r.Get("/billing/summary", s.handleBillingSummary)
			r.Get("/billing/portal", s.handleBillingPortalRedirect)
			r.Post("/billing/portal", s.handleBillingPortal)
			r.Post("/billing/customer", s.handleBillingCustomer)
		})
	})

	r.HandleFunc("/*", s.handlePage)
	return r
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.cfg.CORSAllowedOrigins))
	for _, origin := range s.cfg.CORSAllowedOrigins {
		allowed[origin] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// webhook 只给服务端调用，OPTIONS 也交给 handler 返回 405
		if isWebhookPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		origin := r.Header.Get("Origin")
		if origin == "" || !allowed[origin] {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.Header().Add("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isWebhookPath(p string) bool {
	return p == "/webhook" || strings.HasPrefix(p, "/webhook/")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("readiness check failed",
				slog.String("upstream", "store"),
				slog.String("error", err.Error()),
			)
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// respondServiceError 把各层的哨兵错误映射到状态码；未知错误记日志并返回通用 500
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error, upstream string) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredential):
		respondError(w, http.StatusUnauthorized, errors.New("invalid credentials"))
	case errors.Is(err, identity.ErrRefreshFailed):
		respondError(w, http.StatusUnauthorized, errors.New("session expired, please sign in again"))
	case errors.Is(err, identity.ErrRejected):
		respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, billing.ErrNoBillingIdentity):
		respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, refreshlock.ErrLocked):
		respondError(w, http.StatusConflict, err)
	case errors.Is(err, webhook.ErrEmptyPath):
		respondError(w, http.StatusBadRequest, err)
	case errors.Is(err, context.Canceled):
		// 客户端已断开，不需要响应体
		w.WriteHeader(499)
	default:
		logging.FromContext(r.Context()).Error("upstream failure",
			slog.String("upstream", upstream),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		respondError(w, http.StatusInternalServerError, errInternal)
	}
}
