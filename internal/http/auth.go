package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"accountgate/internal/cookie"
	"accountgate/internal/gate"
	"accountgate/internal/identity"
	"accountgate/internal/logging"
	"accountgate/internal/models"
	"accountgate/internal/refreshlock"
)

type contextKey string

const (
	contextKeySubject     contextKey = "subject"
	contextKeyAccessToken contextKey = "access_token"
)

// 网关注入给下游的身份头，入站的同名头一律先删掉
const (
	headerUserID    = "X-User-ID"
	headerUserEmail = "X-User-Email"
)

var errAuthRequired = errors.New("authentication required")

func withSubject(ctx context.Context, subject models.Subject, token string) context.Context {
	ctx = context.WithValue(ctx, contextKeySubject, subject)
	return context.WithValue(ctx, contextKeyAccessToken, token)
}

// subjectFromContext 网关放行后才会有
func subjectFromContext(ctx context.Context) (models.Subject, bool) {
	subject, ok := ctx.Value(contextKeySubject).(models.Subject)
	return subject, ok && subject.ID != ""
}

func accessTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(contextKeyAccessToken).(string)
	return token
}

// bearerOrCookie 先取 Authorization，再取 cookie（新旧两套名字）
func (s *Server) bearerOrCookie(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return s.deps.Codec.Names.AccessToken(cookie.Parse(r.Header.Get("Cookie")))
}

// apiGate API 路由的认证：失败返回 401 JSON，而不是跳转
func (s *Server) apiGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(headerUserID)
		r.Header.Del(headerUserEmail)

		token := s.bearerOrCookie(r)
		d := s.deps.Gate.DecideToken(r.Context(), r.URL.Path, token)
		if d.Kind != gate.Admit || d.Subject == nil {
			respondError(w, http.StatusUnauthorized, errAuthRequired)
			return
		}
		r.Header.Set(headerUserID, d.Subject.ID)
		r.Header.Set(headerUserEmail, d.Subject.Email)
		next.ServeHTTP(w, r.WithContext(withSubject(r.Context(), *d.Subject, token)))
	})
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type signupRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type passwordResetRequest struct {
	Email      string `json:"email" validate:"required,email,max=254"`
	RedirectTo string `json:"redirect_to" validate:"omitempty,url"`
}

type updatePasswordRequest struct {
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type sessionResponse struct {
	User            models.Subject `json:"user"`
	AccessExpiresAt *time.Time     `json:"access_expires_at,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	result, err := s.deps.Identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredential) {
			respondError(w, http.StatusUnauthorized, errors.New("invalid email or password"))
			return
		}
		s.respondServiceError(w, r, err, "identity")
		return
	}
	s.writeSession(w, r, result)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	result, err := s.deps.Identity.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		s.respondServiceError(w, r, err, "identity")
		return
	}
	if !result.HasSession() {
		// 需要先确认邮箱
		respondJSON(w, http.StatusOK, map[string]any{
			"user":                  result.Subject,
			"confirmation_required": true,
		})
		return
	}
	s.writeSession(w, r, result)
}

// handleRefresh 同一个 refresh token 的并发刷新只允许一个进行，另一个返回 409。
// 刷新失败时清空 cookie，前端应重新登录。
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := s.deps.Codec.Names.RefreshToken(cookie.Parse(r.Header.Get("Cookie")))
	if token == "" {
		respondError(w, http.StatusUnauthorized, errAuthRequired)
		return
	}

	if s.deps.Locker != nil {
		release, err := s.deps.Locker.Acquire(r.Context(), token)
		switch {
		case errors.Is(err, refreshlock.ErrLocked):
			s.respondServiceError(w, r, err, "")
			return
		case err != nil:
			// 锁不可用时仍然刷新，最坏情况是并发的一方拿到 RefreshFailed
			logging.FromContext(r.Context()).Warn("refresh lock unavailable",
				slog.String("upstream", "redis"),
				slog.String("error", err.Error()),
			)
		default:
			defer release()
		}
	}

	result, err := s.deps.Identity.Refresh(r.Context(), token)
	if err != nil {
		if errors.Is(err, identity.ErrRefreshFailed) {
			s.deps.Codec.Clear(w)
		}
		s.respondServiceError(w, r, err, "identity")
		return
	}
	s.writeSession(w, r, result)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := s.bearerOrCookie(r)
	if err := s.deps.Identity.SignOut(r.Context(), token); err != nil {
		logging.FromContext(r.Context()).Warn("identity sign-out failed",
			slog.String("upstream", "identity"),
			slog.String("error", err.Error()),
		)
	}
	s.deps.Codec.Clear(w)
	respondJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.deps.Identity.SendPasswordReset(r.Context(), req.Email, req.RedirectTo); err != nil {
		s.respondServiceError(w, r, err, "identity")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req updatePasswordRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := s.deps.Identity.UpdatePassword(r.Context(), accessTokenFromContext(r.Context()), req.Password); err != nil {
		s.respondServiceError(w, r, err, "identity")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	subject, ok := subjectFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, errAuthRequired)
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse{User: subject})
}

// writeSession 两个 cookie 一起写，缺一个就不写
func (s *Server) writeSession(w http.ResponseWriter, r *http.Request, result identity.AuthResult) {
	if err := s.deps.Codec.WriteSession(w, result.Session); err != nil {
		s.respondServiceError(w, r, err, "identity")
		return
	}
	expiry := result.Session.AccessExpiry
	respondJSON(w, http.StatusOK, sessionResponse{User: result.Subject, AccessExpiresAt: &expiry})
}
