package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"accountgate/internal/logging"

	"github.com/go-chi/chi/v5"
)

// 逐跳头不转发
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// handleWebhook 只接受 POST，下游状态码、响应头和响应体原样流式返回
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		respondError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	trailing := chi.URLParam(r, "*")
	resp, err := s.deps.Webhook.Forward(r.Context(), trailing, r.URL.RawQuery, r.Body, r.Header.Get("Content-Type"))
	if err != nil {
		s.respondServiceError(w, r, err, "webhook")
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if hopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// 状态码已写出，只能记录
		logging.FromContext(r.Context()).Error("webhook response copy failed",
			slog.String("upstream", "webhook"),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}
