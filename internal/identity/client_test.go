package identity

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"accountgate/internal/httpclient"
	"accountgate/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	doer := httpclient.New(httpclient.Config{
		Timeout:      time.Second,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: time.Millisecond,
	})
	c := NewClient(Options{
		BaseURL:    srv.URL,
		APIKey:     "anon-key",
		AccessTTL:  time.Hour,
		RefreshTTL: 30 * 24 * time.Hour,
	}, doer, logging.Discard())
	c.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	return c
}

func TestVerifySuccess(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		_, _ = io.WriteString(w, `{"id":"u-1","email":"a@example.com","role":"authenticated"}`)
	}))

	subject, err := c.Verify(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "u-1", subject.ID)
	assert.Equal(t, "a@example.com", subject.Email)
}

func TestVerifyClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: ErrInvalidCredential},
		{name: "forbidden", status: http.StatusForbidden, want: ErrInvalidCredential},
		{name: "server error", status: http.StatusInternalServerError, want: ErrUnreachable},
		{name: "redirect", status: http.StatusNotModified, want: ErrUnreachable},
		{name: "malformed", status: http.StatusOK, body: `{}`, want: ErrUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			_, err := c.Verify(context.Background(), "tok")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifyNetworkFailureIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(Options{BaseURL: srv.URL}, httpclient.New(httpclient.Config{Timeout: time.Second}), logging.Discard())

	_, err := c.Verify(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestVerifyEmptyToken(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	_, err := c.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestRefreshSuccess(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "r-old", body["refresh_token"])

		_, _ = io.WriteString(w, `{"access_token":"a-new","refresh_token":"r-new","expires_in":1800,"user":{"id":"u-1","email":"a@example.com"}}`)
	}))

	result, err := c.Refresh(context.Background(), "r-old")
	require.NoError(t, err)
	assert.Equal(t, "a-new", result.Session.AccessToken)
	assert.Equal(t, "r-new", result.Session.RefreshToken)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 30, 0, 0, time.UTC), result.Session.AccessExpiry)
	assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), result.Session.RefreshExpiry)
	assert.Equal(t, "u-1", result.Subject.ID)
}

func TestRefreshRejectedIsNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Refresh Token Not Found"}`)
	}))

	_, err := c.Refresh(context.Background(), "r-used")
	assert.ErrorIs(t, err, ErrRefreshFailed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRefreshIncompleteSession(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"access_token":"a-new"}`)
	}))
	_, err := c.Refresh(context.Background(), "r-old")
	assert.ErrorIs(t, err, ErrRefreshFailed)
}

func TestRefreshUpstreamFailure(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	_, err := c.Refresh(context.Background(), "r-old")
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestSignInInvalidPassword(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
	}))
	_, err := c.SignIn(context.Background(), "a@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestSignUpWithoutSession(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/signup", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":"u-2","email":"b@example.com"}`)
	}))
	result, err := c.SignUp(context.Background(), "b@example.com", "secret123")
	require.NoError(t, err)
	assert.False(t, result.HasSession())
	assert.Equal(t, "u-2", result.Subject.ID)
}

func TestSignUpRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"msg":"Password should be at least 6 characters"}`)
	}))
	_, err := c.SignUp(context.Background(), "b@example.com", "x")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "at least 6 characters")
}

func TestSendPasswordReset(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/recover", r.URL.Path)
		assert.Equal(t, "https://app.example.com/update-password", r.URL.Query().Get("redirect_to"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a@example.com", body["email"])
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{}`)
	}))
	require.NoError(t, c.SendPasswordReset(context.Background(), "a@example.com", "https://app.example.com/update-password"))
}

func TestUpdatePassword(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"id":"u-1"}`)
	}))
	require.NoError(t, c.UpdatePassword(context.Background(), "good", "new-secret"))
	assert.ErrorIs(t, c.UpdatePassword(context.Background(), "bad", "new-secret"), ErrInvalidCredential)
}

func TestSignOutSendsEmptyObject(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		assert.Equal(t, "{}", string(raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	require.NoError(t, c.SignOut(context.Background(), "tok"))
}

func TestNotConfigured(t *testing.T) {
	c := NewClient(Options{}, httpclient.New(httpclient.DefaultConfig()), logging.Discard())
	_, err := c.Verify(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
