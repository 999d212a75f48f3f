package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/yyang42/assembl/cmd/assemblapi/internal/auth"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/logging"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/services/iam"
	"github.com/yyang42/assembl/cmd/assemblapi/internal/telemetry"
)

type fakeAuthenticator struct {
	tokens map[string]string
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, req iam.AuthRequest) (auth.Principal, error) {
	header := req.Headers.Get("Authorization")
	if header == "" {
		return auth.Principal{}, nil
	}
	if id, ok := f.tokens[header]; ok {
		return auth.Principal{ProfileID: id}, nil
	}
	return auth.Principal{}, auth.ErrInvalidToken
}

type fakeChecker map[string]bool

func (f fakeChecker) IsSysadmin(_ context.Context, userID string) (bool, error) {
	if userID == "broken" {
		return false, errors.New("db down")
	}
	return f[userID], nil
}

func echoPrincipal(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(auth.PrincipalFromContext(r.Context()).ProfileID))
}

func TestAuthn(t *testing.T) {
	authn := Authn(&fakeAuthenticator{tokens: map[string]string{"Bearer good": "u1"}}, logging.Discard())
	handler := authn(http.HandlerFunc(echoPrincipal))

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "anonymous", status: http.StatusOK, body: ""},
		{name: "valid token", header: "Bearer good", status: http.StatusOK, body: "u1"},
		{name: "invalid token", header: "Bearer bad", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
			} else {
				assert.JSONEq(t, `{"error":"authentication failed"}`, rec.Body.String())
			}
		})
	}
}

func TestRequireSysadmin(t *testing.T) {
	guard := RequireSysadmin(fakeChecker{"admin": true}, logging.Discard())
	handler := guard(http.HandlerFunc(echoPrincipal))

	tests := []struct {
		name      string
		principal string
		status    int
	}{
		{name: "anonymous", status: http.StatusUnauthorized},
		{name: "regular user", principal: "u1", status: http.StatusForbidden},
		{name: "sysadmin", principal: "admin", status: http.StatusOK},
		{name: "check fails", principal: "broken", status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(auth.SetPrincipal(req.Context(), auth.Principal{ProfileID: tt.principal}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestMetrics_RecordsRoutePattern(t *testing.T) {
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(Metrics(metrics))
	r.Get("/discussions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/discussions/42", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("GET", "/discussions/{id}", "418")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("GET", "unmatched", "404")))
}
