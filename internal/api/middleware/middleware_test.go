package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"tradebot/pkg/crypto"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestTokenAuth(t *testing.T) {
	hash, err := crypto.HashTokenWithCost("s3cret-token", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	auth := NewTokenAuth(hash, "/api/v1/health")
	h := auth.Middleware(okHandler())

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"valid token", http.MethodGet, "/api/v1/status", "Bearer s3cret-token", http.StatusOK},
		{"lowercase scheme", http.MethodGet, "/api/v1/status", "bearer s3cret-token", http.StatusOK},
		{"missing token", http.MethodGet, "/api/v1/status", "", http.StatusUnauthorized},
		{"wrong token", http.MethodGet, "/api/v1/status", "Bearer other", http.StatusUnauthorized},
		{"basic scheme", http.MethodGet, "/api/v1/status", "Basic czNjcmV0", http.StatusUnauthorized},
		{"exempt path", http.MethodGet, "/api/v1/health", "", http.StatusOK},
		{"preflight", http.MethodOptions, "/api/v1/pause", "", http.StatusOK},
		{"ws query token", http.MethodGet, "/ws?token=s3cret-token", "", http.StatusOK},
		{"query token outside ws", http.MethodGet, "/api/v1/status?token=s3cret-token", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestTokenAuth_Disabled(t *testing.T) {
	auth := NewTokenAuth("")
	if auth.Enabled() {
		t.Fatal("пустой хеш должен отключать авторизацию")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pause", nil)
	w := httptest.NewRecorder()
	auth.Middleware(okHandler()).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://ops.example.com"})(okHandler())

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"allowed origin", http.MethodGet, "https://ops.example.com", http.StatusOK, "https://ops.example.com"},
		{"foreign origin", http.MethodGet, "https://evil.com", http.StatusOK, ""},
		{"no origin", http.MethodGet, "", http.StatusOK, ""},
		{"preflight", http.MethodOptions, "https://ops.example.com", http.StatusNoContent, "https://ops.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/status", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin: ожидали %q, получили %q", tt.wantAllow, got)
			}
		})
	}
}

func TestCORS_AllowAll(t *testing.T) {
	h := CORS([]string{"*"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Origin", "https://anything.example.org")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("ожидали *, получили %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("credentials не допускаются при *")
	}
}

func TestLogging_RequestID(t *testing.T) {
	var seen string
	h := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("generated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if seen == "" || w.Header().Get("X-Request-ID") != seen {
			t.Errorf("ожидали одинаковый request id, получили %q и %q", seen, w.Header().Get("X-Request-ID"))
		}
		if w.Code != http.StatusTeapot {
			t.Errorf("expected status %d, got %d", http.StatusTeapot, w.Code)
		}
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		req.Header.Set("X-Request-ID", "req-42")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if seen != "req-42" {
			t.Errorf("ожидали req-42, получили %q", seen)
		}
	})
}

func TestRecovery(t *testing.T) {
	h := Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if body := w.Body.String(); body != `{"error":"internal server error"}` {
		t.Errorf("тело: получили %s", body)
	}
}
