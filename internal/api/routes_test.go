package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"tradebot/internal/models"
	"tradebot/pkg/crypto"
)

type stubBot struct{ triggered int }

func (b *stubBot) Status() *models.BotStatus        { return &models.BotStatus{State: "IDLE"} }
func (b *stubBot) Pause(string)                     {}
func (b *stubBot) Resume(ctx context.Context) error { return models.ErrBotNotHalted }

func (b *stubBot) TriggerNow() error {
	b.triggered++
	return nil
}

type stubReloader struct{}

func (stubReloader) Reload(ctx context.Context) error { return nil }

func TestSetupRoutes(t *testing.T) {
	hash, err := crypto.HashTokenWithCost("ops-token", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	bot := &stubBot{}
	router := SetupRoutes(&Dependencies{
		Bot:       bot,
		Reloader:  stubReloader{},
		TokenHash: hash,
	})

	tests := []struct {
		name   string
		method string
		path   string
		token  bool
		want   int
	}{
		{"health without token", http.MethodGet, "/api/v1/health", false, http.StatusOK},
		{"metrics without token", http.MethodGet, "/metrics", false, http.StatusOK},
		{"status requires token", http.MethodGet, "/api/v1/status", false, http.StatusUnauthorized},
		{"status", http.MethodGet, "/api/v1/status", true, http.StatusOK},
		{"trigger", http.MethodPost, "/api/v1/cycles/trigger", true, http.StatusAccepted},
		{"resume not halted", http.MethodPost, "/api/v1/resume", true, http.StatusConflict},
		{"reload", http.MethodPost, "/api/v1/config/reload", true, http.StatusOK},
		{"wrong method", http.MethodGet, "/api/v1/pause", true, http.StatusMethodNotAllowed},
		{"history not wired", http.MethodGet, "/api/v1/cycles", true, http.StatusNotFound},
		{"ws not wired", http.MethodGet, "/ws", true, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token {
				req.Header.Set("Authorization", "Bearer ops-token")
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}
		})
	}

	if bot.triggered != 1 {
		t.Errorf("ожидали 1 запуск цикла, получили %d", bot.triggered)
	}
}

func TestSetupRoutes_NilDependencies(t *testing.T) {
	router := SetupRoutes(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}
