package middleware

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"tradebot/pkg/crypto"
	"tradebot/pkg/utils"
)

// TokenAuth - проверка Bearer токена оператора по bcrypt-хешу (api_token_hash)
//
// Пустой хеш отключает проверку (локальное развертывание).
// Успешно проверенные токены кешируются по SHA-256: bcrypt выполняется один раз на токен.
type TokenAuth struct {
	hash     string
	verified sync.Map // [32]byte -> struct{}
	exempt   map[string]struct{}
}

// NewTokenAuth создаёт middleware. exempt - пути без проверки (health, metrics).
func NewTokenAuth(tokenHash string, exempt ...string) *TokenAuth {
	a := &TokenAuth{
		hash:   strings.TrimSpace(tokenHash),
		exempt: make(map[string]struct{}, len(exempt)),
	}
	for _, p := range exempt {
		a.exempt[p] = struct{}{}
	}
	return a
}

// Enabled - включена ли проверка
func (a *TokenAuth) Enabled() bool {
	return a.hash != ""
}

// Middleware - обёртка для mux.Router.Use
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := a.exempt[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			unauthorized(w, "missing bearer token")
			return
		}
		if !a.check(token) {
			utils.L().WithComponent("api").Warn("rejected api token",
				utils.String("path", r.URL.Path),
				utils.String("remote", r.RemoteAddr),
			)
			unauthorized(w, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *TokenAuth) check(token string) bool {
	key := sha256.Sum256([]byte(token))
	if _, ok := a.verified.Load(key); ok {
		return true
	}
	if err := crypto.VerifyToken(token, a.hash); err != nil {
		return false
	}
	a.verified.Store(key, struct{}{})
	return true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		// браузерный WebSocket не умеет заголовки
		if r.URL.Path == "/ws" {
			return r.URL.Query().Get("token")
		}
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="tradebot"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
