package crypto

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// тесты используют минимальную стоимость: DefaultCost слишком медленный
const testCost = bcrypt.MinCost

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	b, _ := GenerateToken()

	if len(a) != 43 {
		t.Errorf("длина токена: ожидали 43, получили %d", len(a))
	}
	if a == b {
		t.Error("токены должны различаться")
	}
	if strings.ContainsAny(a, "+/=") {
		t.Errorf("токен должен быть base64url без паддинга: %s", a)
	}
}

func TestHashTokenWithCost(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		cost    int
		wantErr error
		want    int
	}{
		{"обычный", "secret-token", testCost, nil, testCost},
		{"cost ниже минимума", "secret-token", 1, nil, bcrypt.MinCost},
		{"пустой", "", testCost, ErrEmptyToken, 0},
		{"слишком длинный", strings.Repeat("x", MaxTokenLength+1), testCost, ErrTokenTooLong, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashTokenWithCost(tt.token, tt.cost)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ожидали %v, получили %v", tt.wantErr, err)
			}
			if tt.wantErr != nil {
				return
			}
			cost, _ := bcrypt.Cost([]byte(hash))
			if cost != tt.want {
				t.Errorf("cost: ожидали %d, получили %d", tt.want, cost)
			}
		})
	}
}

func TestVerifyToken(t *testing.T) {
	hash, err := HashTokenWithCost("secret-token", testCost)
	if err != nil {
		t.Fatalf("HashTokenWithCost: %v", err)
	}

	tests := []struct {
		name    string
		token   string
		hash    string
		wantErr error
	}{
		{"совпадает", "secret-token", hash, nil},
		{"не совпадает", "other-token", hash, ErrTokenMismatch},
		{"пустой токен", "", hash, ErrEmptyToken},
		{"пустой хеш", "secret-token", "", ErrInvalidHash},
		{"битый хеш", "secret-token", "$2a$04$broken", ErrInvalidHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := VerifyToken(tt.token, tt.hash); !errors.Is(err, tt.wantErr) {
				t.Errorf("ожидали %v, получили %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateHash(t *testing.T) {
	hash, _ := HashTokenWithCost("t", testCost)
	if err := ValidateHash(hash); err != nil {
		t.Errorf("валидный хеш: %v", err)
	}
	if err := ValidateHash("plaintext"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("ожидали ErrInvalidHash, получили %v", err)
	}
}
