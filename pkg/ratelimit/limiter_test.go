package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_AllowBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.lastRefill = now

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("запрос %d в пределах burst должен пройти", i)
		}
	}
	if rl.Allow() {
		t.Error("после исчерпания burst запрос должен быть отклонён")
	}

	// через секунду появляется один токен
	now = now.Add(time.Second)
	if !rl.Allow() {
		t.Error("после пополнения запрос должен пройти")
	}
	if rl.Allow() {
		t.Error("пополнился только один токен")
	}
}

func TestRateLimiter_RefillCappedByBurst(t *testing.T) {
	rl := NewRateLimiter(10, 5)
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.lastRefill = now

	now = now.Add(time.Hour)
	if got := rl.Tokens(); got != 5 {
		t.Errorf("Tokens: ожидали 5, получили %v", got)
	}
}

func TestRateLimiter_WaitRespectsContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("первый токен должен выдаваться сразу: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rl.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ожидали DeadlineExceeded, получили %v", err)
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.Rate() != 10 || rl.Burst() != 20 {
		t.Errorf("значения по умолчанию: rate=%v burst=%v", rl.Rate(), rl.Burst())
	}
}

func TestMultiLimiter(t *testing.T) {
	ml := NewBithumbLimiter()

	for _, cat := range []string{CategoryPublic, CategoryPrivate, CategoryTrade} {
		if ml.Get(cat) == nil {
			t.Errorf("нет limiter'а для категории %s", cat)
		}
		if err := ml.Wait(context.Background(), cat); err != nil {
			t.Errorf("Wait(%s): %v", cat, err)
		}
	}

	// неизвестная категория не ограничена
	if err := ml.Wait(context.Background(), "unknown"); err != nil {
		t.Errorf("Wait(unknown): %v", err)
	}
}
