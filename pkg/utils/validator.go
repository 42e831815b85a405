package utils

import (
	"fmt"
	"regexp"
	"strings"
)

// validator.go - проверка входных данных конфигурации и API

var marketPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}_[A-Z]{3,5}$`)

// ValidateMarket проверяет формат кода рынка вида BTC_KRW
func ValidateMarket(market string) error {
	if market == "" {
		return fmt.Errorf("market is empty")
	}
	if !marketPattern.MatchString(strings.ToUpper(market)) {
		return fmt.Errorf("invalid market %q, expected BASE_QUOTE (e.g. BTC_KRW)", market)
	}
	return nil
}

// SplitMarket разбивает код рынка на базовую и котируемую валюты
//
// Пример:
//
//	base, quote, _ := SplitMarket("btc_krw") // "BTC", "KRW"
func SplitMarket(market string) (base, quote string, err error) {
	if err := ValidateMarket(market); err != nil {
		return "", "", err
	}
	parts := strings.SplitN(strings.ToUpper(market), "_", 2)
	return parts[0], parts[1], nil
}

// ValidateLimit нормализует параметр limit для выборок: [1, max], по умолчанию def
func ValidateLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
