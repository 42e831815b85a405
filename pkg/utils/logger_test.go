package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// bufferLogger пишет JSON в буфер, чтобы проверять поля
func bufferLogger(level zapcore.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{MessageKey: "msg", LevelKey: "level", EncodeLevel: zapcore.LowercaseLevelEncoder}),
		zapcore.AddSync(&buf),
		level,
	)
	base := zap.New(core)
	return &Logger{Logger: base, sugar: base.Sugar()}, &buf
}

// decodeLines разбирает JSON-строки лога
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := jsoniter.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("строка лога не JSON %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{" DEBUG ", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"Warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"verbose", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q): ожидали %v, получили %v", tt.input, tt.want, got)
			}
		})
	}
}

func TestInitLogger_LevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	logger := InitLogger(LogConfig{Level: "warn", Format: "json", Output: path})

	logger.Info("hidden")
	logger.Warn("cycle skipped", Reason("cooldown"))
	logger.Sync()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("чтение лога: %v", err)
	}
	lines := decodeLines(t, bytes.NewBuffer(content))
	if len(lines) != 1 {
		t.Fatalf("ожидали 1 запись, получили %d: %s", len(lines), content)
	}
	entry := lines[0]
	if entry["msg"] != "cycle skipped" || entry["reason"] != "cooldown" {
		t.Errorf("запись: получили %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("ожидали поле ts")
	}
}

func TestInitLogger_TextFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	logger := InitLogger(LogConfig{Level: "debug", Format: "text", Output: path, Development: true})
	logger.Debug("window filled", Int("candles", 20))
	logger.Sync()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("чтение лога: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "DEBUG") || !strings.Contains(text, "window filled") {
		t.Errorf("текстовый формат: получили %q", text)
	}
	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		t.Error("текстовый формат не должен быть JSON")
	}
}

func TestOpenSink_FallsBackToStderr(t *testing.T) {
	for _, output := range []string{"", "stderr", "STDOUT", "/nonexistent/dir/bot.log"} {
		if sink := openSink(output); sink == nil {
			t.Errorf("openSink(%q) вернул nil", output)
		}
	}
}

func TestGlobalLogger(t *testing.T) {
	prev := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(prev) })

	globalMu.Lock()
	globalLogger = nil
	globalMu.Unlock()

	first := GetGlobalLogger()
	if first == nil || first != L() {
		t.Fatal("ожидали один и тот же логгер по умолчанию")
	}

	installed := InitGlobalLogger(LogConfig{Level: "error"})
	if L() != installed {
		t.Error("InitGlobalLogger не заменил глобальный логгер")
	}
}

func TestGlobalFunctions(t *testing.T) {
	prev := GetGlobalLogger()
	t.Cleanup(func() { SetGlobalLogger(prev) })

	logger, buf := bufferLogger(zapcore.DebugLevel)
	SetGlobalLogger(logger)

	Debug("tick", Market("BTC_KRW"))
	Info("cycle done", CycleID(3))
	Warn("stale ticker")
	Error("order rejected", OrderID("c-1"))
	Infof("filled %s of %s", "0.5", "1")
	Errorf("retry %d", 2)

	lines := decodeLines(t, buf)
	want := []struct{ level, msg string }{
		{"debug", "tick"},
		{"info", "cycle done"},
		{"warn", "stale ticker"},
		{"error", "order rejected"},
		{"info", "filled 0.5 of 1"},
		{"error", "retry 2"},
	}
	if len(lines) != len(want) {
		t.Fatalf("ожидали %d записей, получили %d", len(want), len(lines))
	}
	for i, w := range want {
		if lines[i]["level"] != w.level || lines[i]["msg"] != w.msg {
			t.Errorf("запись %d: ожидали %s/%s, получили %v", i, w.level, w.msg, lines[i])
		}
	}
	if lines[1]["cycle_id"] != float64(3) {
		t.Errorf("cycle_id: получили %v", lines[1]["cycle_id"])
	}
}

func TestDomainFields(t *testing.T) {
	logger, buf := bufferLogger(zapcore.InfoLevel)

	logger.WithComponent("engine").WithMarket("BTC_KRW").WithCycleID(7).WithOrderID("c-9").Info("order placed",
		Side("buy"),
		State("ORDERING"),
		Price(decimal.RequireFromString("25000.5")),
		Quantity(decimal.RequireFromString("0.5")),
		PNL(decimal.RequireFromString("-100.25")),
		Latency(15.5),
		RequestID("req-1"),
	)

	entry := decodeLines(t, buf)[0]
	want := map[string]interface{}{
		"component":  "engine",
		"market":     "BTC_KRW",
		"cycle_id":   float64(7),
		"order_id":   "c-9",
		"side":       "buy",
		"state":      "ORDERING",
		"price":      "25000.5",
		"quantity":   "0.5",
		"pnl":        "-100.25",
		"latency_ms": 15.5,
		"request_id": "req-1",
	}
	for key, value := range want {
		if entry[key] != value {
			t.Errorf("поле %s: ожидали %v, получили %v", key, value, entry[key])
		}
	}
}

func TestLogger_WithReturnsChild(t *testing.T) {
	logger, buf := bufferLogger(zapcore.InfoLevel)
	child := logger.With(String("k", "v"))
	if child == logger {
		t.Fatal("With должен вернуть новый логгер")
	}

	logger.Info("parent")
	child.Sugar().Infow("child")

	lines := decodeLines(t, buf)
	if _, ok := lines[0]["k"]; ok {
		t.Error("поле дочернего логгера попало в родительский")
	}
	if lines[1]["k"] != "v" {
		t.Errorf("дочерний логгер потерял поле: %v", lines[1])
	}
}

func TestInfow(t *testing.T) {
	logger, buf := bufferLogger(zapcore.InfoLevel)
	logger.Infow("report sent", String("date", "2026-01-02"), Int("trades", 4))

	entry := decodeLines(t, buf)[0]
	if entry["date"] != "2026-01-02" || entry["trades"] != float64(4) {
		t.Errorf("Infow: получили %v", entry)
	}
}

func TestFieldsToInterface(t *testing.T) {
	got := fieldsToInterface([]zap.Field{String("a", "1"), Int("b", 2)})
	if len(got) != 4 || got[0] != "a" || got[1] != "1" || got[2] != "b" {
		t.Errorf("ожидали [a 1 b 2], получили %v", got)
	}
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Info("dropped")
	l.WithComponent("x").Warn("dropped too")
}

func BenchmarkLogger_Info(b *testing.B) {
	logger := InitLogger(LogConfig{Level: "info", Output: os.DevNull})
	price := decimal.RequireFromString("25000.5")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.Info("tick", Market("BTC_KRW"), Price(price), Int("i", i))
	}
}

func BenchmarkLogger_With(b *testing.B) {
	logger := InitLogger(LogConfig{Level: "info", Output: os.DevNull})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.WithComponent("engine").WithCycleID(int64(i)).Info("cycle")
	}
}
