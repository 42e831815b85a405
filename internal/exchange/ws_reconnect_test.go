package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsTestServer принимает соединения, пересылает подписки в канал
// и закрывает первое соединение после первого сообщения
type wsTestServer struct {
	srv   *httptest.Server
	subs  chan string
	conns int32
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	ts := &wsTestServer{subs: make(chan string, 10)}
	upgrader := websocket.Upgrader{}

	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := atomic.AddInt32(&ts.conns, 1)

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		ts.subs <- string(msg)

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ticker"}`))
		if n == 1 {
			// обрываем первое соединение
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func TestWSReconnectManager_ResubscribesAfterDrop(t *testing.T) {
	ts := newWSTestServer(t)

	m := NewWSReconnectManager("test", ts.url(), WSReconnectConfig{
		InitialDelay:   10 * time.Millisecond,
		MaxDelay:       20 * time.Millisecond,
		ConnectTimeout: time.Second,
		PingInterval:   time.Second,
		PongTimeout:    time.Second,
	})
	defer m.Close()

	var messages, connects, disconnects int32
	m.SetOnMessage(func([]byte) { atomic.AddInt32(&messages, 1) })
	m.SetOnConnect(func() { atomic.AddInt32(&connects, 1) })
	m.SetOnDisconnect(func(error) { atomic.AddInt32(&disconnects, 1) })

	if err := m.AddSubscription(map[string]string{"type": "ticker"}); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case sub := <-ts.subs:
			if sub != `{"type":"ticker"}` {
				t.Errorf("подписка %d: получили %s", i, sub)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("подписка %d не получена", i)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for atomic.LoadInt32(&connects) < 2 || atomic.LoadInt32(&messages) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("нет переподключения: connects=%d messages=%d", atomic.LoadInt32(&connects), atomic.LoadInt32(&messages))
		}
		time.Sleep(5 * time.Millisecond)
	}

	if atomic.LoadInt32(&disconnects) < 1 {
		t.Error("onDisconnect не вызван")
	}
	if !m.IsConnected() {
		t.Errorf("ожидали connected, получили %s", m.GetState())
	}
}

func TestWSReconnectManager_CloseStopsLoop(t *testing.T) {
	ts := newWSTestServer(t)
	m := NewWSReconnectManager("test", ts.url(), WSReconnectConfig{InitialDelay: 10 * time.Millisecond})

	_ = m.AddSubscription(map[string]string{"type": "ticker"})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-ts.subs

	if err := m.Close(); err != nil {
		t.Logf("Close: %v", err)
	}

	select {
	case <-m.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("цикл чтения не остановился после Close")
	}
	if m.GetState() != WSStateClosed {
		t.Errorf("ожидали closed, получили %s", m.GetState())
	}
	if err := m.Start(context.Background()); err != ErrWSClosed {
		t.Errorf("Start после Close: ожидали ErrWSClosed, получили %v", err)
	}
}

func TestWSReconnectManager_DialError(t *testing.T) {
	m := NewWSReconnectManager("test", "ws://127.0.0.1:1/ws", WSReconnectConfig{ConnectTimeout: 200 * time.Millisecond})
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("ожидали ошибку подключения")
	}
	if m.GetState() != WSStateDisconnected {
		t.Errorf("ожидали disconnected, получили %s", m.GetState())
	}
}
