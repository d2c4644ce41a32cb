package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func sampleNotification() Notification {
	return Notification{
		ObservedAt:     time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		ReferencePrice: decimal.NewFromInt(95000),
		ImpliedPrice:   decimal.NewFromInt(94700),
		GapUSD:         decimal.NewFromInt(300),
		ThresholdUSD:   decimal.NewFromInt(150),
		Direction:      "UP",
		EventTicker:    "KXBTCD-25JAN0217",
		MarketTicker:   "KXBTCD-25JAN0217-T94699.99",
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Errorf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if !strings.Contains(r.URL.Path, "bottoken") {
			t.Errorf("路径应包含 bot token, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text := received["text"]
	for _, want := range []string{"$95000.00", "$94700.00", "$300.00 UP", "KXBTCD-25JAN0217"} {
		if !strings.Contains(text, want) {
			t.Fatalf("消息应包含 %q, 实际 %q", want, text)
		}
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("bad", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("HTTP 401 应报错")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
