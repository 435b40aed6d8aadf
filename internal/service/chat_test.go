package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/bigkaa/project-assistant/internal/n8n"
)

// fakeUpstream - управляемая подмена вебхука n8n.
type fakeUpstream struct {
	mu          sync.Mutex
	chatErr     error
	historyErr  error
	healthErr   error
	healthCalls int
	lastPayload map[string]any
}

func (f *fakeUpstream) Chat(_ context.Context, payload map[string]any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPayload = payload
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return json.RawMessage(`{"response":"привет"}`), nil
}

func (f *fakeUpstream) LoadPreviousSession(_ context.Context, sessionID string, _ map[string]any) (json.RawMessage, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return json.RawMessage(`{"sessionId":"` + sessionID + `","messages":[{"role":"user"}]}`), nil
}

func (f *fakeUpstream) Health(context.Context) (*n8n.HealthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthCalls++
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &n8n.HealthResult{StatusCode: 200, Body: json.RawMessage(`{"status":"ok"}`)}, nil
}

func (f *fakeUpstream) BaseURL() string     { return "http://n8n:5678" }
func (f *fakeUpstream) WebhookPath() string { return "/webhook/chat" }
func (f *fakeUpstream) WebhookURL() string  { return "http://n8n:5678/webhook/chat" }

func decode(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("ответ не JSON: %v (%s)", err, raw)
	}
	return m
}

func TestChat_NormalizesPayload(t *testing.T) {
	up := &fakeUpstream{}
	svc := NewChatService(up, testLogger())

	resp, err := svc.Send(context.Background(), Actor{UserID: "u-1"}, map[string]any{
		"chatInput": " как дела? ",
		"metadata":  map[string]any{"page": "docs"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if decode(t, resp)["response"] != "привет" {
		t.Errorf("ответ = %s", resp)
	}

	p := up.lastPayload
	if p["message"] != "как дела?" || p["chatInput"] != "как дела?" {
		t.Errorf("message/chatInput = %v/%v", p["message"], p["chatInput"])
	}
	if sid, _ := p["sessionId"].(string); sid == "" {
		t.Error("sessionId не сгенерирован")
	}
	meta := p["metadata"].(map[string]any)
	if meta["userId"] != "u-1" || meta["page"] != "docs" {
		t.Errorf("metadata = %v", meta)
	}
}

func TestChat_EmptyMessage(t *testing.T) {
	svc := NewChatService(&fakeUpstream{}, testLogger())
	if _, err := svc.Send(context.Background(), Actor{UserID: "u"}, map[string]any{"message": "  "}); !errors.Is(err, ErrValidation) {
		t.Errorf("ожидается ErrValidation, получено %v", err)
	}
}

func TestChat_FallbackOnUpstreamFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"сеть", errors.New("connection refused")},
		{"статус", &n8n.StatusError{StatusCode: 502}},
		{"некорректный JSON", n8n.ErrInvalidResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewChatService(&fakeUpstream{chatErr: tt.err}, testLogger())
			resp, err := svc.Send(context.Background(), Actor{UserID: "u"}, map[string]any{
				"message":   "где отчёт?",
				"sessionId": "s-1",
			})
			if err != nil {
				t.Fatalf("запасной ответ не должен быть ошибкой: %v", err)
			}
			body := decode(t, resp)
			if body["fallback"] != true || body["sessionId"] != "s-1" {
				t.Errorf("тело = %v", body)
			}
			if text, _ := body["response"].(string); !strings.Contains(text, "где отчёт?") {
				t.Errorf("запасной ответ не содержит текст пользователя: %q", text)
			}
		})
	}
}

func TestChat_LoadPreviousSession(t *testing.T) {
	ctx := context.Background()
	payload := func() map[string]any {
		return map[string]any{"action": n8n.ActionLoadPreviousSession, "sessionId": "s-9"}
	}

	svc := NewChatService(&fakeUpstream{}, testLogger())
	resp, err := svc.Send(ctx, Actor{UserID: "u"}, payload())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msgs := decode(t, resp)["messages"].([]any); len(msgs) != 1 {
		t.Errorf("история = %v", msgs)
	}

	svc = NewChatService(&fakeUpstream{historyErr: errors.New("down")}, testLogger())
	resp, err = svc.Send(ctx, Actor{UserID: "u"}, payload())
	if err != nil {
		t.Fatalf("Send при сбое: %v", err)
	}
	body := decode(t, resp)
	if body["sessionId"] != "s-9" || len(body["messages"].([]any)) != 0 {
		t.Errorf("ожидается пустая история, получено %v", body)
	}
}

func TestChat_HealthCached(t *testing.T) {
	up := &fakeUpstream{}
	svc := NewChatService(up, testLogger())
	ctx := context.Background()

	if h := svc.Health(ctx); !h.Available() || h.StatusCode != 200 {
		t.Errorf("health = %+v", h)
	}
	svc.Health(ctx)
	if up.healthCalls != 1 {
		t.Errorf("вызовов /healthz = %d, ожидается 1 (кэш)", up.healthCalls)
	}

	down := NewChatService(&fakeUpstream{healthErr: errors.New("refused")}, testLogger())
	if h := down.Health(ctx); h.Available() || h.Status != UpstreamUnavailable {
		t.Errorf("недоступный n8n: %+v", h)
	}
	if status, _ := down.CheckReady(); status != "fail" {
		t.Errorf("CheckReady = %s", status)
	}
}

func TestChat_Config(t *testing.T) {
	cfg := NewChatService(&fakeUpstream{}, testLogger()).Config()
	if cfg.WebhookURL != "http://n8n:5678/webhook/chat" || cfg.WebhookPath != "/webhook/chat" {
		t.Errorf("config = %+v", cfg)
	}
}
