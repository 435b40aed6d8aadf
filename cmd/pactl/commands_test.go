package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestChatCommand(t *testing.T) {
	var gotMessage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/auth/login":
			_, _ = w.Write([]byte(`{"token":"t","requiresTwoFactor":false}`))
		case "/api/n8n/chat":
			if r.Header.Get("Authorization") != "Bearer t" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotMessage, _ = body["message"].(string)
			_, _ = w.Write([]byte(`{"response":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	root := newRootCommand()

	root.SetArgs([]string{"chat", "--api-url", srv.URL, "--login", "anna", "--password", "Secret#123"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "--message") {
		t.Errorf("без --message: ожидается ошибка, получено %v", err)
	}

	root.SetArgs([]string{"chat", "--api-url", srv.URL, "--login", "anna", "--password", "Secret#123", "--message", "привет"})
	if err := root.Execute(); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if gotMessage != "привет" {
		t.Errorf("сообщение на сервере = %q", gotMessage)
	}
}

func TestSignIn_RequiresCredentials(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"set-password", "--user-id", "u-1", "--new-password", "Secret#123", "--login", "", "--password", ""})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "--login") {
		t.Errorf("без учётных данных: ожидается ошибка, получено %v", err)
	}
}

func TestSignIn_TwoFactorWithoutCode(t *testing.T) {
	var sent int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/auth/login":
			_, _ = w.Write([]byte(`{"token":"pending","requiresTwoFactor":true}`))
		case "/api/auth/2fa/send":
			sent++
			_, _ = w.Write([]byte(`{"retryAfterSeconds":60}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	root := newRootCommand()
	root.SetArgs([]string{"chat", "--api-url", srv.URL, "--login", "anna", "--password", "Secret#123", "--code", "", "--message", "x"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "--code") {
		t.Errorf("ожидается подсказка про --code, получено %v", err)
	}
	if sent != 1 {
		t.Errorf("запросов отправки кода = %d", sent)
	}
}
