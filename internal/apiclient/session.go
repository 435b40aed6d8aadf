package apiclient

import "sync"

// Session - единственный держатель токена клиента.
// Ответ 401 на запрос с токеном очищает токен и вызывает слушателей OnUnauthorized.
type Session struct {
	mu             sync.RWMutex
	token          string
	onUnauthorized []func()
}

// NewSession создаёт пустую сессию.
func NewSession() *Session {
	return &Session{}
}

// Token возвращает текущий токен или пустую строку.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken сохраняет токен.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// ClearToken удаляет токен.
func (s *Session) ClearToken() {
	s.SetToken("")
}

// OnUnauthorized регистрирует слушателя события «сервер отклонил токен».
func (s *Session) OnUnauthorized(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUnauthorized = append(s.onUnauthorized, fn)
}

// unauthorized очищает токен и оповещает слушателей вне блокировки.
func (s *Session) unauthorized() {
	s.mu.Lock()
	s.token = ""
	listeners := make([]func(), len(s.onUnauthorized))
	copy(listeners, s.onUnauthorized)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
