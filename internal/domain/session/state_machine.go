// Пакет session - конечный автомат сессии клиента.
//
// Жизненный цикл:
//   - unauthenticated → authenticating → authenticated
//   - authenticating → pending_two_factor → authenticated, если сервер
//     сообщил requiresTwoFactor
//   - любая ошибка входа или выход возвращают в unauthenticated
//
// Потокобезопасен через sync.RWMutex.
package session

import (
	"fmt"
	"sync"
	"time"
)

// State - состояние сессии.
type State string

const (
	// StateUnauthenticated - нет токена
	StateUnauthenticated State = "unauthenticated"
	// StateAuthenticating - запрос входа в процессе
	StateAuthenticating State = "authenticating"
	// StatePendingTwoFactor - пароль проверен, ожидается код из email
	StatePendingTwoFactor State = "pending_two_factor"
	// StateAuthenticated - полный токен получен
	StateAuthenticated State = "authenticated"
)

// Area - класс маршрутов, доступ к которым зависит от состояния.
type Area string

const (
	// AreaPublic - вход, сброс пароля, требования к паролю
	AreaPublic Area = "public"
	// AreaTwoFactor - отправка и проверка кода 2FA, /auth/me
	AreaTwoFactor Area = "two_factor"
	// AreaProtected - всё остальное
	AreaProtected Area = "protected"
)

// TransitionRecord - запись о переходе между состояниями.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// StateMachine - конечный автомат сессии.
type StateMachine struct {
	mu        sync.RWMutex
	current   State
	history   []TransitionRecord
	listeners []func(from, to State)
}

// validTransitions - матрица допустимых переходов.
var validTransitions = map[State]map[State]bool{
	StateUnauthenticated:  {StateAuthenticating: true},
	StateAuthenticating:   {StateAuthenticated: true, StatePendingTwoFactor: true, StateUnauthenticated: true},
	StatePendingTwoFactor: {StateAuthenticated: true, StateUnauthenticated: true},
	StateAuthenticated:    {StateUnauthenticated: true},
}

// allowedAreas - доступные классы маршрутов для каждого состояния.
var allowedAreas = map[State]map[Area]bool{
	StateUnauthenticated:  {AreaPublic: true},
	StateAuthenticating:   {AreaPublic: true},
	StatePendingTwoFactor: {AreaPublic: true, AreaTwoFactor: true},
	StateAuthenticated:    {AreaPublic: true, AreaTwoFactor: true, AreaProtected: true},
}

// New создаёт автомат в состоянии unauthenticated.
func New() *StateMachine {
	return &StateMachine{
		current: StateUnauthenticated,
		history: make([]TransitionRecord, 0),
	}
}

// Current возвращает текущее состояние.
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// CanTransitionTo проверяет, допустим ли переход в target.
func (sm *StateMachine) CanTransitionTo(target State) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return validTransitions[sm.current][target]
}

// TransitionTo выполняет переход. Слушатели вызываются после снятия блокировки.
func (sm *StateMachine) TransitionTo(target State) error {
	sm.mu.Lock()

	if !isValidState(target) {
		sm.mu.Unlock()
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("недопустимое состояние: %q", target),
		}
	}
	if !validTransitions[sm.current][target] {
		from := sm.current
		sm.mu.Unlock()
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", from, target),
		}
	}

	from := sm.current
	sm.current = target
	sm.history = append(sm.history, TransitionRecord{
		From:      from,
		To:        target,
		Timestamp: time.Now().UTC(),
	})
	listeners := make([]func(from, to State), len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	for _, fn := range listeners {
		fn(from, target)
	}
	return nil
}

// Reset возвращает автомат в unauthenticated из любого состояния
// (выход или ответ 401). Из unauthenticated ничего не делает.
func (sm *StateMachine) Reset() {
	if sm.Current() == StateUnauthenticated {
		return
	}
	_ = sm.TransitionTo(StateUnauthenticated)
}

// OnTransition регистрирует слушателя переходов.
func (sm *StateMachine) OnTransition(fn func(from, to State)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}

// CanAccess проверяет, доступен ли класс маршрутов в текущем состоянии.
func (sm *StateMachine) CanAccess(area Area) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return allowedAreas[sm.current][area]
}

// History возвращает историю переходов (копия).
func (sm *StateMachine) History() []TransitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make([]TransitionRecord, len(sm.history))
	copy(result, sm.history)
	return result
}

// TransitionError - ошибка перехода между состояниями.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func isValidState(s State) bool {
	switch s {
	case StateUnauthenticated, StateAuthenticating, StatePendingTwoFactor, StateAuthenticated:
		return true
	default:
		return false
	}
}
