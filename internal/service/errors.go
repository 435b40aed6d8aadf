// errors.go - ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/project-assistant/internal/repository"
)

var (
	// ErrNotFound - ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict - конфликт состояния или уникальности.
	ErrConflict = errors.New("конфликт")
	// ErrValidation - ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrUnauthorized - неверные учётные данные.
	ErrUnauthorized = errors.New("неверный логин или пароль")
	// ErrForbidden - недостаточно прав.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrInvalidToken - токен сброса пароля неизвестен, просрочен или использован.
	ErrInvalidToken = errors.New("недействительный или просроченный токен")
	// ErrInvalidCode - неверный или просроченный код 2FA.
	ErrInvalidCode = errors.New("неверный или просроченный код подтверждения")
	// ErrTooManyAttempts - превышен лимит попыток.
	ErrTooManyAttempts = errors.New("слишком много попыток")
	// ErrCycle - перемещение папки создаёт цикл.
	ErrCycle = errors.New("перемещение папки создаёт цикл")
	// ErrInvalidTransition - недопустимый переход статуса.
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
	// ErrTwoFactorRequired - требуется подтверждение второго фактора.
	ErrTwoFactorRequired = errors.New("требуется подтверждение второго фактора")
)

// RetryError - отказ с указанием, через сколько можно повторить.
// Оборачивает ErrTooManyAttempts.
type RetryError struct {
	RetryAfterSeconds int
	Reason            string
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s: повторите через %d с", e.Reason, e.RetryAfterSeconds)
}

func (e *RetryError) Unwrap() error {
	return ErrTooManyAttempts
}

// validationf возвращает ErrValidation с описанием.
func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// translate переводит ошибки репозиториев в ошибки сервисного слоя,
// сохраняя текст исходной ошибки.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
