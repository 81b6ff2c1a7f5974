// errors.go — ошибки сервисного слоя.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed — не удалось получить снимок топологии.
	ErrFetchFailed = errors.New("не удалось получить снимок топологии")
	// ErrPreconditionNotMet — операция не прошла проверку предусловий.
	ErrPreconditionNotMet = errors.New("предусловие операции не выполнено")
	// ErrNotFound — узел, слот или OSD не найден.
	ErrNotFound = errors.New("сущность не найдена")
	// ErrBackendNotFound — backend не обслуживается сессией.
	ErrBackendNotFound = errors.New("backend не найден")
	// ErrUnknownScope — неизвестная область обновления.
	ErrUnknownScope = errors.New("неизвестная область обновления")
	// ErrSessionClosed — сессия закрыта.
	ErrSessionClosed = errors.New("сессия закрыта")
)

// PreconditionError — причина отказа в запуске операции.
// Совпадает с ErrPreconditionNotMet через errors.Is.
type PreconditionError struct {
	// Reason — машиночитаемый код причины
	Reason string
	// Message — описание для пользователя
	Message string
}

// Причины отказа.
const (
	ReasonForbidden        = "FORBIDDEN"
	ReasonReadOnly         = "READ_ONLY"
	ReasonNotFound         = "NOT_FOUND"
	ReasonProcessing       = "PROCESSING"
	ReasonNothingToDo      = "NOTHING_TO_DO"
	ReasonSafetyUnknown    = "SAFETY_UNKNOWN"
	ReasonNotDeletable     = "NOT_DELETABLE"
	ReasonInvalidArguments = "INVALID_ARGUMENTS"
)

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Is сопоставляет ошибку с ErrPreconditionNotMet.
func (e *PreconditionError) Is(target error) bool {
	return target == ErrPreconditionNotMet
}

func precondition(reason, format string, args ...any) *PreconditionError {
	return &PreconditionError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
