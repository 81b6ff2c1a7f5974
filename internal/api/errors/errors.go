// Пакет errors — ответы об ошибках HTTP API консоли.
// Формат тела: {"error": {"code": "...", "message": "..."}}.
// HTTP-статус определяется кодом ошибки.
package errors //nolint:revive // конфликт имени со stdlib

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/service"
)

// Коды ошибок API.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeUpstreamError   = "UPSTREAM_ERROR"
	CodeUnavailable     = "SERVICE_UNAVAILABLE"
	CodeInternalError   = "INTERNAL_ERROR"
)

var statusByCode = map[string]int{
	CodeValidationError: http.StatusBadRequest,
	CodeNotFound:        http.StatusNotFound,
	CodeUnauthorized:    http.StatusUnauthorized,
	CodeForbidden:       http.StatusForbidden,
	CodeUpstreamError:   http.StatusBadGateway,
	CodeUnavailable:     http.StatusServiceUnavailable,
	CodeInternalError:   http.StatusInternalServerError,
}

// Status возвращает HTTP-статус кода ошибки. Неизвестный код — 500.
func Status(code string) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

type envelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Write записывает ответ ошибки; статус берётся из кода.
func Write(w http.ResponseWriter, code, message string) {
	var body envelope
	body.Error.Code = code
	body.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(Status(code))
	_ = json.NewEncoder(w).Encode(body)
}

// ValidationError — 400.
func ValidationError(w http.ResponseWriter, message string) {
	Write(w, CodeValidationError, message)
}

// Unauthorized — 401.
func Unauthorized(w http.ResponseWriter, message string) {
	Write(w, CodeUnauthorized, message)
}

// Forbidden — 403.
func Forbidden(w http.ResponseWriter, message string) {
	Write(w, CodeForbidden, message)
}

// CodeFor классифицирует ошибку сервисного слоя.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, service.ErrBackendNotFound), errors.Is(err, service.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, service.ErrUnknownScope):
		return CodeValidationError
	case errors.Is(err, service.ErrSessionClosed):
		return CodeUnavailable
	case errors.Is(err, service.ErrFetchFailed):
		return CodeUpstreamError
	default:
		return CodeInternalError
	}
}

// Service записывает ошибку сервисного слоя. Текст внутренних ошибок
// в ответ не попадает, они логируются.
func Service(w http.ResponseWriter, err error, logger *slog.Logger) {
	code := CodeFor(err)
	if code == CodeInternalError {
		logger.Error("Необработанная ошибка сервиса", slog.String("error", err.Error()))
		Write(w, code, "Внутренняя ошибка")
		return
	}
	Write(w, code, err.Error())
}
