// Пакет errors — конструкторы стандартных ошибок HTTP API Pastry.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // TODO: переименовать пакет errors, конфликт со stdlib

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок API.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeExpired              = "EXPIRED"
	CodeLimitReached         = "LIMIT_REACHED"
	CodePasswordRequired     = "PASSWORD_REQUIRED"
	CodeInvalidPassword      = "INVALID_PASSWORD"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeEmptyFile            = "EMPTY_FILE"
	CodeMimeNotAllowed       = "MIME_NOT_ALLOWED"
	CodePasswordTooLong      = "PASSWORD_TOO_LONG"
	CodeInvalidDownloadLimit = "INVALID_DOWNLOAD_LIMIT"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternalError        = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате Pastry.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Expired — 410 срок действия ссылки истёк.
func Expired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, CodeExpired, message)
}

// LimitReached — 410 лимит скачиваний исчерпан.
func LimitReached(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, CodeLimitReached, message)
}

// PasswordRequired — 401 файл защищён паролем.
func PasswordRequired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodePasswordRequired, message)
}

// InvalidPassword — 403 пароль не совпадает.
func InvalidPassword(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeInvalidPassword, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// RateLimited — 429 превышен лимит запросов.
func RateLimited(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
