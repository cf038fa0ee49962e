package errors

import (
	"errors"
	"fmt"
)

var (
	// Общие
	ErrNotFound      = fmt.Errorf("запись не найдена")
	ErrBadRequest    = fmt.Errorf("неверный запрос")
	ErrUnauthorized  = fmt.Errorf("неавторизован")
	ErrAlreadyExists = fmt.Errorf("запись уже существует")

	// Удалённый API SmartMoving
	ErrRemoteUnavailable = fmt.Errorf("smartmoving: сервис недоступен")
	ErrRemoteRejected    = fmt.Errorf("smartmoving: запрос отклонён")
	ErrRemoteDecode      = fmt.Errorf("smartmoving: не удалось разобрать ответ")

	// Синхронизация
	ErrTenantMissing      = fmt.Errorf("клиент-арендатор не найден")
	ErrLocationUnresolved = fmt.Errorf("не удалось определить локацию")
	ErrStoreWrite         = fmt.Errorf("ошибка записи в хранилище")
	ErrStaleSync          = fmt.Errorf("устаревшие данные синхронизации")
	ErrCancelled          = fmt.Errorf("операция отменена")
)

// kinds - имена видов ошибок для отчётов и журнала sync_runs.
var kinds = []struct {
	err  error
	name string
}{
	{ErrRemoteUnavailable, "RemoteUnavailable"},
	{ErrRemoteRejected, "RemoteRejected"},
	{ErrRemoteDecode, "RemoteDecode"},
	{ErrTenantMissing, "TenantMissing"},
	{ErrLocationUnresolved, "LocationUnresolved"},
	{ErrStoreWrite, "StoreWrite"},
	{ErrCancelled, "Cancelled"},
	{ErrNotFound, "NotFound"},
}

// Kind возвращает имя вида ошибки. Пустая строка для nil, "Internal" для неизвестных.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// RemoteError описывает неуспешный ответ удалённого API.
type RemoteError struct {
	Kind       error
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *RemoteError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Кастомные типы ошибок
type InvalidInputError struct {
	Message string
}

func (e *InvalidInputError) Error() string { return e.Message }

func NewInvalidInputError(format string, args ...interface{}) error {
	return &InvalidInputError{Message: fmt.Sprintf(format, args...)}
}

// HttpError - ошибка, которую контроллер отдаёт клиенту как есть.
type HttpError struct {
	Code    int
	Message string
	Err     error
	Details interface{}
}

func (e *HttpError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *HttpError) Unwrap() error { return e.Err }

func NewHttpError(code int, message string, err error, details interface{}) *HttpError {
	return &HttpError{Code: code, Message: message, Err: err, Details: details}
}
