package apperr

import (
	"errors"
	"fmt"
)

// ValidationError представляет ошибку валидации входных данных.
// Не повторяется: некорректный запрос не станет корректным от повтора
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// NewValidation создает ошибку валидации
func NewValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError представляет отсутствие сущности
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// NewNotFound создает ошибку отсутствия сущности
func NewNotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// StateError представляет недопустимый переход статуса доставки.
// Ошибка называет и текущий, и запрошенный статус
type StateError struct {
	From string
	To   string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("illegal status transition from %s to %s", e.From, e.To)
}

// NewState создает ошибку недопустимого перехода статуса
func NewState(from, to string) *StateError {
	return &StateError{From: from, To: to}
}

// AssignmentError представляет сбой подбора водителя; повторяется с backoff
type AssignmentError struct {
	Msg string
}

func (e *AssignmentError) Error() string {
	return e.Msg
}

// NewAssignment создает ошибку подбора водителя
func NewAssignment(format string, args ...interface{}) *AssignmentError {
	return &AssignmentError{Msg: fmt.Sprintf(format, args...)}
}

// ExternalServiceError представляет сбой внешнего сервиса; повторяется
type ExternalServiceError struct {
	Service string
	Msg     string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Service, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Msg)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// NewExternal создает ошибку внешнего сервиса
func NewExternal(service, msg string, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Msg: msg, Err: err}
}

// ProcessingError представляет инфраструктурный сбой обработки сообщения
type ProcessingError struct {
	Msg string
	Err error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// NewProcessing создает инфраструктурную ошибку обработки
func NewProcessing(msg string, err error) *ProcessingError {
	return &ProcessingError{Msg: msg, Err: err}
}

// IsRetryable классифицирует ошибку для слоя очередей: ошибки валидации,
// отсутствия сущности и недопустимого перехода статуса постоянны и не
// повторяются; все остальное считается временным сбоем.
// Неизвестные ошибки повторяются - транспортный бюджет ограничит их сверху
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false
	}

	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		return false
	}

	var stateErr *StateError
	if errors.As(err, &stateErr) {
		return false
	}

	return true
}
