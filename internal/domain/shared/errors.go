// Package shared содержит общие доменные типы, ошибки, события и объекты-значения,
// которые используют все доменные пакеты. Внешних зависимостей у пакета нет.
package shared

import (
	"errors"
	"fmt"
)

// Базовые доменные ошибки для проверки через errors.Is().
var (
	// Ошибки сущностей
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Ошибки валидации
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// Ошибки состояния
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrExpired          = errors.New("expired")

	// Ошибки авторизации
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Ошибки конкурентного доступа
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// Ошибки инфраструктуры
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError - доменная ошибка с контекстом.
type DomainError struct {
	Domain  string // например "grading", "progress", "recommendation"
	Op      string // Операция, например "Grade", "Apply"
	Kind    error  // Базовая ошибка для errors.Is()
	Message string // Сообщение для человека
	Err     error  // Исходная ошибка (может отсутствовать)
}

// Error реализует интерфейс error.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap возвращает исходную ошибку для errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is реализует сопоставление для errors.Is().
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError создаёт доменную ошибку.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError оборачивает ошибку доменным контекстом.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Ошибки оценивания
var (
	ErrLessonNotFound     = NewDomainError("grading", "GetLesson", ErrNotFound, "lesson not found")
	ErrQuestionNotFound   = NewDomainError("grading", "Grade", ErrNotFound, "question not found in lesson")
	ErrEmptySubmission    = NewDomainError("grading", "Validate", ErrValidation, "submission has no answers")
	ErrDuplicateAnswer    = NewDomainError("grading", "Validate", ErrValidation, "question answered more than once")
	ErrMissingAnswer      = NewDomainError("grading", "Validate", ErrValidation, "question left unanswered")
	ErrDuplicateSubmitted = NewDomainError("grading", "Submit", ErrAlreadyProcessed, "identical submission is already being processed")
	ErrUnsupportedType    = NewDomainError("grading", "Grade", ErrInvalidState, "question type has no grading strategy")
	ErrMalformedQuestion  = NewDomainError("grading", "Grade", ErrInvalidEntity, "question payload does not match its type")
)

// Ошибки учётной записи ученика
var (
	ErrAccountNotFound  = NewDomainError("level", "Find", ErrNotFound, "learner account not found")
	ErrVersionConflict  = NewDomainError("level", "CompareAndSwap", ErrConcurrentModification, "account was modified concurrently")
	ErrInvalidLevel     = NewDomainError("level", "Parse", ErrInvalidInput, "unknown english level")
	ErrNegativePoints   = NewDomainError("level", "AddPoints", ErrNegativeValue, "points cannot be negative")
	ErrRetriesExhausted = NewDomainError("level", "Evaluate", ErrConcurrentModification, "gave up after repeated concurrent modifications")
)

// Ошибки прогресса
var (
	ErrSubmissionAlreadyApplied = NewDomainError("progress", "Apply", ErrAlreadyProcessed, "submission already applied to statistics")
	ErrTopicProgressNotFound    = NewDomainError("progress", "FindTopic", ErrNotFound, "topic progress not found")
	ErrInvalidModuleType        = NewDomainError("progress", "Validate", ErrInvalidInput, "unknown module type")
	ErrInvalidQuestionType      = NewDomainError("progress", "Validate", ErrInvalidInput, "unknown question type")
)

// Ошибки рекомендаций
var (
	ErrRecommendationNotFound  = NewDomainError("recommendation", "Find", ErrNotFound, "recommendation not found")
	ErrRecommendationExpired   = NewDomainError("recommendation", "Accept", ErrExpired, "recommendation has expired")
	ErrRecommendationCompleted = NewDomainError("recommendation", "Transition", ErrStateTransition, "recommendation is already completed")
	ErrInvalidRecommendation   = NewDomainError("recommendation", "Validate", ErrInvalidEntity, "invalid recommendation")
)

// IsNotFound проверяет, что объект не найден.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists проверяет, что объект уже существует.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation проверяет, что это ошибка валидации.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsConflict проверяет, что запрос противоречит текущему состоянию.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStateTransition) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrInvalidState)
}

// IsConcurrencyConflict проверяет, что обнаружено потерянное обновление.
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsRetryable проверяет, можно ли повторить операцию.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
