// Package shared содержит общие доменные типы, ошибки, события и объекты-значения,
// которые используют все доменные пакеты.
package shared

import (
	"context"
	"time"
)

// EventType - тип доменного события.
type EventType string

// Типы доменных событий.
const (
	// События обучения
	EventLessonCompleted EventType = "learning.lesson_completed"
	EventLevelUpgraded   EventType = "learning.level_upgraded"
)

// Event - базовый интерфейс доменных событий.
type Event interface {
	// EventType возвращает тип события.
	EventType() EventType

	// OccurredAt возвращает время события.
	OccurredAt() time.Time

	// AggregateID возвращает ID агрегата, породившего событие.
	// Шина сохраняет порядок FIFO по агрегату, поэтому для событий ученика
	// это ID пользователя.
	AggregateID() string

	// Payload возвращает данные события в виде map для сериализации.
	Payload() map[string]interface{}
}

// BaseEvent содержит общие поля событий.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType реализует интерфейс Event.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt реализует интерфейс Event.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID реализует интерфейс Event.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent создаёт базовое событие.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID задаёт correlation ID для трассировки.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// LEARNING EVENTS
// ═══════════════════════════════════════════════════════════════════════════

// AnswerOutcome - исход одного вопроса оценённой отправки в
// LessonCompletedEvent. Порядок совпадает с порядком отправки.
type AnswerOutcome struct {
	QuestionID   string       `json:"question_id"`
	QuestionType QuestionType `json:"question_type"`
	IsCorrect    bool         `json:"is_correct"`
	Points       float64      `json:"points"`
	NeedsReview  bool         `json:"needs_review,omitempty"`
}

// LessonCompletedEvent публикуется один раз на каждую оценённую отправку.
type LessonCompletedEvent struct {
	BaseEvent
	SubmissionID     string          `json:"submission_id"`
	UserID           UserID          `json:"user_id"`
	LessonID         LessonID        `json:"lesson_id"`
	TopicID          string          `json:"topic_id,omitempty"`
	ModuleType       ModuleType      `json:"module_type"`
	TopicLessonCount int             `json:"topic_lesson_count"`
	NextLessonID     LessonID        `json:"next_lesson_id,omitempty"`
	ScorePercentage  float64         `json:"score_percentage"`
	IsPassed         bool            `json:"is_passed"`
	Outcomes         []AnswerOutcome `json:"outcomes"`
}

// Payload реализует интерфейс Event.
func (e LessonCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"submission_id":      e.SubmissionID,
		"user_id":            e.UserID.String(),
		"lesson_id":          e.LessonID.String(),
		"topic_id":           e.TopicID,
		"module_type":        e.ModuleType.String(),
		"topic_lesson_count": e.TopicLessonCount,
		"next_lesson_id":     e.NextLessonID.String(),
		"score_percentage":   e.ScorePercentage,
		"is_passed":          e.IsPassed,
		"answers":            len(e.Outcomes),
	}
}

// CompletedAt возвращает время отправки урока.
func (e LessonCompletedEvent) CompletedAt() time.Time {
	return e.Timestamp
}

// NewLessonCompletedEvent создаёт LessonCompletedEvent.
func NewLessonCompletedEvent(submissionID string, userID UserID, lessonID LessonID, module ModuleType, at time.Time) LessonCompletedEvent {
	return LessonCompletedEvent{
		BaseEvent:    NewBaseEvent(EventLessonCompleted, userID.String(), at),
		SubmissionID: submissionID,
		UserID:       userID,
		LessonID:     lessonID,
		ModuleType:   module,
	}
}

// LevelUpgradedEvent публикуется, когда отправка повышает уровень ученика.
type LevelUpgradedEvent struct {
	BaseEvent
	UserID        UserID `json:"user_id"`
	SubmissionID  string `json:"submission_id"`
	PreviousLevel Level  `json:"previous_level"`
	NewLevel      Level  `json:"new_level"`
	TotalPoints   int    `json:"total_points"`
}

// Payload реализует интерфейс Event.
func (e LevelUpgradedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID.String(),
		"submission_id":  e.SubmissionID,
		"previous_level": e.PreviousLevel.String(),
		"new_level":      e.NewLevel.String(),
		"total_points":   e.TotalPoints,
	}
}

// NewLevelUpgradedEvent создаёт LevelUpgradedEvent.
func NewLevelUpgradedEvent(userID UserID, submissionID string, from, to Level, totalPoints int, at time.Time) LevelUpgradedEvent {
	return LevelUpgradedEvent{
		BaseEvent:     NewBaseEvent(EventLevelUpgraded, userID.String(), at),
		UserID:        userID,
		SubmissionID:  submissionID,
		PreviousLevel: from,
		NewLevel:      to,
		TotalPoints:   totalPoints,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// BUS CONTRACTS
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler обрабатывает событие.
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher публикует события.
type EventPublisher interface {
	// Publish передаёт событие подписчикам, не дожидаясь их.
	Publish(ctx context.Context, event Event) error
}

// EventSubscriber подписывает обработчики на события.
type EventSubscriber interface {
	// Subscribe регистрирует обработчик для типа события.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll регистрирует обработчик для всех событий.
	SubscribeAll(handler EventHandler) error
}

// EventBus объединяет публикацию и подписку.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
