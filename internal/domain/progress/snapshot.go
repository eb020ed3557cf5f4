package progress

import (
	"sort"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Key описывает, какие записи статистики затрагивает одно событие.
type Key struct {
	UserID        shared.UserID
	Module        shared.ModuleType
	QuestionTypes []shared.QuestionType
	// TopicID пуст, если урок не привязан к теме.
	TopicID string
	// TopicLessonCount - размер темы для новой записи прогресса.
	TopicLessonCount int
}

// KeyFor строит ключ по событию завершения урока.
// Типы вопросов отсортированы, чтобы блокировки строк брались в одном порядке.
func KeyFor(e shared.LessonCompletedEvent) Key {
	seen := make(map[shared.QuestionType]struct{})
	types := make([]shared.QuestionType, 0, len(e.Outcomes))
	for _, o := range e.Outcomes {
		if _, ok := seen[o.QuestionType]; ok {
			continue
		}
		seen[o.QuestionType] = struct{}{}
		types = append(types, o.QuestionType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	return Key{
		UserID:           e.UserID,
		Module:           e.ModuleType,
		QuestionTypes:    types,
		TopicID:          e.TopicID,
		TopicLessonCount: e.TopicLessonCount,
	}
}

// Snapshot - записи статистики одного пользователя, затрагиваемые событием.
// Хранилище загружает снимок под блокировкой, агрегатор изменяет его,
// хранилище сохраняет все записи одной транзакцией.
type Snapshot struct {
	UserID        shared.UserID
	Skill         *SkillStats
	QuestionTypes map[shared.QuestionType]*QuestionTypeStats
	// Topic равен nil, если событие не относится к теме.
	Topic *TopicProgressStats
}

// NewSnapshot создаёт снимок с пустыми записями для ключа.
func NewSnapshot(key Key) *Snapshot {
	s := &Snapshot{
		UserID:        key.UserID,
		Skill:         NewSkillStats(key.UserID, key.Module),
		QuestionTypes: make(map[shared.QuestionType]*QuestionTypeStats, len(key.QuestionTypes)),
	}
	for _, qt := range key.QuestionTypes {
		s.QuestionTypes[qt] = NewQuestionTypeStats(key.UserID, qt)
	}
	if key.TopicID != "" {
		s.Topic = NewTopicProgressStats(key.UserID, key.TopicID, key.TopicLessonCount)
	}
	return s
}

// ApplyCompletion применяет событие к снимку в порядке ответов.
// Ответы, ожидающие ручной проверки, в статистику не попадают.
func (s *Snapshot) ApplyCompletion(e shared.LessonCompletedEvent) {
	at := e.CompletedAt()
	for _, o := range e.Outcomes {
		if o.NeedsReview {
			continue
		}
		s.Skill.Record(o.IsCorrect, at)

		qt, ok := s.QuestionTypes[o.QuestionType]
		if !ok {
			qt = NewQuestionTypeStats(s.UserID, o.QuestionType)
			s.QuestionTypes[o.QuestionType] = qt
		}
		qt.Record(o.IsCorrect, at)
	}

	if e.IsPassed && s.Topic != nil {
		s.Topic.RecordPass(e.LessonID, e.ScorePercentage, e.TopicLessonCount, at)
	}
}

// Clone возвращает глубокую копию снимка.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		UserID:        s.UserID,
		QuestionTypes: make(map[shared.QuestionType]*QuestionTypeStats, len(s.QuestionTypes)),
	}
	if s.Skill != nil {
		skill := *s.Skill
		c.Skill = &skill
	}
	for k, v := range s.QuestionTypes {
		qt := *v
		c.QuestionTypes[k] = &qt
	}
	if s.Topic != nil {
		topic := *s.Topic
		topic.PassedLessons = make(map[shared.LessonID]struct{}, len(s.Topic.PassedLessons))
		for id := range s.Topic.PassedLessons {
			topic.PassedLessons[id] = struct{}{}
		}
		c.Topic = &topic
	}
	return c
}

// Overview - вся статистика пользователя для отображения.
type Overview struct {
	UserID        shared.UserID        `json:"user_id"`
	Skills        []SkillStats         `json:"skills"`
	QuestionTypes []QuestionTypeStats  `json:"question_types"`
	Topics        []TopicProgressStats `json:"topics"`
}
