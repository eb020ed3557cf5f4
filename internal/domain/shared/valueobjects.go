// Package shared содержит общие доменные типы, ошибки, события и объекты-значения,
// которые используют все доменные пакеты.
package shared

import (
	"fmt"
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID VALUE OBJECTS
// ═══════════════════════════════════════════════════════════════════════════

// Упрощённая проверка UUID.
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// UserID идентифицирует ученика. Учётные записи выдаёт сервис идентификации,
// движок проверяет только формат.
type UserID string

// IsValid проверяет, что ID пользователя - корректный UUID.
func (u UserID) IsValid() bool {
	return uuidRegex.MatchString(string(u))
}

// String возвращает строковое представление.
func (u UserID) String() string {
	return string(u)
}

// NewUserID создаёт UserID с проверкой.
func NewUserID(id string) (UserID, error) {
	uid := UserID(strings.ToLower(strings.TrimSpace(id)))
	if !uid.IsValid() {
		return "", NewDomainError("shared", "NewUserID", ErrInvalidID, "user id must be a UUID")
	}
	return uid, nil
}

// LessonID идентифицирует урок в каталоге.
type LessonID string

// IsValid проверяет, что ID урока не пуст и не слишком длинный.
func (l LessonID) IsValid() bool {
	return l != "" && len(l) <= 128
}

// String возвращает строковое представление.
func (l LessonID) String() string {
	return string(l)
}

// NewLessonID создаёт LessonID с проверкой.
func NewLessonID(id string) (LessonID, error) {
	lid := LessonID(strings.TrimSpace(id))
	if !lid.IsValid() {
		return "", NewDomainError("shared", "NewLessonID", ErrInvalidID, "invalid lesson id")
	}
	return lid, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// MODULE TYPE
// ═══════════════════════════════════════════════════════════════════════════

// ModuleType - направление обучения, по которому ведётся статистика навыка.
type ModuleType string

const (
	ModuleGrammar   ModuleType = "grammar"
	ModuleReading   ModuleType = "reading"
	ModuleListening ModuleType = "listening"
)

// AllModuleTypes возвращает все модули в порядке отображения.
func AllModuleTypes() []ModuleType {
	return []ModuleType{ModuleGrammar, ModuleReading, ModuleListening}
}

// IsValid проверяет, что модуль известен.
func (m ModuleType) IsValid() bool {
	switch m {
	case ModuleGrammar, ModuleReading, ModuleListening:
		return true
	}
	return false
}

// String возвращает строковое представление.
func (m ModuleType) String() string {
	return string(m)
}

// ParseModuleType разбирает модуль без учёта регистра.
func ParseModuleType(s string) (ModuleType, error) {
	m := ModuleType(strings.ToLower(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidModuleType, s)
	}
	return m, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// QUESTION TYPE
// ═══════════════════════════════════════════════════════════════════════════

// QuestionType - тег закрытого набора вариантов вопроса.
type QuestionType string

const (
	QuestionMultipleChoice              QuestionType = "multiple_choice"
	QuestionTrueFalse                   QuestionType = "true_false"
	QuestionMatching                    QuestionType = "matching"
	QuestionPronunciationClassification QuestionType = "pronunciation_classification"
	QuestionReadingComprehension        QuestionType = "reading_comprehension"
	QuestionSentenceBuilding            QuestionType = "sentence_building"
	QuestionTextAnswer                  QuestionType = "text_answer"
	QuestionOpenEnded                   QuestionType = "open_ended"
)

// AllQuestionTypes возвращает все типы вопросов.
func AllQuestionTypes() []QuestionType {
	return []QuestionType{
		QuestionMultipleChoice,
		QuestionTrueFalse,
		QuestionMatching,
		QuestionPronunciationClassification,
		QuestionReadingComprehension,
		QuestionSentenceBuilding,
		QuestionTextAnswer,
		QuestionOpenEnded,
	}
}

// IsValid проверяет, что тип входит в закрытый набор.
func (q QuestionType) IsValid() bool {
	for _, t := range AllQuestionTypes() {
		if q == t {
			return true
		}
	}
	return false
}

// String возвращает строковое представление.
func (q QuestionType) String() string {
	return string(q)
}

// ParseQuestionType разбирает тег типа вопроса.
func ParseQuestionType(s string) (QuestionType, error) {
	q := QuestionType(strings.ToLower(strings.TrimSpace(s)))
	if !q.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidQuestionType, s)
	}
	return q, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// ENGLISH LEVEL (CEFR)
// ═══════════════════════════════════════════════════════════════════════════

// Level - порядковый уровень владения по CEFR. A1 < A2 < B1 < B2 < C1 < C2.
type Level int

const (
	LevelA1 Level = iota + 1
	LevelA2
	LevelB1
	LevelB2
	LevelC1
	LevelC2
)

var levelNames = map[Level]string{
	LevelA1: "A1",
	LevelA2: "A2",
	LevelB1: "B1",
	LevelB2: "B2",
	LevelC1: "C1",
	LevelC2: "C2",
}

// AllLevels возвращает уровни по возрастанию.
func AllLevels() []Level {
	return []Level{LevelA1, LevelA2, LevelB1, LevelB2, LevelC1, LevelC2}
}

// IsValid проверяет, что уровень в пределах A1..C2.
func (l Level) IsValid() bool {
	return l >= LevelA1 && l <= LevelC2
}

// IsMax сообщает, что выше уровня нет.
func (l Level) IsMax() bool {
	return l == LevelC2
}

// Next возвращает следующий уровень. Для C2 возвращает C2.
func (l Level) Next() Level {
	if l.IsMax() || !l.IsValid() {
		return l
	}
	return l + 1
}

// String возвращает код CEFR.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// MarshalText кодирует уровень кодом CEFR.
func (l Level) MarshalText() ([]byte, error) {
	if !l.IsValid() {
		return nil, ErrInvalidLevel
	}
	return []byte(l.String()), nil
}

// UnmarshalText разбирает код CEFR.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel разбирает код CEFR, например "B1".
func ParseLevel(s string) (Level, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	for l, name := range levelNames {
		if name == code {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}
