package level

import (
	"fmt"

	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// THRESHOLDS
// ══════════════════════════════════════════════════════════════════════════════

// Rules - таблица порогов и критерий владения модулем.
type Rules struct {
	// Thresholds - очки, необходимые для уровня. A1 порога не имеет.
	Thresholds map[shared.Level]int

	// MasteryAccuracy - минимальная точность для владения модулем.
	MasteryAccuracy float64

	// MasteryMinAttempts - минимальное число попыток для владения модулем.
	MasteryMinAttempts int

	// MasteryDiscount - доля порога, достаточная при владении модулем.
	MasteryDiscount float64
}

// DefaultRules возвращает таблицу порогов по умолчанию.
func DefaultRules() Rules {
	return Rules{
		Thresholds: map[shared.Level]int{
			shared.LevelA2: 100,
			shared.LevelB1: 300,
			shared.LevelB2: 700,
			shared.LevelC1: 1500,
			shared.LevelC2: 3000,
		},
		MasteryAccuracy:    0.85,
		MasteryMinAttempts: 20,
		MasteryDiscount:    0.8,
	}
}

// Validate проверяет, что пороги заданы для всех уровней выше A1 и строго растут.
func (r Rules) Validate() error {
	levels := shared.AllLevels()[1:]
	prev := 0
	for _, l := range levels {
		t, ok := r.Thresholds[l]
		if !ok {
			return fmt.Errorf("%w: no threshold for %s", shared.ErrValidation, l)
		}
		if t <= prev {
			return fmt.Errorf("%w: threshold for %s must exceed %d", shared.ErrValidation, l, prev)
		}
		prev = t
	}
	if r.MasteryAccuracy <= 0 || r.MasteryAccuracy > 1 {
		return fmt.Errorf("%w: mastery accuracy must be in (0, 1]", shared.ErrValidation)
	}
	if r.MasteryDiscount <= 0 || r.MasteryDiscount > 1 {
		return fmt.Errorf("%w: mastery discount must be in (0, 1]", shared.ErrValidation)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION
// ══════════════════════════════════════════════════════════════════════════════

// Input - данные одной отправки для оценки.
type Input struct {
	// PointsEarned - очки, заработанные отправкой.
	PointsEarned int

	// IsPassed - пройден ли урок.
	IsPassed bool

	// NextLessonID - следующий урок по каталогу (может быть пустым).
	NextLessonID shared.LessonID

	// ModuleMastered - владение модулем по статистике до отправки.
	ModuleMastered bool
}

// UpgradeResult - результат оценки повышения уровня.
type UpgradeResult struct {
	DidUpgrade      bool            `json:"did_upgrade"`
	PreviousLevel   shared.Level    `json:"previous_level"`
	NewLevel        *shared.Level   `json:"new_level,omitempty"`
	PointsEarned    int             `json:"points_earned"`
	TotalPoints     int             `json:"total_points"`
	HasUnlockedNext bool            `json:"has_unlocked_next"`
	NextLessonID    shared.LessonID `json:"next_lesson_id,omitempty"`
}

// Evaluator принимает решение о повышении уровня.
type Evaluator struct {
	rules Rules
}

// NewEvaluator создаёт оценщик с заданными правилами.
func NewEvaluator(rules Rules) *Evaluator {
	return &Evaluator{rules: rules}
}

// Rules возвращает действующие правила.
func (e *Evaluator) Rules() Rules {
	return e.rules
}

// Evaluate начисляет очки на копии аккаунта и решает, повышается ли уровень.
// За одну отправку уровень растёт максимум на одну ступень и никогда не падает.
// Исходный аккаунт не изменяется.
func (e *Evaluator) Evaluate(account *Account, in Input) (*Account, UpgradeResult, error) {
	if in.PointsEarned < 0 {
		return nil, UpgradeResult{}, shared.ErrNegativePoints
	}

	next := account.Clone()
	next.TotalPoints += in.PointsEarned

	result := UpgradeResult{
		PreviousLevel: account.Level,
		PointsEarned:  in.PointsEarned,
		TotalPoints:   next.TotalPoints,
	}

	if !account.Level.IsMax() {
		candidate := account.Level.Next()
		threshold := e.rules.Thresholds[candidate]
		required := float64(threshold)
		if in.ModuleMastered {
			required *= e.rules.MasteryDiscount
		}
		if threshold > 0 && float64(next.TotalPoints) >= required {
			next.Level = candidate
			result.DidUpgrade = true
			result.NewLevel = &candidate
		}
	}

	if (in.IsPassed || result.DidUpgrade) && in.NextLessonID != "" {
		result.HasUnlockedNext = true
		result.NextLessonID = in.NextLessonID
	}
	return next, result, nil
}
