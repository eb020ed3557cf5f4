package recommendation

import (
	"context"
	"fmt"
	"time"

	"github.com/lingvohub/lingvo-engine/internal/domain/progress"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MANAGER
// ══════════════════════════════════════════════════════════════════════════════

// StatsReader - чтение статистики для правил генерации.
type StatsReader interface {
	Load(ctx context.Context, submissionID string, key progress.Key) (*progress.Snapshot, bool, error)
}

// ManagerConfig - зависимости менеджера.
type ManagerConfig struct {
	Repository Repository
	Stats      StatsReader
	Generator  *Generator
	// NewID генерирует идентификаторы новых рекомендаций.
	NewID func() string
	// Now возвращает текущее время; по умолчанию time.Now.
	Now func() time.Time
}

// Manager управляет очередью рекомендаций пользователя.
type Manager struct {
	repo      Repository
	stats     StatsReader
	generator *Generator
	newID     func() string
	now       func() time.Time
}

// NewManager создаёт менеджер рекомендаций.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Generator == nil {
		cfg.Generator = NewGenerator(DefaultRules(), nil)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		repo:      cfg.Repository,
		stats:     cfg.Stats,
		generator: cfg.Generator,
		newID:     cfg.NewID,
		now:       cfg.Now,
	}
}

// CompletionOutcome - итог обработки события завершения урока.
type CompletionOutcome struct {
	// Completed - сколько рекомендаций с целевым уроком отмечено выполненными.
	Completed int
	// Created - новые рекомендации.
	Created []*Recommendation
	// Skipped - кандидаты, совпавшие с уже активными рекомендациями.
	Skipped int
}

// OnLessonCompleted отмечает выполненными рекомендации, ведущие на пройденный
// урок, и создаёт новые по статистике после события.
//
// Статистика читается независимо от агрегатора: если событие ещё не учтено,
// оно применяется к копии снимка. Повторная доставка события ничего не меняет:
// рекомендации, порождённые этой же или более поздней отправкой, не
// закрываются, а кандидаты сверяются с активными рекомендациями.
func (m *Manager) OnLessonCompleted(ctx context.Context, e shared.LessonCompletedEvent) (*CompletionOutcome, error) {
	now := m.now()
	out := &CompletionOutcome{}

	targeting, err := m.repo.FindActiveByTargetLesson(ctx, e.UserID, e.LessonID, now)
	if err != nil {
		return nil, fmt.Errorf("find recommendations for lesson: %w", err)
	}
	for _, rec := range targeting {
		if !rec.SatisfiedBy(e) {
			continue
		}
		if !rec.Complete(now) {
			continue
		}
		if err := m.repo.MarkCompleted(ctx, rec); err != nil {
			return nil, fmt.Errorf("complete recommendation %s: %w", rec.ID, err)
		}
		out.Completed++
	}

	snap, applied, err := m.stats.Load(ctx, e.SubmissionID, progress.KeyFor(e))
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	if !applied {
		snap.ApplyCompletion(e)
	}

	active, err := m.repo.FindActiveForUser(ctx, e.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("find active recommendations: %w", err)
	}
	existing := make(map[string]struct{}, len(active))
	for _, rec := range active {
		existing[rec.TargetKey()] = struct{}{}
	}

	for _, rec := range m.generator.Generate(e, snap, now) {
		key := rec.TargetKey()
		if _, dup := existing[key]; dup {
			out.Skipped++
			continue
		}
		rec.ID = m.newID()
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		if err := m.repo.Create(ctx, rec); err != nil {
			return nil, fmt.Errorf("create recommendation: %w", err)
		}
		existing[key] = struct{}{}
		out.Created = append(out.Created, rec)
	}
	return out, nil
}

// ListActive возвращает активные рекомендации по приоритету и новизне.
func (m *Manager) ListActive(ctx context.Context, userID shared.UserID, now time.Time) ([]*Recommendation, error) {
	recs, err := m.repo.FindActiveForUser(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	recs = FilterActive(recs, now)
	SortForDisplay(recs)
	return recs, nil
}

// ExpireStale считает истёкшие невыполненные рекомендации.
// Ничего не удаляет и не изменяет: истечение вычисляется при чтении.
func (m *Manager) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	return m.repo.CountExpired(ctx, now)
}

// RecordShown отмечает показ рекомендации пользователю.
func (m *Manager) RecordShown(ctx context.Context, userID shared.UserID, id string) (*Recommendation, error) {
	rec, err := m.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if rec.MarkShown(m.now()) {
		if err := m.repo.MarkShown(ctx, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// RecordAccepted отмечает принятие рекомендации.
func (m *Manager) RecordAccepted(ctx context.Context, userID shared.UserID, id string) (*Recommendation, error) {
	rec, err := m.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	changed, err := rec.Accept(m.now())
	if err != nil {
		return nil, err
	}
	if changed {
		if err := m.repo.MarkAccepted(ctx, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// RecordCompleted отмечает выполнение рекомендации.
func (m *Manager) RecordCompleted(ctx context.Context, userID shared.UserID, id string) (*Recommendation, error) {
	rec, err := m.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if rec.Complete(m.now()) {
		if err := m.repo.MarkCompleted(ctx, rec); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// owned загружает рекомендацию; чужая рекомендация выглядит как отсутствующая.
func (m *Manager) owned(ctx context.Context, userID shared.UserID, id string) (*Recommendation, error) {
	rec, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, shared.ErrRecommendationNotFound
	}
	return rec, nil
}
