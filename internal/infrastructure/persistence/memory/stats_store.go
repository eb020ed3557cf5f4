// Package memory provides in-process implementations of the domain repositories.
// They back the test suites and the development mode that runs without Postgres.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/lingvohub/lingvo-engine/internal/domain/progress"
	"github.com/lingvohub/lingvo-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS STORE
// ══════════════════════════════════════════════════════════════════════════════

// StatsStore implements progress.Store. Apply is serialized per user; the
// snapshot is committed only when mutate succeeds.
type StatsStore struct {
	mu        sync.RWMutex
	userLocks map[shared.UserID]*sync.Mutex

	skills    map[shared.UserID]map[shared.ModuleType]progress.SkillStats
	qtypes    map[shared.UserID]map[shared.QuestionType]progress.QuestionTypeStats
	topics    map[shared.UserID]map[string]*progress.TopicProgressStats
	processed map[string]struct{}
}

// NewStatsStore creates an empty stats store.
func NewStatsStore() *StatsStore {
	return &StatsStore{
		userLocks: make(map[shared.UserID]*sync.Mutex),
		skills:    make(map[shared.UserID]map[shared.ModuleType]progress.SkillStats),
		qtypes:    make(map[shared.UserID]map[shared.QuestionType]progress.QuestionTypeStats),
		topics:    make(map[shared.UserID]map[string]*progress.TopicProgressStats),
		processed: make(map[string]struct{}),
	}
}

func (s *StatsStore) userLock(id shared.UserID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.userLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[id] = l
	}
	return l
}

// Apply implements progress.Store.
func (s *StatsStore) Apply(ctx context.Context, submissionID string, key progress.Key, mutate progress.MutateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := s.userLock(key.UserID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	_, done := s.processed[submissionID]
	snap := s.snapshotLocked(key)
	s.mu.RUnlock()

	if done {
		return shared.ErrSubmissionAlreadyApplied
	}
	if err := mutate(snap); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveLocked(snap)
	s.processed[submissionID] = struct{}{}
	return nil
}

// Load implements progress.Store.
func (s *StatsStore) Load(ctx context.Context, submissionID string, key progress.Key) (*progress.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, done := s.processed[submissionID]
	return s.snapshotLocked(key), done, nil
}

// GetSkillStats implements progress.Store.
func (s *StatsStore) GetSkillStats(ctx context.Context, userID shared.UserID, module shared.ModuleType) (*progress.SkillStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if stats, ok := s.skills[userID][module]; ok {
		return &stats, nil
	}
	return progress.NewSkillStats(userID, module), nil
}

// GetOverview implements progress.Store.
func (s *StatsStore) GetOverview(ctx context.Context, userID shared.UserID) (*progress.Overview, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ov := &progress.Overview{UserID: userID}
	for _, st := range s.skills[userID] {
		ov.Skills = append(ov.Skills, st)
	}
	for _, st := range s.qtypes[userID] {
		ov.QuestionTypes = append(ov.QuestionTypes, st)
	}
	for _, tp := range s.topics[userID] {
		ov.Topics = append(ov.Topics, *tp)
	}
	sort.Slice(ov.Skills, func(i, j int) bool { return ov.Skills[i].Module < ov.Skills[j].Module })
	sort.Slice(ov.QuestionTypes, func(i, j int) bool { return ov.QuestionTypes[i].QuestionType < ov.QuestionTypes[j].QuestionType })
	sort.Slice(ov.Topics, func(i, j int) bool { return ov.Topics[i].TopicID < ov.Topics[j].TopicID })
	return ov, nil
}

func (s *StatsStore) snapshotLocked(key progress.Key) *progress.Snapshot {
	snap := progress.NewSnapshot(key)
	if st, ok := s.skills[key.UserID][key.Module]; ok {
		skill := st
		snap.Skill = &skill
	}
	for _, qt := range key.QuestionTypes {
		if st, ok := s.qtypes[key.UserID][qt]; ok {
			q := st
			snap.QuestionTypes[qt] = &q
		}
	}
	if key.TopicID != "" {
		if tp, ok := s.topics[key.UserID][key.TopicID]; ok {
			snap.Topic = (&progress.Snapshot{Topic: tp}).Clone().Topic
		}
	}
	return snap
}

func (s *StatsStore) saveLocked(snap *progress.Snapshot) {
	uid := snap.UserID
	if s.skills[uid] == nil {
		s.skills[uid] = make(map[shared.ModuleType]progress.SkillStats)
		s.qtypes[uid] = make(map[shared.QuestionType]progress.QuestionTypeStats)
		s.topics[uid] = make(map[string]*progress.TopicProgressStats)
	}
	if snap.Skill != nil {
		s.skills[uid][snap.Skill.Module] = *snap.Skill
	}
	for qt, st := range snap.QuestionTypes {
		if st.Total() > 0 {
			s.qtypes[uid][qt] = *st
		}
	}
	if snap.Topic != nil {
		s.topics[uid][snap.Topic.TopicID] = snap.Clone().Topic
	}
}
