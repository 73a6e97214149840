// Package state is the single source of truth for last-known data point
// values, their freshness metadata and per-point error state.
package state

import (
	"sync"
	"time"

	"carbridge/internal/models"
)

// Store keeps DataPointState entries behind one lock. The fetch engine and
// the push reconciler are the only writers; presentation consumers read
// copies and never observe partial updates.
type Store struct {
	mu       sync.RWMutex
	points   map[models.Key]*models.DataPointState
	onChange func(models.DataPointState)
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{points: make(map[models.Key]*models.DataPointState)}
}

// SetOnChange registers a callback invoked after every applied value write.
// Must be called before the store receives writes.
func (s *Store) SetOnChange(fn func(models.DataPointState)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// ApplyValue records a successful fetch or push for a key. Value, RecordedAt
// and FetchedAt change together. A write whose recordedAt is strictly older
// than the stored one is suppressed; the success still clears the error
// state. Returns whether the value was applied.
func (s *Store) ApplyValue(key models.Key, value models.Value, recordedAt *time.Time, fetchedAt time.Time, unitSystem string) bool {
	s.mu.Lock()
	st := s.ensureLocked(key)
	st.LastError = nil
	st.ConsecutiveFailures = 0

	if recordedAt != nil && st.RecordedAt != nil && recordedAt.Before(*st.RecordedAt) {
		s.mu.Unlock()
		return false
	}

	v := value
	st.Value = &v
	st.RecordedAt = copyTime(recordedAt)
	st.FetchedAt = fetchedAt
	if unitSystem != "" {
		st.UnitSystem = unitSystem
	}
	snapshot := copyState(st)
	notify := s.onChange
	s.mu.Unlock()

	if notify != nil {
		notify(snapshot)
	}
	return true
}

// ApplyError records a failed fetch for a key. The previous value and its
// timestamps stay untouched.
func (s *Store) ApplyError(key models.Key, ferr models.FetchError) {
	s.mu.Lock()
	st := s.ensureLocked(key)
	e := ferr
	st.LastError = &e
	st.ConsecutiveFailures++
	s.mu.Unlock()
}

// Get returns a copy of the state for a key.
func (s *Store) Get(key models.Key) (models.DataPointState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.points[key]
	if !ok {
		return models.DataPointState{}, false
	}
	return copyState(st), true
}

// Snapshot returns a copy of the full state map.
func (s *Store) Snapshot() map[models.Key]models.DataPointState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.Key]models.DataPointState, len(s.points))
	for key, st := range s.points {
		out[key] = copyState(st)
	}
	return out
}

// Rehydrate seeds the store from a persisted snapshot. Existing entries are
// kept; only absent keys are restored.
func (s *Store) Rehydrate(snapshot map[models.Key]models.DataPointState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, st := range snapshot {
		if _, exists := s.points[key]; exists {
			continue
		}
		restored := copyState(&st)
		restored.Key = key
		s.points[key] = &restored
	}
}

func (s *Store) ensureLocked(key models.Key) *models.DataPointState {
	st, ok := s.points[key]
	if !ok {
		st = &models.DataPointState{Key: key}
		s.points[key] = st
	}
	return st
}

func copyState(st *models.DataPointState) models.DataPointState {
	out := *st
	if st.Value != nil {
		v := *st.Value
		out.Value = &v
	}
	out.RecordedAt = copyTime(st.RecordedAt)
	if st.LastError != nil {
		e := *st.LastError
		out.LastError = &e
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
