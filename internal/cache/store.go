package cache

import (
	"sync"
	"time"

	"github.com/sightama/canifuckingdownwindtoday/internal/models"
)

// SnapshotEntry is the most recently accepted reading plus its derived
// ratings. Replaced whole on every successful fetch, never mutated in place.
type SnapshotEntry struct {
	Reading   models.Reading
	Ratings   models.RatingSet
	FetchedAt time.Time
}

// VariationEntry is the generated commentary pool tagged with the rating
// snapshot it was generated for. Commentary must never be shown against a
// rating it was not generated for; RatingSnapshot enforces that.
type VariationEntry struct {
	RatingSnapshot models.RatingSet
	Variations     models.VariationSet
	GeneratedAt    time.Time
}

// Store owns all cache state: the snapshot entry (short TTL), the variation
// entry (longer TTL, invalidated on rating change), the offline flag with the
// last known reading, and the rating-independent offline pool.
//
// All reads and writes go through one mutex so concurrent readers always
// observe a consistent entry. At most one snapshot entry and one variation
// entry exist at a time.
type Store struct {
	mu sync.RWMutex

	snapshotTTL  time.Duration
	variationTTL time.Duration

	snapshot   *SnapshotEntry
	variations *VariationEntry

	offline   bool
	lastKnown *models.Reading

	pool PoolStore

	nowFn func() time.Time // overridable in tests
}

// NewStore creates a Store with the given TTLs and offline-pool backend.
func NewStore(snapshotTTL, variationTTL time.Duration, pool PoolStore) *Store {
	if pool == nil {
		pool = NewMemoryPoolStore()
	}
	return &Store{
		snapshotTTL:  snapshotTTL,
		variationTTL: variationTTL,
		pool:         pool,
		nowFn:        time.Now,
	}
}

// SetSnapshot replaces the snapshot entry and clears offline state. The
// reading also becomes the last-known reading. Only call with a successful,
// non-stale fetch.
func (s *Store) SetSnapshot(reading models.Reading, ratings models.RatingSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := reading
	s.snapshot = &SnapshotEntry{
		Reading:   reading,
		Ratings:   ratings.Clone(),
		FetchedAt: s.nowFn(),
	}
	s.offline = false
	s.lastKnown = &r
}

// Snapshot returns the entry only if it is younger than the snapshot TTL.
// An entry aged exactly the TTL is still fresh.
func (s *Store) Snapshot() (SnapshotEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshotStaleLocked() {
		return SnapshotEntry{}, false
	}
	return *s.snapshot, true
}

// Ratings returns the current rating set regardless of snapshot freshness.
func (s *Store) Ratings() (models.RatingSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return nil, false
	}
	return s.snapshot.Ratings.Clone(), true
}

// SnapshotStale reports whether the snapshot entry is missing or older than
// the snapshot TTL. Pure time arithmetic, no I/O.
func (s *Store) SnapshotStale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotStaleLocked()
}

func (s *Store) snapshotStaleLocked() bool {
	if s.snapshot == nil {
		return true
	}
	return s.nowFn().Sub(s.snapshot.FetchedAt) > s.snapshotTTL
}

// SetVariations replaces the variation entry. With merge, personas present in
// the existing entry but absent from the payload are carried over, so an
// incremental first-paint generation does not discard earlier results.
func (s *Store) SetVariations(snapshot models.RatingSet, variations models.VariationSet, merge bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := variations.Clone()
	if next == nil {
		next = models.VariationSet{}
	}
	if merge && s.variations != nil {
		for mode, personas := range s.variations.Variations {
			dst, ok := next[mode]
			if !ok {
				dst = make(map[string][]string, len(personas))
				next[mode] = dst
			}
			for id, lines := range personas {
				if len(dst[id]) == 0 && len(lines) > 0 {
					cp := make([]string, len(lines))
					copy(cp, lines)
					dst[id] = cp
				}
			}
		}
	}
	s.variations = &VariationEntry{
		RatingSnapshot: snapshot.Clone(),
		Variations:     next,
		GeneratedAt:    s.nowFn(),
	}
}

// Variations returns the cached lines for a mode/persona pair, or nil.
func (s *Store) Variations(mode models.Mode, persona string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.variations == nil {
		return nil
	}
	lines := s.variations.Variations[mode][persona]
	if len(lines) == 0 {
		return nil
	}
	out := make([]string, len(lines))
	copy(out, lines)
	return out
}

// AllVariations returns a copy of the full variation set, or nil when empty.
func (s *Store) AllVariations() models.VariationSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.variations == nil {
		return nil
	}
	return s.variations.Variations.Clone()
}

// VariationSnapshot returns the rating set the current variation entry was
// generated for. Used by the maintenance check to measure rating drift.
func (s *Store) VariationSnapshot() (models.RatingSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.variations == nil {
		return nil, false
	}
	return s.variations.RatingSnapshot.Clone(), true
}

// ShouldRegenerate is the regeneration decision predicate: true when no
// variation entry exists, its TTL elapsed, or its rating snapshot differs from
// current (exact equality over the whole mapping). It is what prevents both
// stale commentary against a changed score and wasteful regeneration when
// nothing changed.
func (s *Store) ShouldRegenerate(current models.RatingSet) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.variations == nil {
		return true
	}
	if s.nowFn().Sub(s.variations.GeneratedAt) > s.variationTTL {
		return true
	}
	return !s.variations.RatingSnapshot.Equal(current)
}

// HasFreshVariations reports whether the cached entry is valid for the current
// ratings and already holds non-empty lines for the persona in every mode.
func (s *Store) HasFreshVariations(current models.RatingSet, persona string) bool {
	if s.ShouldRegenerate(current) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, mode := range models.Modes {
		if len(s.variations.Variations[mode][persona]) == 0 {
			return false
		}
	}
	return true
}

// HasCompleteVariations reports whether every given persona has lines cached
// in every mode. Freshness is the caller's concern (ShouldRegenerate).
func (s *Store) HasCompleteVariations(personas []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.variations == nil {
		return false
	}
	for _, mode := range models.Modes {
		for _, id := range personas {
			if len(s.variations.Variations[mode][id]) == 0 {
				return false
			}
		}
	}
	return true
}

// MarkOffline sets the offline flag. A non-nil reading replaces the last-known
// reading; nil preserves whatever last-known already exists. The flag is only
// cleared by SetSnapshot.
func (s *Store) MarkOffline(lastKnown *models.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = true
	if lastKnown != nil {
		r := *lastKnown
		s.lastKnown = &r
	}
}

// Offline reports the degraded-mode flag.
func (s *Store) Offline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offline
}

// LastKnown returns the last known good reading, surviving any number of
// failed fetches. ok is false when no reading was ever accepted.
func (s *Store) LastKnown() (models.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastKnown == nil {
		return models.Reading{}, false
	}
	return *s.lastKnown, true
}

// OfflinePool returns the rating-independent pool lines for a persona, or nil.
// The pool is shared by both modes.
func (s *Store) OfflinePool(persona string) []string {
	pool, ok, err := s.pool.Get()
	if err != nil || !ok {
		return nil
	}
	lines := pool[persona]
	if len(lines) == 0 {
		return nil
	}
	return lines
}

// HasOfflinePool reports whether an offline pool has been generated.
func (s *Store) HasOfflinePool() bool {
	pool, ok, err := s.pool.Get()
	return err == nil && ok && len(pool) > 0
}

// SetOfflinePool stores the offline pool. No TTL; it is independent of
// measurement values and lives until explicitly cleared.
func (s *Store) SetOfflinePool(pool models.PersonaPool) error {
	return s.pool.Set(pool)
}

// ClearOfflinePool drops the offline pool so the next offline episode
// regenerates it.
func (s *Store) ClearOfflinePool() error {
	return s.pool.Clear()
}

// Clear drops snapshot, variation, and offline state. For tests and explicit
// resets; the offline pool is untouched.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
	s.variations = nil
	s.offline = false
	s.lastKnown = nil
}
