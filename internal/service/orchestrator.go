package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sightama/canifuckingdownwindtoday/internal/cache"
	"github.com/sightama/canifuckingdownwindtoday/internal/generator"
	"github.com/sightama/canifuckingdownwindtoday/internal/models"
	"github.com/sightama/canifuckingdownwindtoday/internal/observability"
	"github.com/sightama/canifuckingdownwindtoday/internal/scoring"
	"github.com/sightama/canifuckingdownwindtoday/internal/sensor"
	"github.com/sightama/canifuckingdownwindtoday/internal/traffic"
)

const backgroundFillTimeout = 2 * time.Minute

// Orchestrator ties the sensor, the scorer, the generator, and the cache
// together. All read paths answer from cache when they can; the sensor and
// generator are only touched when the cache says so.
type Orchestrator struct {
	sensor    sensor.Client
	generator generator.Generator
	store     *cache.Store
	logger    *zap.Logger

	personas             []string
	sourceStaleThreshold time.Duration
	regenDelta           int

	// fetchMu single-flights sensor fetches so concurrent stale reads do
	// not stampede the upstream.
	fetchMu sync.Mutex
	guard   regenGuard

	now func() time.Time
}

// NewOrchestrator wires the collaborators together. regenDelta is the rating
// movement (per mode, absolute) that forces regeneration during maintenance
// even when the normal predicate would not.
func NewOrchestrator(sc sensor.Client, gen generator.Generator, store *cache.Store,
	personas []string, sourceStaleThreshold time.Duration, regenDelta int, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		sensor:               sc,
		generator:            gen,
		store:                store,
		logger:               logger,
		personas:             append([]string(nil), personas...),
		sourceStaleThreshold: sourceStaleThreshold,
		regenDelta:           regenDelta,
		now:                  time.Now,
	}
}

// GetData returns the full conditions payload: reading, ratings, and
// commentary for every persona and mode. Serves entirely from cache when the
// snapshot is fresh and the variation entry is valid; otherwise fetches
// and/or regenerates before answering.
func (o *Orchestrator) GetData(ctx context.Context) models.ConditionsData {
	o.ensureSnapshot(ctx)

	if o.store.Offline() {
		return o.offlineData(ctx, "")
	}

	entry, ok := o.store.Snapshot()
	if !ok {
		// Raced with expiry after a successful fetch; serve degraded.
		return o.offlineData(ctx, "")
	}
	observability.CacheHitsTotal.WithLabelValues("snapshot").Inc()

	if o.store.ShouldRegenerate(entry.Ratings) {
		o.regenerateAll(ctx, entry, "stale")
	} else {
		observability.CacheHitsTotal.WithLabelValues("variations").Inc()
	}

	return o.onlineData(entry, o.store.AllVariations(), "")
}

// GetInitialData is the first-paint fast path: it guarantees commentary for
// one persona in both modes with at most two generation calls, and leaves the
// remaining personas to RefreshRemaining.
func (o *Orchestrator) GetInitialData(ctx context.Context, persona string) models.ConditionsData {
	o.ensureSnapshot(ctx)

	if o.store.Offline() {
		return o.offlineData(ctx, persona)
	}

	entry, ok := o.store.Snapshot()
	if !ok {
		return o.offlineData(ctx, persona)
	}

	if !o.store.HasFreshVariations(entry.Ratings, persona) {
		// If the whole entry is invalid, do not carry its text over to
		// the new rating snapshot.
		merge := !o.store.ShouldRegenerate(entry.Ratings)
		if !merge {
			observability.RegenerationsTotal.WithLabelValues("initial").Inc()
		}
		set := models.VariationSet{}
		for _, mode := range models.Modes {
			lines, err := o.generator.GenerateOne(ctx, entry.Reading, entry.Ratings[mode], mode, persona)
			if err != nil {
				o.logger.Warn("initial generation failed",
					zap.String("persona", persona),
					zap.String("mode", string(mode)),
					zap.Error(err))
				continue
			}
			set[mode] = map[string][]string{persona: lines}
		}
		if len(set) > 0 {
			o.store.SetVariations(entry.Ratings, set, merge)
		}
	} else {
		observability.CacheHitsTotal.WithLabelValues("variations").Inc()
	}

	data := o.onlineData(entry, o.initialVariations(persona), persona)
	return data
}

// initialVariations narrows the cached set down to one persona.
func (o *Orchestrator) initialVariations(persona string) models.VariationSet {
	set := models.VariationSet{}
	for _, mode := range models.Modes {
		if lines := o.store.Variations(mode, persona); lines != nil {
			set[mode] = map[string][]string{persona: lines}
		}
	}
	return set
}

// RefreshRemaining fills commentary for every persona except ones already
// fresh. It is safe to call repeatedly and from concurrent requests: a guard
// collapses overlapping runs, and a run over a complete cache performs zero
// generation calls. The work is detached from the caller's context so a
// client disconnect does not abort the fill.
func (o *Orchestrator) RefreshRemaining(ctx context.Context, skipPersona string) {
	if !o.guard.tryAcquire("background_fill") {
		return
	}
	defer o.guard.release("background_fill")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundFillTimeout)
	defer cancel()

	entry, ok := o.store.Snapshot()
	if !ok || o.store.Offline() {
		return
	}

	set := models.VariationSet{}
	generated := 0
	for _, persona := range o.personas {
		if persona == skipPersona || o.store.HasFreshVariations(entry.Ratings, persona) {
			continue
		}
		for _, mode := range models.Modes {
			if lines := o.store.Variations(mode, persona); lines != nil && !o.store.ShouldRegenerate(entry.Ratings) {
				continue
			}
			lines, err := o.generator.GenerateOne(ctx, entry.Reading, entry.Ratings[mode], mode, persona)
			if err != nil {
				o.logger.Warn("background fill failed",
					zap.String("persona", persona),
					zap.String("mode", string(mode)),
					zap.Error(err))
				continue
			}
			if set[mode] == nil {
				set[mode] = map[string][]string{}
			}
			set[mode][persona] = lines
			generated++
		}
	}

	if generated > 0 {
		o.store.SetVariations(entry.Ratings, set, true)
		o.logger.Info("background fill complete", zap.Int("generated", generated))
	}
}

// RandomVariation returns one commentary line for a mode/persona pair,
// cache-only: it never calls the generator and falls back to deterministic
// text when nothing is cached.
func (o *Orchestrator) RandomVariation(mode models.Mode, persona string) string {
	if o.store.Offline() {
		if lines := o.store.OfflinePool(persona); len(lines) > 0 {
			observability.CacheHitsTotal.WithLabelValues("offline_pool").Inc()
			return lines[rand.Intn(len(lines))]
		}
		return "Sensor's offline. No wind data, no commentary, no excuses to stay on the couch either."
	}

	if lines := o.store.Variations(mode, persona); len(lines) > 0 {
		observability.CacheHitsTotal.WithLabelValues("variations").Inc()
		return lines[rand.Intn(len(lines))]
	}

	// No cached text: fall back to a plain factual line.
	if entry, ok := o.store.Snapshot(); ok {
		return fmt.Sprintf("Conditions: %.1fkts %s. Rating: %d/10. Commentary is still brewing.",
			entry.Reading.WindSpeedKts, entry.Reading.WindDirection, entry.Ratings[mode])
	}
	return "No data available right now. Check back in a minute."
}

// CheckAndRefresh is the maintenance pass: fetch a fresh reading, score it,
// and force regeneration when any mode's rating moved further from the
// variation entry's snapshot than the configured delta. Catches big swings
// inside the variation TTL that exact-equality matching alone would also
// catch, but proactively, before a user request pays for it.
func (o *Orchestrator) CheckAndRefresh(ctx context.Context) {
	o.fetchAndStore(ctx)
	if o.store.Offline() {
		return
	}
	entry, ok := o.store.Snapshot()
	if !ok {
		return
	}

	prev, ok := o.store.VariationSnapshot()
	if !ok {
		o.regenerateAll(ctx, entry, "stale")
		return
	}
	for _, mode := range models.Modes {
		delta := entry.Ratings[mode] - prev[mode]
		if delta < 0 {
			delta = -delta
		}
		if delta > o.regenDelta {
			o.logger.Info("rating drift past threshold, regenerating",
				zap.String("mode", string(mode)),
				zap.Int("previous", prev[mode]),
				zap.Int("current", entry.Ratings[mode]))
			o.regenerateAll(ctx, entry, "rating_delta")
			return
		}
	}
	if o.store.ShouldRegenerate(entry.Ratings) {
		o.regenerateAll(ctx, entry, "stale")
	}
}

// Warmup primes the cache at startup: fetch, score, generate for all
// personas, and make sure the offline pool exists. A failed batch falls back
// to per-persona calls; anything still missing is left for the request path.
func (o *Orchestrator) Warmup(ctx context.Context) {
	o.ensureSnapshot(ctx)
	if !o.store.Offline() {
		if entry, ok := o.store.Snapshot(); ok && o.store.ShouldRegenerate(entry.Ratings) {
			o.regenerateAll(ctx, entry, "warmup")
		}
		if !o.store.HasCompleteVariations(o.personas) {
			o.RefreshRemaining(ctx, "")
		}
	}
	o.ensureOfflinePool(ctx)
	o.logger.Info("cache warmup complete", zap.Bool("offline", o.store.Offline()))
}

// Recommendations returns foil advice derived from the current (or last
// known) SUP rating.
func (o *Orchestrator) Recommendations(ctx context.Context) (models.FoilSetup, models.RatingSet, bool) {
	o.ensureSnapshot(ctx)
	ratings, ok := o.store.Ratings()
	if !ok {
		if last, lok := o.store.LastKnown(); lok {
			ratings = scoring.ScoreAll(last)
		} else {
			return models.FoilSetup{}, nil, false
		}
	}
	return scoring.RecommendFoil(ratings[models.ModeSup]), ratings, true
}

// Offline reports whether the last fetch attempt left the service serving
// degraded data.
func (o *Orchestrator) Offline() bool {
	return o.store.Offline()
}

// ensureSnapshot fetches only when the cached snapshot is stale. The fast
// path is a single predicate evaluation with no I/O.
func (o *Orchestrator) ensureSnapshot(ctx context.Context) {
	if !o.store.SnapshotStale() {
		return
	}
	o.fetchAndStore(ctx)
}

// fetchAndStore performs one sensor fetch and routes the result: a failure
// marks offline without touching the last-known reading, a reading with a
// stale source timestamp marks offline but becomes the last-known reading,
// and a good reading replaces the snapshot and clears offline.
func (o *Orchestrator) fetchAndStore(ctx context.Context) {
	o.fetchMu.Lock()
	defer o.fetchMu.Unlock()

	reading, err := o.sensor.Fetch(ctx)
	if err != nil {
		traffic.RecordError()
		o.logger.Warn("sensor fetch failed", zap.Error(err))
		o.store.MarkOffline(nil)
		observability.SetOffline(true)
		go o.ensureOfflinePool(context.WithoutCancel(ctx))
		return
	}
	traffic.RecordSuccess()

	if reading.StaleAt(o.now(), o.sourceStaleThreshold) {
		o.logger.Warn("sensor reading source timestamp is stale",
			zap.Time("measured", reading.Timestamp))
		o.store.MarkOffline(&reading)
		observability.SetOffline(true)
		go o.ensureOfflinePool(context.WithoutCancel(ctx))
		return
	}

	o.store.SetSnapshot(reading, scoring.ScoreAll(reading))
	observability.SetOffline(false)
}

// regenerateAll regenerates commentary for every persona in both modes, one
// batch call per mode. A failed mode keeps whatever text the entry already
// had for it only when the rating snapshot did not change; otherwise that
// mode serves fallbacks until the next attempt.
func (o *Orchestrator) regenerateAll(ctx context.Context, entry cache.SnapshotEntry, reason string) {
	if !o.guard.tryAcquire("regenerate_all") {
		return
	}
	defer o.guard.release("regenerate_all")

	observability.RegenerationsTotal.WithLabelValues(reason).Inc()

	set := models.VariationSet{}
	failed := 0
	for _, mode := range models.Modes {
		pool, err := o.generator.GenerateBatch(ctx, entry.Reading, entry.Ratings[mode], mode)
		if err != nil {
			failed++
			traffic.RecordError()
			o.logger.Warn("batch generation failed",
				zap.String("mode", string(mode)),
				zap.String("reason", reason),
				zap.Error(err))
			continue
		}
		traffic.RecordSuccess()
		set[mode] = map[string][]string(pool)
	}
	if len(set) == 0 {
		// Total failure: leave the existing entry alone so valid cached
		// text keeps serving.
		return
	}

	prev, hadPrev := o.store.VariationSnapshot()
	merge := failed > 0 && hadPrev && prev.Equal(entry.Ratings)
	o.store.SetVariations(entry.Ratings, set, merge)
	o.logger.Info("commentary regenerated",
		zap.String("reason", reason),
		zap.Int("modes", len(set)),
		zap.Int("failed", failed))
}

// ensureOfflinePool generates the rating-independent pool once. Collapsed by
// the guard; the pool has no TTL.
func (o *Orchestrator) ensureOfflinePool(ctx context.Context) {
	if o.store.HasOfflinePool() {
		return
	}
	if !o.guard.tryAcquire("offline_pool") {
		return
	}
	defer o.guard.release("offline_pool")
	if o.store.HasOfflinePool() {
		return
	}

	pool, err := o.generator.GenerateOfflinePool(ctx)
	if err != nil {
		o.logger.Warn("offline pool generation failed", zap.Error(err))
		return
	}
	if err := o.store.SetOfflinePool(pool); err != nil {
		o.logger.Warn("offline pool store failed", zap.Error(err))
		return
	}
	o.logger.Info("offline pool generated", zap.Int("personas", len(pool)))
}

// offlineData builds the degraded payload: offline flag, last-known reading
// when one exists, and offline-pool commentary for both modes.
func (o *Orchestrator) offlineData(ctx context.Context, initialPersona string) models.ConditionsData {
	o.ensureOfflinePool(ctx)

	data := models.ConditionsData{
		Offline:        true,
		Variations:     models.VariationSet{},
		InitialPersona: initialPersona,
	}
	if last, ok := o.store.LastKnown(); ok {
		data.LastKnownReading = &last
	}
	personas := o.personas
	if initialPersona != "" {
		personas = []string{initialPersona}
	}
	for _, mode := range models.Modes {
		for _, persona := range personas {
			lines := o.store.OfflinePool(persona)
			if len(lines) == 0 {
				continue
			}
			if data.Variations[mode] == nil {
				data.Variations[mode] = map[string][]string{}
			}
			data.Variations[mode][persona] = lines
		}
	}
	return data
}

// onlineData builds the healthy payload from a snapshot entry.
func (o *Orchestrator) onlineData(entry cache.SnapshotEntry, variations models.VariationSet, initialPersona string) models.ConditionsData {
	r := entry.Reading
	t := entry.FetchedAt
	if variations == nil {
		variations = models.VariationSet{}
	}
	return models.ConditionsData{
		Offline:        false,
		Reading:        &r,
		Ratings:        entry.Ratings.Clone(),
		Variations:     variations,
		FetchedAt:      &t,
		InitialPersona: initialPersona,
	}
}

// regenGuard collapses concurrent runs of the same keyed operation.
type regenGuard struct {
	mu     sync.Mutex
	active map[string]bool
}

func (g *regenGuard) tryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		g.active = map[string]bool{}
	}
	if g.active[key] {
		return false
	}
	g.active[key] = true
	return true
}

func (g *regenGuard) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, key)
}
