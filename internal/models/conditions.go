package models

import "time"

// Mode identifies a riding discipline that gets its own rating.
type Mode string

const (
	ModeSup      Mode = "sup"
	ModeParawing Mode = "parawing"
)

// Modes lists every mode the service rates. Exactly these two; the scoring
// table and the variation cache are keyed by them.
var Modes = []Mode{ModeSup, ModeParawing}

// ValidMode reports whether s names a known mode.
func ValidMode(s string) bool {
	for _, m := range Modes {
		if string(m) == s {
			return true
		}
	}
	return false
}

// Reading is one timestamped observation from the wind sensor.
// Immutable once constructed. The sensor's own timestamp can lag real time
// even when the fetch itself just succeeded; StaleAt covers that case.
type Reading struct {
	WindSpeedKts  float64   `json:"windSpeedKts"`
	WindGustKts   float64   `json:"windGustKts"`
	WindLullKts   float64   `json:"windLullKts"`
	WindDirection string    `json:"windDirection"` // compass text: "N", "NNE", ...
	WindDegrees   int       `json:"windDegrees"`
	AirTempF      float64   `json:"airTempF"`
	WaterTempF    *float64  `json:"waterTempF,omitempty"`
	PressureMb    *float64  `json:"pressureMb,omitempty"`
	HumidityPct   *float64  `json:"humidityPct,omitempty"`
	WindDesc      string    `json:"windDesc,omitempty"`
	SpotName      string    `json:"spotName"`
	Timestamp     time.Time `json:"timestamp"` // from the source device, UTC
}

// StaleAt reports whether the reading's own timestamp is older than threshold
// at the given instant. This is source staleness, independent of any cache TTL.
func (r Reading) StaleAt(now time.Time, threshold time.Duration) bool {
	return now.Sub(r.Timestamp) > threshold
}

// RatingSet maps each mode to its integer rating. Ratings run 1-10, with 11
// reserved for the exceptional-conditions override; cache and transport treat
// 11 like any other value.
type RatingSet map[Mode]int

// Equal reports exact equality over the full mapping, not just one mode.
func (rs RatingSet) Equal(other RatingSet) bool {
	if len(rs) != len(other) {
		return false
	}
	for m, v := range rs {
		ov, ok := other[m]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Clone returns a copy so callers can hold a rating snapshot without sharing
// the underlying map.
func (rs RatingSet) Clone() RatingSet {
	if rs == nil {
		return nil
	}
	out := make(RatingSet, len(rs))
	for m, v := range rs {
		out[m] = v
	}
	return out
}

// VariationSet holds generated commentary lines per mode per persona.
type VariationSet map[Mode]map[string][]string

// Clone deep-copies the set.
func (vs VariationSet) Clone() VariationSet {
	if vs == nil {
		return nil
	}
	out := make(VariationSet, len(vs))
	for mode, personas := range vs {
		pc := make(map[string][]string, len(personas))
		for id, lines := range personas {
			cp := make([]string, len(lines))
			copy(cp, lines)
			pc[id] = cp
		}
		out[mode] = pc
	}
	return out
}

// PersonaPool holds commentary lines per persona for a single context,
// e.g. the rating-independent offline pool.
type PersonaPool map[string][]string

// ConditionsData is the assembled response for callers: best available data,
// degrading from fresh snapshot to last-known reading to nothing.
type ConditionsData struct {
	Offline          bool         `json:"offline"`
	Reading          *Reading     `json:"reading,omitempty"`
	Ratings          RatingSet    `json:"ratings,omitempty"`
	Variations       VariationSet `json:"variations"`
	LastKnownReading *Reading     `json:"lastKnownReading,omitempty"`
	FetchedAt        *time.Time   `json:"fetchedAt,omitempty"`
	InitialPersona   string       `json:"initialPersona,omitempty"`
}

// FoilSetup is an equipment recommendation for the current conditions.
type FoilSetup struct {
	Code string `json:"code"`
	KT   string `json:"kt"`
}
