package scoring

import "github.com/sightama/canifuckingdownwindtoday/internal/models"

// Rating bounds. MaxRating is the normal ceiling; PerfectRating is the
// sentinel for the post-frontal override and sits one above it. Downstream
// caches treat it as an ordinary integer.
const (
	MinRating     = 1
	MaxRating     = 10
	PerfectRating = 11
)

// Jupiter, FL: the coast runs N-S, so wind parallel to the coast is best for
// downwinding and perpendicular (E/W) is worst.
var (
	optimalDirections = map[string]bool{"N": true, "S": true}
	goodDirections    = map[string]bool{"NE": true, "SE": true, "NW": true, "SW": true}
	okDirections      = map[string]bool{
		"NNE": true, "SSE": true, "NNW": true, "SSW": true,
		"ENE": true, "ESE": true, "WNW": true, "WSW": true,
	}
	badDirections = map[string]bool{"E": true, "W": true}

	// Post-frontal wind directions: the cleared-front window where swell still
	// runs and the wind lines up for a straight run down the beach.
	postFrontalDirections = map[string]bool{"NW": true, "NNW": true, "SE": true, "SSE": true}
)

const (
	optimalWindMin = 15.0 // knots
	optimalWindMax = 25.0
)

// Score converts a reading into the integer rating for a mode. Pure, never
// fails; unknown modes score like sup.
func Score(mode models.Mode, r models.Reading) int {
	if isPostFrontal(r) {
		return PerfectRating
	}

	score := 5.0

	// Wind speed is the dominant factor for downwind foiling.
	wind := r.WindSpeedKts
	switch {
	case wind >= optimalWindMin && wind <= optimalWindMax:
		score += 2
	case wind >= 12:
		score -= 0.5
	case wind >= 8:
		score -= 1.5
	case wind < 8:
		score -= 3
	}
	if wind > optimalWindMax {
		score -= 1
	}

	switch {
	case optimalDirections[r.WindDirection]:
		score += 1.5
	case goodDirections[r.WindDirection]:
		score += 0.5
	case okDirections[r.WindDirection]:
		// acceptable, no adjustment
	case badDirections[r.WindDirection]:
		score -= 2
	default:
		score -= 1
	}

	switch mode {
	case models.ModeParawing:
		// Parawing wants more wind on the low end and tolerates gusts better.
		if wind >= 12 && wind < optimalWindMin {
			score += 1
		}
		if gustSpread(r) > 10 {
			score -= 0.5
		}
	default:
		// SUP punishes a big gust-lull spread; pumping through lulls is brutal.
		if gustSpread(r) > 8 {
			score -= 1
		}
	}

	return clamp(int(roundHalfUp(score)))
}

// ScoreAll runs Score for every mode.
func ScoreAll(r models.Reading) models.RatingSet {
	out := make(models.RatingSet, len(models.Modes))
	for _, m := range models.Modes {
		out[m] = Score(m, r)
	}
	return out
}

// isPostFrontal detects the exceptional-conditions combination: post-frontal
// wind direction, optimal wind band, and a steady gradient (tight gust-lull
// spread). Scores 11.
func isPostFrontal(r models.Reading) bool {
	if !postFrontalDirections[r.WindDirection] {
		return false
	}
	if r.WindSpeedKts < optimalWindMin || r.WindSpeedKts > optimalWindMax {
		return false
	}
	return gustSpread(r) <= 8
}

func gustSpread(r models.Reading) float64 {
	return r.WindGustKts - r.WindLullKts
}

func clamp(v int) int {
	if v < MinRating {
		return MinRating
	}
	if v > MaxRating {
		return MaxRating
	}
	return v
}

func roundHalfUp(v float64) float64 {
	if v >= 0 {
		return float64(int(v + 0.5))
	}
	return float64(int(v - 0.5))
}
