package scoring

import "github.com/sightama/canifuckingdownwindtoday/internal/models"

// RecommendFoil picks equipment for the sup rating. Low scores mean small,
// slow conditions and get the bigger wings.
func RecommendFoil(supRating int) models.FoilSetup {
	if supRating <= 4 {
		return models.FoilSetup{
			Code: "1250r + 135r stab + short fuse",
			KT:   "Ginxu 1150 + Stabilizer M",
		}
	}
	return models.FoilSetup{
		Code: "960r + 135r stab + short fuse",
		KT:   "Ginxu 950 + Stabilizer M",
	}
}
