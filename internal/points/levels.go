package points

// Tier labels derived from cumulative points. LevelMax is the sentinel
// returned by NextLevelInfo once the top threshold is reached.
const (
	LevelBronze   = "Bronze"
	LevelSilver   = "Silver"
	LevelGold     = "Gold"
	LevelPlatinum = "Platinum"
	LevelMax      = "Max"
)

type levelThreshold struct {
	MinPoints int64
	Label     string
}

// levelThresholds is ordered ascending by MinPoints. Membership is inclusive
// on the lower bound: a balance equal to MinPoints already holds the tier.
var levelThresholds = []levelThreshold{
	{MinPoints: 0, Label: LevelBronze},
	{MinPoints: 500, Label: LevelSilver},
	{MinPoints: 2000, Label: LevelGold},
	{MinPoints: 5000, Label: LevelPlatinum},
}

// LevelFromPoints maps a cumulative balance onto its tier label. The mapping
// is monotonic with no hysteresis.
func LevelFromPoints(totalPoints int64) string {
	label := levelThresholds[0].Label
	for _, threshold := range levelThresholds {
		if totalPoints < threshold.MinPoints {
			break
		}
		label = threshold.Label
	}
	return label
}

// NextLevelProgress describes the gap to the next tier.
type NextLevelProgress struct {
	NextLevel    string
	PointsNeeded int64
}

// NextLevelInfo returns the next tier and the non-negative gap to reach it.
// At or above the top threshold it returns the Max sentinel with zero needed.
func NextLevelInfo(totalPoints int64) NextLevelProgress {
	for _, threshold := range levelThresholds {
		if totalPoints < threshold.MinPoints {
			return NextLevelProgress{
				NextLevel:    threshold.Label,
				PointsNeeded: threshold.MinPoints - totalPoints,
			}
		}
	}
	return NextLevelProgress{NextLevel: LevelMax, PointsNeeded: 0}
}
