package github

// Contribution level labels returned by the GraphQL API
const (
	LevelNone           = "NONE"
	LevelFirstQuartile  = "FIRST_QUARTILE"
	LevelSecondQuartile = "SECOND_QUARTILE"
	LevelThirdQuartile  = "THIRD_QUARTILE"
	LevelFourthQuartile = "FOURTH_QUARTILE"
)

// MaxLevel is the highest heatmap level
const MaxLevel = 4

// LevelFromLabel maps a GraphQL quartile label to 0..4. Unknown labels are 0.
func LevelFromLabel(label string) int {
	switch label {
	case LevelFirstQuartile:
		return 1
	case LevelSecondQuartile:
		return 2
	case LevelThirdQuartile:
		return 3
	case LevelFourthQuartile:
		return 4
	default:
		return 0
	}
}

// BucketLevel derives a level from a raw count when no label is available
func BucketLevel(count int) int {
	switch {
	case count <= 0:
		return 0
	case count <= 3:
		return 1
	case count <= 6:
		return 2
	case count <= 9:
		return 3
	default:
		return 4
	}
}
