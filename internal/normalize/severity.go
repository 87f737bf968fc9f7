package normalize

import "github.com/kjstillabower/airquality-dashboard/internal/models"

// Severity levels.
const (
	LevelGood                  = "good"
	LevelModerate              = "moderate"
	LevelUnhealthyForSensitive = "unhealthy-for-sensitive"
	LevelUnhealthy             = "unhealthy"
	LevelVeryUnhealthy         = "very-unhealthy"
	LevelHazardous             = "hazardous"
	LevelUnknown               = "unknown"
)

type breakpoint struct {
	above    int
	severity models.Severity
}

// breakpoints is ordered from highest to lowest. An AQI takes the first row it
// is strictly greater than; anything at or below 50 is good.
var breakpoints = []breakpoint{
	{300, models.Severity{Level: LevelHazardous, Background: "#7e0023", Foreground: "#ffffff"}},
	{200, models.Severity{Level: LevelVeryUnhealthy, Background: "#660099", Foreground: "#ffffff"}},
	{150, models.Severity{Level: LevelUnhealthy, Background: "#cc0033", Foreground: "#ffffff"}},
	{100, models.Severity{Level: LevelUnhealthyForSensitive, Background: "#ff9933", Foreground: "#000000"}},
	{50, models.Severity{Level: LevelModerate, Background: "#ffde33", Foreground: "#000000"}},
}

var (
	good    = models.Severity{Level: LevelGood, Background: "#009966", Foreground: "#ffffff"}
	unknown = models.Severity{Level: LevelUnknown, Background: "#cccccc", Foreground: "#ffffff"}
)

// ClassifySeverity maps an AQI to its level and display colors.
// A nil AQI is unknown, never good.
func ClassifySeverity(aqi *int) models.Severity {
	if aqi == nil {
		return unknown
	}
	for _, bp := range breakpoints {
		if *aqi > bp.above {
			return bp.severity
		}
	}
	return good
}

// SeverityRank orders levels from 0 (good) to 5 (hazardous). Unknown is -1.
func SeverityRank(level string) int {
	if level == LevelGood {
		return 0
	}
	for i, bp := range breakpoints {
		if bp.severity.Level == level {
			return len(breakpoints) - i
		}
	}
	return -1
}
