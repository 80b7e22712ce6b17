package timer

import "fmt"

// Limits bounds one interview mode. Both values are in seconds.
type Limits struct {
	Max       int
	WarningAt int
}

var (
	ChatLimits  = Limits{Max: 600, WarningAt: 480}
	VoiceLimits = Limits{Max: 1800, WarningAt: 1680}
)

// IsWarning reports whether elapsed is inside the trailing window before Max.
func (l Limits) IsWarning(elapsed int) bool {
	return elapsed >= l.WarningAt && elapsed < l.Max
}

func (l Limits) IsTimeUp(elapsed int) bool {
	return elapsed >= l.Max
}

func (l Limits) Remaining(elapsed int) int {
	if elapsed >= l.Max {
		return 0
	}
	return l.Max - elapsed
}

// Format renders seconds as MM:SS.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
