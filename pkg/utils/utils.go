package utils

import "fmt"

// FormatSeconds renders a duration in seconds using at most two units,
// e.g. "45s", "12m30s", "3h05m".
func FormatSeconds(seconds int64) string {
	if seconds < 0 {
		seconds = -seconds
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		if s := seconds % 60; s != 0 {
			return fmt.Sprintf("%dm%02ds", seconds/60, s)
		}
		return fmt.Sprintf("%dm", seconds/60)
	default:
		if m := (seconds % 3600) / 60; m != 0 {
			return fmt.Sprintf("%dh%02dm", seconds/3600, m)
		}
		return fmt.Sprintf("%dh", seconds/3600)
	}
}

// Plural returns singular when n is 1 and singular+"s" otherwise
func Plural(n int64, singular string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, singular)
	}
	return fmt.Sprintf("%d %ss", n, singular)
}
