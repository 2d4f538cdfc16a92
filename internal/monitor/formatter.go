package monitor

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatRate formats a throughput value as "X.X rec/min"
func FormatRate(rate float64) string {
	return fmt.Sprintf("%.1f rec/min", rate)
}

// FormatCount formats a counter with thousands separators.
func FormatCount(n int64) string {
	return humanize.Comma(n)
}

// FormatLatency formats a duration as "X.Xms" or "X.Xs"
func FormatLatency(d time.Duration) string {
	seconds := d.Seconds()
	if seconds < 1.0 {
		return fmt.Sprintf("%.1fms", seconds*1000)
	}
	return fmt.Sprintf("%.1fs", seconds)
}

// FormatPercentage formats a ratio (0-1) as percentage
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatAgo formats then relative to now, e.g. "3 minutes ago".
func FormatAgo(then, now time.Time) string {
	if then.IsZero() {
		return "never"
	}
	return humanize.RelTime(then, now, "ago", "from now")
}

// FormatUptime formats uptime in seconds to "Xh Ym" or "Xm"
func FormatUptime(seconds int64) string {
	return FormatDuration(seconds)
}

// FormatDuration formats duration in seconds to "Xh Ym" or "Xm"
func FormatDuration(seconds int64) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
