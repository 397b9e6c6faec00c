package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/bamsammich/warren/internal/stats"
)

// FormatCount formats an integer with comma separators.
func FormatCount(n int64) string {
	if n < 0 {
		return "-" + FormatCount(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		b.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatBytes formats a size with binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatDuration formats elapsed time concisely. Sub-second durations keep
// millisecond precision.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// scanSummary builds a one-line summary of a scan.
// Format: scan ✓  dirs 1,204  checked 48,917  found 3  time 412ms
func scanSummary(snap stats.Snapshot, found int, partial bool) string {
	icon := "✓"
	if partial {
		icon = "○" // ○: some links were not reachable
	}
	base := fmt.Sprintf("scan %s  dirs %s  checked %s  found %d  time %s",
		icon,
		FormatCount(snap.DirsVisited),
		FormatCount(snap.EntriesChecked),
		found,
		FormatDuration(snap.Elapsed),
	)
	if snap.EntriesSkipped > 0 {
		base += fmt.Sprintf("  skipped %s", FormatCount(snap.EntriesSkipped))
	}
	if snap.DepthLimited > 0 {
		base += fmt.Sprintf("  depth-limited %s", FormatCount(snap.DepthLimited))
	}
	return base
}
