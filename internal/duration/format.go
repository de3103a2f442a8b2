// Package duration renders backend elapsed-time strings (Go duration
// syntax such as "1h2m3.5s") as short dashboard labels.
package duration

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// DefaultMaxUnits is the number of components kept for long durations.
const DefaultMaxUnits = 3

var durationPattern = regexp.MustCompile(`(-?\d+(?:\.\d+)?)(ns|us|µs|ms|s|m|h)`)

// unitMillis maps a unit suffix to its length in milliseconds.
var unitMillis = map[string]float64{
	"h":  3_600_000,
	"m":  60_000,
	"s":  1_000,
	"ms": 1,
	"us": 0.001,
	"µs": 0.001,
	"ns": 0.000001,
}

// Format renders input with DefaultMaxUnits components.
func Format(input string) string {
	return FormatUnits(input, DefaultMaxUnits)
}

// FormatUnits renders input keeping at most maxUnits components.
// Input that contains no <number><unit> pair is returned unchanged.
func FormatUnits(input string, maxUnits int) string {
	if maxUnits <= 0 {
		maxUnits = DefaultMaxUnits
	}

	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return input
	}

	sign := 1.0
	value := trimmed
	if strings.HasPrefix(value, "-") {
		sign = -1
		value = value[1:]
	}

	matches := durationPattern.FindAllStringSubmatch(value, -1)
	if len(matches) == 0 {
		return input
	}

	total := 0.0
	for _, m := range matches {
		amount, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		total += amount * unitMillis[m[2]]
	}

	return formatMillis(total*sign, maxUnits)
}

func formatMillis(total float64, maxUnits int) string {
	sign := ""
	if total < 0 {
		sign = "-"
	}
	ms := math.Abs(total)

	if ms < 1 {
		return "0s"
	}

	if ms < 1000 {
		return sign + strconv.FormatFloat(math.Floor(ms+0.5), 'f', 0, 64) + "ms"
	}

	if ms < 60_000 {
		seconds := ms / 1000
		if seconds == math.Trunc(seconds) {
			return sign + strconv.FormatFloat(seconds, 'f', 0, 64) + "s"
		}
		rounded := math.Floor(seconds*10+0.5) / 10
		return sign + strconv.FormatFloat(rounded, 'f', 1, 64) + "s"
	}

	totalSeconds := int64(ms / 1000)
	days := totalSeconds / 86_400
	hours := (totalSeconds % 86_400) / 3_600
	minutes := (totalSeconds % 3_600) / 60
	seconds := totalSeconds % 60

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, strconv.FormatInt(days, 10)+"d")
	}
	if hours > 0 {
		parts = append(parts, strconv.FormatInt(hours, 10)+"h")
	}
	if minutes > 0 {
		parts = append(parts, strconv.FormatInt(minutes, 10)+"m")
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, strconv.FormatInt(seconds, 10)+"s")
	}

	if len(parts) > maxUnits {
		parts = parts[:maxUnits]
	}

	return sign + strings.Join(parts, " ")
}
