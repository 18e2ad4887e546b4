package inspector

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseTimeToLive accepts either a Go duration ("90s", "1h30m") or a .NET
// TimeSpan ("00:01:30", "1.02:03:04.5"), which is what the
// web UI sends.
func ParseTimeToLive(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty time to live")
	}
	var d time.Duration
	var err error
	if strings.Contains(s, ":") {
		d, err = parseTimeSpan(s)
	} else {
		d, err = time.ParseDuration(s)
	}
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("time to live must be positive, got %q", s)
	}
	return d, nil
}

const day = 24 * time.Hour

// maxTimeSpanDays is the largest whole day count a time.Duration holds.
const maxTimeSpanDays = int64(math.MaxInt64 / int64(day))

func parseTimeSpan(s string) (time.Duration, error) {
	invalid := fmt.Errorf("invalid time span %q", s)

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var days int64
	clock := s
	if dot := strings.IndexByte(s, '.'); dot != -1 && dot < strings.IndexByte(s, ':') {
		v, err := strconv.ParseInt(s[:dot], 10, 64)
		if err != nil || v < 0 {
			return 0, invalid
		}
		if v > maxTimeSpanDays {
			return 0, fmt.Errorf("time span %q is out of range (max %d days)", s, maxTimeSpanDays)
		}
		days = v
		clock = s[dot+1:]
	}

	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0, invalid
	}
	hours, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || hours < 0 || hours > 23 {
		return 0, invalid
	}
	minutes, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, invalid
	}
	secPart, fracPart, hasFrac := strings.Cut(parts[2], ".")
	seconds, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil || seconds < 0 || seconds > 59 {
		return 0, invalid
	}
	var frac time.Duration
	if hasFrac {
		if fracPart == "" || len(fracPart) > 7 {
			return 0, invalid
		}
		ticks, err := strconv.ParseInt(fracPart+strings.Repeat("0", 7-len(fracPart)), 10, 64)
		if err != nil {
			return 0, invalid
		}
		frac = time.Duration(ticks) * 100 * time.Nanosecond
	}

	rest := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		frac
	dayPart := time.Duration(days) * day
	if rest > time.Duration(math.MaxInt64)-dayPart {
		return 0, fmt.Errorf("time span %q is out of range", s)
	}
	d := dayPart + rest
	if neg {
		d = -d
	}
	return d, nil
}

// FormatTimeSpan renders d the way .NET serializes a TimeSpan
// ("[-][d.]hh:mm:ss[.fffffff]").
func FormatTimeSpan(d time.Duration) string {
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	d -= seconds * time.Second
	ticks := d / (100 * time.Nanosecond)

	if days > 0 {
		fmt.Fprintf(&b, "%d.", days)
	}
	fmt.Fprintf(&b, "%02d:%02d:%02d", hours, minutes, seconds)
	if ticks > 0 {
		fmt.Fprintf(&b, ".%07d", ticks)
	}
	return b.String()
}
