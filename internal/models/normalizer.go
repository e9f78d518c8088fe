package models

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.UnixDate,
}

// Normalize applies field normalization to a MetricDefinition
// - trims name, area and path segments
// - canonicalizes comparator aliases
// - applies the default window when none is set
func (d *MetricDefinition) Normalize(defaultWindow time.Duration) {
	d.Name = strings.TrimSpace(d.Name)
	d.Area = strings.TrimSpace(d.Area)

	if len(d.Path) > 0 {
		path := make([]string, len(d.Path))
		for i, seg := range d.Path {
			path[i] = strings.TrimSpace(seg)
		}
		d.Path = path
	}

	// Unknown comparators are left as-is for Validate to reject
	if c, err := ParseComparator(string(d.Comparator)); err == nil {
		d.Comparator = c
	}

	if d.Window == 0 {
		d.Window = defaultWindow
	}
}

// ParseTimestamp attempts to parse a timestamp string into time.Time.
// A plain number is read as Unix seconds.
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)

	if secs, err := strconv.ParseFloat(ts, 64); err == nil && secs >= 0 && !math.IsInf(secs, 1) {
		return UnixTime(secs), nil
	}

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}

// UnixTime converts fractional Unix seconds to a UTC time
func UnixTime(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}
