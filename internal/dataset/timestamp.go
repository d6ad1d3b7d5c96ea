package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNoTimestamp is returned when a record has no timestamp field.
var ErrNoTimestamp = errors.New("record has no timestamp field")

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp converts a decoded timestamp value to a time. Strings are
// tried against RFC 3339 and the "YYYY-MM-DD hh:mm:ss" form; zone-less
// strings are read as UTC. Integers are epoch offsets whose unit is chosen
// by magnitude: seconds, milliseconds, microseconds or nanoseconds.
func ParseTimestamp(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		return parseTimestampString(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return fromEpoch(n), nil
		}
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", x, err)
		}
		return fromEpochSeconds(f), nil
	case int64:
		return fromEpoch(x), nil
	case int:
		return fromEpoch(int64(x)), nil
	case float64:
		return fromEpochSeconds(x), nil
	case nil:
		return time.Time{}, ErrNoTimestamp
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func parseTimestampString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromEpoch(n), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func fromEpoch(n int64) time.Time {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < 1e11:
		return time.Unix(n, 0).UTC()
	case abs < 1e14:
		return time.UnixMilli(n).UTC()
	case abs < 1e17:
		return time.UnixMicro(n).UTC()
	default:
		return time.Unix(0, n).UTC()
	}
}

func fromEpochSeconds(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
