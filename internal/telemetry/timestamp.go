package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Layout is the wire and storage format for every event timestamp.
const Layout = "2006-01-02T15:04:05.000Z"

// DateLayout is the day-granularity format used by chart parameters and
// histogram keys.
const DateLayout = "2006-01-02"

var parseLayouts = []string{
	Layout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.000Z07",
	"2006-01-02T15:04:05Z07",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	DateLayout,
}

// Timestamp is a UTC instant that serializes with millisecond precision.
// A zero Timestamp marshals as null and is dropped by omitzero.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to milliseconds and normalizes it to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Millisecond)}
}

func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(Layout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.UTC().Format(Layout))), nil
}

// UnmarshalJSON accepts the storage layout, RFC 3339 with any offset, an
// hour-only offset such as +07, a bare date, a zone-less local timestamp
// (read as UTC) or epoch milliseconds.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	if data[0] != '"' {
		var millis json.Number
		if err := json.Unmarshal(data, &millis); err != nil {
			return fmt.Errorf("timestamp must be a string or epoch millis: %w", err)
		}
		ms, err := millis.Int64()
		if err != nil {
			return fmt.Errorf("timestamp epoch millis %s: %w", millis, err)
		}
		*t = NewTimestamp(time.UnixMilli(ms))
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTimestamp parses raw using the accepted layouts. An empty string
// yields the zero Timestamp.
func ParseTimestamp(raw string) (Timestamp, error) {
	if raw == "" {
		return Timestamp{}, nil
	}
	for _, layout := range parseLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return NewTimestamp(parsed), nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
