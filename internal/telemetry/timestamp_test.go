package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampUnmarshal(t *testing.T) {
	want := time.Date(2024, 3, 5, 10, 30, 15, 123_000_000, time.UTC)
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"storage layout", `"2024-03-05T10:30:15.123Z"`, want},
		{"rfc3339 offset", `"2024-03-05T12:30:15.123+02:00"`, want},
		{"hour-only offset", `"2024-03-05T17:30:15.123+07"`, want},
		{"hour-only offset no millis", `"2024-03-05T05:30:15-05"`, time.Date(2024, 3, 5, 10, 30, 15, 0, time.UTC)},
		{"epoch millis", "1709634615123", want},
		{"bare date", `"2024-03-05"`, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"zone-less", `"2024-03-05T10:30:15"`, time.Date(2024, 3, 5, 10, 30, 15, 0, time.UTC)},
		{"null", "null", time.Time{}},
		{"empty string", `""`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			require.NoError(t, json.Unmarshal([]byte(tt.in), &ts))
			assert.True(t, tt.want.Equal(ts.Time), "got %v", ts.Time)
		})
	}
}

func TestTimestampUnmarshalRejectsGarbage(t *testing.T) {
	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	assert.Error(t, json.Unmarshal([]byte(`true`), &ts))
}

func TestTimestampMarshal(t *testing.T) {
	ts := NewTimestamp(time.Date(2024, 3, 5, 12, 30, 15, 123_456_789, time.FixedZone("x", 2*3600)))
	out, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-03-05T10:30:15.123Z"`, string(out))

	out, err = json.Marshal(Timestamp{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestTimestampOmitZero(t *testing.T) {
	out, err := json.Marshal(&LevelPlay{UserID: "u1", Status: "win"})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "date")
	assert.NotContains(t, string(out), "accountCreatedDate")
}
