package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-08-20")
	require.NoError(t, err)
	assert.Equal(t, NewDate(2025, time.August, 20), d)
	assert.Equal(t, "2025-08-20", d.String())

	zero, err := ParseDate("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
	assert.Equal(t, "", zero.String())

	_, err = ParseDate("20/08/2025")
	assert.Error(t, err)
}

func TestDateCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"2025-07-25", "2025-07-25", 0},
		{"2024-12-31", "2025-01-01", -1},
		{"2025-02-01", "2025-01-31", 1},
		{"2025-07-24", "2025-07-25", -1},
	}
	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			got := MustParseDate(tt.a).Compare(MustParseDate(tt.b))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want < 0, MustParseDate(tt.a).Before(MustParseDate(tt.b)))
		})
	}
}

func TestDateOfIgnoresClockTime(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	ts := time.Date(2025, time.July, 25, 23, 59, 0, 0, loc)
	assert.Equal(t, NewDate(2025, time.July, 25), DateOf(ts))
}

func TestDateJSON(t *testing.T) {
	type wrapper struct {
		Expiry Date `json:"expiry"`
	}

	data, err := json.Marshal(wrapper{Expiry: MustParseDate("2026-01-05")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"expiry":"2026-01-05"}`, string(data))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"expiry":""}`), &w))
	assert.True(t, w.Expiry.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`{"expiry":20260105}`), &w))
}

func TestDateScan(t *testing.T) {
	var d Date
	require.NoError(t, d.Scan("2025-03-04"))
	assert.Equal(t, "2025-03-04", d.String())

	require.NoError(t, d.Scan([]byte("2025-03-05")))
	assert.Equal(t, "2025-03-05", d.String())

	require.NoError(t, d.Scan(time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2025-03-06", d.String())

	require.NoError(t, d.Scan(nil))
	assert.True(t, d.IsZero())

	assert.Error(t, d.Scan(42))
}
