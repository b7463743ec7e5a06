package factory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coaching-engine/booking"
)

func TestParsePolicy_OverridesDefaults(t *testing.T) {
	// GIVEN: A document that only changes capacity and weekdays
	// THEN: Everything else keeps the default values

	f := NewPolicyFactory()
	p, err := f.ParsePolicy(`{"max_capacity_per_slot": 8, "active_weekdays": ["Monday", "wed"]}`)
	require.NoError(t, err)

	assert.Equal(t, 8, p.MaxCapacityPerSlot)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, p.ActiveWeekdays)
	assert.Equal(t, 8, p.OpenHour)
	assert.Equal(t, 22, p.CloseHour)
	assert.Equal(t, 24, p.CancellationWindowHours)
	assert.Equal(t, time.UTC, p.Loc())
	assert.Equal(t, 6, p.NearFullThreshold())
}

func TestParsePolicy_Timezone(t *testing.T) {
	f := NewPolicyFactory()
	p, err := f.ParsePolicy(`{"timezone": "UTC"}`)
	require.NoError(t, err)
	assert.Equal(t, "UTC", p.Loc().String())
}

func TestParsePolicy_Rejects(t *testing.T) {
	f := NewPolicyFactory()

	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", `{"max_capacity": 8}`},
		{"bad weekday", `{"active_weekdays": ["funday"]}`},
		{"bad timezone", `{"timezone": "Mars/Olympus"}`},
		{"closed all day", `{"open_hour": 10, "close_hour": 10}`},
		{"no weekdays", `{"active_weekdays": []}`},
		{"not json", `capacity=6`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParsePolicy(tt.doc)
			assert.Error(t, err)
		})
	}

	_, err := f.ParsePolicy(`{"active_weekdays": ["funday"]}`)
	assert.ErrorIs(t, err, booking.ErrInvalidInput)
}

func TestEncode_ParsesBackToSamePolicy(t *testing.T) {
	f := NewPolicyFactory()
	p := booking.DefaultPolicy()
	p.MaxCapacityPerSlot = 10
	p.LowCreditThreshold = 2

	doc, err := f.Encode(p)
	require.NoError(t, err)
	assert.Contains(t, doc, `"max_capacity_per_slot": 10`)
	assert.Contains(t, doc, `"sat"`)

	back, err := f.ParsePolicy(doc)
	require.NoError(t, err)
	assert.Equal(t, p.MaxCapacityPerSlot, back.MaxCapacityPerSlot)
	assert.Equal(t, p.LowCreditThreshold, back.LowCreditThreshold)
	assert.Equal(t, p.ActiveWeekdays, back.ActiveWeekdays)
}

func TestLoadFile(t *testing.T) {
	f := NewPolicyFactory()
	path := filepath.Join(t.TempDir(), "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cancellation_window_hours": 48}`), 0o600))

	p, err := f.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, p.CancellationWindow())

	_, err = f.LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
