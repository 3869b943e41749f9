package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSourceTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want SourceTag
	}{
		{"", SourceUntagged},
		{"explicit", SourceExplicit},
		{"inferred", SourceInferred},
		{"unknown", SourceUnknown},
		{"Explicit", SourceUnknown},
		{"heuristic", SourceUnknown},
		{" explicit", SourceUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseSourceTag(tt.in), "ParseSourceTag(%q)", tt.in)
	}
}

func TestSourceTag_ValidAndString(t *testing.T) {
	t.Parallel()

	assert.True(t, SourceUntagged.Valid())
	assert.True(t, SourceInferred.Valid())
	assert.False(t, SourceTag("guess").Valid())
	assert.Equal(t, "untagged", SourceUntagged.String())
	assert.Equal(t, "explicit", SourceExplicit.String())
}

func TestRecordFromMap_Lenient(t *testing.T) {
	t.Parallel()

	r := RecordFromMap(map[string]any{
		"utilityId":           "pge",
		"commodity":           "electric",
		"rateCode":            "E-1",
		"customerClass":       "residential",
		"customerClassSource": "inferred",
		"voltage":             42,
		"voltageSource":       nil,
		"eligibilityNotes":    nil,
		"eligibilitySource":   true,
		"effectiveStart":      "2024-01-01",
		"effectiveSource":     "EXPLICIT",
		"tariffColor":         "blue",
	})

	assert.Equal(t, "pge", r.UtilityID)
	assert.Equal(t, CommodityElectric, r.Commodity)
	assert.Equal(t, "residential", r.CustomerClass)
	assert.Equal(t, SourceInferred, r.CustomerClassSource)
	assert.Empty(t, r.Voltage, "non-string values are absent")
	assert.Equal(t, SourceUntagged, r.VoltageSource)
	assert.Empty(t, r.EligibilityNotes)
	assert.Equal(t, SourceUnknown, r.EligibilitySource, "non-string tag is unknown")
	assert.Equal(t, SourceUnknown, r.EffectiveSource, "tags match exactly")
}

func TestRecordFromMap_Nil(t *testing.T) {
	t.Parallel()
	assert.Equal(t, RateRecord{}, RecordFromMap(nil))
}

func TestRateRecord_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	var records []RateRecord
	err := json.Unmarshal([]byte(`[
		{"rateCode":"A","customerClass":"residential","customerClassSource":"explicit"},
		7,
		null,
		{"rateCode":"B","voltage":null,"voltageSource":5}
	]`), &records)
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, "A", records[0].RateCode)
	assert.Equal(t, SourceExplicit, records[0].CustomerClassSource)
	assert.Equal(t, RateRecord{}, records[1])
	assert.Equal(t, RateRecord{}, records[2])
	assert.Empty(t, records[3].Voltage)
	assert.Equal(t, SourceUnknown, records[3].VoltageSource)
}

func TestRecordKeys_IsCopy(t *testing.T) {
	t.Parallel()

	keys := RecordKeys()
	require.Len(t, keys, 12)
	keys[0] = "mutated"
	assert.Equal(t, "utilityId", RecordKeys()[0])
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{" 2024-03-15 ", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), true},
		{"2024-01-01T08:30:00Z", time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC), true},
		{"2024-01-01T08:30:00", time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC), true},
		{"07/04/2023", time.Date(2023, 7, 4, 0, 0, 0, 0, time.UTC), true},
		{"2023-07", time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"unknown", time.Time{}, false},
		{"2024-13-01", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseDate(tt.in)
		assert.Equal(t, tt.ok, ok, "ParseDate(%q)", tt.in)
		if tt.ok {
			assert.True(t, tt.want.Equal(got), "ParseDate(%q) = %v", tt.in, got)
		}
	}
}

func TestGroupKey_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pge/electric", GroupKey{UtilityID: "pge", Commodity: CommodityElectric}.String())
	assert.Equal(t, "pge/*", GroupKey{UtilityID: "pge"}.String())
	assert.Equal(t, "*/gas", GroupKey{Commodity: CommodityGas}.String())
	assert.Equal(t, "*/*", GroupKey{}.String())
}
