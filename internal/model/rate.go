package model

import (
	"encoding/json"
	"strings"
	"time"
)

// UnknownValue is the sentinel upstream pipelines write when a field could
// not be determined.
const UnknownValue = "unknown"

// Commodity identifies the utility service a rate applies to.
type Commodity string

const (
	CommodityElectric Commodity = "electric"
	CommodityGas      Commodity = "gas"
	CommodityWater    Commodity = "water"
)

// RateRecord is one tariff rate line item as assembled by an ingestion
// pipeline. Empty strings mean the value was absent or null upstream.
type RateRecord struct {
	UtilityID string    `json:"utilityId,omitempty" csv:"utilityId,omitempty"`
	Commodity Commodity `json:"commodity,omitempty" csv:"commodity,omitempty"`
	RateCode  string    `json:"rateCode" csv:"rateCode"`

	CustomerClass       string    `json:"customerClass,omitempty" csv:"customerClass,omitempty"`
	CustomerClassSource SourceTag `json:"customerClassSource,omitempty" csv:"customerClassSource,omitempty"`

	Voltage       string    `json:"voltage,omitempty" csv:"voltage,omitempty"`
	VoltageSource SourceTag `json:"voltageSource,omitempty" csv:"voltageSource,omitempty"`

	EligibilityNotes  string    `json:"eligibilityNotes,omitempty" csv:"eligibilityNotes,omitempty"`
	EligibilitySource SourceTag `json:"eligibilitySource,omitempty" csv:"eligibilitySource,omitempty"`

	EffectiveStart  string    `json:"effectiveStart,omitempty" csv:"effectiveStart,omitempty"`
	EffectiveEnd    string    `json:"effectiveEnd,omitempty" csv:"effectiveEnd,omitempty"`
	EffectiveSource SourceTag `json:"effectiveSource,omitempty" csv:"effectiveSource,omitempty"`
}

// recordKeys lists the wire keys RecordFromMap understands, in struct order.
var recordKeys = []string{
	"utilityId", "commodity", "rateCode",
	"customerClass", "customerClassSource",
	"voltage", "voltageSource",
	"eligibilityNotes", "eligibilitySource",
	"effectiveStart", "effectiveEnd", "effectiveSource",
}

// RecordKeys returns the wire keys of a RateRecord.
func RecordKeys() []string {
	out := make([]string, len(recordKeys))
	copy(out, recordKeys)
	return out
}

// RecordFromMap builds a RateRecord from a loosely typed map such as a
// decoded JSON or YAML object. Values that are not strings are treated as
// absent; a non-string, non-null source tag resolves to SourceUnknown.
// Unrecognized keys are ignored.
func RecordFromMap(m map[string]any) RateRecord {
	str := func(key string) string {
		s, _ := m[key].(string)
		return s
	}
	tag := func(key string) SourceTag {
		v, ok := m[key]
		if !ok || v == nil {
			return SourceUntagged
		}
		s, ok := v.(string)
		if !ok {
			return SourceUnknown
		}
		return ParseSourceTag(s)
	}

	return RateRecord{
		UtilityID:           str("utilityId"),
		Commodity:           Commodity(str("commodity")),
		RateCode:            str("rateCode"),
		CustomerClass:       str("customerClass"),
		CustomerClassSource: tag("customerClassSource"),
		Voltage:             str("voltage"),
		VoltageSource:       tag("voltageSource"),
		EligibilityNotes:    str("eligibilityNotes"),
		EligibilitySource:   tag("eligibilitySource"),
		EffectiveStart:      str("effectiveStart"),
		EffectiveEnd:        str("effectiveEnd"),
		EffectiveSource:     tag("effectiveSource"),
	}
}

// UnmarshalJSON decodes a record leniently via RecordFromMap so that a
// single ragged record never fails a whole batch. A value that is not an
// object decodes as an empty record.
func (r *RateRecord) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		m = nil
	}
	*r = RecordFromMap(m)
	return nil
}

// dateLayouts are the effective-date formats emitted by ingestion pipelines.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"01/02/2006",
	"2006-01",
}

// ParseDate parses an effective-date string in any of the accepted layouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// GroupKey identifies a utility/commodity partition of a record set.
type GroupKey struct {
	UtilityID string    `json:"utility_id,omitempty"`
	Commodity Commodity `json:"commodity,omitempty"`
}

// String renders the key as "utility/commodity", using "*" for a
// dimension that was not partitioned on.
func (k GroupKey) String() string {
	u, c := k.UtilityID, string(k.Commodity)
	if u == "" {
		u = "*"
	}
	if c == "" {
		c = "*"
	}
	return u + "/" + c
}
