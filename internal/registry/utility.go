package registry

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tariff-cli/internal/model"
)

// Utility is a registry entry for a utility company and one commodity it
// serves.
type Utility struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Commodity model.Commodity `json:"commodity"`
	State     string          `json:"state,omitempty"`
}

// Key returns the partition key the utility's records are scored under.
func (u Utility) Key() model.GroupKey {
	return model.GroupKey{UtilityID: u.ID, Commodity: u.Commodity}
}

// Registry is an indexed collection of utilities.
type Registry struct {
	Utilities []Utility
	byKey     map[model.GroupKey]*Utility
	byID      map[string][]*Utility
}

// New creates a Registry with indexed lookups.
func New(utilities []Utility) *Registry {
	r := &Registry{
		Utilities: utilities,
		byKey:     make(map[model.GroupKey]*Utility, len(utilities)),
		byID:      make(map[string][]*Utility, len(utilities)),
	}
	for i := range r.Utilities {
		u := &r.Utilities[i]
		r.byKey[u.Key()] = u
		r.byID[u.ID] = append(r.byID[u.ID], u)
	}
	return r
}

// Lookup returns the entry for a partition key, or nil. A key without a
// commodity matches a utility that is registered for exactly one.
func (r *Registry) Lookup(k model.GroupKey) *Utility {
	if r == nil {
		return nil
	}
	if u, ok := r.byKey[k]; ok {
		return u
	}
	if k.Commodity == "" {
		if us := r.byID[k.UtilityID]; len(us) == 1 {
			return us[0]
		}
	}
	return nil
}

// LoadFromFile reads a JSON array of Utility from path.
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read utilities fixture")
	}

	var utilities []Utility
	if err := json.Unmarshal(data, &utilities); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal utilities fixture")
	}

	return New(utilities), nil
}

// UtilityConfidence is one classified row of output.
type UtilityConfidence struct {
	Key          model.GroupKey  `json:"key"`
	Name         string          `json:"name,omitempty"`
	Registered   bool            `json:"registered"`
	Confidence   ConfidenceLevel `json:"confidence"`
	WeakestField string          `json:"weakest_field,omitempty"`
	Report       model.Report    `json:"report"`
}

// Annotate classifies every group report. When reg is non-nil and the
// records were partitioned by utility, registered utilities with no
// records are appended as stubs with an empty report, even when groups is
// empty. Output is sorted by key.
func Annotate(groups []model.GroupReport, byUtility bool, reg *Registry, t Thresholds) []UtilityConfidence {
	out := make([]UtilityConfidence, 0, len(groups))
	seen := make(map[model.GroupKey]bool, len(groups))

	for _, g := range groups {
		report := g.Report
		row := UtilityConfidence{
			Key:          g.Key,
			Confidence:   Classify(&report, t),
			WeakestField: WeakestField(&report),
			Report:       report,
		}
		if u := reg.Lookup(g.Key); u != nil {
			row.Name = u.Name
			row.Registered = true
			seen[u.Key()] = true
		}
		if reg != nil && g.Key.Commodity == "" {
			for _, u := range reg.byID[g.Key.UtilityID] {
				seen[u.Key()] = true
			}
		}
		out = append(out, row)
	}

	if reg != nil && byUtility {
		for _, u := range reg.Utilities {
			if seen[u.Key()] {
				continue
			}
			out = append(out, UtilityConfidence{
				Key:        u.Key(),
				Name:       u.Name,
				Registered: true,
				Confidence: ConfidenceStub,
				Report:     model.Report{Fields: []model.FieldScore{}},
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Key.UtilityID != out[j].Key.UtilityID {
			return out[i].Key.UtilityID < out[j].Key.UtilityID
		}
		return out[i].Key.Commodity < out[j].Key.Commodity
	})
	return out
}
