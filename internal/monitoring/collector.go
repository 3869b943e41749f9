package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tariff-cli/internal/model"
	"github.com/sells-group/tariff-cli/internal/registry"
	"github.com/sells-group/tariff-cli/internal/store"
)

// Point is one snapshot's classification of a partition.
type Point struct {
	SnapshotID string    `json:"snapshot_id"`
	Confidence string    `json:"confidence"`
	Overall    float64   `json:"overall"`
	CreatedAt  time.Time `json:"created_at"`
}

// Trend pairs a partition's latest snapshot with the one before it.
type Trend struct {
	Key      model.GroupKey `json:"key"`
	Latest   Point          `json:"latest"`
	Previous *Point         `json:"previous,omitempty"`
}

// MetricsSnapshot holds a point-in-time view of metadata completeness
// across saved snapshots.
type MetricsSnapshot struct {
	SnapshotsScanned int            `json:"snapshots_scanned"`
	Partitions       int            `json:"partitions"`
	ByConfidence     map[string]int `json:"by_confidence"`
	StubShare        float64        `json:"stub_share"`
	Trends           []Trend        `json:"trends"`
	CollectedAt      time.Time      `json:"collected_at"`
}

// SnapshotLister is the store method the collector needs.
type SnapshotLister interface {
	ListSnapshots(ctx context.Context, filter store.SnapshotFilter) ([]model.Snapshot, error)
}

// Collector gathers completeness metrics from saved snapshots.
type Collector struct {
	store SnapshotLister
}

// NewCollector creates a new metrics collector.
func NewCollector(st SnapshotLister) *Collector {
	return &Collector{store: st}
}

// Collect scans up to limit of the most recent snapshots and reduces them
// to the latest and previous point per partition.
func (c *Collector) Collect(ctx context.Context, limit int) (*MetricsSnapshot, error) {
	snaps, err := c.store.ListSnapshots(ctx, store.SnapshotFilter{Limit: limit})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list snapshots")
	}

	out := &MetricsSnapshot{
		SnapshotsScanned: len(snaps),
		ByConfidence:     make(map[string]int),
		Trends:           []Trend{},
		CollectedAt:      time.Now().UTC(),
	}

	// Snapshots arrive newest first.
	trends := make(map[model.GroupKey]*Trend)
	for _, s := range snaps {
		key := model.GroupKey{UtilityID: s.UtilityID, Commodity: s.Commodity}
		p := Point{SnapshotID: s.ID, Confidence: s.Confidence, Overall: s.Report.Overall, CreatedAt: s.CreatedAt}
		tr, ok := trends[key]
		switch {
		case !ok:
			trends[key] = &Trend{Key: key, Latest: p}
		case tr.Previous == nil:
			tr.Previous = &p
		}
	}

	for _, tr := range trends {
		out.Trends = append(out.Trends, *tr)
		out.ByConfidence[tr.Latest.Confidence]++
	}
	sort.Slice(out.Trends, func(i, j int) bool {
		return out.Trends[i].Key.String() < out.Trends[j].Key.String()
	})

	out.Partitions = len(out.Trends)
	if out.Partitions > 0 {
		out.StubShare = float64(out.ByConfidence[string(registry.ConfidenceStub)]) / float64(out.Partitions)
	}
	return out, nil
}
