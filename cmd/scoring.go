package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tariff-cli/internal/completeness"
	"github.com/sells-group/tariff-cli/internal/model"
	"github.com/sells-group/tariff-cli/internal/registry"
)

// scoreResult is the output shared by the score command and the API.
type scoreResult struct {
	GroupBy        string                       `json:"group_by"`
	Fields         []string                     `json:"fields"`
	InferredCredit float64                      `json:"inferred_credit"`
	Results        []registry.UtilityConfidence `json:"results"`
}

type scoreRequest struct {
	Records     []model.RateRecord
	Config      completeness.Config
	GroupBy     string
	Concurrency int
	Registry    *registry.Registry
	Thresholds  registry.Thresholds
}

// scoreRecords validates the request, partitions and scores its records,
// and classifies every partition.
func scoreRecords(ctx context.Context, req scoreRequest) (*scoreResult, error) {
	eng, err := completeness.New(req.Config)
	if err != nil {
		return nil, err
	}
	g, err := completeness.ParseGroupBy(req.GroupBy)
	if err != nil {
		return nil, err
	}
	if err := req.Thresholds.Validate(); err != nil {
		return nil, err
	}

	groups, err := eng.ScoreGroups(ctx, req.Records, g, req.Concurrency)
	if err != nil {
		return nil, eris.Wrap(err, "score: score groups")
	}

	return &scoreResult{
		GroupBy:        g.String(),
		Fields:         eng.Fields(),
		InferredCredit: req.Config.InferredCredit,
		Results:        registry.Annotate(groups, g.Utility, req.Registry, req.Thresholds),
	}, nil
}

// loadRegistry reads the configured utility registry, if any.
func loadRegistry() (*registry.Registry, error) {
	if cfg.Registry.UtilitiesPath == "" {
		return nil, nil
	}
	reg, err := registry.LoadFromFile(cfg.Registry.UtilitiesPath)
	if err != nil {
		return nil, eris.Wrap(err, "load utility registry")
	}
	return reg, nil
}

// snapshotsFor converts scored rows into snapshots ready to save. Registered
// utilities that had no records are skipped.
func snapshotsFor(res *scoreResult) []*model.Snapshot {
	snaps := make([]*model.Snapshot, 0, len(res.Results))
	for _, row := range res.Results {
		if row.Report.RecordCount == 0 && row.Registered {
			continue
		}
		snaps = append(snaps, &model.Snapshot{
			UtilityID:      row.Key.UtilityID,
			Commodity:      row.Key.Commodity,
			InferredCredit: res.InferredCredit,
			Confidence:     string(row.Confidence),
			Report:         row.Report,
		})
	}
	return snaps
}
