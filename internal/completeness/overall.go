package completeness

import (
	"math"

	"github.com/sells-group/tariff-cli/internal/model"
)

// overall is the weighted mean of the report's field percentages.
func (e *Engine) overall(report *model.Report) float64 {
	var sum, wsum float64
	for i, f := range report.Fields {
		w := e.plan.weights[i]
		sum += w * f.Pct
		wsum += w
	}
	if wsum == 0 {
		return 0
	}
	return math.Min(1, sum/wsum)
}

// Overall recomputes the weighted overall score of an existing report
// under the given weights, using the same rules as Config.Weights. Fields
// in weights that the report does not carry are ignored.
func Overall(report *model.Report, weights map[string]float64) float64 {
	var sum, wsum float64
	for _, f := range report.Fields {
		w := 1.0
		if len(weights) > 0 {
			w = weightFor(weights, f.Name)
		}
		if math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
			continue
		}
		sum += w * f.Pct
		wsum += w
	}
	if wsum == 0 {
		return 0
	}
	return math.Min(1, sum/wsum)
}

func weightFor(weights map[string]float64, name string) float64 {
	if w, ok := weights[name]; ok {
		return w
	}
	for k, w := range weights {
		if f, ok := Lookup(k); ok && f.Name == name {
			return w
		}
	}
	return 0
}
