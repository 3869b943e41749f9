package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/tariff-cli/internal/config"
	"github.com/sells-group/tariff-cli/internal/model"
	"github.com/sells-group/tariff-cli/internal/registry"
	"github.com/sells-group/tariff-cli/internal/store"
)

func testConfig() *config.Config {
	c := &config.Config{}
	c.Server.Port = 8080
	c.Server.RateLimit = 100
	c.Server.Burst = 100
	c.Server.MaxBodyBytes = 1 << 20
	c.Score.GroupBy = "none"
	c.Score.Concurrency = 2
	c.Registry.Thresholds = registry.DefaultThresholds()
	return c
}

func newTestSQLite(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_Health(t *testing.T) {
	t.Parallel()
	h := buildRouter(newAPI(testConfig(), nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["store"])
}

func TestRouter_Completeness_PartialCredit(t *testing.T) {
	t.Parallel()
	h := buildRouter(newAPI(testConfig(), nil, nil))

	body := map[string]any{
		"records": []map[string]any{
			{"rateCode": "A", "customerClass": "residential", "customerClassSource": "inferred"},
			{"rateCode": "B", "customerClass": "commercial", "customerClassSource": "explicit"},
		},
		"config": map[string]any{"inferred_credit": 0.5},
	}
	rr := postJSON(t, h, "/v1/completeness", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res struct {
		GroupBy string `json:"group_by"`
		Fields  []string
		Results []struct {
			Confidence string         `json:"confidence"`
			Report     map[string]any `json:"report"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "none", res.GroupBy)
	assert.Equal(t, []string{"customerClass", "voltage", "eligibilityNotes", "effectiveDate"}, res.Fields)
	require.Len(t, res.Results, 1)
	assert.InDelta(t, 0.75, res.Results[0].Report["customerClassPct"], 1e-9)
	assert.InDelta(t, 0.0, res.Results[0].Report["voltagePct"], 1e-9)
	assert.Equal(t, float64(2), res.Results[0].Report["record_count"])
	assert.Equal(t, "stub", res.Results[0].Confidence)
}

func TestRouter_Completeness_EmptyRecords(t *testing.T) {
	t.Parallel()
	h := buildRouter(newAPI(testConfig(), nil, nil))

	rr := postJSON(t, h, "/v1/completeness", map[string]any{"records": []any{}})
	require.Equal(t, http.StatusOK, rr.Code)

	var res scoreResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Len(t, res.Results, 1)
	assert.Equal(t, 0, res.Results[0].Report.RecordCount)
	for _, f := range res.Fields {
		assert.Equal(t, 0.0, res.Results[0].Report.Pct(f), f)
	}
	assert.Equal(t, registry.ConfidenceStub, res.Results[0].Confidence)
}

func TestRouter_Completeness_GroupByUtility(t *testing.T) {
	t.Parallel()
	h := buildRouter(newAPI(testConfig(), nil, nil))

	body := map[string]any{
		"records": []map[string]any{
			{"utilityId": "b", "rateCode": "1", "voltage": "primary"},
			{"utilityId": "a", "rateCode": "2"},
		},
		"group_by": "utility",
	}
	rr := postJSON(t, h, "/v1/completeness", body)
	require.Equal(t, http.StatusOK, rr.Code)

	var res scoreResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Len(t, res.Results, 2)
	assert.Equal(t, "a", res.Results[0].Key.UtilityID)
	assert.Equal(t, "b", res.Results[1].Key.UtilityID)
	assert.Equal(t, 1.0, res.Results[1].Report.Pct("voltage"))
}

func TestRouter_Completeness_BadBody(t *testing.T) {
	t.Parallel()
	h := buildRouter(newAPI(testConfig(), nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/v1/completeness", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestRouter_Completeness_BadGroupBy(t *testing.T) {
	t.Parallel()
	h := buildRouter(newAPI(testConfig(), nil, nil))

	rr := postJSON(t, h, "/v1/completeness", map[string]any{"records": []any{}, "group_by": "state"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_Completeness_ConfigurationError(t *testing.T) {
	t.Parallel()
	h := buildRouter(newAPI(testConfig(), nil, nil))

	body := map[string]any{
		"records": []any{},
		"config":  map[string]any{"inferred_credit": 1.5, "fields": []string{"tariffColor"}},
	}
	rr := postJSON(t, h, "/v1/completeness", body)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var resp struct {
		Error    string   `json:"error"`
		Problems []string `json:"problems"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "invalid configuration", resp.Error)
	assert.Len(t, resp.Problems, 2)
}

func TestRouter_RateLimited(t *testing.T) {
	t.Parallel()
	c := testConfig()
	c.Server.RateLimit = 0.001
	c.Server.Burst = 1
	h := buildRouter(newAPI(c, nil, nil))

	first := postJSON(t, h, "/v1/completeness", map[string]any{"records": []any{}})
	assert.Equal(t, http.StatusOK, first.Code)

	second := postJSON(t, h, "/v1/completeness", map[string]any{"records": []any{}})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	// Health is outside the limited group.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouter_Snapshots_NoStore(t *testing.T) {
	t.Parallel()
	h := buildRouter(newAPI(testConfig(), nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/snapshots", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouter_Snapshots_WithStore(t *testing.T) {
	st := newTestSQLite(t)
	ctx := context.Background()

	snap := &model.Snapshot{
		UtilityID:  "pge",
		Commodity:  model.CommodityElectric,
		Confidence: "partial",
		Report:     model.Report{RecordCount: 4, Overall: 0.6, Fields: []model.FieldScore{{Name: "voltage", Pct: 0.6}}},
	}
	require.NoError(t, st.SaveSnapshot(ctx, snap))

	h := buildRouter(newAPI(testConfig(), st, nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/snapshots?utility_id=pge", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var list struct {
		Snapshots []model.Snapshot `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Snapshots, 1)
	assert.Equal(t, snap.ID, list.Snapshots[0].ID)

	req = httptest.NewRequest(http.MethodGet, "/v1/snapshots/"+snap.ID, nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var got model.Snapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, 4, got.Report.RecordCount)
	assert.InDelta(t, 0.6, got.Report.Pct("voltagePct"), 1e-9)

	req = httptest.NewRequest(http.MethodGet, "/v1/snapshots/missing", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/snapshots?limit=-1", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestIntParam(t *testing.T) {
	t.Parallel()

	n, err := intParam("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = intParam("25")
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	_, err = intParam("abc")
	assert.Error(t, err)

	_, err = intParam("10abc")
	assert.Error(t, err)

	_, err = intParam("-1")
	assert.Error(t, err)
}
