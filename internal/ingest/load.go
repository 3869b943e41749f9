// Package ingest loads rate records handed over by acquisition pipelines
// as JSON, YAML, CSV or XLSX files, from disk or over HTTP.
package ingest

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/tariff-cli/internal/model"
)

// Options configures loading.
type Options struct {
	// SheetName selects an XLSX sheet; empty means the first sheet.
	SheetName string
}

// Supported reports whether path has an extension Load understands.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml", ".csv", ".xlsx":
		return true
	}
	return false
}

// Load reads the records in path, choosing the decoder by extension.
func Load(path string, opts Options) ([]model.RateRecord, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".xlsx":
		return ReadXLSX(path, opts.SheetName)
	case ".json", ".yaml", ".yml", ".csv":
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}
	return decode(ext, data)
}

// decode dispatches in-memory formats by lowercased extension.
func decode(ext string, data []byte) ([]model.RateRecord, error) {
	switch ext {
	case ".json":
		return DecodeJSON(data)
	case ".csv":
		return DecodeCSV(data)
	case ".yaml", ".yml":
		return DecodeYAML(data)
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", ext)
	}
}

// LoadPath loads a single file, or every supported file in a directory in
// lexical order. Unsupported files in a directory are skipped.
func LoadPath(path string, opts Options) ([]model.RateRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: stat %s", path)
	}
	if !info.IsDir() {
		return Load(path, opts)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read dir %s", path)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !Supported(e.Name()) {
			zap.L().Debug("ingest: skipping unsupported file", zap.String("file", e.Name()))
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var records []model.RateRecord
	for _, name := range names {
		recs, err := Load(filepath.Join(path, name), opts)
		if err != nil {
			return nil, err
		}
		zap.L().Debug("ingest: loaded file", zap.String("file", name), zap.Int("records", len(recs)))
		records = append(records, recs...)
	}
	return nonNil(records), nil
}

// envelope is the object form of a record file.
type envelope struct {
	Records []model.RateRecord `json:"records"`
}

// DecodeJSON decodes a JSON array of records or an object with a
// "records" array.
func DecodeJSON(data []byte) ([]model.RateRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []model.RateRecord{}, nil
	}
	if trimmed[0] == '{' {
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, eris.Wrap(err, "ingest: decode json envelope")
		}
		return nonNil(env.Records), nil
	}
	var records []model.RateRecord
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return nil, eris.Wrap(err, "ingest: decode json")
	}
	return nonNil(records), nil
}

// DecodeYAML decodes the YAML equivalent of DecodeJSON. Non-string
// scalars such as unquoted numbers are treated as absent values.
func DecodeYAML(data []byte) ([]model.RateRecord, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "ingest: decode yaml")
	}

	var items []any
	switch v := doc.(type) {
	case nil:
		return []model.RateRecord{}, nil
	case []any:
		items = v
	case map[string]any:
		list, ok := v["records"].([]any)
		if !ok && v["records"] != nil {
			return nil, eris.New("ingest: yaml records must be a list")
		}
		items = list
	default:
		return nil, eris.New("ingest: yaml document must be a list or a mapping with records")
	}

	records := make([]model.RateRecord, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			zap.L().Warn("ingest: yaml record is not a mapping, scoring as empty", zap.Int("index", i))
			m = nil
		}
		records = append(records, model.RecordFromMap(yamlDates(m)))
	}
	return records, nil
}

// yamlDates renders timestamp scalars back to the text they were written
// as, so an unquoted effectiveStart is not mistaken for a non-string.
func yamlDates(m map[string]any) map[string]any {
	for k, v := range m {
		if t, ok := v.(time.Time); ok {
			if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
				m[k] = t.Format("2006-01-02")
			} else {
				m[k] = t.Format(time.RFC3339)
			}
		}
	}
	return m
}

func nonNil(records []model.RateRecord) []model.RateRecord {
	if records == nil {
		return []model.RateRecord{}
	}
	return records
}
