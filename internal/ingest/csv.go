package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/tariff-cli/internal/model"
)

// DecodeCSV decodes records from CSV with a header row of wire keys
// (rateCode, customerClass, customerClassSource, ...). Columns that do not
// map to a record field are ignored.
func DecodeCSV(data []byte) ([]model.RateRecord, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []model.RateRecord{}, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	dec, err := csvutil.NewDecoder(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []model.RateRecord{}, nil
		}
		return nil, eris.Wrap(err, "ingest: read csv header")
	}

	var records []model.RateRecord
	for {
		var rec model.RateRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, eris.Wrapf(err, "ingest: decode csv row %d", len(records)+1)
		}
		// The header is mapped to fields on the first Decode.
		if len(records) == 0 {
			if names := unusedColumns(dec); len(names) > 0 {
				zap.L().Debug("ingest: ignoring csv columns", zap.String("columns", strings.Join(names, ",")))
			}
		}
		records = append(records, normalize(rec))
	}
	return nonNil(records), nil
}

// unusedColumns names the header columns that matched no record field.
// Only meaningful after a successful Decode.
func unusedColumns(dec *csvutil.Decoder) []string {
	unused := dec.Unused()
	if len(unused) == 0 {
		return nil
	}
	header := dec.Header()
	names := make([]string, 0, len(unused))
	for _, i := range unused {
		names = append(names, header[i])
	}
	return names
}

// normalize folds raw source tags from text formats through
// model.ParseSourceTag.
func normalize(r model.RateRecord) model.RateRecord {
	r.CustomerClassSource = model.ParseSourceTag(string(r.CustomerClassSource))
	r.VoltageSource = model.ParseSourceTag(string(r.VoltageSource))
	r.EligibilitySource = model.ParseSourceTag(string(r.EligibilitySource))
	r.EffectiveSource = model.ParseSourceTag(string(r.EffectiveSource))
	return r
}
