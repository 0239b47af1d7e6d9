package pvlive

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gridwatch/pvlive-consumer/internal/models"
)

// Response is the PVLive JSON payload: rows of values described by meta.
type Response struct {
	Data [][]json.RawMessage `json:"data"`
	Meta []string            `json:"meta"`
}

var requiredColumns = []string{"gsp_id", "datetime_gmt", "generation_mw"}

// Readings types every row by column name. A payload whose meta lacks a
// required column fails as a whole; individual bad rows are skipped and
// reported in rowErrs.
func (r Response) Readings() (readings []models.RawReading, rowErrs []error, err error) {
	cols := make(map[string]int, len(r.Meta))
	for i, name := range r.Meta {
		cols[strings.ToLower(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, nil, fmt.Errorf("%w: meta has no %q column", ErrMalformedRow, name)
		}
	}

	readings = make([]models.RawReading, 0, len(r.Data))
	for i, row := range r.Data {
		reading, err := parseRow(row, cols)
		if err != nil {
			rowErrs = append(rowErrs, fmt.Errorf("row %d: %w", i, err))
			continue
		}
		readings = append(readings, reading)
	}
	return readings, rowErrs, nil
}

func parseRow(row []json.RawMessage, cols map[string]int) (models.RawReading, error) {
	if len(row) < len(cols) {
		return models.RawReading{}, fmt.Errorf("%w: %d values for %d columns", ErrMalformedRow, len(row), len(cols))
	}
	var (
		out models.RawReading
		err error
	)

	if err := json.Unmarshal(row[cols["gsp_id"]], &out.GSPID); err != nil {
		return out, fmt.Errorf("%w: gsp_id: %v", ErrMalformedRow, err)
	}
	if out.DatetimeGMT, err = parseTime(row[cols["datetime_gmt"]]); err != nil {
		return out, fmt.Errorf("%w: datetime_gmt: %v", ErrMalformedRow, err)
	}
	if out.DatetimeGMT.IsZero() {
		return out, fmt.Errorf("%w: datetime_gmt is null", ErrMalformedRow)
	}
	if out.GenerationMW, err = parseNumber(row[cols["generation_mw"]]); err != nil {
		return out, fmt.Errorf("%w: generation_mw: %v", ErrMalformedRow, err)
	}
	if i, ok := cols["installedcapacity_mwp"]; ok {
		if out.InstalledCapacityMW, err = parseNumber(row[i]); err != nil {
			return out, fmt.Errorf("%w: installedcapacity_mwp: %v", ErrMalformedRow, err)
		}
	}
	if i, ok := cols["capacity_mwp"]; ok {
		if out.CapacityMW, err = parseNumber(row[i]); err != nil {
			return out, fmt.Errorf("%w: capacity_mwp: %v", ErrMalformedRow, err)
		}
	}
	if i, ok := cols["updated_gmt"]; ok {
		if out.UpdatedGMT, err = parseTime(row[i]); err != nil {
			return out, fmt.Errorf("%w: updated_gmt: %v", ErrMalformedRow, err)
		}
	}
	return out, nil
}

// parseNumber returns nil for JSON null. NaN is kept so callers can tell an
// undefined capacity from a missing one.
func parseNumber(raw json.RawMessage) (*float64, error) {
	if isNull(raw) {
		return nil, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if json.Unmarshal(raw, &s) == nil && strings.EqualFold(s, "nan") {
			return models.Float(math.NaN()), nil
		}
		return nil, err
	}
	return &v, nil
}

func parseTime(raw json.RawMessage) (time.Time, error) {
	if isNull(raw) {
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, err
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
