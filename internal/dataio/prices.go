// Package dataio loads price series and signal sets from CSV and JSON
// files and writes signal sets back out.
package dataio

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfoundry/sigforge/internal/domain/series"
)

// pricePoint is the JSON wire shape for a single observation.
type pricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// LoadPrices reads a price series from a CSV or JSON file, dispatching
// on the file extension.
func LoadPrices(path, name string) (*series.TimeSeries, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadPricesCSV(path, name)
	case ".json":
		return LoadPricesJSON(path, name)
	default:
		return nil, fmt.Errorf("unsupported price file format: %s", filepath.Ext(path))
	}
}

// LoadPricesCSV reads a price series from CSV. The file needs a header
// with a timestamp column and a value column; common aliases such as
// close or price are recognized. Unparseable values become invalid
// points rather than errors.
func LoadPricesCSV(path, name string) (*series.TimeSeries, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open price file: %w", err)
	}
	defer file.Close()

	csvReader := csv.NewReader(file)
	header, err := csvReader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columnMap := mapColumns(header)
	tsIdx, ok := columnMap["timestamp"]
	if !ok {
		return nil, fmt.Errorf("CSV missing required 'timestamp' column")
	}
	valIdx, ok := columnMap["value"]
	if !ok {
		return nil, fmt.Errorf("CSV missing a value column (value, close or price)")
	}

	var (
		timestamps []time.Time
		values     []float64
		dropped    int
	)
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		if tsIdx >= len(record) || valIdx >= len(record) {
			dropped++
			continue
		}

		ts, err := ParseTimestamp(record[tsIdx])
		if err != nil {
			dropped++
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(record[valIdx]), 64)
		if err != nil {
			value = math.NaN()
		}

		timestamps = append(timestamps, ts)
		values = append(values, value)
	}
	if dropped > 0 {
		log.Warn().Str("path", path).Int("rows", dropped).Msg("dropped unparseable CSV rows")
	}

	return series.FromSamples(name, timestamps, values)
}

// LoadPricesJSON reads a price series from a JSON array of
// {"timestamp": ..., "value": ...} objects.
func LoadPricesJSON(path, name string) (*series.TimeSeries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read price file: %w", err)
	}

	var points []pricePoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, fmt.Errorf("failed to parse price JSON: %w", err)
	}

	timestamps := make([]time.Time, len(points))
	values := make([]float64, len(points))
	for i, p := range points {
		timestamps[i] = p.Timestamp
		values[i] = p.Value
	}
	return series.FromSamples(name, timestamps, values)
}

// SavePricesCSV writes a price series as timestamp,value CSV. Invalid
// points are written with an empty value cell so a round trip keeps them
// invalid.
func SavePricesCSV(path string, ts *series.TimeSeries) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create price file: %w", err)
	}
	defer file.Close()

	csvWriter := csv.NewWriter(file)
	if err := csvWriter.Write([]string{"timestamp", "value"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for i := 0; i < ts.Len(); i++ {
		p := ts.At(i)
		value := ""
		if p.Valid {
			value = strconv.FormatFloat(p.Value, 'f', -1, 64)
		}
		if err := csvWriter.Write([]string{p.Timestamp.UTC().Format(time.RFC3339), value}); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// mapColumns maps normalized header names to column indices.
func mapColumns(header []string) map[string]int {
	columnMap := make(map[string]int)
	for i, column := range header {
		normalized := normalizeColumnName(column)
		if _, taken := columnMap[normalized]; !taken {
			columnMap[normalized] = i
		}
	}
	return columnMap
}

// normalizeColumnName converts common column name variants to canonical
// names.
func normalizeColumnName(column string) string {
	switch strings.ToLower(strings.TrimSpace(column)) {
	case "ts", "time", "date", "datetime", "timestamp", "timestamp_utc":
		return "timestamp"
	case "value", "close", "price", "last", "mid", "close_price":
		return "value"
	case "strength", "score", "confidence":
		return "strength"
	case "type", "side", "direction", "signal", "signal_type":
		return "type"
	case "method", "strategy":
		return "method"
	case "source", "origin", "provider":
		return "source"
	default:
		return strings.ToLower(strings.TrimSpace(column))
	}
}

// ParseTimestamp parses a timestamp in RFC3339, common date layouts, or
// unix seconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
