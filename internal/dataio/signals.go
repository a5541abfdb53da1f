package dataio

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/quantfoundry/sigforge/internal/domain/signal"
)

// LoadSignals reads a signal set from a CSV or JSON file, dispatching on
// the file extension.
func LoadSignals(path string) (signal.Set, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadSignalsCSV(path)
	case ".json":
		return LoadSignalsJSON(path)
	default:
		return nil, fmt.Errorf("unsupported signal file format: %s", filepath.Ext(path))
	}
}

// LoadSignalsCSV reads signals from CSV. The file needs a header with
// timestamp and type columns; strength, method and source are optional.
// An empty strength cell stays absent rather than defaulting to a value.
func LoadSignalsCSV(path string) (signal.Set, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open signal file: %w", err)
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
	typeIdx, ok := columnMap["type"]
	if !ok {
		return nil, fmt.Errorf("CSV missing required 'type' column")
	}

	var (
		set     signal.Set
		dropped int
	)
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		s, ok := parseSignalRecord(record, columnMap, tsIdx, typeIdx)
		if !ok {
			dropped++
			continue
		}
		set = append(set, s)
	}
	if dropped > 0 {
		log.Warn().Str("path", path).Int("rows", dropped).Msg("dropped unparseable CSV rows")
	}

	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// parseSignalRecord converts one CSV row into a signal. Rows with a bad
// timestamp or strength are dropped.
func parseSignalRecord(record []string, columnMap map[string]int, tsIdx, typeIdx int) (signal.Signal, bool) {
	if tsIdx >= len(record) || typeIdx >= len(record) {
		return signal.Signal{}, false
	}

	ts, err := ParseTimestamp(record[tsIdx])
	if err != nil {
		return signal.Signal{}, false
	}

	s := signal.Signal{
		Timestamp: ts,
		Type:      signal.ParseType(record[typeIdx]),
	}
	if idx, ok := columnMap["strength"]; ok && idx < len(record) {
		cell := strings.TrimSpace(record[idx])
		if cell != "" {
			strength, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return signal.Signal{}, false
			}
			s.Strength = signal.StrengthPtr(strength)
		}
	}
	if idx, ok := columnMap["method"]; ok && idx < len(record) {
		s.Method = strings.TrimSpace(record[idx])
	}
	if idx, ok := columnMap["source"]; ok && idx < len(record) {
		s.Source = strings.TrimSpace(record[idx])
	}
	return s, true
}

// LoadSignalsJSON reads signals from a JSON array.
func LoadSignalsJSON(path string) (signal.Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signal file: %w", err)
	}

	var set signal.Set
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse signal JSON: %w", err)
	}
	for i := range set {
		set[i].Type = signal.ParseType(string(set[i].Type))
	}

	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// SaveSignalsJSON writes a signal set as indented JSON, creating parent
// directories as needed.
func SaveSignalsJSON(path string, set signal.Set) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode signals: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write signal file: %w", err)
	}
	return nil
}
