package experiment

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// Columns the monitor requires; the optimizer writes many more, which are
// carried through Extra untouched.
var requiredTraceColumns = []string{
	"max_temp",
	"min_clearance",
	"num_violations",
	"penalty_score",
	"state_id",
}

// TrendWindow is the number of recent samples used for trend classification.
const TrendWindow = 3

// TraceRecord is one iteration's summary metrics from the evolution trace.
type TraceRecord struct {
	// Index is the 1-based row position, which doubles as the iteration number.
	Index int
	// MaxTemp is the peak temperature in °C.
	MaxTemp float64
	// MinClearance is the smallest component gap in mm.
	MinClearance float64
	// NumViolations counts constraint violations for the iteration.
	NumViolations int
	// PenaltyScore is the scalar objective the optimizer minimizes.
	PenaltyScore float64
	// StateID is the optimizer's opaque state identifier.
	StateID string
	// Extra holds any additional columns keyed by header name.
	Extra map[string]string
}

// ReadTrace parses the evolution trace CSV at path. The header row must name
// every required column; extra columns are preserved in Extra. The file is
// appended to by an external process, so callers must treat any error here as
// transient (mid-write or truncated rows) and retry on the next cycle.
func ReadTrace(path string) ([]TraceRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse trace: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("trace is empty")
	}

	header := rows[0]
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	for _, col := range requiredTraceColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("trace missing column %q", col)
		}
	}

	records := make([]TraceRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := parseTraceRow(header, index, row)
		if err != nil {
			return nil, fmt.Errorf("trace row %d: %w", i+1, err)
		}
		rec.Index = i + 1
		records = append(records, rec)
	}
	return records, nil
}

func parseTraceRow(header []string, index map[string]int, row []string) (TraceRecord, error) {
	var rec TraceRecord
	var err error
	if rec.MaxTemp, err = parseFloatCell(row, index, "max_temp"); err != nil {
		return TraceRecord{}, err
	}
	if rec.MinClearance, err = parseFloatCell(row, index, "min_clearance"); err != nil {
		return TraceRecord{}, err
	}
	violations, err := parseFloatCell(row, index, "num_violations")
	if err != nil {
		return TraceRecord{}, err
	}
	rec.NumViolations = int(violations)
	if rec.PenaltyScore, err = parseFloatCell(row, index, "penalty_score"); err != nil {
		return TraceRecord{}, err
	}
	rec.StateID = row[index["state_id"]]

	required := make(map[string]bool, len(requiredTraceColumns))
	for _, col := range requiredTraceColumns {
		required[col] = true
	}
	for i, name := range header {
		if required[name] || i >= len(row) {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]string)
		}
		rec.Extra[name] = row[i]
	}
	return rec, nil
}

func parseFloatCell(row []string, index map[string]int, col string) (float64, error) {
	cell := row[index[col]]
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, fmt.Errorf("column %q: %w", col, err)
	}
	return v, nil
}

// Trend is a coarse classification of recent temperature movement.
type Trend string

// Trend classifications over the last TrendWindow samples.
const (
	TrendAscending  Trend = "ascending"
	TrendDescending Trend = "descending"
	TrendStable     Trend = "stable"
)

// ClassifyTrend compares the first and last of the most recent TrendWindow
// samples. The middle sample intentionally does not participate; this matches
// the optimizer's own progress heuristic and is not a monotonicity check.
// The second return is false when fewer than TrendWindow samples exist.
func ClassifyTrend(temps []float64) (Trend, bool) {
	if len(temps) < TrendWindow {
		return "", false
	}
	window := temps[len(temps)-TrendWindow:]
	first, last := window[0], window[len(window)-1]
	switch {
	case last < first:
		return TrendDescending, true
	case last > first:
		return TrendAscending, true
	default:
		return TrendStable, true
	}
}

// MaxTemps extracts the max_temp series from a trace.
func MaxTemps(records []TraceRecord) []float64 {
	temps := make([]float64, len(records))
	for i, rec := range records {
		temps[i] = rec.MaxTemp
	}
	return temps
}
