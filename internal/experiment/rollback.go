package experiment

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// RollbackEvent is one line of the rollback event log, written when the
// optimizer reverts to an earlier state. Timestamp stays a string because the
// writer emits naive ISO 8601 without a zone offset.
type RollbackEvent struct {
	Iteration     int     `json:"iteration"`
	Timestamp     string  `json:"timestamp"`
	Reason        string  `json:"reason"`
	FromState     string  `json:"from_state"`
	ToState       string  `json:"to_state"`
	PenaltyBefore float64 `json:"penalty_before"`
	PenaltyAfter  float64 `json:"penalty_after"`
}

// CountRollbacks returns the number of lines in the rollback log, which is
// the cumulative rollback count. A missing file means zero rollbacks.
func CountRollbacks(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open rollback log: %w", err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan rollback log: %w", err)
	}
	return count, nil
}

// ReadRollbacks parses every well-formed event in the rollback log. Malformed
// lines are skipped rather than failing the read: the writer may be mid-append
// on the final line.
func ReadRollbacks(path string) ([]RollbackEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open rollback log: %w", err)
	}
	defer f.Close()

	var events []RollbackEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt RollbackEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			continue
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan rollback log: %w", err)
	}
	return events, nil
}
