package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evolab/evomon/internal/experiment"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	// StageRunStart fires when the monitor first observes a run directory.
	StageRunStart Stage = "RUN_START"
	// StageIteration fires once per newly observed trace row.
	StageIteration Stage = "ITERATION"
	// StageRollback carries the cumulative rollback count for the run.
	StageRollback Stage = "ROLLBACK"
	// StageRunDone fires when the iteration target is reached.
	StageRunDone Stage = "RUN_DONE"
)

// Event captures a single observation made by the monitor.
type Event struct {
	// SessionID identifies one monitor invocation using the 16-byte UUID form.
	SessionID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Run is the observed run directory name.
	Run string
	// Iteration is the trace row count at the time of the event.
	Iteration int
	// MaxTemp, MinClearance, Violations, Penalty, and StateID mirror the
	// latest trace row for ITERATION and RUN_DONE events.
	MaxTemp      float64
	MinClearance float64
	Violations   int
	Penalty      float64
	StateID      string
	// Trend is set on ITERATION events once enough samples exist.
	Trend experiment.Trend
	// Rollbacks is the cumulative rollback count for ROLLBACK events.
	Rollbacks int
	// Dur captures how long the run had been watched, set on RUN_DONE.
	Dur time.Duration
	// Note lets emitters attach low-volume diagnostic context.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == [16]byte{} {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Run == "" {
		return errors.New("run name is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageIteration:
		if e.Iteration <= 0 {
			return errors.New("iteration event requires a positive iteration")
		}
	case StageRollback:
		if e.Rollbacks <= 0 {
			return errors.New("rollback event requires a positive count")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// SessionUUID converts the binary session ID to uuid.UUID for repositories.
func (e Event) SessionUUID() uuid.UUID {
	return uuid.UUID(e.SessionID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
