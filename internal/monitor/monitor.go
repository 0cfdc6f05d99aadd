// Package monitor implements the experiment-progress polling loop: a pure
// step function over the filesystem plus a thin imperative driver.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evolab/evomon/internal/experiment"
	"github.com/evolab/evomon/internal/progress"
)

// Config controls run discovery and the polling loop.
type Config struct {
	// BaseDir is the directory holding run_* subdirectories.
	BaseDir string
	// RunPrefix selects run directories by name prefix.
	RunPrefix string
	// PollInterval is the sleep between cycles.
	PollInterval time.Duration
	// TargetIterations ends the loop once the trace reaches this row count.
	TargetIterations int
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Cursor is the only state carried between polling cycles: the last observed
// trace row count. It is threaded explicitly through Step, never stored in a
// package-level variable.
type Cursor struct {
	LastIteration int
}

// Report describes what one polling cycle observed.
type Report struct {
	// Waiting is true when no run directory exists yet.
	Waiting bool
	// Run is the latest run directory (zero when Waiting).
	Run experiment.Run
	// NewIteration is true when the trace grew past the cursor.
	NewIteration bool
	// Iterations is the trace row count after this cycle.
	Iterations int
	// Latest is the newest trace row, set when NewIteration.
	Latest experiment.TraceRecord
	// RecentTemps holds the last trend-window max_temp samples, newest last.
	RecentTemps []float64
	// Trend is set when enough samples exist to classify.
	Trend experiment.Trend
	// Rollbacks is the cumulative rollback count; reported whenever nonzero.
	Rollbacks int
	// Completed is true once Iterations reached the target.
	Completed bool
	// VisualizationPath is the expected plot location, reported on completion
	// without checking that it exists.
	VisualizationPath string
	// TraceWarning and RollbackWarning carry truncated per-file read failures.
	// Either may be set while the cycle still succeeds.
	TraceWarning    string
	RollbackWarning string
}

// Monitor drives the polling loop and publishes observations.
type Monitor struct {
	cfg     Config
	session [16]byte
	emitter progress.Emitter
	clock   Clock
	out     io.Writer
	logger  *zap.Logger
}

// New constructs a Monitor. out receives the human-readable progress text;
// emitter may be nil when no sinks are wired.
func New(cfg Config, emitter progress.Emitter, clock Clock, out io.Writer, logger *zap.Logger) *Monitor {
	if cfg.RunPrefix == "" {
		cfg.RunPrefix = "run_"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.TargetIterations <= 0 {
		cfg.TargetIterations = 10
	}
	if emitter == nil {
		emitter = progress.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:     cfg,
		session: progress.UUIDToBytes(uuid.New()),
		emitter: emitter,
		clock:   clock,
		out:     out,
		logger:  logger,
	}
}

// Step performs one polling cycle: re-resolve the latest run, re-read both
// log files, and report what changed relative to cur. It never returns an
// error; per-file failures surface as warnings inside the Report so the loop
// keeps using the last known good cursor.
func Step(cfg Config, cur Cursor) (Cursor, Report) {
	run, err := experiment.FindLatestRun(cfg.BaseDir, cfg.RunPrefix)
	if err != nil {
		// Missing-run is "not yet started", any other failure is retried too.
		return cur, Report{Waiting: true}
	}

	rep := Report{Run: run, Iterations: cur.LastIteration}

	records, err := experiment.ReadTrace(run.TracePath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Trace not written yet; nothing to report this cycle.
	case err != nil:
		rep.TraceWarning = truncateMessage(err.Error())
	default:
		if len(records) > cur.LastIteration {
			rep.NewIteration = true
			rep.Latest = records[len(records)-1]
			cur.LastIteration = len(records)
			if temps := experiment.MaxTemps(records); len(temps) >= experiment.TrendWindow {
				rep.RecentTemps = temps[len(temps)-experiment.TrendWindow:]
				if trend, ok := experiment.ClassifyTrend(temps); ok {
					rep.Trend = trend
				}
			}
		}
		rep.Iterations = cur.LastIteration
	}

	count, err := experiment.CountRollbacks(run.RollbackPath())
	if err != nil {
		rep.RollbackWarning = truncateMessage(err.Error())
	} else {
		// Cumulative count, re-reported every cycle while nonzero.
		rep.Rollbacks = count
	}

	if cur.LastIteration >= cfg.TargetIterations {
		rep.Completed = true
		rep.VisualizationPath = run.VisualizationPath()
	}
	return cur, rep
}

// Run polls until the iteration target is reached or ctx is canceled. It
// never returns a non-zero-worthy error: the monitor is observational and
// must not crash the process it watches.
func (m *Monitor) Run(ctx context.Context) error {
	fmt.Fprintln(m.out, strings.Repeat("=", 80))
	fmt.Fprintln(m.out, "Long-sequence experiment monitor")
	fmt.Fprintln(m.out, strings.Repeat("=", 80))

	cur := Cursor{}
	var watching string
	var firstSeen time.Time

	for {
		next, rep := Step(m.cfg, cur)

		if rep.Waiting {
			fmt.Fprintln(m.out, "Waiting for experiment to start...")
		} else {
			if rep.Run.Name != watching {
				watching = rep.Run.Name
				firstSeen = m.clock.Now()
				m.emitter.Emit(progress.Event{
					SessionID: m.session,
					TS:        firstSeen,
					Stage:     progress.StageRunStart,
					Run:       watching,
				})
			}
			m.render(rep)
			m.emitCycle(rep)
		}
		cur = next

		if rep.Completed {
			m.emitter.Emit(progress.Event{
				SessionID: m.session,
				TS:        m.clock.Now(),
				Stage:     progress.StageRunDone,
				Run:       rep.Run.Name,
				Iteration: rep.Iterations,
				MaxTemp:   rep.Latest.MaxTemp,
				Penalty:   rep.Latest.PenaltyScore,
				Dur:       m.clock.Now().Sub(firstSeen),
			})
			return nil
		}

		select {
		case <-ctx.Done():
			fmt.Fprintln(m.out, "\nMonitor stopped")
			return nil
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

func (m *Monitor) render(rep Report) {
	fmt.Fprintf(m.out, "\rRun directory: %s", rep.Run.Name)

	if rep.TraceWarning != "" {
		fmt.Fprintf(m.out, "\n  warning: reading trace failed: %s\n", rep.TraceWarning)
		m.logger.Warn("trace read failed", zap.String("run", rep.Run.Name), zap.String("error", rep.TraceWarning))
	}
	if rep.RollbackWarning != "" {
		m.logger.Warn("rollback read failed", zap.String("run", rep.Run.Name), zap.String("error", rep.RollbackWarning))
	}

	if rep.NewIteration {
		fmt.Fprintf(m.out, "\n\n%s\n", strings.Repeat("=", 80))
		fmt.Fprintf(m.out, "Iteration %d/%d complete\n", rep.Iterations, m.cfg.TargetIterations)
		fmt.Fprintln(m.out, strings.Repeat("=", 80))
		fmt.Fprintf(m.out, "  Max temperature: %.2f °C\n", rep.Latest.MaxTemp)
		fmt.Fprintf(m.out, "  Min clearance:   %.2f mm\n", rep.Latest.MinClearance)
		fmt.Fprintf(m.out, "  Violations:      %d\n", rep.Latest.NumViolations)
		fmt.Fprintf(m.out, "  Penalty score:   %.2f\n", rep.Latest.PenaltyScore)
		fmt.Fprintf(m.out, "  State ID:        %s\n", rep.Latest.StateID)

		if len(rep.RecentTemps) > 0 {
			parts := make([]string, len(rep.RecentTemps))
			for i, tmp := range rep.RecentTemps {
				parts[i] = fmt.Sprintf("%.1f°C", tmp)
			}
			fmt.Fprintf(m.out, "\n  Last %d temperatures: %s\n", len(parts), strings.Join(parts, " -> "))
			switch rep.Trend {
			case experiment.TrendDescending:
				fmt.Fprintln(m.out, "  Temperature trend: descending")
			case experiment.TrendAscending:
				fmt.Fprintln(m.out, "  Temperature trend: ascending")
			case experiment.TrendStable:
				fmt.Fprintln(m.out, "  Temperature trend: stable")
			}
		}
	}

	if rep.Rollbacks > 0 {
		fmt.Fprintf(m.out, "  Rollbacks: %d\n", rep.Rollbacks)
	}

	if rep.Completed {
		fmt.Fprintf(m.out, "\n\n%s\n", strings.Repeat("=", 80))
		fmt.Fprintln(m.out, "Experiment complete")
		fmt.Fprintln(m.out, strings.Repeat("=", 80))
		fmt.Fprintf(m.out, "\nRun directory: %s\n", rep.Run.Path)
		fmt.Fprintf(m.out, "Visualization: %s\n", rep.VisualizationPath)
	}
}

func (m *Monitor) emitCycle(rep Report) {
	now := m.clock.Now()
	if rep.NewIteration {
		m.emitter.Emit(progress.Event{
			SessionID:    m.session,
			TS:           now,
			Stage:        progress.StageIteration,
			Run:          rep.Run.Name,
			Iteration:    rep.Iterations,
			MaxTemp:      rep.Latest.MaxTemp,
			MinClearance: rep.Latest.MinClearance,
			Violations:   rep.Latest.NumViolations,
			Penalty:      rep.Latest.PenaltyScore,
			StateID:      rep.Latest.StateID,
			Trend:        rep.Trend,
		})
	}
	if rep.Rollbacks > 0 {
		m.emitter.Emit(progress.Event{
			SessionID: m.session,
			TS:        now,
			Stage:     progress.StageRollback,
			Run:       rep.Run.Name,
			Rollbacks: rep.Rollbacks,
		})
	}
}

const maxWarningLen = 120

func truncateMessage(msg string) string {
	if len(msg) <= maxWarningLen {
		return msg
	}
	return msg[:maxWarningLen] + "..."
}
