package api

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/evolab/evomon/internal/experiment"
	"github.com/evolab/evomon/internal/store"
)

const (
	defaultRunLimit   = 50
	maxRunLimit       = 500
	defaultTraceLimit = 200
	maxTraceLimit     = 5000
	observedTimeout   = 3 * time.Second
)

// RunsHandler serves run artifacts from the experiments directory and,
// when available, observed-run history from the trace repository.
type RunsHandler struct {
	baseDir string
	prefix  string
	repo    store.TraceRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunsHandler wires the experiments directory and optional repository.
func NewRunsHandler(baseDir, prefix string, repo store.TraceRepository, logger *zap.Logger) *RunsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunsHandler{
		baseDir: baseDir,
		prefix:  prefix,
		repo:    repo,
		timeout: observedTimeout,
		logger:  logger,
	}
}

// Ready reports whether the experiments directory can be read. A missing
// directory is still ready: runs simply have not started yet.
func (h *RunsHandler) Ready() bool {
	_, err := os.Stat(h.baseDir)
	return err == nil || errors.Is(err, fs.ErrNotExist)
}

// ListRuns handles GET /v1/runs. It returns every run directory with its
// on-disk size and visualization status, newest first.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, _ *http.Request) {
	infos, err := experiment.ListRuns(h.baseDir, h.prefix)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]runInfoDTO, 0, len(infos))
	for i := len(infos) - 1; i >= 0; i-- {
		info := infos[i]
		out = append(out, runInfoDTO{
			Name:              info.Name,
			Path:              info.Path,
			SizeBytes:         info.SizeBytes,
			HasVisualizations: info.HasVisualizations,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out, "total": len(out)})
}

// LatestRun handles GET /v1/runs/latest. It summarizes the newest run's
// trace and rollback log, or answers 404 before the first run appears.
func (h *RunsHandler) LatestRun(w http.ResponseWriter, _ *http.Request) {
	run, err := experiment.FindLatestRun(h.baseDir, h.prefix)
	if err != nil {
		if errors.Is(err, experiment.ErrNoRuns) {
			writeError(w, http.StatusNotFound, "no runs found")
			return
		}
		h.logger.Error("find latest run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to find latest run")
		return
	}

	summary := experiment.Summary{}
	records, err := experiment.ReadTrace(run.TracePath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// No trace yet; serve an empty summary.
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, "trace unreadable: "+err.Error())
		return
	default:
		summary = experiment.Summarize(records)
	}

	rollbacks, err := experiment.CountRollbacks(run.RollbackPath())
	if err != nil {
		h.logger.Warn("count rollbacks failed", zap.String("run", run.Name), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, latestRunDTO{
		Name:            run.Name,
		Path:            run.Path,
		Iterations:      summary.Iterations,
		FinalMaxTemp:    summary.FinalMaxTemp,
		FinalPenalty:    summary.FinalPenalty,
		BestPenalty:     summary.BestPenalty,
		BestIteration:   summary.BestIteration,
		TotalViolations: summary.TotalViolations,
		Trend:           string(summary.Trend),
		Rollbacks:       rollbacks,
	})
}

// GetTrace handles GET /v1/runs/{run_name}/trace?limit=&offset=. A run whose
// trace has not been written yet yields an empty record list.
func (h *RunsHandler) GetTrace(w http.ResponseWriter, r *http.Request) {
	run, ok := h.resolveRun(w, r)
	if !ok {
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultTraceLimit, maxTraceLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := experiment.ReadTrace(run.TracePath())
	switch {
	case errors.Is(err, fs.ErrNotExist):
		records = nil
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, "trace unreadable: "+err.Error())
		return
	}

	total := len(records)
	records = page(records, limit, offset)
	out := make([]traceRecordDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, traceRecordDTO{
			Iteration:    rec.Index,
			MaxTemp:      rec.MaxTemp,
			MinClearance: rec.MinClearance,
			Violations:   rec.NumViolations,
			Penalty:      rec.PenaltyScore,
			StateID:      rec.StateID,
			Extra:        rec.Extra,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":     run.Name,
		"records": out,
		"total":   total,
	})
}

// GetRollbacks handles GET /v1/runs/{run_name}/rollbacks.
func (h *RunsHandler) GetRollbacks(w http.ResponseWriter, r *http.Request) {
	run, ok := h.resolveRun(w, r)
	if !ok {
		return
	}
	events, err := experiment.ReadRollbacks(run.RollbackPath())
	if err != nil {
		h.logger.Error("read rollbacks failed", zap.String("run", run.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read rollbacks")
		return
	}
	out := make([]rollbackDTO, 0, len(events))
	for _, evt := range events {
		out = append(out, rollbackDTO{
			Iteration:     evt.Iteration,
			Timestamp:     evt.Timestamp,
			Reason:        evt.Reason,
			FromState:     evt.FromState,
			ToState:       evt.ToState,
			PenaltyBefore: evt.PenaltyBefore,
			PenaltyAfter:  evt.PenaltyAfter,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":    run.Name,
		"events": out,
		"total":  len(out),
	})
}

// ListObserved handles GET /v1/observed?limit=&offset= against the trace
// repository. It answers 503 when no database is configured.
func (h *RunsHandler) ListObserved(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "trace repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	recs, err := h.repo.ListRuns(ctx, limit, offset)
	if err != nil {
		h.logger.Error("list observed runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list observed runs")
		return
	}
	out := make([]observedRunDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toObservedDTO(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// GetObserved handles GET /v1/observed/{run_name}.
func (h *RunsHandler) GetObserved(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "trace repository unavailable")
		return
	}
	name, err := h.runName(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rec, err := h.repo.GetRun(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get observed run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load observed run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toObservedDTO(rec)})
}

// resolveRun validates the run_name URL parameter and checks the run
// directory exists. It writes an error response and returns false when not.
func (h *RunsHandler) resolveRun(w http.ResponseWriter, r *http.Request) (experiment.Run, bool) {
	name, err := h.runName(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return experiment.Run{}, false
	}
	run := experiment.NewRun(h.baseDir, name)
	if _, err := os.Stat(run.Path); err != nil {
		writeError(w, http.StatusNotFound, "run not found")
		return experiment.Run{}, false
	}
	return run, true
}

func (h *RunsHandler) runName(r *http.Request) (string, error) {
	name := chi.URLParam(r, "run_name")
	if name == "" {
		return "", errors.New("run_name is required")
	}
	if !strings.HasPrefix(name, h.prefix) || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", errors.New("invalid run_name")
	}
	return name, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func page(records []experiment.TraceRecord, limit, offset int) []experiment.TraceRecord {
	if offset >= len(records) {
		return nil
	}
	records = records[offset:]
	if limit < len(records) {
		records = records[:limit]
	}
	return records
}

func toObservedDTO(rec store.RunRecord) observedRunDTO {
	dto := observedRunDTO{
		SessionID:   rec.SessionID.String(),
		Name:        rec.Name,
		FirstSeenAt: rec.FirstSeenAt,
		Status:      string(rec.Status),
		Iterations:  rec.Iterations,
		Rollbacks:   rec.Rollbacks,
	}
	if rec.CompletedAt != nil {
		dto.CompletedAt = rec.CompletedAt
	}
	return dto
}

type runInfoDTO struct {
	Name              string `json:"name"`
	Path              string `json:"path"`
	SizeBytes         int64  `json:"size_bytes"`
	HasVisualizations bool   `json:"has_visualizations"`
}

type latestRunDTO struct {
	Name            string  `json:"name"`
	Path            string  `json:"path"`
	Iterations      int     `json:"iterations"`
	FinalMaxTemp    float64 `json:"final_max_temp"`
	FinalPenalty    float64 `json:"final_penalty"`
	BestPenalty     float64 `json:"best_penalty"`
	BestIteration   int     `json:"best_iteration"`
	TotalViolations int     `json:"total_violations"`
	Trend           string  `json:"trend"`
	Rollbacks       int     `json:"rollbacks"`
}

type traceRecordDTO struct {
	Iteration    int     `json:"iteration"`
	MaxTemp      float64 `json:"max_temp"`
	MinClearance float64 `json:"min_clearance"`
	Violations   int     `json:"num_violations"`
	Penalty      float64 `json:"penalty_score"`
	StateID      string  `json:"state_id"`
	// Extra carries any trace columns beyond the required set, verbatim.
	Extra map[string]string `json:"extra,omitempty"`
}

type rollbackDTO struct {
	Iteration     int     `json:"iteration"`
	Timestamp     string  `json:"timestamp"`
	Reason        string  `json:"reason"`
	FromState     string  `json:"from_state"`
	ToState       string  `json:"to_state"`
	PenaltyBefore float64 `json:"penalty_before"`
	PenaltyAfter  float64 `json:"penalty_after"`
}

type observedRunDTO struct {
	SessionID   string     `json:"session_id"`
	Name        string     `json:"name"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      string     `json:"status"`
	Iterations  int        `json:"iterations"`
	Rollbacks   int        `json:"rollbacks"`
}
