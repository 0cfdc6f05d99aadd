// Package notify publishes run-completion notifications so downstream
// tooling can react when an experiment finishes.
package notify

import (
	"context"
	"time"
)

// Completion describes a finished experiment run.
type Completion struct {
	Run               string    `json:"run"`
	Iterations        int       `json:"iterations"`
	Rollbacks         int       `json:"rollbacks"`
	FinalMaxTemp      float64   `json:"final_max_temp"`
	FinalPenalty      float64   `json:"final_penalty"`
	Trend             string    `json:"trend"`
	VisualizationPath string    `json:"visualization_path"`
	CompletedAt       time.Time `json:"completed_at"`
}

// Provider delivers completion notifications.
type Provider interface {
	NotifyCompletion(ctx context.Context, c Completion) error
	Close() error
}

// NoOp is a Provider that discards notifications.
type NoOp struct{}

// NotifyCompletion discards the notification.
func (NoOp) NotifyCompletion(context.Context, Completion) error { return nil }

// Close is a no-op.
func (NoOp) Close() error { return nil }
