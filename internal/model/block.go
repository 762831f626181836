package model

import (
	"errors"
	"fmt"
	"time"
)

// Run state constants.
const (
	StateIdle      = "idle"
	StateRunning   = "running"
	StatePaused    = "paused"
	StateCompleted = "completed"
)

// Operation type constants.
const (
	OperationAdd      = "add"
	OperationSubtract = "subtract"
)

// Operation outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Config bounds.
const (
	MinIntervalMinutes = 1
	MaxIntervalMinutes = 10
	countMultiple      = 10
)

// ErrInvalidTransition is returned when a run state transition is not allowed.
var ErrInvalidTransition = errors.New("invalid run state transition")

// validTransitions maps each run state to the set of states it may transition to.
// Completed is terminal except for a reset back to idle.
var validTransitions = map[string]map[string]bool{
	StateIdle: {
		StateRunning: true,
	},
	StateRunning: {
		StatePaused:    true,
		StateCompleted: true,
	},
	StatePaused: {
		StateRunning:   true,
		StateCompleted: true,
		StateIdle:      true,
	},
	StateCompleted: {
		StateIdle: true,
	},
}

// ValidTransition reports whether transitioning from one run state to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// BlockConfig is the user editable configuration of a block.
type BlockConfig struct {
	TotalOperations    int    `json:"total_operations" yaml:"totalOperations"`
	ServiceDurationID  string `json:"service_duration_id" yaml:"serviceDurationId"`
	BaseCount          int    `json:"base_count" yaml:"baseCount"`
	StepAmount         int    `json:"step_amount" yaml:"stepAmount"`
	OperationType      string `json:"operation_type" yaml:"operationType"`
	IntervalMinutes    int    `json:"interval_minutes" yaml:"intervalMinutes"`
	AutoStart          bool   `json:"auto_start" yaml:"autoStart"`
	ScheduledStartTime string `json:"scheduled_start_time" yaml:"scheduledStartTime"`
}

// DefaultBlockConfig returns the factory configuration used for new blocks.
func DefaultBlockConfig() BlockConfig {
	return BlockConfig{
		TotalOperations:   10,
		ServiceDurationID: Duration1h,
		BaseCount:         100,
		StepAmount:        10,
		OperationType:     OperationAdd,
		IntervalMinutes:   5,
	}
}

// RequestedCount returns the viewer count requested by the operation at the
// given 0-based index.
func (c BlockConfig) RequestedCount(index int) int {
	if c.OperationType == OperationSubtract {
		return c.BaseCount - c.StepAmount*index
	}
	return c.BaseCount + c.StepAmount*index
}

// Interval returns the tick cadence for the given minute unit.
func (c BlockConfig) Interval(unit time.Duration) time.Duration {
	return time.Duration(c.IntervalMinutes) * unit
}

// ValidationError reports a rejected configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the configuration and returns a *ValidationError for the
// first violated constraint.
func (c BlockConfig) Validate() error {
	if c.TotalOperations <= 0 {
		return &ValidationError{Field: "total_operations", Reason: "must be greater than 0"}
	}
	if _, ok := DurationMinutes(c.ServiceDurationID); !ok {
		return &ValidationError{Field: "service_duration_id", Reason: fmt.Sprintf("unknown duration %q", c.ServiceDurationID)}
	}
	if c.BaseCount <= 0 || c.BaseCount%countMultiple != 0 {
		return &ValidationError{Field: "base_count", Reason: "must be a positive multiple of 10"}
	}
	if c.StepAmount < 0 || c.StepAmount%countMultiple != 0 {
		return &ValidationError{Field: "step_amount", Reason: "must be a multiple of 10"}
	}
	switch c.OperationType {
	case OperationAdd:
	case OperationSubtract:
		if c.RequestedCount(c.TotalOperations-1) <= 0 {
			return &ValidationError{Field: "step_amount", Reason: "subtract run would request a non-positive count"}
		}
	default:
		return &ValidationError{Field: "operation_type", Reason: fmt.Sprintf("unknown operation type %q", c.OperationType)}
	}
	if c.IntervalMinutes < MinIntervalMinutes || c.IntervalMinutes > MaxIntervalMinutes {
		return &ValidationError{Field: "interval_minutes", Reason: "must be between 1 and 10"}
	}
	if c.ScheduledStartTime != "" {
		if _, err := ParseClock(c.ScheduledStartTime); err != nil {
			return &ValidationError{Field: "scheduled_start_time", Reason: "must be HH:MM"}
		}
	} else if c.AutoStart {
		return &ValidationError{Field: "scheduled_start_time", Reason: "required when auto_start is set"}
	}
	return nil
}

// OperationResult is the outcome of one tick. Only OrderStatus changes after
// the result is appended to a log.
type OperationResult struct {
	Index                  int        `json:"index"`
	Outcome                string     `json:"outcome"`
	RequestedCount         int        `json:"requested_count"`
	OrderID                string     `json:"order_id,omitempty"`
	OrderStatus            string     `json:"order_status,omitempty"`
	ServiceDurationID      string     `json:"service_duration_id"`
	ServiceDurationMinutes int        `json:"service_duration_minutes"`
	Cost                   float64    `json:"cost"`
	Error                  string     `json:"error,omitempty"`
	StartedAt              time.Time  `json:"started_at"`
	EstimatedEndAt         *time.Time `json:"estimated_end_at,omitempty"`
}

// Succeeded reports whether the operation placed an order.
func (r OperationResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Block is the persisted snapshot of one independent operation sequence.
type Block struct {
	ID                      string            `json:"id"`
	Title                   string            `json:"title"`
	Config                  BlockConfig       `json:"config"`
	LastEditedConfig        BlockConfig       `json:"last_edited_config"`
	RunState                string            `json:"run_state"`
	CurrentOperationIndex   int               `json:"current_operation_index"`
	OperationLog            []OperationResult `json:"operation_log"`
	TotalViewersAccumulated int               `json:"total_viewers_accumulated"`
	StartedAt               *time.Time        `json:"started_at,omitempty"`
	CompletedAt             *time.Time        `json:"completed_at,omitempty"`
	SavedAt                 time.Time         `json:"saved_at"`
}

// SuccessTotals returns the number of successful operations and the sum of
// their requested counts.
func (b *Block) SuccessTotals() (operations, viewers int) {
	for _, r := range b.OperationLog {
		if r.Succeeded() {
			operations++
			viewers += r.RequestedCount
		}
	}
	return operations, viewers
}

// HistoryEntry is an OperationResult recorded in the global history log.
type HistoryEntry struct {
	ID         string    `json:"id"`
	BlockID    string    `json:"block_id"`
	BlockTitle string    `json:"block_title"`
	SavedAt    time.Time `json:"saved_at"`
	OperationResult
}

// ResetRecord captures the work discarded by a block reset.
type ResetRecord struct {
	ID                     string    `json:"id"`
	BlockID                string    `json:"block_id"`
	BlockTitle             string    `json:"block_title"`
	ResetAt                time.Time `json:"reset_at"`
	OperationsLost         int       `json:"operations_lost"`
	ViewersLost            int       `json:"viewers_lost"`
	TotalOperationsAtReset int       `json:"total_operations_at_reset"`
}
