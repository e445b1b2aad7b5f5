package model

import "github.com/google/uuid"

// RunStatus is the lifecycle state of a run. Transitions are monotonic
// toward a terminal state except paused -> running.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCatching  RunStatus = "catching"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// StepStatus is the lifecycle state of one step instance.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSkipped   StepStatus = "skipped"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// Satisfied reports whether the status unblocks dependents: succeeded steps
// publish outputs, skipped steps publish nothing but do not block.
func (s StepStatus) Satisfied() bool {
	return s == StepSucceeded || s == StepSkipped
}

// Run is one execution of a flow. Timestamps are epoch milliseconds.
type Run struct {
	ID        uuid.UUID        `json:"id"`
	FlowName  string           `json:"flow_name"`
	Event     map[string]any   `json:"event"`
	Vars      map[string]any   `json:"vars"`
	Status    RunStatus        `json:"status"`
	StartedAt int64            `json:"started_at"`
	EndedAt   *int64           `json:"ended_at,omitempty"`
	Outputs   map[string]any   `json:"outputs,omitempty"`
	Steps     []*StepExecution `json:"steps,omitempty"`
}

// StepExecution records one step instance within a run. Foreach children
// produce one record per iteration, so StepName carries the instance key
// rather than the source id.
type StepExecution struct {
	ID        uuid.UUID      `json:"id"`
	RunID     uuid.UUID      `json:"run_id"`
	StepName  string         `json:"step_name"`
	Status    StepStatus     `json:"status"`
	StartedAt int64          `json:"started_at"`
	EndedAt   *int64         `json:"ended_at,omitempty"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// WaitKind distinguishes the two suspension causes.
type WaitKind string

const (
	WaitEvent WaitKind = "event"
	WaitTimer WaitKind = "timer"
)

// PausedRun is the serialized continuation of a suspended run: plain data,
// no closures. Resumption re-traverses the flow; instance keys recorded in
// Done are not re-executed.
type PausedRun struct {
	RunID    uuid.UUID             `json:"run_id"`
	FlowName string                `json:"flow_name"`
	Flow     *Flow                 `json:"flow"`
	Token    string                `json:"token"`
	Kind     WaitKind              `json:"kind"`
	StepKey  string                `json:"step_key"`
	Source   string                `json:"source,omitempty"`
	Match    map[string]any        `json:"match,omitempty"`
	WakeAt   int64                 `json:"wake_at,omitempty"`
	Event    map[string]any        `json:"event"`
	Vars     map[string]any        `json:"vars"`
	Outputs  map[string]any        `json:"outputs"`
	Done     map[string]StepStatus `json:"done"`
}

// Wait is a registered wake-up: resume the paused run holding Token once
// WakeAt (epoch ms) has passed. Event waits register one only when a
// timeout is set.
type Wait struct {
	Token  string `json:"token"`
	WakeAt int64  `json:"wake_at"`
}

// FlowVersion is an immutable snapshot of a saved flow document.
type FlowVersion struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Content   []byte `json:"content"`
	CreatedAt int64  `json:"created_at"`
}
