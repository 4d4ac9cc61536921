// Package types defines the wire and domain models shared across the SDK: the
// Work Items pulled from the engine, the Step Results handlers produce, and
// the Work Responses submitted back.
//
// Core Types:
//   - WorkItem: one unit of work the engine hands out on poll
//   - StepResult: a handler's normalized return value, before identity
//     fields are stamped on to become a WorkResponse
//   - WorkResponse: the wire shape submitted back to the engine in bulk
//
// Timestamps are Unix milliseconds throughout, for JSON portability and to
// match the engine's own wire format.
package types

import "time"

// SchedulingDomain is the scheduling hint a Handler declares at registration.
type SchedulingDomain string

const (
	// DomainIO runs on the ambient cooperative runtime, unbounded.
	DomainIO SchedulingDomain = "io"
	// DomainCPU runs on a bounded worker pool of configured size.
	DomainCPU SchedulingDomain = "cpu"
)

// StepStatus is the outcome status of a Step Result / Work Response.
type StepStatus string

// Step status constants, matching the engine's wire vocabulary.
const (
	StatusCompleted StepStatus = "COMPLETED"
	StatusFailed    StepStatus = "FAILED"
	StatusRunning   StepStatus = "RUNNING"
)

// StepType identifies the kind of queue a Handler serves. The core only ever
// registers and polls for WORKER steps; process/schedule steps belong to the
// engine, not the host.
const StepType = "WORKER"

// HandlerKey identifies a registered Handler by its (namespace, name) pair.
type HandlerKey struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func (k HandlerKey) String() string {
	return k.Namespace + "/" + k.Name
}

// WorkItem is one unit of work returned by a poll request.
type WorkItem struct {
	StepID          int64                  `json:"stepId"`
	ProcessID       int64                  `json:"processId"`
	StepExecutionID int64                  `json:"stepExecutionId"`
	RunCount        int32                  `json:"runCount"`
	StepNamespace   string                 `json:"stepNamespace"`
	StepName        string                 `json:"stepName"`
	StepRef         string                 `json:"stepRef,omitempty"`
	InputParam      map[string]interface{} `json:"inputParam"`
	IsOptional      bool                   `json:"isOptional"`
	Polled          bool                   `json:"polled"`
	Priority        int32                  `json:"priority"`
	Started         int64                  `json:"started"`
	Scheduled       int64                  `json:"scheduled"`
	Updated         int64                  `json:"updated"`
}

// Key returns the (namespace, name) pair this item must dispatch to.
func (w *WorkItem) Key() HandlerKey {
	return HandlerKey{Namespace: w.StepNamespace, Name: w.StepName}
}

// StepResult is the normalized result of a handler invocation, before
// identity fields from the source WorkItem are copied onto it.
type StepResult struct {
	Output              map[string]interface{}
	Status              StepStatus
	RescheduleAfterSecs int32
	StartedAt           int64
	CompletedAt         int64
}

// WorkResponse is the wire shape submitted back to the engine in bulk.
// Identity equals the source WorkItem's identity fields unchanged (§3, §8.3).
type WorkResponse struct {
	StepID              int64                  `json:"stepId"`
	ProcessID            int64                  `json:"processId"`
	StepExecutionID      int64                  `json:"stepExecutionId"`
	RunCount             int32                  `json:"runCount"`
	Output               map[string]interface{} `json:"output"`
	Status               StepStatus             `json:"status"`
	RescheduleAfterSecs  int32                  `json:"rescheduleAfterSeconds,omitempty"`
	StartedAt            int64                  `json:"startedAt"`
}

// ResponseFromWorkItem copies identity fields from item onto a fresh
// WorkResponse, as required by §4.2 step 6 and tested by §8.3.
func ResponseFromWorkItem(item *WorkItem, result StepResult) WorkResponse {
	return WorkResponse{
		StepID:              item.StepID,
		ProcessID:           item.ProcessID,
		StepExecutionID:     item.StepExecutionID,
		RunCount:            item.RunCount,
		Output:              result.Output,
		Status:              result.Status,
		RescheduleAfterSecs: result.RescheduleAfterSecs,
		StartedAt:           result.StartedAt,
	}
}

// NowMillis returns the current time as Unix epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
