// Package scheduler implements the scheduled maintenance of the deferred
// subscription ledger. EventBridge rules invoke the maintenance Lambda with a
// MaintenancePayload naming the task to run.
package scheduler

import "time"

// TaskType identifies a maintenance task.
type TaskType string

const (
	// TaskSweepAbandonedClaims parks pending claims that outlived the
	// processor's redelivery window.
	TaskSweepAbandonedClaims TaskType = "sweep_abandoned_claims"

	// TaskPurgeSettledClaims deletes old created claims.
	TaskPurgeSettledClaims TaskType = "purge_settled_claims"

	// TaskPurgeRateLimits deletes expired rate limit counters.
	TaskPurgeRateLimits TaskType = "purge_rate_limits"
)

// MaintenancePayload is the JSON sent by EventBridge:
//
//	{
//	  "task": "sweep_abandoned_claims",
//	  "reference_time": "2026-03-01T03:00:00Z"  // optional
//	}
type MaintenancePayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime replaces "now" for manual runs. Nil means time.Now().UTC().
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
