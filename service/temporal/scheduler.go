package temporal

import (
	"context"
	"time"
)

// Scheduler manages the reconciliation work Temporal runs for the service:
// one durable workflow per uncertain transfer, plus a periodic sweep
// schedule that catches anything left behind.
type Scheduler interface {
	// StartReconcileWorkflow starts a workflow that resolves one uncertain
	// transfer against the chain.
	StartReconcileWorkflow(ctx context.Context, transferID, signature string) error

	// UpsertSweepSchedule creates or updates the periodic sweep schedule.
	UpsertSweepSchedule(ctx context.Context, interval, minAge time.Duration) error

	// DeleteSweepSchedule deletes the periodic sweep schedule.
	DeleteSweepSchedule(ctx context.Context) error
}

// sweepScheduleID is the Temporal schedule ID for the uncertain-transfer sweep.
const sweepScheduleID = "sweep-uncertain-transfers"
