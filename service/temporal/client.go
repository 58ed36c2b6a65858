package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// StartReconcileWorkflow starts a ReconcileTransferWorkflow for one
// uncertain transfer. The workflow ID is derived from the transfer ID, so a
// second start for the same transfer joins the running reconciliation
// instead of duplicating it.
func (c *Client) StartReconcileWorkflow(ctx context.Context, transferID, signature string) error {
	options := client.StartWorkflowOptions{
		ID:                    "reconcile-transfer-" + transferID,
		TaskQueue:             c.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}

	_, err := c.client.ExecuteWorkflow(ctx, options, ReconcileTransferWorkflow, ReconcileTransferInput{
		TransferID: transferID,
		Signature:  signature,
	})
	if err != nil {
		c.logger.Error("failed to start reconcile workflow",
			"transfer_id", transferID,
			"error", err,
		)
		return fmt.Errorf("failed to start reconcile workflow for %s: %w", transferID, err)
	}

	c.logger.Info("reconcile workflow started",
		"transfer_id", transferID,
		"signature", signature,
	)
	return nil
}

// UpsertSweepSchedule creates or updates the schedule that periodically
// sweeps uncertain transfers.
func (c *Client) UpsertSweepSchedule(ctx context.Context, interval, minAge time.Duration) error {
	c.logger.Debug("upserting sweep schedule",
		"schedule_id", sweepScheduleID,
		"interval", interval,
		"min_age", minAge,
	)

	scheduleSpec := client.ScheduleSpec{
		Intervals: []client.ScheduleIntervalSpec{
			{Every: interval},
		},
	}

	workflowAction := client.ScheduleWorkflowAction{
		ID:        "sweep-uncertain-transfers-run",
		Workflow:  "SweepUncertainTransfersWorkflow",
		TaskQueue: c.taskQueue,
		Args: []interface{}{SweepUncertainTransfersInput{
			MinAge: minAge,
			Limit:  100,
		}},
	}

	// Try to get existing schedule
	handle := c.client.ScheduleClient().GetHandle(ctx, sweepScheduleID)
	_, err := handle.Describe(ctx)
	if err == nil {
		// Schedule exists - update the interval
		err = handle.Update(ctx, client.ScheduleUpdateOptions{
			DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
				input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
					{Every: interval},
				}
				return &client.ScheduleUpdate{
					Schedule: &input.Description.Schedule,
				}, nil
			},
		})
		if err != nil {
			return fmt.Errorf("failed to update schedule %q: %w", sweepScheduleID, err)
		}
		c.logger.Info("sweep schedule updated", "schedule_id", sweepScheduleID, "interval", interval)
		return nil
	}

	// Schedule doesn't exist - create it
	_, err = c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID:     sweepScheduleID,
		Spec:   scheduleSpec,
		Action: &workflowAction,
		Memo: map[string]interface{}{
			"created_by": "chipin",
		},
	})
	if err != nil {
		c.logger.Error("failed to create sweep schedule",
			"schedule_id", sweepScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", sweepScheduleID, err)
	}

	c.logger.Info("sweep schedule created",
		"schedule_id", sweepScheduleID,
		"interval", interval,
	)
	return nil
}

// DeleteSweepSchedule deletes the sweep schedule.
func (c *Client) DeleteSweepSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, sweepScheduleID)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete sweep schedule",
			"schedule_id", sweepScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to delete schedule %q: %w", sweepScheduleID, err)
	}

	c.logger.Info("sweep schedule deleted", "schedule_id", sweepScheduleID)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}

var _ Scheduler = (*Client)(nil)
