package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is the production Scheduler and TransferSubmitter, backed by a
// Temporal server connection.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient dials Temporal. The task queue is baked in so callers start
// workflows without carrying queue config around.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal at %s: %w", host, err)
	}

	logger.Info("connected to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	return &Client{client: c, taskQueue: taskQueue, logger: logger}, nil
}

// SubmitTransfer starts the durable submission workflow for a signed
// transfer and returns the workflow ID. It does not wait for the
// workflow to complete. The workflow ID is derived from the transfer ID,
// so a transfer that is already submitting collides here.
func (c *Client) SubmitTransfer(ctx context.Context, input SubmitTransferInput) (string, error) {
	id := submitWorkflowID(input.TransferID)

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        id,
		TaskQueue: c.taskQueue,
	}, "SubmitTransferWorkflow", input)
	if err != nil {
		return "", fmt.Errorf("start submit workflow %q: %w", id, err)
	}

	c.logger.Info("submit workflow started",
		"transfer_id", input.TransferID,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)

	return run.GetID(), nil
}

// CreateReconcileSchedule creates the schedule that triggers
// ReconcileTransfersWorkflow on the given interval. If the schedule
// already exists its interval is retuned instead; creation is safe to
// run on every worker start.
func (c *Client) CreateReconcileSchedule(ctx context.Context, interval time.Duration) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, reconcileScheduleID)
	if _, err := handle.Describe(ctx); err == nil {
		err := handle.Update(ctx, client.ScheduleUpdateOptions{
			DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
				input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
					{Every: interval},
				}
				return &client.ScheduleUpdate{Schedule: &input.Description.Schedule}, nil
			},
		})
		if err != nil {
			return fmt.Errorf("update schedule %q: %w", reconcileScheduleID, err)
		}

		c.logger.Info("reconcile schedule updated",
			"schedule_id", reconcileScheduleID,
			"interval", interval,
		)
		return nil
	}

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: reconcileScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "reconcile-transfers",
			Workflow:  "ReconcileTransfersWorkflow",
			TaskQueue: c.taskQueue,
			Args:      []interface{}{ReconcileTransfersInput{}},
		},
		Memo: map[string]interface{}{
			"created_by": "solforge",
		},
	})
	if err != nil {
		return fmt.Errorf("create schedule %q: %w", reconcileScheduleID, err)
	}

	c.logger.Info("reconcile schedule created",
		"schedule_id", reconcileScheduleID,
		"interval", interval,
	)
	return nil
}

// DeleteReconcileSchedule removes the reconciliation schedule, stopping
// the pending-transfer sweep.
func (c *Client) DeleteReconcileSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, reconcileScheduleID)
	if err := handle.Delete(ctx); err != nil {
		return fmt.Errorf("delete schedule %q: %w", reconcileScheduleID, err)
	}

	c.logger.Info("reconcile schedule deleted", "schedule_id", reconcileScheduleID)
	return nil
}

// Close closes the Temporal connection.
func (c *Client) Close() {
	c.client.Close()
}

// temporalLogger adapts slog to the Temporal SDK's logger interface.
type temporalLogger struct {
	l *slog.Logger
}

func newTemporalLogger(l *slog.Logger) temporalLogger {
	return temporalLogger{l: l}
}

func (t temporalLogger) Debug(msg string, keyvals ...interface{}) { t.l.Debug(msg, keyvals...) }
func (t temporalLogger) Info(msg string, keyvals ...interface{})  { t.l.Info(msg, keyvals...) }
func (t temporalLogger) Warn(msg string, keyvals ...interface{})  { t.l.Warn(msg, keyvals...) }
func (t temporalLogger) Error(msg string, keyvals ...interface{}) { t.l.Error(msg, keyvals...) }
