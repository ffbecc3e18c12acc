package temporal

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/solforge/service/metrics"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig carries the Temporal connection settings plus the
// dependencies handed to activities.
type WorkerConfig struct {
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	Store        StoreInterface
	SolanaClient SolanaClientInterface
	Publisher    PublisherInterface
	Metrics      *metrics.Metrics // optional; nil disables recording
	Logger       *slog.Logger
}

// Worker runs the submission and reconcile workflows and their
// activities on one task queue.
type Worker struct {
	client    client.Client
	worker    worker.Worker
	taskQueue string
	logger    *slog.Logger
}

// NewWorker dials Temporal and registers the workflows and activities.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "worker")

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal at %s: %w", config.TemporalHost, err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     10,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	w.RegisterWorkflow(SubmitTransferWorkflow)
	w.RegisterWorkflow(ReconcileTransfersWorkflow)

	// Registered names must match the ExecuteActivity calls in the
	// workflows.
	activities := NewActivities(
		config.Store,
		config.SolanaClient,
		config.Publisher,
		config.Metrics,
		logger,
	)
	w.RegisterActivity(activities.BroadcastTransfer)
	w.RegisterActivity(activities.MarkTransferBroadcast)
	w.RegisterActivity(activities.ConfirmTransfer)
	w.RegisterActivity(activities.RecordTransferOutcome)
	w.RegisterActivity(activities.ListPendingTransfers)
	w.RegisterActivity(activities.CheckSignatureStatus)

	logger.Info("temporal worker ready",
		"host", config.TemporalHost,
		"namespace", config.TemporalNamespace,
		"task_queue", config.TaskQueue,
	)

	return &Worker{
		client:    c,
		worker:    w,
		taskQueue: config.TaskQueue,
		logger:    logger,
	}, nil
}

// Start runs the worker until Stop is called or the run loop fails.
// It blocks for the life of the worker.
func (w *Worker) Start() error {
	w.logger.Info("polling task queue", "task_queue", w.taskQueue)
	if err := w.worker.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("run worker: %w", err)
	}
	w.logger.Info("run loop exited")
	return nil
}

// Stop drains in-flight tasks and closes the client.
func (w *Worker) Stop() {
	w.worker.Stop()
	w.client.Close()
	w.logger.Info("worker shut down")
}
