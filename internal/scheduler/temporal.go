package scheduler

import (
	"context"
	"strconv"
	"time"

	"go.temporal.io/sdk/client"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/ridgeline/meterbill/internal/config"
	"github.com/ridgeline/meterbill/internal/logger"
	"github.com/ridgeline/meterbill/internal/monitor"
)

const (
	tickWorkflowName = "BillingPeriodMonitorTick"
	tickScheduleID   = "billing-period-monitor-tick"
)

// TickActivities exposes the monitor tick as a single Temporal activity,
// so the workflow wraps exactly one collaborator call.
type TickActivities struct {
	monitor *monitor.Monitor
}

func NewTickActivities(m *monitor.Monitor) *TickActivities {
	return &TickActivities{monitor: m}
}

// RunTick is the one activity this deployment's workflow invokes.
func (a *TickActivities) RunTick(ctx context.Context) (monitor.Summary, error) {
	return a.monitor.Tick(ctx)
}

// TickWorkflow is the cron-scheduled workflow definition; it delegates
// the entire tick to RunTick so the tick's own cancellation and
// error-isolation semantics (owned by *monitor.Monitor) are unchanged
// by running under Temporal instead of the local ticker.
func TickWorkflow(ctx workflow.Context) (monitor.Summary, error) {
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 9 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1, // the next scheduled tick is the retry
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var activities *TickActivities
	var result monitor.Summary
	err := workflow.ExecuteActivity(ctx, activities.RunTick).Get(ctx, &result)
	return result, err
}

// TemporalScheduler runs the tick via a Temporal cron schedule instead
// of the in-process ticker, for deployments with a Temporal cluster
// available (config.Temporal.Enabled).
type TemporalScheduler struct {
	client    client.Client
	taskQueue string
	cronSpec  string
	logger    *logger.Logger
}

// NewTemporalScheduler dials the configured Temporal frontend. The
// caller is expected to also start a worker on the same task queue
// running TickWorkflow and (*TickActivities).RunTick.
func NewTemporalScheduler(cfg config.TemporalConfig, cadence time.Duration, log *logger.Logger) (*TemporalScheduler, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Address,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, err
	}
	return &TemporalScheduler{
		client:    c,
		taskQueue: cfg.TaskQueue,
		cronSpec:  cronSpecFromCadence(cadence),
		logger:    log,
	}, nil
}

// EnsureSchedule creates the cron schedule if it does not already
// exist; Temporal itself is the source of truth for "already scheduled".
func (s *TemporalScheduler) EnsureSchedule(ctx context.Context) error {
	handle := s.client.ScheduleClient().GetHandle(ctx, tickScheduleID)
	if _, err := handle.Describe(ctx); err == nil {
		return nil // already scheduled
	}

	_, err := s.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: tickScheduleID,
		Spec: client.ScheduleSpec{
			CronExpressions: []string{s.cronSpec},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        tickScheduleID + "-run",
			Workflow:  TickWorkflow,
			TaskQueue: s.taskQueue,
		},
	})
	return err
}

// NewWorker builds the worker that executes TickWorkflow and its single
// activity on this scheduler's task queue.
func (s *TemporalScheduler) NewWorker(activities *TickActivities) worker.Worker {
	w := worker.New(s.client, s.taskQueue, worker.Options{})
	w.RegisterWorkflow(TickWorkflow)
	w.RegisterActivity(activities.RunTick)
	return w
}

func (s *TemporalScheduler) Close() {
	s.client.Close()
}

// cronSpecFromCadence renders a 10-minute-default cadence as a standard
// 5-field cron expression; any other duration falls back to an
// every-N-minutes expression truncated to whole minutes (Temporal's cron
// parser has no sub-minute resolution, matching the monitor's
// clock-aligned trigger).
func cronSpecFromCadence(cadence time.Duration) string {
	minutes := int(cadence / time.Minute)
	if minutes <= 0 {
		minutes = 10
	}
	if minutes == 1 {
		return "* * * * *"
	}
	return "*/" + strconv.Itoa(minutes) + " * * * *"
}
