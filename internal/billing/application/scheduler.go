package application

import (
	"context"
	"time"

	"rental-billing/internal/platform/logger"
)

type scheduledJob struct {
	name    string
	dailyAt string
	run     func(ctx context.Context) error
	// lastRun is the UTC date ("2006-01-02") of the last trigger.
	lastRun string
}

// Scheduler triggers billing jobs once a day at their configured UTC time.
// Jobs run one after another on the scheduler goroutine, so runs never overlap.
type Scheduler struct {
	jobs []*scheduledJob
	log  *logger.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{log: log}
}

// Add registers a job. An empty dailyAt leaves the job unscheduled.
func (s *Scheduler) Add(name, dailyAt string, run func(ctx context.Context) error) {
	if dailyAt == "" || run == nil {
		return
	}
	s.jobs = append(s.jobs, &scheduledJob{name: name, dailyAt: dailyAt, run: run})
}

// ScheduleInvoice registers the invoice runner.
func (s *Scheduler) ScheduleInvoice(runner *InvoiceRunner, dailyAt string) {
	if runner == nil {
		return
	}
	s.Add(jobInvoice, dailyAt, func(ctx context.Context) error {
		_, err := runner.Run(ctx)
		return err
	})
}

// ScheduleReconcile registers the reconciler.
func (s *Scheduler) ScheduleReconcile(reconciler *Reconciler, dailyAt string) {
	if reconciler == nil {
		return
	}
	s.Add(jobReconcile, dailyAt, func(ctx context.Context) error {
		_, err := reconciler.Reconcile(ctx)
		return err
	})
}

// Start begins the scheduler loop. A job fires on the first tick at or after
// its daily time, so a long run of an earlier job delays later jobs instead of
// skipping them. Slots already passed when Start is called wait for the next day.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || len(s.jobs) == 0 {
		return
	}
	s.markPassed(time.Now().UTC())
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx, time.Now().UTC())
		}
	}
}

func (s *Scheduler) markPassed(now time.Time) {
	for _, job := range s.jobs {
		if shouldRun(job.dailyAt, job.lastRun, now) {
			job.lastRun = dateKey(now)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	for _, job := range s.jobs {
		if !shouldRun(job.dailyAt, job.lastRun, now) {
			continue
		}
		job.lastRun = dateKey(now)
		s.log.Info("schedule_job_start", "job", job.name, "daily_at", job.dailyAt)
		if err := job.run(ctx); err != nil {
			s.log.Error("schedule_job_error", "job", job.name, "error", err.Error())
		}
	}
}

// shouldRun reports whether today's slot for dailyAt has passed and the job
// has not been triggered yet today.
func shouldRun(dailyAt, lastRun string, now time.Time) bool {
	hour, minute, err := parseDailyAt(dailyAt)
	if err != nil {
		return false
	}
	if lastRun == dateKey(now) {
		return false
	}
	slot := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	return !now.Before(slot)
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}
