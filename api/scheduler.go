/*
scheduler.go - Background jobs

PURPOSE:
  Runs the two periodic maintenance tasks on a gocron scheduler:

    low-credit scan   publishes credit.low for every balance at or below
                      the threshold of the policy in force
    ledger audit      checks balance == Σ(amount) for every account and
                      records an AuditRun (also exposed as POST /api/admin/audits)

DESIGN:
  - Jobs share the Handler so they always see the current policy
  - Singleton mode: a slow run is never overlapped by the next tick
  - Each run gets its own timeout-bound context
  - An interval of 0 leaves that job unscheduled

USAGE:
  jobs, err := NewJobs(handler, JobsConfig{LowCreditScan: 6 * time.Hour, LedgerAudit: time.Hour})
  jobs.Start()
  // ... later
  jobs.Stop()

SEE ALSO:
  - handlers.go: AuditLedger, ScanLowCredit
  - booking/service.go: NotifyLowCredit, Reconcile
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

const jobTimeout = 5 * time.Minute

// JobsConfig sets how often each job runs. Zero disables a job.
type JobsConfig struct {
	LowCreditScan time.Duration
	LedgerAudit   time.Duration
}

// Jobs owns the scheduler running the maintenance tasks.
type Jobs struct {
	Handler *Handler
	Logger  *slog.Logger

	scheduler gocron.Scheduler
}

// NewJobs registers the enabled jobs. Nothing runs until Start.
func NewJobs(h *Handler, cfg JobsConfig) (*Jobs, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	j := &Jobs{Handler: h, Logger: h.Logger, scheduler: s}

	if cfg.LowCreditScan > 0 {
		if err := j.register("low-credit-scan", cfg.LowCreditScan, j.scanLowCredit); err != nil {
			return nil, err
		}
	}
	if cfg.LedgerAudit > 0 {
		if err := j.register("ledger-audit", cfg.LedgerAudit, j.auditLedger); err != nil {
			return nil, err
		}
	}
	return j, nil
}

func (j *Jobs) register(name string, every time.Duration, fn func()) error {
	_, err := j.scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	j.Logger.Info("job scheduled", "job", name, "every", every.String())
	return nil
}

// Start begins running the registered jobs.
func (j *Jobs) Start() {
	j.scheduler.Start()
	j.Logger.Info("scheduler started", "jobs", len(j.scheduler.Jobs()))
}

// Stop waits for running jobs and shuts the scheduler down.
func (j *Jobs) Stop() error {
	err := j.scheduler.Shutdown()
	j.Logger.Info("scheduler stopped")
	return err
}

func (j *Jobs) scanLowCredit() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := j.Handler.ScanLowCredit(ctx)
	if err != nil {
		j.Logger.Error("low-credit scan failed", "error", err)
		return
	}
	j.Logger.Info("low-credit scan complete", "accounts", n)
}

func (j *Jobs) auditLedger() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	run, err := j.Handler.AuditLedger(ctx)
	if err != nil {
		j.Logger.Error("ledger audit failed", "run_id", run.ID, "error", err)
		return
	}
	level := slog.LevelInfo
	if run.Mismatches > 0 {
		level = slog.LevelError
	}
	j.Logger.Log(ctx, level, "ledger audit complete",
		"run_id", run.ID, "accounts", run.Accounts, "mismatches", run.Mismatches)
}
