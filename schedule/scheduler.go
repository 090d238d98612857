package schedule

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/hogarapp/finsync/core"
	"github.com/robfig/cron/v3"
)

// Scheduler drives periodic syncs. Each cadence runs on its own cron
// expression and only picks up connections configured for that frequency.
// A cadence that is still running when its next tick fires is skipped.
type Scheduler struct {
	Syncer core.Syncer
	Logger core.Logger

	cron    *cron.Cron
	running [3]atomic.Bool
}

type cadence struct {
	index     int
	frequency core.SyncFrequency
	spec      string
}

func NewScheduler(syncer core.Syncer, cfg core.ScheduleConfig, logger core.Logger) (*Scheduler, error) {
	if syncer == nil {
		return nil, fmt.Errorf("schedule: syncer is required")
	}

	scheduler := &Scheduler{
		Syncer: syncer,
		Logger: logger,
		cron:   cron.New(),
	}

	cadences := []cadence{
		{index: 0, frequency: core.SyncFrequencyDaily, spec: cfg.Daily},
		{index: 1, frequency: core.SyncFrequencyWeekly, spec: cfg.Weekly},
		{index: 2, frequency: core.SyncFrequencyMonthly, spec: cfg.Monthly},
	}
	for _, entry := range cadences {
		if entry.spec == "" {
			continue
		}
		entry := entry
		if _, err := scheduler.cron.AddFunc(entry.spec, func() {
			scheduler.runCadence(entry)
		}); err != nil {
			return nil, fmt.Errorf("schedule: invalid %s expression %q: %w", entry.frequency, entry.spec, err)
		}
	}
	return scheduler, nil
}

func (s *Scheduler) Start() {
	if s == nil || s.cron == nil {
		return
	}
	s.cron.Start()
	s.logInfo("scheduler started")
}

// Stop halts the cron loop and waits for in-flight runs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil || s.cron == nil {
		return nil
	}
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.logInfo("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunCadence triggers one cadence immediately, outside its cron schedule.
// Used by operational tooling; overlap rules still apply.
func (s *Scheduler) RunCadence(ctx context.Context, frequency core.SyncFrequency) ([]core.SyncOutcome, error) {
	if s == nil || s.Syncer == nil {
		return nil, fmt.Errorf("schedule: scheduler is not initialized")
	}
	if err := frequency.Validate(); err != nil {
		return nil, err
	}
	index := cadenceIndex(frequency)
	if !s.running[index].CompareAndSwap(false, true) {
		return nil, core.NewConflictError(fmt.Sprintf("schedule: %s cadence already running", frequency))
	}
	defer s.running[index].Store(false)
	return s.Syncer.SyncAll(ctx, frequency)
}

func (s *Scheduler) runCadence(entry cadence) {
	if !s.running[entry.index].CompareAndSwap(false, true) {
		s.logInfo("cadence still running, skipping tick", "frequency", string(entry.frequency))
		return
	}
	defer s.running[entry.index].Store(false)

	outcomes, err := s.Syncer.SyncAll(context.Background(), entry.frequency)
	if err != nil {
		s.logError("cadence run failed", err, "frequency", string(entry.frequency))
		return
	}

	created, updated, failed := 0, 0, 0
	for _, outcome := range outcomes {
		created += outcome.Created
		updated += outcome.Updated
		if outcome.Err != nil {
			failed++
		}
	}
	s.logInfo("cadence run finished",
		"frequency", string(entry.frequency),
		"connections", len(outcomes),
		"created", created,
		"updated", updated,
		"failed", failed,
	)
}

func cadenceIndex(frequency core.SyncFrequency) int {
	switch frequency {
	case core.SyncFrequencyWeekly:
		return 1
	case core.SyncFrequencyMonthly:
		return 2
	default:
		return 0
	}
}

func (s *Scheduler) logInfo(msg string, args ...any) {
	if s == nil || s.Logger == nil {
		return
	}
	s.Logger.Info(msg, args...)
}

func (s *Scheduler) logError(msg string, err error, args ...any) {
	if s == nil || s.Logger == nil {
		return
	}
	fields := append([]any{"error", err}, args...)
	s.Logger.Error(msg, fields...)
}
