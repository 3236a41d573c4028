// Package scheduler runs the gateway's periodic jobs on gocron v2.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"usdtgate/internal/shared/logger"
)

// BatchJob is one scheduled batch pass, returning how many items it handled.
type BatchJob interface {
	Execute(ctx context.Context) (int, error)
}

const (
	sweepInterval   = 1 * time.Second
	retryInterval   = 3 * time.Second
	janitorInterval = 60 * time.Second

	jobTimeout = 30 * time.Second
)

// Manager owns the single gocron scheduler instance.
type Manager struct {
	scheduler gocron.Scheduler
	log       logger.Interface

	started   bool
	startedMu sync.Mutex
}

func NewManager(log logger.Interface) (*Manager, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}
	return &Manager{scheduler: scheduler, log: log.Named("scheduler")}, nil
}

// RegisterJobs wires the three maintenance loops: the timeout sweeper, the
// callback retry scan and the pool janitor.
func (m *Manager) RegisterJobs(sweeper, retrier, janitor BatchJob) error {
	jobs := []struct {
		name     string
		interval time.Duration
		job      BatchJob
	}{
		{"order-timeout-sweeper", sweepInterval, sweeper},
		{"callback-retrier", retryInterval, retrier},
		{"pool-janitor", janitorInterval, janitor},
	}

	for _, j := range jobs {
		j := j
		_, err := m.scheduler.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func() {
				ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
				defer cancel()
				m.runJob(ctx, j.name, j.job)
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithName(j.name),
		)
		if err != nil {
			return err
		}
		m.log.Infow("registered job", "name", j.name, "interval", j.interval)
	}
	return nil
}

func (m *Manager) runJob(ctx context.Context, name string, job BatchJob) {
	count, err := job.Execute(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.log.Errorw("job failed", "name", name, "error", err)
		return
	}
	if count > 0 {
		m.log.Debugw("job processed items", "name", name, "count", count)
	}
}

// Start starts the scheduler.
func (m *Manager) Start() {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()
	if m.started {
		return
	}
	m.scheduler.Start()
	m.started = true
	m.log.Infow("scheduler started", "job_count", len(m.scheduler.Jobs()))
}

// Stop shuts the scheduler down and waits for running jobs.
func (m *Manager) Stop() error {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()
	if !m.started {
		return nil
	}
	err := m.scheduler.Shutdown()
	m.started = false
	if err != nil {
		m.log.Errorw("scheduler shutdown with error", "error", err)
		return err
	}
	m.log.Infow("scheduler stopped")
	return nil
}
