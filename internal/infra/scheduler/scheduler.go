package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"gym-membership/internal/infra/logging"
	"gym-membership/internal/infra/metrics"
	red "gym-membership/internal/infra/redis"
)

// Job is one unit of scheduled work.
type Job interface {
	RunOnce(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context) error

func (f JobFunc) RunOnce(ctx context.Context) error { return f(ctx) }

// Scheduler runs registered jobs on cron schedules. A run that is still going
// when its next tick fires is skipped. With a Locker configured, a run is
// skipped unless this replica wins the job's lease.
type Scheduler struct {
	cron    *cron.Cron
	locker  red.Locker
	lockTTL time.Duration
	log     zerolog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler constructs a scheduler. locker may be nil for single-replica
// deployments. lockTTL bounds both the lease and each run's context.
func NewScheduler(locker red.Locker, lockTTL time.Duration, logger *zerolog.Logger) *Scheduler {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	l := logger.With().Str("component", "Scheduler").Logger()
	cl := cronLogger{log: l}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
			cron.WithLogger(cl),
		),
		locker:  locker,
		lockTTL: lockTTL,
		log:     l,
		ctx:     context.Background(),
	}
}

// Register adds job under name with a standard five-field cron spec.
func (s *Scheduler) Register(name, spec string, job Job) error {
	if _, err := s.cron.AddFunc(spec, func() { _ = s.Run(s.baseContext(), name, job) }); err != nil {
		return fmt.Errorf("register job %s (%q): %w", name, spec, err)
	}
	s.log.Info().Str("job", name).Str("spec", spec).Msg("job registered")
	return nil
}

// Start begins firing jobs. parentCtx is the parent of every run's context;
// calling Start more than once has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(parentCtx)
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop halts new runs, cancels the ones in flight and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	stopped := s.cron.Stop()
	cancel()
	<-stopped.Done()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Run executes job once under the job's lease, with metrics and logging.
// It is exported so that operators and tests can trigger a job directly.
func (s *Scheduler) Run(ctx context.Context, name string, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, s.lockTTL)
	defer cancel()
	ctx = logging.WithTrigger(ctx, name)
	log := logging.With(ctx, &s.log)

	if s.locker != nil {
		key := "lock:job:" + name
		token, ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
		if err != nil {
			metrics.IncJobRun(name, "error")
			log.Error().Err(err).Msg("job lease failed")
			return err
		}
		if !ok {
			metrics.IncJobRun(name, "skipped")
			log.Debug().Msg("job lease held elsewhere; skipping")
			return nil
		}
		defer func() {
			if err := s.locker.Unlock(context.Background(), key, token); err != nil {
				log.Warn().Err(err).Msg("job lease release failed")
			}
		}()
	}

	start := time.Now()
	err := job.RunOnce(ctx)
	metrics.ObserveJobDuration(name, time.Since(start).Seconds())
	if err != nil {
		metrics.IncJobRun(name, "error")
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("job failed")
		return err
	}
	metrics.IncJobRun(name, "ok")
	log.Debug().Dur("took", time.Since(start)).Msg("job finished")
	return nil
}

// cronLogger routes cron's internal logging through zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
