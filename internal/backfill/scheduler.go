package backfill

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler triggers backfill runs on a cron schedule and on demand
type Scheduler struct {
	job     *Job
	cron    *cron.Cron
	trigger chan struct{}
	logger  zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler builds a scheduler for job. An empty spec disables the
// periodic schedule; Notify still triggers runs.
func NewScheduler(job *Job, spec string, logger zerolog.Logger) (*Scheduler, error) {
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		job:     job,
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		trigger: make(chan struct{}, 1),
		logger:  logger,
	}
	if spec != "" {
		if _, err := s.cron.AddFunc(spec, s.Notify); err != nil {
			return nil, fmt.Errorf("invalid backfill schedule %q: %w", spec, err)
		}
	}
	return s, nil
}

// Notify requests a run. It never blocks; requests made while one is
// already pending collapse into it.
func (s *Scheduler) Notify() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Start begins the schedule and the run loop. Runs stop when ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx)
	s.cron.Start()
	s.logger.Info().Int("entries", len(s.cron.Entries())).Msg("backfill scheduler started")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
			stats, err := s.job.Run(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error().Err(err).Msg("backfill run failed")
				}
				continue
			}
			if stats.AlreadyRunning {
				s.logger.Debug().Msg("backfill already running, trigger dropped")
			}
		}
	}
}

// Stop halts the schedule and waits for an in-flight run to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	<-s.cron.Stop().Done()
	cancel()
	s.wg.Wait()
	s.logger.Info().Msg("backfill scheduler stopped")
}

// cronLogger routes cron's logging through zerolog
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
