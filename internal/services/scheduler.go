package services

import (
	"context"
	"sync"
	"time"

	"github.com/maxaizer/microgram/internal/logger"
	"github.com/maxaizer/microgram/internal/metrics"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// Job is a unit of scheduled work. Its error is logged, never propagated.
type Job func(ctx context.Context) error

// Scheduler runs one-shot and periodic jobs next to the update loop.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger cron.Logger
}

func NewScheduler() *Scheduler {
	cronLogger := &cronLogrusAdapter{}
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger)), cron.WithLogger(cronLogger)),
		ctx:    context.Background(),
		logger: cronLogger,
	}
}

// At runs job once at the given time; times in the past run as soon as the
// scheduler is started. The entry is removed after the run.
func (s *Scheduler) At(at time.Time, name string, job Job) {
	var mu sync.Mutex
	var id cron.EntryID

	mu.Lock()
	defer mu.Unlock()

	id = s.cron.Schedule(&onceSchedule{at: at}, cron.FuncJob(func() {
		defer func() {
			mu.Lock()
			s.cron.Remove(id)
			mu.Unlock()
		}()
		s.run(name, job)
	}))
	log.Debugf("job %q scheduled at %v", name, at)
}

// Every runs job on a cron spec such as "0 9 * * *" or "@every 1h". A run
// is skipped while the previous one is still in progress.
func (s *Scheduler) Every(spec string, name string, job Job) error {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return errors.Wrapf(err, "invalid schedule %q for job %q", spec, name)
	}

	wrapped := cron.NewChain(cron.SkipIfStillRunning(s.logger)).Then(cron.FuncJob(func() {
		s.run(name, job)
	}))
	s.cron.Schedule(schedule, wrapped)
	log.Debugf("job %q scheduled with %q", name, spec)
	return nil
}

// Start begins executing jobs with ctx passed to every run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
}

// Stop cancels the context of running jobs and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// Len returns the number of scheduled entries.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) run(name string, job Job) {
	started := time.Now()
	err := job(s.jobContext())
	metrics.ObserveJob(name, time.Since(started), err)

	if err != nil {
		log.WithField(logger.ErrorTypeField, logger.ErrorTypeScheduler).
			Errorf("job %q failed: %v", name, err)
		return
	}
	log.Debugf("job %q finished in %v", name, time.Since(started))
}

// onceSchedule yields its time once. After it has been handed out and the
// time has come, it reports the zero time, which cron never runs.
type onceSchedule struct {
	at    time.Time
	armed bool
}

func (s *onceSchedule) Next(now time.Time) time.Time {
	if s.armed && !now.Before(s.at) {
		return time.Time{}
	}
	s.armed = true
	return s.at
}

type cronLogrusAdapter struct{}

func (a *cronLogrusAdapter) Info(msg string, keysAndValues ...any) {
	log.WithFields(fields(keysAndValues)).Debug("cron: " + msg)
}

func (a *cronLogrusAdapter) Error(err error, msg string, keysAndValues ...any) {
	log.WithFields(fields(keysAndValues)).
		WithField(logger.ErrorTypeField, logger.ErrorTypeScheduler).
		WithError(err).
		Error("cron: " + msg)
}

func fields(keysAndValues []any) log.Fields {
	result := log.Fields{}
	for _, pair := range lo.Chunk(keysAndValues, 2) {
		if len(pair) == 2 {
			result[cast.ToString(pair[0])] = pair[1]
		}
	}
	return result
}
