package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// JobFunc is one scheduled unit of work.
type JobFunc func(ctx context.Context) error

// ErrJobRunning is returned by RunNow when the previous run has not finished.
var ErrJobRunning = errors.New("job already running")

type scheduledJob struct {
	name     string
	interval time.Duration
	fn       JobFunc
	running  sync.Mutex
}

// Scheduler runs registered jobs on fixed intervals outside request scope.
// A job never overlaps itself: in-process through a mutex and, when Locker is
// set, across processes through a Redis lock.
type Scheduler struct {
	Logger *logrus.Logger
	Locker *redislock.Client

	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	order   []string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewScheduler(logger *logrus.Logger, locker *redislock.Client) *Scheduler {
	return &Scheduler{
		Logger: logger,
		Locker: locker,
		jobs:   map[string]*scheduledJob{},
	}
}

// Register adds a job. It must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs == nil {
		s.jobs = map[string]*scheduledJob{}
	}
	if _, ok := s.jobs[name]; !ok {
		s.order = append(s.order, name)
	}
	s.jobs[name] = &scheduledJob{name: name, interval: interval, fn: fn}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	for _, name := range s.order {
		job := s.jobs[name]
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"field": "Scheduler",
			"jobs":  s.order,
		}).Info("scheduler started")
	}
}

// Stop cancels the loops and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	if s.Logger != nil {
		s.Logger.WithField("field", "Scheduler").Info("scheduler stopped")
	}
}

func (s *Scheduler) loop(ctx context.Context, job *scheduledJob) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()

	// Run immediately on start.
	s.tick(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, job)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, job *scheduledJob) {
	err := s.runJob(ctx, job)
	if err == nil || errors.Is(err, ErrJobRunning) || errors.Is(err, context.Canceled) {
		return
	}
	if s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"field": "Scheduler",
			"job":   job.name,
		}).Error("scheduled job failed: " + err.Error())
	}
}

// RunNow runs a registered job immediately, subject to the same overlap
// guard as scheduled runs.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.runJob(ctx, job)
}

func (s *Scheduler) runJob(ctx context.Context, job *scheduledJob) (err error) {
	if !job.running.TryLock() {
		s.skipped(job, "previous run still in progress")
		return ErrJobRunning
	}
	defer job.running.Unlock()

	if s.Locker != nil {
		lock, lockErr := s.Locker.Obtain(ctx, "scheduler:"+job.name, lockTTL(job.interval), nil)
		switch {
		case errors.Is(lockErr, redislock.ErrNotObtained):
			s.skipped(job, "held by another instance")
			return ErrJobRunning
		case lockErr != nil:
			// Redis trouble should not stop the job; the DB guards still hold.
			if s.Logger != nil {
				s.Logger.WithFields(logrus.Fields{
					"field": "Scheduler",
					"job":   job.name,
				}).Warn("running without scheduler lock: " + lockErr.Error())
			}
		default:
			defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.name, r)
		}
	}()
	return job.fn(ctx)
}

func (s *Scheduler) skipped(job *scheduledJob, why string) {
	if s.Logger == nil {
		return
	}
	s.Logger.WithFields(logrus.Fields{
		"field": "Scheduler",
		"job":   job.name,
	}).Debug("scheduled run skipped: " + why)
}

func lockTTL(interval time.Duration) time.Duration {
	if interval < time.Minute {
		return time.Minute
	}
	return interval
}
