// Package scheduler enqueues the periodic sweeps. Every replica runs the
// tickers but only the holder of the leader lease publishes tasks.
package scheduler

import (
	"context"
	"sync"
	"time"

	"ai-influencer/pkg/config"
	"ai-influencer/pkg/lock"
	"ai-influencer/pkg/logger"
	"ai-influencer/pkg/queue"
)

const LeaderKey = "scheduler:leader"

type Job struct {
	Name     string
	Interval time.Duration
	Task     queue.TaskType
}

// JobsFromConfig returns the sweeps enabled by cfg. The stale sweep only
// runs when a staleness threshold is set.
func JobsFromConfig(cfg *config.Config) []Job {
	jobs := []Job{
		{Name: "queue-scan", Interval: cfg.QueueScanInterval, Task: queue.TaskProcessQueue},
		{Name: "retry-failed", Interval: cfg.RetryInterval, Task: queue.TaskRetryFailed},
	}
	if cfg.StalePostingAfter > 0 {
		jobs = append(jobs, Job{Name: "reconcile-stale", Interval: cfg.StaleSweepInterval, Task: queue.TaskReconcileStale})
	}
	return jobs
}

type Scheduler struct {
	locker    *lock.Locker
	publisher queue.Publisher
	jobs      []Job
	logger    *logger.Logger

	mu    sync.Mutex
	lease *lock.Lease
}

func New(locker *lock.Locker, publisher queue.Publisher, log *logger.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		locker:    locker,
		publisher: publisher,
		jobs:      jobs,
		logger:    log,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Warn("[SCHEDULER] Job %s has no interval, not scheduling", job.Name)
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	s.logger.Info("[SCHEDULER] Started %d job(s)", len(s.jobs))

	wg.Wait()
	s.resign()
	s.logger.Info("[SCHEDULER] Stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx, job); err != nil {
				s.logger.Error("[SCHEDULER] %s: %v", job.Name, err)
			}
		}
	}
}

// Tick enqueues job's task if this instance is the leader. It reports
// whether a task was published.
func (s *Scheduler) Tick(ctx context.Context, job Job) (bool, error) {
	leader, err := s.ensureLeader(ctx)
	if err != nil || !leader {
		return false, err
	}

	task := queue.Task{Type: job.Task, CreatedAt: time.Now().UTC()}
	if err := s.publisher.PublishTask(ctx, task); err != nil {
		return false, err
	}
	s.logger.Debug("[SCHEDULER] Enqueued %s", job.Task)
	return true, nil
}

func (s *Scheduler) ensureLeader(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lease != nil && s.lease.Held() {
		return true, nil
	}
	if s.lease != nil {
		s.logger.Warn("[SCHEDULER] Lost leadership")
		s.lease = nil
	}

	lease, ok, err := s.locker.TryAcquire(ctx, LeaderKey)
	if err != nil || !ok {
		return false, err
	}
	s.lease = lease
	s.logger.Info("[SCHEDULER] Acquired leadership")
	return true, nil
}

// resign hands leadership back so another replica can take over at once.
func (s *Scheduler) resign() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.lease.Release(ctx); err != nil {
		s.logger.Warn("[SCHEDULER] Releasing leadership: %v", err)
	}
	s.lease = nil
}
