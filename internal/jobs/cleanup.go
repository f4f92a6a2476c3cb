package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// SecurityCleaner prunes durable security records.
type SecurityCleaner interface {
	DeleteExpiredSessions(ctx context.Context) (int64, error)
	DeleteStaleAttempts(ctx context.Context) (int64, error)
}

type cleanupTask struct {
	name string
	fn   func(context.Context) (int64, error)
}

type CleanupJob struct {
	tasks    []cleanupTask
	interval time.Duration
	timeout  time.Duration
	done     chan struct{}
}

func NewCleanupJob(security SecurityCleaner, interval time.Duration) *CleanupJob {
	job := &CleanupJob{
		interval: interval,
		timeout:  30 * time.Second,
		done:     make(chan struct{}),
	}
	if security != nil {
		job.AddTask("expired user sessions", security.DeleteExpiredSessions)
		job.AddTask("stale failed login attempts", security.DeleteStaleAttempts)
	}
	return job
}

// AddTask registers an extra pruning step. Call before Start.
func (j *CleanupJob) AddTask(name string, fn func(context.Context) (int64, error)) {
	j.tasks = append(j.tasks, cleanupTask{name: name, fn: fn})
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Int("tasks", len(j.tasks)).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	for _, task := range j.tasks {
		j.runCleanup(ctx, task.name, task.fn)
	}
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
