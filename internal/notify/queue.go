package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

const (
	TypeSendNotification = "notification:send"
	queueName            = "notifications"
	defaultTaskTimeout   = 30 * time.Second
	defaultMaxRetry      = 3
)

func NewSendTask(msg Message) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, nil, err
	}

	opts := []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(defaultMaxRetry),
		asynq.Timeout(defaultTaskTimeout),
	}
	if !msg.ExpiresAt.IsZero() {
		opts = append(opts, asynq.Deadline(msg.ExpiresAt))
	}
	return asynq.NewTask(TypeSendNotification, payload), opts, nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue hands messages to a background worker. Send returns once the message
// is durably enqueued.
type Queue struct {
	client enqueuer
}

func NewQueue(client *asynq.Client) *Queue {
	return &Queue{client: client}
}

func (q *Queue) Send(ctx context.Context, msg Message) error {
	task, opts, err := NewSendTask(msg)
	if err != nil {
		return fmt.Errorf("build notification task: %w", err)
	}
	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	log.Debug().Str("task_id", info.ID).Str("notification", string(msg.Kind)).Msg("notification enqueued")
	return nil
}

// Worker drains the notification queue into a delivering Notifier.
type Worker struct {
	server   *asynq.Server
	delivery Notifier
}

func NewWorker(opt asynq.RedisConnOpt, delivery Notifier, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName: 1},
	})
	return &Worker{server: server, delivery: delivery}
}

func (w *Worker) Handler() asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var msg Message
		if err := json.Unmarshal(task.Payload(), &msg); err != nil {
			return fmt.Errorf("decode notification: %v: %w", err, asynq.SkipRetry)
		}
		if !msg.ExpiresAt.IsZero() && time.Now().After(msg.ExpiresAt) {
			log.Warn().Str("notification", string(msg.Kind)).Msg("dropping expired notification")
			return nil
		}
		return w.delivery.Send(ctx, msg)
	}
}

func (w *Worker) Start() error {
	mux := asynq.NewServeMux()
	mux.Handle(TypeSendNotification, w.Handler())
	if err := w.server.Start(mux); err != nil {
		return fmt.Errorf("start notification worker: %w", err)
	}
	log.Info().Msg("notification worker started")
	return nil
}

func (w *Worker) Stop() {
	w.server.Shutdown()
	log.Info().Msg("notification worker stopped")
}
