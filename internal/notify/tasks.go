package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const TypeNotifyPatient = "notify:patient"

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Queues is the weighted queue set for the notification worker.
var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

func queueFor(k Kind) string {
	switch k {
	case KindTriageCritical, KindQueueCalled:
		return QueueCritical
	case KindReminder:
		return QueueLow
	default:
		return QueueDefault
	}
}

func NewNotifyTask(n Notification) (*asynq.Task, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	return asynq.NewTask(TypeNotifyPatient, payload,
		asynq.Queue(queueFor(n.Kind)),
		asynq.MaxRetry(5),
		asynq.Timeout(30*time.Second),
	), nil
}

// Enqueuer is the part of *asynq.Client the dispatcher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EnqueueTimeout bounds how long a transition waits on the broker.
const EnqueueTimeout = 2 * time.Second

// AsynqDispatcher turns notifications into asynq tasks.
type AsynqDispatcher struct {
	client  Enqueuer
	logger  zerolog.Logger
	timeout time.Duration
}

func NewAsynqDispatcher(client Enqueuer, logger zerolog.Logger) *AsynqDispatcher {
	return &AsynqDispatcher{
		client:  client,
		logger:  logger.With().Str("component", "notify").Logger(),
		timeout: EnqueueTimeout,
	}
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, n Notification) {
	task, err := NewNotifyTask(n)
	if err != nil {
		d.logger.Error().Err(err).Str("kind", string(n.Kind)).Msg("failed to build notification task")
		return
	}

	// the caller's transition is already committed; its cancellation must not drop the task
	enqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	info, err := d.client.EnqueueContext(enqCtx, task)
	if err != nil {
		d.logger.Error().Err(err).
			Str("kind", string(n.Kind)).
			Str("patient_id", n.PatientID.String()).
			Msg("failed to enqueue notification")
		return
	}
	d.logger.Debug().Str("task_id", info.ID).Str("queue", info.Queue).Msg("notification enqueued")
}
