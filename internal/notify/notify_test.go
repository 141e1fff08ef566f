package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err    error
	ctx    context.Context
	ctxErr error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.ctx = ctx
	f.ctxErr = ctx.Err()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: uuid.NewString(), Queue: QueueDefault, Type: task.Type()}, nil
}

type failingSender struct{}

func (failingSender) Send(context.Context, Notification) error {
	return errors.New("sms gateway unavailable")
}

func sample(kind Kind) Notification {
	return Notification{
		Kind:          kind,
		PatientID:     uuid.New(),
		AppointmentID: uuid.New(),
		Message:       "Your appointment is confirmed",
		CreatedAt:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestAsynqDispatcher_EnqueuesTask(t *testing.T) {
	client := &fakeEnqueuer{}
	d := NewAsynqDispatcher(client, zerolog.Nop())

	n := sample(KindBookingConfirmed)
	d.Dispatch(context.Background(), n)

	require.Len(t, client.tasks, 1)
	assert.Equal(t, TypeNotifyPatient, client.tasks[0].Type())

	var got Notification
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &got))
	assert.Equal(t, n.PatientID, got.PatientID)
	assert.Equal(t, n.Kind, got.Kind)
}

func TestAsynqDispatcher_SwallowsEnqueueFailure(t *testing.T) {
	client := &fakeEnqueuer{err: errors.New("redis down")}
	d := NewAsynqDispatcher(client, zerolog.Nop())

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), sample(KindReminder))
	})
	assert.Empty(t, client.tasks)
}

func TestAsynqDispatcher_DetachesFromCallerContext(t *testing.T) {
	client := &fakeEnqueuer{}
	d := NewAsynqDispatcher(client, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Dispatch(ctx, sample(KindCancelled))

	require.Len(t, client.tasks, 1)
	require.NotNil(t, client.ctx)
	assert.NoError(t, client.ctxErr)
	deadline, ok := client.ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(EnqueueTimeout), deadline, time.Second)
}

func TestQueueFor(t *testing.T) {
	assert.Equal(t, QueueCritical, queueFor(KindTriageCritical))
	assert.Equal(t, QueueCritical, queueFor(KindQueueCalled))
	assert.Equal(t, QueueLow, queueFor(KindReminder))
	assert.Equal(t, QueueDefault, queueFor(KindCancelled))
}

func TestHandler_HandleNotify(t *testing.T) {
	task, err := NewNotifyTask(sample(KindQueueCalled))
	require.NoError(t, err)

	ok := NewHandler(LogSender{Logger: zerolog.Nop()}, zerolog.Nop())
	assert.NoError(t, ok.HandleNotify(context.Background(), task))

	failing := NewHandler(failingSender{}, zerolog.Nop())
	err = failing.HandleNotify(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	bad := asynq.NewTask(TypeNotifyPatient, []byte("{not json"))
	err = ok.HandleNotify(context.Background(), bad)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Dispatch(context.Background(), sample(KindBookingConfirmed))
	r.Dispatch(context.Background(), sample(KindCancelled))

	assert.Equal(t, []Kind{KindBookingConfirmed, KindCancelled}, r.Kinds())
	assert.Len(t, r.Sent(), 2)
}
