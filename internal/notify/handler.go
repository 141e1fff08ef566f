package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Sender delivers a notification over a concrete channel (SMS, email, push).
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// LogSender writes notifications to the log instead of delivering them.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) Send(_ context.Context, n Notification) error {
	s.Logger.Info().
		Str("kind", string(n.Kind)).
		Str("patient_id", n.PatientID.String()).
		Interface("data", n.Data).
		Msg(n.Message)
	return nil
}

type Handler struct {
	sender Sender
	logger zerolog.Logger
}

func NewHandler(sender Sender, logger zerolog.Logger) *Handler {
	return &Handler{sender: sender, logger: logger}
}

func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeNotifyPatient, h.HandleNotify)
}

func (h *Handler) HandleNotify(ctx context.Context, t *asynq.Task) error {
	var n Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		// a malformed payload will never succeed
		return fmt.Errorf("decode notification: %v: %w", err, asynq.SkipRetry)
	}

	if err := h.sender.Send(ctx, n); err != nil {
		h.logger.Warn().Err(err).Str("kind", string(n.Kind)).Msg("notification delivery failed")
		return fmt.Errorf("send %s: %w", n.Kind, err)
	}
	return nil
}
