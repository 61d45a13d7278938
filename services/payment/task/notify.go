package task

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TypeVerificationDecided = "payment:verification_decided"

// VerificationDecidedPayload carries what the notifier needs without a
// database round trip.
type VerificationDecidedPayload struct {
	VerificationID string    `json:"verification_id"`
	TicketID       string    `json:"ticket_id"`
	Outcome        string    `json:"outcome"`
	Notes          string    `json:"notes,omitempty"`
	DecidedAt      time.Time `json:"decided_at"`
}

func NewVerificationDecidedTask(p VerificationDecidedPayload) (*asynq.Task, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeVerificationDecided, raw), nil
}

// HandleVerificationDecided fans the decision out to the student. The
// notification channel itself (mail, push) lives outside this service;
// here the event is logged in a shape the delivery pipeline consumes.
func HandleVerificationDecided() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload VerificationDecidedPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return err
		}

		zap.L().Info("payment verification decided",
			zap.String("verification_id", payload.VerificationID),
			zap.String("ticket_id", payload.TicketID),
			zap.String("outcome", payload.Outcome),
			zap.Time("decided_at", payload.DecidedAt),
		)

		return nil
	}
}
