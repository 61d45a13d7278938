package payment

import (
	"context"
	"strings"
	"time"

	"unievents-checkin/pkg/db/option"
	"unievents-checkin/pkg/errutil"
	"unievents-checkin/pkg/repository"
	"unievents-checkin/pkg/task"
	"unievents-checkin/services/event"
	"unievents-checkin/services/partner"
	paymenttask "unievents-checkin/services/payment/task"
	"unievents-checkin/services/ticket"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	events   *event.Service
	tickets  *ticket.Service
	partners *partner.Service
	enqueuer task.Enqueuer

	verifications repository.Repository[PaymentVerification]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Events   *event.Service
	Tickets  *ticket.Service
	Partners *partner.Service
	Enqueuer task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:            p.DB,
		node:          p.Node,
		events:        p.Events,
		tickets:       p.Tickets,
		partners:      p.Partners,
		enqueuer:      p.Enqueuer,
		verifications: repository.ProvideStore[PaymentVerification](p.DB),
	}
}

// CheckSubmittable reports whether a receipt may be submitted for the
// ticket right now. Handlers call it before uploading image bytes so a
// refused submission leaves no orphan object behind.
func (s *Service) CheckSubmittable(ctx context.Context, ticketID string) (*ticket.Ticket, error) {
	t, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status != ticket.StatusPending {
		return nil, errutil.Conflict("invalid transition: only a pending ticket can submit a receipt", nil)
	}

	open, err := s.verifications.FindOne(ctx, &PaymentVerification{TicketID: ticketID, Status: VerificationPending})
	if err != nil {
		return nil, errutil.Internal("failed to query verifications", err)
	}
	if open != nil {
		return nil, errutil.Conflict("a verification is already pending for this ticket", nil)
	}
	return t, nil
}

// SubmitReceipt opens a PENDING verification for a PENDING ticket. All
// validation happens before any state mutation.
func (s *Service) SubmitReceipt(ctx context.Context, ticketID, receiptImageURL string) (*PaymentVerification, error) {
	if strings.TrimSpace(receiptImageURL) == "" {
		return nil, errutil.ValidationFailed("receipt image is required", nil)
	}

	t, err := s.CheckSubmittable(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	v := &PaymentVerification{
		ID:              s.node.Generate().String(),
		TicketID:        ticketID,
		EventID:         t.EventID,
		ReceiptImageURL: receiptImageURL,
		Status:          VerificationPending,
	}
	if err := s.verifications.Create(ctx, v); err != nil {
		return nil, errutil.Internal("failed to create verification", err)
	}

	zap.L().Info("receipt submitted",
		zap.String("verification_id", v.ID),
		zap.String("ticket_id", ticketID),
	)

	return v, nil
}

func (s *Service) Get(ctx context.Context, verificationID string) (*PaymentVerification, error) {
	v, err := s.verifications.FindOne(ctx, &PaymentVerification{ID: verificationID})
	if err != nil {
		return nil, errutil.Internal("failed to query verification", err)
	}
	if v == nil {
		return nil, errutil.NotFound("verification not found", nil)
	}
	return v, nil
}

// ListPending is the organizer's review queue, oldest first, optionally
// scoped to one event.
func (s *Service) ListPending(ctx context.Context, eventID string) ([]*PaymentVerification, error) {
	query := &PaymentVerification{Status: VerificationPending, EventID: eventID}
	rows, err := s.verifications.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc", Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to list verifications", err)
	}
	return rows, nil
}

// Decide settles a PENDING verification. Approval marks the ticket paid
// and books the partner's revenue split in the same transaction, using the
// commission rate snapshotted on the ticket at purchase time. Rejection
// requires a reason and leaves the ticket PENDING for resubmission.
func (s *Service) Decide(ctx context.Context, verificationID, outcome, notes string) (*PaymentVerification, error) {
	if outcome != OutcomeApproved && outcome != OutcomeRejected {
		return nil, errutil.BadRequest("outcome must be APPROVED or REJECTED", nil)
	}
	if outcome == OutcomeRejected && strings.TrimSpace(notes) == "" {
		return nil, errutil.ValidationFailed("a rejection reason is required", nil)
	}

	v, err := s.Get(ctx, verificationID)
	if err != nil {
		return nil, err
	}
	if v.Status != VerificationPending {
		return nil, errutil.Conflict("invalid transition: verification already decided", nil)
	}

	now := time.Now().UTC()
	status := VerificationApproved
	if outcome == OutcomeRejected {
		status = VerificationRejected
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// Guarded update doubles as the idempotency gate under concurrent
		// decisions: only one caller moves the row out of PENDING.
		res := tx.WithContext(ctx).Model(&PaymentVerification{}).
			Where("id = ? AND status = ?", verificationID, VerificationPending).
			Updates(map[string]any{
				"status":          status,
				"organizer_notes": notes,
				"decided_at":      now,
			})
		if res.Error != nil {
			return errutil.Internal("failed to update verification", res.Error)
		}
		if res.RowsAffected == 0 {
			return errutil.Conflict("invalid transition: verification already decided", nil)
		}

		if outcome == OutcomeRejected {
			return nil
		}

		t, err := s.tickets.MarkPaidTx(ctx, tx, v.TicketID)
		if err != nil {
			return err
		}

		ev, err := s.events.Get(ctx, t.EventID)
		if err != nil {
			return err
		}
		if ev.IsExternalEvent {
			return s.partners.RecordApprovalTx(ctx, tx, ev.OrganizerID, t.Price, t.CommissionRate)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	v.Status = status
	v.OrganizerNotes = notes
	v.DecidedAt = &now

	s.notifyDecision(ctx, v)

	return v, nil
}

func (s *Service) notifyDecision(ctx context.Context, v *PaymentVerification) {
	if s.enqueuer == nil {
		return
	}

	t, err := paymenttask.NewVerificationDecidedTask(paymenttask.VerificationDecidedPayload{
		VerificationID: v.ID,
		TicketID:       v.TicketID,
		Outcome:        v.Status,
		Notes:          v.OrganizerNotes,
		DecidedAt:      *v.DecidedAt,
	})
	if err != nil {
		zap.L().Warn("failed to build decision task", zap.Error(err))
		return
	}

	if _, err := s.enqueuer.Enqueue(ctx, t); err != nil {
		// The decision is committed either way; notification is best effort.
		zap.L().Warn("failed to enqueue decision task", zap.Error(err))
	}
}
