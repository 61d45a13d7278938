package ticket

import (
	"context"
	"errors"
	"time"

	"unievents-checkin/pkg/config"
	"unievents-checkin/pkg/errutil"
	"unievents-checkin/pkg/repository"
	"unievents-checkin/services/event"
	"unievents-checkin/services/partner"
	"unievents-checkin/services/token"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	codec     *token.Codec
	ticketTTL time.Duration

	events   *event.Service
	partners *partner.Service

	tickets       repository.Repository[Ticket]
	registrations repository.Repository[Registration]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Codec    *token.Codec
	Cfg      *config.Config
	Events   *event.Service
	Partners *partner.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:            p.DB,
		node:          p.Node,
		codec:         p.Codec,
		ticketTTL:     p.Cfg.Token.TicketTTL,
		events:        p.Events,
		partners:      p.Partners,
		tickets:       repository.ProvideStore[Ticket](p.DB),
		registrations: repository.ProvideStore[Registration](p.DB),
	}
}

func (s *Service) GetTicket(ctx context.Context, ticketID string) (*Ticket, error) {
	t, err := s.tickets.FindOne(ctx, &Ticket{ID: ticketID})
	if err != nil {
		return nil, errutil.Internal("failed to query ticket", err)
	}
	if t == nil {
		return nil, errutil.NotFound("ticket not found", nil)
	}
	return t, nil
}

// CreateTicket records a purchase intent for a paid event. The ticket is
// PENDING until an automated payment callback or a manual verification
// approval marks it paid.
func (s *Service) CreateTicket(ctx context.Context, eventID, userID string) (*Ticket, error) {
	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !ev.IsPaid {
		return nil, errutil.BadRequest("event is free, register instead of purchasing a ticket", nil)
	}

	var rate float64
	if ev.IsExternalEvent {
		if rate, err = s.partners.CommissionRate(ctx, ev.OrganizerID); err != nil {
			return nil, err
		}
	}

	code, err := GenerateTicketCode()
	if err != nil {
		return nil, errutil.Internal("failed to generate ticket code", err)
	}

	t := &Ticket{
		ID:             s.node.Generate().String(),
		EventID:        ev.ID,
		UserID:         userID,
		Price:          ev.Price,
		Status:         StatusPending,
		TicketCode:     code,
		CommissionRate: rate,
	}
	if err := s.tickets.Create(ctx, t); err != nil {
		return nil, errutil.Internal("failed to create ticket", err)
	}

	return t, nil
}

// MarkPaid transitions a ticket PENDING -> PAID. Safe to call concurrently
// from the automated payment callback and a manual approval: the second
// caller sees the no-op success path. A REFUNDED ticket never comes back.
func (s *Service) MarkPaid(ctx context.Context, ticketID string) (*Ticket, error) {
	var out *Ticket
	err := s.db.Transaction(func(tx *gorm.DB) error {
		t, err := s.MarkPaidTx(ctx, tx, ticketID)
		if err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkPaidTx is MarkPaid inside the caller's transaction, for callers that
// pair the transition with other writes (partner bookkeeping).
func (s *Service) MarkPaidTx(ctx context.Context, tx *gorm.DB, ticketID string) (*Ticket, error) {
	res := tx.WithContext(ctx).Model(&Ticket{}).
		Where("id = ? AND status = ?", ticketID, StatusPending).
		Updates(map[string]any{"status": StatusPaid, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, errutil.Internal("failed to update ticket status", res.Error)
	}

	t, err := s.tickets.WithTrx(tx).FindOne(ctx, &Ticket{ID: ticketID})
	if err != nil {
		return nil, errutil.Internal("failed to query ticket", err)
	}
	if t == nil {
		return nil, errutil.NotFound("ticket not found", nil)
	}

	if res.RowsAffected == 0 {
		switch t.Status {
		case StatusPaid:
			// Idempotent no-op: someone else already flipped it.
			return t, nil
		case StatusRefunded:
			return nil, errutil.Conflict("invalid transition: ticket is refunded", nil)
		default:
			return nil, errutil.Conflict("invalid transition", nil)
		}
	}

	zap.L().Info("ticket marked paid", zap.String("ticket_id", t.ID), zap.String("event_id", t.EventID))
	return t, nil
}

// Refund transitions PAID -> REFUNDED, the only other legal transition.
func (s *Service) Refund(ctx context.Context, ticketID string) (*Ticket, error) {
	res := s.db.WithContext(ctx).Model(&Ticket{}).
		Where("id = ? AND status = ?", ticketID, StatusPaid).
		Updates(map[string]any{"status": StatusRefunded, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, errutil.Internal("failed to update ticket status", res.Error)
	}

	t, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, errutil.Conflict("invalid transition: only a paid ticket can be refunded", nil)
	}
	return t, nil
}

// IsEligibleForEvent reports whether the user may check in: a PAID ticket
// for paid events, an active registration for free events.
func (s *Service) IsEligibleForEvent(ctx context.Context, userID, eventID string) (bool, error) {
	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return false, err
	}

	if ev.IsPaid {
		count, err := s.tickets.Count(ctx, &Ticket{EventID: eventID, UserID: userID, Status: StatusPaid})
		if err != nil {
			return false, errutil.Internal("failed to count paid tickets", err)
		}
		return count > 0, nil
	}

	count, err := s.registrations.Count(ctx, &Registration{EventID: eventID, UserID: userID, Status: RegistrationRegistered})
	if err != nil {
		return false, errutil.Internal("failed to count registrations", err)
	}
	return count > 0, nil
}

// CountPaidTickets is the eligibility basis for paid-event statistics.
func (s *Service) CountPaidTickets(ctx context.Context, eventID string) (int64, error) {
	count, err := s.tickets.Count(ctx, &Ticket{EventID: eventID, Status: StatusPaid})
	if err != nil {
		return 0, errutil.Internal("failed to count paid tickets", err)
	}
	return count, nil
}

// CountActiveRegistrations is the eligibility basis for free-event
// statistics.
func (s *Service) CountActiveRegistrations(ctx context.Context, eventID string) (int64, error) {
	count, err := s.registrations.Count(ctx, &Registration{EventID: eventID, Status: RegistrationRegistered})
	if err != nil {
		return 0, errutil.Internal("failed to count registrations", err)
	}
	return count, nil
}

// Register signs a user up for a free event.
func (s *Service) Register(ctx context.Context, eventID, userID string) (*Registration, error) {
	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev.IsPaid {
		return nil, errutil.BadRequest("paid event requires a ticket purchase", nil)
	}

	existing, err := s.registrations.FindOne(ctx, &Registration{EventID: eventID, UserID: userID})
	if err != nil {
		return nil, errutil.Internal("failed to query registration", err)
	}
	if existing != nil {
		if existing.Status == RegistrationRegistered {
			return nil, errutil.Conflict("already registered for this event", nil)
		}
		updates := map[string]any{"status": RegistrationRegistered, "updated_at": time.Now()}
		if err := s.registrations.Update(ctx, existing.ID, &updates); err != nil {
			return nil, errutil.Internal("failed to re-activate registration", err)
		}
		existing.Status = RegistrationRegistered
		return existing, nil
	}

	reg := &Registration{
		ID:      s.node.Generate().String(),
		EventID: eventID,
		UserID:  userID,
		Status:  RegistrationRegistered,
	}
	if err := s.registrations.Create(ctx, reg); err != nil {
		// Two concurrent registrations can both miss the FindOne above;
		// the unique index decides, and the loser gets the same conflict.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("already registered for this event", nil)
		}
		return nil, errutil.Internal("failed to create registration", err)
	}
	return reg, nil
}

func (s *Service) CancelRegistration(ctx context.Context, eventID, userID string) error {
	existing, err := s.registrations.FindOne(ctx, &Registration{EventID: eventID, UserID: userID})
	if err != nil {
		return errutil.Internal("failed to query registration", err)
	}
	if existing == nil || existing.Status != RegistrationRegistered {
		return errutil.NotFound("no active registration for this event", nil)
	}

	updates := map[string]any{"status": RegistrationCancelled, "updated_at": time.Now()}
	if err := s.registrations.Update(ctx, existing.ID, &updates); err != nil {
		return errutil.Internal("failed to cancel registration", err)
	}
	return nil
}

// TicketQR is the per-ticket QR shown on a student's ticket page and
// scanned by the organizer.
type TicketQR struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IssueTicketToken mints the per-ticket token for organizer scans. Only a
// paid (or free-event) eligible ticket gets a QR.
func (s *Service) IssueTicketToken(ctx context.Context, ticketID string) (*TicketQR, error) {
	t, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPaid {
		return nil, errutil.Conflict("ticket is not paid", nil)
	}

	raw, env, err := s.codec.Mint(token.Payload{TicketID: t.ID, UserID: t.UserID}, s.ticketTTL)
	if err != nil {
		return nil, errutil.Internal("failed to mint ticket token", err)
	}

	return &TicketQR{
		Token:     raw,
		ExpiresAt: time.Unix(env.ExpiresAt, 0).UTC(),
	}, nil
}
