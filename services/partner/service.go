package partner

import (
	"context"
	"math"
	"time"

	"unievents-checkin/pkg/errutil"
	"unievents-checkin/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("partner.service", fx.Provide(NewService))

const maxCommissionRate = 0.5

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	accounts repository.Repository[Account]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		accounts: repository.ProvideStore[Account](p.DB),
	}
}

func (s *Service) CreateAccount(ctx context.Context, name string, commissionRate float64) (*Account, error) {
	if commissionRate < 0 || commissionRate > maxCommissionRate {
		return nil, errutil.ValidationFailed("commission rate must be between 0 and 0.5", nil)
	}

	acc := &Account{
		ID:             s.node.Generate().String(),
		Name:           name,
		CommissionRate: commissionRate,
	}
	if err := s.accounts.Create(ctx, acc); err != nil {
		return nil, errutil.Internal("failed to create partner account", err)
	}
	return acc, nil
}

func (s *Service) Get(ctx context.Context, partnerID string) (*Account, error) {
	acc, err := s.accounts.FindOne(ctx, &Account{ID: partnerID})
	if err != nil {
		return nil, errutil.Internal("failed to query partner account", err)
	}
	if acc == nil {
		return nil, errutil.NotFound("partner account not found", nil)
	}
	return acc, nil
}

// CommissionRate returns the partner's current rate for snapshotting onto a
// ticket at purchase time. Returns 0 when no partner account exists so
// non-partner organizers never accrue commission.
func (s *Service) CommissionRate(ctx context.Context, partnerID string) (float64, error) {
	acc, err := s.accounts.FindOne(ctx, &Account{ID: partnerID})
	if err != nil {
		return 0, errutil.Internal("failed to query partner account", err)
	}
	if acc == nil {
		return 0, nil
	}
	return acc.CommissionRate, nil
}

// ConsumePaidSlot spends one of the partner's prepaid paid-event slots.
// The guarded decrement keeps two concurrent event creations from sharing
// the last slot.
func (s *Service) ConsumePaidSlot(ctx context.Context, partnerID string) error {
	return s.ConsumePaidSlotTx(ctx, s.db, partnerID)
}

// ConsumePaidSlotTx is ConsumePaidSlot inside the caller's transaction, so
// the slot rolls back with whatever write it was spent on.
func (s *Service) ConsumePaidSlotTx(ctx context.Context, tx *gorm.DB, partnerID string) error {
	res := tx.WithContext(ctx).Model(&Account{}).
		Where("id = ? AND paid_event_slots > 0", partnerID).
		Updates(map[string]any{
			"paid_event_slots": gorm.Expr("paid_event_slots - 1"),
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return errutil.Internal("failed to consume paid event slot", res.Error)
	}
	if res.RowsAffected == 0 {
		acc, err := s.accounts.WithTrx(tx).FindOne(ctx, &Account{ID: partnerID})
		if err != nil {
			return errutil.Internal("failed to query partner account", err)
		}
		if acc == nil {
			return errutil.NotFound("partner account not found", nil)
		}
		return errutil.Conflict("no paid event slots remaining", nil)
	}
	return nil
}

// AddPaidSlots grants additional paid-event slots to a partner.
func (s *Service) AddPaidSlots(ctx context.Context, partnerID string, n int) error {
	if n <= 0 {
		return errutil.ValidationFailed("slot count must be positive", nil)
	}

	acc, err := s.Get(ctx, partnerID)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"paid_event_slots": gorm.Expr("paid_event_slots + ?", n),
		"updated_at":       time.Now(),
	}
	if err := s.accounts.Update(ctx, acc.ID, &updates); err != nil {
		return errutil.Internal("failed to add paid event slots", err)
	}
	return nil
}

// Split computes the revenue split for a ticket using the rate snapshotted
// at purchase time, never the partner's current rate.
func Split(price int64, rate float64) (commission, revenue int64) {
	commission = int64(math.Round(float64(price) * rate))
	revenue = price - commission
	return commission, revenue
}

// RecordApprovalTx adds one approved ticket's split to the partner's running
// totals inside the caller's transaction.
func (s *Service) RecordApprovalTx(ctx context.Context, tx *gorm.DB, partnerID string, price int64, rate float64) error {
	acc, err := s.accounts.WithTrx(tx).FindOne(ctx, &Account{ID: partnerID})
	if err != nil {
		return errutil.Internal("failed to query partner account", err)
	}
	if acc == nil {
		zap.L().Warn("approved ticket for organizer without partner account", zap.String("partner_id", partnerID))
		return nil
	}

	commission, revenue := Split(price, rate)

	updates := map[string]any{
		"total_revenue":    gorm.Expr("total_revenue + ?", revenue),
		"total_commission": gorm.Expr("total_commission + ?", commission),
		"updated_at":       time.Now(),
	}
	if err := s.accounts.WithTrx(tx).Update(ctx, acc.ID, &updates); err != nil {
		return errutil.Internal("failed to update partner totals", err)
	}

	zap.L().Info("recorded partner revenue",
		zap.String("partner_id", partnerID),
		zap.Int64("revenue", revenue),
		zap.Int64("commission", commission),
		zap.Float64("rate", rate),
	)

	return nil
}
