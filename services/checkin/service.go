package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"unievents-checkin/pkg/config"
	"unievents-checkin/pkg/db/option"
	"unievents-checkin/pkg/db/pagination"
	"unievents-checkin/pkg/errutil"
	"unievents-checkin/pkg/repository"
	"unievents-checkin/services/event"
	"unievents-checkin/services/ticket"
	"unievents-checkin/services/token"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrAlreadyCheckedIn is a benign business outcome, not a fault: under
// concurrent duplicate scans exactly one insert wins and the loser gets
// this.
var ErrAlreadyCheckedIn = errors.New("already checked in")

type ErrorKind string

const (
	KindMalformed        ErrorKind = "MALFORMED"
	KindBadSignature     ErrorKind = "BAD_SIGNATURE"
	KindExpired          ErrorKind = "EXPIRED"
	KindNotEligible      ErrorKind = "NOT_ELIGIBLE"
	KindAlreadyCheckedIn ErrorKind = "ALREADY_CHECKED_IN"
)

// Each kind gets its own user-facing message so the person running the
// check-in desk sees the cause, never a generic "invalid QR".
var kindMessages = map[ErrorKind]string{
	KindMalformed:        "invalid QR code",
	KindBadSignature:     "invalid QR code",
	KindExpired:          "QR code expired, ask for a fresh one",
	KindNotEligible:      "ticket not paid or no active registration",
	KindAlreadyCheckedIn: "already checked in",
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	codec    *token.Codec
	rdb      *redis.Client
	cacheTTL time.Duration

	events  *event.Service
	tickets *ticket.Service

	checkins repository.Repository[CheckIn]
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Codec   *token.Codec
	Cfg     *config.Config
	Redis   *redis.Client `optional:"true"`
	Events  *event.Service
	Tickets *ticket.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		codec:    p.Codec,
		rdb:      p.Redis,
		cacheTTL: p.Cfg.Stats.CacheTTL,
		events:   p.Events,
		tickets:  p.Tickets,
		checkins: repository.ProvideStore[CheckIn](p.DB),
	}
}

// RecordCheckIn is the sole choke point for the at-most-once invariant.
// The insert and the uniqueness check are one atomic operation: a unique
// constraint violation comes back as ErrAlreadyCheckedIn, never a
// read-then-write race.
func (s *Service) RecordCheckIn(ctx context.Context, eventID, userID, scanMode string) (*CheckIn, error) {
	rec := &CheckIn{
		ID:          s.node.Generate().String(),
		EventID:     eventID,
		UserID:      userID,
		ScanMode:    scanMode,
		CheckedInAt: time.Now().UTC(),
	}

	if err := s.checkins.Create(ctx, rec); err != nil {
		if isDuplicateKey(err) {
			return nil, ErrAlreadyCheckedIn
		}
		return nil, errutil.Internal("failed to record check-in", err)
	}

	s.invalidateStats(ctx, eventID)

	zap.L().Info("check-in recorded",
		zap.String("event_id", eventID),
		zap.String("user_id", userID),
		zap.String("scan_mode", scanMode),
	)

	return rec, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}

// Stats computes the dashboard aggregate. The eligibility basis depends on
// the event: paid tickets for paid events, active registrations for free
// ones.
func (s *Service) Stats(ctx context.Context, eventID string) (*Stats, error) {
	if cached := s.cachedStats(ctx, eventID); cached != nil {
		return cached, nil
	}

	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}

	total, err := s.checkins.Count(ctx, &CheckIn{EventID: eventID})
	if err != nil {
		return nil, errutil.Internal("failed to count check-ins", err)
	}

	stats := &Stats{TotalCheckIns: total}
	if ev.IsPaid {
		stats.Basis = BasisTickets
		stats.TotalEligible, err = s.tickets.CountPaidTickets(ctx, eventID)
	} else {
		stats.Basis = BasisRegistrations
		stats.TotalEligible, err = s.tickets.CountActiveRegistrations(ctx, eventID)
	}
	if err != nil {
		return nil, err
	}

	if stats.TotalEligible > 0 {
		rate := float64(stats.TotalCheckIns) / float64(stats.TotalEligible)
		stats.CheckInRate = math.Round(rate*10000) / 10000
	}

	s.cacheStats(ctx, eventID, stats)

	return stats, nil
}

// List returns attendee rows newest first, cursor-paginated for the UI's
// export view.
func (s *Service) List(ctx context.Context, eventID string, page pagination.Pagination) ([]*CheckIn, *pagination.PageInfo, error) {
	if page.Limit <= 0 || page.Limit > 250 {
		page.Limit = 50
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "checked_in_at", OrderBy: "desc", Allow: map[string]bool{"checked_in_at": true}}),
		func(tx *gorm.DB) *gorm.DB { return tx.Order("id desc") },
		option.WithLimit(page.Limit + 1),
	}

	if page.Cursor != "" {
		cursor, err := pagination.DecodeCursor(page.Cursor)
		if err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
		// The id tiebreaker keeps rows sharing the boundary timestamp from
		// being skipped across pages.
		opts = append(opts, func(tx *gorm.DB) *gorm.DB {
			return tx.Where("checked_in_at < ? OR (checked_in_at = ? AND id < ?)",
				cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
		})
	}

	rows, err := s.checkins.Find(ctx, &CheckIn{EventID: eventID}, opts...)
	if err != nil {
		return nil, nil, errutil.Internal("failed to list check-ins", err)
	}

	info := &pagination.PageInfo{}
	if len(rows) > page.Limit {
		rows = rows[:page.Limit]
		info.HasMore = true
		last := rows[len(rows)-1]
		info.NextCursor = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CheckedInAt, ID: last.ID})
	}

	return rows, info, nil
}

type ValidateInput struct {
	RawToken      string
	ScanMode      string
	SessionUserID string
}

// ValidationResult is a structured outcome: business failures are data,
// not errors, so every kind reaches the scanning UI with its own message.
type ValidationResult struct {
	Success   bool      `json:"success"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`
	Message   string    `json:"message,omitempty"`
	EventID   string    `json:"eventId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	CheckIn   *CheckIn  `json:"checkIn,omitempty"`
}

func failure(kind ErrorKind) *ValidationResult {
	return &ValidationResult{ErrorKind: kind, Message: kindMessages[kind]}
}

// Validate orchestrates both scan modes over one ledger call so the
// uniqueness invariant and the statistics never depend on which side held
// the camera.
func (s *Service) Validate(ctx context.Context, in ValidateInput) (*ValidationResult, error) {
	payload, err := s.codec.Verify(in.RawToken)
	if err != nil {
		var verr *token.VerificationError
		if errors.As(err, &verr) {
			// Malformed and bad-signature tokens surface the same to the
			// user but are logged apart for abuse monitoring.
			switch verr.Kind {
			case token.KindBadSignature:
				zap.L().Warn("scan with tampered or foreign token", zap.String("scan_mode", in.ScanMode))
				return failure(KindBadSignature), nil
			case token.KindExpired:
				return failure(KindExpired), nil
			default:
				zap.L().Warn("scan with unparsable token", zap.String("scan_mode", in.ScanMode))
				return failure(KindMalformed), nil
			}
		}
		return nil, err
	}

	var eventID, userID string

	switch in.ScanMode {
	case ScanModeOrganizer:
		if payload.TicketID == "" {
			return failure(KindMalformed), nil
		}
		t, err := s.tickets.GetTicket(ctx, payload.TicketID)
		if err != nil {
			var base errutil.BaseError
			if errors.As(err, &base) && base.Code == errutil.StatusNotFound {
				return failure(KindNotEligible), nil
			}
			return nil, err
		}
		eventID, userID = t.EventID, t.UserID

	case ScanModeStudents:
		if payload.EventID == "" {
			return failure(KindMalformed), nil
		}
		// Never trust a client-supplied user id here: the scanning user is
		// whoever holds the authenticated session.
		if in.SessionUserID == "" {
			return nil, errutil.Unauthorized("authentication required", nil)
		}
		eventID, userID = payload.EventID, in.SessionUserID

	default:
		return nil, errutil.BadRequest(fmt.Sprintf("unknown scan mode %q", in.ScanMode), nil)
	}

	eligible, err := s.tickets.IsEligibleForEvent(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}
	if !eligible {
		res := failure(KindNotEligible)
		res.EventID, res.UserID = eventID, userID
		return res, nil
	}

	rec, err := s.RecordCheckIn(ctx, eventID, userID, in.ScanMode)
	if err != nil {
		if errors.Is(err, ErrAlreadyCheckedIn) {
			res := failure(KindAlreadyCheckedIn)
			res.EventID, res.UserID = eventID, userID
			return res, nil
		}
		return nil, err
	}

	return &ValidationResult{
		Success: true,
		EventID: eventID,
		UserID:  userID,
		CheckIn: rec,
	}, nil
}

func statsKey(eventID string) string {
	return fmt.Sprintf("checkin:stats:%s", eventID)
}

func (s *Service) cachedStats(ctx context.Context, eventID string) *Stats {
	if s.rdb == nil {
		return nil
	}

	raw, err := s.rdb.Get(ctx, statsKey(eventID)).Bytes()
	if err != nil {
		return nil
	}

	var stats Stats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil
	}
	return &stats
}

func (s *Service) cacheStats(ctx context.Context, eventID string, stats *Stats) {
	if s.rdb == nil {
		return
	}

	raw, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, statsKey(eventID), raw, s.cacheTTL).Err(); err != nil {
		zap.L().Debug("failed to cache stats", zap.Error(err))
	}
}

func (s *Service) invalidateStats(ctx context.Context, eventID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, statsKey(eventID)).Err(); err != nil {
		zap.L().Debug("failed to invalidate stats cache", zap.Error(err))
	}
}
