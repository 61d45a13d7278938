package event

import (
	"context"
	"encoding/base64"
	"time"

	"unievents-checkin/pkg/config"
	"unievents-checkin/pkg/db/option"
	"unievents-checkin/pkg/errutil"
	"unievents-checkin/pkg/repository"
	"unievents-checkin/services/partner"
	"unievents-checkin/services/token"

	"github.com/bwmarrin/snowflake"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	codec    *token.Codec
	ttl      time.Duration
	partners *partner.Service
	events   repository.Repository[Event]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Codec    *token.Codec
	Cfg      *config.Config
	Partners *partner.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		codec:    p.Codec,
		ttl:      p.Cfg.Token.EventTTL,
		partners: p.Partners,
		events:   repository.ProvideStore[Event](p.DB),
	}
}

type CreateEventInput struct {
	OrganizerID     string         `json:"organizerId" binding:"required"`
	Title           string         `json:"title" binding:"required"`
	Capacity        int            `json:"capacity"`
	StartAt         time.Time      `json:"startAt"`
	EndAt           time.Time      `json:"endAt"`
	IsExternalEvent bool           `json:"isExternalEvent"`
	IsPaid          bool           `json:"isPaid"`
	Price           int64          `json:"price"`
	Metadata        datatypes.JSON `json:"metadata"`
}

func (s *Service) Create(ctx context.Context, in CreateEventInput) (*Event, error) {
	if in.IsPaid && in.Price <= 0 {
		return nil, errutil.ValidationFailed("paid event requires a positive price", nil)
	}

	ev := &Event{
		ID:              s.node.Generate().String(),
		OrganizerID:     in.OrganizerID,
		Title:           in.Title,
		Capacity:        in.Capacity,
		StartAt:         in.StartAt,
		EndAt:           in.EndAt,
		IsExternalEvent: in.IsExternalEvent,
		IsPaid:          in.IsPaid,
		Price:           in.Price,
		Metadata:        in.Metadata,
	}

	// Partner-run paid events spend one of the partner's prepaid slots;
	// the slot and the insert commit or roll back together.
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if in.IsExternalEvent && in.IsPaid {
			if err := s.partners.ConsumePaidSlotTx(ctx, tx, in.OrganizerID); err != nil {
				return err
			}
		}
		if err := s.events.WithTrx(tx).Create(ctx, ev); err != nil {
			return errutil.Internal("failed to create event", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return ev, nil
}

// ListByOrganizer backs the organizer dashboard, newest first.
func (s *Service) ListByOrganizer(ctx context.Context, organizerID string) ([]*Event, error) {
	rows, err := s.events.Find(ctx, &Event{OrganizerID: organizerID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc", Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to list events", err)
	}
	return rows, nil
}

func (s *Service) Get(ctx context.Context, eventID string) (*Event, error) {
	ev, err := s.events.FindOne(ctx, &Event{ID: eventID})
	if err != nil {
		return nil, errutil.Internal("failed to query event", err)
	}
	if ev == nil {
		return nil, errutil.NotFound("event not found", nil)
	}
	return ev, nil
}

// IssuedToken is the rotating event-wide QR. Displays re-request before
// expiresAt; each call carries a fresh nonce so consecutive tokens for the
// same event never collide.
type IssuedToken struct {
	Token     string    `json:"token"`
	QRImage   string    `json:"qrImage"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Service) IssueEventToken(ctx context.Context, eventID string) (*IssuedToken, error) {
	ev, err := s.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}

	raw, env, err := s.codec.Mint(token.Payload{EventID: ev.ID}, s.ttl)
	if err != nil {
		return nil, errutil.Internal("failed to mint event token", err)
	}

	png, err := qrcode.Encode(raw, qrcode.Medium, 256)
	if err != nil {
		return nil, errutil.Internal("failed to render QR image", err)
	}

	zap.L().Debug("issued event token",
		zap.String("event_id", ev.ID),
		zap.Int64("expires_at", env.ExpiresAt),
	)

	return &IssuedToken{
		Token:     raw,
		QRImage:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		ExpiresAt: time.Unix(env.ExpiresAt, 0).UTC(),
	}, nil
}
