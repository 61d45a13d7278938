package event

import (
	"context"
	"strings"
	"testing"
	"time"

	"unievents-checkin/pkg/config"
	"unievents-checkin/services/partner"
	"unievents-checkin/services/testutil"
	"unievents-checkin/services/token"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *token.Codec, *partner.Service) {
	t.Helper()

	db := testutil.NewTestDB(t, &Event{}, &partner.Account{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Token.Secret = "test-secret"
	cfg.Token.EventTTL = 30 * time.Second

	codec := token.NewCodec(cfg.Token.Secret)
	partners := partner.NewService(partner.ServiceParams{DB: db, Node: node})
	svc := NewService(ServiceParams{DB: db, Node: node, Codec: codec, Cfg: cfg, Partners: partners})
	return svc, codec, partners
}

func TestCreateValidatesPaidPrice(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.Create(ctx, CreateEventInput{
		OrganizerID: "org-1",
		Title:       "Broken Paid Event",
		IsPaid:      true,
	})
	require.Error(t, err)

	ev, err := svc.Create(ctx, CreateEventInput{
		OrganizerID: "org-1",
		Title:       "Tech Conference",
		IsPaid:      true,
		Price:       50000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, ev.ID)
}

func TestIssueEventTokenRotates(t *testing.T) {
	ctx := context.Background()
	svc, codec, _ := newTestService(t)

	ev, err := svc.Create(ctx, CreateEventInput{OrganizerID: "org-1", Title: "Open Seminar"})
	require.NoError(t, err)

	first, err := svc.IssueEventToken(ctx, ev.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(first.QRImage, "data:image/png;base64,"))
	require.True(t, first.ExpiresAt.After(time.Now()))

	second, err := svc.IssueEventToken(ctx, ev.ID)
	require.NoError(t, err)
	require.NotEqual(t, first.Token, second.Token, "each issue carries a fresh nonce")

	p1, err := codec.Verify(first.Token)
	require.NoError(t, err)
	p2, err := codec.Verify(second.Token)
	require.NoError(t, err)
	require.Equal(t, ev.ID, p1.EventID)
	require.NotEqual(t, p1.Nonce, p2.Nonce)
}

func TestListByOrganizer(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	for _, title := range []string{"Open Seminar", "Tech Conference"} {
		_, err := svc.Create(ctx, CreateEventInput{OrganizerID: "org-1", Title: title})
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, CreateEventInput{OrganizerID: "org-2", Title: "Other Fair"})
	require.NoError(t, err)

	rows, err := svc.ListByOrganizer(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	rows, err = svc.ListByOrganizer(ctx, "org-2")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestCreatePaidPartnerEventSpendsSlot(t *testing.T) {
	ctx := context.Background()
	svc, _, partners := newTestService(t)

	acc, err := partners.CreateAccount(ctx, "Campus Events Co", 0.15)
	require.NoError(t, err)

	// Without a slot the whole creation fails atomically: no slot spent,
	// no event row left behind.
	_, err = svc.Create(ctx, CreateEventInput{
		OrganizerID:     acc.ID,
		Title:           "Partner Expo",
		IsExternalEvent: true,
		IsPaid:          true,
		Price:           10000,
	})
	require.Error(t, err)

	rows, err := svc.ListByOrganizer(ctx, acc.ID)
	require.NoError(t, err)
	require.Empty(t, rows)

	require.NoError(t, partners.AddPaidSlots(ctx, acc.ID, 1))

	ev, err := svc.Create(ctx, CreateEventInput{
		OrganizerID:     acc.ID,
		Title:           "Partner Expo",
		IsExternalEvent: true,
		IsPaid:          true,
		Price:           10000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, ev.ID)

	got, err := partners.Get(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.PaidEventSlots)
}

func TestIssueEventTokenUnknownEvent(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.IssueEventToken(ctx, "no-such-event")
	require.Error(t, err)
}
