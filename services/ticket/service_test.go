package ticket

import (
	"context"
	"sync"
	"testing"
	"time"

	"unievents-checkin/pkg/config"
	"unievents-checkin/pkg/errutil"
	"unievents-checkin/services/event"
	"unievents-checkin/services/partner"
	"unievents-checkin/services/testutil"
	"unievents-checkin/services/token"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testStack struct {
	db       *gorm.DB
	events   *event.Service
	partners *partner.Service
	tickets  *Service
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	db := testutil.NewTestDB(t,
		&event.Event{},
		&partner.Account{},
		&Ticket{},
		&Registration{},
	)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Token.Secret = "test-secret"
	cfg.Token.EventTTL = 30 * time.Second
	cfg.Token.TicketTTL = 5 * time.Minute

	codec := token.NewCodec(cfg.Token.Secret)

	partners := partner.NewService(partner.ServiceParams{DB: db, Node: node})
	events := event.NewService(event.ServiceParams{DB: db, Node: node, Codec: codec, Cfg: cfg, Partners: partners})
	tickets := NewService(ServiceParams{
		DB: db, Node: node, Codec: codec, Cfg: cfg,
		Events: events, Partners: partners,
	})

	return &testStack{db: db, events: events, partners: partners, tickets: tickets}
}

func (s *testStack) paidEvent(t *testing.T, ctx context.Context, price int64) *event.Event {
	t.Helper()
	ev, err := s.events.Create(ctx, event.CreateEventInput{
		OrganizerID: "org-1",
		Title:       "Tech Conference",
		Capacity:    100,
		IsPaid:      true,
		Price:       price,
	})
	require.NoError(t, err)
	return ev
}

func (s *testStack) freeEvent(t *testing.T, ctx context.Context) *event.Event {
	t.Helper()
	ev, err := s.events.Create(ctx, event.CreateEventInput{
		OrganizerID: "org-1",
		Title:       "Community Meetup",
		Capacity:    50,
	})
	require.NoError(t, err)
	return ev
}

func requireCode(t *testing.T, err error, code errutil.CoreStatus) {
	t.Helper()
	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, code, be.Code)
}

func TestMarkPaidIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	ev := s.paidEvent(t, ctx, 50000)

	tk, err := s.tickets.CreateTicket(ctx, ev.ID, "usr-1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, tk.Status)
	require.NotEmpty(t, tk.TicketCode)

	first, err := s.tickets.MarkPaid(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, first.Status)

	// Second call is the payment-callback-and-manual-approval race: it must
	// succeed without changing anything.
	second, err := s.tickets.MarkPaid(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, second.Status)
}

func TestMarkPaidRefundedTicket(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	ev := s.paidEvent(t, ctx, 50000)

	tk, err := s.tickets.CreateTicket(ctx, ev.ID, "usr-1")
	require.NoError(t, err)

	_, err = s.tickets.MarkPaid(ctx, tk.ID)
	require.NoError(t, err)

	_, err = s.tickets.Refund(ctx, tk.ID)
	require.NoError(t, err)

	_, err = s.tickets.MarkPaid(ctx, tk.ID)
	requireCode(t, err, errutil.StatusConflict)

	got, err := s.tickets.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRefunded, got.Status)
}

func TestRefundRequiresPaid(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	ev := s.paidEvent(t, ctx, 50000)

	tk, err := s.tickets.CreateTicket(ctx, ev.ID, "usr-1")
	require.NoError(t, err)

	_, err = s.tickets.Refund(ctx, tk.ID)
	requireCode(t, err, errutil.StatusConflict)
}

func TestCreateTicketSnapshotsCommissionRate(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)

	acc, err := s.partners.CreateAccount(ctx, "Campus Events Co", 0.15)
	require.NoError(t, err)
	require.NoError(t, s.partners.AddPaidSlots(ctx, acc.ID, 1))

	ev, err := s.events.Create(ctx, event.CreateEventInput{
		OrganizerID:     acc.ID,
		Title:           "Partner Expo",
		IsExternalEvent: true,
		IsPaid:          true,
		Price:           10000,
	})
	require.NoError(t, err)

	tk, err := s.tickets.CreateTicket(ctx, ev.ID, "usr-1")
	require.NoError(t, err)
	require.Equal(t, 0.15, tk.CommissionRate)
	require.Equal(t, int64(10000), tk.Price)
}

func TestCreateTicketFreeEvent(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	ev := s.freeEvent(t, ctx)

	_, err := s.tickets.CreateTicket(ctx, ev.ID, "usr-1")
	requireCode(t, err, errutil.StatusBadRequest)
}

func TestEligibilityPaidEvent(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	ev := s.paidEvent(t, ctx, 50000)

	tk, err := s.tickets.CreateTicket(ctx, ev.ID, "usr-1")
	require.NoError(t, err)

	eligible, err := s.tickets.IsEligibleForEvent(ctx, "usr-1", ev.ID)
	require.NoError(t, err)
	require.False(t, eligible, "a pending ticket must not grant entry")

	_, err = s.tickets.MarkPaid(ctx, tk.ID)
	require.NoError(t, err)

	eligible, err = s.tickets.IsEligibleForEvent(ctx, "usr-1", ev.ID)
	require.NoError(t, err)
	require.True(t, eligible)
}

func TestEligibilityFreeEvent(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	ev := s.freeEvent(t, ctx)

	eligible, err := s.tickets.IsEligibleForEvent(ctx, "usr-1", ev.ID)
	require.NoError(t, err)
	require.False(t, eligible)

	_, err = s.tickets.Register(ctx, ev.ID, "usr-1")
	require.NoError(t, err)

	eligible, err = s.tickets.IsEligibleForEvent(ctx, "usr-1", ev.ID)
	require.NoError(t, err)
	require.True(t, eligible)

	require.NoError(t, s.tickets.CancelRegistration(ctx, ev.ID, "usr-1"))

	eligible, err = s.tickets.IsEligibleForEvent(ctx, "usr-1", ev.ID)
	require.NoError(t, err)
	require.False(t, eligible)
}

func TestRegisterTwice(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	ev := s.freeEvent(t, ctx)

	_, err := s.tickets.Register(ctx, ev.ID, "usr-1")
	require.NoError(t, err)

	_, err = s.tickets.Register(ctx, ev.ID, "usr-1")
	requireCode(t, err, errutil.StatusConflict)
}

func TestRegisterConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	ev := s.freeEvent(t, ctx)

	const attempts = 6
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.tickets.Register(ctx, ev.ID, "usr-1")
		}(i)
	}
	wg.Wait()

	// The unique index decides the race: one registration, everyone else
	// gets the same conflict whether they lost at the lookup or the insert.
	var successes int
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		requireCode(t, err, errutil.StatusConflict)
	}
	require.Equal(t, 1, successes)

	count, err := s.tickets.CountActiveRegistrations(ctx, ev.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestRegisterReactivatesCancelled(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	ev := s.freeEvent(t, ctx)

	_, err := s.tickets.Register(ctx, ev.ID, "usr-1")
	require.NoError(t, err)
	require.NoError(t, s.tickets.CancelRegistration(ctx, ev.ID, "usr-1"))

	reg, err := s.tickets.Register(ctx, ev.ID, "usr-1")
	require.NoError(t, err)
	require.Equal(t, RegistrationRegistered, reg.Status)
}

func TestIssueTicketTokenRequiresPaid(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	ev := s.paidEvent(t, ctx, 50000)

	tk, err := s.tickets.CreateTicket(ctx, ev.ID, "usr-1")
	require.NoError(t, err)

	_, err = s.tickets.IssueTicketToken(ctx, tk.ID)
	requireCode(t, err, errutil.StatusConflict)

	_, err = s.tickets.MarkPaid(ctx, tk.ID)
	require.NoError(t, err)

	qr, err := s.tickets.IssueTicketToken(ctx, tk.ID)
	require.NoError(t, err)
	require.NotEmpty(t, qr.Token)
	require.True(t, qr.ExpiresAt.After(time.Now()))
}
