package payment

import (
	"context"
	"testing"
	"time"

	"unievents-checkin/pkg/config"
	"unievents-checkin/pkg/errutil"
	"unievents-checkin/services/event"
	"unievents-checkin/services/partner"
	"unievents-checkin/services/testutil"
	"unievents-checkin/services/ticket"
	"unievents-checkin/services/token"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type enqueuerMock struct {
	EnqueueFunc func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func (m *enqueuerMock) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if m.EnqueueFunc == nil {
		return &asynq.TaskInfo{}, nil
	}
	return m.EnqueueFunc(ctx, task, opts...)
}

type testStack struct {
	db       *gorm.DB
	events   *event.Service
	partners *partner.Service
	tickets  *ticket.Service
	payments *Service
	enqueued []*asynq.Task
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	db := testutil.NewTestDB(t,
		&event.Event{},
		&partner.Account{},
		&ticket.Ticket{},
		&ticket.Registration{},
		&PaymentVerification{},
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
	tickets := ticket.NewService(ticket.ServiceParams{
		DB: db, Node: node, Codec: codec, Cfg: cfg,
		Events: events, Partners: partners,
	})

	s := &testStack{db: db, events: events, partners: partners, tickets: tickets}

	enq := &enqueuerMock{
		EnqueueFunc: func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
			s.enqueued = append(s.enqueued, task)
			return &asynq.TaskInfo{}, nil
		},
	}

	s.payments = NewService(ServiceParams{
		DB: db, Node: node,
		Events: events, Tickets: tickets, Partners: partners,
		Enqueuer: enq,
	})

	return s
}

// partnerTicket sets up a partner-run paid event and a pending ticket whose
// commission rate was snapshotted at purchase.
func (s *testStack) partnerTicket(t *testing.T, ctx context.Context, price int64, rate float64) (*partner.Account, *ticket.Ticket) {
	t.Helper()

	acc, err := s.partners.CreateAccount(ctx, "Campus Events Co", rate)
	require.NoError(t, err)
	require.NoError(t, s.partners.AddPaidSlots(ctx, acc.ID, 1))

	ev, err := s.events.Create(ctx, event.CreateEventInput{
		OrganizerID:     acc.ID,
		Title:           "Partner Expo",
		IsExternalEvent: true,
		IsPaid:          true,
		Price:           price,
	})
	require.NoError(t, err)

	tk, err := s.tickets.CreateTicket(ctx, ev.ID, "usr-1")
	require.NoError(t, err)
	return acc, tk
}

func requireCode(t *testing.T, err error, code errutil.CoreStatus) {
	t.Helper()
	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, code, be.Code)
}

func TestApproveMarksPaidAndSplitsRevenue(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	acc, tk := s.partnerTicket(t, ctx, 10000, 0.15)

	v, err := s.payments.SubmitReceipt(ctx, tk.ID, "https://cdn.example.com/receipts/1.png")
	require.NoError(t, err)
	require.Equal(t, VerificationPending, v.Status)

	decided, err := s.payments.Decide(ctx, v.ID, OutcomeApproved, "")
	require.NoError(t, err)
	require.Equal(t, VerificationApproved, decided.Status)
	require.NotNil(t, decided.DecidedAt)

	paid, err := s.tickets.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, ticket.StatusPaid, paid.Status)

	got, err := s.partners.Get(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1500), got.TotalCommission)
	require.Equal(t, int64(8500), got.TotalRevenue)

	require.Len(t, s.enqueued, 1)
}

func TestApproveUsesSnapshottedRate(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	acc, tk := s.partnerTicket(t, ctx, 10000, 0.15)

	v, err := s.payments.SubmitReceipt(ctx, tk.ID, "https://cdn.example.com/receipts/1.png")
	require.NoError(t, err)

	// Raising the partner's rate after purchase must not change this
	// ticket's split.
	updates := map[string]any{"commission_rate": 0.4}
	require.NoError(t, s.db.Model(&partner.Account{}).Where("id = ?", acc.ID).Updates(updates).Error)

	_, err = s.payments.Decide(ctx, v.ID, OutcomeApproved, "")
	require.NoError(t, err)

	got, err := s.partners.Get(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1500), got.TotalCommission)
	require.Equal(t, int64(8500), got.TotalRevenue)
}

func TestRejectRequiresNotes(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	_, tk := s.partnerTicket(t, ctx, 10000, 0.15)

	v, err := s.payments.SubmitReceipt(ctx, tk.ID, "https://cdn.example.com/receipts/1.png")
	require.NoError(t, err)

	_, err = s.payments.Decide(ctx, v.ID, OutcomeRejected, "  ")
	requireCode(t, err, errutil.StatusValidationFailed)

	// Nothing moved: the verification is still open for a proper decision.
	got, err := s.payments.Get(ctx, v.ID)
	require.NoError(t, err)
	require.Equal(t, VerificationPending, got.Status)
	require.Nil(t, got.DecidedAt)

	decided, err := s.payments.Decide(ctx, v.ID, OutcomeRejected, "receipt is unreadable")
	require.NoError(t, err)
	require.Equal(t, VerificationRejected, decided.Status)
	require.Equal(t, "receipt is unreadable", decided.OrganizerNotes)

	pending, err := s.tickets.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, ticket.StatusPending, pending.Status)
}

func TestDecideTwice(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	acc, tk := s.partnerTicket(t, ctx, 10000, 0.15)

	v, err := s.payments.SubmitReceipt(ctx, tk.ID, "https://cdn.example.com/receipts/1.png")
	require.NoError(t, err)

	_, err = s.payments.Decide(ctx, v.ID, OutcomeApproved, "")
	require.NoError(t, err)

	_, err = s.payments.Decide(ctx, v.ID, OutcomeRejected, "changed my mind")
	requireCode(t, err, errutil.StatusConflict)

	_, err = s.payments.Decide(ctx, v.ID, OutcomeApproved, "")
	requireCode(t, err, errutil.StatusConflict)

	// The double approval attempt must not double-book the split.
	got, err := s.partners.Get(ctx, acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1500), got.TotalCommission)
}

func TestSubmitReceiptRequiresPendingTicket(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	_, tk := s.partnerTicket(t, ctx, 10000, 0.15)

	_, err := s.tickets.MarkPaid(ctx, tk.ID)
	require.NoError(t, err)

	_, err = s.payments.SubmitReceipt(ctx, tk.ID, "https://cdn.example.com/receipts/1.png")
	requireCode(t, err, errutil.StatusConflict)
}

func TestSubmitReceiptRejectsDuplicatePending(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	_, tk := s.partnerTicket(t, ctx, 10000, 0.15)

	_, err := s.payments.SubmitReceipt(ctx, tk.ID, "https://cdn.example.com/receipts/1.png")
	require.NoError(t, err)

	_, err = s.payments.SubmitReceipt(ctx, tk.ID, "https://cdn.example.com/receipts/2.png")
	requireCode(t, err, errutil.StatusConflict)
}

func TestResubmitAfterRejection(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)
	_, tk := s.partnerTicket(t, ctx, 10000, 0.15)

	v, err := s.payments.SubmitReceipt(ctx, tk.ID, "https://cdn.example.com/receipts/1.png")
	require.NoError(t, err)

	_, err = s.payments.Decide(ctx, v.ID, OutcomeRejected, "wrong amount on receipt")
	require.NoError(t, err)

	// The ticket is still PENDING, so the student may try again.
	v2, err := s.payments.SubmitReceipt(ctx, tk.ID, "https://cdn.example.com/receipts/2.png")
	require.NoError(t, err)
	require.NotEqual(t, v.ID, v2.ID)
	require.Equal(t, VerificationPending, v2.Status)

	list, err := s.payments.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, v2.ID, list[0].ID)

	scoped, err := s.payments.ListPending(ctx, tk.EventID)
	require.NoError(t, err)
	require.Len(t, scoped, 1)

	other, err := s.payments.ListPending(ctx, "no-such-event")
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestApproveNonPartnerEvent(t *testing.T) {
	ctx := context.Background()
	s := newTestStack(t)

	ev, err := s.events.Create(ctx, event.CreateEventInput{
		OrganizerID: "org-internal",
		Title:       "Campus Hackathon",
		IsPaid:      true,
		Price:       20000,
	})
	require.NoError(t, err)

	tk, err := s.tickets.CreateTicket(ctx, ev.ID, "usr-1")
	require.NoError(t, err)
	require.Equal(t, float64(0), tk.CommissionRate)

	v, err := s.payments.SubmitReceipt(ctx, tk.ID, "https://cdn.example.com/receipts/1.png")
	require.NoError(t, err)

	_, err = s.payments.Decide(ctx, v.ID, OutcomeApproved, "")
	require.NoError(t, err)

	paid, err := s.tickets.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	require.Equal(t, ticket.StatusPaid, paid.Status)
}
