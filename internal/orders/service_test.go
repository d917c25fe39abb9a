package orders_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/storefront-orders/internal/memstore"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodSig = "t=1,v1=ok"

type fakeProcessor struct {
	mu       sync.Mutex
	requests []orders.IntentRequest
	err      error
}

func (p *fakeProcessor) CreatePaymentIntent(_ context.Context, req orders.IntentRequest) (orders.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return orders.Intent{}, p.err
	}
	return orders.Intent{ID: "pi_1", ClientSecret: "pi_1_secret_abc"}, nil
}

func (p *fakeProcessor) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// VerifyWebhook accepts one fixed signature and reads the event from the payload.
func (p *fakeProcessor) VerifyWebhook(payload []byte, signature string) (orders.PaymentEvent, error) {
	if signature != goodSig {
		return orders.PaymentEvent{}, errors.New("no signatures found matching the expected signature")
	}
	var ev orders.PaymentEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return orders.PaymentEvent{}, err
	}
	return ev, nil
}

type published struct {
	topic string
	env   orders.Envelope
}

type fakePublisher struct {
	mu  sync.Mutex
	out []published
}

func (p *fakePublisher) PublishEvent(topic string, env orders.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = append(p.out, published{topic: topic, env: env})
}

func (p *fakePublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.out {
		if e.topic == topic {
			n++
		}
	}
	return n
}

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDedup) Seen(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id]
}

func (d *memDedup) Remember(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	d.seen[id] = true
}

// failingStore breaks MarkPaid only.
type failingStore struct {
	*memstore.Store
}

func (failingStore) MarkPaid(context.Context, string, time.Time, *orders.PaymentInfo) (*orders.Order, orders.MarkResult, error) {
	return nil, orders.MarkUnchanged, errors.New("connection reset")
}

// tickClock moves one second forward on every read.
type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	coord *orders.Coordinator
	store *memstore.Store
	proc  *fakeProcessor
	pub   *fakePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memstore.New(), proc: &fakeProcessor{}, pub: &fakePublisher{}}
	clk := &tickClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	f.coord = &orders.Coordinator{
		Store:    f.store,
		Payments: f.proc,
		Events:   f.pub,
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Service:  "storefront-orders",
		Currency: "inr",
		Now:      clk.Now,
	}
	return f
}

var (
	alice = orders.Actor{UserID: "u-alice"}
	bob   = orders.Actor{UserID: "u-bob"}
	admin = orders.Actor{UserID: "u-admin", IsAdmin: true}

	address = orders.ShippingAddress{Address: "12 MG Road", City: "Pune", PostalCode: "411001", Country: "IN"}
)

func items() []orders.Item {
	return []orders.Item{
		{ProductID: "p1", Name: "Tee", Qty: 2, Price: decimal.RequireFromString("19.99")},
		{ProductID: "p2", Name: "Mug", Qty: 1, Price: decimal.RequireFromString("9.50")},
	}
}

func (f *fixture) createOrder(t *testing.T, actor orders.Actor) *orders.Order {
	t.Helper()
	o, err := f.coord.CreateOrder(context.Background(), actor, orders.CreateOrderInput{
		Items:           items(),
		ShippingAddress: address,
	})
	require.NoError(t, err)
	return o
}

func succeeded(eventID, orderID string) []byte {
	b, _ := json.Marshal(orders.PaymentEvent{
		ID:      eventID,
		Type:    orders.PaymentSucceeded,
		OrderID: orderID,
		Info:    orders.PaymentInfo{ID: "pi_1", Amount: 4948, Currency: "inr", Method: "pm_card"},
	})
	return b
}

func TestCreateOrder_ComputesTotalAndStartsPending(t *testing.T) {
	f := newFixture(t)

	o := f.createOrder(t, alice)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, "u-alice", o.UserID)
	assert.True(t, decimal.RequireFromString("49.48").Equal(o.TotalPrice), "total %s", o.TotalPrice)
	assert.False(t, o.IsPaid)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Nil(t, o.PaidAt)
	assert.Nil(t, o.PaymentInfo)
	assert.Equal(t, 1, f.pub.count(orders.TopicOrderCreated))

	stored, err := f.store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.TotalPrice.String(), stored.TotalPrice.String())
	assert.Len(t, stored.Items, 2)
}

func TestCreateOrder_Validation(t *testing.T) {
	mismatch := decimal.RequireFromString("10.00")
	match := decimal.RequireFromString("49.48")
	floatSum := decimal.RequireFromString("49.480000000000004")
	offByCent := decimal.RequireFromString("49.47")

	tests := []struct {
		name    string
		actor   orders.Actor
		in      orders.CreateOrderInput
		wantErr error
	}{
		{name: "no items", actor: alice, in: orders.CreateOrderInput{ShippingAddress: address}, wantErr: orders.ErrValidation},
		{
			name:  "zero qty",
			actor: alice,
			in: orders.CreateOrderInput{
				Items:           []orders.Item{{ProductID: "p1", Name: "Tee", Qty: 0, Price: decimal.NewFromInt(1)}},
				ShippingAddress: address,
			},
			wantErr: orders.ErrValidation,
		},
		{
			name:  "missing product",
			actor: alice,
			in: orders.CreateOrderInput{
				Items:           []orders.Item{{Name: "Tee", Qty: 1, Price: decimal.NewFromInt(1)}},
				ShippingAddress: address,
			},
			wantErr: orders.ErrValidation,
		},
		{
			name:  "negative price",
			actor: alice,
			in: orders.CreateOrderInput{
				Items:           []orders.Item{{ProductID: "p1", Name: "Tee", Qty: 1, Price: decimal.NewFromInt(-1)}},
				ShippingAddress: address,
			},
			wantErr: orders.ErrValidation,
		},
		{name: "no address", actor: alice, in: orders.CreateOrderInput{Items: items()}, wantErr: orders.ErrValidation},
		{
			name:    "total mismatch",
			actor:   alice,
			in:      orders.CreateOrderInput{Items: items(), ShippingAddress: address, TotalPrice: &mismatch},
			wantErr: orders.ErrValidation,
		},
		{name: "anonymous", actor: orders.Actor{}, in: orders.CreateOrderInput{Items: items(), ShippingAddress: address}, wantErr: orders.ErrAuth},
		{
			name:    "total off by a cent",
			actor:   alice,
			in:      orders.CreateOrderInput{Items: items(), ShippingAddress: address, TotalPrice: &offByCent},
			wantErr: orders.ErrValidation,
		},
		{
			name:  "matching total",
			actor: alice,
			in:    orders.CreateOrderInput{Items: items(), ShippingAddress: address, TotalPrice: &match},
		},
		{
			name:  "float summed total",
			actor: alice,
			in:    orders.CreateOrderInput{Items: items(), ShippingAddress: address, TotalPrice: &floatSum},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.coord.CreateOrder(context.Background(), tt.actor, tt.in)

			all, lerr := f.store.ListAll(context.Background())
			require.NoError(t, lerr)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Len(t, all, 1)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, all, "rejected order must not be stored")
			assert.Zero(t, f.pub.count(orders.TopicOrderCreated))
		})
	}
}

func TestCreateOrder_FloatTotalStoresComputedSum(t *testing.T) {
	f := newFixture(t)
	client := decimal.RequireFromString("0.30000000000000004")
	o, err := f.coord.CreateOrder(context.Background(), alice, orders.CreateOrderInput{
		Items: []orders.Item{
			{ProductID: "p1", Name: "Sticker", Qty: 1, Price: decimal.RequireFromString("0.1")},
			{ProductID: "p2", Name: "Pin", Qty: 1, Price: decimal.RequireFromString("0.2")},
		},
		ShippingAddress: address,
		TotalPrice:      &client,
	})
	require.NoError(t, err)
	assert.True(t, o.TotalPrice.Equal(decimal.RequireFromString("0.3")), "got %s", o.TotalPrice)

	stored, err := f.store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalPrice.Equal(decimal.RequireFromString("0.3")))
}

func TestCreateOrder_SnapshotsItems(t *testing.T) {
	f := newFixture(t)
	in := items()
	o, err := f.coord.CreateOrder(context.Background(), alice, orders.CreateOrderInput{Items: in, ShippingAddress: address})
	require.NoError(t, err)

	in[0].Price = decimal.NewFromInt(999)
	in[0].Name = "Renamed"

	got, err := f.coord.GetOrder(context.Background(), alice, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "Tee", got.Items[0].Name)
	assert.True(t, decimal.RequireFromString("19.99").Equal(got.Items[0].Price))
}

func TestCreatePaymentIntent_RejectsBadAmountsBeforeProcessor(t *testing.T) {
	for _, amount := range []float64{0, -500, 0.4, math.NaN(), math.Inf(1), 2e12} {
		f := newFixture(t)
		o := f.createOrder(t, alice)

		_, err := f.coord.CreatePaymentIntent(context.Background(), alice, o.ID, amount, "inr")
		require.ErrorIs(t, err, orders.ErrInvalidAmount, "amount %v", amount)
		assert.Zero(t, f.proc.calls(), "amount %v reached the processor", amount)
	}
}

func TestCreatePaymentIntent_TagsIntentWithOrder(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, alice)

	secret, err := f.coord.CreatePaymentIntent(context.Background(), alice, o.ID, 4948.4, "")
	require.NoError(t, err)
	assert.Equal(t, "pi_1_secret_abc", secret)

	require.Equal(t, 1, f.proc.calls())
	req := f.proc.requests[0]
	assert.Equal(t, o.ID, req.OrderID)
	assert.EqualValues(t, 4948, req.Amount)
	assert.Equal(t, "inr", req.Currency)
	assert.Equal(t, "order-"+o.ID+"-4948-inr", req.IdempotencyKey)

	// creating an intent never changes the order
	got, err := f.store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPaid)
	assert.Equal(t, orders.StatusPending, got.Status)
}

func TestCreatePaymentIntent_Errors(t *testing.T) {
	t.Run("missing order id", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.coord.CreatePaymentIntent(context.Background(), alice, "", 100, "inr")
		require.ErrorIs(t, err, orders.ErrValidation)
	})
	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.coord.CreatePaymentIntent(context.Background(), alice, "nope", 100, "inr")
		require.ErrorIs(t, err, orders.ErrNotFound)
		assert.Zero(t, f.proc.calls())
	})
	t.Run("bad currency", func(t *testing.T) {
		f := newFixture(t)
		o := f.createOrder(t, alice)
		_, err := f.coord.CreatePaymentIntent(context.Background(), alice, o.ID, 100, "rupees")
		require.ErrorIs(t, err, orders.ErrValidation)
	})
	t.Run("someone else's order", func(t *testing.T) {
		f := newFixture(t)
		o := f.createOrder(t, alice)
		_, err := f.coord.CreatePaymentIntent(context.Background(), bob, o.ID, 100, "inr")
		require.ErrorIs(t, err, orders.ErrForbidden)
		assert.Zero(t, f.proc.calls())
	})
	t.Run("already paid", func(t *testing.T) {
		f := newFixture(t)
		o := f.createOrder(t, alice)
		_, _, err := f.coord.MarkPaid(context.Background(), o.ID, nil, orders.SourceClient)
		require.NoError(t, err)
		_, err = f.coord.CreatePaymentIntent(context.Background(), alice, o.ID, 100, "inr")
		require.ErrorIs(t, err, orders.ErrValidation)
	})
	t.Run("processor down", func(t *testing.T) {
		f := newFixture(t)
		f.proc.err = errors.New("api unavailable")
		o := f.createOrder(t, alice)
		_, err := f.coord.CreatePaymentIntent(context.Background(), alice, o.ID, 100, "inr")
		require.ErrorIs(t, err, orders.ErrUpstreamPayment)
	})
}

func TestHandleWebhook_BadSignatureChangesNothing(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, alice)

	err := f.coord.HandleWebhook(context.Background(), succeeded("evt_1", o.ID), "t=1,v1=forged")
	require.ErrorIs(t, err, orders.ErrSignatureVerification)

	got, err := f.store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPaid)
	assert.Zero(t, f.pub.count(orders.TopicOrderPaid))
}

func TestHandleWebhook_MarksOrderPaid(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, alice)

	require.NoError(t, f.coord.HandleWebhook(context.Background(), succeeded("evt_1", o.ID), goodSig))

	got, err := f.store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPaid)
	assert.Equal(t, orders.StatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)
	require.NotNil(t, got.PaymentInfo)
	assert.Equal(t, "pi_1", got.PaymentInfo.ID)
	assert.EqualValues(t, 4948, got.PaymentInfo.Amount)
	assert.Equal(t, "inr", got.PaymentInfo.Currency)
	assert.Equal(t, 1, f.pub.count(orders.TopicOrderPaid))
}

func TestHandleWebhook_ReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, alice)
	ctx := context.Background()

	require.NoError(t, f.coord.HandleWebhook(ctx, succeeded("evt_1", o.ID), goodSig))
	first, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)

	// same event again, then a different event for the same intent
	require.NoError(t, f.coord.HandleWebhook(ctx, succeeded("evt_1", o.ID), goodSig))
	require.NoError(t, f.coord.HandleWebhook(ctx, succeeded("evt_2", o.ID), goodSig))

	again, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.PaidAt, *again.PaidAt)
	assert.Equal(t, *first.PaymentInfo, *again.PaymentInfo)
	assert.Equal(t, first.UpdatedAt, again.UpdatedAt)
	assert.Equal(t, 1, f.pub.count(orders.TopicOrderPaid))
}

func TestHandleWebhook_DedupSkipsKnownEvents(t *testing.T) {
	f := newFixture(t)
	dd := &memDedup{}
	f.coord.Dedup = dd
	o := f.createOrder(t, alice)

	require.NoError(t, f.coord.HandleWebhook(context.Background(), succeeded("evt_1", o.ID), goodSig))
	assert.True(t, dd.Seen(context.Background(), "evt_1"))
	require.NoError(t, f.coord.HandleWebhook(context.Background(), succeeded("evt_1", o.ID), goodSig))
	assert.Equal(t, 1, f.pub.count(orders.TopicOrderPaid))
}

func TestHandleWebhook_AcknowledgesWhatItCannotApply(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, alice)
	ctx := context.Background()

	t.Run("unknown order", func(t *testing.T) {
		require.NoError(t, f.coord.HandleWebhook(ctx, succeeded("evt_u", "missing"), goodSig))
	})
	t.Run("no order metadata", func(t *testing.T) {
		require.NoError(t, f.coord.HandleWebhook(ctx, succeeded("evt_m", ""), goodSig))
	})
	t.Run("payment failed", func(t *testing.T) {
		b, _ := json.Marshal(orders.PaymentEvent{ID: "evt_f", Type: orders.PaymentFailed, OrderID: o.ID})
		require.NoError(t, f.coord.HandleWebhook(ctx, b, goodSig))
	})
	t.Run("other event type", func(t *testing.T) {
		b, _ := json.Marshal(orders.PaymentEvent{ID: "evt_c", Type: "charge.refunded", OrderID: o.ID})
		require.NoError(t, f.coord.HandleWebhook(ctx, b, goodSig))
	})

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPaid)
	assert.Zero(t, f.pub.count(orders.TopicOrderPaid))
}

func TestHandleWebhook_StorageFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	dd := &memDedup{}
	f.coord.Dedup = dd
	o := f.createOrder(t, alice)
	f.coord.Store = failingStore{f.store}

	err := f.coord.HandleWebhook(context.Background(), succeeded("evt_1", o.ID), goodSig)
	require.ErrorIs(t, err, orders.ErrPersistence)
	assert.False(t, dd.Seen(context.Background(), "evt_1"), "a failed event must stay redeliverable")
}

func TestConfirmPaid_ThenWebhookAttachesMetadata(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, alice)
	ctx := context.Background()

	claimed, err := f.coord.ConfirmPaid(ctx, alice, o.ID, "Paid")
	require.NoError(t, err)
	assert.True(t, claimed.IsPaid)
	assert.Nil(t, claimed.PaymentInfo)
	require.NotNil(t, claimed.PaidAt)

	require.NoError(t, f.coord.HandleWebhook(ctx, succeeded("evt_1", o.ID), goodSig))

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, *claimed.PaidAt, *got.PaidAt, "paidAt is written once")
	require.NotNil(t, got.PaymentInfo)
	assert.Equal(t, "pi_1", got.PaymentInfo.ID)
	assert.Equal(t, 1, f.pub.count(orders.TopicOrderPaid))

	// a later client call does not move paidAt either
	again, err := f.coord.ConfirmPaid(ctx, alice, o.ID, "Paid")
	require.NoError(t, err)
	assert.Equal(t, *claimed.PaidAt, *again.PaidAt)
}

func TestConfirmPaid_Errors(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, alice)
	ctx := context.Background()

	_, err := f.coord.ConfirmPaid(ctx, alice, o.ID, "Pending")
	require.ErrorIs(t, err, orders.ErrValidation)
	_, err = f.coord.ConfirmPaid(ctx, alice, o.ID, "Shipped")
	require.ErrorIs(t, err, orders.ErrValidation)
	_, err = f.coord.ConfirmPaid(ctx, bob, o.ID, "Paid")
	require.ErrorIs(t, err, orders.ErrForbidden)
	_, err = f.coord.ConfirmPaid(ctx, alice, "missing", "Paid")
	require.ErrorIs(t, err, orders.ErrNotFound)

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, got.IsPaid)

	_, err = f.coord.ConfirmPaid(ctx, admin, o.ID, "Paid")
	require.NoError(t, err)
}

func TestMarkPaid_ConcurrentConfirmationsConverge(t *testing.T) {
	f := newFixture(t)
	o := f.createOrder(t, alice)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- f.coord.HandleWebhook(ctx, succeeded("evt_race", o.ID), goodSig)
		}()
		go func() {
			defer wg.Done()
			_, err := f.coord.ConfirmPaid(ctx, alice, o.ID, "Paid")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := f.store.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPaid)
	assert.Equal(t, orders.StatusPaid, got.Status)
	require.NotNil(t, got.PaymentInfo, "webhook metadata lands whichever path won")
	assert.Equal(t, 1, f.pub.count(orders.TopicOrderPaid), "exactly one paid transition")
}

func TestListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.createOrder(t, alice)
	second := f.createOrder(t, alice)
	f.createOrder(t, bob)

	mine, err := f.coord.ListMine(ctx, alice)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID, "newest first")
	assert.Equal(t, first.ID, mine[1].ID)

	_, err = f.coord.ListAll(ctx, alice)
	require.ErrorIs(t, err, orders.ErrForbidden)

	all, err := f.coord.ListAll(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = f.coord.ListMine(ctx, orders.Actor{})
	require.ErrorIs(t, err, orders.ErrAuth)
}

func TestGetOrder_Visibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.createOrder(t, alice)

	_, err := f.coord.GetOrder(ctx, bob, o.ID)
	require.ErrorIs(t, err, orders.ErrForbidden)

	got, err := f.coord.GetOrder(ctx, admin, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = f.coord.GetOrder(ctx, alice, "missing")
	require.ErrorIs(t, err, orders.ErrNotFound)
}
