package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/diagnosis/tolet/pkg/cache"
	"github.com/diagnosis/tolet/pkg/events"
	"github.com/diagnosis/tolet/pkg/mailer"
	"github.com/diagnosis/tolet/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outbox struct {
	mu       sync.Mutex
	payments []mailer.PaymentConfirmation
	accepted []mailer.BookingAccepted
	failNext bool
}

func (o *outbox) SendPaymentConfirmation(_ context.Context, msg mailer.PaymentConfirmation) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failNext {
		o.failNext = false
		return errors.New("smtp down")
	}
	o.payments = append(o.payments, msg)
	return nil
}

func (o *outbox) SendBookingAccepted(_ context.Context, msg mailer.BookingAccepted) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.accepted = append(o.accepted, msg)
	return nil
}

func (o *outbox) sent() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.payments) + len(o.accepted)
}

// fakeBus hands subscriptions straight to the publisher. A handler error is
// what the real bus turns into a redelivery.
type fakeBus struct {
	mu       sync.Mutex
	handlers map[string]func(*events.Message) error
	queues   map[string]string
}

func (b *fakeBus) QueueSubscribe(subject, queue string, h func(*events.Message) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = h
	b.queues[subject] = queue
	return nil
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) deliver(t *testing.T, msg *events.Message) error {
	t.Helper()
	b.mu.Lock()
	h, ok := b.handlers[msg.Subject]
	b.mu.Unlock()
	require.True(t, ok, "no subscription for %s", msg.Subject)
	return h(msg)
}

func newNotifier(t *testing.T) (*Notifier, *outbox, *metrics.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	dedupe := cache.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	mail := &outbox{}
	m := metrics.New(prometheus.NewRegistry())
	bus := &fakeBus{handlers: map[string]func(*events.Message) error{}, queues: map[string]string{}}
	return New(bus, mail, dedupe, m), mail, m
}

func paymentMessage(t *testing.T) *events.Message {
	t.Helper()
	data, err := json.Marshal(events.PaymentCapturedEvent{
		TransactionID: "pi_1",
		Email:         "tenant@example.com",
		Name:          "Tina",
		Amount:        10000,
		Currency:      "usd",
	})
	require.NoError(t, err)
	return &events.Message{Subject: events.PaymentCaptured, Data: data, ID: "payment.captured:pi_1"}
}

func TestPaymentConfirmationSentOnce(t *testing.T) {
	n, mail, m := newNotifier(t)
	ctx := context.Background()
	msg := paymentMessage(t)

	require.NoError(t, n.Handle(ctx, msg))
	require.NoError(t, n.Handle(ctx, msg))

	require.Len(t, mail.payments, 1)
	assert.Equal(t, mailer.PaymentConfirmation{
		To:            "tenant@example.com",
		Name:          "Tina",
		TransactionID: "pi_1",
		Amount:        10000,
		Currency:      "usd",
	}, mail.payments[0])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues(events.PaymentCaptured, "ok")))
}

func TestFailedSendIsRetriedOnRedelivery(t *testing.T) {
	n, mail, m := newNotifier(t)
	ctx := context.Background()
	require.NoError(t, n.Start(ctx))
	bus := n.sub.(*fakeBus)
	msg := paymentMessage(t)
	mail.failNext = true

	// the failure reaches the bus, which redelivers the same message
	assert.Error(t, bus.deliver(t, msg))
	require.NoError(t, bus.deliver(t, msg))
	require.NoError(t, bus.deliver(t, msg))

	assert.Len(t, mail.payments, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues(events.PaymentCaptured, "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues(events.PaymentCaptured, "ok")))
}

func TestBookingAccepted(t *testing.T) {
	n, mail, _ := newNotifier(t)
	data, _ := json.Marshal(events.BookingAcceptedEvent{BookingID: "b1", Title: "Flat", Claimer: "c@example.com"})

	require.NoError(t, n.Handle(context.Background(), &events.Message{Subject: events.BookingAccepted, Data: data, ID: "booking.accepted:b1"}))
	require.Len(t, mail.accepted, 1)
	assert.Equal(t, "c@example.com", mail.accepted[0].To)
	assert.Equal(t, "Flat", mail.accepted[0].Title)
}

func TestBadPayloadIsReported(t *testing.T) {
	n, mail, _ := newNotifier(t)
	err := n.Handle(context.Background(), &events.Message{Subject: events.PaymentCaptured, Data: []byte("{"), ID: "x"})
	assert.ErrorIs(t, err, events.ErrMalformed)
	assert.Zero(t, mail.sent())
}

func TestStartSubscribesBeforeReturning(t *testing.T) {
	n, mail, _ := newNotifier(t)
	bus := n.sub.(*fakeBus)

	require.NoError(t, n.Start(context.Background()))
	assert.Equal(t, queueGroup, bus.queues[events.PaymentCaptured])
	assert.Equal(t, queueGroup, bus.queues[events.BookingAccepted])

	require.NoError(t, bus.deliver(t, paymentMessage(t)))
	assert.Equal(t, 1, mail.sent())
}
