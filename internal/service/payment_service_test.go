package service

import (
	"context"
	"testing"
	"time"

	"github.com/diagnosis/tolet/internal/domain"
	"github.com/diagnosis/tolet/pkg/events"
	"github.com/diagnosis/tolet/pkg/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type paymentFixture struct {
	svc        PaymentService
	processor  *fakeProcessor
	booking    *domain.Booking
	property   *domain.Property
	bookings   *fakeBookings
	properties *fakeProperties
	payments   *fakePayments
	outbox     *fakeOutbox
	cache      *fakeCache
}

func newPaymentFixture() *paymentFixture {
	property := &domain.Property{
		ID:             primitive.NewObjectID(),
		ListingDetails: listing(owner.Email),
		Status:         domain.ListingAvailable,
	}
	booking := &domain.Booking{
		ID: primitive.NewObjectID(),
		ClaimDetails: domain.ClaimDetails{
			PropertyID: property.ID,
			Title:      property.Title,
			Rent:       property.Rent,
			Claimer:    member.Email,
			HostEmail:  owner.Email,
		},
		Status:     domain.ClaimAccepted,
		AcceptedAt: time.Now(),
	}
	f := &paymentFixture{
		processor:  newFakeProcessor(),
		booking:    booking,
		property:   property,
		bookings:   newFakeBookings(booking),
		properties: newFakeProperties(property),
		payments:   newFakePayments(),
		outbox:     newFakeOutbox(),
		cache:      newFakeCache(),
	}
	f.svc = NewPaymentService(f.processor, "usd", f.bookings, f.properties, f.payments, f.outbox, f.cache, nil)
	return f
}

func (f *paymentFixture) input(tx string) domain.PaymentInput {
	return domain.PaymentInput{
		TransactionID: tx,
		BookingID:     f.booking.ID.Hex(),
		PropertyID:    f.property.ID.Hex(),
		Price:         100,
	}
}

func (f *paymentFixture) succeed(tx string, amount int64) {
	f.succeedFor(f.booking, tx, amount)
}

func (f *paymentFixture) succeedFor(b *domain.Booking, tx string, amount int64) {
	f.processor.intents[tx] = &payments.Intent{
		ID:       tx,
		Amount:   amount,
		Currency: "usd",
		Status:   payments.StatusSucceeded,
		Metadata: map[string]string{payments.MetaBookingID: b.ID.Hex()},
	}
}

// secondClaim adds another accepted booking on the fixture's property.
func (f *paymentFixture) secondClaim(claimer string) *domain.Booking {
	b := &domain.Booking{
		ID:           primitive.NewObjectID(),
		ClaimDetails: f.booking.ClaimDetails,
		Status:       domain.ClaimAccepted,
		AcceptedAt:   time.Now(),
	}
	b.Claimer = claimer
	f.bookings.docs[b.ID] = b
	return b
}

// staleProperties answers Get with a snapshot taken before other payers ran.
type staleProperties struct {
	*fakeProperties
	snapshot domain.Property
}

func (s *staleProperties) Get(context.Context, primitive.ObjectID) (*domain.Property, error) {
	cp := s.snapshot
	return &cp, nil
}

func TestCreateIntentUsesMinorUnits(t *testing.T) {
	f := newPaymentFixture()
	in := domain.PaymentIntentInput{Price: 100, BookingID: f.booking.ID.Hex()}

	intent, err := f.svc.CreateIntent(context.Background(), member, in)
	require.NoError(t, err)
	assert.Equal(t, "pi_1_secret", intent.ClientSecret)
	require.Len(t, f.processor.created, 1)
	assert.Equal(t, int64(10000), f.processor.created[0].Amount)
	assert.Equal(t, "usd", f.processor.created[0].Currency)
	assert.Equal(t, f.booking.ID.Hex(), f.processor.created[0].Metadata[payments.MetaBookingID])
	assert.Equal(t, 1, f.outbox.count(events.PaymentIntentCreated))

	_, err = f.svc.CreateIntent(context.Background(), member, domain.PaymentIntentInput{Price: 0, BookingID: f.booking.ID.Hex()})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCreateIntentChargesTheRent(t *testing.T) {
	f := newPaymentFixture()
	ctx := context.Background()

	_, err := f.svc.CreateIntent(ctx, member, domain.PaymentIntentInput{Price: 0.01, BookingID: f.booking.ID.Hex()})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "price")

	_, err = f.svc.CreateIntent(ctx, owner, domain.PaymentIntentInput{Price: 100, BookingID: f.booking.ID.Hex()})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.CreateIntent(ctx, member, domain.PaymentIntentInput{Price: 100, BookingID: primitive.NewObjectID().Hex()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.processor.created)
}

func TestFinalizeBooksEverythingOnce(t *testing.T) {
	f := newPaymentFixture()
	ctx := context.Background()
	f.succeed("pi_ok", 10000)

	p, err := f.svc.Finalize(ctx, member, f.input("pi_ok"))
	require.NoError(t, err)
	assert.Equal(t, "pi_ok", p.TransactionID)
	assert.Equal(t, member.Email, p.Email)
	assert.Equal(t, int64(10000), p.Amount)

	b, _ := f.bookings.Get(ctx, f.booking.ID)
	assert.Equal(t, domain.ClaimBooked, b.Status)
	assert.Equal(t, "pi_ok", b.TransactionID)

	prop, _ := f.properties.Get(ctx, f.property.ID)
	assert.Equal(t, domain.ListingBooked, prop.Status)
	require.NotNil(t, prop.BookingID)
	assert.Equal(t, f.booking.ID, *prop.BookingID)

	// a retried request changes nothing
	again, err := f.svc.Finalize(ctx, member, f.input("pi_ok"))
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
	assert.Len(t, f.payments.byTx, 1)
	assert.Equal(t, 1, f.outbox.count(events.PaymentCaptured))
	assert.Equal(t, 2, f.cache.drops)
}

func TestFinalizeRefusesUnverifiedPayments(t *testing.T) {
	cases := map[string]func(f *paymentFixture){
		"unknown intent": func(f *paymentFixture) {},
		"not succeeded": func(f *paymentFixture) {
			f.succeed("pi_ok", 10000)
			f.processor.intents["pi_ok"].Status = "requires_payment_method"
		},
		"amount mismatch": func(f *paymentFixture) { f.succeed("pi_ok", 500) },
		"intent for another booking": func(f *paymentFixture) {
			f.succeed("pi_ok", 10000)
			f.processor.intents["pi_ok"].Metadata[payments.MetaBookingID] = primitive.NewObjectID().Hex()
		},
		"intent without booking": func(f *paymentFixture) {
			f.succeed("pi_ok", 10000)
			f.processor.intents["pi_ok"].Metadata = nil
		},
	}

	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			f := newPaymentFixture()
			setup(f)

			_, err := f.svc.Finalize(context.Background(), member, f.input("pi_ok"))
			require.ErrorIs(t, err, domain.ErrPaymentNotVerified)
			assert.Empty(t, f.payments.byTx)
			assert.Equal(t, domain.ClaimAccepted, f.booking.Status)
			assert.Equal(t, domain.ListingAvailable, f.property.Status)
		})
	}
}

func TestFinalizeRefusesPriceBelowRent(t *testing.T) {
	f := newPaymentFixture()
	f.succeed("pi_cheap", 1)
	in := f.input("pi_cheap")
	in.Price = 0.01

	_, err := f.svc.Finalize(context.Background(), member, in)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "price")
	assert.Empty(t, f.payments.byTx)
	assert.Equal(t, domain.ListingAvailable, f.property.Status)
}

func TestFinalizeLosingPayerWritesNothing(t *testing.T) {
	f := newPaymentFixture()
	ctx := context.Background()
	before := *f.property
	rival := f.secondClaim("rival@example.com")

	f.succeed("pi_a", 10000)
	_, err := f.svc.Finalize(ctx, member, f.input("pi_a"))
	require.NoError(t, err)

	// the rival read the property while it was still available
	stale := NewPaymentService(f.processor, "usd", f.bookings, &staleProperties{fakeProperties: f.properties, snapshot: before}, f.payments, f.outbox, f.cache, nil)
	f.succeedFor(rival, "pi_b", 10000)
	in := f.input("pi_b")
	in.BookingID = rival.ID.Hex()
	_, err = stale.Finalize(ctx, &domain.User{Email: "rival@example.com", Role: domain.RoleMember}, in)
	require.ErrorIs(t, err, domain.ErrConflict)

	b, _ := f.bookings.Get(ctx, rival.ID)
	assert.Equal(t, domain.ClaimAccepted, b.Status)
	assert.Empty(t, b.TransactionID)
	assert.Len(t, f.payments.byTx, 1)
	prop, _ := f.properties.Get(ctx, f.property.ID)
	require.NotNil(t, prop.BookingID)
	assert.Equal(t, f.booking.ID, *prop.BookingID)
	assert.Equal(t, 1, f.outbox.count(events.PaymentCaptured))
}

func TestFinalizePaysAsTheClaimer(t *testing.T) {
	f := newPaymentFixture()
	f.succeed("pi_ok", 10000)

	p, err := f.svc.Finalize(context.Background(), admin, f.input("pi_ok"))
	require.NoError(t, err)
	assert.Equal(t, member.Email, p.Email)

	got, err := f.svc.ForBooking(context.Background(), f.booking.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, member.Email, got.Email)
}

func TestFinalizeProcessorError(t *testing.T) {
	f := newPaymentFixture()
	f.processor.getErr = errBoom

	_, err := f.svc.Finalize(context.Background(), member, f.input("pi_ok"))
	assert.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, domain.ErrPaymentNotVerified)
}

func TestFinalizeChecksOwnershipAndReferences(t *testing.T) {
	f := newPaymentFixture()
	ctx := context.Background()
	f.succeed("pi_ok", 10000)

	_, err := f.svc.Finalize(ctx, owner, f.input("pi_ok"))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	in := f.input("pi_ok")
	in.PropertyID = primitive.NewObjectID().Hex()
	_, err = f.svc.Finalize(ctx, member, in)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)

	in = f.input("pi_ok")
	in.BookingID = "nope"
	_, err = f.svc.Finalize(ctx, member, in)
	assert.ErrorAs(t, err, &verr)

	_, err = f.svc.Finalize(ctx, admin, f.input("pi_ok"))
	assert.NoError(t, err)
}

func TestFinalizeRefusesPropertyBookedByAnother(t *testing.T) {
	f := newPaymentFixture()
	other := primitive.NewObjectID()
	f.property.Status = domain.ListingBooked
	f.property.BookingID = &other
	f.succeed("pi_ok", 10000)

	_, err := f.svc.Finalize(context.Background(), member, f.input("pi_ok"))
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, f.payments.byTx)
}

func TestPaymentQueries(t *testing.T) {
	f := newPaymentFixture()
	ctx := context.Background()
	f.succeed("pi_ok", 10000)
	_, err := f.svc.Finalize(ctx, member, f.input("pi_ok"))
	require.NoError(t, err)

	list, err := f.svc.ByEmail(ctx, member.Email)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	p, err := f.svc.ForBooking(ctx, f.booking.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "pi_ok", p.TransactionID)

	_, err = f.svc.ForBooking(ctx, "bad")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}
