package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/tolet/internal/domain"
	"github.com/diagnosis/tolet/internal/repo/mongodb"
	"github.com/diagnosis/tolet/pkg/cache"
	"github.com/diagnosis/tolet/pkg/events"
	"github.com/diagnosis/tolet/pkg/logger"
	"github.com/diagnosis/tolet/pkg/metrics"
	"github.com/diagnosis/tolet/pkg/payments"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type PaymentService interface {
	CreateIntent(ctx context.Context, caller *domain.User, in domain.PaymentIntentInput) (*payments.Intent, error)
	// Finalize closes a booking after the processor confirms the payment.
	// Retrying with the same transaction returns the stored payment.
	Finalize(ctx context.Context, caller *domain.User, in domain.PaymentInput) (*domain.Payment, error)
	ByEmail(ctx context.Context, email string) ([]domain.Payment, error)
	ForBooking(ctx context.Context, bookingID string) (*domain.Payment, error)
}

type paymentService struct {
	processor  payments.Processor
	currency   string
	bookings   mongodb.BookingRepo
	properties mongodb.PropertyRepo
	payments   mongodb.PaymentRepo
	outbox     mongodb.OutboxRepo
	cache      Cache
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewPaymentService(
	processor payments.Processor,
	currency string,
	bookings mongodb.BookingRepo,
	properties mongodb.PropertyRepo,
	paymentRepo mongodb.PaymentRepo,
	outbox mongodb.OutboxRepo,
	cache Cache,
	m *metrics.Metrics,
) PaymentService {
	return &paymentService{
		processor:  processor,
		currency:   currency,
		bookings:   bookings,
		properties: properties,
		payments:   paymentRepo,
		outbox:     outbox,
		cache:      cache,
		metrics:    m,
		now:        time.Now,
	}
}

func (s *paymentService) CreateIntent(ctx context.Context, caller *domain.User, in domain.PaymentIntentInput) (*payments.Intent, error) {
	if err := domain.Validate(in); err != nil {
		return nil, err
	}
	bookingID, err := domain.ParseID(in.BookingID)
	if err != nil {
		return nil, err
	}
	booking, err := s.payableBooking(ctx, caller, bookingID)
	if err != nil {
		return nil, err
	}
	amount, err := rentAmount(booking, in.Price)
	if err != nil {
		return nil, err
	}

	intent, err := s.processor.CreateIntent(ctx, amount, s.currency, map[string]string{
		payments.MetaBookingID: bookingID.Hex(),
		"email":                booking.Claimer,
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	err = emit(ctx, s.outbox, events.PaymentIntentCreated, intent.ID, events.PaymentIntentCreatedEvent{
		IntentID: intent.ID,
		Email:    booking.Claimer,
		Amount:   amount,
		Currency: s.currency,
	}, now)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to record payment intent event", "error", err, "intent_id", intent.ID)
	}
	return intent, nil
}

// payableBooking loads a booking the caller may pay for. A booking that is
// already paid is still returned so a retried finalize can converge.
func (s *paymentService) payableBooking(ctx context.Context, caller *domain.User, id primitive.ObjectID) (*domain.Booking, error) {
	booking, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !booking.IsClaimer(caller.Email) && !caller.Is(domain.RoleAdmin) {
		return nil, fmt.Errorf("pay booking %s: %w", id.Hex(), domain.ErrForbidden)
	}
	if booking.Status != domain.ClaimAccepted && booking.Status != domain.ClaimBooked {
		return nil, fmt.Errorf("booking %s is %s: %w", id.Hex(), booking.Status, domain.ErrInvalidState)
	}
	return booking, nil
}

// rentAmount is the charge for a booking in minor units. The posted price
// must match the stored rent.
func rentAmount(booking *domain.Booking, price float64) (int64, error) {
	amount := domain.MinorUnits(booking.Rent)
	if amount <= 0 {
		return 0, fmt.Errorf("booking %s has no rent: %w", booking.ID.Hex(), domain.ErrInvalidState)
	}
	if domain.MinorUnits(price) != amount {
		return 0, domain.NewValidationError("price", "must equal the booking rent")
	}
	return amount, nil
}

func (s *paymentService) Finalize(ctx context.Context, caller *domain.User, in domain.PaymentInput) (*domain.Payment, error) {
	if err := domain.Validate(in); err != nil {
		return nil, err
	}
	bookingID, err := domain.ParseID(in.BookingID)
	if err != nil {
		return nil, err
	}
	propertyID, err := domain.ParseID(in.PropertyID)
	if err != nil {
		return nil, err
	}

	booking, err := s.payableBooking(ctx, caller, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.PropertyID != propertyID {
		return nil, domain.NewValidationError("propertyID", "does not match the booking")
	}
	if booking.Status == domain.ClaimBooked && booking.TransactionID != in.TransactionID {
		return nil, fmt.Errorf("booking %s is already paid: %w", bookingID.Hex(), domain.ErrConflict)
	}
	amount, err := rentAmount(booking, in.Price)
	if err != nil {
		return nil, err
	}

	property, err := s.properties.Get(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if property.Status == domain.ListingBooked && (property.BookingID == nil || *property.BookingID != bookingID) {
		return nil, fmt.Errorf("property %s is booked by someone else: %w", propertyID.Hex(), domain.ErrConflict)
	}

	// ask the processor what was captured, and for which booking
	intent, err := s.processor.GetIntent(ctx, in.TransactionID)
	if errors.Is(err, payments.ErrIntentNotFound) {
		return nil, fmt.Errorf("transaction %s: %w", in.TransactionID, domain.ErrPaymentNotVerified)
	}
	if err != nil {
		return nil, err
	}
	if !intent.Succeeded(amount, s.currency) || intent.Metadata[payments.MetaBookingID] != bookingID.Hex() {
		logger.WarnContext(ctx, "Payment intent did not verify",
			"transaction_id", in.TransactionID,
			"status", intent.Status,
			"amount", intent.Amount,
			"expected_amount", amount,
			"intent_booking_id", intent.Metadata[payments.MetaBookingID],
		)
		return nil, fmt.Errorf("transaction %s: %w", in.TransactionID, domain.ErrPaymentNotVerified)
	}

	// the property transition decides between concurrent payers, so it runs
	// before anything is written for this booking
	if _, err := s.properties.MarkBooked(ctx, propertyID, bookingID); err != nil {
		return nil, err
	}
	if _, err := s.bookings.MarkBooked(ctx, bookingID, in.TransactionID); err != nil {
		return nil, err
	}

	name := in.Name
	if name == "" {
		name = booking.ClaimerName
	}
	now := s.now().UTC()
	payment, created, err := s.payments.Record(ctx, &domain.Payment{
		TransactionID: in.TransactionID,
		BookingID:     bookingID.Hex(),
		PropertyID:    propertyID.Hex(),
		Email:         booking.Claimer,
		Name:          name,
		Price:         booking.Rent,
		Amount:        intent.Amount,
		Currency:      intent.Currency,
		Date:          in.Date,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, cache.KeyAvailableProperties); err != nil {
		logger.WarnContext(ctx, "Listing cache invalidation failed", "error", err)
	}

	err = emit(ctx, s.outbox, events.PaymentCaptured, in.TransactionID, events.PaymentCapturedEvent{
		TransactionID: in.TransactionID,
		BookingID:     bookingID.Hex(),
		PropertyID:    propertyID.Hex(),
		Email:         payment.Email,
		Name:          payment.Name,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		CapturedAt:    payment.CreatedAt,
	}, now)
	if err != nil {
		return nil, err
	}

	if created {
		s.metrics.Transition("booking", "booked")
		logger.InfoContext(ctx, "Payment recorded", "transaction_id", in.TransactionID, "booking_id", bookingID.Hex())
	}
	return payment, nil
}

func (s *paymentService) ByEmail(ctx context.Context, email string) ([]domain.Payment, error) {
	return s.payments.ListByEmail(ctx, email)
}

func (s *paymentService) ForBooking(ctx context.Context, bookingID string) (*domain.Payment, error) {
	if _, err := domain.ParseID(bookingID); err != nil {
		return nil, err
	}
	return s.payments.GetByBooking(ctx, bookingID)
}
