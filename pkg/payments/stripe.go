package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

const (
	// StatusSucceeded is the PaymentIntent status that allows a booking to close.
	StatusSucceeded = "succeeded"
	// MetaBookingID ties an intent to the booking it was created for.
	MetaBookingID = "booking_id"
)

var (
	ErrIntentNotFound = errors.New("payment intent not found")
	ErrNotConfigured  = errors.New("payment processor not configured")
)

// Intent is the part of a processor payment intent the API relies on.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       string
	Metadata     map[string]string
}

// Succeeded reports whether the intent was captured for exactly amount/currency.
func (i *Intent) Succeeded(amount int64, currency string) bool {
	return i != nil &&
		i.Status == StatusSucceeded &&
		i.Amount == amount &&
		strings.EqualFold(i.Currency, currency)
}

type Processor interface {
	CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Intent, error)
	GetIntent(ctx context.Context, id string) (*Intent, error)
}

type StripeProcessor struct {
	api *client.API
}

// NewStripe returns a processor using the secret key. backends may be nil;
// tests point it at a local server.
func NewStripe(secretKey string, backends *stripe.Backends) *StripeProcessor {
	if secretKey == "" {
		return &StripeProcessor{}
	}
	return &StripeProcessor{api: client.New(secretKey, backends)}
}

func (s *StripeProcessor) CreateIntent(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Intent, error) {
	if s.api == nil {
		return nil, ErrNotConfigured
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amount),
		Currency:           stripe.String(strings.ToLower(currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return toIntent(pi), nil
}

func (s *StripeProcessor) GetIntent(ctx context.Context, id string) (*Intent, error) {
	if s.api == nil {
		return nil, ErrNotConfigured
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := s.api.PaymentIntents.Get(id, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeResourceMissing {
			return nil, fmt.Errorf("%w: %s", ErrIntentNotFound, id)
		}
		return nil, fmt.Errorf("retrieve payment intent: %w", err)
	}
	return toIntent(pi), nil
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
		Metadata:     pi.Metadata,
	}
}
