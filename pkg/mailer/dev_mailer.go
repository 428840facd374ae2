package mailer

import (
	"context"

	"github.com/diagnosis/tolet/pkg/logger"
)

// DevMailer only logs. It is the default outside production.
type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) SendPaymentConfirmation(ctx context.Context, msg PaymentConfirmation) error {
	r := renderPaymentConfirmation(msg)
	logger.InfoContext(ctx, "[DEV MAIL] Payment confirmation",
		"to", msg.To,
		"subject", r.subject,
		"transaction_id", msg.TransactionID,
		"body", r.text,
	)
	return nil
}

func (d *DevMailer) SendBookingAccepted(ctx context.Context, msg BookingAccepted) error {
	r := renderBookingAccepted(msg)
	logger.InfoContext(ctx, "[DEV MAIL] Booking accepted",
		"to", msg.To,
		"subject", r.subject,
		"body", r.text,
	)
	return nil
}
