package mailer

import (
	"context"

	"github.com/diagnosis/tolet/pkg/config"
)

type Service interface {
	SendPaymentConfirmation(ctx context.Context, msg PaymentConfirmation) error
	SendBookingAccepted(ctx context.Context, msg BookingAccepted) error
}

type PaymentConfirmation struct {
	To            string
	Name          string
	TransactionID string
	Amount        int64 // minor units
	Currency      string
}

type BookingAccepted struct {
	To    string
	Name  string
	Title string
}

// New picks the mailer for cfg: the log-only mailer in dev mode, MailerSend
// when an API key is set, SMTP otherwise.
func New(cfg config.EmailConfig) Service {
	switch {
	case cfg.DevMode:
		return NewDevMailer()
	case cfg.MailerSendKey != "":
		return NewMailerSend(cfg.MailerSendKey, cfg.FromName, cfg.FromEmail)
	default:
		return NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPUseTLS)
	}
}
