package mailer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
)

var ErrNotConfigured = errors.New("mailersend not configured")

type MailerSendClient struct {
	client  *mailersend.Mailersend
	from    mailersend.From
	enabled bool
}

func NewMailerSend(apiKey, fromName, fromEmail string) *MailerSendClient {
	m := &MailerSendClient{
		enabled: apiKey != "" && fromEmail != "",
		from: mailersend.From{
			Name:  fromName,
			Email: fromEmail,
		},
	}

	if m.enabled {
		m.client = mailersend.NewMailersend(apiKey)
	}

	return m
}

func (m *MailerSendClient) SendPaymentConfirmation(ctx context.Context, msg PaymentConfirmation) error {
	return m.send(ctx, msg.To, msg.Name, renderPaymentConfirmation(msg))
}

func (m *MailerSendClient) SendBookingAccepted(ctx context.Context, msg BookingAccepted) error {
	return m.send(ctx, msg.To, msg.Name, renderBookingAccepted(msg))
}

func (m *MailerSendClient) send(ctx context.Context, toEmail, toName string, r rendered) error {
	if !m.enabled {
		return ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Name: toName, Email: toEmail}})
	msg.SetSubject(r.subject)

	if strings.TrimSpace(r.text) != "" {
		msg.SetText(r.text)
	}
	if strings.TrimSpace(r.html) != "" {
		msg.SetHTML(r.html)
	}

	_, err := m.client.Email.Send(ctx, msg)
	return err
}
