package mailer

import (
	"fmt"
	"html"
	"strings"
)

type rendered struct {
	subject string
	text    string
	html    string
}

func renderPaymentConfirmation(m PaymentConfirmation) rendered {
	amount := formatAmount(m.Amount, m.Currency)
	return rendered{
		subject: "Confirmation of Payment",
		text: fmt.Sprintf("Your Property is booked successfully! Transaction Id: %s\n\nAmount paid: %s",
			m.TransactionID, amount),
		html: fmt.Sprintf(`
		<h2>Your Property is booked successfully!</h2>
		<p>Hi %s,</p>
		<p>Transaction Id: <strong>%s</strong></p>
		<p>Amount paid: %s</p>
	`, html.EscapeString(greetingName(m.Name)), html.EscapeString(m.TransactionID), amount),
	}
}

func renderBookingAccepted(m BookingAccepted) rendered {
	return rendered{
		subject: "Your booking request was accepted",
		text: fmt.Sprintf("Your booking request for %q was accepted by the owner. Complete the payment to confirm it.",
			m.Title),
		html: fmt.Sprintf(`
		<h2>Booking request accepted</h2>
		<p>Hi %s,</p>
		<p>Your request for <strong>%s</strong> was accepted by the owner.</p>
		<p>Complete the payment to confirm the booking.</p>
	`, html.EscapeString(greetingName(m.Name)), html.EscapeString(m.Title)),
	}
}

func formatAmount(minor int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", minor/100, minor%100, strings.ToUpper(currency))
}

func greetingName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "there"
	}
	return name
}
