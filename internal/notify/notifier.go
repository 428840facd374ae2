package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diagnosis/tolet/pkg/events"
	"github.com/diagnosis/tolet/pkg/logger"
	"github.com/diagnosis/tolet/pkg/mailer"
	"github.com/diagnosis/tolet/pkg/metrics"
)

const (
	queueGroup   = "tolet-notify"
	dedupeTTL    = 7 * 24 * time.Hour
	handleBudget = 30 * time.Second
)

// Deduper remembers which messages were already handled.
type Deduper interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Notifier turns lifecycle events into emails. The event bus may deliver a
// message more than once; the deduper makes each email go out once.
type Notifier struct {
	sub     events.Subscriber
	mail    mailer.Service
	dedupe  Deduper
	metrics *metrics.Metrics
}

func New(sub events.Subscriber, mail mailer.Service, dedupe Deduper, m *metrics.Metrics) *Notifier {
	return &Notifier{sub: sub, mail: mail, dedupe: dedupe, metrics: m}
}

// Start binds the durable subscriptions. It must return before the outbox
// relay starts publishing. Subscriptions end when the bus is closed.
func (n *Notifier) Start(ctx context.Context) error {
	base := context.WithoutCancel(ctx)
	for _, subject := range []string{events.PaymentCaptured, events.BookingAccepted} {
		err := n.sub.QueueSubscribe(subject, queueGroup, func(msg *events.Message) error {
			hctx, cancel := context.WithTimeout(base, handleBudget)
			defer cancel()
			err := n.Handle(hctx, msg)
			if err != nil {
				logger.ErrorContext(hctx, "Notification failed", "subject", msg.Subject, "id", msg.ID, "error", err)
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
	}
	logger.InfoContext(ctx, "Notifier started", "queue", queueGroup)
	return nil
}

// Handle sends the email for one message. A failed send releases the dedupe
// key and returns the error, and the bus redelivers the message later.
func (n *Notifier) Handle(ctx context.Context, msg *events.Message) error {
	first, err := n.dedupe.MarkOnce(ctx, msg.ID, dedupeTTL)
	if err != nil {
		// send anyway when the dedupe store is down
		logger.WarnContext(ctx, "Dedupe check failed", "id", msg.ID, "error", err)
		first = true
	}
	if !first {
		logger.DebugContext(ctx, "Duplicate event skipped", "id", msg.ID)
		return nil
	}

	err = n.send(ctx, msg)
	n.metrics.Notified(msg.Subject, err)
	if err != nil {
		if ferr := n.dedupe.Forget(ctx, msg.ID); ferr != nil {
			logger.WarnContext(ctx, "Failed to release dedupe key", "id", msg.ID, "error", ferr)
		}
		return err
	}
	return nil
}

func (n *Notifier) send(ctx context.Context, msg *events.Message) error {
	switch msg.Subject {
	case events.PaymentCaptured:
		var ev events.PaymentCapturedEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmt.Errorf("decode %s: %w: %v", msg.Subject, events.ErrMalformed, err)
		}
		logger.InfoContext(ctx, "Sending payment confirmation", "email", ev.Email, "transaction_id", ev.TransactionID)
		return n.mail.SendPaymentConfirmation(ctx, mailer.PaymentConfirmation{
			To:            ev.Email,
			Name:          ev.Name,
			TransactionID: ev.TransactionID,
			Amount:        ev.Amount,
			Currency:      ev.Currency,
		})
	case events.BookingAccepted:
		var ev events.BookingAcceptedEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return fmt.Errorf("decode %s: %w: %v", msg.Subject, events.ErrMalformed, err)
		}
		logger.InfoContext(ctx, "Sending booking acceptance", "email", ev.Claimer, "booking_id", ev.BookingID)
		return n.mail.SendBookingAccepted(ctx, mailer.BookingAccepted{
			To:    ev.Claimer,
			Title: ev.Title,
		})
	default:
		return fmt.Errorf("no notification for subject %q: %w", msg.Subject, events.ErrMalformed)
	}
}
