package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diagnosis/tolet/pkg/logger"
	"github.com/nats-io/nats.go"
)

// MsgIDHeader carries the outbox id so consumers can drop redeliveries.
const MsgIDHeader = nats.MsgIdHdr

const (
	StreamName = "TOLET"
	// duplicates with the same message id inside this window are dropped by the server
	dedupeWindow = 10 * time.Minute
	ackWait      = 45 * time.Second
	retryDelay   = 15 * time.Second
	maxDeliver   = 20
)

// ErrMalformed marks a message that can never be handled. It is terminated
// instead of redelivered.
var ErrMalformed = errors.New("malformed event")

var streamSubjects = []string{"listing.>", "booking.>", "payment.>", "ownership.>"}

type Publisher interface {
	PublishWithID(ctx context.Context, subject, id string, payload []byte) error
	Close() error
}

// Subscriber delivers each message until its handler returns nil.
type Subscriber interface {
	QueueSubscribe(subject, queue string, handler func(msg *Message) error) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

// NATSEventBus is backed by a JetStream stream, so published events survive
// until a consumer acknowledges them.
type NATSEventBus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.Name("tolet-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open JetStream: %w", err)
	}

	bus := &NATSEventBus{conn: conn, js: js}
	if err := bus.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return bus, nil
}

func (n *NATSEventBus) ensureStream() error {
	cfg := &nats.StreamConfig{
		Name:       StreamName,
		Subjects:   streamSubjects,
		Storage:    nats.FileStorage,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: dedupeWindow,
	}
	_, err := n.js.StreamInfo(StreamName)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		_, err = n.js.AddStream(cfg)
	case err == nil:
		_, err = n.js.UpdateStream(cfg)
	}
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}
	return nil
}

// PublishWithID returns once the stream has stored the message.
func (n *NATSEventBus) PublishWithID(ctx context.Context, subject, id string, payload []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = payload

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "id", id)

	ack, err := n.js.PublishMsg(msg, nats.MsgId(id), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if ack.Duplicate {
		logger.DebugContext(ctx, "Event already in stream", "id", id)
	}
	return nil
}

// QueueSubscribe binds a durable consumer per queue and subject. A handler
// error naks the message for a delayed redelivery.
func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message) error) error {
	name := consumerName(queue, subject)
	_, err := n.js.QueueSubscribe(subject, name, func(msg *nats.Msg) {
		m := toMessage(msg)
		settle(msg, m, handler(m))
	},
		nats.Durable(name),
		nats.BindStream(StreamName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverAll(),
		nats.AckWait(ackWait),
		nats.MaxDeliver(maxDeliver),
	)
	return err
}

func (n *NATSEventBus) Close() error {
	return n.conn.Drain()
}

// acker is the acknowledgement side of a JetStream message.
type acker interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

func settle(a acker, m *Message, err error) {
	var ackErr error
	switch {
	case err == nil:
		ackErr = a.Ack()
	case errors.Is(err, ErrMalformed):
		logger.Error("Dropping malformed event", "subject", m.Subject, "id", m.ID, "error", err)
		ackErr = a.Term()
	default:
		logger.Warn("Event handler failed, redelivering", "subject", m.Subject, "id", m.ID, "error", err)
		ackErr = a.NakWithDelay(retryDelay)
	}
	if ackErr != nil {
		logger.Warn("Failed to acknowledge event", "subject", m.Subject, "id", m.ID, "error", ackErr)
	}
}

// consumerName builds a durable name; JetStream names cannot contain dots.
func consumerName(queue, subject string) string {
	r := strings.NewReplacer(".", "_", "*", "any", ">", "all")
	return r.Replace(queue + "_" + subject)
}

func toMessage(msg *nats.Msg) *Message {
	m := &Message{Subject: msg.Subject, Data: msg.Data, Timestamp: time.Now()}
	if msg.Header != nil {
		m.ID = msg.Header.Get(MsgIDHeader)
	}
	if meta, err := msg.Metadata(); err == nil {
		m.Timestamp = meta.Timestamp
		if m.ID == "" {
			m.ID = fmt.Sprintf("%s:%d", meta.Stream, meta.Sequence.Stream)
		}
	}
	if m.ID == "" {
		m.ID = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return m
}

// Event subjects
const (
	ListingAccepted = "listing.accepted"
	ListingRejected = "listing.rejected"

	BookingRequested = "booking.requested"
	BookingAccepted  = "booking.accepted"
	BookingRejected  = "booking.rejected"

	PaymentIntentCreated = "payment.intent.created"
	PaymentCaptured      = "payment.captured"

	OwnershipGranted = "ownership.granted"
)

// Event payloads
type ListingAcceptedEvent struct {
	PropertyID string    `json:"property_id"`
	Title      string    `json:"title"`
	HostEmail  string    `json:"host_email"`
	AcceptedAt time.Time `json:"accepted_at"`
}

type BookingRequestedEvent struct {
	RequestID  string    `json:"request_id"`
	PropertyID string    `json:"property_id"`
	Claimer    string    `json:"claimer"`
	HostEmail  string    `json:"host_email"`
	CreatedAt  time.Time `json:"created_at"`
}

type BookingAcceptedEvent struct {
	BookingID  string    `json:"booking_id"`
	PropertyID string    `json:"property_id"`
	Title      string    `json:"title"`
	Claimer    string    `json:"claimer"`
	HostEmail  string    `json:"host_email"`
	AcceptedAt time.Time `json:"accepted_at"`
}

type PaymentCapturedEvent struct {
	TransactionID string    `json:"transaction_id"`
	BookingID     string    `json:"booking_id"`
	PropertyID    string    `json:"property_id"`
	Email         string    `json:"email"`
	Name          string    `json:"name,omitempty"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	CapturedAt    time.Time `json:"captured_at"`
}

type PaymentIntentCreatedEvent struct {
	IntentID string `json:"intent_id"`
	Email    string `json:"email"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type OwnershipGrantedEvent struct {
	Email     string    `json:"email"`
	GrantedAt time.Time `json:"granted_at"`
}
