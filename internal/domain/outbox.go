package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// OutboxEvent is a pending event for the relay. The id is derived from the
// subject and aggregate so appending the same transition twice is a no-op.
type OutboxEvent struct {
	ID           string     `bson:"_id" json:"id"`
	Subject      string     `bson:"subject" json:"subject"`
	AggregateID  string     `bson:"aggregate_id" json:"aggregate_id"`
	Payload      []byte     `bson:"payload" json:"payload"`
	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
	DispatchedAt *time.Time `bson:"dispatched_at,omitempty" json:"dispatched_at,omitempty"`
	Attempts     int        `bson:"attempts" json:"attempts"`
	LastError    string     `bson:"last_error,omitempty" json:"last_error,omitempty"`
}

func NewOutboxEvent(subject, aggregateID string, payload any, now time.Time) (*OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	return &OutboxEvent{
		ID:          subject + ":" + aggregateID,
		Subject:     subject,
		AggregateID: aggregateID,
		Payload:     data,
		CreatedAt:   now,
	}, nil
}
