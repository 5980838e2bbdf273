package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/motorshield/warranty-api/internal/domain"
)

// AbandonedCartMessage is the JSON body published for each cart item of an attempted checkout.
type AbandonedCartMessage struct {
	SessionID       string    `json:"sessionId"`
	ItemID          string    `json:"itemId"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone,omitempty"`
	Name            string    `json:"name,omitempty"`
	RegNumber       string    `json:"regNumber"`
	Mileage         int       `json:"mileage"`
	PlanName        string    `json:"planName"`
	DurationMonths  int       `json:"durationMonths"`
	VoluntaryExcess int       `json:"voluntaryExcess"`
	ClaimLimit      int       `json:"claimLimit"`
	AddOns          []string  `json:"addOns,omitempty"`
	TotalPrice      int       `json:"totalPrice"`
	RecordedAt      time.Time `json:"recordedAt"`
}

// PubSubAbandonedCartPublisher sends abandoned-cart snapshots to a Pub/Sub topic for the CRM sync.
type PubSubAbandonedCartPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubAbandonedCartPublisher constructs the publisher for topic.
func NewPubSubAbandonedCartPublisher(topic *pubsub.Topic) (*PubSubAbandonedCartPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub abandoned cart publisher: topic is required")
	}
	return &PubSubAbandonedCartPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Record publishes one snapshot and waits for the server id.
func (p *PubSubAbandonedCartPublisher) Record(ctx context.Context, record domain.AbandonedCartRecord) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub abandoned cart publisher: not initialised")
	}

	data, err := p.marshal(newAbandonedCartMessage(record))
	if err != nil {
		return fmt.Errorf("marshal abandoned cart: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "sessionId", record.SessionID)
	setAttr(attrs, "itemId", record.ItemID)
	setAttr(attrs, "regNumber", record.RegNumber)
	// Messages are ordered per session when the topic enables ordering.
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderingKey(p.topic, record.SessionID),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish abandoned cart: %w", err)
	}
	return nil
}

func newAbandonedCartMessage(record domain.AbandonedCartRecord) AbandonedCartMessage {
	addOns := make([]string, 0, len(record.AddOns))
	for _, key := range record.AddOns {
		addOns = append(addOns, string(key))
	}
	return AbandonedCartMessage{
		SessionID:       record.SessionID,
		ItemID:          record.ItemID,
		Email:           strings.ToLower(strings.TrimSpace(record.Email)),
		Phone:           strings.TrimSpace(record.Phone),
		Name:            strings.TrimSpace(record.Name),
		RegNumber:       record.RegNumber,
		Mileage:         record.Mileage,
		PlanName:        record.PlanName,
		DurationMonths:  record.Rating.DurationMonths,
		VoluntaryExcess: record.Rating.VoluntaryExcess,
		ClaimLimit:      record.Rating.ClaimLimit,
		AddOns:          addOns,
		TotalPrice:      record.TotalPrice,
		RecordedAt:      record.RecordedAt.UTC(),
	}
}

func orderingKey(topic *pubsub.Topic, sessionID string) string {
	if !topic.EnableMessageOrdering {
		return ""
	}
	return sessionID
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
