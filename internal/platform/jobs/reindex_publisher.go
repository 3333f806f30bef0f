package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/cartengine/internal/services"
)

const reindexJobType = "cart.reindex"

// CartReindexMessage is the payload consumed by the search indexing worker.
type CartReindexMessage struct {
	Type        string    `json:"type"`
	CartID      string    `json:"cartId"`
	CartNumber  string    `json:"cartNumber"`
	IsCompleted bool      `json:"isCompleted"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CartReindexPublisher enqueues search index refreshes on a Pub/Sub topic. Messages for one cart
// share an ordering key so the worker sees them in save order.
type CartReindexPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewCartReindexPublisher enables message ordering on topic and wraps it.
func NewCartReindexPublisher(topic *pubsub.Topic) (*CartReindexPublisher, error) {
	if topic == nil {
		return nil, errors.New("cart reindex publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &CartReindexPublisher{topic: topic, marshal: json.Marshal}, nil
}

// EnqueueCartReindex publishes one reindex job and waits for the server acknowledgement.
func (p *CartReindexPublisher) EnqueueCartReindex(ctx context.Context, cart services.Cart) error {
	if p == nil || p.topic == nil {
		return errors.New("cart reindex publisher: not initialised")
	}
	cartID := strings.TrimSpace(cart.ID)
	if cartID == "" {
		return errors.New("cart reindex publisher: cart id is required")
	}

	data, err := p.marshal(CartReindexMessage{
		Type:        reindexJobType,
		CartID:      cartID,
		CartNumber:  cart.Number,
		IsCompleted: cart.IsCompleted,
		UpdatedAt:   cart.UpdatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal cart reindex job: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: cartID,
		Attributes: map[string]string{
			"type":   reindexJobType,
			"cartId": cartID,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		p.topic.ResumePublish(cartID)
		return fmt.Errorf("publish cart reindex job: %w", err)
	}
	return nil
}

var _ services.SearchIndexer = (*CartReindexPublisher)(nil)
