package events

import (
	"context"
	"encoding/json"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/google/uuid"
	"time"
)

// Message is an envelope addressed to a topic and partition key.
type Message struct {
	Topic    string
	Key      string
	Envelope orders.Envelope
}

// Publisher hands messages to the event bus.
type Publisher interface {
	Publish(ctx context.Context, m Message) error
}

// Factory builds lifecycle and inventory messages for the configured topics.
type Factory struct {
	Producer       string
	OrderTopic     string
	InventoryTopic string
	Now            func() time.Time
}

func NewFactory(producer, orderTopic, inventoryTopic string) Factory {
	if orderTopic == "" {
		orderTopic = orders.DefaultTopicOrderEvents
	}
	if inventoryTopic == "" {
		inventoryTopic = orders.DefaultTopicInventoryEvents
	}
	return Factory{Producer: producer, OrderTopic: orderTopic, InventoryTopic: inventoryTopic, Now: time.Now}
}

func (f Factory) now() time.Time {
	if f.Now == nil {
		return time.Now().UTC()
	}
	return f.Now().UTC()
}

// OrderStatus builds a lifecycle event keyed by order id.
func (f Factory) OrderStatus(orderID, status string) Message {
	at := f.now()
	return Message{
		Topic: f.OrderTopic,
		Key:   orderID,
		Envelope: f.envelope(orders.EventOrderStatusChanged, orderID, at, orders.OrderEventPayload{
			OrderID: orderID, Status: status, Timestamp: at,
		}),
	}
}

// Inventory builds an inventory event keyed by product id.
func (f Factory) Inventory(kind, orderID, productID string, qty int) Message {
	at := f.now()
	return Message{
		Topic: f.InventoryTopic,
		Key:   productID,
		Envelope: f.envelope(orders.InventoryEventName(kind), orderID, at, orders.InventoryEventPayload{
			EventType: kind, OrderID: orderID, ProductID: productID, Quantity: qty, Timestamp: at,
		}),
	}
}

func (f Factory) envelope(eventType, correlation string, at time.Time, payload any) orders.Envelope {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err) // payload types are plain structs
	}
	return orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at,
		Producer:      f.Producer,
		CorrelationID: correlation,
		Payload:       b,
	}
}

// Decode unmarshals the payload of m into T.
func Decode[T any](m Message) (T, error) {
	var t T
	err := json.Unmarshal(m.Envelope.Payload, &t)
	return t, err
}
