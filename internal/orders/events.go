package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderStatusChanged = "OrderStatusChanged"
	EventInventoryReserved  = "InventoryReserved"
	EventInventoryReleased  = "InventoryReleased"
	EventInventoryConfirmed = "InventoryConfirmed"
)

// Inventory payload event types.
const (
	InventoryReserved  = "RESERVED"
	InventoryReleased  = "RELEASED"
	InventoryConfirmed = "CONFIRMED"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`                  // payload spesifik
}

// ---- Payload tipe per event ----

type OrderEventPayload struct {
	OrderID   string    `json:"order_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type InventoryEventPayload struct {
	EventType string    `json:"event_type"` // RESERVED | RELEASED | CONFIRMED
	OrderID   string    `json:"order_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

func InventoryEventName(kind string) string {
	switch kind {
	case InventoryReserved:
		return EventInventoryReserved
	case InventoryReleased:
		return EventInventoryReleased
	case InventoryConfirmed:
		return EventInventoryConfirmed
	}
	return ""
}
