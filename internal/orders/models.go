package orders

import (
	"fmt"
	"github.com/google/uuid"
	"math/rand/v2"
	"time"
)

type Product struct {
	ID           string
	Name         string
	TotalStock   int
	StockManaged bool // false = unbounded stock
	UpdatedAt    time.Time
}

type Order struct {
	ID                 string
	ProductID          string
	Quantity           int
	Status             Status // lihat status.go
	PaymentRequestedAt *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewOrder validates input and returns an order in CREATED.
func NewOrder(productID string, qty int, now time.Time) (Order, error) {
	if productID == "" {
		return Order{}, Validation("product id is required")
	}
	if err := ValidateQuantity(qty); err != nil {
		return Order{}, err
	}
	return Order{
		ID:        uuid.NewString(),
		ProductID: productID,
		Quantity:  qty,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// MoveTo applies a state-machine validated transition.
func (o *Order) MoveTo(target Status, now time.Time) error {
	next, err := Transition(o.Status, target)
	if err != nil {
		return err
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}

type Payment struct {
	ID            string
	OrderID       string
	Success       bool
	TransactionID string // unique per attempt
	ProcessedAt   time.Time
}

func NewPayment(orderID string, success bool, now time.Time) Payment {
	return Payment{
		ID:            uuid.NewString(),
		OrderID:       orderID,
		Success:       success,
		TransactionID: uuid.NewString(),
		ProcessedAt:   now,
	}
}

type Delivery struct {
	ID             string
	OrderID        string
	Status         Status // SHIPMENT_PREPARING | SHIPPED | DELIVERED | CANCELLED
	StartedAt      time.Time
	ShippedAt      *time.Time
	CompletedAt    *time.Time
	TrackingNumber string
	Courier        string
}

func NewDelivery(orderID string, now time.Time) Delivery {
	return Delivery{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Status:    StatusShipmentPreparing,
		StartedAt: now,
	}
}

// MarkShipped assigns tracking and courier once; later calls keep the originals.
func (d *Delivery) MarkShipped(now time.Time, courier string) {
	d.Status = StatusShipped
	d.ShippedAt = &now
	if d.TrackingNumber == "" {
		d.TrackingNumber = TrackingNumber(d.OrderID)
	}
	if d.Courier == "" {
		d.Courier = courier
	}
}

func (d *Delivery) MarkDelivered(now time.Time) {
	d.Status = StatusDelivered
	d.CompletedAt = &now
}

// Cancel takes a delivery out of the advancer's due lists for good.
func (d *Delivery) Cancel(now time.Time) {
	d.Status = StatusCancelled
	d.CompletedAt = &now
}

func TrackingNumber(orderID string) string {
	prefix := orderID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("TRACK-%s-%05d", prefix, rand.IntN(100000))
}

// StockStatus is the read-only monitoring view of one product.
type StockStatus struct {
	ProductID      string `json:"product_id"`
	DurableStock   int    `json:"durable_stock"`
	FastViewStock  int64  `json:"fast_view_stock"`
	ReservedStock  int64  `json:"reserved_stock"`
	StockManaged   bool   `json:"stock_managed"`
	FastViewCached bool   `json:"fast_view_cached"`
}

// DeliveryInfo is the client-facing delivery/tracking view.
type DeliveryInfo struct {
	DeliveryID       string     `json:"delivery_id"`
	OrderID          string     `json:"order_id"`
	Status           Status     `json:"status"`
	TrackingNumber   string     `json:"tracking_number,omitempty"`
	Courier          string     `json:"courier,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	ShippedAt        *time.Time `json:"shipped_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	EstimatedArrival *time.Time `json:"estimated_arrival,omitempty"`
}

const estimatedTransit = 24 * time.Hour

func (d Delivery) Info() DeliveryInfo {
	info := DeliveryInfo{
		DeliveryID:     d.ID,
		OrderID:        d.OrderID,
		Status:         d.Status,
		TrackingNumber: d.TrackingNumber,
		Courier:        d.Courier,
		StartedAt:      d.StartedAt,
		ShippedAt:      d.ShippedAt,
		CompletedAt:    d.CompletedAt,
	}
	if d.Status == StatusShipped && d.ShippedAt != nil {
		eta := d.ShippedAt.Add(estimatedTransit)
		info.EstimatedArrival = &eta
	}
	return info
}
