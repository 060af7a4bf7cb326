package httpx

import (
	"encoding/json"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/pkg/errors"
	"net/http"
	"time"
)

// ApiResponse is the body of every command response.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, ApiResponse{Success: true, Data: data})
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), ApiResponse{Success: false, Error: orders.Reason(err)})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, orders.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrPaymentFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, orders.ErrReservationFailed),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ---- views ----

type OrderView struct {
	ID                 string     `json:"id"`
	ProductID          string     `json:"product_id"`
	Quantity           int        `json:"quantity"`
	Status             string     `json:"status"`
	PaymentRequestedAt *time.Time `json:"payment_requested_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func orderView(o orders.Order) OrderView {
	return OrderView{
		ID:                 o.ID,
		ProductID:          o.ProductID,
		Quantity:           o.Quantity,
		Status:             string(o.Status),
		PaymentRequestedAt: o.PaymentRequestedAt,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

type PaymentView struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id"`
	Success       bool      `json:"success"`
	TransactionID string    `json:"transaction_id"`
	ProcessedAt   time.Time `json:"processed_at"`
}

func paymentView(p orders.Payment) PaymentView {
	return PaymentView{
		ID:            p.ID,
		OrderID:       p.OrderID,
		Success:       p.Success,
		TransactionID: p.TransactionID,
		ProcessedAt:   p.ProcessedAt,
	}
}
