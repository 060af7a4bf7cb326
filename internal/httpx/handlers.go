package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/ariefcatur/go-order-fulfillment/internal/delivery"
	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payment"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"net/http"
	"strconv"
	"time"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// idempotency key value while the first request is still creating the order
const idemPending = "pending"

type Handler struct {
	Orders     *fulfillment.Orchestrator
	Payments   *payment.Coordinator
	Deliveries *delivery.Manager
	Ledger     inventory.Ledger
	// UpsertProduct stores a stock setting and resyncs the fast view.
	UpsertProduct func(ctx context.Context, p orders.Product) (orders.StockStatus, error)
	Redis         redis.Cmdable // optional, enables Idempotency-Key
	Logger        *zap.Logger
}

type CreateOrderReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderResp struct {
	Order      OrderView `json:"order"`
	Idempotent bool      `json:"idempotent"`
}

type CompletePaymentReq struct {
	Success *bool `json:"success"`
}

type CompletePaymentResp struct {
	Order                  OrderView   `json:"order"`
	Payment                PaymentView `json:"payment"`
	ReconciliationRequired bool        `json:"reconciliation_required"`
}

type SetDeliveryStatusReq struct {
	Status string `json:"status"`
}

type UpsertProductReq struct {
	Name         string `json:"name"`
	TotalStock   *int   `json:"total_stock"`
	StockManaged *bool  `json:"stock_managed"`
}

type AvailabilityResp struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Available bool   `json:"available"`
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/cancel", h.cancelOrder)
		r.Post("/{id}/payment", h.initiatePayment)
		r.Post("/{id}/payment/complete", h.completePayment)
		r.Get("/{id}/payments", h.listPayments)
		r.Get("/{id}/delivery", h.getDelivery)
		r.Put("/{id}/delivery/status", h.setDeliveryStatus)
	})
	r.Route("/inventory/{productID}", func(r chi.Router) {
		r.Get("/", h.inventoryStatus)
		r.Get("/availability", h.availability)
		r.Post("/sync", h.syncInventory)
	})
	r.Put("/products/{productID}", h.upsertProduct)
}

func (h *Handler) log() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return orders.Validation("invalid json")
	}
	return nil
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	idemKey, done := h.claimIdempotency(ctx, w, r.Header.Get(HeaderIdempotencyKey))
	if done {
		return
	}

	o, err := h.Orders.CreateOrder(ctx, req.ProductID, req.Quantity)
	if err != nil {
		if idemKey != "" {
			// lepas klaim supaya retry dengan key yang sama bisa jalan
			if derr := h.Redis.Del(context.WithoutCancel(ctx), idemKey).Err(); derr != nil {
				h.log().Warn("release idempotency key failed", zap.Error(derr))
			}
		}
		writeErr(w, err)
		return
	}
	if idemKey != "" {
		if err := h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err(); err != nil {
			h.log().Warn("store idempotency key failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	writeOK(w, http.StatusCreated, CreateOrderResp{Order: orderView(o)})
}

// claimIdempotency claims the Idempotency-Key before the order is created so
// concurrent duplicates cannot both get through. It returns the claimed redis
// key, or done when the response has already been written.
func (h *Handler) claimIdempotency(ctx context.Context, w http.ResponseWriter, idem string) (key string, done bool) {
	if idem == "" || h.Redis == nil {
		return "", false
	}
	key = fmt.Sprintf(redisx.KeyIdemOrderCreate, idem)
	claimed, err := h.Redis.SetNX(ctx, key, idemPending, redisx.TTLIdempotency).Result()
	if err != nil {
		h.log().Warn("idempotency claim failed", zap.Error(err))
		return "", false
	}
	if claimed {
		return key, false
	}

	id, err := h.Redis.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false
	case err != nil:
		h.log().Warn("idempotency lookup failed", zap.Error(err))
		return "", false
	case id == idemPending:
		writeErr(w, errors.Wrapf(orders.ErrInvalidState, "request with idempotency key %s is still in progress", idem))
		return "", true
	}
	o, err := h.Orders.GetOrder(ctx, id)
	if err == nil {
		writeOK(w, http.StatusOK, CreateOrderResp{Order: orderView(o), Idempotent: true})
		return "", true
	}
	h.log().Warn("idempotency key points to missing order", zap.String("order_id", id), zap.Error(err))
	return "", false
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, orderView(o))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.CancelOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, orderView(o))
}

func (h *Handler) initiatePayment(w http.ResponseWriter, r *http.Request) {
	o, err := h.Payments.InitiatePayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusAccepted, orderView(o))
}

func (h *Handler) completePayment(w http.ResponseWriter, r *http.Request) {
	var req CompletePaymentReq
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Success == nil {
		writeErr(w, orders.Validation("success is required"))
		return
	}
	res, err := h.Payments.CompletePayment(r.Context(), chi.URLParam(r, "id"), *req.Success)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, CompletePaymentResp{
		Order:                  orderView(res.Order),
		Payment:                paymentView(res.Payment),
		ReconciliationRequired: res.ReconciliationRequired,
	})
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Payments.Payments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]PaymentView, 0, len(ps))
	for _, p := range ps {
		out = append(out, paymentView(p))
	}
	writeOK(w, http.StatusOK, out)
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	info, err := h.Deliveries.Info(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, info)
}

func (h *Handler) setDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	var req SetDeliveryStatusReq
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	info, err := h.Deliveries.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, info)
}

func (h *Handler) inventoryStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Ledger.Status(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, st)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	qty, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil {
		writeErr(w, orders.Validation("quantity must be an integer"))
		return
	}
	ok, err := h.Ledger.IsAvailable(r.Context(), productID, qty)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, AvailabilityResp{ProductID: productID, Quantity: qty, Available: ok})
}

func (h *Handler) syncInventory(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	if err := h.Ledger.Sync(r.Context(), productID); err != nil {
		writeErr(w, err)
		return
	}
	st, err := h.Ledger.Status(r.Context(), productID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, st)
}

func (h *Handler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	var req UpsertProductReq
	if err := decode(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.TotalStock == nil {
		writeErr(w, orders.Validation("total_stock is required"))
		return
	}
	p := orders.Product{
		ID:           chi.URLParam(r, "productID"),
		Name:         req.Name,
		TotalStock:   *req.TotalStock,
		StockManaged: req.StockManaged == nil || *req.StockManaged,
	}
	st, err := h.UpsertProduct(r.Context(), p)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, st)
}
