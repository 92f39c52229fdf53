package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/service"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/middleware"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	service *service.OrderService
	logger  *slog.Logger
}

// NewOrderHandler creates a new order HTTP handler.
func NewOrderHandler(svc *service.OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		service: svc,
		logger:  logger,
	}
}

// UpdateOrderStatusRequest is the JSON request body for an order status change.
type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed processing shipped delivered cancelled refunded"`
	Notes  string `json:"notes,omitempty" validate:"max=1000"`
}

// GetOrder handles GET /api/v1/orders/{id}
// @Summary Get an order
// @Description Returns the order with its items and status history.
// @Tags orders
// @Produce json
// @Param id path string true "Order UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/orders/{id} [get]
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, "order id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, order)
}

// UpdateOrderStatus handles PATCH /api/v1/orders/{id}/status
// @Summary Change order status
// @Description Moves the order along its lifecycle. Cancelling or refunding a paid order refunds the payment.
// @Tags orders
// @Accept json
// @Produce json
// @Param id path string true "Order UUID"
// @Param X-User-ID header string false "Actor recorded in the status history"
// @Param request body UpdateOrderStatusRequest true "New status"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/orders/{id}/status [patch]
func (h *OrderHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, "order id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req UpdateOrderStatusRequest
	if !decode(w, r, &req, h.logger) {
		return
	}

	actor := r.Header.Get(middleware.UserIDHeader)
	order, err := h.service.UpdateOrderStatus(r.Context(), id.String(), domain.OrderStatus(req.Status), actor, req.Notes)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, order)
}
