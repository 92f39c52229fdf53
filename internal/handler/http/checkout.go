package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/service"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/validator"
)

// CheckoutHandler handles HTTP requests for checkout endpoints.
type CheckoutHandler struct {
	service *service.CheckoutService
	logger  *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(svc *service.CheckoutService, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// InitiateCheckoutRequest is the JSON request body for starting a checkout.
// Every field is optional; the cart is read server-side.
type InitiateCheckoutRequest struct {
	ShippingAddress  *domain.AddressInput `json:"shipping_address,omitempty"`
	BillingAddress   *domain.AddressInput `json:"billing_address,omitempty"`
	ShippingMethodID string               `json:"shipping_method_id,omitempty" validate:"max=64"`
}

// UpdateAddressRequest is the JSON request body for changing checkout addresses.
type UpdateAddressRequest struct {
	ShippingAddress       domain.AddressInput  `json:"shipping_address"`
	BillingAddress        *domain.AddressInput `json:"billing_address,omitempty"`
	BillingSameAsShipping bool                 `json:"billing_same_as_shipping"`
	ShippingMethodID      string               `json:"shipping_method_id,omitempty" validate:"max=64"`
}

// ApplyCouponRequest is the JSON request body for applying a coupon.
type ApplyCouponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// ConfirmOrderRequest is the JSON request body for confirming an order.
type ConfirmOrderRequest struct {
	PaymentMethod string            `json:"payment_method" validate:"required"`
	PaymentData   map[string]string `json:"payment_data,omitempty"`
	CouponCode    string            `json:"coupon_code,omitempty" validate:"max=64"`
	Notes         string            `json:"notes,omitempty" validate:"max=1000"`
	Email         string            `json:"email,omitempty" validate:"omitempty,email"`
}

// --- Handlers ---

// InitiateCheckout handles POST /api/v1/checkout
// @Summary Start a checkout session
// @Description Validates the caller's cart against live product data and opens a TTL-bound checkout session.
// @Tags checkout
// @Accept json
// @Produce json
// @Param X-User-ID header string false "Signed-in user ID"
// @Param X-Guest-ID header string false "Guest ID"
// @Param request body InitiateCheckoutRequest false "Optional addresses and shipping method"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /api/v1/checkout [post]
func (h *CheckoutHandler) InitiateCheckout(w http.ResponseWriter, r *http.Request) {
	var req InitiateCheckoutRequest
	if !decodeOptional(w, r, &req, h.logger) {
		return
	}

	view, err := h.service.InitiateCheckout(r.Context(), &service.InitiateCheckoutInput{
		Identity:         identityFromContext(r.Context()),
		ShippingAddress:  req.ShippingAddress,
		BillingAddress:   req.BillingAddress,
		ShippingMethodID: req.ShippingMethodID,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, view)
}

// GetCheckout handles GET /api/v1/checkout/{id}
// @Summary Get checkout session
// @Tags checkout
// @Produce json
// @Param id path string true "Checkout session UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 410 {object} map[string]interface{}
// @Router /api/v1/checkout/{id} [get]
func (h *CheckoutHandler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, "checkout id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	view, err := h.service.GetCheckout(r.Context(), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, view)
}

// UpdateCheckoutAddress handles PUT /api/v1/checkout/{id}/address
// @Summary Change checkout addresses
// @Description Replaces the shipping (and optionally billing) address, then re-quotes shipping and tax.
// @Tags checkout
// @Accept json
// @Produce json
// @Param id path string true "Checkout session UUID"
// @Param request body UpdateAddressRequest true "Address data"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 410 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Router /api/v1/checkout/{id}/address [put]
func (h *CheckoutHandler) UpdateCheckoutAddress(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, "checkout id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req UpdateAddressRequest
	if !decode(w, r, &req, h.logger) {
		return
	}

	view, err := h.service.UpdateCheckoutAddress(r.Context(), id.String(), &service.UpdateAddressInput{
		ShippingAddress:       req.ShippingAddress,
		BillingAddress:        req.BillingAddress,
		BillingSameAsShipping: req.BillingSameAsShipping,
		ShippingMethodID:      req.ShippingMethodID,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, view)
}

// ApplyCoupon handles POST /api/v1/checkout/{id}/coupon
// @Summary Apply a coupon
// @Tags checkout
// @Accept json
// @Produce json
// @Param id path string true "Checkout session UUID"
// @Param request body ApplyCouponRequest true "Coupon code"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 410 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Router /api/v1/checkout/{id}/coupon [post]
func (h *CheckoutHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, "checkout id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req ApplyCouponRequest
	if !decode(w, r, &req, h.logger) {
		return
	}

	view, err := h.service.ApplyCoupon(r.Context(), id.String(), req.Code)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, view)
}

// ConfirmOrder handles POST /api/v1/checkout/{id}/confirm
// @Summary Confirm the order
// @Description Charges the payment method and turns the checkout session into an order.
// @Tags checkout
// @Accept json
// @Produce json
// @Param id path string true "Checkout session UUID"
// @Param request body ConfirmOrderRequest true "Payment data"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 402 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Failure 410 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /api/v1/checkout/{id}/confirm [post]
func (h *CheckoutHandler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, "checkout id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req ConfirmOrderRequest
	if !decode(w, r, &req, h.logger) {
		return
	}

	conf, err := h.service.ConfirmOrder(r.Context(), id.String(), &service.ConfirmOrderInput{
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		PaymentData:   req.PaymentData,
		CouponCode:    req.CouponCode,
		Notes:         req.Notes,
		Email:         req.Email,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, conf)
}

// --- Helpers ---

// decode reads and validates a required JSON body. It writes the error
// response and returns false on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any, logger *slog.Logger) bool {
	if err := validator.DecodeAndValidate(r, dst); err != nil {
		writeDecodeError(w, r, err, logger)
		return false
	}
	return true
}

// decodeOptional is decode for endpoints whose body may be omitted.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any, logger *slog.Logger) bool {
	err := validator.DecodeAndValidate(r, dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeDecodeError(w, r, err, logger)
	return false
}

func writeDecodeError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		httputil.WriteError(w, r, err, logger)
		return
	}
	httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body: "+err.Error()), logger)
}
