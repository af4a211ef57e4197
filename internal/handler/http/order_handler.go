package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/sportswear-storefront/internal/coupon"
	"github.com/vasiliy-maslov/sportswear-storefront/internal/order"
)

type CustomerRequest struct {
	Name     string `json:"name" validate:"required,min=2"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,min=8,max=20"`
	Document string `json:"document,omitempty" validate:"omitempty,min=11,max=18"`
}

type AddressRequest struct {
	Street     string `json:"street" validate:"required"`
	Number     string `json:"number" validate:"required"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required,len=2"`
	ZipCode    string `json:"zip_code" validate:"required,min=8,max=9"`
}

type OrderItemRequest struct {
	ProductID    string          `json:"product_id" validate:"required"`
	Title        string          `json:"title" validate:"required"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity" validate:"required,gte=1"`
	Size         string          `json:"size,omitempty" validate:"omitempty,max=5"`
	CustomName   string          `json:"custom_name,omitempty" validate:"omitempty,max=20"`
	CustomNumber string          `json:"custom_number,omitempty" validate:"omitempty,numeric,max=2"`
}

type CreateOrderRequest struct {
	Customer        CustomerRequest    `json:"customer"`
	ShippingAddress AddressRequest     `json:"shipping_address"`
	Items           []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
	CouponCode      string             `json:"coupon_code,omitempty" validate:"omitempty,max=32"`
}

type CheckoutResponse struct {
	Order     *order.Order `json:"order"`
	InitPoint string       `json:"init_point"`
}

type PreferenceFailureResponse struct {
	Error   string `json:"error"`
	OrderID string `json:"order_id"`
}

type ValidateCouponRequest struct {
	Code     string          `json:"code" validate:"required"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
}

type OrderHandler struct {
	service  order.Service
	coupons  coupon.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service, coupons coupon.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		coupons:  coupons,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Post("/orders/{id}/repay", h.handleRepayOrder)
	router.Get("/orders/track/{orderNumber}", h.handleTrackOrder)
	router.Post("/coupons/validate", h.handleValidateCoupon)
}

func (req CreateOrderRequest) toCheckoutInput() order.CheckoutInput {
	items := make([]order.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, order.OrderItem{
			ProductID:    it.ProductID,
			Title:        it.Title,
			UnitPrice:    it.UnitPrice,
			Quantity:     it.Quantity,
			Size:         it.Size,
			CustomName:   strings.TrimSpace(it.CustomName),
			CustomNumber: strings.TrimSpace(it.CustomNumber),
		})
	}

	return order.CheckoutInput{
		Customer: order.Customer{
			Name:     strings.TrimSpace(req.Customer.Name),
			Email:    strings.TrimSpace(req.Customer.Email),
			Phone:    req.Customer.Phone,
			Document: req.Customer.Document,
		},
		ShippingAddress: order.Address(req.ShippingAddress),
		Items:           items,
		CouponCode:      req.CouponCode,
	}
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateOrderRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	result, err := h.service.Checkout(r.Context(), requestPayload.toCheckoutInput())
	if err != nil {
		h.respondCheckoutError(w, result, err, "Failed to create order")
		return
	}

	respondWithJSON(w, http.StatusCreated, CheckoutResponse{Order: result.Order, InitPoint: result.InitPoint})
}

func (h *OrderHandler) handleRepayOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return
	}

	result, err := h.service.Repay(r.Context(), orderID)
	if err != nil {
		h.respondCheckoutError(w, result, err, "Failed to restart payment")
		return
	}

	respondWithJSON(w, http.StatusOK, CheckoutResponse{Order: result.Order, InitPoint: result.InitPoint})
}

// respondCheckoutError keeps the order id in the body when the order exists but has no preference yet.
func (h *OrderHandler) respondCheckoutError(w http.ResponseWriter, result *order.CheckoutResult, err error, fallback string) {
	statusCode := mapErrorToStatusCode(err)
	if errors.Is(err, coupon.ErrCouponNotFound) {
		statusCode = http.StatusUnprocessableEntity
	}

	if errors.Is(err, order.ErrPreferenceFailed) && result != nil && result.Order != nil {
		log.Error().Err(err).Str("order_id", result.Order.ID).Msg("Payment preference could not be created")
		respondWithJSON(w, statusCode, PreferenceFailureResponse{
			Error:   "Payment provider unavailable, retry payment later",
			OrderID: result.Order.ID,
		})
		return
	}

	var clientMessage string
	switch {
	case statusCode == http.StatusInternalServerError:
		log.Error().Err(err).Msg(fallback)
		clientMessage = fallback
	case errors.Is(err, order.ErrOrderNotFound):
		clientMessage = "Order not found"
	case errors.Is(err, order.ErrOrderNotRepayable):
		clientMessage = "Order cannot be paid again"
	default:
		log.Warn().Err(err).Msg(fallback)
		clientMessage = err.Error()
	}
	respondWithError(w, statusCode, clientMessage)
}

func (h *OrderHandler) handleTrackOrder(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")
	email := r.URL.Query().Get("email")
	if orderNumber == "" || email == "" {
		respondWithError(w, http.StatusBadRequest, "Order number and email are required")
		return
	}

	found, err := h.service.TrackOrder(r.Context(), orderNumber, email)
	if err != nil {
		statusCode := mapErrorToStatusCode(err)
		if statusCode == http.StatusNotFound {
			respondWithError(w, statusCode, "Order not found")
			return
		}
		log.Error().Err(err).Str("order_number", orderNumber).Msg("Failed to track order via service")
		respondWithError(w, statusCode, "Failed to track order")
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var requestPayload ValidateCouponRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	quote, err := h.coupons.Quote(r.Context(), requestPayload.Code, requestPayload.Subtotal, requestPayload.Shipping)
	if err != nil {
		switch {
		case errors.Is(err, coupon.ErrCouponNotFound):
			respondWithError(w, http.StatusUnprocessableEntity, "Coupon not found")
		case errors.Is(err, coupon.ErrCouponInactive), errors.Is(err, coupon.ErrCouponExpired):
			respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, coupon.ErrInvalidCoupon):
			respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			log.Error().Err(err).Msg("Failed to validate coupon via service")
			respondWithError(w, http.StatusInternalServerError, "Failed to validate coupon")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, quote)
}
