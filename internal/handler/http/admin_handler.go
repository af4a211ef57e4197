package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/sportswear-storefront/internal/coupon"
	"github.com/vasiliy-maslov/sportswear-storefront/internal/order"
)

type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type CouponRequest struct {
	Code         string          `json:"code" validate:"required,max=32"`
	DiscountType string          `json:"discount_type" validate:"required,oneof=percentage fixed free_shipping"`
	Value        decimal.Decimal `json:"value"`
	Active       *bool           `json:"active,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
}

type OrderListResponse struct {
	Orders []order.Order `json:"orders"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

func (req CouponRequest) toCoupon() *coupon.Coupon {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return &coupon.Coupon{
		Code:         req.Code,
		DiscountType: coupon.DiscountType(req.DiscountType),
		Value:        req.Value,
		Active:       active,
		ExpiresAt:    req.ExpiresAt,
	}
}

// AdminHandler serves the back-office routes. Authentication is applied by the router.
type AdminHandler struct {
	orders   order.Service
	coupons  coupon.Service
	validate *validator.Validate
}

func NewAdminHandler(orders order.Service, coupons coupon.Service) *AdminHandler {
	return &AdminHandler{
		orders:   orders,
		coupons:  coupons,
		validate: validator.New(),
	}
}

func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Get("/orders", h.handleListOrders)
	router.Get("/orders/{id}", h.handleGetOrderByID)
	router.Patch("/orders/{id}/status", h.handleUpdateOrderStatus)
	router.Get("/stats", h.handleStats)

	router.Get("/coupons", h.handleListCoupons)
	router.Post("/coupons", h.handleCreateCoupon)
	router.Get("/coupons/{code}", h.handleGetCoupon)
	router.Put("/coupons/{code}", h.handleUpdateCoupon)
	router.Delete("/coupons/{code}", h.handleDeleteCoupon)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func (h *AdminHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var filter order.ListFilter

	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := order.ParseStatus(raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = status
	}

	limit, err := queryInt(r, "limit")
	if err != nil || limit < 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid limit parameter")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil || offset < 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid offset parameter")
		return
	}
	filter.Limit = limit
	filter.Offset = offset

	orders, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders via service")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to list orders")
		return
	}
	if orders == nil {
		orders = []order.Order{}
	}

	respondWithJSON(w, http.StatusOK, OrderListResponse{Orders: orders, Limit: filter.Limit, Offset: filter.Offset})
}

func (h *AdminHandler) handleGetOrderByID(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	found, err := h.orders.GetOrderByID(r.Context(), orderID)
	if err != nil {
		statusCode := mapErrorToStatusCode(err)
		if errors.Is(err, order.ErrOrderNotFound) {
			respondWithError(w, statusCode, "Order not found")
			return
		}
		log.Error().Err(err).Str("order_id", orderID).Msg("Failed to get order by id via service")
		respondWithError(w, statusCode, "Failed to get order by id")
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

func (h *AdminHandler) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var requestPayload UpdateOrderStatusRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	newStatus, err := order.ParseStatus(requestPayload.Status)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.orders.UpdateOrderStatus(r.Context(), orderID, newStatus)
	if err != nil {
		statusCode := mapErrorToStatusCode(err)

		var clientMessage string
		switch {
		case errors.Is(err, order.ErrOrderNotFound):
			clientMessage = "Order not found"
		case errors.Is(err, order.ErrInvalidStatusTransition):
			clientMessage = err.Error()
		default:
			log.Error().Err(err).Str("order_id", orderID).Msg("Failed to update order status via service")
			clientMessage = "Failed to update order status"
		}
		respondWithError(w, statusCode, clientMessage)
		return
	}

	log.Info().
		Str("admin", adminSubject(r.Context())).
		Str("order_id", orderID).
		Stringer("status", updated.Status).
		Msg("Order status changed by admin")
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *AdminHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orders.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute stats via service")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to compute stats")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) handleListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.ListCoupons(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list coupons via service")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to list coupons")
		return
	}
	if coupons == nil {
		coupons = []coupon.Coupon{}
	}
	respondWithJSON(w, http.StatusOK, coupons)
}

func (h *AdminHandler) handleCreateCoupon(w http.ResponseWriter, r *http.Request) {
	var requestPayload CouponRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	created, err := h.coupons.CreateCoupon(r.Context(), requestPayload.toCoupon())
	if err != nil {
		h.respondCouponError(w, err, "Failed to create coupon")
		return
	}
	respondWithJSON(w, http.StatusCreated, created)
}

func (h *AdminHandler) handleGetCoupon(w http.ResponseWriter, r *http.Request) {
	found, err := h.coupons.GetCoupon(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondCouponError(w, err, "Failed to get coupon")
		return
	}
	respondWithJSON(w, http.StatusOK, found)
}

func (h *AdminHandler) handleUpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var requestPayload CouponRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	c := requestPayload.toCoupon()
	if coupon.NormalizeCode(c.Code) != coupon.NormalizeCode(chi.URLParam(r, "code")) {
		respondWithError(w, http.StatusBadRequest, "Coupon code in body does not match the URL")
		return
	}

	updated, err := h.coupons.UpdateCoupon(r.Context(), c)
	if err != nil {
		h.respondCouponError(w, err, "Failed to update coupon")
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *AdminHandler) handleDeleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.coupons.DeleteCoupon(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.respondCouponError(w, err, "Failed to delete coupon")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) respondCouponError(w http.ResponseWriter, err error, fallback string) {
	statusCode := mapErrorToStatusCode(err)
	switch {
	case errors.Is(err, coupon.ErrCouponNotFound):
		respondWithError(w, statusCode, "Coupon not found")
	case errors.Is(err, coupon.ErrCouponExists):
		respondWithError(w, statusCode, "Coupon code already exists")
	case errors.Is(err, coupon.ErrInvalidCoupon):
		respondWithError(w, statusCode, err.Error())
	default:
		log.Error().Err(err).Msg(fallback)
		respondWithError(w, statusCode, fallback)
	}
}
