package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/sportswear-storefront/internal/payment"
)

const maxWebhookBodyBytes = 1 << 20

type SignatureVerifier interface {
	Verify(paymentID, requestID, signatureHeader string) error
}

type NotificationHandler interface {
	HandleNotification(ctx context.Context, n *payment.Notification, requestID string) (*payment.Result, error)
}

type webhookFailure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type WebhookHandler struct {
	verifier   SignatureVerifier
	reconciler NotificationHandler
}

func NewWebhookHandler(verifier SignatureVerifier, reconciler NotificationHandler) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, reconciler: reconciler}
}

func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/webhooks/payments", h.handlePaymentNotification)
}

func (h *WebhookHandler) handlePaymentNotification(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("x-request-id")
	logger := log.With().Str("request_id", requestID).Logger()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read webhook body")
		respondWithJSON(w, http.StatusInternalServerError, webhookFailure{Message: "failed to read body"})
		return
	}

	notification, err := payment.ParseNotification(body)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to parse webhook body")
		respondWithJSON(w, http.StatusInternalServerError, webhookFailure{Message: "invalid notification body"})
		return
	}

	err = h.verifier.Verify(notification.PaymentID(), requestID, r.Header.Get("x-signature"))
	switch {
	case errors.Is(err, payment.ErrWebhookMisconfigured):
		logger.Error().Err(err).Msg("Webhook signature verification is misconfigured")
		respondWithJSON(w, http.StatusInternalServerError, webhookFailure{Message: "webhook is not configured"})
		return
	case errors.Is(err, payment.ErrMissingSignatureParts), errors.Is(err, payment.ErrInvalidSignature):
		logger.Warn().Err(err).Str("payment_id", notification.PaymentID()).Msg("Rejected webhook signature")
		respondWithError(w, http.StatusUnauthorized, "invalid signature")
		return
	case err != nil:
		logger.Error().Err(err).Msg("Unexpected signature verification error")
		respondWithJSON(w, http.StatusInternalServerError, webhookFailure{Message: "signature verification failed"})
		return
	}

	result, err := h.reconciler.HandleNotification(r.Context(), notification, requestID)
	if err != nil {
		logger.Error().Err(err).Str("payment_id", notification.PaymentID()).Msg("Failed to reconcile payment")
		respondWithJSON(w, http.StatusInternalServerError, webhookFailure{Message: "failed to process notification"})
		return
	}

	logger.Info().
		Str("payment_id", result.PaymentID).
		Str("order_id", result.OrderID).
		Str("outcome", string(result.Outcome)).
		Msg("Webhook processed")
	respondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
}
