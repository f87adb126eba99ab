package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rewardsapp/withdrawals/internal/models"
	"github.com/rewardsapp/withdrawals/internal/services"
	"go.uber.org/zap"
)

const signatureHeader = "x-nowpayments-sig"

// IPNProcessor applies signed payout callbacks.
type IPNProcessor interface {
	Handle(ctx context.Context, body []byte, signature string) (*models.Withdrawal, error)
}

type WebhookHandler struct {
	ipn IPNProcessor
	log *zap.Logger
}

func NewWebhookHandler(ipn IPNProcessor, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{ipn: ipn, log: log.Named("webhook_handler")}
}

// NowPaymentsIPN receives payout status callbacks
// @Summary NOWPayments payout IPN
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param x-nowpayments-sig header string true "HMAC-SHA512 signature"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /webhooks/nowpayments [post]
func (h *WebhookHandler) NowPaymentsIPN(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1_048_576))
	if err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	withdrawal, err := h.ipn.Handle(r.Context(), body, r.Header.Get(signatureHeader))
	switch {
	case errors.Is(err, services.ErrInvalidSignature):
		h.log.Warn("rejected ipn with bad signature", zap.String("remote_addr", r.RemoteAddr))
		services.SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
	case errors.Is(err, services.ErrMalformedIPN):
		services.SendErrorResponse(w, "Invalid payload", http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrWithdrawalNotFound):
		// Acknowledge so the provider stops retrying.
		services.SendJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Unknown payout"})
	case err != nil:
		h.log.Error("ipn processing failed", zap.Error(err))
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	default:
		services.SendJSON(w, http.StatusOK, map[string]any{"success": true, "status": withdrawal.Status})
	}
}
