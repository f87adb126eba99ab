package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rewardsapp/withdrawals/internal/middleware"
	"github.com/rewardsapp/withdrawals/internal/models"
	"github.com/rewardsapp/withdrawals/internal/services"
	"go.uber.org/zap"
)

// ReviewService is the operator side of pending withdrawals.
type ReviewService interface {
	ListQueue(ctx context.Context, payoutType string, limit int) ([]models.Withdrawal, error)
	Complete(ctx context.Context, adminID, withdrawalID string, input services.ManualCompletion) (*models.Withdrawal, error)
	Reject(ctx context.Context, adminID, withdrawalID, reason string) (*models.Withdrawal, error)
}

// SettingsService reads and writes admin settings.
type SettingsService interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Upsert(ctx context.Context, adminID, key string, value json.RawMessage) error
}

type AdminHandler struct {
	review   ReviewService
	settings SettingsService
	log      *zap.Logger
}

func NewAdminHandler(review ReviewService, settings SettingsService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{
		review:   review,
		settings: settings,
		log:      log.Named("admin_handler"),
	}
}

// GetSetting returns one admin setting
// @Summary Get admin setting
// @Description The provider API key is returned masked.
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param key path string true "Setting key"
// @Success 200 {object} object{success=bool,key=string,value=object}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/settings/{key} [get]
func (h *AdminHandler) GetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	value, err := h.settings.Get(r.Context(), key)
	if err != nil {
		h.sendError(w, err)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{"success": true, "key": key, "value": value})
}

// UpsertSetting writes one admin setting
// @Summary Update admin setting
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param key path string true "Setting key"
// @Param request body object true "Setting value"
// @Success 200 {object} object{success=bool}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/settings/{key} [put]
func (h *AdminHandler) UpsertSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var value json.RawMessage
	if err := services.DecodeJSONBody(w, r, &value); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := h.settings.Upsert(r.Context(), middleware.UserIDFromContext(r.Context()), key, value); err != nil {
		h.sendError(w, err)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ListReviewQueue lists pending withdrawals, oldest first
// @Summary List pending withdrawals
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param payoutType query string false "auto or manual"
// @Param limit query int false "Page size (max 100)"
// @Success 200 {object} object{success=bool,data=[]models.Withdrawal}
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /admin/withdrawals [get]
func (h *AdminHandler) ListReviewQueue(w http.ResponseWriter, r *http.Request) {
	payoutType := r.URL.Query().Get("payoutType")
	if payoutType != "" && payoutType != models.PayoutTypeAuto && payoutType != models.PayoutTypeManual {
		services.SendErrorResponse(w, "payoutType must be auto or manual", http.StatusBadRequest, nil)
		return
	}

	queue, err := h.review.ListQueue(r.Context(), payoutType, listLimit(r))
	if err != nil {
		h.sendError(w, err)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{"success": true, "data": queue})
}

// CompleteWithdrawal marks a pending withdrawal as paid
// @Summary Complete withdrawal manually
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Param request body services.ManualCompletion false "Payout reference"
// @Success 200 {object} object{success=bool,withdrawal=models.Withdrawal}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/withdrawals/{id}/complete [post]
func (h *AdminHandler) CompleteWithdrawal(w http.ResponseWriter, r *http.Request) {
	var input services.ManualCompletion
	if err := services.DecodeJSONBody(w, r, &input); err != nil && !errors.Is(err, io.EOF) {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	withdrawal, err := h.review.Complete(r.Context(), middleware.UserIDFromContext(r.Context()), chi.URLParam(r, "id"), input)
	if err != nil {
		h.sendError(w, err)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{"success": true, "withdrawal": withdrawal})
}

// RejectWithdrawal fails a pending withdrawal and refunds the balance
// @Summary Reject withdrawal
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Param request body object{reason=string} false "Rejection reason"
// @Success 200 {object} object{success=bool,withdrawal=models.Withdrawal}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/withdrawals/{id}/reject [post]
func (h *AdminHandler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := services.DecodeJSONBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	withdrawal, err := h.review.Reject(r.Context(), middleware.UserIDFromContext(r.Context()), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.sendError(w, err)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{"success": true, "withdrawal": withdrawal})
}

func (h *AdminHandler) sendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSettingNotFound):
		services.SendErrorResponse(w, "Setting not found", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrWithdrawalNotFound):
		services.SendErrorResponse(w, "Withdrawal not found", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrInvalidTransition):
		services.SendErrorResponse(w, "Withdrawal is no longer pending", http.StatusConflict, nil)
	case errors.Is(err, services.ErrInvalidSetting):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	default:
		h.log.Error("admin request failed", zap.Error(err))
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}
