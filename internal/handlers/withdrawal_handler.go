package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rewardsapp/withdrawals/internal/middleware"
	"github.com/rewardsapp/withdrawals/internal/models"
	"github.com/rewardsapp/withdrawals/internal/services"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// WithdrawalService is the user side of withdrawals.
type WithdrawalService interface {
	CreateWithdrawal(ctx context.Context, userID string, req *models.WithdrawalRequest) (*services.WithdrawalResult, error)
	Policy(ctx context.Context, userID string) (*services.PolicyView, error)
	ListWithdrawals(ctx context.Context, userID string, limit int) ([]models.Withdrawal, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]models.TransactionRecord, error)
}

// IdempotencyStore replays responses for repeated Idempotency-Key headers.
type IdempotencyStore interface {
	Begin(ctx context.Context, userID, key string) (*services.StoredResponse, error)
	Complete(ctx context.Context, userID, key string, resp services.StoredResponse) error
	Release(ctx context.Context, userID, key string) error
}

type WithdrawalHandler struct {
	service     WithdrawalService
	idempotency IdempotencyStore
	messages    *services.Messages
	log         *zap.Logger
}

// NewWithdrawalHandler builds the handler. idempotency may be nil when redis
// is unavailable; Idempotency-Key headers are then ignored.
func NewWithdrawalHandler(service WithdrawalService, idempotency IdempotencyStore, messages *services.Messages, log *zap.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{
		service:     service,
		idempotency: idempotency,
		messages:    messages,
		log:         log.Named("withdrawal_handler"),
	}
}

// withdrawalView is the withdrawal as returned right after submission.
type withdrawalView struct {
	*models.Withdrawal
	NextWithdrawalAt time.Time `json:"nextWithdrawalAt"`
}

// CreateWithdrawal submits a withdrawal
// @Summary Create withdrawal
// @Description Debits the balance and either pays out automatically or queues the withdrawal for review. Business rule failures answer 200 with success=false.
// @Tags Withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "Replay protection key"
// @Param Accept-Language header string false "ar or en"
// @Param request body models.WithdrawalRequest true "Withdrawal request"
// @Success 200 {object} object{success=bool,message=string,withdrawal=models.Withdrawal,auto_processed=bool}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /withdrawals [post]
func (h *WithdrawalHandler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	lang := h.messages.Negotiate(r.Header.Get("Accept-Language"))

	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		h.sendKindError(w, lang, &services.WithdrawalError{Kind: services.KindUnauthorized})
		return
	}

	var req models.WithdrawalRequest
	if err := services.DecodeJSONBody(w, r, &req); err != nil {
		services.SendErrorResponse(w, h.messages.Text(lang, services.MsgInvalidRequest, nil), http.StatusBadRequest, nil)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	claimed := false
	if key != "" && h.idempotency != nil {
		stored, err := h.idempotency.Begin(r.Context(), userID, key)
		switch {
		case errors.Is(err, services.ErrIdempotencyBusy):
			services.SendErrorResponse(w, h.messages.Text(lang, services.MsgDuplicateInProgress, nil), http.StatusConflict, nil)
			return
		case err != nil:
			h.log.Warn("idempotency unavailable, processing without replay protection", zap.Error(err))
		case stored != nil:
			w.Header().Set("Idempotent-Replayed", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(stored.Status)
			w.Write(stored.Body)
			return
		default:
			claimed = true
		}
	}

	status, body := h.createWithdrawal(r.Context(), userID, lang, &req)

	if claimed {
		h.finishIdempotency(r.Context(), userID, key, status, body)
	}
	services.SendJSON(w, status, body)
}

func (h *WithdrawalHandler) createWithdrawal(ctx context.Context, userID, lang string, req *models.WithdrawalRequest) (int, any) {
	result, err := h.service.CreateWithdrawal(ctx, userID, req)
	if err != nil {
		return h.kindErrorBody(lang, err)
	}

	return http.StatusOK, map[string]any{
		"success": true,
		"message": h.messages.Text(lang, result.Message, nil),
		"withdrawal": withdrawalView{
			Withdrawal:       result.Withdrawal,
			NextWithdrawalAt: result.NextWithdrawalAt,
		},
		"auto_processed": result.AutoProcessed,
	}
}

// finishIdempotency keeps settled responses for replay and frees the key
// when the request failed without a decision.
func (h *WithdrawalHandler) finishIdempotency(ctx context.Context, userID, key string, status int, body any) {
	ctx = context.WithoutCancel(ctx)

	if status >= http.StatusInternalServerError {
		if err := h.idempotency.Release(ctx, userID, key); err != nil {
			h.log.Warn("failed to release idempotency key", zap.Error(err))
		}
		return
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		h.log.Warn("failed to encode response for replay", zap.Error(err))
		return
	}
	if err := h.idempotency.Complete(ctx, userID, key, services.StoredResponse{Status: status, Body: buf.Bytes()}); err != nil {
		h.log.Warn("failed to store idempotent response", zap.Error(err))
	}
}

// GetPolicy returns limits and cooldown state for the caller
// @Summary Withdrawal limits
// @Tags Withdrawals
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{success=bool,data=services.PolicyView}
// @Failure 401 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /withdrawals/limits [get]
func (h *WithdrawalHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	lang := h.messages.Negotiate(r.Header.Get("Accept-Language"))
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		h.sendKindError(w, lang, &services.WithdrawalError{Kind: services.KindUnauthorized})
		return
	}

	view, err := h.service.Policy(r.Context(), userID)
	if err != nil {
		h.sendKindError(w, lang, err)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{"success": true, "data": view})
}

// ListWithdrawals returns the caller's withdrawals, newest first
// @Summary List withdrawals
// @Tags Withdrawals
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (max 100)"
// @Success 200 {object} object{success=bool,data=[]models.Withdrawal}
// @Failure 401 {object} services.ErrorResponse
// @Router /withdrawals [get]
func (h *WithdrawalHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	withdrawals, err := h.service.ListWithdrawals(r.Context(), userID, listLimit(r))
	if err != nil {
		h.log.Error("list withdrawals failed", zap.String("account_id", userID), zap.Error(err))
		services.SendErrorResponse(w, "Failed to load withdrawals", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{"success": true, "data": withdrawals})
}

// ListTransactions returns the caller's transaction history
// @Summary List transactions
// @Tags Transactions
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size (max 100)"
// @Success 200 {object} object{success=bool,data=[]models.TransactionRecord}
// @Failure 401 {object} services.ErrorResponse
// @Router /transactions [get]
func (h *WithdrawalHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	records, err := h.service.ListTransactions(r.Context(), userID, listLimit(r))
	if err != nil {
		h.log.Error("list transactions failed", zap.String("account_id", userID), zap.Error(err))
		services.SendErrorResponse(w, "Failed to load transactions", http.StatusInternalServerError, nil)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{"success": true, "data": records})
}

func (h *WithdrawalHandler) sendKindError(w http.ResponseWriter, lang string, err error) {
	status, body := h.kindErrorBody(lang, err)
	services.SendJSON(w, status, body)
}

// kindErrorBody builds the failure envelope. Business rule failures keep
// HTTP 200 so clients branch on success.
func (h *WithdrawalHandler) kindErrorBody(lang string, err error) (int, map[string]any) {
	kind := services.KindOf(err)

	body := map[string]any{"success": false, "errorCode": kind}
	var werr *services.WithdrawalError
	if errors.As(err, &werr) {
		for name, value := range werr.Params {
			body[name] = value
		}
		body["error"] = h.messages.Text(lang, services.MessageKey(kind), werr.Params)
	} else {
		body["error"] = h.messages.Text(lang, services.MessageKey(kind), nil)
	}

	status := statusForKind(kind)
	if status >= http.StatusInternalServerError || kind == services.KindPersistenceFailure {
		h.log.Error("withdrawal request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	return status, body
}

func statusForKind(kind services.ErrorKind) int {
	switch kind {
	case services.KindUnauthorized:
		return http.StatusUnauthorized
	case services.KindAccountNotFound:
		return http.StatusNotFound
	case services.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func listLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
