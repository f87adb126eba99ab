package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rewardsapp/withdrawals/internal/audit"
	"github.com/rewardsapp/withdrawals/internal/models"
	"go.uber.org/zap"
)

// Payout statuses reported by NOWPayments IPN callbacks.
const (
	IPNStatusFinished = "FINISHED"
	IPNStatusFailed   = "FAILED"
	IPNStatusRejected = "REJECTED"
)

// IPNNotification is the part of a payout callback the service acts on.
type IPNNotification struct {
	PayoutID string
	Status   string
	Hash     string
}

// IPNService verifies and applies payout status callbacks.
type IPNService struct {
	secret     []byte
	store      *WithdrawalStore
	reconciler *LedgerReconciler
	audit      ActivityRecorder
	log        *zap.Logger
}

func NewIPNService(secret string, store *WithdrawalStore, reconciler *LedgerReconciler, recorder ActivityRecorder, log *zap.Logger) *IPNService {
	return &IPNService{
		secret:     []byte(secret),
		store:      store,
		reconciler: reconciler,
		audit:      recorder,
		log:        log.Named("ipn"),
	}
}

// Verify checks the hex HMAC-SHA512 signature over the body re-encoded with
// sorted keys. Without a configured secret every callback is refused.
func (s *IPNService) Verify(body []byte, signature string) error {
	if len(s.secret) == 0 || signature == "" {
		return ErrInvalidSignature
	}

	canonical, err := canonicalJSON(body)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha512.New, s.secret)
	mac.Write(canonical)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrInvalidSignature
	}
	return nil
}

// Handle verifies a callback and moves the matching withdrawal forward.
// Unknown payout ids return ErrWithdrawalNotFound.
func (s *IPNService) Handle(ctx context.Context, body []byte, signature string) (*models.Withdrawal, error) {
	if err := s.Verify(body, signature); err != nil {
		return nil, err
	}

	note, err := parseIPN(body)
	if err != nil {
		return nil, err
	}

	w, err := s.store.FindByProviderRef(ctx, note.PayoutID)
	if err != nil {
		return nil, err
	}

	s.log.Info("payout ipn received",
		zap.String("withdrawal_id", w.ID),
		zap.String("payout_id", note.PayoutID),
		zap.String("status", note.Status))

	if err := s.apply(ctx, w, note); err != nil {
		return nil, err
	}

	details := models.Details{"payout_id": note.PayoutID, "status": note.Status}
	if note.Hash != "" {
		details["hash"] = note.Hash
	}
	s.audit.Record(ctx, audit.Event{
		Action:   audit.ActionPayoutIPNPrefix + note.Status,
		TargetID: w.ID,
		Details:  details,
	})

	return s.store.Get(ctx, w.ID)
}

func (s *IPNService) apply(ctx context.Context, w *models.Withdrawal, note IPNNotification) error {
	switch note.Status {
	case IPNStatusFinished:
		var hash *string
		if note.Hash != "" {
			hash = &note.Hash
		}
		if w.Status == models.WithdrawalStatusPending {
			_, err := s.reconciler.Complete(ctx, w.ID, nil, hash)
			if errors.Is(err, ErrInvalidTransition) {
				return nil
			}
			return err
		}
		if hash != nil && w.TxHash == nil {
			return s.reconciler.SetTxHash(ctx, w.ID, *hash)
		}

	case IPNStatusFailed, IPNStatusRejected:
		if w.Status != models.WithdrawalStatusPending {
			s.log.Warn("ignoring payout failure for settled withdrawal",
				zap.String("withdrawal_id", w.ID),
				zap.String("withdrawal_status", w.Status))
			return nil
		}
		err := s.reconciler.DegradeToManual(ctx, w.ID, annotationFailed+"payout "+strings.ToLower(note.Status))
		if errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return err
	}
	return nil
}

func parseIPN(body []byte) (IPNNotification, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw struct {
		ID     any    `json:"id"`
		Status string `json:"status"`
		Hash   string `json:"hash"`
	}
	if err := dec.Decode(&raw); err != nil {
		return IPNNotification{}, fmt.Errorf("%w: %v", ErrMalformedIPN, err)
	}

	note := IPNNotification{
		Status: strings.ToUpper(strings.TrimSpace(raw.Status)),
		Hash:   strings.TrimSpace(raw.Hash),
	}
	switch id := raw.ID.(type) {
	case string:
		note.PayoutID = id
	case json.Number:
		note.PayoutID = id.String()
	}
	if note.PayoutID == "" || note.Status == "" {
		return IPNNotification{}, fmt.Errorf("%w: id and status are required", ErrMalformedIPN)
	}
	return note, nil
}

// canonicalJSON re-encodes a JSON document with object keys sorted and
// numbers kept as written.
func canonicalJSON(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
