package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	apperr "github.com/openbuilders/tip-engine/internal/errors"
	"github.com/openbuilders/tip-engine/internal/fees"
	"github.com/openbuilders/tip-engine/internal/repository"
	"github.com/openbuilders/tip-engine/internal/types"

	"github.com/go-chi/chi/v5"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxBodyBytes    = 1 << 16
)

type FrameActionRequest struct {
	Key         string `json:"key"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	ButtonIndex int    `json:"buttonIndex"`
	InputText   string `json:"inputText"`
}

type TipRequest struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	Amount      string `json:"amount"`
}

type EstimateResponse struct {
	Fee  fees.Calculation  `json:"fee"`
	Cost fees.CostEstimate `json:"cost"`
}

type StatusResponse struct {
	TransactionID string                  `json:"transactionId"`
	Status        types.TransactionStatus `json:"status"`
}

type WalletRequest struct {
	Address string `json:"address"`
}

type PreferencesRequest struct {
	Enabled *bool `json:"enabled"`
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	defer r.Body.Close()

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return &APIError{Code: BadRequest, Description: err.Error()}
	}

	return nil
}

func page(r *http.Request) (limit, offset int, err error) {
	limit, offset = defaultPageSize, 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, &APIError{Code: InvalidParams, Description: "limit must be a positive integer"}
		}
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, &APIError{Code: InvalidParams, Description: "offset must not be negative"}
		}
	}

	return min(limit, maxPageSize), offset, nil
}

func required(fields map[string]string) error {
	for name, value := range fields {
		if value == "" {
			return &APIError{Code: InvalidParams, Description: name + " is required"}
		}
	}
	return nil
}

func (s *Server) FrameActionHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	var req FrameActionRequest
	if err := decode(w, r, &req); err != nil {
		return nil, err
	}

	if err := required(map[string]string{"senderId": req.SenderID, "recipientId": req.RecipientID}); err != nil {
		return nil, err
	}

	return s.services.Frames.ApplyFrameAction(r.Context(), req.Key, req.SenderID, req.RecipientID,
		types.Action{ButtonIndex: req.ButtonIndex, InputText: req.InputText})
}

// tipParams resolves the wallets of both parties of a tip request.
func (s *Server) tipParams(ctx context.Context, req TipRequest) (types.TipParams, error) {
	if err := required(map[string]string{
		"senderId":    req.SenderID,
		"recipientId": req.RecipientID,
		"amount":      req.Amount,
	}); err != nil {
		return types.TipParams{}, err
	}

	from, err := s.services.Wallets.ResolveWallet(ctx, req.SenderID)
	if err != nil {
		return types.TipParams{}, apperr.Wrap(apperr.CodeInternal, "couldn't resolve sender wallet", err)
	}
	if from == nil || !from.Connected {
		return types.TipParams{}, apperr.New(apperr.CodeWalletNotConnected, "Wallet not connected")
	}

	to, err := s.services.Wallets.ResolveWallet(ctx, req.RecipientID)
	if err != nil {
		return types.TipParams{}, apperr.Wrap(apperr.CodeInternal, "couldn't resolve recipient wallet", err)
	}
	if to == nil || !to.Connected {
		return types.TipParams{}, apperr.New(apperr.CodeRecipientNotFound, "Recipient wallet not found")
	}

	return types.TipParams{
		SenderID:         req.SenderID,
		RecipientID:      req.RecipientID,
		SenderAddress:    from.Address,
		RecipientAddress: to.Address,
		Amount:           req.Amount,
		Token:            s.config.Token,
	}, nil
}

func (s *Server) SendTipHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	var req TipRequest
	if err := decode(w, r, &req); err != nil {
		return nil, err
	}

	params, err := s.tipParams(r.Context(), req)
	if err != nil {
		return nil, err
	}

	return s.services.Tips.SendTip(r.Context(), params)
}

func (s *Server) EstimateHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	var req TipRequest
	if err := decode(w, r, &req); err != nil {
		return nil, err
	}

	params, err := s.tipParams(r.Context(), req)
	if err != nil {
		return nil, err
	}

	calc, err := s.services.Estimator.CalculateFee(params.Amount)
	if err != nil {
		return nil, err
	}

	cost, err := s.services.Estimator.EstimateTransactionCost(r.Context(), params)
	if err != nil {
		return nil, err
	}

	return EstimateResponse{Fee: calc, Cost: cost}, nil
}

func (s *Server) TransactionHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.DBTimeout)
	defer cancel()

	tx, err := s.services.Transactions.GetTransaction(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.New(apperr.CodeTransactionNotFound, "Transaction not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "couldn't load transaction", err)
	}

	return tx, nil
}

func (s *Server) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	id := chi.URLParam(r, "id")

	status, err := s.services.Tips.UpdateTransactionStatus(r.Context(), id)
	if err != nil {
		return nil, err
	}

	return StatusResponse{TransactionID: id, Status: status}, nil
}

func (s *Server) HistoryHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	limit, offset, err := page(r)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.DBTimeout)
	defer cancel()

	txs, err := s.services.Transactions.TransactionHistory(ctx, chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "couldn't load history", err)
	}

	if txs == nil {
		txs = []types.Transaction{}
	}

	return txs, nil
}

func (s *Server) WalletHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	id := chi.URLParam(r, "id")

	wallet, err := s.services.Wallets.ResolveWallet(r.Context(), id)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "couldn't resolve wallet", err)
	}

	if wallet == nil {
		return types.Wallet{UserID: id}, nil
	}

	return wallet, nil
}

func (s *Server) ConnectWalletHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	var req WalletRequest
	if err := decode(w, r, &req); err != nil {
		return nil, err
	}

	if err := required(map[string]string{"address": req.Address}); err != nil {
		return nil, err
	}

	return s.services.Wallets.ConnectWallet(r.Context(), chi.URLParam(r, "id"), req.Address)
}

func (s *Server) NotificationsHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	limit, offset, err := page(r)
	if err != nil {
		return nil, err
	}

	notifications, err := s.services.Notifications.UserNotifications(r.Context(),
		chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "couldn't load notifications", err)
	}

	if notifications == nil {
		notifications = []types.Notification{}
	}

	return notifications, nil
}

func (s *Server) NotificationStatsHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	stats, err := s.services.Notifications.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "couldn't load notification stats", err)
	}

	return stats, nil
}

func (s *Server) PreferencesHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	var req PreferencesRequest
	if err := decode(w, r, &req); err != nil {
		return nil, err
	}

	if req.Enabled == nil {
		return nil, &APIError{Code: InvalidParams, Description: "enabled is required"}
	}

	if err := s.services.Notifications.SetPreference(r.Context(), chi.URLParam(r, "id"), *req.Enabled); err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "couldn't update preferences", err)
	}

	return PreferencesRequest{Enabled: req.Enabled}, nil
}

func (s *Server) DeliverHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	result, err := s.services.Notifications.ProcessQueue(r.Context())
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "couldn't process notification queue", err)
	}

	return result, nil
}

func (s *Server) RecoveryRunHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	result, err := s.services.Recovery.RecoverAllPendingTransactions(r.Context())
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "recovery failed", err)
	}

	return result, nil
}

func (s *Server) RecoveryReportHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	report, err := s.services.Recovery.GenerateRecoveryReport(r.Context())
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "couldn't generate recovery report", err)
	}

	return report, nil
}

func (s *Server) StuckHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	report, err := s.services.Recovery.CheckForStuckTransactions(r.Context())
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "couldn't check stuck transactions", err)
	}

	return report, nil
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	return "ok", nil
}

func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	status := s.services.Health.GetHealthStatus()
	if !status.Healthy {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	return status, nil
}
