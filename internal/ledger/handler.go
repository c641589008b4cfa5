package ledger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-bank/meridian/internal/platform/httpx"
)

// Handler manages transaction ledger endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createTransaction)
	r.Get("/", h.listForAccount)
	r.Get("/{id}", h.getTransaction)
	r.Patch("/{id}/complete", h.completeTransaction)
	r.Patch("/{id}/cancel", h.cancelTransaction)
	r.Patch("/{id}/status", h.updateStatus)
	r.Delete("/{id}", h.deleteTransaction)
}

type transactionResponse struct {
	ID                uuid.UUID  `json:"id"`
	SenderAccountID   uuid.UUID  `json:"sender_account_id"`
	ReceiverAccountID uuid.UUID  `json:"receiver_account_id"`
	Amount            string     `json:"amount"`
	Type              string     `json:"transaction_type"`
	Status            string     `json:"status"`
	PaymentMethod     string     `json:"payment_method"`
	Description       string     `json:"description,omitempty"`
	ReferenceID       string     `json:"reference_id"`
	InitiatedBy       *uuid.UUID `json:"initiated_by,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toTransactionResponse(t *Transaction) transactionResponse {
	return transactionResponse{
		ID:                t.ID,
		SenderAccountID:   t.SenderAccountID,
		ReceiverAccountID: t.ReceiverAccountID,
		Amount:            t.Amount.String(),
		Type:              string(t.Type),
		Status:            string(t.Status),
		PaymentMethod:     string(t.PaymentMethod),
		Description:       t.Description,
		ReferenceID:       t.ReferenceID,
		InitiatedBy:       t.InitiatedBy,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

type createTransactionRequest struct {
	SenderAccountID   uuid.UUID       `json:"sender_account_id" validate:"required"`
	ReceiverAccountID uuid.UUID       `json:"receiver_account_id" validate:"required"`
	Amount            decimal.Decimal `json:"amount"`
	Type              string          `json:"transaction_type" validate:"required"`
	PaymentMethod     string          `json:"payment_method"`
	Description       string          `json:"description" validate:"max=500"`
	InitiatedBy       *uuid.UUID      `json:"initiated_by"`
}

func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}

	record, err := h.service.Create(r.Context(), CreateTransactionInput{
		SenderAccountID:   req.SenderAccountID,
		ReceiverAccountID: req.ReceiverAccountID,
		Amount:            req.Amount,
		Type:              TransactionType(req.Type),
		PaymentMethod:     PaymentMethod(req.PaymentMethod),
		Description:       req.Description,
		InitiatedBy:       req.InitiatedBy,
	})
	if err != nil {
		h.logger.Error("create transaction", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTransactionResponse(record))
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	record, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionResponse(record))
}

func (h *Handler) listForAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(r.URL.Query().Get("account_id"))
	if err != nil {
		httpx.BadRequest(w, "account_id query parameter required")
		return
	}
	list, err := h.service.ListForAccount(r.Context(), accountID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]transactionResponse, 0, len(list))
	for i := range list {
		out = append(out, toTransactionResponse(&list[i]))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) completeTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	record, err := h.service.Complete(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionResponse(record))
}

func (h *Handler) cancelTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	record, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		h.logger.Error("cancel transaction", slog.String("transaction_id", id.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionResponse(record))
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	record, err := h.service.UpdateStatus(r.Context(), id, TransactionStatus(req.Status))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionResponse(record))
}

func (h *Handler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := h.transactionID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) transactionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.BadRequest(w, "invalid transaction id")
		return uuid.Nil, false
	}
	return id, true
}
