package transfer

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-bank/meridian/internal/platform/httpx"
)

// Handler exposes the transfer endpoint.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers the transfer route with a per-IP rate limit.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(30, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Post("/transfer", h.transferFunds)
	})
}

type transferRequest struct {
	FromAccountID uuid.UUID       `json:"from_account_id" validate:"required"`
	ToAccountID   uuid.UUID       `json:"to_account_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description" validate:"max=500"`
	InitiatedBy   *uuid.UUID      `json:"initiated_by"`
}

type transferResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	ReferenceID   string    `json:"reference_id"`
	Status        string    `json:"status"`
	Amount        string    `json:"amount"`
}

func (h *Handler) transferFunds(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	if req.Amount.Sign() <= 0 {
		httpx.BadRequest(w, "amount must be positive")
		return
	}

	record, err := h.service.TransferFunds(r.Context(), Request{
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         req.Amount,
		Description:    req.Description,
		InitiatedBy:    req.InitiatedBy,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.logger.Error("transfer funds",
			slog.String("from", req.FromAccountID.String()),
			slog.String("to", req.ToAccountID.String()),
			slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, transferResponse{
		TransactionID: record.ID,
		ReferenceID:   record.ReferenceID,
		Status:        string(record.Status),
		Amount:        record.Amount.String(),
	})
}
