package accounts

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-bank/meridian/internal/platform/httpx"
)

// Handler manages account endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	guard    *Guard
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard *Guard) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		guard:    guard,
		validate: validator.New(),
	}
}

// MountRoutes registers account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createAccount)
	r.Get("/", h.listByCustomer)
	r.Get("/{id}", h.getAccount)
	r.Get("/{id}/balance", h.getBalance)
	r.Get("/{id}/locked", h.isLocked)
	r.Post("/{id}/deposit", h.deposit)
	r.Post("/{id}/withdraw", h.withdraw)
	r.Post("/{id}/freeze", h.freeze)
	r.Post("/{id}/unfreeze", h.unfreeze)
	r.Post("/{id}/close", h.close)
	r.Put("/{id}/transaction-limit", h.setTransactionLimit)
	r.Put("/{id}/overdraft", h.setOverdraft)
	r.Put("/{id}/type", h.changeType)
	r.Post("/{id}/holders", h.addHolder)
	r.Delete("/{id}/holders/{customerID}", h.removeHolder)
}

type accountResponse struct {
	ID                  uuid.UUID   `json:"id"`
	CustomerID          uuid.UUID   `json:"customer_id"`
	Name                string      `json:"name"`
	Number              string      `json:"number"`
	Type                AccountType `json:"account_type"`
	Status              string      `json:"status"`
	Balance             string      `json:"balance"`
	OverdraftProtection bool        `json:"overdraft_protection"`
	OverdraftLimit      string      `json:"overdraft_limit"`
	TransactionLimit    string      `json:"transaction_limit"`
	Holders             []uuid.UUID `json:"holders"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

func toAccountResponse(a *Account) accountResponse {
	return accountResponse{
		ID:                  a.ID,
		CustomerID:          a.CustomerID,
		Name:                a.Name,
		Number:              a.Number,
		Type:                a.Type,
		Status:              string(a.Status),
		Balance:             a.Balance.String(),
		OverdraftProtection: a.OverdraftProtection,
		OverdraftLimit:      a.OverdraftLimit.String(),
		TransactionLimit:    a.TransactionLimit.String(),
		Holders:             a.Holders,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

type createAccountRequest struct {
	CustomerID uuid.UUID `json:"customer_id" validate:"required"`
	Name       string    `json:"name" validate:"required,max=120"`
	Type       string    `json:"account_type" validate:"required"`
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}

	account, err := h.service.Create(r.Context(), CreateAccountInput{
		CustomerID: req.CustomerID,
		Name:       req.Name,
		Type:       AccountType(req.Type),
	})
	if err != nil {
		h.logger.Error("create account", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAccountResponse(account))
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	account, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	balance, err := h.service.GetBalance(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"account_id": id.String(), "balance": balance.String()})
}

func (h *Handler) isLocked(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	locked, err := h.service.IsLocked(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"account_id": id.String(), "locked": locked})
}

func (h *Handler) listByCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(r.URL.Query().Get("customer_id"))
	if err != nil {
		httpx.BadRequest(w, "customer_id query parameter required")
		return
	}
	list, err := h.service.ListByCustomer(r.Context(), customerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]accountResponse, 0, len(list))
	for i := range list {
		out = append(out, toAccountResponse(&list[i]))
	}
	httpx.JSON(w, http.StatusOK, out)
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	h.fundsOp(w, r, h.service.AddFunds)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	h.fundsOp(w, r, h.service.DeductFunds)
}

func (h *Handler) fundsOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (*Account, error)) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "malformed JSON body")
		return
	}
	account, err := op(r.Context(), id, req.Amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *Handler) freeze(w http.ResponseWriter, r *http.Request) {
	h.statusOp(w, r, h.service.Freeze)
}

func (h *Handler) unfreeze(w http.ResponseWriter, r *http.Request) {
	h.statusOp(w, r, h.service.Unfreeze)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	h.statusOp(w, r, h.service.Close)
}

func (h *Handler) statusOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) (*Account, error)) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	account, err := op(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

type limitRequest struct {
	Limit decimal.Decimal `json:"limit"`
}

func (h *Handler) setTransactionLimit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	var req limitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "malformed JSON body")
		return
	}
	account, err := h.service.SetTransactionLimit(r.Context(), id, req.Limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

type overdraftRequest struct {
	Enabled bool            `json:"enabled"`
	Limit   decimal.Decimal `json:"limit"`
}

func (h *Handler) setOverdraft(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	var req overdraftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "malformed JSON body")
		return
	}
	account, err := h.service.SetOverdraftProtection(r.Context(), id, req.Enabled, req.Limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

type changeTypeRequest struct {
	Type string `json:"account_type" validate:"required"`
}

func (h *Handler) changeType(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	var req changeTypeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	account, err := h.service.ChangeType(r.Context(), id, AccountType(req.Type))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

type holderRequest struct {
	CustomerID uuid.UUID `json:"customer_id" validate:"required"`
}

func (h *Handler) addHolder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	var req holderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}
	account, err := h.service.AddHolder(r.Context(), id, req.CustomerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *Handler) removeHolder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.accountID(w, r)
	if !ok {
		return
	}
	customerID, err := uuid.Parse(chi.URLParam(r, "customerID"))
	if err != nil {
		httpx.BadRequest(w, "invalid customer id")
		return
	}
	account, err := h.service.RemoveHolder(r.Context(), id, customerID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *Handler) accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.BadRequest(w, "invalid account id")
		return uuid.Nil, false
	}
	return id, true
}
