package controller

import (
	"net/http"

	domainErrors "github.com/cassiomorais/dualwrite/internal/domain/errors"
	"github.com/cassiomorais/dualwrite/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type AccountController struct {
	accountService *service.AccountService
}

func NewAccountController(accountService *service.AccountService) *AccountController {
	return &AccountController{accountService: accountService}
}

func (h *AccountController) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var initial int64
	if req.InitialBalance > 0 {
		cents, err := floatToCents(req.InitialBalance)
		if err != nil {
			writeError(w, domainErrors.NewValidationError("initial_balance", err.Error()))
			return
		}
		initial = cents
	}

	acct, err := h.accountService.CreateAccount(r.Context(), service.CreateAccountRequest{
		UserID:         req.UserID,
		InitialBalance: initial,
		Currency:       req.Currency,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, FromAccount(acct))
}

func (h *AccountController) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	acct, err := h.accountService.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromAccount(acct))
}

func (h *AccountController) Deposit(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(w, r)
	if !ok {
		return
	}

	var req DepositRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := floatToCents(req.Amount)
	if err != nil {
		writeError(w, domainErrors.NewValidationError("amount", err.Error()))
		return
	}

	acct, err := h.accountService.Deposit(r.Context(), service.DepositRequest{AccountID: id, Amount: amount})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromAccount(acct))
}

func accountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid account id", Code: "invalid_id"})
		return uuid.Nil, false
	}
	return id, true
}
