package controller

import (
	"fmt"
	"math"
	"time"

	"github.com/cassiomorais/dualwrite/internal/domain/account"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns (float64 for money, string for IDs, validation tags).
// Controllers convert these to service layer DTOs before calling business logic.

// CreateAccountRequest holds the input for creating an account.
type CreateAccountRequest struct {
	UserID         string  `json:"user_id" validate:"required"`
	InitialBalance float64 `json:"initial_balance" validate:"gte=0"`
	Currency       string  `json:"currency" validate:"required,len=3"`
}

// DepositRequest holds the input for crediting an account.
type DepositRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
}

// --- Response DTOs ---

// AccountResponse represents an account in API responses.
type AccountResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Balance   float64   `json:"balance"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromAccount converts a domain account to API response.
func FromAccount(a *account.Account) *AccountResponse {
	return &AccountResponse{
		ID:        a.ID.String(),
		UserID:    a.UserID,
		Balance:   centsToFloat(a.Balance),
		Currency:  a.Currency,
		Status:    string(a.Status),
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// maxAmountFloat is the largest whole amount whose cents still fit in int64.
const maxAmountFloat = 922337203685477.0

// floatToCents converts a positive dollar amount to cents, rounding to the
// nearest cent.
func floatToCents(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("amount must be a finite number")
	}
	if f <= 0 {
		return 0, fmt.Errorf("amount must be greater than 0")
	}
	if f > maxAmountFloat {
		return 0, fmt.Errorf("amount exceeds maximum of %.0f", maxAmountFloat)
	}
	return int64(math.Round(f * 100)), nil
}

// centsToFloat converts cents to a float dollar amount.
func centsToFloat(cents int64) float64 {
	return float64(cents) / 100.0
}
