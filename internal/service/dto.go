package service

import "github.com/google/uuid"

// Controllers convert their HTTP DTOs to these types.

type CreateAccountRequest struct {
	UserID         string
	InitialBalance int64 // in cents
	Currency       string
}

type DepositRequest struct {
	AccountID uuid.UUID
	Amount    int64 // in cents
}
