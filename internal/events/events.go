// Package events defines the account messages published after each write.
// Consumers key on AccountID and treat the latest event per key as the
// account's state; a corrected event overrides whatever was announced before.
package events

import (
	"fmt"
	"time"

	"github.com/cassiomorais/dualwrite/internal/domain/account"
	"github.com/google/uuid"
)

type EventType string

const (
	AccountCreated   EventType = "account.created"
	AccountCredited  EventType = "account.credited"
	AccountCorrected EventType = "account.corrected"
)

// Change is what a write produced: the account after the write, and why.
type Change struct {
	Type    EventType
	Account *account.Account
}

// AccountEvent is the wire message.
type AccountEvent struct {
	EventID      string    `json:"event_id"`
	Type         EventType `json:"type"`
	AccountID    string    `json:"account_id"`
	UserID       string    `json:"user_id,omitempty"`
	BalanceCents int64     `json:"balance_cents"`
	Currency     string    `json:"currency,omitempty"`
	Status       string    `json:"status"`
	Version      int       `json:"version"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// FromChange maps a Change to its wire message. Each call gets a fresh event id.
func FromChange(c Change) (AccountEvent, error) {
	if c.Account == nil {
		return AccountEvent{}, fmt.Errorf("map %s: no account", c.Type)
	}
	a := c.Account
	return AccountEvent{
		EventID:      uuid.NewString(),
		Type:         c.Type,
		AccountID:    a.ID.String(),
		UserID:       a.UserID,
		BalanceCents: a.Balance,
		Currency:     a.Currency,
		Status:       string(a.Status),
		Version:      a.Version,
		OccurredAt:   a.UpdatedAt,
	}, nil
}
