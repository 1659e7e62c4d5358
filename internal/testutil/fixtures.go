package testutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cassiomorais/dualwrite/internal/domain/account"
	"github.com/cassiomorais/dualwrite/internal/events"
	"github.com/cassiomorais/dualwrite/pkg/dualwrite/dualwritetest"
	"github.com/google/uuid"
)

func NewTestAccount(userID string, balanceCents int64, currency string) *account.Account {
	now := time.Now().UTC()
	return &account.Account{
		ID:        uuid.New(),
		UserID:    userID,
		Balance:   balanceCents,
		Currency:  currency,
		Version:   0,
		Status:    account.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DecodeEvents decodes every message the producer saw, refused sends included.
func DecodeEvents(t *testing.T, p *dualwritetest.Producer) []events.AccountEvent {
	t.Helper()
	msgs := p.Messages()
	out := make([]events.AccountEvent, 0, len(msgs))
	for _, m := range msgs {
		var ev events.AccountEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		out = append(out, ev)
	}
	return out
}
