// Package ledger holds user balances and their append-only usage history.
// A debit mutates the balance and appends the matching usage record in one
// atomic unit; neither is ever visible without the other.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUserNotFound = errors.New("user not found")

// UsageRecord is one line of the audit trail. Records are append-only:
// the core never updates or deletes them.
type UsageRecord struct {
	ID           int64           `json:"id"`
	UserID       string          `json:"user_id"`
	Nickname     string          `json:"nickname"`
	Model        string          `json:"model_name"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	Cost         decimal.Decimal `json:"cost"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Debit describes one metering charge against a user.
type Debit struct {
	UserID       string
	Nickname     string
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         decimal.Decimal
}

type Store interface {
	// Debit subtracts d.Cost from the user's balance and appends the
	// usage record, atomically. The balance has no floor: it may go
	// negative, since metering runs after the exchange completed.
	Debit(ctx context.Context, d Debit) (*UsageRecord, error)

	ListByUser(ctx context.Context, userID string, from, to time.Time) ([]*UsageRecord, error)
	GetTotalCostByUser(ctx context.Context, userID string, from, to time.Time) (decimal.Decimal, error)
}
