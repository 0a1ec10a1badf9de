package models

import (
	"context"
	"time"
)

// TransactionKind labels a credit journal entry.
type TransactionKind string

const (
	TransactionPurchase TransactionKind = "purchase"
	TransactionDebit    TransactionKind = "debit"
)

// CreditTransaction is one row of the credit journal.
type CreditTransaction struct {
	ID           int64           `json:"id"`
	UserID       string          `json:"user_id"`
	Kind         TransactionKind `json:"kind"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balance_after"`
	Reference    string          `json:"reference"`
	CreatedAt    time.Time       `json:"created_at"`
}

// LedgerRepository stores per-user credit balances. Balances never go
// negative: Debit fails with ErrInsufficientCredits instead.
type LedgerRepository interface {
	// Credit adds amount and returns the new balance.
	Credit(ctx context.Context, userID string, amount int64, reference string) (int64, error)
	// Debit subtracts amount and returns the new balance.
	Debit(ctx context.Context, userID string, amount int64, reference string) (int64, error)
	// Balance returns 0 for users without a ledger row.
	Balance(ctx context.Context, userID string) (int64, error)
	Transactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error)
}
