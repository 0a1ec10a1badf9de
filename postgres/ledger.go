package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/emviapp/emviapp-backend/models"
)

type ledgerRepository struct {
	s *Store
}

const insertTransactionQuery = `INSERT INTO credit_transactions (user_id, kind, amount, balance_after, reference)
	VALUES ($1, $2, $3, $4, $5)`

// Credit upserts the balance row and journals the purchase.
func (r *ledgerRepository) Credit(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	const q = `INSERT INTO credit_balances (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = credit_balances.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING balance`

	var balance int64

	err := r.s.atomic(ctx, func(tx querier) error {
		if err := tx.QueryRow(ctx, q, userID, amount).Scan(&balance); err != nil {
			return fmt.Errorf("failed to credit balance: %w", err)
		}

		if _, err := tx.Exec(ctx, insertTransactionQuery, userID, models.TransactionPurchase, amount, balance, reference); err != nil {
			return fmt.Errorf("failed to journal credit: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return balance, nil
}

// Debit is a single conditional update: the balance check and the decrement
// happen in the same statement, so two concurrent debits cannot both pass.
func (r *ledgerRepository) Debit(ctx context.Context, userID string, amount int64, reference string) (int64, error) {
	const q = `UPDATE credit_balances
		SET balance = balance - $1, updated_at = NOW()
		WHERE user_id = $2 AND balance >= $1
		RETURNING balance`

	var balance int64

	err := r.s.atomic(ctx, func(tx querier) error {
		if err := tx.QueryRow(ctx, q, amount, userID).Scan(&balance); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return models.ErrInsufficientCredits
			}

			return fmt.Errorf("failed to debit balance: %w", err)
		}

		if _, err := tx.Exec(ctx, insertTransactionQuery, userID, models.TransactionDebit, amount, balance, reference); err != nil {
			return fmt.Errorf("failed to journal debit: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return balance, nil
}

func (r *ledgerRepository) Balance(ctx context.Context, userID string) (int64, error) {
	const q = `SELECT balance FROM credit_balances WHERE user_id = $1`

	var balance int64

	err := r.s.q.QueryRow(ctx, q, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}

		return 0, fmt.Errorf("failed to read balance: %w", err)
	}

	return balance, nil
}

func (r *ledgerRepository) Transactions(ctx context.Context, userID string, limit int) ([]models.CreditTransaction, error) {
	const q = `SELECT id, user_id, kind, amount, balance_after, reference, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2`

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.s.q.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []models.CreditTransaction

	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &t.Amount, &t.BalanceAfter, &t.Reference, &t.CreatedAt); err != nil {
			return nil, err
		}

		out = append(out, t)
	}

	return out, rows.Err()
}
