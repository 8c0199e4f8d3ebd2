package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

// Debit runs the balance mutation and the usage-record insert inside one
// transaction. The balance row is read FOR UPDATE so concurrent debits
// for the same user serialize instead of both applying against the same
// stale balance. Any failure after Begin rolls the whole unit back.
func (s *PostgresStore) Debit(ctx context.Context, d Debit) (rec *UsageRecord, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin debit transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Printf("ledger: rollback failed: %v", rbErr)
			}
			rec = nil
		}
	}()

	var balance decimal.Decimal
	err = tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, d.UserID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	newBalance := balance.Sub(d.Cost)

	_, err = tx.Exec(ctx, `UPDATE users SET balance = $1 WHERE id = $2`, newBalance, d.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	rec = &UsageRecord{
		UserID:       d.UserID,
		Nickname:     d.Nickname,
		Model:        d.Model,
		InputTokens:  d.InputTokens,
		OutputTokens: d.OutputTokens,
		Cost:         d.Cost,
		BalanceAfter: newBalance,
	}

	insert := `
		INSERT INTO user_usage_records (user_id, nickname, model_name, input_tokens, output_tokens, cost, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err = tx.QueryRow(ctx, insert,
		d.UserID, d.Nickname, d.Model,
		d.InputTokens, d.OutputTokens, d.Cost, newBalance,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert usage record: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit debit: %w", err)
	}

	return rec, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]*UsageRecord, error) {
	query := `
		SELECT id, user_id, nickname, model_name, input_tokens, output_tokens, cost, balance_after, created_at
		FROM user_usage_records
		WHERE user_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []*UsageRecord
	for rows.Next() {
		var r UsageRecord
		err := rows.Scan(
			&r.ID, &r.UserID, &r.Nickname, &r.Model,
			&r.InputTokens, &r.OutputTokens, &r.Cost, &r.BalanceAfter, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage records: %w", err)
	}

	return records, nil
}

func (s *PostgresStore) GetTotalCostByUser(ctx context.Context, userID string, from, to time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(cost), 0)
		FROM user_usage_records
		WHERE user_id = $1 AND created_at BETWEEN $2 AND $3
	`
	var total decimal.Decimal
	err := s.db.QueryRow(ctx, query, userID, from, to).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get total cost: %w", err)
	}

	return total, nil
}
