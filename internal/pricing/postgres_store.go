package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetByID(ctx context.Context, modelID string) (*ModelPrice, error) {
	query := `
		SELECT id, name, input_price, output_price
		FROM model_prices
		WHERE id = $1
	`

	var p ModelPrice
	err := s.db.QueryRow(ctx, query, modelID).Scan(
		&p.ID, &p.Name, &p.InputPrice, &p.OutputPrice,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPriceNotFound
		}
		return nil, fmt.Errorf("failed to get model price: %w", err)
	}

	return &p, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*ModelPrice, error) {
	query := `
		SELECT id, name, input_price, output_price
		FROM model_prices
		ORDER BY id
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query model prices: %w", err)
	}
	defer rows.Close()

	var prices []*ModelPrice
	for rows.Next() {
		var p ModelPrice
		if err := rows.Scan(&p.ID, &p.Name, &p.InputPrice, &p.OutputPrice); err != nil {
			return nil, fmt.Errorf("failed to scan model price: %w", err)
		}
		prices = append(prices, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating model prices: %w", err)
	}

	return prices, nil
}

func (s *PostgresStore) Create(ctx context.Context, price *ModelPrice) error {
	if price.ID == "" {
		return fmt.Errorf("model id is required")
	}

	query := `
		INSERT INTO model_prices (id, name, input_price, output_price)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := s.db.Exec(ctx, query, price.ID, price.Name, price.InputPrice, price.OutputPrice); err != nil {
		return fmt.Errorf("failed to create model price: %w", err)
	}

	return nil
}
