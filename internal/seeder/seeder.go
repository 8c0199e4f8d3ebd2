package seeder

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	DemoUserID      = "demo-user"
	DemoUserName    = "Demo User"
	DemoUserBalance = "100.00"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SeedDemoData inserts a starter price table and a funded demo user so a
// fresh install can be exercised immediately. Existing rows are left
// untouched.
func SeedDemoData(ctx context.Context, db DB) {
	prices := []struct {
		id, name, input, output string
	}{
		{"gpt-4", "GPT-4", "30.00", "60.00"},
		{"gpt-4o", "GPT-4o", "2.50", "10.00"},
		{"gpt-3.5-turbo", "GPT-3.5 Turbo", "0.50", "1.50"},
	}

	for _, p := range prices {
		_, err := db.Exec(ctx, `
			INSERT INTO model_prices (id, name, input_price, output_price)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, p.id, p.name, p.input, p.output)
		if err != nil {
			log.Printf("[Seeder] failed to seed price %s: %v", p.id, err)
			continue
		}
	}

	_, err := db.Exec(ctx, `
		INSERT INTO users (id, name, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, DemoUserID, DemoUserName, DemoUserBalance)
	if err != nil {
		log.Printf("[Seeder] failed to seed demo user: %v", err)
		return
	}

	log.Printf("[Seeder] Demo data ready")
	log.Printf("[Seeder] UserID: %s", DemoUserID)
	log.Printf("[Seeder] Balance: %s", DemoUserBalance)
}
