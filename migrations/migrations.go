package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

var db *sql.DB

// Init sets the DB connection used by Migrate.
func Init(database *sql.DB) {
	db = database
}

// accountTable is shared by user_usage and consolidated_users; the two copies
// have the same shape.
const accountTable = `
	CREATE TABLE IF NOT EXISTS %s (
		user_id VARCHAR(191) NOT NULL PRIMARY KEY,
		email VARCHAR(191) NOT NULL DEFAULT '',
		plan_type VARCHAR(32) NULL,
		photos_limit INT NOT NULL DEFAULT 0,
		photos_used INT NOT NULL DEFAULT 0,
		subscription_status VARCHAR(32) NOT NULL DEFAULT 'inactive',
		cancellation_date DATETIME NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_%s_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

const createSubscriptions = `
	CREATE TABLE IF NOT EXISTS subscriptions (
		stripe_subscription_id VARCHAR(191) NOT NULL PRIMARY KEY,
		user_id VARCHAR(191) NOT NULL,
		stripe_customer_id VARCHAR(191) NOT NULL DEFAULT '',
		plan_type VARCHAR(32) NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL DEFAULT '',
		current_period_end DATETIME NULL,
		canceled_at DATETIME NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_subscriptions_user (user_id, updated_at),
		INDEX idx_subscriptions_customer (stripe_customer_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

const createStripeEvents = `
	CREATE TABLE IF NOT EXISTS stripe_events (
		event_id VARCHAR(191) NOT NULL PRIMARY KEY,
		event_type VARCHAR(100) NOT NULL,
		processed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

// Statements returns the DDL in the order Migrate runs it.
func Statements() []string {
	return []string{
		fmt.Sprintf(accountTable, "user_usage", "user_usage"),
		fmt.Sprintf(accountTable, "consolidated_users", "consolidated_users"),
		createSubscriptions,
		createStripeEvents,
	}
}

// Migrate creates required tables if they do not exist.
func Migrate(ctx context.Context) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	for i, stmt := range Statements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	// Older deployments created consolidated_users without a plan column.
	if err := addColumnIfMissing(ctx, "consolidated_users", "plan_type", "VARCHAR(32) NULL"); err != nil {
		return fmt.Errorf("add consolidated_users.plan_type: %w", err)
	}
	log.Info().Int("statements", len(Statements())).Msg("migrations applied")
	return nil
}

func addColumnIfMissing(ctx context.Context, table, column, definition string) error {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?`, table, column).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = db.ExecContext(ctx, "ALTER TABLE "+table+" ADD COLUMN "+column+" "+definition)
	return err
}
