//go:build postgres_integration

package store

import (
	"os"
	"testing"
)

func TestPostgresConformance(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer p.Close()
	if err := p.Migrate(t.Context()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := p.db.ExecContext(t.Context(), `TRUNCATE orders, riders, dispatch_state, order_history, webhook_subscriptions, webhook_deliveries`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	testStore(t, p)
	testOutbox(t, p)
}
