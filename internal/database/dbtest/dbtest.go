// Package dbtest opens in-memory SQLite databases for repository tests.
package dbtest

import (
	"context"
	"database/sql"
	"testing"

	"ticket-booking/internal/models"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

// Open returns a bun DB over a private in-memory SQLite database holding
// every application table. The pool is pinned to a single connection since
// each new :memory: connection would see an empty database.
func Open(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	tables := []interface{}{
		(*models.User)(nil),
		(*models.Ticket)(nil),
		(*models.Booking)(nil),
		(*models.Payment)(nil),
		(*models.Sale)(nil),
	}
	for _, model := range tables {
		if _, err := bunDB.NewCreateTable().Model(model).Exec(context.Background()); err != nil {
			t.Fatalf("Failed to create table for %T: %v", model, err)
		}
	}
	return bunDB
}
