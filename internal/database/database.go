package database

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver picks the SQL driver for a DSN: postgres URLs go to lib/pq,
// everything else is treated as a SQLite file or memory DSN.
func Driver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}

// Connect opens the database named by dsn.
func Connect(dsn string) (*sqlx.DB, error) {
	driver := Driver(dsn)
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s database: %w", driver, err)
	}
	if driver == "sqlite" {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	return db, nil
}
