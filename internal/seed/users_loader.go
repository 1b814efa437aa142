package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// LoadUsers ingests staff accounts from a CSV with the header
// username,email,password,role,business_id. Passwords are hashed on the way
// in; rows whose email already exists are skipped.
func LoadUsers(ctx context.Context, db *sqlx.DB, csvPath string, logger zerolog.Logger) (int, error) {
	file, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("open users file %s: %w", csvPath, err)
	}
	defer file.Close()
	return loadUsers(ctx, db, file, logger)
}

func loadUsers(ctx context.Context, db *sqlx.DB, r io.Reader, logger zerolog.Logger) (int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	// Skip header
	if _, err := reader.Read(); err != nil {
		return 0, fmt.Errorf("read users header: %w", err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO users (id, username, email, password, role, business_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (email) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	rows := 0
	line := 1
	for {
		record, err := reader.Read()
		line++
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Warn().Err(err).Int("line", line).Msg("unable to read user row")
			continue
		}
		if len(record) < 5 {
			logger.Warn().Int("line", line).Msg("user row needs 5 columns")
			continue
		}
		username := strings.TrimSpace(record[0])
		email := strings.ToLower(strings.TrimSpace(record[1]))
		password := record[2]
		role := strings.TrimSpace(record[3])
		businessID := strings.TrimSpace(record[4])

		if email == "" || password == "" || businessID == "" {
			continue
		}
		if role != "owner" && role != "employee" {
			logger.Warn().Int("line", line).Str("role", role).Msg("role must be owner or employee")
			continue
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return rows, fmt.Errorf("hash password for %s: %w", email, err)
		}
		res, err := stmt.ExecContext(ctx, uuid.NewString(), username, email, string(hashed), role, businessID,
			time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			logger.Warn().Err(err).Str("email", email).Msg("unable to insert user")
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			rows++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit users seed: %w", err)
	}
	logger.Info().Int("rows", rows).Msg("seeded users")
	return rows, nil
}
