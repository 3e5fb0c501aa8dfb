// Copyright 2024 The mqttgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/turtacn/mqttgate/pkg/auth"
)

// SQLConfig holds the settings for a SQL-backed user store.
type SQLConfig struct {
	// Driver is the database/sql driver name: "postgres" or "sqlite3".
	Driver string `json:"driver" yaml:"driver"`
	// DSN is the driver-specific connection string.
	DSN             string        `json:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	// QueryTimeout bounds every lookup so a slow backend degrades to a
	// denied operation instead of a hung connection.
	QueryTimeout time.Duration `json:"query_timeout" yaml:"query_timeout"`
}

func (c *SQLConfig) applyDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 5 * time.Second
	}
}

// SQLStore is a UserStore backed by a relational database. Both the
// PostgreSQL (lib/pq) and SQLite (go-sqlite3) drivers are supported;
// queries use the $N placeholder form, which both understand.
type SQLStore struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// NewSQLStore opens the database, configures the connection pool and
// verifies connectivity.
func NewSQLStore(cfg SQLConfig) (*SQLStore, error) {
	cfg.applyDefaults()

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.QueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLStore{db: db, queryTimeout: cfg.QueryTimeout}, nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the users and user_claims tables if they do not
// exist. The DDL sticks to types both backends accept.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			algorithm TEXT NOT NULL DEFAULT 'bcrypt',
			salt TEXT NOT NULL DEFAULT '',
			client_id TEXT NOT NULL DEFAULT '',
			client_id_prefix TEXT NOT NULL DEFAULT '',
			validate_client_id BOOLEAN NOT NULL DEFAULT FALSE,
			throttle_user BOOLEAN NOT NULL DEFAULT FALSE,
			monthly_byte_limit BIGINT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS user_claims (
			user_id BIGINT NOT NULL,
			claim_type TEXT NOT NULL,
			claim_value TEXT NOT NULL,
			PRIMARY KEY (user_id, claim_type)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// InsertUser writes a user row. It exists for provisioning and tests;
// the gateway itself never writes.
func (s *SQLStore) InsertUser(ctx context.Context, user *User) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var limit sql.NullInt64
	if user.MonthlyByteLimit != nil {
		limit = sql.NullInt64{Int64: *user.MonthlyByteLimit, Valid: true}
	}
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, algorithm, salt, client_id, client_id_prefix,
			validate_client_id, throttle_user, monthly_byte_limit, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		user.ID, user.Username, user.PasswordHash, string(user.Algorithm), user.Salt,
		user.ClientID, user.ClientIDPrefix, user.ValidateClientID, user.ThrottleUser,
		limit, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert user %s: %w", user.Username, err)
	}
	return nil
}

// UpsertClaim writes the claim row for a (user, type) pair, replacing
// any previous value.
func (s *SQLStore) UpsertClaim(ctx context.Context, claim *UserClaim) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	// Both backends support the standard conflict clause form.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_claims (user_id, claim_type, claim_value) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, claim_type) DO UPDATE SET claim_value = EXCLUDED.claim_value`,
		claim.UserID, claim.Type.String(), claim.Value)
	if err != nil {
		return fmt.Errorf("failed to upsert claim %s for user %d: %w", claim.Type, claim.UserID, err)
	}
	return nil
}

// FindUserByUsername implements UserStore.
func (s *SQLStore) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, algorithm, salt, client_id, client_id_prefix,
			validate_client_id, throttle_user, monthly_byte_limit, created_at, updated_at
		 FROM users WHERE username = $1`, username)

	var (
		user      User
		algorithm string
		limit     sql.NullInt64
		updatedAt sql.NullTime
	)
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &algorithm, &user.Salt,
		&user.ClientID, &user.ClientIDPrefix, &user.ValidateClientID, &user.ThrottleUser,
		&limit, &user.CreatedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user %s: %w", username, err)
	}

	user.Algorithm = auth.HashAlgorithm(algorithm)
	if limit.Valid {
		user.MonthlyByteLimit = &limit.Int64
	}
	if updatedAt.Valid {
		user.UpdatedAt = &updatedAt.Time
	}
	return &user, nil
}

// FindClaim implements UserStore.
func (s *SQLStore) FindClaim(ctx context.Context, userID int64, claimType ClaimType) (*UserClaim, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, claim_type, claim_value FROM user_claims
		 WHERE user_id = $1 AND claim_type = $2`, userID, claimType.String())

	var (
		claim    UserClaim
		typeName string
	)
	err := row.Scan(&claim.UserID, &typeName, &claim.Value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query claim %s for user %d: %w", claimType, userID, err)
	}

	parsed, err := ParseClaimType(typeName)
	if err != nil {
		return nil, fmt.Errorf("corrupt claim row for user %d: %w", userID, err)
	}
	claim.Type = parsed
	return &claim, nil
}

// ListClientIDPrefixes implements UserStore.
func (s *SQLStore) ListClientIDPrefixes(ctx context.Context) ([]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT client_id_prefix FROM users WHERE client_id_prefix <> ''`)
	if err != nil {
		return nil, fmt.Errorf("failed to query client id prefixes: %w", err)
	}
	defer rows.Close()

	var prefixes []string
	for rows.Next() {
		var prefix string
		if err := rows.Scan(&prefix); err != nil {
			return nil, fmt.Errorf("failed to scan client id prefix: %w", err)
		}
		prefixes = append(prefixes, prefix)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read client id prefixes: %w", err)
	}
	return prefixes, nil
}

// bound applies the store's query timeout to a caller context.
func (s *SQLStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}
