package database

import (
	"context"
	"database/sql"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	RoleAdmin      = "ADMIN"
	RoleEnumerator = "ENUMERATOR"
)

// UpsertUser creates the user or resets its name, password and role.
func UpsertUser(ctx context.Context, db *sql.DB, username, name, password, role string) (id int64, err error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return
	}
	role = strings.ToUpper(strings.TrimSpace(role))
	if role == "" {
		role = RoleEnumerator
	}

	err = db.QueryRowContext(ctx, `
		INSERT INTO user (username, name, password_hash, role) VALUES (?, ?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET
			name = excluded.name,
			password_hash = excluded.password_hash,
			role = excluded.role
		RETURNING id`,
		username, name, string(hash), role,
	).Scan(&id)
	return
}

// TouchDevice records that username used deviceID just now.
func TouchDevice(ctx context.Context, db *sql.DB, username, deviceID string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO device (user_id, device_id)
		SELECT id, ? FROM user WHERE username = ?
		ON CONFLICT (user_id, device_id) DO UPDATE SET last_seen_at = CURRENT_TIMESTAMP`,
		deviceID, username,
	)
	return err
}
