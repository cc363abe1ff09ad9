// Package prefs persists per-user UI preferences in a local sqlite
// database, replacing the browser storage the web client used for the
// same keys.
package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"khata/internal/core"

	_ "modernc.org/sqlite"
)

var ErrUnknownKey = errors.New("unknown preference key")

// Preference keys. Anything else is rejected so the table cannot grow
// arbitrary client state.
const (
	KeyProfileType      = "profileType"
	KeySidebarCollapsed = "sidebarCollapsed"
	KeyTheme            = "theme"
	KeyEmailAlerts      = "emailAlerts"
)

var allowedKeys = map[string]bool{
	KeyProfileType:      true,
	KeySidebarCollapsed: true,
	KeyTheme:            true,
	KeyEmailAlerts:      true,
}

// Defaults returned when a user has no stored value.
var defaults = map[string]string{
	KeyProfileType:      string(core.ProfilePersonal),
	KeySidebarCollapsed: "false",
	KeyTheme:            "light",
	KeyEmailAlerts:      "false",
}

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the stored value for a key, or its default when unset.
func (s *Store) Get(ctx context.Context, uid, key string) (string, error) {
	if !allowedKeys[key] {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE uid = ? AND key = ?`, uid, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return defaults[key], nil
	}
	if err != nil {
		return "", fmt.Errorf("get preference: %w", err)
	}
	return value, nil
}

// Set stores a value for a key, overwriting any previous one.
func (s *Store) Set(ctx context.Context, uid, key, value string) error {
	if !allowedKeys[key] {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (uid, key, value, updated_at)
		 VALUES (?, ?, ?, datetime('now'))
		 ON CONFLICT (uid, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		uid, key, value)
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

// All returns every preference for a user, filled in with defaults for
// keys the user never set.
func (s *Store) All(ctx context.Context, uid string) (map[string]string, error) {
	out := make(map[string]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM preferences WHERE uid = ?`, uid)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		if allowedKeys[k] {
			out[k] = v
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	return out, nil
}

// ActiveProfile returns the user's stored profile selection, falling
// back to the personal profile for unknown values.
func (s *Store) ActiveProfile(ctx context.Context, uid string) (core.ProfileType, error) {
	raw, err := s.Get(ctx, uid, KeyProfileType)
	if err != nil {
		return core.ProfilePersonal, err
	}
	profile, err := core.ParseProfileType(raw)
	if err != nil {
		return core.ProfilePersonal, nil
	}
	return profile, nil
}

// EmailAlertsEnabled reports whether the user opted into email alerts.
func (s *Store) EmailAlertsEnabled(ctx context.Context, uid string) (bool, error) {
	raw, err := s.Get(ctx, uid, KeyEmailAlerts)
	if err != nil {
		return false, err
	}
	return raw == "true", nil
}
