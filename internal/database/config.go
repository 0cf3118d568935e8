package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const CSRFKeyName = "csrf_key"

// GetAppConfig retrieves a configuration value from the app_configs table.
// A missing key yields nil without error.
func GetAppConfig(ctx context.Context, db *Database, key string) ([]byte, error) {
	var value []byte
	err := db.QueryRowContext(ctx, "SELECT value FROM app_configs WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Key not found, not an error
		}
		return nil, fmt.Errorf("failed to get app config for key %s: %w", key, err)
	}
	return value, nil
}

// SetAppConfig saves a configuration value to the app_configs table.
func SetAppConfig(ctx context.Context, db *Database, key string, value []byte) error {
	_, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO app_configs (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to set app config for key %s: %w", key, err)
	}
	return nil
}
