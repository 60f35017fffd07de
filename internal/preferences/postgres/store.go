package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/hfsql/hfsql/internal/preferences"
)

const (
	keyLoadViewsOnStartup = "loadViewsOnStartup"
	keyShowExplorer       = "showExplorer"
	keyAPIToken           = "apiToken"
)

// Store keeps preferences as key/value rows. Keys never written fall back to
// the defaults the store was built with.
type Store struct {
	db       *sql.DB
	defaults preferences.Preferences
}

func NewStore(db *sql.DB, defaults preferences.Preferences) *Store {
	return &Store{db: db, defaults: defaults}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping preferences db: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context) (preferences.Preferences, error) {
	query := `
SELECT pref_key, pref_value
FROM hfsql_preference`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return preferences.Preferences{}, fmt.Errorf("load preferences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	prefs := s.defaults
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return preferences.Preferences{}, fmt.Errorf("scan preference: %w", err)
		}
		if err := apply(&prefs, key, value); err != nil {
			return preferences.Preferences{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return preferences.Preferences{}, fmt.Errorf("iterate preferences: %w", err)
	}
	return prefs, nil
}

func (s *Store) Save(ctx context.Context, prefs preferences.Preferences) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
INSERT INTO hfsql_preference (pref_key, pref_value)
VALUES ($1, $2)
ON CONFLICT (pref_key)
DO UPDATE SET pref_value = EXCLUDED.pref_value, updated_at = now()`

	values := []struct{ key, value string }{
		{keyLoadViewsOnStartup, strconv.FormatBool(prefs.LoadViewsOnStartup)},
		{keyShowExplorer, strconv.FormatBool(prefs.ShowExplorer)},
		{keyAPIToken, prefs.APIToken},
	}
	for _, v := range values {
		if _, err := tx.ExecContext(ctx, query, v.key, v.value); err != nil {
			return fmt.Errorf("save preference %s: %w", v.key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func apply(prefs *preferences.Preferences, key, value string) error {
	switch key {
	case keyLoadViewsOnStartup, keyShowExplorer:
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid preference %s: %w", key, err)
		}
		if key == keyLoadViewsOnStartup {
			prefs.LoadViewsOnStartup = parsed
		} else {
			prefs.ShowExplorer = parsed
		}
	case keyAPIToken:
		prefs.APIToken = value
	}
	return nil
}
