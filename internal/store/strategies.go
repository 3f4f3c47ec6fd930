package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hiveworks/swarmd/pkg/models"
)

// UpsertStrategy inserts or replaces a strategy record by name.
func (db *DB) UpsertStrategy(s *models.ExecutionStrategy) error {
	payload, err := json.Marshal(s.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	_, err = db.conn.Exec(`
		INSERT INTO strategies (name, priority, pattern, backend, payload, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			priority = excluded.priority,
			pattern = excluded.pattern,
			backend = excluded.backend,
			payload = excluded.payload,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, s.Name, s.Priority, s.Pattern, s.Backend, string(payload),
		boolToInt(s.Active), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert strategy %s: %w", s.Name, err)
	}
	return nil
}

// ListActiveStrategies returns active strategies ordered by priority
// descending, then insertion order for a stable tie-break at equal
// priority.
func (db *DB) ListActiveStrategies() ([]*models.ExecutionStrategy, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT name, priority, pattern, backend, payload, active
		FROM strategies WHERE active = 1
		ORDER BY priority DESC, rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	defer rows.Close()

	var out []*models.ExecutionStrategy
	for rows.Next() {
		var (
			s       models.ExecutionStrategy
			payload sql.NullString
			active  int
		)
		if err := rows.Scan(&s.Name, &s.Priority, &s.Pattern, &s.Backend, &payload, &active); err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		s.Active = active != 0
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &s.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload for %s: %w", s.Name, err)
			}
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
