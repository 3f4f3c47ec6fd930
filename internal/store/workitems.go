package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hiveworks/swarmd/pkg/models"
)

// itemMetadata is the json-encoded metadata column. Depth and parent ID
// live here so restored tasks keep their place in the decomposition
// hierarchy.
type itemMetadata struct {
	Role       models.Role `json:"role"`
	Depth      int         `json:"depth"`
	ParentID   string      `json:"parent_id,omitempty"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// CreateWorkItem persists a new work item. Fails if the ID exists.
func (db *DB) CreateWorkItem(item *models.WorkItem) error {
	dependsOn, err := json.Marshal(item.DependsOn)
	if err != nil {
		return fmt.Errorf("marshal depends_on: %w", err)
	}
	context, err := json.Marshal(item.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	metadata, err := json.Marshal(itemMetadata{
		Role:       item.Role,
		Depth:      item.Depth,
		ParentID:   item.ParentID,
		EnqueuedAt: item.EnqueuedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	_, err = db.conn.Exec(`
		INSERT INTO work_items
			(id, title, description, status, priority, complexity, depends_on,
			 context, metadata, max_retries, retry_count, timeout_ms,
			 assigned_to, error_message, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.Title, item.Description, string(item.Status), item.Priority,
		item.Complexity, string(dependsOn), string(context), string(metadata),
		item.MaxRetries, item.RetryCount, item.Timeout.Milliseconds(),
		item.AssignedTo, item.ErrorMessage, formatTime(item.EnqueuedAt))
	if err != nil {
		return fmt.Errorf("insert work item %s: %w", item.ID, err)
	}
	return nil
}

// GetWorkItem loads a work item by ID.
func (db *DB) GetWorkItem(id string) (*models.WorkItem, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRow(`
		SELECT id, title, description, status, priority, complexity, depends_on,
		       context, metadata, max_retries, retry_count, timeout_ms,
		       assigned_to, result, error_message, enqueued_at
		FROM work_items WHERE id = ?
	`, id)
	return scanWorkItem(row)
}

// GetStatus returns the persisted status of a work item. The store is
// the source of truth for status across restarts.
func (db *DB) GetStatus(id string) (models.TaskStatus, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var status string
	err := db.conn.QueryRow("SELECT status FROM work_items WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get status for %s: %w", id, err)
	}
	return models.TaskStatus(status), nil
}

// UpdateStatus sets the status and optional error message for an item.
func (db *DB) UpdateStatus(id string, status models.TaskStatus, errMsg string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(
		"UPDATE work_items SET status = ?, error_message = ? WHERE id = ?",
		string(status), nullable(errMsg), id)
	if err != nil {
		return fmt.Errorf("update status for %s: %w", id, err)
	}
	return requireRow(res, id)
}

// SetResult records the execution result and marks the item completed.
func (db *DB) SetResult(id string, result map[string]any) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.conn.Exec(
		"UPDATE work_items SET status = ?, result = ?, error_message = NULL WHERE id = ?",
		string(models.TaskStatusCompleted), string(encoded), id)
	if err != nil {
		return fmt.Errorf("set result for %s: %w", id, err)
	}
	return requireRow(res, id)
}

// AssignWorker records which worker handle claimed the item.
func (db *DB) AssignWorker(id, worker string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(
		"UPDATE work_items SET assigned_to = ? WHERE id = ?", worker, id)
	if err != nil {
		return fmt.Errorf("assign worker for %s: %w", id, err)
	}
	return requireRow(res, id)
}

// IncrementRetry bumps the retry counter and returns the new value.
func (db *DB) IncrementRetry(id string) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(
		"UPDATE work_items SET retry_count = retry_count + 1 WHERE id = ?", id); err != nil {
		return 0, fmt.Errorf("increment retry for %s: %w", id, err)
	}
	var count int
	err := db.conn.QueryRow("SELECT retry_count FROM work_items WHERE id = ?", id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read retry count for %s: %w", id, err)
	}
	return count, nil
}

// ListByStatus returns all work items with the given status.
func (db *DB) ListByStatus(status models.TaskStatus) ([]*models.WorkItem, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, title, description, status, priority, complexity, depends_on,
		       context, metadata, max_retries, retry_count, timeout_ms,
		       assigned_to, result, error_message, enqueued_at
		FROM work_items WHERE status = ? ORDER BY priority DESC, enqueued_at
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer rows.Close()

	var items []*models.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListOpen returns every work item that has not reached a terminal
// state, in enqueue order. Used to rebuild the in-memory graph after a
// restart.
func (db *DB) ListOpen() ([]*models.WorkItem, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, title, description, status, priority, complexity, depends_on,
		       context, metadata, max_retries, retry_count, timeout_ms,
		       assigned_to, result, error_message, enqueued_at
		FROM work_items
		WHERE status NOT IN (?, ?)
		ORDER BY enqueued_at
	`, string(models.TaskStatusCompleted), string(models.TaskStatusFailed))
	if err != nil {
		return nil, fmt.Errorf("list open items: %w", err)
	}
	defer rows.Close()

	var items []*models.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListAll returns every work item in enqueue order, terminal or not.
// Startup restore needs the terminal ones too: a pending item may
// depend on a task completed before the restart.
func (db *DB) ListAll() ([]*models.WorkItem, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, title, description, status, priority, complexity, depends_on,
		       context, metadata, max_retries, retry_count, timeout_ms,
		       assigned_to, result, error_message, enqueued_at
		FROM work_items
		ORDER BY enqueued_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list all items: %w", err)
	}
	defer rows.Close()

	var items []*models.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// StatusMap returns the status of every work item, keyed by ID.
func (db *DB) StatusMap() (map[string]models.TaskStatus, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query("SELECT id, status FROM work_items")
	if err != nil {
		return nil, fmt.Errorf("status map: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.TaskStatus)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan status row: %w", err)
		}
		out[id] = models.TaskStatus(status)
	}
	return out, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanWorkItem.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*models.WorkItem, error) {
	var (
		item                       models.WorkItem
		status                     string
		dependsOn, context, meta   sql.NullString
		assignedTo, result, errMsg sql.NullString
		timeoutMS                  int64
		enqueuedAt                 string
	)

	err := row.Scan(&item.ID, &item.Title, &item.Description, &status,
		&item.Priority, &item.Complexity, &dependsOn, &context, &meta,
		&item.MaxRetries, &item.RetryCount, &timeoutMS,
		&assignedTo, &result, &errMsg, &enqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan work item: %w", err)
	}

	item.Status = models.TaskStatus(status)
	item.Timeout = time.Duration(timeoutMS) * time.Millisecond
	item.AssignedTo = assignedTo.String
	item.ErrorMessage = errMsg.String

	if dependsOn.Valid && dependsOn.String != "" {
		if err := json.Unmarshal([]byte(dependsOn.String), &item.DependsOn); err != nil {
			return nil, fmt.Errorf("unmarshal depends_on: %w", err)
		}
	}
	if context.Valid && context.String != "" {
		if err := json.Unmarshal([]byte(context.String), &item.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if meta.Valid && meta.String != "" {
		var m itemMetadata
		if err := json.Unmarshal([]byte(meta.String), &m); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		item.Role = m.Role
		item.Depth = m.Depth
		item.ParentID = m.ParentID
		item.EnqueuedAt = m.EnqueuedAt
	}
	if item.EnqueuedAt.IsZero() {
		if t, err := parseTime(enqueuedAt); err == nil {
			item.EnqueuedAt = t
		}
	}
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &item.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return &item, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("work item %s: %w", id, ErrNotFound)
	}
	return nil
}
