package state

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

// agentStateColumns are shared by tasks and backlog_items, in scan order.
const agentStateColumns = `assigned_agent, has_error, error_message, retry_count, max_retries,
	is_paused, pause_reason, paused_at, recommended_next_state, confidence,
	needs_human_input, human_input_reason, pending_gate`

func agentStateArgs(a *models.AgentState) []any {
	return []any{
		a.AssignedAgent, a.HasError, a.ErrorMessage, a.RetryCount, a.MaxRetries,
		a.IsPaused, a.PauseReason, nullableTime(a.PausedAt), string(a.RecommendedNextState), nullableFloat(a.Confidence),
		a.NeedsHumanInput, a.HumanInputReason, a.PendingGate,
	}
}

// agentStateScan holds nullable intermediates while scanning.
type agentStateScan struct {
	pausedAt    sql.NullString
	recommended string
	confidence  sql.NullFloat64
}

func (s *agentStateScan) dest(a *models.AgentState) []any {
	return []any{
		&a.AssignedAgent, &a.HasError, &a.ErrorMessage, &a.RetryCount, &a.MaxRetries,
		&a.IsPaused, &a.PauseReason, &s.pausedAt, &s.recommended, &s.confidence,
		&a.NeedsHumanInput, &a.HumanInputReason, &a.PendingGate,
	}
}

func (s *agentStateScan) apply(a *models.AgentState) {
	a.PausedAt = parseNullableTime(s.pausedAt)
	a.RecommendedNextState = models.Stage(s.recommended)
	a.Confidence = floatPtr(s.confidence)
}

// Task CRUD operations

const taskColumns = `id, title, description, state, priority, ` + agentStateColumns + `,
	detected_language, detected_framework, backlog_id, execution_order, created_at, updated_at`

// CreateTask creates a new task.
func (db *DB) CreateTask(t *models.Task) error {
	_, err := db.Exec(`INSERT INTO tasks (`+taskColumns+`)
		VALUES (`+placeholders(24)+`)`, taskArgs(t)...)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func taskArgs(t *models.Task) []any {
	args := []any{t.ID, t.Title, t.Description, string(t.State), t.Priority}
	args = append(args, agentStateArgs(&t.AgentState)...)
	return append(args,
		t.DetectedLanguage, t.DetectedFramework, nullableString(t.BacklogID), t.ExecutionOrder,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
}

// GetTask retrieves a task by ID. It returns nil, nil when no task matches.
func (db *DB) GetTask(id string) (*models.Task, error) {
	row := db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UpdateTask overwrites every mutable column of a task.
func (db *DB) UpdateTask(t *models.Task) error {
	args := []any{t.Title, t.Description, string(t.State), t.Priority}
	args = append(args, agentStateArgs(&t.AgentState)...)
	args = append(args, t.DetectedLanguage, t.DetectedFramework, nullableString(t.BacklogID), t.ExecutionOrder,
		formatTime(t.UpdatedAt), t.ID)

	res, err := db.Exec(`
		UPDATE tasks SET title = ?, description = ?, state = ?, priority = ?,
			assigned_agent = ?, has_error = ?, error_message = ?, retry_count = ?, max_retries = ?,
			is_paused = ?, pause_reason = ?, paused_at = ?, recommended_next_state = ?, confidence = ?,
			needs_human_input = ?, human_input_reason = ?, pending_gate = ?,
			detected_language = ?, detected_framework = ?, backlog_id = ?, execution_order = ?, updated_at = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireOneRow(res, "task", t.ID)
}

// ListTasks lists tasks ordered by priority (highest first) then age.
func (db *DB) ListTasks(filter TaskFilter) ([]models.Task, error) {
	var where []string
	var args []any
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.BacklogID != "" {
		where = append(where, "backlog_id = ?")
		args = append(args, filter.BacklogID)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY priority DESC, created_at ASC, id ASC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanTask(row scanner) (*models.Task, error) {
	var t models.Task
	var st agentStateScan
	var state, createdAt, updatedAt string
	var backlogID sql.NullString

	dest := []any{&t.ID, &t.Title, &t.Description, &state, &t.Priority}
	dest = append(dest, st.dest(&t.AgentState)...)
	dest = append(dest, &t.DetectedLanguage, &t.DetectedFramework, &backlogID, &t.ExecutionOrder, &createdAt, &updatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	st.apply(&t.AgentState)
	t.State = models.Stage(state)
	t.BacklogID = backlogID.String
	t.CreatedAt, _ = parseTime(createdAt)
	t.UpdatedAt, _ = parseTime(updatedAt)
	return &t, nil
}

// Backlog item CRUD operations

const backlogColumns = `id, title, description, acceptance_criteria, state, priority, ` + agentStateColumns + `,
	detected_language, detected_framework, task_count, completed_task_count, refinement_iteration, created_at, updated_at`

// CreateBacklogItem creates a new backlog item.
func (db *DB) CreateBacklogItem(b *models.BacklogItem) error {
	args := []any{b.ID, b.Title, b.Description, b.AcceptanceCriteria, string(b.State), b.Priority}
	args = append(args, agentStateArgs(&b.AgentState)...)
	args = append(args, b.DetectedLanguage, b.DetectedFramework, b.TaskCount, b.CompletedTaskCount,
		b.RefinementIteration, formatTime(b.CreatedAt), formatTime(b.UpdatedAt))

	_, err := db.Exec(`INSERT INTO backlog_items (`+backlogColumns+`)
		VALUES (`+placeholders(26)+`)`, args...)
	if err != nil {
		return fmt.Errorf("create backlog item: %w", err)
	}
	return nil
}

// GetBacklogItem retrieves a backlog item by ID. It returns nil, nil when none matches.
func (db *DB) GetBacklogItem(id string) (*models.BacklogItem, error) {
	row := db.QueryRow(`SELECT `+backlogColumns+` FROM backlog_items WHERE id = ?`, id)
	b, err := scanBacklogItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backlog item: %w", err)
	}
	return b, nil
}

// UpdateBacklogItem overwrites every mutable column of a backlog item.
func (db *DB) UpdateBacklogItem(b *models.BacklogItem) error {
	args := []any{b.Title, b.Description, b.AcceptanceCriteria, string(b.State), b.Priority}
	args = append(args, agentStateArgs(&b.AgentState)...)
	args = append(args, b.DetectedLanguage, b.DetectedFramework, b.TaskCount, b.CompletedTaskCount,
		b.RefinementIteration, formatTime(b.UpdatedAt), b.ID)

	res, err := db.Exec(`
		UPDATE backlog_items SET title = ?, description = ?, acceptance_criteria = ?, state = ?, priority = ?,
			assigned_agent = ?, has_error = ?, error_message = ?, retry_count = ?, max_retries = ?,
			is_paused = ?, pause_reason = ?, paused_at = ?, recommended_next_state = ?, confidence = ?,
			needs_human_input = ?, human_input_reason = ?, pending_gate = ?,
			detected_language = ?, detected_framework = ?, task_count = ?, completed_task_count = ?,
			refinement_iteration = ?, updated_at = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("update backlog item: %w", err)
	}
	return requireOneRow(res, "backlog item", b.ID)
}

// ListBacklogItems lists backlog items, optionally in one state, by priority then age.
func (db *DB) ListBacklogItems(state models.Stage) ([]models.BacklogItem, error) {
	query := `SELECT ` + backlogColumns + ` FROM backlog_items`
	var args []any
	if state != "" {
		query += " WHERE state = ?"
		args = append(args, string(state))
	}
	query += " ORDER BY priority DESC, created_at ASC, id ASC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list backlog items: %w", err)
	}
	defer rows.Close()

	var items []models.BacklogItem
	for rows.Next() {
		b, err := scanBacklogItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backlog item: %w", err)
		}
		items = append(items, *b)
	}
	return items, rows.Err()
}

// CreateSplitTasks inserts child tasks for a backlog item and adds their
// number to its task count in one transaction.
func (db *DB) CreateSplitTasks(backlogID string, tasks []*models.Task) error {
	return db.Transaction(func(tx *sql.Tx) error {
		for _, t := range tasks {
			t.BacklogID = backlogID
			if _, err := tx.Exec(`INSERT INTO tasks (`+taskColumns+`)
				VALUES (`+placeholders(24)+`)`, taskArgs(t)...); err != nil {
				return fmt.Errorf("create split task %s: %w", t.ID, err)
			}
		}
		res, err := tx.Exec(`UPDATE backlog_items SET task_count = task_count + ? WHERE id = ?`, len(tasks), backlogID)
		if err != nil {
			return fmt.Errorf("update task count: %w", err)
		}
		return requireOneRow(res, "backlog item", backlogID)
	})
}

// RecountCompletedTasks sets a backlog item's completed count to the number
// of its children currently in the done stage and returns the updated item.
func (db *DB) RecountCompletedTasks(backlogID string, done models.Stage) (*models.BacklogItem, error) {
	res, err := db.Exec(`UPDATE backlog_items
		SET completed_task_count = (SELECT COUNT(*) FROM tasks WHERE backlog_id = ? AND state = ?)
		WHERE id = ?`, backlogID, string(done), backlogID)
	if err != nil {
		return nil, fmt.Errorf("recount completed tasks: %w", err)
	}
	if err := requireOneRow(res, "backlog item", backlogID); err != nil {
		return nil, err
	}
	return db.GetBacklogItem(backlogID)
}

func scanBacklogItem(row scanner) (*models.BacklogItem, error) {
	var b models.BacklogItem
	var st agentStateScan
	var state, createdAt, updatedAt string

	dest := []any{&b.ID, &b.Title, &b.Description, &b.AcceptanceCriteria, &state, &b.Priority}
	dest = append(dest, st.dest(&b.AgentState)...)
	dest = append(dest, &b.DetectedLanguage, &b.DetectedFramework, &b.TaskCount, &b.CompletedTaskCount,
		&b.RefinementIteration, &createdAt, &updatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	st.apply(&b.AgentState)
	b.State = models.Stage(state)
	b.CreatedAt, _ = parseTime(createdAt)
	b.UpdatedAt, _ = parseTime(updatedAt)
	return &b, nil
}

// ErrRowNotFound is wrapped when an update matches no row.
var ErrRowNotFound = errors.New("row not found")

func requireOneRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrRowNotFound)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
