package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

const questionColumns = `id, owner_kind, owner_id, tool_call_id, questions, status,
	requested_at, timeout_at, answered_at, answers`

// CreateQuestion stores a new question batch.
func (db *DB) CreateQuestion(q *models.AgentQuestion) error {
	questions, err := json.Marshal(q.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	answers, err := encodeAnswers(q.Answers)
	if err != nil {
		return err
	}

	_, err = db.Exec(`INSERT INTO questions (`+questionColumns+`) VALUES (`+placeholders(10)+`)`,
		q.ID, string(q.Owner.Kind), q.Owner.ID, q.ToolCallID, string(questions), string(q.Status),
		formatTime(q.RequestedAt), nullableTime(q.TimeoutAt), nullableTime(q.AnsweredAt), answers)
	if err != nil {
		return fmt.Errorf("create question: %w", err)
	}
	return nil
}

// GetQuestion retrieves a question by ID. It returns nil, nil when none matches.
func (db *DB) GetQuestion(id string) (*models.AgentQuestion, error) {
	row := db.QueryRow(`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id)
	q, err := scanQuestion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get question: %w", err)
	}
	return q, nil
}

// FinishQuestion records a terminal status if the question is still pending.
func (db *DB) FinishQuestion(q *models.AgentQuestion) (bool, error) {
	answers, err := encodeAnswers(q.Answers)
	if err != nil {
		return false, err
	}
	res, err := db.Exec(`
		UPDATE questions SET status = ?, answered_at = ?, answers = ?
		WHERE id = ? AND status = ?
	`, string(q.Status), nullableTime(q.AnsweredAt), answers, q.ID, string(models.QuestionPending))
	if err != nil {
		return false, fmt.Errorf("finish question: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

// ListQuestions lists questions, optionally filtered by status, oldest first.
func (db *DB) ListQuestions(status models.QuestionStatus) ([]models.AgentQuestion, error) {
	query := `SELECT ` + questionColumns + ` FROM questions`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY requested_at ASC, id ASC"
	return db.queryQuestions(query, args...)
}

// ExpiredQuestions returns pending questions whose timeout has passed.
func (db *DB) ExpiredQuestions(now time.Time) ([]models.AgentQuestion, error) {
	return db.queryQuestions(`SELECT `+questionColumns+` FROM questions
		WHERE status = ? AND timeout_at IS NOT NULL AND timeout_at <= ?
		ORDER BY requested_at ASC, id ASC`,
		string(models.QuestionPending), formatTime(now))
}

func (db *DB) queryQuestions(query string, args ...any) ([]models.AgentQuestion, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var out []models.AgentQuestion
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func scanQuestion(row scanner) (*models.AgentQuestion, error) {
	var q models.AgentQuestion
	var kind, questions, status, requestedAt string
	var timeoutAt, answeredAt, answers sql.NullString
	if err := row.Scan(&q.ID, &kind, &q.Owner.ID, &q.ToolCallID, &questions, &status,
		&requestedAt, &timeoutAt, &answeredAt, &answers); err != nil {
		return nil, err
	}
	q.Owner.Kind = models.ItemKind(kind)
	q.Status = models.QuestionStatus(status)
	q.RequestedAt, _ = parseTime(requestedAt)
	q.TimeoutAt = parseNullableTime(timeoutAt)
	q.AnsweredAt = parseNullableTime(answeredAt)
	if err := json.Unmarshal([]byte(questions), &q.Questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	if answers.Valid && answers.String != "" {
		if err := json.Unmarshal([]byte(answers.String), &q.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	return &q, nil
}

func encodeAnswers(answers map[string]string) (any, error) {
	if answers == nil {
		return nil, nil
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("encode answers: %w", err)
	}
	return string(data), nil
}
