package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/stagehand/pkg/models"
)

// RequestQuestion records questions from an agent working on ref. The
// question rides on ref's running agent, or claims the free slot itself.
// Only one question may be pending at a time.
func (e *Engine) RequestQuestion(ctx context.Context, ref models.ItemRef, toolCallID string, questions []models.Question, timeout time.Duration) (*models.AgentQuestion, error) {
	if len(questions) == 0 {
		return nil, validationError("request question", ref, "at least one question is required")
	}
	for i, q := range questions {
		if q.Header == "" || q.Prompt == "" {
			return nil, validationError("request question", ref, "question %d needs a header and a prompt", i+1)
		}
	}
	if timeout <= 0 {
		timeout = e.questionTimeout
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.loadItem("request question", ref); err != nil {
		return nil, err
	}
	pending, err := e.store.ListQuestions(models.QuestionPending)
	if err != nil {
		return nil, fmt.Errorf("request question: %w", err)
	}
	if len(pending) > 0 {
		return nil, conflictError("request question", ref, "question %s is already pending for %s", pending[0].ID, pending[0].Owner)
	}

	now := e.now()
	timeoutAt := now.Add(timeout)
	q := &models.AgentQuestion{
		ID:          uuid.NewString(),
		Owner:       ref,
		ToolCallID:  toolCallID,
		Questions:   questions,
		Status:      models.QuestionPending,
		RequestedAt: now,
		TimeoutAt:   &timeoutAt,
	}

	lease, err := e.store.GetLease()
	if err != nil {
		return nil, fmt.Errorf("request question: %w", err)
	}
	switch {
	case lease.Held() && lease.HolderKind == models.LeaseRun && lease.Owner == ref:
		// Rides on the owner's run.
	case lease.Held():
		return nil, conflictError("request question", ref, "agent slot is held by %s", lease.Owner)
	default:
		ok, err := e.store.AcquireLease(models.AgentLease{
			HolderKind: models.LeaseQuestion,
			Owner:      ref,
			HolderID:   q.ID,
			AcquiredAt: &now,
			PID:        e.pid,
		})
		if err != nil {
			return nil, fmt.Errorf("request question: %w", err)
		}
		if !ok {
			return nil, conflictError("request question", ref, "agent slot was claimed concurrently")
		}
		e.metrics.SlotOccupied.Set(1)
	}

	if err := e.store.CreateQuestion(q); err != nil {
		if _, relErr := e.store.ReleaseLease(q.ID); relErr != nil {
			e.logger.Error("release question lease", zap.String("question", q.ID), zap.Error(relErr))
		}
		return nil, fmt.Errorf("request question: %w", err)
	}
	e.logger.Info("question requested",
		zap.String("question", q.ID),
		zap.String("item", ref.String()),
		zap.Int("count", len(questions)),
		zap.Time("timeout_at", timeoutAt))
	e.notify(ctx, EventQuestionRequested, ref, q)
	return q, nil
}

// WaitForAnswer blocks until the question is no longer pending and returns
// it. A question past its timeout is expired while waiting.
func (e *Engine) WaitForAnswer(ctx context.Context, id string) (*models.AgentQuestion, error) {
	for {
		done := e.waiter(id)

		q, err := e.store.GetQuestion(id)
		if err != nil {
			return nil, fmt.Errorf("wait for answer: %w", err)
		}
		if q == nil {
			return nil, notFoundError("wait for answer", models.ItemRef{}, "question %s not found", id)
		}
		if q.Status != models.QuestionPending {
			e.signal(id)
			return q, nil
		}

		if err := e.awaitQuestion(ctx, q, done); err != nil {
			return nil, err
		}
	}
}

// answerPollInterval bounds how long an answer recorded by another process
// goes unnoticed.
const answerPollInterval = 2 * time.Second

func (e *Engine) awaitQuestion(ctx context.Context, q *models.AgentQuestion, done <-chan struct{}) error {
	var expire <-chan time.Time
	if q.TimeoutAt != nil {
		timer := time.NewTimer(q.TimeoutAt.Sub(e.now()))
		defer timer.Stop()
		expire = timer.C
	}
	poll := time.NewTimer(answerPollInterval)
	defer poll.Stop()

	select {
	case <-done:
	case <-poll.C:
	case <-expire:
		if err := e.finishQuestion(ctx, q.ID, models.QuestionTimeout, nil); err != nil && !errors.Is(err, ErrConflict) {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// AnswerQuestion records answers keyed by question header.
func (e *Engine) AnswerQuestion(ctx context.Context, id string, answers map[string]string) error {
	if len(answers) == 0 {
		return validationError("answer question", models.ItemRef{}, "no answers given")
	}
	return e.finishQuestion(ctx, id, models.QuestionAnswered, answers)
}

// CancelQuestion withdraws a pending question.
func (e *Engine) CancelQuestion(ctx context.Context, id string) error {
	return e.finishQuestion(ctx, id, models.QuestionCancelled, nil)
}

// ExpireQuestions times out every pending question whose deadline is at or
// before now and returns how many were expired.
func (e *Engine) ExpireQuestions(ctx context.Context, now time.Time) (int, error) {
	expired, err := e.store.ExpiredQuestions(now)
	if err != nil {
		return 0, fmt.Errorf("expire questions: %w", err)
	}
	n := 0
	for _, q := range expired {
		err := e.finishQuestion(ctx, q.ID, models.QuestionTimeout, nil)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ListQuestions lists questions, optionally filtered by status.
func (e *Engine) ListQuestions(ctx context.Context, status models.QuestionStatus) ([]models.AgentQuestion, error) {
	qs, err := e.store.ListQuestions(status)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return qs, nil
}

var questionEvents = map[models.QuestionStatus]EventType{
	models.QuestionAnswered:  EventQuestionAnswered,
	models.QuestionTimeout:   EventQuestionTimeout,
	models.QuestionCancelled: EventQuestionCancelled,
}

func (e *Engine) finishQuestion(ctx context.Context, id string, status models.QuestionStatus, answers map[string]string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finishQuestionLocked(ctx, id, status, answers)
}

func (e *Engine) finishQuestionLocked(ctx context.Context, id string, status models.QuestionStatus, answers map[string]string) error {
	op := string(questionEvents[status])
	q, err := e.store.GetQuestion(id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if q == nil {
		return notFoundError(op, models.ItemRef{}, "question %s not found", id)
	}
	if q.Status != models.QuestionPending {
		return conflictError(op, q.Owner, "question %s is already %s", id, q.Status)
	}

	now := e.now()
	q.Status = status
	if status == models.QuestionAnswered {
		q.Answers = answers
		q.AnsweredAt = &now
	}
	ok, err := e.store.FinishQuestion(q)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return conflictError(op, q.Owner, "question %s is already resolved", id)
	}

	released, err := e.store.ReleaseLease(q.ID)
	if err != nil {
		return fmt.Errorf("%s: release lease: %w", op, err)
	}
	if released {
		e.metrics.SlotOccupied.Set(0)
	}
	e.metrics.Questions.WithLabelValues(string(status)).Inc()
	e.logger.Info("question finished", zap.String("question", id), zap.String("status", string(status)))
	e.notify(ctx, questionEvents[status], q.Owner, q)
	e.signal(id)
	return nil
}

// cancelQuestionsForLocked cancels the owner's pending questions.
func (e *Engine) cancelQuestionsForLocked(ctx context.Context, owner models.ItemRef) error {
	pending, err := e.store.ListQuestions(models.QuestionPending)
	if err != nil {
		return fmt.Errorf("list pending questions: %w", err)
	}
	for _, q := range pending {
		if q.Owner != owner {
			continue
		}
		if err := e.finishQuestionLocked(ctx, q.ID, models.QuestionCancelled, nil); err != nil && !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return nil
}

// askFor returns the AskFunc handed to runs for owner.
func (e *Engine) askFor(owner models.ItemRef) AskFunc {
	return func(ctx context.Context, toolCallID string, questions []models.Question) (map[string]string, error) {
		q, err := e.RequestQuestion(ctx, owner, toolCallID, questions, 0)
		if err != nil {
			return nil, err
		}
		answered, err := e.WaitForAnswer(ctx, q.ID)
		if err != nil {
			return nil, err
		}
		if answered.Status != models.QuestionAnswered {
			return nil, fmt.Errorf("question %s was %s", q.ID, answered.Status)
		}
		return answered.Answers, nil
	}
}

func (e *Engine) waiter(id string) <-chan struct{} {
	e.waitMu.Lock()
	defer e.waitMu.Unlock()
	ch, ok := e.waiters[id]
	if !ok {
		ch = make(chan struct{})
		e.waiters[id] = ch
	}
	return ch
}

func (e *Engine) signal(id string) {
	e.waitMu.Lock()
	defer e.waitMu.Unlock()
	if ch, ok := e.waiters[id]; ok {
		close(ch)
		delete(e.waiters, id)
	}
}
