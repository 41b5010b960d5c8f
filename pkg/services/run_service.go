package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Littlefish319/autodeploy-agent-233/pkg/models"
)

// writeTimeout bounds single-row writes. Writes run detached from the
// caller's context so a cancelled request still records its outcome.
const writeTimeout = 5 * time.Second

// RunService manages runs and their step transitions
type RunService struct {
	db *sql.DB
}

// NewRunService creates a new RunService
func NewRunService(db *sql.DB) *RunService {
	return &RunService{db: db}
}

const runColumns = `id, session_id, request, status, started_at, completed_at, completed_steps, failed_step, error`

// CreateRun persists a run in the running state.
func (s *RunService) CreateRun(httpCtx context.Context, req models.CreateRunRequest) (*models.Run, error) {
	if req.RunID == "" {
		return nil, NewValidationError("RunID", "required")
	}
	if req.SessionID == "" {
		return nil, NewValidationError("SessionID", "required")
	}
	if req.Request == "" {
		return nil, NewValidationError("Request", "required")
	}
	if req.StartedAt.IsZero() {
		req.StartedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(httpCtx), writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, session_id, request, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		req.RunID, req.SessionID, req.Request, models.RunRunning, req.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("run %s: %w", req.RunID, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return &models.Run{
		ID:        req.RunID,
		SessionID: req.SessionID,
		Request:   req.Request,
		Status:    models.RunRunning,
		StartedAt: req.StartedAt,
	}, nil
}

// CompleteRun records the terminal status of a running run.
func (s *RunService) CompleteRun(httpCtx context.Context, runID string, req models.CompleteRunRequest) error {
	if !req.Status.IsTerminal() {
		return NewValidationError("Status", fmt.Sprintf("must be terminal, got %q", req.Status))
	}
	if req.CompletedAt.IsZero() {
		req.CompletedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(httpCtx), writeTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = $2, completed_at = $3, completed_steps = $4, failed_step = $5, error = $6
		 WHERE id = $1 AND status = $7`,
		runID, req.Status, req.CompletedAt, req.CompletedSteps,
		nullString(req.FailedStep), nullString(req.Error), models.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("running run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *RunService) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1 AND deleted_at IS NULL`, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs of a session, newest first.
func (s *RunService) ListRuns(ctx context.Context, sessionID string, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE session_id = $1 AND deleted_at IS NULL
		 ORDER BY started_at DESC, id
		 LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// RecordStepTransition appends a step status change to the run's history.
func (s *RunService) RecordStepTransition(httpCtx context.Context, req models.CreateStepTransitionRequest) error {
	if req.RunID == "" {
		return NewValidationError("RunID", "required")
	}
	if req.StepID == "" {
		return NewValidationError("StepID", "required")
	}
	if !req.Status.IsValid() {
		return NewValidationError("Status", fmt.Sprintf("unknown status %q", req.Status))
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(httpCtx), writeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_transitions (run_id, session_id, step_id, step_label, step_index, status, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.RunID, req.SessionID, req.StepID, req.StepLabel, req.StepIndex, req.Status,
		nullString(req.Error), req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record step transition: %w", err)
	}
	return nil
}

// GetStepTransitions returns a run's transitions in the order they happened.
func (s *RunService) GetStepTransitions(ctx context.Context, runID string) ([]models.StepTransition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, session_id, step_id, step_label, step_index, status, error, created_at
		 FROM step_transitions WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get step transitions: %w", err)
	}
	defer rows.Close()

	transitions := []models.StepTransition{}
	for rows.Next() {
		var (
			tr     models.StepTransition
			errMsg sql.NullString
		)
		if err := rows.Scan(&tr.ID, &tr.RunID, &tr.SessionID, &tr.StepID, &tr.StepLabel,
			&tr.StepIndex, &tr.Status, &errMsg, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step transition: %w", err)
		}
		tr.Error = errMsg.String
		transitions = append(transitions, tr)
	}
	return transitions, rows.Err()
}

// SoftDeleteRunsBefore marks finished runs completed before cutoff as deleted.
func (s *RunService) SoftDeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	res, err := s.db.ExecContext(writeCtx,
		`UPDATE runs SET deleted_at = now()
		 WHERE deleted_at IS NULL AND completed_at IS NOT NULL AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to soft delete runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to soft delete runs: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run         models.Run
		completedAt sql.NullTime
		failedStep  sql.NullString
		errMsg      sql.NullString
	)
	if err := row.Scan(&run.ID, &run.SessionID, &run.Request, &run.Status, &run.StartedAt,
		&completedAt, &run.CompletedSteps, &failedStep, &errMsg); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	run.FailedStep = failedStep.String
	run.Error = errMsg.String
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
