// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgerrors "taskflow/pkg/errors"
)

var queueNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Postgres is the pgx/pgxpool-backed Adapter. The default available_at of a
// spawned run, a sleep's wake time, event and checkpoint timestamps, and the
// expiry checks in the reclaim, claim and ExtendClaim queries use the
// database's own now(). Claim expiry values written by ClaimTasks and
// ExtendClaim, the ownership check before completing, failing or suspending
// a run, and the available_at of a retry run are computed from the Go
// process's time.Now().
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pool against dsn and verifies connectivity.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("taskflow/datastore: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("taskflow/datastore: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("taskflow/datastore: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool; callers own the Postgres adapter's lifetime.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) CreateQueue(ctx context.Context, name string) (err error) {
	defer func() { err = pkgerrors.Wrap(err, "create_queue") }()
	if !queueNamePattern.MatchString(name) {
		return fmt.Errorf("taskflow/datastore: invalid queue name %q", name)
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, stmt := range createQueueDDL(name) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) DropQueue(ctx context.Context, name string) (err error) {
	defer func() { err = pkgerrors.Wrap(err, "drop_queue") }()
	if !queueNamePattern.MatchString(name) {
		return fmt.Errorf("taskflow/datastore: invalid queue name %q", name)
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, stmt := range dropQueueDDL(name) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) ListQueues(ctx context.Context) (_ []string, err error) {
	defer func() { err = pkgerrors.Wrap(err, "list_queues") }()
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT substring(table_name from 3) FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name LIKE 't\_%' ESCAPE '\'
		ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func marshalRetryStrategy(rs *RetryStrategy) ([]byte, error) {
	if rs == nil {
		return nil, nil
	}
	return json.Marshal(rs)
}

func unmarshalRetryStrategy(b []byte) (*RetryStrategy, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var rs RetryStrategy
	if err := json.Unmarshal(b, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

func marshalHeaders(h map[string]string) ([]byte, error) {
	if len(h) == 0 {
		return nil, nil
	}
	return json.Marshal(h)
}

func unmarshalHeaders(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var h map[string]string
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, err
	}
	return h, nil
}

func (p *Postgres) SpawnTask(ctx context.Context, in SpawnInput) (taskIDOut, runIDOut string, attemptOut int, err error) {
	defer func() { err = pkgerrors.Wrap(err, "spawn_task") }()
	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	taskID := "task-" + uuid.New().String()
	runID := "run-" + uuid.New().String()

	retryJSON, err := marshalRetryStrategy(in.RetryStrategy)
	if err != nil {
		return "", "", 0, err
	}
	headerJSON, err := marshalHeaders(in.Headers)
	if err != nil {
		return "", "", 0, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return "", "", 0, err
	}
	defer tx.Rollback(ctx)

	t, r := taskTable(in.Queue), runTable(in.Queue)

	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (task_id, task_name, params, headers, retry_strategy, max_attempts, state, attempts, last_attempt_run_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, now())`, t),
		taskID, in.TaskName, in.Params, headerJSON, retryJSON, maxAttempts, string(TaskPending), runID)
	if err != nil {
		return "", "", 0, err
	}

	availableAtExpr := "now()"
	var args []interface{}
	args = append(args, runID, taskID)
	if !in.AvailableAt.IsZero() {
		availableAtExpr = "$3"
		args = append(args, in.AvailableAt)
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (run_id, task_id, attempt, state, available_at)
		VALUES ($1, $2, 1, '%s', %s)`, r, string(RunPending), availableAtExpr), args...)
	if err != nil {
		return "", "", 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", "", 0, err
	}
	return taskID, runID, 1, nil
}

func (p *Postgres) EmitEvent(ctx context.Context, queue, eventName string, payload []byte) (err error) {
	defer func() { err = pkgerrors.Wrap(err, "emit_event") }()
	_, err = p.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (event_name, payload, emitted_at) VALUES ($1, $2, now())`, eventTable(queue)),
		eventName, payload)
	return err
}

// reclaimExpiredTx resets queue's running runs whose claim has expired back
// to pending, within tx, per spec.md's "now < claim_expires_at" claim
// validity invariant. Returns the count reclaimed. Grounded on the teacher's
// ReclaimOrphanedFromEventStore, collapsed into a single UPDATE since this
// adapter has no separate event-store/metadata split to reconcile.
func (p *Postgres) reclaimExpiredTx(ctx context.Context, tx pgx.Tx, queue string) (int, error) {
	r, t := runTable(queue), taskTable(queue)
	rows, err := tx.Query(ctx, fmt.Sprintf(`
		UPDATE %s SET state = $1, claimed_by = NULL, claim_expires_at = NULL
		WHERE state = $2 AND claim_expires_at <= now()
		RETURNING task_id`, r), string(RunPending), string(RunRunning))
	if err != nil {
		return 0, err
	}
	var taskIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		taskIDs = append(taskIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, taskID := range taskIDs {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET state = $1 WHERE task_id = $2`, t), string(TaskPending), taskID); err != nil {
			return 0, err
		}
	}
	return len(taskIDs), nil
}

// ReclaimExpiredRuns resets queue's expired running runs to pending.
// ClaimTasks already does this before selecting candidates; this is exposed
// for a periodic sweep of queues nobody is actively polling.
func (p *Postgres) ReclaimExpiredRuns(ctx context.Context, queue string) (n int, err error) {
	defer func() { err = pkgerrors.Wrap(err, "reclaim_expired_runs") }()
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)
	n, err = p.reclaimExpiredTx(ctx, tx, queue)
	if err != nil {
		return 0, err
	}
	return n, tx.Commit(ctx)
}

// ClaimTasks mirrors pg_store.go's claim pattern: FOR UPDATE SKIP LOCKED
// over the eligible-runs query, so concurrent workers never contend on the
// same row and never double-claim. Expired running runs are reclaimed to
// pending first, in the same transaction, so they're immediately visible to
// the SELECT below.
func (p *Postgres) ClaimTasks(ctx context.Context, queue string, batchSize int, claimTimeout time.Duration, workerID string) (_ []ClaimedRun, err error) {
	defer func() { err = pkgerrors.Wrap(err, "claim_tasks") }()
	if batchSize <= 0 {
		return nil, nil
	}
	t, r, e := taskTable(queue), runTable(queue), eventTable(queue)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := p.reclaimExpiredTx(ctx, tx, queue); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT run_id FROM %s r
		WHERE r.state IN ($1, $2)
		AND (
			(r.state = $1 AND r.available_at <= now())
			OR (r.state = $2 AND r.wake_event IS NULL AND r.available_at <= now())
			OR (r.state = $2 AND r.wake_event IS NOT NULL AND EXISTS (
				SELECT 1 FROM %s e WHERE e.event_name = r.wake_event AND e.consumed = false
			))
		)
		ORDER BY r.available_at
		LIMIT $3
		FOR UPDATE OF r SKIP LOCKED`, r, e),
		string(RunPending), string(RunSleeping), batchSize)
	if err != nil {
		return nil, err
	}
	var runIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		runIDs = append(runIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(runIDs) == 0 {
		return nil, tx.Commit(ctx)
	}

	expires := time.Now().Add(claimTimeout)
	out := make([]ClaimedRun, 0, len(runIDs))
	for _, runID := range runIDs {
		_, err := tx.Exec(ctx, fmt.Sprintf(`
			UPDATE %s SET state = $1, claimed_by = $2, claim_expires_at = $3, started_at = COALESCE(started_at, now())
			WHERE run_id = $4`, r),
			string(RunRunning), workerID, expires, runID)
		if err != nil {
			return nil, err
		}

		var taskID string
		var attempt int
		if err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT task_id, attempt FROM %s WHERE run_id = $1`, r), runID).Scan(&taskID, &attempt); err != nil {
			return nil, err
		}

		var taskName string
		var params []byte
		var headerJSON []byte
		if err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT task_name, params, headers FROM %s WHERE task_id = $1`, t), taskID).Scan(&taskName, &params, &headerJSON); err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET state = $1, first_started_at = COALESCE(first_started_at, now()) WHERE task_id = $2`, t), string(TaskRunning), taskID); err != nil {
			return nil, err
		}
		headers, err := unmarshalHeaders(headerJSON)
		if err != nil {
			return nil, err
		}

		out = append(out, ClaimedRun{
			TaskID:   taskID,
			RunID:    runID,
			Attempt:  attempt,
			TaskName: taskName,
			Params:   params,
			Headers:  headers,
		})
	}

	return out, tx.Commit(ctx)
}

func (p *Postgres) ExtendClaim(ctx context.Context, queue, runID, workerID string, claimTimeout time.Duration) (err error) {
	defer func() { err = pkgerrors.Wrap(err, "extend_claim") }()
	expires := time.Now().Add(claimTimeout)
	cmd, err := p.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET claim_expires_at = $1 WHERE run_id = $2 AND claimed_by = $3 AND claim_expires_at > now()`, runTable(queue)),
		expires, runID, workerID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotOwner
	}
	return nil
}

func (p *Postgres) checkOwned(ctx context.Context, tx pgx.Tx, queue, runID string) error {
	var claimedBy *string
	var expiresAt *time.Time
	err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT claimed_by, claim_expires_at FROM %s WHERE run_id = $1 FOR UPDATE`, runTable(queue)), runID).Scan(&claimedBy, &expiresAt)
	if err != nil {
		if errNoRows(err) {
			return ErrNotFound
		}
		return err
	}
	if claimedBy == nil || expiresAt == nil || expiresAt.Before(time.Now()) {
		return ErrNotOwner
	}
	return nil
}

func (p *Postgres) CompleteRun(ctx context.Context, queue, runID string, result []byte) (err error) {
	defer func() { err = pkgerrors.Wrap(err, "complete_run") }()
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := p.checkOwned(ctx, tx, queue, runID); err != nil {
		return err
	}

	r, t := runTable(queue), taskTable(queue)
	var taskID string
	if err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT task_id FROM %s WHERE run_id = $1`, r), runID).Scan(&taskID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET state = $1, result = $2, completed_at = now() WHERE run_id = $3`, r), string(RunCompleted), result, runID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET state = $1, completed_payload = $2 WHERE task_id = $3`, t), string(TaskCompleted), result, taskID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) FailRun(ctx context.Context, queue, runID string, reason FailureReason) (err error) {
	defer func() { err = pkgerrors.Wrap(err, "fail_run") }()
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := p.checkOwned(ctx, tx, queue, runID); err != nil {
		return err
	}

	r, t := runTable(queue), taskTable(queue)
	var taskID string
	if err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT task_id FROM %s WHERE run_id = $1`, r), runID).Scan(&taskID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET state = $1, failure_message = $2, failure_stack = $3, failed_at = now() WHERE run_id = $4`, r),
		string(RunFailed), reason.Message, reason.Stack, runID); err != nil {
		return err
	}

	var attempts, maxAttempts int
	var retryJSON []byte
	if err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT attempts, max_attempts, retry_strategy FROM %s WHERE task_id = $1`, t), taskID).
		Scan(&attempts, &maxAttempts, &retryJSON); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET failure_message = $1, failure_stack = $2 WHERE task_id = $3`, t), reason.Message, reason.Stack, taskID); err != nil {
		return err
	}

	if attempts < maxAttempts {
		strategy, err := unmarshalRetryStrategy(retryJSON)
		if err != nil {
			return err
		}
		nextRunID := "run-" + uuid.New().String()
		availableAt := nextAvailableAt(strategy, attempts, time.Now())
		if _, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (run_id, task_id, attempt, state, available_at) VALUES ($1, $2, $3, $4, $5)`, r),
			nextRunID, taskID, attempts+1, string(RunPending), availableAt); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET state = $1, attempts = $2, last_attempt_run_id = $3 WHERE task_id = $4`, t),
			string(TaskPending), attempts+1, nextRunID, taskID); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET state = $1 WHERE task_id = $2`, t), string(TaskFailed), taskID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (p *Postgres) SuspendForEvent(ctx context.Context, queue, taskID, runID, eventName string) (_ []byte, _ bool, err error) {
	defer func() { err = pkgerrors.Wrap(err, "suspend_for_event") }()
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	if err := p.checkOwned(ctx, tx, queue, runID); err != nil {
		return nil, false, err
	}

	e := eventTable(queue)
	var evID int64
	var payload []byte
	err = tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, payload FROM %s WHERE event_name = $1 AND consumed = false
		ORDER BY id LIMIT 1 FOR UPDATE SKIP LOCKED`, e), eventName).Scan(&evID, &payload)
	if err == nil {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET consumed = true WHERE id = $1`, e), evID); err != nil {
			return nil, false, err
		}
		return payload, true, tx.Commit(ctx)
	}
	if !errNoRows(err) {
		return nil, false, err
	}

	r, t := runTable(queue), taskTable(queue)
	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET state = $1, wake_event = $2, claimed_by = NULL, claim_expires_at = NULL WHERE run_id = $3`, r),
		string(RunSleeping), eventName, runID); err != nil {
		return nil, false, err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (task_id, run_id, event_name) VALUES ($1, $2, $3)
		ON CONFLICT (task_id, run_id) DO UPDATE SET event_name = $3`, waiterTable(queue)),
		taskID, runID, eventName); err != nil {
		return nil, false, err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET state = $1 WHERE task_id = $2`, t), string(TaskSleeping), taskID); err != nil {
		return nil, false, err
	}
	return nil, false, tx.Commit(ctx)
}

func (p *Postgres) SuspendForSleep(ctx context.Context, queue, taskID, runID string, seconds float64) (err error) {
	defer func() { err = pkgerrors.Wrap(err, "suspend_for_sleep") }()
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := p.checkOwned(ctx, tx, queue, runID); err != nil {
		return err
	}

	r, t := runTable(queue), taskTable(queue)
	interval := fmt.Sprintf("%f seconds", seconds)
	if _, err := tx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET state = $1, wake_event = NULL, available_at = now() + $2::interval, claimed_by = NULL, claim_expires_at = NULL
		WHERE run_id = $3`, r), string(RunSleeping), interval, runID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET state = $1 WHERE task_id = $2`, t), string(TaskSleeping), taskID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) ReadCheckpoint(ctx context.Context, queue, taskID, name string) (_ *Checkpoint, err error) {
	defer func() { err = pkgerrors.Wrap(err, "read_checkpoint") }()
	var cp Checkpoint
	cp.TaskID, cp.Name = taskID, name
	err = p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT state, owner_run_id, updated_at FROM %s WHERE task_id = $1 AND name = $2`, checkpointTable(queue)), taskID, name).
		Scan(&cp.State, &cp.OwnerRunID, &cp.UpdatedAt)
	if err != nil {
		if errNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &cp, nil
}

func (p *Postgres) WriteCheckpoint(ctx context.Context, queue, taskID, name string, state []byte, ownerRunID string) (err error) {
	defer func() { err = pkgerrors.Wrap(err, "write_checkpoint") }()
	_, err = p.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (task_id, name, state, owner_run_id, updated_at) VALUES ($1, $2, $3, $4, now())`, checkpointTable(queue)),
		taskID, name, state, ownerRunID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrCheckpointExists
		}
		return err
	}
	return nil
}

func (p *Postgres) GetTask(ctx context.Context, queue, taskID string) (_ *Task, err error) {
	defer func() { err = pkgerrors.Wrap(err, "get_task") }()
	var task Task
	task.TaskID = taskID
	task.Queue = queue
	var state string
	var headerJSON, retryJSON []byte
	var failureMsg, failureStack *string
	err = p.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT task_name, params, headers, retry_strategy, max_attempts, state, attempts,
		       first_started_at, last_attempt_run_id, completed_payload, failure_message, failure_stack, cancelled_at, created_at
		FROM %s WHERE task_id = $1`, taskTable(queue)), taskID).Scan(
		&task.TaskName, &task.Params, &headerJSON, &retryJSON, &task.MaxAttempts, &state, &task.Attempts,
		&task.FirstStartedAt, &task.LastAttemptRunID, &task.CompletedPayload, &failureMsg, &failureStack, &task.CancelledAt, &task.CreatedAt)
	if err != nil {
		if errNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	task.State = TaskState(state)
	if task.Headers, err = unmarshalHeaders(headerJSON); err != nil {
		return nil, err
	}
	if task.RetryStrategy, err = unmarshalRetryStrategy(retryJSON); err != nil {
		return nil, err
	}
	if failureMsg != nil {
		task.FailureReason = &FailureReason{Message: *failureMsg}
		if failureStack != nil {
			task.FailureReason.Stack = *failureStack
		}
	}
	return &task, nil
}

func (p *Postgres) GetRun(ctx context.Context, queue, runID string) (_ *Run, err error) {
	defer func() { err = pkgerrors.Wrap(err, "get_run") }()
	var run Run
	run.RunID = runID
	var state string
	var claimedBy *string
	var failureMsg, failureStack *string
	err = p.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT task_id, attempt, state, claimed_by, claim_expires_at, available_at, wake_event, event_payload,
		       started_at, completed_at, failed_at, result, failure_message, failure_stack
		FROM %s WHERE run_id = $1`, runTable(queue)), runID).Scan(
		&run.TaskID, &run.Attempt, &state, &claimedBy, &run.ClaimExpires, &run.AvailableAt, &run.WakeEvent, &run.EventPayload,
		&run.StartedAt, &run.CompletedAt, &run.FailedAt, &run.Result, &failureMsg, &failureStack)
	if err != nil {
		if errNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	run.State = RunState(state)
	if claimedBy != nil {
		run.ClaimedBy = *claimedBy
	}
	if failureMsg != nil {
		run.FailureReason = &FailureReason{Message: *failureMsg}
		if failureStack != nil {
			run.FailureReason.Stack = *failureStack
		}
	}
	return &run, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func errNoRows(err error) bool {
	return err != nil && errors.Is(err, pgx.ErrNoRows)
}

var _ Adapter = (*Postgres)(nil)
