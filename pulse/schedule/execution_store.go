package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/bfhtw/errors"
	"github.com/teranos/bfhtw/pipeline"
)

// timeLayout is fixed-width so stored timestamps order lexicographically
const timeLayout = "2006-01-02T15:04:05.000000Z"

// ExecutionStore persists execution history in pipeline_executions
type ExecutionStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewExecutionStore creates a new execution store over a migrated database
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db, now: time.Now}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

const selectColumns = `
	SELECT id, pipeline_name, status, start_time, end_time,
	       result_json, error_message, trigger_source
	FROM pipeline_executions`

// Create appends a new execution
func (s *ExecutionStore) Create(ctx context.Context, exec *Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_executions (
			id, pipeline_name, status, start_time, trigger_source
		) VALUES (?, ?, ?, ?, ?)`,
		exec.ID, exec.PipelineName, string(exec.Status), formatTime(exec.StartTime), exec.TriggerSource)
	if err != nil {
		return errors.WrapStorage(err, "failed to create execution")
	}
	return nil
}

// Finalize writes the terminal state of exec. It fails if exec was never
// created or was already finalized.
func (s *ExecutionStore) Finalize(ctx context.Context, exec *Execution) error {
	if exec.EndTime == nil {
		return errors.NewInvalidRequestError("execution %s has no end time", exec.ID)
	}

	var (
		resultJSON        interface{}
		processed, failed int
		seconds           = exec.Duration().Seconds()
		throughput        interface{}
		errorMessage      interface{}
	)
	if exec.Result != nil {
		b, err := json.Marshal(exec.Result)
		if err != nil {
			return errors.WrapProcessing(err, "failed to encode run result")
		}
		resultJSON = string(b)
		processed, failed = exec.Result.ProcessedCount, exec.Result.FailedCount
		if rate, ok := exec.Result.Throughput(); ok {
			throughput = rate
		}
	}
	if exec.Error != "" {
		errorMessage = exec.Error
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE pipeline_executions
		SET status = ?,
		    end_time = ?,
		    items_processed = ?,
		    items_failed = ?,
		    execution_time_seconds = ?,
		    throughput = ?,
		    result_json = ?,
		    error_message = ?
		WHERE id = ? AND end_time IS NULL`,
		string(exec.Status), formatTime(*exec.EndTime), processed, failed,
		seconds, throughput, resultJSON, errorMessage, exec.ID)
	if err != nil {
		return errors.WrapStorage(err, "failed to finalize execution")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WrapStorage(err, "failed to check rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError("running execution not found: %s", exec.ID)
	}
	return nil
}

// Get retrieves an execution by ID
func (s *ExecutionStore) Get(ctx context.Context, id string) (*Execution, error) {
	execs, err := s.query(ctx, selectColumns+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(execs) == 0 {
		return nil, errors.NewNotFoundError("execution not found: %s", id)
	}
	return execs[0], nil
}

// ListByPipeline returns the executions of name, newest first.
// limit <= 0 returns all of them.
func (s *ExecutionStore) ListByPipeline(ctx context.Context, name string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx, selectColumns+`
		WHERE pipeline_name = ?
		ORDER BY start_time DESC
		LIMIT ?`, name, limit)
}

// ListRecent returns the newest executions across all pipelines
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.query(ctx, selectColumns+`
		ORDER BY start_time DESC
		LIMIT ?`, limit)
}

// ListRunning returns executions that were never finalized
func (s *ExecutionStore) ListRunning(ctx context.Context) ([]*Execution, error) {
	return s.query(ctx, selectColumns+`
		WHERE end_time IS NULL
		ORDER BY start_time DESC`)
}

// LastSuccessSince returns the newest SUCCESS execution of name that ended
// at or after since, or nil when there is none.
func (s *ExecutionStore) LastSuccessSince(ctx context.Context, name string, since time.Time) (*Execution, error) {
	execs, err := s.query(ctx, selectColumns+`
		WHERE pipeline_name = ? AND status = ? AND end_time >= ?
		ORDER BY end_time DESC
		LIMIT 1`, name, string(pipeline.StatusSuccess), formatTime(since))
	if err != nil || len(execs) == 0 {
		return nil, err
	}
	return execs[0], nil
}

// CleanupOld deletes finalized executions that started more than
// retentionDays ago. Returns the number of executions deleted.
func (s *ExecutionStore) CleanupOld(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := formatTime(s.now().AddDate(0, 0, -retentionDays))

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pipeline_executions
		WHERE start_time < ? AND end_time IS NOT NULL`, cutoff)
	if err != nil {
		return 0, errors.WrapStorage(err, "failed to cleanup old executions")
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WrapStorage(err, "failed to get rows affected")
	}
	return int(deleted), nil
}

func (s *ExecutionStore) query(ctx context.Context, query string, args ...interface{}) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapStorage(err, "failed to list executions")
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStorage(err, "error iterating executions")
	}
	return executions, nil
}

func scanExecution(rows *sql.Rows) (*Execution, error) {
	var (
		exec                      Execution
		status, start             string
		end, resultJSON, errorMsg sql.NullString
	)
	if err := rows.Scan(&exec.ID, &exec.PipelineName, &status, &start, &end,
		&resultJSON, &errorMsg, &exec.TriggerSource); err != nil {
		return nil, errors.WrapStorage(err, "failed to scan execution")
	}

	exec.Status = pipeline.Status(status)
	t, err := time.Parse(timeLayout, start)
	if err != nil {
		return nil, errors.Wrapf(err, "execution %s: bad start_time", exec.ID)
	}
	exec.StartTime = t
	if end.Valid {
		t, err := time.Parse(timeLayout, end.String)
		if err != nil {
			return nil, errors.Wrapf(err, "execution %s: bad end_time", exec.ID)
		}
		exec.EndTime = &t
	}
	if resultJSON.Valid {
		var r pipeline.RunResult
		if err := json.Unmarshal([]byte(resultJSON.String), &r); err != nil {
			return nil, errors.Wrapf(err, "execution %s: corrupt result", exec.ID)
		}
		exec.Result = &r
	}
	exec.Error = errorMsg.String
	return &exec, nil
}
