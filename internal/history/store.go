// Package history persists scheduled run outcomes to PostgreSQL so
// operators can look at what the agents found over time.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nidhogg/mister-handy/internal/diag"
	"github.com/nidhogg/mister-handy/internal/orchestrator"
	"go.uber.org/zap"
)

// Record is one persisted task run.
type Record struct {
	ID          int64            `json:"id"`
	Agent       string           `json:"agent"`
	TaskID      string           `json:"task_id"`
	TaskName    string           `json:"task_name"`
	Type        diag.TaskType    `json:"type"`
	Success     bool             `json:"success"`
	Status      diag.AgentStatus `json:"status"`
	Message     string           `json:"message"`
	Suggestions []string         `json:"suggestions,omitempty"`
	Data        map[string]any   `json:"data,omitempty"`
	DurationMS  int64            `json:"duration_ms"`
	RanAt       time.Time        `json:"ran_at"`
}

// Store wraps a PostgreSQL connection pool for run history.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New creates a Store with a pgx connection pool.
func New(dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Store{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations directory.
func (s *Store) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Insert persists one run record. The record's ID is filled on return.
func (s *Store) Insert(ctx context.Context, rec *Record) error {
	var dataJSON []byte
	if rec.Data != nil {
		var err error
		dataJSON, err = json.Marshal(rec.Data)
		if err != nil {
			return fmt.Errorf("marshal run data: %w", err)
		}
	}

	err := s.db.QueryRow(ctx, `
		INSERT INTO task_runs (agent, task_id, task_name, task_type, success, status, message, suggestions, data, duration_ms, ran_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		rec.Agent, rec.TaskID, rec.TaskName, string(rec.Type), rec.Success,
		string(rec.Status), rec.Message, rec.Suggestions, dataJSON,
		rec.DurationMS, rec.RanAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert task run: %w", err)
	}
	return nil
}

// Recent returns the newest runs, optionally filtered by agent name.
func (s *Store) Recent(ctx context.Context, agent string, limit int) ([]*Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT id, agent, task_id, task_name, task_type, success, status, message, suggestions, data, duration_ms, ran_at
		FROM task_runs`
	args := []any{}
	if agent != "" {
		query += " WHERE agent = $1"
		args = append(args, agent)
	}
	query += fmt.Sprintf(" ORDER BY ran_at DESC LIMIT %d", limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query task runs: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var (
			rec      Record
			taskType string
			status   string
			dataJSON []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Agent, &rec.TaskID, &rec.TaskName, &taskType,
			&rec.Success, &status, &rec.Message, &rec.Suggestions, &dataJSON,
			&rec.DurationMS, &rec.RanAt); err != nil {
			return nil, fmt.Errorf("scan task run: %w", err)
		}
		rec.Type = diag.TaskType(taskType)
		rec.Status = diag.AgentStatus(status)
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &rec.Data); err != nil {
				s.logger.Warn("corrupt run data", zap.Int64("id", rec.ID), zap.Error(err))
			}
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Consume implements orchestrator.ResultSink, persisting every scheduled run.
func (s *Store) Consume(ctx context.Context, run *orchestrator.ScheduledRun) {
	if run.Result == nil {
		return
	}
	rec := &Record{
		Agent:       run.Agent,
		TaskID:      run.TaskID,
		TaskName:    run.TaskName,
		Type:        run.Type,
		Success:     run.Result.Success,
		Status:      run.Result.Status,
		Message:     run.Result.Message,
		Suggestions: run.Result.Suggestions,
		Data:        run.Result.Data,
		DurationMS:  run.Result.Duration.Milliseconds(),
		RanAt:       run.Result.Timestamp,
	}
	if err := s.Insert(ctx, rec); err != nil {
		s.logger.Warn("persist run",
			zap.String("agent", run.Agent),
			zap.String("task", run.TaskID),
			zap.Error(err))
	}
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.db.Close()
}
