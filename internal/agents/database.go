package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nidhogg/mister-handy/internal/diag"
	"go.uber.org/zap"
)

// idleTxCutoff is how long a backend may sit idle in transaction before
// the fix task considers it stuck.
const idleTxCutoff = 5 * time.Minute

// Database watches a PostgreSQL instance through a pgx pool.
type Database struct {
	*diag.BaseAgent
	pool *pgxpool.Pool
}

// NewDatabase connects to PostgreSQL and builds the database agent.
func NewDatabase(dsn string, logger *zap.Logger) (*Database, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")

	d := &Database{
		BaseAgent: diag.NewBaseAgent("database", "Database",
			"PostgreSQL connectivity, pool health and session hygiene", logger),
		pool: pool,
	}

	d.MustRegister(&diag.Task{
		ID:          "db-ping",
		Name:        "Connectivity",
		Type:        diag.TaskStatusCheck,
		Description: "round-trip latency to PostgreSQL",
		Interval:    time.Minute,
		Handler:     d.checkPing,
	})
	d.MustRegister(&diag.Task{
		ID:          "db-pool",
		Name:        "Pool saturation",
		Type:        diag.TaskMonitoring,
		Description: "acquired connections against the pool maximum",
		Interval:    time.Minute,
		Handler:     d.checkPool,
	})
	d.MustRegister(&diag.Task{
		ID:          "db-idle-tx",
		Name:        "Stuck transactions",
		Type:        diag.TaskErrorFix,
		Description: "terminate backends idle in transaction beyond the cutoff",
		Handler:     d.fixIdleTransactions,
	})
	d.MustRegister(&diag.Task{
		ID:          "db-analyze",
		Name:        "Planner statistics",
		Type:        diag.TaskMaintenance,
		Description: "refresh planner statistics with ANALYZE",
		Interval:    24 * time.Hour,
		Timeout:     5 * time.Minute,
		Handler:     d.maintainStatistics,
	})
	d.MustRegister(&diag.Task{
		ID:          "db-index-advice",
		Name:        "Index advice",
		Type:        diag.TaskDevelopment,
		Description: "suggest indexes for sequentially scanned tables",
		Handler:     d.developIndexes,
	})
	return d, nil
}

// Close shuts down the connection pool.
func (d *Database) Close() {
	d.pool.Close()
}

func (d *Database) checkPing(ctx context.Context) (*diag.Result, error) {
	start := time.Now()
	var one int
	if err := d.pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return diag.Fail(diag.StatusCritical, "postgres unreachable: %v", err), nil
	}
	latency := time.Since(start)
	if latency > 250*time.Millisecond {
		return diag.Warn("postgres reachable but slow (%s round trip)", latency.Round(time.Millisecond)).
			WithData("latency_ms", latency.Milliseconds()), nil
	}
	return diag.Healthy("postgres reachable (%s round trip)", latency.Round(time.Millisecond)).
		WithData("latency_ms", latency.Milliseconds()), nil
}

func (d *Database) checkPool(ctx context.Context) (*diag.Result, error) {
	stat := d.pool.Stat()
	acquired := stat.AcquiredConns()
	max := stat.MaxConns()
	res := diag.Healthy("pool %d/%d connections acquired", acquired, max)
	if max > 0 && float64(acquired)/float64(max) > 0.8 {
		res = diag.Warn("pool near saturation: %d/%d connections acquired", acquired, max).
			WithSuggestions("raise pool max_conns or find connection leaks")
	}
	return res.
		WithData("acquired", acquired).
		WithData("idle", stat.IdleConns()).
		WithData("max", max), nil
}

func (d *Database) fixIdleTransactions(ctx context.Context) (*diag.Result, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT pid, COALESCE(usename, ''), extract(epoch FROM now() - state_change)::bigint
		FROM pg_stat_activity
		WHERE state = 'idle in transaction'
		  AND state_change < now() - make_interval(secs => $1)
		  AND pid <> pg_backend_pid()`,
		idleTxCutoff.Seconds())
	if err != nil {
		return nil, fmt.Errorf("query pg_stat_activity: %w", err)
	}
	defer rows.Close()

	type stuck struct {
		PID         int    `json:"pid"`
		User        string `json:"user"`
		IdleSeconds int64  `json:"idle_seconds"`
	}
	var found []stuck
	for rows.Next() {
		var s stuck
		if err := rows.Scan(&s.PID, &s.User, &s.IdleSeconds); err != nil {
			return nil, fmt.Errorf("scan pg_stat_activity: %w", err)
		}
		found = append(found, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read pg_stat_activity: %w", err)
	}
	if len(found) == 0 {
		return diag.Healthy("no backends idle in transaction beyond %s", idleTxCutoff), nil
	}

	if !diag.ApplyEnabled(ctx) {
		return diag.Warn("would terminate %d backends idle in transaction", len(found)).
			WithData("backends", found).
			WithSuggestions("re-run fix with apply to terminate them"), nil
	}

	outcomes := make(map[int]string, len(found))
	failed := 0
	for _, s := range found {
		var ok bool
		err := d.pool.QueryRow(ctx, "SELECT pg_terminate_backend($1)", s.PID).Scan(&ok)
		switch {
		case err != nil:
			outcomes[s.PID] = err.Error()
			failed++
		case !ok:
			outcomes[s.PID] = "already gone"
		default:
			outcomes[s.PID] = "terminated"
		}
	}
	res := diag.Healthy("terminated %d stuck backends", len(found)-failed)
	if failed > 0 {
		res = diag.Warn("terminated %d stuck backends, %d failed", len(found)-failed, failed)
	}
	return res.WithData("outcomes", outcomes), nil
}

func (d *Database) maintainStatistics(ctx context.Context) (*diag.Result, error) {
	start := time.Now()
	if _, err := d.pool.Exec(ctx, "ANALYZE"); err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	elapsed := time.Since(start)
	return diag.Healthy("planner statistics refreshed in %s", elapsed.Round(time.Millisecond)).
		WithData("duration_ms", elapsed.Milliseconds()), nil
}

func (d *Database) developIndexes(ctx context.Context) (*diag.Result, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT relname, seq_scan, COALESCE(idx_scan, 0), n_live_tup
		FROM pg_stat_user_tables
		WHERE seq_scan > 1000 AND n_live_tup > 10000
		  AND seq_scan > COALESCE(idx_scan, 0) * 10
		ORDER BY seq_scan DESC
		LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("query pg_stat_user_tables: %w", err)
	}
	defer rows.Close()

	res := diag.Healthy("no sequential-scan hotspots")
	count := 0
	for rows.Next() {
		var relname string
		var seqScan, idxScan, liveTup int64
		if err := rows.Scan(&relname, &seqScan, &idxScan, &liveTup); err != nil {
			return nil, fmt.Errorf("scan pg_stat_user_tables: %w", err)
		}
		count++
		res.WithSuggestions(fmt.Sprintf(
			"table %s: %d seq scans over %d rows; consider an index on its hot predicates",
			relname, seqScan, liveTup))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read pg_stat_user_tables: %w", err)
	}
	if count > 0 {
		res.Message = fmt.Sprintf("%d tables rely on sequential scans", count)
	}
	return res, nil
}
