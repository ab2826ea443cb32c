package runstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"veritect/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; stale databases are rejected rather than migrated.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by a different schema
// version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Status tracks a run's lifecycle.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one training invocation.
type Run struct {
	ID           string
	Status       Status
	ConfigJSON   string
	Devices      []string
	StartedAt    time.Time
	FinishedAt   *time.Time
	BestValAUC   float64
	BestEpoch    int
	ErrorMessage string
}

// EpochMetrics is one split's result for one epoch of a run.
type EpochMetrics struct {
	Epoch         int
	Split         string // "train" or "val"
	Phase         string // active loss phase
	Loss          float64
	Cls           float64
	Inconsistency float64
	Orthogonality float64
	Accuracy      float64
	AUC           float64
	LearningRate  float64
}

// Store manages run persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the run database under the output
// directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.OutputDir, "runs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	err = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to start over)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// BeginRun records a new running run and returns it.
func (s *Store) BeginRun(ctx context.Context, configJSON string, devices []string) (*Run, error) {
	run := &Run{
		ID:         uuid.NewString(),
		Status:     StatusRunning,
		ConfigJSON: configJSON,
		Devices:    append([]string{}, devices...),
		StartedAt:  time.Now().UTC(),
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (id, status, config_json, devices, started_at)
         VALUES (?, ?, ?, ?, ?)`,
		run.ID,
		run.Status,
		nullableString(configJSON),
		nullableString(strings.Join(devices, ",")),
		run.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// RecordEpoch upserts one epoch's metrics for a run.
func (s *Store) RecordEpoch(ctx context.Context, runID string, m EpochMetrics) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO epoch_metrics (
            run_id, epoch, split, phase, loss, cls_loss, inconsistency_loss,
            orthogonality_loss, accuracy, auc, learning_rate, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (run_id, epoch, split) DO UPDATE SET
            phase = excluded.phase, loss = excluded.loss,
            cls_loss = excluded.cls_loss,
            inconsistency_loss = excluded.inconsistency_loss,
            orthogonality_loss = excluded.orthogonality_loss,
            accuracy = excluded.accuracy, auc = excluded.auc,
            learning_rate = excluded.learning_rate,
            recorded_at = excluded.recorded_at`,
		runID,
		m.Epoch,
		m.Split,
		m.Phase,
		m.Loss,
		m.Cls,
		m.Inconsistency,
		m.Orthogonality,
		m.Accuracy,
		m.AUC,
		m.LearningRate,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record epoch metrics: %w", err)
	}
	return nil
}

// UpdateBest records a new best validation AUC for a running run.
func (s *Store) UpdateBest(ctx context.Context, runID string, auc float64, epoch int) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET best_val_auc = ?, best_epoch = ? WHERE id = ?`,
		auc, epoch, runID,
	)
	if err != nil {
		return fmt.Errorf("update best: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *Store) CompleteRun(ctx context.Context, runID string) error {
	return s.finishRun(ctx, runID, StatusCompleted, "")
}

// FailRun marks a run failed with its error message.
func (s *Store) FailRun(ctx context.Context, runID, message string) error {
	return s.finishRun(ctx, runID, StatusFailed, message)
}

func (s *Store) finishRun(ctx context.Context, runID string, status Status, message string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE runs SET status = ?, finished_at = ?, error_message = ? WHERE id = ?`,
		status,
		time.Now().UTC().Format(time.RFC3339Nano),
		nullableString(message),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRun fetches a run by identifier, or nil when absent.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// EpochHistory returns a run's recorded metrics ordered by epoch and split.
func (s *Store) EpochHistory(ctx context.Context, runID string) ([]EpochMetrics, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT epoch, split, phase, loss, cls_loss, inconsistency_loss,
                orthogonality_loss, accuracy, auc, learning_rate
         FROM epoch_metrics WHERE run_id = ? ORDER BY epoch, split`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("epoch history: %w", err)
	}
	defer rows.Close()

	var history []EpochMetrics
	for rows.Next() {
		var m EpochMetrics
		if err := rows.Scan(
			&m.Epoch, &m.Split, &m.Phase, &m.Loss, &m.Cls, &m.Inconsistency,
			&m.Orthogonality, &m.Accuracy, &m.AUC, &m.LearningRate,
		); err != nil {
			return nil, err
		}
		history = append(history, m)
	}
	return history, rows.Err()
}

const runColumns = "id, status, config_json, devices, started_at, finished_at, best_val_auc, best_epoch, error_message"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		id          string
		statusStr   string
		configJSON  sql.NullString
		devices     sql.NullString
		startedRaw  string
		finishedRaw sql.NullString
		bestAUC     float64
		bestEpoch   int
		errorMsg    sql.NullString
	)
	if err := scanner.Scan(
		&id, &statusStr, &configJSON, &devices, &startedRaw,
		&finishedRaw, &bestAUC, &bestEpoch, &errorMsg,
	); err != nil {
		return nil, err
	}

	run := &Run{
		ID:           id,
		Status:       Status(statusStr),
		ConfigJSON:   configJSON.String,
		BestValAUC:   bestAUC,
		BestEpoch:    bestEpoch,
		ErrorMessage: errorMsg.String,
	}
	if devices.String != "" {
		run.Devices = strings.Split(devices.String, ",")
	}
	if started, err := time.Parse(time.RFC3339Nano, startedRaw); err == nil {
		run.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := time.Parse(time.RFC3339Nano, finishedRaw.String); err == nil {
			run.FinishedAt = &finished
		}
	}
	return run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
