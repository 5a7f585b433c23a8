package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Ning0612/Phonesync/internal/domain"
)

// DBFileName is the history database file inside the data directory
const DBFileName = "phonesync.db"

// Manager handles run history persistence
type Manager struct {
	db *sql.DB
}

// ExecutionRecord represents a single sync run
type ExecutionRecord struct {
	ID             int64
	StartTime      time.Time
	EndTime        time.Time
	Mode           domain.SyncMode
	Device         string
	Status         domain.RunStatus
	FilesSynced    int
	BytesSynced    int64
	FilesFailed    int
	FilesDeleted   int
	FilesConverted int
	Error          string
}

// Duration returns how long the run took
func (r ExecutionRecord) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// NewManager creates a new state manager
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	manager := &Manager{db: db}

	if err := manager.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return manager, nil
}

// initSchema creates the database schema
func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		mode TEXT NOT NULL,
		device TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		files_synced INTEGER DEFAULT 0,
		bytes_synced INTEGER DEFAULT 0,
		files_failed INTEGER DEFAULT 0,
		files_deleted INTEGER DEFAULT 0,
		files_converted INTEGER DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_executions_time ON executions(start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
	`

	_, err := m.db.Exec(schema)
	return err
}

// SaveExecution records a sync run and sets record.ID
func (m *Manager) SaveExecution(record *ExecutionRecord) error {
	if !record.Status.IsValid() {
		return fmt.Errorf("invalid status: %q", record.Status)
	}
	if !record.Mode.IsValid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidMode, record.Mode)
	}

	query := `
		INSERT INTO executions (start_time, end_time, mode, device, status,
			files_synced, bytes_synced, files_failed, files_deleted, files_converted, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := m.db.Exec(query,
		record.StartTime,
		record.EndTime,
		string(record.Mode),
		record.Device,
		string(record.Status),
		record.FilesSynced,
		record.BytesSynced,
		record.FilesFailed,
		record.FilesDeleted,
		record.FilesConverted,
		record.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution record: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

const selectColumns = `
	SELECT id, start_time, end_time, mode, device, status,
		files_synced, bytes_synced, files_failed, files_deleted, files_converted, error
	FROM executions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (ExecutionRecord, error) {
	var r ExecutionRecord
	var mode, status string
	err := row.Scan(
		&r.ID,
		&r.StartTime,
		&r.EndTime,
		&mode,
		&r.Device,
		&status,
		&r.FilesSynced,
		&r.BytesSynced,
		&r.FilesFailed,
		&r.FilesDeleted,
		&r.FilesConverted,
		&r.Error,
	)
	r.Mode = domain.SyncMode(mode)
	r.Status = domain.RunStatus(status)
	return r, err
}

// GetHistory retrieves the most recent runs, newest first
func (m *Manager) GetHistory(limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := m.db.Query(selectColumns+` ORDER BY start_time DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// GetLastSuccess retrieves the last fully successful run, or nil when
// there is none
func (m *Manager) GetLastSuccess() (*ExecutionRecord, error) {
	row := m.db.QueryRow(selectColumns+` WHERE status = ? ORDER BY start_time DESC, id DESC LIMIT 1`,
		string(domain.RunSuccess))

	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}

	return &record, nil
}

// Prune deletes all but the newest keep runs and returns how many were
// removed. keep <= 0 keeps everything.
func (m *Manager) Prune(keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	res, err := m.db.Exec(`
		DELETE FROM executions WHERE id NOT IN (
			SELECT id FROM executions ORDER BY start_time DESC, id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
