// Package store is the sqlite persistence layer backing every
// orchestrator component: tasks, workspaces, sessions, execution
// processes, the execution queue, and the merge queue.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store wraps the sqlite connection and every table-scoped repository.
type Store struct {
	conn *sql.DB

	Tasks      *TaskRepo
	Workspaces *WorkspaceRepo
	Sessions   *SessionRepo
	Executions *ExecutionRepo
	Queue      *QueueRepo
	Turns      *TurnRepo
	Scratch    *ScratchRepo
	Feedback   *FeedbackRepo
	Review     *ReviewRepo
	MergeQueue *MergeQueueRepo
}

// Open connects to the sqlite file at path, creating its directory and
// applying pragmas tuned for a single-writer/many-reader workload, then
// runs embedded migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{
		conn:       conn,
		Tasks:      &TaskRepo{db: conn},
		Workspaces: &WorkspaceRepo{db: conn},
		Sessions:   &SessionRepo{db: conn},
		Executions: &ExecutionRepo{db: conn},
		Queue:      &QueueRepo{db: conn},
		Turns:      &TurnRepo{db: conn},
		Scratch:    &ScratchRepo{db: conn},
		Feedback:   &FeedbackRepo{db: conn},
		Review:     &ReviewRepo{db: conn},
		MergeQueue: &MergeQueueRepo{db: conn},
	}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(s.conn, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Conn exposes the underlying *sql.DB for callers needing a transaction
// spanning more than one repository, or direct queries (the store tests
// use it to probe the migrated schema).
func (s *Store) Conn() *sql.DB { return s.conn }

func (s *Store) Close() error { return s.conn.Close() }
