package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync/atomic"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	log "github.com/sirupsen/logrus"

	. "github.com/lifthrasiir/forkchat/internal/types"
)

var (
	// testDBCounter is an atomic counter used to generate unique test database names
	testDBCounter atomic.Int64
)

// Database is the graph store: a wrapper around the SQLite connection that owns
// every persisted Chat, Message, Branch and EditRecord.
type Database struct {
	*sql.DB
	path string
}

// Path returns the data source the database was opened with.
func (db *Database) Path() string { return db.path }

// FileDSN builds the data source name used for an on-disk database.
func FileDSN(path string) string {
	u := url.URL{Scheme: "file", OmitHost: true, Path: path, RawQuery: "_txlock=immediate"}
	return u.String()
}

// MemoryDSN builds the data source name of a named in-memory database, shared by
// every connection of the process.
func MemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&_txlock=immediate", url.PathEscape(name))
}

// InitDB initializes the SQLite database connection and creates tables if they don't exist.
// This is the main database initialization function for production use.
func InitDB(ctx context.Context, dataSourceName string) (*Database, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers at the driver level and keeps
	// per-connection pragmas (foreign_keys in particular) in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
		"PRAGMA auto_vacuum=INCREMENTAL",
	}

	for _, pragma := range pragmas {
		if _, err = db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma '%s': %w", pragma, err)
		}
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Println("Database initialized and tables created.")
	return &Database{DB: db, path: dataSourceName}, nil
}

// InitTestDB initializes an in-memory SQLite database for testing.
// This function uses a unique database name to prevent conflicts between tests.
func InitTestDB(testName string) (*Database, error) {
	// Add an atomic counter suffix to prevent conflicts when tests run with -count=N
	counter := testDBCounter.Add(1)
	return InitDB(context.Background(), MemoryDSN(fmt.Sprintf("%s_%d", testName, counter)))
}

// createTables creates the necessary tables in the database.
//
// Timestamps are written by Go as fixed-width UTC text so they sort lexically;
// rowid order is used wherever creation order matters.
func createTables(ctx context.Context, db *sql.DB) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		project_id TEXT,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		active_branch_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id)
	);

	CREATE INDEX IF NOT EXISTS idx_chats_project_id ON chats(project_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		parent_message_id TEXT,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		attached INTEGER NOT NULL DEFAULT 1, -- 0 while a fork is pending
		created_at TEXT NOT NULL,
		FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE,
		FOREIGN KEY (parent_message_id) REFERENCES messages(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id);
	CREATE INDEX IF NOT EXISTS idx_messages_parent_message_id ON messages(parent_message_id);

	CREATE TABLE IF NOT EXISTS branches (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		head_message_id TEXT,
		forked_from_branch_id TEXT,
		fork_point_message_id TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE,
		FOREIGN KEY (head_message_id) REFERENCES messages(id)
	);

	CREATE INDEX IF NOT EXISTS idx_branches_chat_id ON branches(chat_id);

	CREATE TABLE IF NOT EXISTS edit_records (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		original_message_id TEXT NOT NULL,
		new_message_id TEXT NOT NULL,
		new_branch_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_edit_records_chat_id ON edit_records(chat_id);

	CREATE TABLE IF NOT EXISTS pending_forks (
		message_id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		source_branch_id TEXT NOT NULL,
		original_message_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS app_configs (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);
	`
	_, err := db.ExecContext(ctx, createTableSQL)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

type databaseJob struct {
	db *Database
}

// Job returns a housekeeping job that performs periodic database maintenance tasks.
func Job(db *Database) HousekeepingJob {
	return &databaseJob{db: db}
}

func (job *databaseJob) Name() string {
	return "Periodic database maintenance"
}

func (job *databaseJob) First() error     { return PerformVacuum(job.db, 1000) }
func (job *databaseJob) Sometimes() error { return PerformVacuum(job.db, 100) }
func (job *databaseJob) Last() error      { return nil }

// PerformVacuum performs a full (npages <= 0) or incremental vacuum to reclaim space.
func PerformVacuum(db *Database, npages int) error {
	if npages <= 0 {
		if _, err := db.Exec("VACUUM"); err != nil {
			return fmt.Errorf("failed to perform full vacuum: %w", err)
		}
	} else {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA incremental_vacuum(%d)", npages)); err != nil {
			return fmt.Errorf("failed to perform incremental vacuum: %w", err)
		}
	}
	return nil
}
