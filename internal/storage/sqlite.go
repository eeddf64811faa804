package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for tasks, the user profile,
// and conversation history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "aide.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Tasks ---

func validateUrgency(urgency int) error {
	if urgency < 1 || urgency > 5 {
		return fmt.Errorf("urgency must be between 1 and 5, got %d", urgency)
	}
	return nil
}

// CreateTask inserts a new task and returns its assigned id.
func (s *Store) CreateTask(description string, urgency int, status TaskStatus, alert string) (int64, error) {
	if err := validateUrgency(urgency); err != nil {
		return 0, err
	}
	if status == "" {
		status = StatusPending
	}
	if !ValidStatus(status) {
		return 0, fmt.Errorf("unknown task status %q", status)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		INSERT INTO tasks (description, urgency, status, alert_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		description, urgency, string(status), alert, now, now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const taskColumns = "id, description, urgency, status, alert_at, created_at, updated_at"

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	var status, createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.Description, &t.Urgency, &status, &t.Alert, &createdAt, &updatedAt); err != nil {
		return Task{}, err
	}
	t.Status = TaskStatus(status)

	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Task{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Task{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return t, nil
}

// GetTask returns a task by id, or ErrNotFound.
func (s *Store) GetTask(id int64) (Task, error) {
	row := s.db.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

// ListTasksByUrgency returns tasks at the given urgency level, oldest first.
func (s *Store) ListTasksByUrgency(urgency int) ([]Task, error) {
	if err := validateUrgency(urgency); err != nil {
		return nil, err
	}
	return s.queryTasks("SELECT "+taskColumns+" FROM tasks WHERE urgency = ? ORDER BY created_at ASC, id ASC", urgency)
}

// ListTasks returns all tasks ordered by urgency descending, then oldest first.
func (s *Store) ListTasks() ([]Task, error) {
	return s.queryTasks("SELECT " + taskColumns + " FROM tasks ORDER BY urgency DESC, created_at ASC, id ASC")
}

func (s *Store) queryTasks(query string, args ...any) ([]Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SetTaskStatus updates a task's status and alert. Completing a task always
// clears its alert: a completed task never fires a reminder.
func (s *Store) SetTaskStatus(id int64, status TaskStatus, alert string) error {
	if !ValidStatus(status) {
		return fmt.Errorf("unknown task status %q", status)
	}
	if status == StatusCompleted {
		alert = ""
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE tasks SET status = ?, alert_at = ?, updated_at = ? WHERE id = ?`,
		string(status), alert, now, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetTaskUrgency updates a task's urgency level.
func (s *Store) SetTaskUrgency(id int64, urgency int) error {
	if err := validateUrgency(urgency); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE tasks SET urgency = ?, updated_at = ? WHERE id = ?`, urgency, now, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AppendTaskNotes appends timestamped notes to a task's description. The
// existing description is never replaced; this is the only description
// mutation available to conversational flows.
func (s *Store) AppendTaskNotes(id int64, notes string) error {
	now := time.Now().UTC()
	suffix := fmt.Sprintf("\n\nUpdate %s:\n%s", now.Format(time.RFC3339), notes)
	res, err := s.db.Exec(`UPDATE tasks SET description = description || ?, updated_at = ? WHERE id = ?`,
		suffix, now.Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetTaskDescription replaces a task's description wholesale. Reserved for
// explicit edits; conversational updates go through AppendTaskNotes.
func (s *Store) SetTaskDescription(id int64, description string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE tasks SET description = ?, updated_at = ? WHERE id = ?`, description, now, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- User profile (singleton) ---

// GetProfile returns the singleton profile row, or ErrNotFound if no profile
// has been written yet.
func (s *Store) GetProfile() (Profile, error) {
	var p Profile
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT raw_input, structured_profile, created_at, updated_at
		FROM user_profile WHERE id = 1`,
	).Scan(&p.RawInput, &p.Structured, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Profile{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Profile{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return p, nil
}

// ReplaceProfile replaces the structured profile document and appends
// journalEntry to the raw-input journal in a single statement. The row is
// created on first write.
func (s *Store) ReplaceProfile(structured, journalEntry string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO user_profile (id, raw_input, structured_profile, created_at, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			raw_input = user_profile.raw_input || excluded.raw_input,
			structured_profile = excluded.structured_profile,
			updated_at = excluded.updated_at`,
		journalEntry, structured, now, now,
	)
	return err
}

// ClearProfile truncates both the journal and the structured document.
func (s *Store) ClearProfile() error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`UPDATE user_profile SET raw_input = '', structured_profile = '{}', updated_at = ? WHERE id = 1`, now)
	return err
}

// --- Conversations ---

// SaveConversation records a completed exchange.
func (s *Store) SaveConversation(c Conversation) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO conversations (id, user_input, agent_response, model_used, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.UserInput, c.AgentResponse, c.ModelUsed, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

// RecentConversations returns the most recent conversations, newest first.
func (s *Store) RecentConversations(limit int) ([]Conversation, error) {
	rows, err := s.db.Query(`
		SELECT id, user_input, agent_response, model_used, created_at
		FROM conversations ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Conversation
	for rows.Next() {
		var c Conversation
		var createdAt string
		if err := rows.Scan(&c.ID, &c.UserInput, &c.AgentResponse, &c.ModelUsed, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		c.CreatedAt = t
		results = append(results, c)
	}
	return results, rows.Err()
}
