package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store provides SQLite-backed persistence for session records.
type Store struct {
	db *sql.DB
}

// NewStore opens the SQLite database at dbPath and creates tables if they don't exist.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps writes ordered and avoids SQLITE_BUSY between
	// the immediate and debounced persist paths.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		cost_usd REAL NOT NULL DEFAULT 0,
		data TEXT NOT NULL,
		lead_output TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS teammates (
		session_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (session_id, agent_id),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tasks (
		session_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (session_id, task_id),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveRecord writes the full record for a session, replacing any previous
// teammates and tasks.
func (s *Store) SaveRecord(rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}

	sessData, err := json.Marshal(rec.Session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(
		`INSERT INTO sessions (id, name, status, cost_usd, data, lead_output, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   status = excluded.status,
		   cost_usd = excluded.cost_usd,
		   data = excluded.data,
		   lead_output = excluded.lead_output,
		   updated_at = excluded.updated_at`,
		rec.Session.ID, rec.Session.Name, string(rec.Session.Status), rec.Session.CostUSD,
		string(sessData), rec.LeadOutput, rec.Session.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM teammates WHERE session_id = ?`, rec.Session.ID); err != nil {
		return fmt.Errorf("clear teammates: %w", err)
	}
	for i, tm := range rec.Teammates {
		data, err := json.Marshal(tm)
		if err != nil {
			return fmt.Errorf("marshal teammate %s: %w", tm.AgentID, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO teammates (session_id, agent_id, position, data) VALUES (?, ?, ?, ?)`,
			rec.Session.ID, tm.AgentID, i, string(data),
		); err != nil {
			return fmt.Errorf("insert teammate %s: %w", tm.AgentID, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM tasks WHERE session_id = ?`, rec.Session.ID); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	for i, task := range rec.Tasks {
		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("marshal task %s: %w", task.ID, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO tasks (session_id, task_id, position, data) VALUES (?, ?, ?, ?)`,
			rec.Session.ID, task.ID, i, string(data),
		); err != nil {
			return fmt.Errorf("insert task %s: %w", task.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	return nil
}

// LoadRecord retrieves the record for a session. Returns nil, nil when absent.
func (s *Store) LoadRecord(id string) (*Record, error) {
	row := s.db.QueryRow(
		`SELECT data, lead_output, updated_at FROM sessions WHERE id = ?`, id,
	)

	var data, output string
	var rec Record
	err := row.Scan(&data, &output, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &rec.Session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	rec.LeadOutput = output

	if rec.Teammates, err = s.loadTeammates(id); err != nil {
		return nil, err
	}
	if rec.Tasks, err = s.loadTasks(id); err != nil {
		return nil, err
	}
	return &rec, nil
}

// LoadAll returns every persisted record, oldest first.
func (s *Store) LoadAll() ([]Record, error) {
	rows, err := s.db.Query(`SELECT id FROM sessions ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	_ = rows.Close()

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.LoadRecord(id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, nil
}

// DeleteRecord removes a session and its teammates and tasks.
func (s *Store) DeleteRecord(id string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListSessions returns summaries of the most recently updated sessions.
func (s *Store) ListSessions(limit int) ([]Summary, error) {
	rows, err := s.db.Query(
		`SELECT s.id, s.name, s.status, s.cost_usd, s.updated_at,
		        (SELECT COUNT(*) FROM teammates t WHERE t.session_id = s.id),
		        (SELECT COUNT(*) FROM tasks k WHERE k.session_id = s.id)
		 FROM sessions s
		 ORDER BY s.updated_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		var status string
		if err := rows.Scan(&sum.ID, &sum.Name, &status, &sum.CostUSD, &sum.UpdatedAt, &sum.Teammates, &sum.Tasks); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.Status = Status(status)
		summaries = append(summaries, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return summaries, nil
}

func (s *Store) loadTeammates(sessionID string) ([]Teammate, error) {
	rows, err := s.db.Query(
		`SELECT data FROM teammates WHERE session_id = ? ORDER BY position ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query teammates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var teammates []Teammate
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan teammate: %w", err)
		}
		var tm Teammate
		if err := json.Unmarshal([]byte(data), &tm); err != nil {
			return nil, fmt.Errorf("decode teammate: %w", err)
		}
		teammates = append(teammates, tm)
	}
	return teammates, rows.Err()
}

func (s *Store) loadTasks(sessionID string) ([]Task, error) {
	rows, err := s.db.Query(
		`SELECT data FROM tasks WHERE session_id = ? ORDER BY position ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []Task
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		var task Task
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
