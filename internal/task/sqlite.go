package task

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/missionbot-io/missionbot/pkg/protocol"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("task store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("task store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			ticket_id         TEXT PRIMARY KEY,
			title             TEXT NOT NULL DEFAULT '',
			assignee_username TEXT NOT NULL,
			assignee_user_id  INTEGER NOT NULL DEFAULT 0,
			report_status     TEXT NOT NULL DEFAULT 'in_progress',
			progress          INTEGER NOT NULL DEFAULT 0,
			source_url        TEXT NOT NULL DEFAULT '',
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS status_history (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			ticket_id       TEXT NOT NULL REFERENCES tasks(ticket_id),
			old_status      TEXT NOT NULL DEFAULT '',
			new_status      TEXT NOT NULL,
			actor_user_id   INTEGER NOT NULL DEFAULT 0,
			actor_username  TEXT NOT NULL DEFAULT '',
			changed_at      TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(report_status);
		CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_username);
		CREATE INDEX IF NOT EXISTS idx_history_ticket ON status_history(ticket_id);
	`)
	if err != nil {
		return fmt.Errorf("task store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Insert(t *protocol.Task) error {
	res, err := s.db.Exec(`
		INSERT INTO tasks (ticket_id, title, assignee_username, assignee_user_id, report_status, progress, source_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticket_id) DO NOTHING
	`, t.TicketID, t.Title, t.AssigneeUsername, t.AssigneeUserID, string(t.ReportStatus), t.Progress,
		t.SourceURL, t.CreatedAt.Format(time.RFC3339), t.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("task store: insert: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %q: %w", t.TicketID, ErrAlreadyExists)
	}
	return nil
}

func (s *SQLiteStore) Get(ticketID string) (*protocol.Task, error) {
	row := s.db.QueryRow(`SELECT ticket_id, title, assignee_username, assignee_user_id, report_status, progress, source_url, created_at, updated_at
		FROM tasks WHERE ticket_id = ?`, ticketID)

	t, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("task %q: %w", ticketID, ErrNotFound)
		}
		return nil, fmt.Errorf("task store: get: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) UpdateStatus(ticketID string, status protocol.ReportStatus) error {
	res, err := s.db.Exec(`UPDATE tasks SET report_status = ?, updated_at = ? WHERE ticket_id = ?`,
		string(status), time.Now().Format(time.RFC3339), ticketID)
	if err != nil {
		return fmt.Errorf("task store: update status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %q: %w", ticketID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) UpdateProgress(ticketID string, progress int) error {
	res, err := s.db.Exec(`UPDATE tasks SET progress = ?, updated_at = ? WHERE ticket_id = ?`,
		progress, time.Now().Format(time.RFC3339), ticketID)
	if err != nil {
		return fmt.Errorf("task store: update progress: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %q: %w", ticketID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) List(filter Filter) ([]*protocol.Task, error) {
	query := `SELECT ticket_id, title, assignee_username, assignee_user_id, report_status, progress, source_url, created_at, updated_at
		FROM tasks WHERE 1=1`
	var args []any

	if filter.Status != nil {
		query += " AND report_status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.AssigneeUserID != 0 {
		query += " AND assignee_user_id = ?"
		args = append(args, filter.AssigneeUserID)
	}
	if filter.AssigneeUsername != "" {
		query += " AND assignee_username = ?"
		args = append(args, filter.AssigneeUsername)
	}
	if filter.Assignee != nil {
		query += " AND (assignee_user_id = ? OR assignee_username = ?)"
		args = append(args, filter.Assignee.UserID, filter.Assignee.Username)
	}
	if !filter.IncludeArchived {
		query += " AND report_status != ?"
		args = append(args, string(protocol.StatusArchived))
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("task store: list: %w", err)
	}
	defer rows.Close()

	var tasks []*protocol.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("task store: list scan: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) ListShippedBetween(from, to time.Time) ([]*protocol.Task, error) {
	rows, err := s.db.Query(`SELECT ticket_id, title, assignee_username, assignee_user_id, report_status, progress, source_url, created_at, updated_at
		FROM tasks WHERE report_status = ? AND updated_at >= ? AND updated_at <= ?
		ORDER BY updated_at DESC`,
		string(protocol.StatusShipped), from.Format(time.RFC3339), to.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("task store: list shipped: %w", err)
	}
	defer rows.Close()

	var tasks []*protocol.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("task store: list shipped scan: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) AppendHistory(e protocol.StatusHistoryEntry) error {
	_, err := s.db.Exec(`INSERT INTO status_history (ticket_id, old_status, new_status, actor_user_id, actor_username, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.TicketID, string(e.OldStatus), string(e.NewStatus), e.ActorUserID, e.ActorUsername,
		e.ChangedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("task store: append history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) History(ticketID string) ([]protocol.StatusHistoryEntry, error) {
	rows, err := s.db.Query(`SELECT ticket_id, old_status, new_status, actor_user_id, actor_username, changed_at
		FROM status_history WHERE ticket_id = ? ORDER BY id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("task store: history: %w", err)
	}
	defer rows.Close()

	var entries []protocol.StatusHistoryEntry
	for rows.Next() {
		var e protocol.StatusHistoryEntry
		var oldStatus, newStatus, changedAt string
		if err := rows.Scan(&e.TicketID, &oldStatus, &newStatus, &e.ActorUserID, &e.ActorUsername, &changedAt); err != nil {
			return nil, fmt.Errorf("task store: history scan: %w", err)
		}
		e.OldStatus = protocol.ReportStatus(oldStatus)
		e.NewStatus = protocol.ReportStatus(newStatus)
		e.ChangedAt, _ = time.Parse(time.RFC3339Nano, changedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DB returns the underlying database connection (for testing or direct access).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*protocol.Task, error) {
	var t protocol.Task
	var status, createdAt, updatedAt string

	err := row.Scan(&t.TicketID, &t.Title, &t.AssigneeUsername, &t.AssigneeUserID,
		&status, &t.Progress, &t.SourceURL, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.ReportStatus = protocol.ReportStatus(status)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &t, nil
}
