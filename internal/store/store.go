// Package store is the relational store for portal content: tenants,
// subjects, projects, access grants, tasks, conversations, messages, and
// shared file metadata.
//
// Every content fetch is scoped by an explicit set of project ids. Callers
// must obtain that set from the scope resolver; no query in this package
// accepts any other key for content lookup. Isolation is enforced by query
// predicates, not by connection partitioning.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite handle and owns the portal schema.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the portal database at path and applies
// the schema. Use ":memory:" for tests. WAL lets the usage write land while
// the assembler's fan-out reads are in flight; the busy timeout covers the
// remaining writer-writer collisions.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening portal database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection to :memory: is a distinct database; keep a
		// single connection so the schema exists on all of them.
		db.SetMaxOpenConns(1)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		tier TEXT NOT NULL DEFAULT 'free'
	);

	CREATE TABLE IF NOT EXISTS subjects (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		email TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		client_visible INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS project_grants (
		subject_id TEXT NOT NULL REFERENCES subjects(id),
		project_id TEXT NOT NULL REFERENCES projects(id),
		can_view_tasks INTEGER NOT NULL DEFAULT 0,
		can_view_files INTEGER NOT NULL DEFAULT 0,
		can_send_messages INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (subject_id, project_id)
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		title TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'open',
		visible_to_client INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id)
	);

	CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		subject_id TEXT NOT NULL REFERENCES subjects(id),
		PRIMARY KEY (conversation_id, subject_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id),
		sender TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		internal INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		name TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		uploaded_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_subjects_tenant ON subjects(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_grants_subject ON project_grants(subject_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_files_project ON files(project_id, created_at);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating portal schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close releases the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// SQL exposes the underlying handle so the usage store can share the same
// database file and connection pool.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Grant carries the per-project sub-permissions of an access grant.
type Grant struct {
	ProjectID       string
	CanViewTasks    bool
	CanViewFiles    bool
	CanSendMessages bool
}

// SubjectTenant returns the owning tenant id and its tier for a subject.
func (d *DB) SubjectTenant(ctx context.Context, subjectID string) (tenantID, tier string, err error) {
	query := `SELECT t.id, t.tier FROM subjects s JOIN tenants t ON t.id = s.tenant_id WHERE s.id = ?`
	err = d.db.QueryRowContext(ctx, query, subjectID).Scan(&tenantID, &tier)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("subject %s not found", subjectID)
	}
	if err != nil {
		return "", "", fmt.Errorf("querying subject tenant: %w", err)
	}
	return tenantID, tier, nil
}

// GrantsFor returns the subject's access grants restricted to client-visible
// projects. Grants on hidden projects are omitted entirely, so callers can
// never observe a project that fails the visibility flag.
func (d *DB) GrantsFor(ctx context.Context, subjectID string) (map[string]Grant, error) {
	query := `
		SELECT g.project_id, g.can_view_tasks, g.can_view_files, g.can_send_messages
		FROM project_grants g
		JOIN projects p ON p.id = g.project_id AND p.client_visible = 1
		WHERE g.subject_id = ?`
	rows, err := d.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("querying grants: %w", err)
	}
	defer rows.Close()

	grants := make(map[string]Grant)
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.ProjectID, &g.CanViewTasks, &g.CanViewFiles, &g.CanSendMessages); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		grants[g.ProjectID] = g
	}
	return grants, rows.Err()
}

// ProjectDoc is a project description row for context assembly.
type ProjectDoc struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// ProjectDescriptions returns name and description for the given project ids.
func (d *DB) ProjectDescriptions(ctx context.Context, projectIDs []string) ([]ProjectDoc, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(
		`SELECT id, name, description, created_at FROM projects WHERE id IN (%s) ORDER BY created_at DESC`,
		placeholders(len(projectIDs)))
	rows, err := d.db.QueryContext(ctx, query, toArgs(projectIDs)...)
	if err != nil {
		return nil, fmt.Errorf("querying project descriptions: %w", err)
	}
	defer rows.Close()

	var docs []ProjectDoc
	for rows.Next() {
		var p ProjectDoc
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		docs = append(docs, p)
	}
	return docs, rows.Err()
}

// TaskDoc is a client-visible task row for context assembly.
type TaskDoc struct {
	ID        string
	ProjectID string
	Title     string
	Notes     string
	Status    string
	CreatedAt time.Time
}

// RecentTasks returns the most recent client-visible tasks in the given
// projects. Callers must pass only project ids whose grant carries
// can_view_tasks; the item-level visible_to_client flag is enforced here.
func (d *DB) RecentTasks(ctx context.Context, projectIDs []string, limit int) ([]TaskDoc, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(
		`SELECT id, project_id, title, notes, status, created_at
		 FROM tasks
		 WHERE project_id IN (%s) AND visible_to_client = 1
		 ORDER BY created_at DESC LIMIT ?`,
		placeholders(len(projectIDs)))
	args := append(toArgs(projectIDs), limit)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var docs []TaskDoc
	for rows.Next() {
		var t TaskDoc
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Notes, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		docs = append(docs, t)
	}
	return docs, rows.Err()
}

// MessageDoc is a non-internal conversation message for context assembly.
type MessageDoc struct {
	ID        string
	ProjectID string
	Sender    string
	Body      string
	CreatedAt time.Time
}

// RecentMessages returns the most recent non-internal messages from
// conversations in the given projects where the subject is a declared
// participant. Internal notes never leave this query.
func (d *DB) RecentMessages(ctx context.Context, subjectID string, projectIDs []string, limit int) ([]MessageDoc, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(
		`SELECT m.id, c.project_id, m.sender, m.body, m.created_at
		 FROM messages m
		 JOIN conversations c ON c.id = m.conversation_id
		 JOIN conversation_participants cp ON cp.conversation_id = c.id AND cp.subject_id = ?
		 WHERE c.project_id IN (%s) AND m.internal = 0
		 ORDER BY m.created_at DESC LIMIT ?`,
		placeholders(len(projectIDs)))
	args := append([]interface{}{subjectID}, toArgs(projectIDs)...)
	args = append(args, limit)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var docs []MessageDoc
	for rows.Next() {
		var m MessageDoc
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Sender, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		docs = append(docs, m)
	}
	return docs, rows.Err()
}

// FileDoc is shared file metadata (never file bytes) for context assembly.
type FileDoc struct {
	ID        string
	ProjectID string
	Name      string
	Kind      string
	SizeBytes int64
	CreatedAt time.Time
}

// RecentFiles returns the most recent file metadata in the given projects.
// Callers must pass only project ids whose grant carries can_view_files.
func (d *DB) RecentFiles(ctx context.Context, projectIDs []string, limit int) ([]FileDoc, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(
		`SELECT id, project_id, name, kind, size_bytes, created_at
		 FROM files
		 WHERE project_id IN (%s)
		 ORDER BY created_at DESC LIMIT ?`,
		placeholders(len(projectIDs)))
	args := append(toArgs(projectIDs), limit)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer rows.Close()

	var docs []FileDoc
	for rows.Next() {
		var f FileDoc
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.Name, &f.Kind, &f.SizeBytes, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		docs = append(docs, f)
	}
	return docs, rows.Err()
}

// placeholders returns "?,?,..." for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
