package store

import (
	"context"
	"fmt"
	"time"
)

// Provisioning writes. The portal's CRM side owns these tables; the copilot
// gateway only reads them. These helpers exist for fixtures and the demo
// seed command.

func (d *DB) CreateTenant(ctx context.Context, id, name, tier string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, tier) VALUES (?, ?, ?)`, id, name, tier)
	if err != nil {
		return fmt.Errorf("creating tenant: %w", err)
	}
	return nil
}

func (d *DB) CreateSubject(ctx context.Context, id, tenantID, email string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO subjects (id, tenant_id, email) VALUES (?, ?, ?)`, id, tenantID, email)
	if err != nil {
		return fmt.Errorf("creating subject: %w", err)
	}
	return nil
}

func (d *DB) CreateProject(ctx context.Context, id, tenantID, name, description string, clientVisible bool, createdAt time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO projects (id, tenant_id, name, description, client_visible, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, tenantID, name, description, clientVisible, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("creating project: %w", err)
	}
	return nil
}

func (d *DB) UpsertGrant(ctx context.Context, subjectID string, g Grant) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO project_grants (subject_id, project_id, can_view_tasks, can_view_files, can_send_messages)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(subject_id, project_id) DO UPDATE SET
		   can_view_tasks = excluded.can_view_tasks,
		   can_view_files = excluded.can_view_files,
		   can_send_messages = excluded.can_send_messages`,
		subjectID, g.ProjectID, g.CanViewTasks, g.CanViewFiles, g.CanSendMessages)
	if err != nil {
		return fmt.Errorf("upserting grant: %w", err)
	}
	return nil
}

func (d *DB) CreateTask(ctx context.Context, t TaskDoc, visibleToClient bool) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO tasks (id, project_id, title, notes, status, visible_to_client, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.Notes, t.Status, visibleToClient, t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

func (d *DB) CreateConversation(ctx context.Context, id, projectID string, participants []string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO conversations (id, project_id) VALUES (?, ?)`, id, projectID)
	if err != nil {
		return fmt.Errorf("creating conversation: %w", err)
	}
	for _, subjectID := range participants {
		_, err := d.db.ExecContext(ctx,
			`INSERT INTO conversation_participants (conversation_id, subject_id) VALUES (?, ?)`,
			id, subjectID)
		if err != nil {
			return fmt.Errorf("adding participant: %w", err)
		}
	}
	return nil
}

func (d *DB) CreateMessage(ctx context.Context, id, conversationID, sender, body string, internal bool, createdAt time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender, body, internal, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, conversationID, sender, body, internal, createdAt.UTC())
	if err != nil {
		return fmt.Errorf("creating message: %w", err)
	}
	return nil
}

func (d *DB) CreateFile(ctx context.Context, f FileDoc) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO files (id, project_id, name, kind, size_bytes, uploaded_by, created_at)
		 VALUES (?, ?, ?, ?, ?, '', ?)`,
		f.ID, f.ProjectID, f.Name, f.Kind, f.SizeBytes, f.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	return nil
}
