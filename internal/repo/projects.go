package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bizflow/internal/domain"
)

func (r *Repo) CreateProject(ctx context.Context, p domain.Project) (int64, error) {
	if p.Status == "" {
		p.Status = domain.StatusNew
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO projects(name,client_name,status,progress,created_at) VALUES (?,?,?,?,?)`,
		p.Name, nullable(p.ClientName), p.Status, p.Progress, r.now())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Repo) GetProject(ctx context.Context, id int64) (domain.Project, error) {
	var (
		p       domain.Project
		created string
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(client_name,''),status,progress,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &p.ClientName, &p.Status, &p.Progress, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.CreatedAt, err = parseTime(created)
	return p, err
}

func (r *Repo) SetProjectProgress(ctx context.Context, projectID int64, progress int) error {
	return affected(r.DB.ExecContext(ctx, `UPDATE projects SET progress=? WHERE id=?`, progress, projectID))
}

func (r *Repo) CreateTask(ctx context.Context, t domain.Task) (int64, error) {
	if t.Status == "" {
		t.Status = "todo"
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	var assignee any
	if t.AssigneeID != nil {
		assignee = *t.AssigneeID
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(project_id,title,description,status,priority,assignee_id,due_date,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ProjectID, t.Title, nullable(t.Description), t.Status, t.Priority, assignee, nullTime(t.DueDate), r.now())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const taskColumns = `t.id,t.project_id,t.title,COALESCE(t.description,''),t.status,t.priority,t.assignee_id,t.due_date,t.created_at`

func scanTask(rows *sql.Rows, extra ...any) (domain.Task, error) {
	var (
		t        domain.Task
		assignee sql.NullInt64
		due      sql.NullString
		created  string
	)
	dest := append([]any{&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Priority, &assignee, &due, &created}, extra...)
	if err := rows.Scan(dest...); err != nil {
		return t, err
	}
	if assignee.Valid {
		t.AssigneeID = &assignee.Int64
	}
	var err error
	if t.DueDate, err = parseNullTime(due); err != nil {
		return t, err
	}
	t.CreatedAt, err = parseTime(created)
	return t, err
}

func (r *Repo) ProjectTasks(ctx context.Context, projectID int64) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.project_id=? ORDER BY t.id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// OpenTasksDue lists tasks not done or completed with a due date at or
// before until.
func (r *Repo) OpenTasksDue(ctx context.Context, until time.Time) ([]domain.DueTask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+`,p.name FROM tasks t JOIN projects p ON p.id=t.project_id
		WHERE t.due_date IS NOT NULL AND t.due_date <= ? AND t.status NOT IN (?,?) ORDER BY t.due_date, t.id`,
		formatTime(until), domain.StatusDone, domain.StatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.DueTask
	for rows.Next() {
		var dt domain.DueTask
		t, err := scanTask(rows, &dt.ProjectName)
		if err != nil {
			return nil, err
		}
		dt.Task = t
		out = append(out, dt)
	}
	return out, rows.Err()
}
