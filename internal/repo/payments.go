package repo

import (
	"context"
	"database/sql"
	"time"

	"bizflow/internal/domain"
)

func (r *Repo) CreatePayment(ctx context.Context, p domain.Payment) (int64, error) {
	if p.Status == "" {
		p.Status = domain.StatusPending
	}
	var project any
	if p.ProjectID != 0 {
		project = p.ProjectID
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO payments(project_id,invoice_number,client_name,amount,status,due_date,created_at) VALUES (?,?,?,?,?,?,?)`,
		project, p.InvoiceNumber, nullable(p.ClientName), p.Amount, p.Status, nullTime(p.DueDate), r.now())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// PendingPaymentsDue lists pending payments with a due date at or before
// until.
func (r *Repo) PendingPaymentsDue(ctx context.Context, until time.Time) ([]domain.Payment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(project_id,0),invoice_number,COALESCE(client_name,''),amount,status,due_date
		FROM payments WHERE status=? AND due_date IS NOT NULL AND due_date <= ? ORDER BY due_date, id`,
		domain.StatusPending, formatTime(until))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Payment
	for rows.Next() {
		var (
			p   domain.Payment
			due sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.InvoiceNumber, &p.ClientName, &p.Amount, &p.Status, &due); err != nil {
			return nil, err
		}
		if p.DueDate, err = parseNullTime(due); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
