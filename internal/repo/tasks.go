package repo

import (
	"context"
	"database/sql"
	"errors"

	"facilitrack/internal/domain"
)

const taskColumns = `id,title,milestone_id,status,project_management_id,start_date,end_date,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t          domain.Task
		id         int64
		milestone  string
		pm         sql.NullString
		start, end sql.NullString
	)
	if err := row.Scan(&id, &t.Title, &milestone, &t.Status, &pm, &start, &end, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, ErrNotFound
		}
		return t, err
	}
	t.ID = idOf(id)
	t.MilestoneID = domain.ID(milestone)
	t.ProjectManagementID = domain.ID(pm.String)
	var err error
	if t.StartDate, err = scanDate(start); err != nil {
		return t, err
	}
	if t.EndDate, err = scanDate(end); err != nil {
		return t, err
	}
	return t, nil
}

// InsertTaskTx stores t and returns it with its assigned id.
func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) (domain.Task, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(title,milestone_id,status,project_management_id,start_date,end_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.Title, t.MilestoneID.String(), t.Status, nullable(t.ProjectManagementID.String()), nullableDate(t.StartDate), nullableDate(t.EndDate), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Task{}, err
	}
	t.ID = idOf(id)
	return t, nil
}

// GetTask loads one task without relations.
func (r Repo) GetTask(ctx context.Context, id domain.ID) (domain.Task, error) {
	return getTask(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id domain.ID) (domain.Task, error) {
	return getTask(ctx, tx, id)
}

func getTask(ctx context.Context, q dbtx, id domain.ID) (domain.Task, error) {
	n, ok := rowID(id)
	if !ok {
		return domain.Task{}, ErrNotFound
	}
	return scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, n))
}

// TaskExistsTx reports whether a task row exists.
func (r Repo) TaskExistsTx(ctx context.Context, tx *sql.Tx, id domain.ID) (bool, error) {
	n, ok := rowID(id)
	if !ok {
		return false, nil
	}
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id=?`, n).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// ListTasksByMilestone returns the milestone's tasks in creation order.
func (r Repo) ListTasksByMilestone(ctx context.Context, milestoneID domain.ID) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE milestone_id=? ORDER BY id`, milestoneID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
