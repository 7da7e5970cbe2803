package repo

import (
	"context"
	"database/sql"
	"errors"

	"facilitrack/internal/domain"
)

const dependencyColumns = `id,task_id,dependent_task_id,dependence_type,active,project_management_id,created_at,updated_at`

func scanDependency(row rowScanner) (domain.Dependency, error) {
	var (
		d                    domain.Dependency
		id, owner, dependent int64
		active               int
		pm                   sql.NullString
	)
	if err := row.Scan(&id, &owner, &dependent, &d.DependenceType, &active, &pm, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, ErrNotFound
		}
		return d, err
	}
	d.ID = idOf(id)
	d.TaskID = idOf(owner)
	d.DependentTaskID = idOf(dependent)
	d.Active = active != 0
	d.ProjectManagementID = domain.ID(pm.String)
	return d, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// InsertDependencyTx stores a new record. A second record for the same
// (task, dependent) pair fails with ErrConflict.
func (r Repo) InsertDependencyTx(ctx context.Context, tx *sql.Tx, d domain.Dependency) (domain.Dependency, error) {
	owner, ok1 := rowID(d.TaskID)
	dependent, ok2 := rowID(d.DependentTaskID)
	if !ok1 || !ok2 {
		return domain.Dependency{}, ErrNotFound
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO task_dependencies(task_id,dependent_task_id,dependence_type,active,project_management_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		owner, dependent, string(d.DependenceType), boolInt(d.Active), nullable(d.ProjectManagementID.String()), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return domain.Dependency{}, conflict(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Dependency{}, err
	}
	d.ID = idOf(id)
	return d, nil
}

func (r Repo) GetDependencyTx(ctx context.Context, tx *sql.Tx, id domain.ID) (domain.Dependency, error) {
	n, ok := rowID(id)
	if !ok {
		return domain.Dependency{}, ErrNotFound
	}
	return scanDependency(tx.QueryRowContext(ctx, `SELECT `+dependencyColumns+` FROM task_dependencies WHERE id=?`, n))
}

// DependencyByPairTx finds the record owned by taskID for dependentID.
func (r Repo) DependencyByPairTx(ctx context.Context, tx *sql.Tx, taskID, dependentID domain.ID) (domain.Dependency, error) {
	owner, ok1 := rowID(taskID)
	dependent, ok2 := rowID(dependentID)
	if !ok1 || !ok2 {
		return domain.Dependency{}, ErrNotFound
	}
	return scanDependency(tx.QueryRowContext(ctx, `SELECT `+dependencyColumns+` FROM task_dependencies WHERE task_id=? AND dependent_task_id=?`, owner, dependent))
}

// UpdateDependencyTx rewrites every mutable column of d.
func (r Repo) UpdateDependencyTx(ctx context.Context, tx *sql.Tx, d domain.Dependency) (domain.Dependency, error) {
	id, ok := rowID(d.ID)
	owner, ok1 := rowID(d.TaskID)
	dependent, ok2 := rowID(d.DependentTaskID)
	if !ok || !ok1 || !ok2 {
		return domain.Dependency{}, ErrNotFound
	}
	res, err := tx.ExecContext(ctx, `UPDATE task_dependencies SET task_id=?, dependent_task_id=?, dependence_type=?, active=?, project_management_id=?, updated_at=? WHERE id=?`,
		owner, dependent, string(d.DependenceType), boolInt(d.Active), nullable(d.ProjectManagementID.String()), d.UpdatedAt, id)
	if err != nil {
		return domain.Dependency{}, conflict(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Dependency{}, ErrNotFound
	}
	return r.GetDependencyTx(ctx, tx, d.ID)
}

// ListDependenciesByOwner returns the records owned by each of taskIDs,
// grouped by owner.
func (r Repo) ListDependenciesByOwner(ctx context.Context, taskIDs []domain.ID) (map[domain.ID][]domain.Dependency, error) {
	out := make(map[domain.ID][]domain.Dependency, len(taskIDs))
	var args []any
	for _, id := range taskIDs {
		if n, ok := rowID(id); ok {
			args = append(args, n)
		}
	}
	if len(args) == 0 {
		return out, nil
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+dependencyColumns+` FROM task_dependencies WHERE task_id IN (`+placeholders(len(args))+`) ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		d, err := scanDependency(rows)
		if err != nil {
			return nil, err
		}
		out[d.TaskID] = append(out[d.TaskID], d)
	}
	return out, rows.Err()
}
