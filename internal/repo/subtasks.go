package repo

import (
	"context"
	"database/sql"
	"errors"

	"facilitrack/internal/domain"
)

const subtaskColumns = `id,parent_id,title,status,responsible_person_id,started_at,target_date,priority,created_at,updated_at`

func scanSubtask(row rowScanner) (domain.Subtask, error) {
	var (
		st          domain.Subtask
		id, parent  int64
		responsible sql.NullString
		start, end  sql.NullString
	)
	if err := row.Scan(&id, &parent, &st.Title, &st.Status, &responsible, &start, &end, &st.Priority, &st.CreatedAt, &st.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return st, ErrNotFound
		}
		return st, err
	}
	st.ID = idOf(id)
	st.ParentID = idOf(parent)
	st.ResponsiblePersonID = domain.ID(responsible.String)
	var err error
	if st.StartDate, err = scanDate(start); err != nil {
		return st, err
	}
	if st.EndDate, err = scanDate(end); err != nil {
		return st, err
	}
	st.TagIDs = []domain.ID{}
	return st, nil
}

// InsertSubtaskTx stores st with its tag links and returns it with its id.
func (r Repo) InsertSubtaskTx(ctx context.Context, tx *sql.Tx, st domain.Subtask) (domain.Subtask, error) {
	parent, ok := rowID(st.ParentID)
	if !ok {
		return domain.Subtask{}, ErrNotFound
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO sub_tasks(parent_id,title,status,responsible_person_id,started_at,target_date,priority,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		parent, st.Title, string(st.Status), nullable(st.ResponsiblePersonID.String()), nullableDate(st.StartDate), nullableDate(st.EndDate), string(st.Priority), st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return domain.Subtask{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Subtask{}, err
	}
	st.ID = idOf(id)
	if err := setSubtaskTags(ctx, tx, id, st.TagIDs); err != nil {
		return domain.Subtask{}, err
	}
	return r.GetSubtaskTx(ctx, tx, st.ID)
}

func (r Repo) GetSubtaskTx(ctx context.Context, tx *sql.Tx, id domain.ID) (domain.Subtask, error) {
	n, ok := rowID(id)
	if !ok {
		return domain.Subtask{}, ErrNotFound
	}
	st, err := scanSubtask(tx.QueryRowContext(ctx, `SELECT `+subtaskColumns+` FROM sub_tasks WHERE id=?`, n))
	if err != nil {
		return st, err
	}
	byID, err := subtaskTags(ctx, tx, []int64{n})
	if err != nil {
		return st, err
	}
	if ids, ok := byID[st.ID]; ok {
		st.TagIDs = ids
	}
	return st, nil
}

// UpdateSubtaskTx rewrites the row and replaces its tag links.
func (r Repo) UpdateSubtaskTx(ctx context.Context, tx *sql.Tx, st domain.Subtask) (domain.Subtask, error) {
	n, ok := rowID(st.ID)
	if !ok {
		return domain.Subtask{}, ErrNotFound
	}
	res, err := tx.ExecContext(ctx, `UPDATE sub_tasks SET title=?, status=?, responsible_person_id=?, started_at=?, target_date=?, priority=?, updated_at=? WHERE id=?`,
		st.Title, string(st.Status), nullable(st.ResponsiblePersonID.String()), nullableDate(st.StartDate), nullableDate(st.EndDate), string(st.Priority), st.UpdatedAt, n)
	if err != nil {
		return domain.Subtask{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.Subtask{}, ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sub_task_tags WHERE sub_task_id=?`, n); err != nil {
		return domain.Subtask{}, err
	}
	if err := setSubtaskTags(ctx, tx, n, st.TagIDs); err != nil {
		return domain.Subtask{}, err
	}
	return r.GetSubtaskTx(ctx, tx, st.ID)
}

// ListSubtasksByParent returns a task's subtasks in creation order.
func (r Repo) ListSubtasksByParent(ctx context.Context, parentID domain.ID) ([]domain.Subtask, error) {
	parent, ok := rowID(parentID)
	if !ok {
		return nil, nil
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+subtaskColumns+` FROM sub_tasks WHERE parent_id=? ORDER BY id`, parent)
	if err != nil {
		return nil, err
	}
	var (
		res []domain.Subtask
		ids []int64
	)
	for rows.Next() {
		st, err := scanSubtask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		n, _ := rowID(st.ID)
		ids = append(ids, n)
		res = append(res, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	byID, err := subtaskTags(ctx, r.DB, ids)
	if err != nil {
		return nil, err
	}
	for i := range res {
		if tagIDs, ok := byID[res[i].ID]; ok {
			res[i].TagIDs = tagIDs
		}
	}
	return res, nil
}

// setSubtaskTags links tags in the given order; repeated ids are kept once.
func setSubtaskTags(ctx context.Context, tx *sql.Tx, subtaskID int64, tagIDs []domain.ID) error {
	seen := map[int64]bool{}
	pos := 0
	for _, id := range tagIDs {
		n, ok := rowID(id)
		if !ok {
			return ErrNotFound
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		if _, err := tx.ExecContext(ctx, `INSERT INTO sub_task_tags(sub_task_id,tag_id,position) VALUES (?,?,?)`, subtaskID, n, pos); err != nil {
			return err
		}
		pos++
	}
	return nil
}

func subtaskTags(ctx context.Context, q dbtx, subtaskIDs []int64) (map[domain.ID][]domain.ID, error) {
	out := map[domain.ID][]domain.ID{}
	if len(subtaskIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(subtaskIDs))
	for i, n := range subtaskIDs {
		args[i] = n
	}
	rows, err := q.QueryContext(ctx, `SELECT sub_task_id,tag_id FROM sub_task_tags WHERE sub_task_id IN (`+placeholders(len(args))+`) ORDER BY sub_task_id, position`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var st, tag int64
		if err := rows.Scan(&st, &tag); err != nil {
			return nil, err
		}
		out[idOf(st)] = append(out[idOf(st)], idOf(tag))
	}
	return out, rows.Err()
}
