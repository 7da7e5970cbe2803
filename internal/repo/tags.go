package repo

import (
	"context"
	"database/sql"

	"facilitrack/internal/domain"
)

// InsertTagTx adds a catalog entry. Names are unique; a repeat is ErrConflict.
func (r Repo) InsertTagTx(ctx context.Context, tx *sql.Tx, name, createdAt string) (domain.Tag, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO task_tags(name,created_at) VALUES (?,?)`, name, createdAt)
	if err != nil {
		return domain.Tag{}, conflict(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Tag{}, err
	}
	return domain.Tag{ID: idOf(id), Name: name}, nil
}

// ListTags returns the whole catalog ordered by id.
func (r Repo) ListTags(ctx context.Context) ([]domain.Tag, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name FROM task_tags ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Tag{}
	for rows.Next() {
		var (
			id int64
			t  domain.Tag
		)
		if err := rows.Scan(&id, &t.Name); err != nil {
			return nil, err
		}
		t.ID = idOf(id)
		res = append(res, t)
	}
	return res, rows.Err()
}

// MissingTagsTx returns the ids in ids that have no catalog entry.
func (r Repo) MissingTagsTx(ctx context.Context, tx *sql.Tx, ids []domain.ID) ([]domain.ID, error) {
	var missing []domain.ID
	for _, id := range ids {
		n, ok := rowID(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM task_tags WHERE id=?`, n).Scan(&one)
		if err == sql.ErrNoRows {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	return missing, nil
}
