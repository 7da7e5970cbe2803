package repo

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"facilitrack/internal/db"
	"facilitrack/internal/domain"
	"facilitrack/internal/migrate"
)

const ts = "2024-01-01T00:00:00Z"

func setupRepo(t *testing.T) (Repo, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Repo{DB: conn}, conn
}

func withTx(t *testing.T, conn *sql.DB, fn func(tx *sql.Tx)) {
	t.Helper()
	tx, err := conn.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	fn(tx)
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestDependencyPairIsUnique(t *testing.T) {
	ctx := context.Background()
	r, conn := setupRepo(t)
	var a, b domain.Task
	withTx(t, conn, func(tx *sql.Tx) {
		var err error
		a, err = r.InsertTaskTx(ctx, tx, domain.Task{Title: "A", MilestoneID: "m1", Status: "open", CreatedAt: ts, UpdatedAt: ts})
		if err != nil {
			t.Fatalf("insert a: %v", err)
		}
		b, err = r.InsertTaskTx(ctx, tx, domain.Task{Title: "B", MilestoneID: "m1", Status: "open", StartDate: domain.MustDate("2024-02-01"), CreatedAt: ts, UpdatedAt: ts})
		if err != nil {
			t.Fatalf("insert b: %v", err)
		}
		dep := domain.Dependency{TaskID: a.ID, DependentTaskID: b.ID, DependenceType: domain.DependencePredecessor, Active: true, CreatedAt: ts, UpdatedAt: ts}
		if _, err := r.InsertDependencyTx(ctx, tx, dep); err != nil {
			t.Fatalf("insert dep: %v", err)
		}
		if _, err := r.InsertDependencyTx(ctx, tx, dep); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
	})

	deps, err := r.ListDependenciesByOwner(ctx, []domain.ID{a.ID, b.ID})
	if err != nil {
		t.Fatalf("list deps: %v", err)
	}
	if len(deps[a.ID]) != 1 || len(deps[b.ID]) != 0 || deps[a.ID][0].DependentTaskID != b.ID {
		t.Fatalf("unexpected deps %+v", deps)
	}
	got, err := r.GetTask(ctx, b.ID)
	if err != nil || got.StartDate.String() != "2024-02-01" || !got.EndDate.IsZero() {
		t.Fatalf("get task: %+v %v", got, err)
	}
	if _, err := r.GetTask(ctx, "999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := r.GetTask(ctx, "abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("non-numeric id should be not found, got %v", err)
	}
}

func TestSubtaskTagsKeepOrder(t *testing.T) {
	ctx := context.Background()
	r, conn := setupRepo(t)
	var st domain.Subtask
	withTx(t, conn, func(tx *sql.Tx) {
		p, err := r.InsertTaskTx(ctx, tx, domain.Task{Title: "P", MilestoneID: "m1", Status: "open", CreatedAt: ts, UpdatedAt: ts})
		if err != nil {
			t.Fatalf("insert parent: %v", err)
		}
		hvac, _ := r.InsertTagTx(ctx, tx, "HVAC", ts)
		elec, _ := r.InsertTagTx(ctx, tx, "Electrical", ts)
		if _, err := r.InsertTagTx(ctx, tx, "HVAC", ts); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected duplicate tag conflict, got %v", err)
		}
		st, err = r.InsertSubtaskTx(ctx, tx, domain.Subtask{
			ParentID: p.ID, Title: "Filters", Status: domain.StatusOpen, Priority: domain.PriorityNone,
			TagIDs: []domain.ID{elec.ID, hvac.ID, elec.ID}, CreatedAt: ts, UpdatedAt: ts,
		})
		if err != nil {
			t.Fatalf("insert subtask: %v", err)
		}
		missing, err := r.MissingTagsTx(ctx, tx, []domain.ID{hvac.ID, "42"})
		if err != nil || len(missing) != 1 || missing[0] != "42" {
			t.Fatalf("missing tags = %v, %v", missing, err)
		}
	})
	if len(st.TagIDs) != 2 || st.TagIDs[0] != "2" || st.TagIDs[1] != "1" {
		t.Fatalf("tag order not kept: %v", st.TagIDs)
	}

	withTx(t, conn, func(tx *sql.Tx) {
		st.TagIDs = nil
		st.Title = "Replace filters"
		updated, err := r.UpdateSubtaskTx(ctx, tx, st)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if updated.Title != "Replace filters" || len(updated.TagIDs) != 0 {
			t.Fatalf("unexpected update %+v", updated)
		}
	})
	list, err := r.ListSubtasksByParent(ctx, st.ParentID)
	if err != nil || len(list) != 1 || list[0].Title != "Replace filters" {
		t.Fatalf("list: %+v %v", list, err)
	}
	tags, err := r.ListTags(ctx)
	if err != nil || len(tags) != 2 {
		t.Fatalf("tags: %+v %v", tags, err)
	}
}
