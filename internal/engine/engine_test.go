package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"facilitrack/internal/db"
	"facilitrack/internal/domain"
	"facilitrack/internal/engine"
	"facilitrack/internal/events"
	"facilitrack/internal/migrate"
	"facilitrack/internal/repo"
	"facilitrack/internal/schedule"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) task(t *testing.T, title, start, end string) domain.Task {
	t.Helper()
	opts := engine.TaskCreateOptions{Title: title, MilestoneID: "m1", ProjectManagementID: "pm1", ActorID: "tester"}
	if start != "" {
		opts.StartDate = domain.MustDate(start)
	}
	if end != "" {
		opts.EndDate = domain.MustDate(end)
	}
	task, err := env.Engine.CreateTask(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	return task
}

func payload(owner, dependent domain.ID, typ domain.DependenceType) domain.DependencyPayload {
	return domain.DependencyPayload{TaskID: owner, DependentTaskID: dependent, DependenceType: typ, Active: true, ProjectManagementID: "pm1"}
}

func TestDependencyListsFollowRecords(t *testing.T) {
	env := newTestEnv(t)
	a := env.task(t, "A", "", "")
	b := env.task(t, "B", "", "")
	c := env.task(t, "C", "", "")
	env.task(t, "D", "", "")

	dep, err := env.Engine.CreateDependency(env.Ctx, payload(a.ID, b.ID, domain.DependencePredecessor), "tester")
	if err != nil {
		t.Fatalf("create dep: %v", err)
	}
	if _, err := env.Engine.CreateDependency(env.Ctx, payload(a.ID, c.ID, domain.DependenceSuccessor), "tester"); err != nil {
		t.Fatalf("create dep: %v", err)
	}
	got, err := env.Engine.Task(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	if len(got.PredecessorTask) != 1 || got.PredecessorTask[0] != b.ID || len(got.SuccessorTask) != 1 || got.SuccessorTask[0] != c.ID {
		t.Fatalf("unexpected lists P=%v S=%v", got.PredecessorTask, got.SuccessorTask)
	}
	if len(got.TaskDependencies) != 2 || got.Subtasks == nil {
		t.Fatalf("expected records and empty subtasks, got %+v", got)
	}

	// flipping the type moves B from the predecessor list to the successor list
	if _, err := env.Engine.UpdateDependency(env.Ctx, dep.ID, payload(a.ID, b.ID, domain.DependenceSuccessor), "tester"); err != nil {
		t.Fatalf("update dep: %v", err)
	}
	list, err := env.Engine.TasksByMilestone(env.Ctx, "m1")
	if err != nil || len(list) != 4 {
		t.Fatalf("milestone tasks: %d %v", len(list), err)
	}
	if len(list[0].PredecessorTask) != 0 || len(list[0].SuccessorTask) != 2 {
		t.Fatalf("unexpected lists after flip P=%v S=%v", list[0].PredecessorTask, list[0].SuccessorTask)
	}

	evts, err := env.Engine.Events.List(env.Ctx, "dependency", dep.ID.String())
	if err != nil || len(evts) != 2 || evts[1].Type != events.DependencyUpdated {
		t.Fatalf("events: %+v %v", evts, err)
	}
}

func TestDependencyRules(t *testing.T) {
	env := newTestEnv(t)
	a := env.task(t, "A", "", "")
	b := env.task(t, "B", "", "")

	if _, err := env.Engine.CreateDependency(env.Ctx, payload(a.ID, a.ID, domain.DependencePredecessor), "tester"); !errors.Is(err, engine.ErrSelfDependency) {
		t.Fatalf("expected self dependency error, got %v", err)
	}
	if _, err := env.Engine.CreateDependency(env.Ctx, payload(a.ID, b.ID, "Sibling"), "tester"); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected invalid type, got %v", err)
	}
	if _, err := env.Engine.CreateDependency(env.Ctx, payload(a.ID, "999", domain.DependencePredecessor), "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected missing task, got %v", err)
	}
	dep, err := env.Engine.CreateDependency(env.Ctx, payload(a.ID, b.ID, domain.DependencePredecessor), "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.CreateDependency(env.Ctx, payload(a.ID, b.ID, domain.DependenceSuccessor), "tester"); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict on second create, got %v", err)
	}

	// an inactive record drops out of the lists and is reused by the next create
	off := payload(a.ID, b.ID, domain.DependencePredecessor)
	off.Active = false
	if _, err := env.Engine.UpdateDependency(env.Ctx, dep.ID, off, "tester"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, _ := env.Engine.Task(env.Ctx, a.ID)
	if len(got.PredecessorTask) != 0 || len(got.TaskDependencies) != 1 {
		t.Fatalf("inactive record should stay listed but unlinked: %+v", got)
	}
	again, err := env.Engine.CreateDependency(env.Ctx, payload(a.ID, b.ID, domain.DependenceSuccessor), "tester")
	if err != nil || again.ID != dep.ID || !again.Active || again.DependenceType != domain.DependenceSuccessor {
		t.Fatalf("expected reactivation of %s, got %+v %v", dep.ID, again, err)
	}
	if _, err := env.Engine.UpdateDependency(env.Ctx, "404", payload(a.ID, b.ID, domain.DependencePredecessor), "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSubtaskWindowValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.task(t, "P", "2024-01-01", "2024-01-31")
	in := domain.SubtaskCreate{ParentID: p.ID, Title: "Inspect", StartedAt: domain.MustDate("2024-01-10"), TargetDate: domain.MustDate("2024-01-05")}
	_, err := env.Engine.CreateSubtask(env.Ctx, in, "tester")
	var errs schedule.Errors
	if !errors.As(err, &errs) || errs.Field(domain.FieldEndDate) == nil || errs.Field(domain.FieldEndDate).Code != schedule.CodeEndBeforeStart {
		t.Fatalf("expected end-before-start, got %v", err)
	}

	in.TargetDate = domain.MustDate("2024-02-02")
	if _, err := env.Engine.CreateSubtask(env.Ctx, in, "tester"); !errors.Is(err, schedule.ErrValidation) {
		t.Fatalf("expected after-window error, got %v", err)
	}

	in.TargetDate = domain.MustDate("2024-01-12")
	st, err := env.Engine.CreateSubtask(env.Ctx, in, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if st.Status != domain.StatusOpen || st.Priority != domain.PriorityNone {
		t.Fatalf("defaults not applied: %+v", st)
	}

	in.Status = "paused"
	if _, err := env.Engine.CreateSubtask(env.Ctx, in, "tester"); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func raw(t *testing.T, m map[string]any) map[string]json.RawMessage {
	t.Helper()
	out := map[string]json.RawMessage{}
	for k, v := range m {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		out[k] = b
	}
	return out
}

func TestSubtaskPartialUpdate(t *testing.T) {
	env := newTestEnv(t)
	p := env.task(t, "P", "2024-01-01", "2024-01-31")
	tag, err := env.Engine.CreateTag(env.Ctx, "HVAC", "tester")
	if err != nil {
		t.Fatalf("tag: %v", err)
	}
	if _, err := env.Engine.CreateTag(env.Ctx, "HVAC", "tester"); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected duplicate tag conflict, got %v", err)
	}
	st, err := env.Engine.CreateSubtask(env.Ctx, domain.SubtaskCreate{
		ParentID: p.ID, Title: "Inspect", ResponsiblePersonID: "u7",
		StartedAt: domain.MustDate("2024-01-02"), TargetDate: domain.MustDate("2024-01-04"),
	}, "tester")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := env.Engine.UpdateSubtask(env.Ctx, st.ID, raw(t, map[string]any{"priority": "High", "task_tag_ids": []domain.ID{tag.ID}}), "tester")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Priority != domain.PriorityHigh || updated.Title != "Inspect" || updated.ResponsiblePersonID != "u7" || len(updated.TagIDs) != 1 {
		t.Fatalf("partial update touched other fields: %+v", updated)
	}

	updated, err = env.Engine.UpdateSubtask(env.Ctx, st.ID, map[string]json.RawMessage{"responsible_person_id": json.RawMessage("null")}, "tester")
	if err != nil || !updated.ResponsiblePersonID.IsZero() {
		t.Fatalf("clear responsible: %+v %v", updated, err)
	}

	if _, err := env.Engine.UpdateSubtask(env.Ctx, st.ID, raw(t, map[string]any{"colour": "red"}), "tester"); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected unknown field error, got %v", err)
	}
	if _, err := env.Engine.UpdateSubtask(env.Ctx, st.ID, raw(t, map[string]any{"target_date": "2024-01-01"}), "tester"); !errors.Is(err, schedule.ErrValidation) {
		t.Fatalf("expected end-before-start, got %v", err)
	}
	if _, err := env.Engine.UpdateSubtask(env.Ctx, st.ID, raw(t, map[string]any{"title": "  "}), "tester"); !errors.Is(err, schedule.ErrValidation) {
		t.Fatalf("expected required title, got %v", err)
	}
	if _, err := env.Engine.UpdateSubtask(env.Ctx, st.ID, raw(t, map[string]any{"task_tag_ids": []string{"77"}}), "tester"); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected unknown tag error, got %v", err)
	}

	parent, err := env.Engine.Task(env.Ctx, p.ID)
	if err != nil || len(parent.Subtasks) != 1 || parent.Subtasks[0].Priority != domain.PriorityHigh {
		t.Fatalf("parent subtasks: %+v %v", parent.Subtasks, err)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{MilestoneID: "m1"}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected missing title, got %v", err)
	}
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", MilestoneID: "m1",
		StartDate: domain.MustDate("2024-02-01"), EndDate: domain.MustDate("2024-01-01")})
	if !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected inverted dates error, got %v", err)
	}
	list, err := env.Engine.TasksByMilestone(env.Ctx, "nope")
	if err != nil || len(list) != 0 {
		t.Fatalf("unknown milestone: %v %v", list, err)
	}
}
