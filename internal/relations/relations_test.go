package relations

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strconv"
	"sync"
	"testing"

	"facilitrack/internal/domain"
)

type depCall struct {
	id      domain.ID
	payload domain.DependencyPayload
}

// fakeStore keeps dependency records in memory and derives the
// predecessor/successor lists from them, like the remote store does.
type fakeStore struct {
	mu        sync.Mutex
	order     []domain.ID
	tasks     map[domain.ID]domain.Task
	deps      []domain.Dependency
	nextID    int
	creates   []depCall
	updates   []depCall
	fetches   int
	failWrite error
}

func newFakeStore(ids ...domain.ID) *fakeStore {
	s := &fakeStore{tasks: map[domain.ID]domain.Task{}, nextID: 100}
	for _, id := range ids {
		s.order = append(s.order, id)
		s.tasks[id] = domain.Task{ID: id, Title: "task " + string(id), MilestoneID: "m1", ProjectManagementID: "pm1"}
	}
	return s
}

func (s *fakeStore) link(id domain.ID, owner, dependent domain.ID, typ domain.DependenceType) {
	s.deps = append(s.deps, domain.Dependency{ID: id, TaskID: owner, DependentTaskID: dependent, DependenceType: typ, Active: true, ProjectManagementID: "pm1"})
}

func (s *fakeStore) derive(id domain.ID) domain.Task {
	t := s.tasks[id]
	t.PredecessorTask, t.SuccessorTask, t.TaskDependencies = nil, nil, nil
	for _, d := range s.deps {
		if d.TaskID != id || !d.Active {
			continue
		}
		t.TaskDependencies = append(t.TaskDependencies, d)
		if d.DependenceType == domain.DependencePredecessor {
			t.PredecessorTask = append(t.PredecessorTask, d.DependentTaskID)
		} else {
			t.SuccessorTask = append(t.SuccessorTask, d.DependentTaskID)
		}
	}
	return t
}

func (s *fakeStore) TasksByMilestone(ctx context.Context, milestoneID domain.ID) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	var out []domain.Task
	for _, id := range s.order {
		out = append(out, s.derive(id))
	}
	return out, nil
}

func (s *fakeStore) Task(ctx context.Context, id domain.ID) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.derive(id), nil
}

func (s *fakeStore) CreateDependency(ctx context.Context, p domain.DependencyPayload) (domain.Dependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates = append(s.creates, depCall{payload: p})
	if s.failWrite != nil {
		return domain.Dependency{}, s.failWrite
	}
	s.nextID++
	id := domain.ID(strconv.Itoa(s.nextID))
	s.link(id, p.TaskID, p.DependentTaskID, p.DependenceType)
	return s.deps[len(s.deps)-1], nil
}

func (s *fakeStore) UpdateDependency(ctx context.Context, id domain.ID, p domain.DependencyPayload) (domain.Dependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, depCall{id: id, payload: p})
	if s.failWrite != nil {
		return domain.Dependency{}, s.failWrite
	}
	for i := range s.deps {
		if s.deps[i].ID == id {
			s.deps[i].DependenceType = p.DependenceType
			s.deps[i].Active = p.Active
			return s.deps[i], nil
		}
	}
	return domain.Dependency{}, errors.New("not found")
}

func scenarioStore() *fakeStore {
	s := newFakeStore("A", "B", "C", "D")
	s.link("7", "A", "B", domain.DependencePredecessor)
	s.link("8", "A", "C", domain.DependenceSuccessor)
	return s
}

func newTestBoard(t *testing.T, s *fakeStore) *Board {
	t.Helper()
	b := NewBoard(s, "m1", "A")
	b.Logger = log.New(io.Discard, "", 0)
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return b
}

func assertSections(t *testing.T, c Classification, want map[domain.ID]domain.Section) {
	t.Helper()
	for id, s := range want {
		got, ok := c.Section(id)
		if !ok || got != s {
			t.Fatalf("task %s: got %q want %q", id, got, s)
		}
	}
}

func TestClassifyScenario(t *testing.T) {
	var focal domain.Task
	if err := json.Unmarshal([]byte(`{"id":"A","predecessor_task":[["B"]],"successor_task":[["C"]]}`), &focal); err != nil {
		t.Fatalf("unmarshal focal: %v", err)
	}
	tasks := []domain.Task{focal, {ID: "B"}, {ID: "C"}, {ID: "D"}}
	c := Classify(tasks, focal)
	assertSections(t, c, map[domain.ID]domain.Section{
		"A": domain.SectionMainTask,
		"B": domain.SectionPredecessor,
		"C": domain.SectionSuccessor,
		"D": domain.SectionListOfTasks,
	})
}

func TestClassifyExactlyOneSectionAndIdempotent(t *testing.T) {
	focal := domain.Task{ID: "1", PredecessorTask: domain.IDList{"2", "5"}, SuccessorTask: domain.IDList{"3", "5"}}
	tasks := []domain.Task{{ID: "4"}, {ID: "3"}, focal, {ID: "2"}, {ID: "5"}, {ID: "6"}}
	first := Classify(tasks, focal)
	if first.Len() != len(tasks) {
		t.Fatalf("expected %d placements, got %d", len(tasks), first.Len())
	}
	main := 0
	for _, p := range first.Placements() {
		if !p.Section.Valid() {
			t.Fatalf("invalid section %q for %s", p.Section, p.TaskID)
		}
		if p.Section == domain.SectionMainTask {
			main++
			if p.TaskID != focal.ID {
				t.Fatalf("main task is %s, want focal", p.TaskID)
			}
		}
	}
	if main != 1 {
		t.Fatalf("expected exactly one main task, got %d", main)
	}
	for i := 0; i < 3; i++ {
		again := Classify(tasks, focal)
		a, b := first.Placements(), again.Placements()
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("classification not idempotent at %d: %+v vs %+v", j, a[j], b[j])
			}
		}
	}
}

func TestClassifyDualBucketIsPredecessorAndFlagged(t *testing.T) {
	focal := domain.Task{ID: "1", PredecessorTask: domain.IDList{"5"}, SuccessorTask: domain.IDList{"5"}}
	c := Classify([]domain.Task{focal, {ID: "5"}}, focal)
	assertSections(t, c, map[domain.ID]domain.Section{"5": domain.SectionPredecessor})
	if amb := c.Ambiguous(); len(amb) != 1 || amb[0] != "5" {
		t.Fatalf("expected 5 flagged ambiguous, got %v", amb)
	}
}

func TestClassifyEmptyLists(t *testing.T) {
	focal := domain.Task{ID: "1"}
	c := Classify([]domain.Task{focal, {ID: "2"}, {ID: "3"}}, focal)
	if got := c.In(domain.SectionListOfTasks); len(got) != 2 {
		t.Fatalf("expected two unrelated tasks, got %v", got)
	}
}

func TestDropNewTaskCreatesDependency(t *testing.T) {
	s := scenarioStore()
	b := newTestBoard(t, s)
	res, err := b.Drop(context.Background(), DragEvent{TaskID: "D", From: domain.SectionListOfTasks, To: domain.SectionSuccessor})
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if res.Action != ActionCreate || len(s.creates) != 1 || len(s.updates) != 0 {
		t.Fatalf("expected one create, got action=%s creates=%d updates=%d", res.Action, len(s.creates), len(s.updates))
	}
	want := domain.DependencyPayload{TaskID: "A", DependentTaskID: "D", Active: true, ProjectManagementID: "pm1", DependenceType: domain.DependenceSuccessor}
	if s.creates[0].payload != want {
		t.Fatalf("unexpected payload %+v", s.creates[0].payload)
	}
	assertSections(t, b.Classification(), map[domain.ID]domain.Section{"D": domain.SectionSuccessor})
}

func TestDropLinkedTaskUpdatesExistingRecord(t *testing.T) {
	s := scenarioStore()
	b := newTestBoard(t, s)
	res, err := b.Drop(context.Background(), DragEvent{TaskID: "B", From: domain.SectionPredecessor, To: domain.SectionSuccessor})
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if res.Action != ActionUpdate || len(s.updates) != 1 || len(s.creates) != 0 {
		t.Fatalf("expected one update, got action=%s creates=%d updates=%d", res.Action, len(s.creates), len(s.updates))
	}
	if s.updates[0].id != "7" || s.updates[0].payload.DependenceType != domain.DependenceSuccessor {
		t.Fatalf("unexpected update %+v", s.updates[0])
	}
	if len(s.deps) != 2 {
		t.Fatalf("update must not add records, have %d", len(s.deps))
	}
	assertSections(t, b.Classification(), map[domain.ID]domain.Section{"B": domain.SectionSuccessor})
}

func TestDropOntoSinkIsNoop(t *testing.T) {
	s := scenarioStore()
	b := newTestBoard(t, s)
	before := b.Classification().Placements()
	fetches := s.fetches
	for _, to := range []domain.Section{domain.SectionMainTask, domain.SectionListOfTasks} {
		res, err := b.Drop(context.Background(), DragEvent{TaskID: "B", From: domain.SectionPredecessor, To: to})
		if err != nil || res.Action != ActionNone {
			t.Fatalf("drop onto %s: action=%s err=%v", to, res.Action, err)
		}
	}
	if len(s.creates)+len(s.updates) != 0 || s.fetches != fetches {
		t.Fatalf("sink drop must not touch the store")
	}
	after := b.Classification().Placements()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("sink drop changed sections: %+v -> %+v", before[i], after[i])
		}
	}
}

func TestDropFailureRevertsOptimisticSection(t *testing.T) {
	s := scenarioStore()
	b := newTestBoard(t, s)
	s.failWrite = errors.New("boom")
	res, err := b.Drop(context.Background(), DragEvent{TaskID: "D", From: domain.SectionListOfTasks, To: domain.SectionPredecessor})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !res.Reverted {
		t.Fatalf("expected revert")
	}
	assertSections(t, b.Classification(), map[domain.ID]domain.Section{"D": domain.SectionListOfTasks})
}

func TestDropRejectsFocalAndUnknown(t *testing.T) {
	b := newTestBoard(t, scenarioStore())
	if _, err := b.Drop(context.Background(), DragEvent{TaskID: "A", To: domain.SectionPredecessor}); !errors.Is(err, ErrSelfDependency) {
		t.Fatalf("expected self dependency error, got %v", err)
	}
	if _, err := b.Drop(context.Background(), DragEvent{TaskID: "Z", To: domain.SectionPredecessor}); !errors.Is(err, ErrNotOnBoard) {
		t.Fatalf("expected not on board, got %v", err)
	}
	if _, err := b.Drop(context.Background(), DragEvent{TaskID: "B", To: "Blocked"}); !errors.Is(err, ErrUnknownSection) {
		t.Fatalf("expected unknown section, got %v", err)
	}
}

func TestConcurrentDropsNeverDuplicateRecords(t *testing.T) {
	s := scenarioStore()
	b := newTestBoard(t, s)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		to := domain.SectionPredecessor
		if i%2 == 1 {
			to = domain.SectionSuccessor
		}
		wg.Add(1)
		go func(to domain.Section) {
			defer wg.Done()
			_, _ = b.Drop(context.Background(), DragEvent{TaskID: "D", To: to})
		}(to)
	}
	wg.Wait()
	if len(s.creates) != 1 {
		t.Fatalf("expected exactly one create across serialized drops, got %d", len(s.creates))
	}
	count := 0
	for _, d := range s.deps {
		if d.DependentTaskID == "D" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one record for D, got %d", count)
	}
}

func TestClosedBoardIgnoresLateRefresh(t *testing.T) {
	s := scenarioStore()
	b := newTestBoard(t, s)
	before := b.Classification().Placements()
	b.Close()
	s.link("9", "A", "D", domain.DependencePredecessor)
	if err := b.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh after close: %v", err)
	}
	after := b.Classification().Placements()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("closed board changed state")
		}
	}
	if _, err := b.Drop(context.Background(), DragEvent{TaskID: "D", To: domain.SectionSuccessor}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
}
