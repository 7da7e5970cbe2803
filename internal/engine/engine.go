package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"facilitrack/internal/domain"
	"facilitrack/internal/events"
	"facilitrack/internal/repo"
)

// ErrInvalid marks malformed requests: missing or unknown fields, bad enum values.
var ErrInvalid = errors.New("invalid request")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) today() domain.Date {
	return domain.DateOf(e.now())
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Title               string
	MilestoneID         domain.ID
	ProjectManagementID domain.ID
	Status              string
	StartDate           domain.Date
	EndDate             domain.Date
	ActorID             string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, invalidf("title is required")
	}
	if opts.MilestoneID.IsZero() {
		return domain.Task{}, invalidf("milestone_id is required")
	}
	if !opts.StartDate.IsZero() && !opts.EndDate.IsZero() && opts.EndDate.Before(opts.StartDate) {
		return domain.Task{}, invalidf("end_date %s is before start_date %s", opts.EndDate, opts.StartDate)
	}
	status := opts.Status
	if status == "" {
		status = "open"
	}
	now := e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.InsertTaskTx(ctx, tx, domain.Task{
		Title:               title,
		MilestoneID:         opts.MilestoneID,
		ProjectManagementID: opts.ProjectManagementID,
		Status:              status,
		StartDate:           opts.StartDate,
		EndDate:             opts.EndDate,
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, "task", t.ID.String(), opts.ActorID, events.Payload{"milestone_id": t.MilestoneID, "title": t.Title}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.PredecessorTask, t.SuccessorTask = domain.IDList{}, domain.IDList{}
	return t, nil
}

// withRelations attaches owned dependency records and derives the flat
// predecessor and successor lists from the active ones.
func withRelations(t domain.Task, deps []domain.Dependency) domain.Task {
	t.TaskDependencies = deps
	t.PredecessorTask, t.SuccessorTask = domain.IDList{}, domain.IDList{}
	for _, d := range deps {
		if !d.Active {
			continue
		}
		switch d.DependenceType {
		case domain.DependencePredecessor:
			t.PredecessorTask = append(t.PredecessorTask, d.DependentTaskID)
		case domain.DependenceSuccessor:
			t.SuccessorTask = append(t.SuccessorTask, d.DependentTaskID)
		}
	}
	return t
}

// Task returns one task with its dependency records and subtasks.
func (e Engine) Task(ctx context.Context, id domain.ID) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	deps, err := e.Repo.ListDependenciesByOwner(ctx, []domain.ID{t.ID})
	if err != nil {
		return domain.Task{}, err
	}
	t = withRelations(t, deps[t.ID])
	subtasks, err := e.Repo.ListSubtasksByParent(ctx, t.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if subtasks == nil {
		subtasks = []domain.Subtask{}
	}
	t.Subtasks = subtasks
	return t, nil
}

// TasksByMilestone lists a milestone's tasks with their relations.
// An unknown milestone yields an empty list.
func (e Engine) TasksByMilestone(ctx context.Context, milestoneID domain.ID) ([]domain.Task, error) {
	tasks, err := e.Repo.ListTasksByMilestone(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	ids := make([]domain.ID, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	deps, err := e.Repo.ListDependenciesByOwner(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		out[i] = withRelations(t, deps[t.ID])
	}
	return out, nil
}

func (e Engine) Tags(ctx context.Context) ([]domain.Tag, error) {
	return e.Repo.ListTags(ctx)
}

func (e Engine) CreateTag(ctx context.Context, name, actorID string) (domain.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Tag{}, invalidf("name is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Tag{}, err
	}
	defer tx.Rollback()
	tag, err := e.Repo.InsertTagTx(ctx, tx, name, e.timestamp())
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Tag{}, fmt.Errorf("tag %q already exists: %w", name, err)
		}
		return domain.Tag{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TagCreated, "tag", tag.ID.String(), actorID, events.Payload{"name": name}); err != nil {
		return domain.Tag{}, err
	}
	return tag, tx.Commit()
}
