package relations

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"facilitrack/internal/domain"
)

var (
	ErrClosed            = errors.New("board closed")
	ErrUnknownSection    = errors.New("unknown section")
	ErrNotOnBoard        = errors.New("task not on board")
	ErrSelfDependency    = errors.New("task cannot depend on itself")
	ErrMissingDependency = errors.New("linked task has no dependency record")
)

// Store is the slice of the remote API the board needs.
type Store interface {
	TasksByMilestone(ctx context.Context, milestoneID domain.ID) ([]domain.Task, error)
	Task(ctx context.Context, id domain.ID) (domain.Task, error)
	CreateDependency(ctx context.Context, p domain.DependencyPayload) (domain.Dependency, error)
	UpdateDependency(ctx context.Context, id domain.ID, p domain.DependencyPayload) (domain.Dependency, error)
}

type Action string

const (
	ActionNone   Action = "none"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// DragEvent is a card dropped onto a section.
type DragEvent struct {
	TaskID domain.ID
	From   domain.Section
	To     domain.Section
}

// DropResult reports what a drop did. RefreshErr is set when the remote call
// succeeded but the follow-up refetch failed; the board then keeps its
// optimistic state until the next Refresh.
type DropResult struct {
	OpID       string
	Action     Action
	Dependency domain.Dependency
	Reverted   bool
	RefreshErr error
}

// Board keeps the relationship view of one focal task in sync with the
// dependency records of the remote store.
type Board struct {
	Store       Store
	MilestoneID domain.ID
	FocalID     domain.ID
	Logger      *log.Logger
	// Serialize queues drops so at most one dependency write is in flight.
	Serialize bool

	queue   sync.Mutex
	mu      sync.Mutex
	tasks   []domain.Task
	focal   domain.Task
	classes Classification
	gen     uint64
	closed  bool
}

func NewBoard(store Store, milestoneID, focalID domain.ID) *Board {
	return &Board{Store: store, MilestoneID: milestoneID, FocalID: focalID, Serialize: true}
}

func (b *Board) logger() *log.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return log.Default()
}

// Refresh refetches the milestone tasks and the focal task, replacing the
// snapshot wholesale and recomputing sections.
func (b *Board) Refresh(ctx context.Context) error {
	tasks, err := b.Store.TasksByMilestone(ctx, b.MilestoneID)
	if err != nil {
		return fmt.Errorf("fetch milestone tasks: %w", err)
	}
	focal, err := b.Store.Task(ctx, b.FocalID)
	if err != nil {
		return fmt.Errorf("fetch focal task: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.tasks = tasks
	b.focal = focal
	b.classes = Classify(tasks, focal)
	b.gen++
	return nil
}

// Classification returns the current sections.
func (b *Board) Classification() Classification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.classes
}

func (b *Board) Focal() domain.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.focal
}

func (b *Board) Tasks() []domain.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.Task, len(b.tasks))
	copy(out, b.tasks)
	return out
}

// Close detaches the board. In-flight calls complete but their results are discarded.
func (b *Board) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Drop applies a drag event. Sinks (Main Task, List of Tasks) are refused
// without any state change or network call. A drop onto Predecessor or
// Successor is applied locally first, then persisted: an update of the
// existing record when the task was already linked to the focal task,
// otherwise a create. A failed call reverts the local change.
func (b *Board) Drop(ctx context.Context, ev DragEvent) (DropResult, error) {
	res := DropResult{Action: ActionNone}
	if !ev.To.Valid() {
		return res, fmt.Errorf("%w: %q", ErrUnknownSection, ev.To)
	}
	if ev.To.IsSink() {
		return res, nil
	}
	if b.Serialize {
		b.queue.Lock()
		defer b.queue.Unlock()
	}
	res.OpID = uuid.NewString()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return res, ErrClosed
	}
	focal := b.focal
	prev, ok := b.classes.placement(ev.TaskID)
	if !ok {
		b.mu.Unlock()
		return res, fmt.Errorf("%w: %s", ErrNotOnBoard, ev.TaskID)
	}
	if ev.TaskID == focal.ID {
		b.mu.Unlock()
		return res, ErrSelfDependency
	}
	dtype, _ := ev.To.DependenceType()
	payload := domain.DependencyPayload{
		TaskID:              focal.ID,
		DependentTaskID:     ev.TaskID,
		Active:              true,
		ProjectManagementID: focal.ProjectManagementID,
		DependenceType:      dtype,
	}
	existing, found := focal.DependencyFor(ev.TaskID)
	linked := focal.PredecessorTask.Contains(ev.TaskID) || focal.SuccessorTask.Contains(ev.TaskID)
	b.classes = b.classes.with(ev.TaskID, ev.To)
	gen := b.gen
	b.mu.Unlock()

	var (
		dep domain.Dependency
		err error
	)
	if linked {
		res.Action = ActionUpdate
		if !found {
			err = fmt.Errorf("%w: %s", ErrMissingDependency, ev.TaskID)
		} else {
			dep, err = b.Store.UpdateDependency(ctx, existing.ID, payload)
		}
	} else {
		res.Action = ActionCreate
		dep, err = b.Store.CreateDependency(ctx, payload)
	}
	if err != nil {
		res.Reverted = b.revert(prev, gen)
		b.logger().Printf("board: drop failed op=%s task=%s from=%s to=%s action=%s err=%v", res.OpID, ev.TaskID, ev.From, ev.To, res.Action, err)
		return res, fmt.Errorf("%s dependency for task %s: %w", res.Action, ev.TaskID, err)
	}
	res.Dependency = dep
	if err := b.Refresh(ctx); err != nil {
		res.RefreshErr = err
		b.logger().Printf("board: refresh after drop failed op=%s err=%v", res.OpID, err)
	}
	return res, nil
}

// revert restores prev unless a newer snapshot already replaced the optimistic one.
func (b *Board) revert(prev Placement, gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.gen != gen {
		return false
	}
	b.classes = b.classes.restore(prev)
	return true
}
