// Package subtasks implements the editable subtask grid of a parent task:
// per-cell edit buffers, field-level commits with a refetch of the parent
// after every write, date validation against the parent's window, and a
// draft row for creating subtasks.
package subtasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"facilitrack/internal/domain"
	"facilitrack/internal/schedule"
	"facilitrack/internal/tags"
)

var (
	ErrCommitInFlight    = errors.New("an update is already in progress")
	ErrClosed            = errors.New("grid closed")
	ErrNotLoaded         = errors.New("grid not loaded")
	ErrUnknownSubtask    = errors.New("subtask not in grid")
	ErrNotEditing        = errors.New("cell is not being edited")
	ErrNoDraft           = errors.New("no draft row")
	ErrDraftSaving       = errors.New("draft row is being saved")
	ErrDeleteUnsupported = errors.New("subtask deletion is not supported")
)

// Store is the slice of the remote API the grid needs.
type Store interface {
	Task(ctx context.Context, id domain.ID) (domain.Task, error)
	Tags(ctx context.Context) ([]domain.Tag, error)
	CreateSubtask(ctx context.Context, in domain.SubtaskCreate) (domain.Subtask, error)
	UpdateSubtask(ctx context.Context, id domain.ID, patch domain.SubtaskPatch) (domain.Subtask, error)
}

type State string

const (
	StateIdle       State = "idle"
	StateEditing    State = "editing"
	StateCommitting State = "committing"
)

type DraftState string

const (
	DraftCollapsed DraftState = "collapsed"
	DraftAdding    DraftState = "adding"
	DraftSaving    DraftState = "saving"
)

// LockMode selects the granularity of the in-flight commit guard.
type LockMode string

const (
	// LockRow allows concurrent commits on different subtasks.
	LockRow LockMode = "row"
	// LockCollection allows one commit at a time for the whole grid.
	LockCollection LockMode = "collection"
)

type NoticeKind string

const (
	NoticeValidation NoticeKind = "validation"
	NoticeRemote     NoticeKind = "remote"
	NoticeReconcile  NoticeKind = "reconcile"
)

// Notice is a message for the user: inline for validation, a banner for
// remote failures, a warning for tag names that did not resolve.
type Notice struct {
	Kind      NoticeKind
	SubtaskID domain.ID
	Field     domain.SubtaskField
	Message   string
}

// Row is one rendered subtask.
type Row struct {
	Subtask    domain.Subtask
	TagNames   []string
	Duration   schedule.Duration
	Editing    domain.SubtaskField
	Buffer     string
	Committing bool
}

type cell struct {
	id    domain.ID
	field domain.SubtaskField
}

type Grid struct {
	Store    Store
	ParentID domain.ID
	Lock     LockMode
	Now      func() time.Time
	Logger   *log.Logger

	mu       sync.Mutex
	loaded   bool
	parent   domain.Task
	catalog  tags.Catalog
	editing  *cell
	buffer   string
	inflight map[domain.ID]struct{}
	draft    *Draft
	draftSt  DraftState
	notices  []Notice
	closed   bool
}

func New(store Store, parentID domain.ID) *Grid {
	return &Grid{Store: store, ParentID: parentID, Lock: LockRow, Now: time.Now}
}

func (g *Grid) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Grid) logger() *log.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return log.Default()
}

// Load fetches the tag catalog and the parent task with its subtasks.
func (g *Grid) Load(ctx context.Context) error {
	items, err := g.Store.Tags(ctx)
	if err != nil {
		return fmt.Errorf("fetch tag catalog: %w", err)
	}
	catalog := tags.NewCatalog(items)
	if dups := catalog.Duplicates(); len(dups) > 0 {
		g.logger().Printf("grid: duplicate tag names in catalog names=%s", strings.Join(dups, ","))
	}
	g.mu.Lock()
	g.catalog = catalog
	g.mu.Unlock()
	return g.refresh(ctx)
}

// refresh replaces the parent snapshot. Results arriving after Close are dropped.
func (g *Grid) refresh(ctx context.Context) error {
	parent, err := g.Store.Task(ctx, g.ParentID)
	if err != nil {
		return fmt.Errorf("fetch parent task: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.parent = parent
	g.loaded = true
	if g.draftSt == "" {
		g.draftSt = DraftCollapsed
	}
	return nil
}

func (g *Grid) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func (g *Grid) Parent() domain.Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.parent
}

// State reports the grid-level edit state.
func (g *Grid) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case len(g.inflight) > 0:
		return StateCommitting
	case g.editing != nil:
		return StateEditing
	default:
		return StateIdle
	}
}

func (g *Grid) DraftState() DraftState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draftSt == "" {
		return DraftCollapsed
	}
	return g.draftSt
}

// Notices returns and clears pending user messages.
func (g *Grid) Notices() []Notice {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.notices
	g.notices = nil
	return out
}

func (g *Grid) notify(n Notice) {
	g.mu.Lock()
	g.notices = append(g.notices, n)
	g.mu.Unlock()
}

func (g *Grid) notifyValidation(id domain.ID, err error) {
	var errs schedule.Errors
	if errors.As(err, &errs) {
		for _, v := range errs {
			g.notify(Notice{Kind: NoticeValidation, SubtaskID: id, Field: v.Field, Message: v.Message})
		}
		return
	}
	var v *schedule.ValidationError
	if errors.As(err, &v) {
		g.notify(Notice{Kind: NoticeValidation, SubtaskID: id, Field: v.Field, Message: v.Message})
	}
}

// Rows returns the subtasks with derived durations and tag names.
func (g *Grid) Rows() []Row {
	g.mu.Lock()
	defer g.mu.Unlock()
	rows := make([]Row, 0, len(g.parent.Subtasks))
	for _, st := range g.parent.Subtasks {
		r := Row{
			Subtask:  st,
			TagNames: g.catalog.ToNames(st.TagIDs),
			Duration: schedule.Between(st.StartDate, st.EndDate),
		}
		if g.editing != nil && g.editing.id == st.ID {
			r.Editing = g.editing.field
			r.Buffer = g.buffer
		}
		_, r.Committing = g.inflight[g.lockKey(st.ID)]
		rows = append(rows, r)
	}
	return rows
}

func (g *Grid) subtask(id domain.ID) (domain.Subtask, error) {
	if !g.loaded {
		return domain.Subtask{}, ErrNotLoaded
	}
	for _, st := range g.parent.Subtasks {
		if st.ID == id {
			return st, nil
		}
	}
	return domain.Subtask{}, fmt.Errorf("%w: %s", ErrUnknownSubtask, id)
}

func (g *Grid) window() schedule.Window {
	return schedule.ParentWindow(g.parent, domain.DateOf(g.now()))
}

func (g *Grid) lockKey(id domain.ID) domain.ID {
	if g.Lock == LockCollection {
		return ""
	}
	return id
}

// BeginEdit opens a cell editor. Only one cell is edited at a time; opening
// another cell discards the previous buffer.
func (g *Grid) BeginEdit(id domain.ID, field domain.SubtaskField) error {
	if !field.Valid() {
		return fmt.Errorf("unknown field %q", field)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	st, err := g.subtask(id)
	if err != nil {
		return err
	}
	g.editing = &cell{id: id, field: field}
	g.buffer = ""
	if field == domain.FieldTitle {
		g.buffer = st.Title
	}
	return nil
}

// TypeTitle replaces the title buffer; nothing is sent until PressEnter.
func (g *Grid) TypeTitle(id domain.ID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.editing == nil || g.editing.id != id || g.editing.field != domain.FieldTitle {
		return ErrNotEditing
	}
	g.buffer = text
	return nil
}

// CancelEdit discards the open cell editor.
func (g *Grid) CancelEdit() {
	g.mu.Lock()
	g.editing = nil
	g.buffer = ""
	g.mu.Unlock()
}

// PressEnter commits the title buffer of id.
func (g *Grid) PressEnter(ctx context.Context, id domain.ID) error {
	g.mu.Lock()
	if g.editing == nil || g.editing.id != id || g.editing.field != domain.FieldTitle {
		g.mu.Unlock()
		return ErrNotEditing
	}
	title := strings.TrimSpace(g.buffer)
	g.mu.Unlock()
	if title == "" {
		err := schedule.Errors{schedule.Required(domain.FieldTitle)}
		g.notifyValidation(id, err)
		return err
	}
	return g.commit(ctx, id, domain.FieldTitle, title, nil)
}

func (g *Grid) SelectStatus(ctx context.Context, id domain.ID, status domain.SubtaskStatus) error {
	if !status.Valid() {
		err := schedule.Errors{schedule.Invalid(domain.FieldStatus, "unknown status %q", status)}
		g.notifyValidation(id, err)
		return err
	}
	return g.commit(ctx, id, domain.FieldStatus, status, nil)
}

func (g *Grid) SelectPriority(ctx context.Context, id domain.ID, p domain.Priority) error {
	if !p.Valid() {
		err := schedule.Errors{schedule.Invalid(domain.FieldPriority, "unknown priority %q", p)}
		g.notifyValidation(id, err)
		return err
	}
	return g.commit(ctx, id, domain.FieldPriority, p, nil)
}

// SelectResponsible assigns a person; an empty id clears the assignment.
func (g *Grid) SelectResponsible(ctx context.Context, id, personID domain.ID) error {
	var v any = personID
	if personID.IsZero() {
		v = nil
	}
	return g.commit(ctx, id, domain.FieldResponsible, v, nil)
}

func (g *Grid) ChangeStartDate(ctx context.Context, id domain.ID, start domain.Date) error {
	return g.commit(ctx, id, domain.FieldStartDate, start, func(st domain.Subtask, w schedule.Window) error {
		return w.CheckStart(start, st.EndDate)
	})
}

func (g *Grid) ChangeEndDate(ctx context.Context, id domain.ID, end domain.Date) error {
	return g.commit(ctx, id, domain.FieldEndDate, end, func(st domain.Subtask, w schedule.Window) error {
		return w.CheckEnd(st.StartDate, end)
	})
}

// ChangeTags commits a new tag selection given by name. Names missing from
// the catalog are not sent; they are reported as a reconcile notice and in
// the returned result.
func (g *Grid) ChangeTags(ctx context.Context, id domain.ID, names []string) (tags.Result, error) {
	g.mu.Lock()
	res := g.catalog.ToIDs(names)
	g.mu.Unlock()
	if !res.Complete() {
		g.notify(Notice{Kind: NoticeReconcile, SubtaskID: id, Field: domain.FieldTags,
			Message: "unknown tags dropped: " + strings.Join(res.Unmatched, ", ")})
	}
	return res, g.commit(ctx, id, domain.FieldTags, res.IDs, nil)
}

// Delete is not supported by the remote store.
func (g *Grid) Delete(ctx context.Context, id domain.ID) error {
	return ErrDeleteUnsupported
}

type validator func(st domain.Subtask, w schedule.Window) error

// commit sends a single-field update and then refetches the parent, on
// success and on failure alike. A second commit under the same lock key
// is rejected while the first is outstanding.
func (g *Grid) commit(ctx context.Context, id domain.ID, field domain.SubtaskField, value any, check validator) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	st, err := g.subtask(id)
	if err != nil {
		g.mu.Unlock()
		return err
	}
	if check != nil {
		if err := check(st, g.window()); err != nil {
			g.mu.Unlock()
			g.notifyValidation(id, err)
			return err
		}
	}
	key := g.lockKey(id)
	if _, busy := g.inflight[key]; busy {
		g.mu.Unlock()
		return ErrCommitInFlight
	}
	if g.inflight == nil {
		g.inflight = map[domain.ID]struct{}{}
	}
	g.inflight[key] = struct{}{}
	g.mu.Unlock()

	_, callErr := g.Store.UpdateSubtask(ctx, id, domain.SubtaskPatch{field: value})
	refreshErr := g.refresh(ctx)

	g.mu.Lock()
	delete(g.inflight, key)
	if callErr == nil && g.editing != nil && g.editing.id == id && g.editing.field == field {
		g.editing = nil
		g.buffer = ""
	}
	g.mu.Unlock()

	if callErr != nil {
		g.logger().Printf("grid: commit failed parent=%s subtask=%s field=%s err=%v", g.ParentID, id, field, callErr)
		g.notify(Notice{Kind: NoticeRemote, SubtaskID: id, Field: field, Message: callErr.Error()})
		return fmt.Errorf("update %s of subtask %s: %w", field, id, callErr)
	}
	if refreshErr != nil {
		g.logger().Printf("grid: refresh after commit failed parent=%s err=%v", g.ParentID, refreshErr)
	}
	return nil
}
