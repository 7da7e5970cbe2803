package subtasks

import (
	"context"
	"fmt"
	"strings"

	"facilitrack/internal/domain"
	"facilitrack/internal/schedule"
)

// Draft is the unsaved row below the committed rows. It has its own state
// and never shares the committed rows' edit buffer.
type Draft struct {
	Title               string
	Status              domain.SubtaskStatus
	ResponsiblePersonID domain.ID
	StartDate           domain.Date
	EndDate             domain.Date
	Priority            domain.Priority
	TagNames            []string
}

func (d Draft) Duration() schedule.Duration {
	return schedule.Between(d.StartDate, d.EndDate)
}

func (d Draft) validate(w schedule.Window) error {
	var errs schedule.Errors
	if strings.TrimSpace(d.Title) == "" {
		errs = append(errs, schedule.Required(domain.FieldTitle))
	}
	if d.Status != "" && !d.Status.Valid() {
		errs = append(errs, schedule.Invalid(domain.FieldStatus, "unknown status %q", d.Status))
	}
	if d.Priority != "" && !d.Priority.Valid() {
		errs = append(errs, schedule.Invalid(domain.FieldPriority, "unknown priority %q", d.Priority))
	}
	if err := w.CheckRange(d.StartDate, d.EndDate); err != nil {
		errs = append(errs, err.(schedule.Errors)...)
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// OpenDraft replaces the "add subtask" affordance with an empty draft row.
// Opening an already open draft keeps its contents.
func (g *Grid) OpenDraft() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	if !g.loaded {
		return ErrNotLoaded
	}
	switch g.draftSt {
	case DraftSaving:
		return ErrDraftSaving
	case DraftAdding:
		return nil
	}
	g.draft = &Draft{Status: domain.StatusOpen, Priority: domain.PriorityNone}
	g.draftSt = DraftAdding
	return nil
}

// Draft returns a copy of the draft row, if one is open.
func (g *Grid) Draft() (Draft, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draft == nil {
		return Draft{}, false
	}
	d := *g.draft
	d.TagNames = append([]string(nil), g.draft.TagNames...)
	return d, true
}

// EditDraft mutates the draft row in place. Nothing is sent.
func (g *Grid) EditDraft(fn func(d *Draft)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draft == nil || g.draftSt != DraftAdding {
		if g.draftSt == DraftSaving {
			return ErrDraftSaving
		}
		return ErrNoDraft
	}
	fn(g.draft)
	return nil
}

// CancelDraft discards the draft without saving.
func (g *Grid) CancelDraft() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.draftSt {
	case DraftSaving:
		return ErrDraftSaving
	case DraftAdding:
		g.draft = nil
		g.draftSt = DraftCollapsed
	}
	return nil
}

// ClickOutside is the implicit save triggered by focus leaving the draft row.
// Without an open draft it does nothing.
func (g *Grid) ClickOutside(ctx context.Context) (domain.Subtask, error) {
	g.mu.Lock()
	open := g.draft != nil && g.draftSt == DraftAdding
	g.mu.Unlock()
	if !open {
		return domain.Subtask{}, nil
	}
	return g.SaveDraft(ctx)
}

// SaveDraft validates the draft, creates the subtask and refetches the
// parent. On success the draft collapses; on failure it stays open.
func (g *Grid) SaveDraft(ctx context.Context) (domain.Subtask, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return domain.Subtask{}, ErrClosed
	}
	if g.draft == nil {
		g.mu.Unlock()
		return domain.Subtask{}, ErrNoDraft
	}
	if g.draftSt == DraftSaving {
		g.mu.Unlock()
		return domain.Subtask{}, ErrDraftSaving
	}
	d := *g.draft
	if err := d.validate(g.window()); err != nil {
		g.mu.Unlock()
		g.notifyValidation("", err)
		return domain.Subtask{}, err
	}
	res := g.catalog.ToIDs(d.TagNames)
	g.draftSt = DraftSaving
	g.mu.Unlock()

	if !res.Complete() {
		g.notify(Notice{Kind: NoticeReconcile, Field: domain.FieldTags,
			Message: "unknown tags dropped: " + strings.Join(res.Unmatched, ", ")})
	}
	in := domain.SubtaskCreate{
		ParentID:            g.ParentID,
		Title:               strings.TrimSpace(d.Title),
		Status:              d.Status,
		ResponsiblePersonID: d.ResponsiblePersonID,
		StartedAt:           d.StartDate,
		TargetDate:          d.EndDate,
		Priority:            d.Priority,
		TaskTagIDs:          res.IDs,
	}
	created, err := g.Store.CreateSubtask(ctx, in)
	if err != nil {
		g.mu.Lock()
		if g.draftSt == DraftSaving {
			g.draftSt = DraftAdding
		}
		g.mu.Unlock()
		g.logger().Printf("grid: create subtask failed parent=%s err=%v", g.ParentID, err)
		g.notify(Notice{Kind: NoticeRemote, Message: err.Error()})
		if rerr := g.refresh(ctx); rerr != nil {
			g.logger().Printf("grid: refresh after failed create parent=%s err=%v", g.ParentID, rerr)
		}
		return domain.Subtask{}, fmt.Errorf("create subtask: %w", err)
	}
	if rerr := g.refresh(ctx); rerr != nil {
		g.logger().Printf("grid: refresh after create parent=%s err=%v", g.ParentID, rerr)
	}
	g.mu.Lock()
	g.draft = nil
	g.draftSt = DraftCollapsed
	g.mu.Unlock()
	return created, nil
}
