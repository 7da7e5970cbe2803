package engine

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"facilitrack/internal/domain"
	"facilitrack/internal/events"
	"facilitrack/internal/schedule"
)

// CreateSubtask validates a subtask against its parent's date window and stores it.
func (e Engine) CreateSubtask(ctx context.Context, in domain.SubtaskCreate, actorID string) (domain.Subtask, error) {
	if in.ParentID.IsZero() {
		return domain.Subtask{}, invalidf("parent_id is required")
	}
	st := domain.Subtask{
		ParentID:            in.ParentID,
		Title:               strings.TrimSpace(in.Title),
		Status:              in.Status,
		ResponsiblePersonID: in.ResponsiblePersonID,
		StartDate:           in.StartedAt,
		EndDate:             in.TargetDate,
		Priority:            in.Priority,
		TagIDs:              in.TaskTagIDs,
	}
	if st.Status == "" {
		st.Status = domain.StatusOpen
	}
	if st.Priority == "" {
		st.Priority = domain.PriorityNone
	}
	if err := checkEnums(st); err != nil {
		return domain.Subtask{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Subtask{}, err
	}
	defer tx.Rollback()
	parent, err := e.Repo.GetTaskTx(ctx, tx, in.ParentID)
	if err != nil {
		return domain.Subtask{}, fmt.Errorf("parent task %s: %w", in.ParentID, err)
	}
	var errs schedule.Errors
	if st.Title == "" {
		errs = append(errs, schedule.Required(domain.FieldTitle))
	}
	if err := schedule.ParentWindow(parent, e.today()).CheckRange(st.StartDate, st.EndDate); err != nil {
		errs = append(errs, err.(schedule.Errors)...)
	}
	if len(errs) > 0 {
		return domain.Subtask{}, errs
	}
	if err := e.checkTags(ctx, tx, st.TagIDs); err != nil {
		return domain.Subtask{}, err
	}
	now := e.timestamp()
	st.CreatedAt, st.UpdatedAt = now, now
	created, err := e.Repo.InsertSubtaskTx(ctx, tx, st)
	if err != nil {
		return domain.Subtask{}, fmt.Errorf("insert subtask: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.SubtaskCreated, "subtask", created.ID.String(), actorID, events.Payload{"parent_id": created.ParentID, "title": created.Title}); err != nil {
		return domain.Subtask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Subtask{}, err
	}
	return created, nil
}

// UpdateSubtask applies a partial update. Only the keys present in patch
// change; unknown keys are rejected. Changed dates are checked against the
// parent's window and the row's other date.
func (e Engine) UpdateSubtask(ctx context.Context, id domain.ID, patch map[string]json.RawMessage, actorID string) (domain.Subtask, error) {
	if len(patch) == 0 {
		return domain.Subtask{}, invalidf("no fields to update")
	}
	var unknown []string
	for k := range patch {
		if !domain.SubtaskField(k).Valid() {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return domain.Subtask{}, invalidf("unknown fields: %s", strings.Join(unknown, ", "))
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Subtask{}, err
	}
	defer tx.Rollback()
	st, err := e.Repo.GetSubtaskTx(ctx, tx, id)
	if err != nil {
		return domain.Subtask{}, fmt.Errorf("subtask %s: %w", id, err)
	}
	changed := make([]string, 0, len(patch))
	for k, raw := range patch {
		if err := applyField(&st, domain.SubtaskField(k), raw); err != nil {
			return domain.Subtask{}, err
		}
		changed = append(changed, k)
	}
	sort.Strings(changed)
	if err := checkEnums(st); err != nil {
		return domain.Subtask{}, err
	}
	if _, ok := patch[string(domain.FieldTitle)]; ok && st.Title == "" {
		return domain.Subtask{}, schedule.Errors{schedule.Required(domain.FieldTitle)}
	}
	_, startChanged := patch[string(domain.FieldStartDate)]
	_, endChanged := patch[string(domain.FieldEndDate)]
	if startChanged || endChanged {
		parent, err := e.Repo.GetTaskTx(ctx, tx, st.ParentID)
		if err != nil {
			return domain.Subtask{}, fmt.Errorf("parent task %s: %w", st.ParentID, err)
		}
		w := schedule.ParentWindow(parent, e.today())
		switch {
		case startChanged && endChanged:
			err = w.CheckRange(st.StartDate, st.EndDate)
		case startChanged:
			err = w.CheckStart(st.StartDate, st.EndDate)
		default:
			err = w.CheckEnd(st.StartDate, st.EndDate)
		}
		if err != nil {
			return domain.Subtask{}, err
		}
	}
	if _, ok := patch[string(domain.FieldTags)]; ok {
		if err := e.checkTags(ctx, tx, st.TagIDs); err != nil {
			return domain.Subtask{}, err
		}
	}
	st.UpdatedAt = e.timestamp()
	updated, err := e.Repo.UpdateSubtaskTx(ctx, tx, st)
	if err != nil {
		return domain.Subtask{}, err
	}
	if err := e.Events.Append(ctx, tx, events.SubtaskUpdated, "subtask", updated.ID.String(), actorID, events.Payload{"fields": changed}); err != nil {
		return domain.Subtask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Subtask{}, err
	}
	return updated, nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func applyField(st *domain.Subtask, f domain.SubtaskField, raw json.RawMessage) error {
	var err error
	switch f {
	case domain.FieldTitle:
		var s string
		err = json.Unmarshal(raw, &s)
		st.Title = strings.TrimSpace(s)
	case domain.FieldStatus:
		err = json.Unmarshal(raw, &st.Status)
	case domain.FieldPriority:
		err = json.Unmarshal(raw, &st.Priority)
	case domain.FieldResponsible:
		err = json.Unmarshal(raw, &st.ResponsiblePersonID)
	case domain.FieldStartDate:
		err = json.Unmarshal(raw, &st.StartDate)
	case domain.FieldEndDate:
		err = json.Unmarshal(raw, &st.EndDate)
	case domain.FieldTags:
		st.TagIDs = nil
		if !isNull(raw) {
			err = json.Unmarshal(raw, &st.TagIDs)
		}
	}
	if err != nil {
		return invalidf("%s: %v", f, err)
	}
	return nil
}

func checkEnums(st domain.Subtask) error {
	if !st.Status.Valid() {
		return invalidf("status must be one of open, in_progress, completed, on_hold, got %q", st.Status)
	}
	if !st.Priority.Valid() {
		return invalidf("priority must be one of None, Low, Medium, High, Urgent, got %q", st.Priority)
	}
	return nil
}

func (e Engine) checkTags(ctx context.Context, tx *sql.Tx, ids []domain.ID) error {
	if len(ids) == 0 {
		return nil
	}
	missing, err := e.Repo.MissingTagsTx(ctx, tx, ids)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		names := make([]string, len(missing))
		for i, id := range missing {
			names[i] = id.String()
		}
		return invalidf("unknown task_tag_ids %s", strings.Join(names, ", "))
	}
	return nil
}
