package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"facilitrack/internal/domain"
	"facilitrack/internal/events"
	"facilitrack/internal/repo"
)

// ErrSelfDependency rejects records whose owner and dependent are the same task.
var ErrSelfDependency = errors.New("task cannot depend on itself")

func (e Engine) checkDependencyPayload(ctx context.Context, tx *sql.Tx, p domain.DependencyPayload) error {
	if p.TaskID.IsZero() {
		return invalidf("task_id is required")
	}
	if p.DependentTaskID.IsZero() {
		return invalidf("dependent_task_id is required")
	}
	if !p.DependenceType.Valid() {
		return invalidf("dependence_type must be Predecessor or Successor, got %q", p.DependenceType)
	}
	if p.TaskID == p.DependentTaskID {
		return fmt.Errorf("%w: %s", ErrSelfDependency, p.TaskID)
	}
	for _, id := range []domain.ID{p.TaskID, p.DependentTaskID} {
		ok, err := e.Repo.TaskExistsTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("task %s: %w", id, repo.ErrNotFound)
		}
	}
	return nil
}

// CreateDependency stores a new record. A task holds at most one record per
// dependent task: an inactive record for the pair is reactivated in place,
// an active one is a conflict.
func (e Engine) CreateDependency(ctx context.Context, p domain.DependencyPayload, actorID string) (domain.Dependency, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Dependency{}, err
	}
	defer tx.Rollback()
	if err := e.checkDependencyPayload(ctx, tx, p); err != nil {
		return domain.Dependency{}, err
	}
	now := e.timestamp()
	evt := events.DependencyCreated
	existing, err := e.Repo.DependencyByPairTx(ctx, tx, p.TaskID, p.DependentTaskID)
	var dep domain.Dependency
	switch {
	case err == nil && existing.Active:
		return domain.Dependency{}, fmt.Errorf("dependency %s already links task %s to %s: %w", existing.ID, p.TaskID, p.DependentTaskID, repo.ErrConflict)
	case err == nil:
		evt = events.DependencyUpdated
		existing.DependenceType = p.DependenceType
		existing.Active = p.Active
		existing.ProjectManagementID = p.ProjectManagementID
		existing.UpdatedAt = now
		dep, err = e.Repo.UpdateDependencyTx(ctx, tx, existing)
	case errors.Is(err, repo.ErrNotFound):
		dep, err = e.Repo.InsertDependencyTx(ctx, tx, domain.Dependency{
			TaskID:              p.TaskID,
			DependentTaskID:     p.DependentTaskID,
			DependenceType:      p.DependenceType,
			Active:              p.Active,
			ProjectManagementID: p.ProjectManagementID,
			CreatedAt:           now,
			UpdatedAt:           now,
		})
	}
	if err != nil {
		return domain.Dependency{}, err
	}
	if err := e.Events.Append(ctx, tx, evt, "dependency", dep.ID.String(), actorID, dependencyPayload(dep)); err != nil {
		return domain.Dependency{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dependency{}, err
	}
	return dep, nil
}

// UpdateDependency replaces a record with the full payload.
func (e Engine) UpdateDependency(ctx context.Context, id domain.ID, p domain.DependencyPayload, actorID string) (domain.Dependency, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Dependency{}, err
	}
	defer tx.Rollback()
	existing, err := e.Repo.GetDependencyTx(ctx, tx, id)
	if err != nil {
		return domain.Dependency{}, fmt.Errorf("dependency %s: %w", id, err)
	}
	if err := e.checkDependencyPayload(ctx, tx, p); err != nil {
		return domain.Dependency{}, err
	}
	from := existing.DependenceType
	existing.TaskID = p.TaskID
	existing.DependentTaskID = p.DependentTaskID
	existing.DependenceType = p.DependenceType
	existing.Active = p.Active
	existing.ProjectManagementID = p.ProjectManagementID
	existing.UpdatedAt = e.timestamp()
	dep, err := e.Repo.UpdateDependencyTx(ctx, tx, existing)
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Dependency{}, fmt.Errorf("task %s already has a record for %s: %w", p.TaskID, p.DependentTaskID, err)
		}
		return domain.Dependency{}, err
	}
	payload := dependencyPayload(dep)
	payload["from_type"] = from
	if err := e.Events.Append(ctx, tx, events.DependencyUpdated, "dependency", dep.ID.String(), actorID, payload); err != nil {
		return domain.Dependency{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Dependency{}, err
	}
	return dep, nil
}

func dependencyPayload(d domain.Dependency) events.Payload {
	return events.Payload{
		"task_id":           d.TaskID,
		"dependent_task_id": d.DependentTaskID,
		"dependence_type":   d.DependenceType,
		"active":            d.Active,
	}
}
