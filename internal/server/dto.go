package server

import (
	"facilitrack/internal/domain"
)

// Request payloads

type CreateTaskRequest struct {
	Title               string      `json:"title" minLength:"1"`
	MilestoneID         domain.ID   `json:"milestone_id"`
	ProjectManagementID domain.ID   `json:"project_management_id,omitempty"`
	Status              string      `json:"status,omitempty"`
	StartDate           domain.Date `json:"start_date,omitempty"`
	EndDate             domain.Date `json:"end_date,omitempty"`
}

type CreateSubtaskRequest struct {
	ParentID            domain.ID            `json:"parent_id"`
	Title               string               `json:"title"`
	Status              domain.SubtaskStatus `json:"status,omitempty" enum:"open,in_progress,completed,on_hold"`
	ResponsiblePersonID domain.ID            `json:"responsible_person_id,omitempty"`
	StartedAt           domain.Date          `json:"started_at,omitempty"`
	TargetDate          domain.Date          `json:"target_date,omitempty"`
	Priority            domain.Priority      `json:"priority,omitempty" enum:"None,Low,Medium,High,Urgent"`
	TaskTagIDs          []domain.ID          `json:"task_tag_ids,omitempty" nullable:"true"`
}

func (r CreateSubtaskRequest) toDomain() domain.SubtaskCreate {
	return domain.SubtaskCreate{
		ParentID:            r.ParentID,
		Title:               r.Title,
		Status:              r.Status,
		ResponsiblePersonID: r.ResponsiblePersonID,
		StartedAt:           r.StartedAt,
		TargetDate:          r.TargetDate,
		Priority:            r.Priority,
		TaskTagIDs:          r.TaskTagIDs,
	}
}

type CreateTagRequest struct {
	Name string `json:"name" minLength:"1"`
}

// Response payloads

type ListResponse[T any] struct {
	Items []T `json:"items"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}
