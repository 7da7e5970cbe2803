package domain

type SubtaskStatus string

const (
	StatusOpen       SubtaskStatus = "open"
	StatusInProgress SubtaskStatus = "in_progress"
	StatusCompleted  SubtaskStatus = "completed"
	StatusOnHold     SubtaskStatus = "on_hold"
)

var SubtaskStatuses = []SubtaskStatus{StatusOpen, StatusInProgress, StatusCompleted, StatusOnHold}

func (s SubtaskStatus) Valid() bool {
	for _, v := range SubtaskStatuses {
		if v == s {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityNone   Priority = "None"
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

var Priorities = []Priority{PriorityNone, PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

func (p Priority) Valid() bool {
	for _, v := range Priorities {
		if v == p {
			return true
		}
	}
	return false
}

// Subtask belongs to exactly one parent task. Duration is derived and never stored.
type Subtask struct {
	ID                  ID            `json:"id"`
	ParentID            ID            `json:"parent_id"`
	Title               string        `json:"title"`
	Status              SubtaskStatus `json:"status" enum:"open,in_progress,completed,on_hold"`
	ResponsiblePersonID ID            `json:"responsible_person_id"`
	StartDate           Date          `json:"started_at"`
	EndDate             Date          `json:"target_date"`
	Priority            Priority      `json:"priority" enum:"None,Low,Medium,High,Urgent"`
	TagIDs              []ID          `json:"task_tag_ids"`
	CreatedAt           string        `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt           string        `json:"updated_at,omitempty" format:"date-time"`
}

// SubtaskCreate is the create payload; ParentID is required.
type SubtaskCreate struct {
	ParentID            ID            `json:"parent_id"`
	Title               string        `json:"title"`
	Status              SubtaskStatus `json:"status,omitempty"`
	ResponsiblePersonID ID            `json:"responsible_person_id,omitempty"`
	StartedAt           Date          `json:"started_at"`
	TargetDate          Date          `json:"target_date"`
	Priority            Priority      `json:"priority,omitempty"`
	TaskTagIDs          []ID          `json:"task_tag_ids"`
}

// SubtaskField names a single editable column. The value is also the wire key.
type SubtaskField string

const (
	FieldTitle       SubtaskField = "title"
	FieldStatus      SubtaskField = "status"
	FieldResponsible SubtaskField = "responsible_person_id"
	FieldStartDate   SubtaskField = "started_at"
	FieldEndDate     SubtaskField = "target_date"
	FieldPriority    SubtaskField = "priority"
	FieldTags        SubtaskField = "task_tag_ids"
)

var SubtaskFields = []SubtaskField{FieldTitle, FieldStatus, FieldResponsible, FieldStartDate, FieldEndDate, FieldPriority, FieldTags}

func (f SubtaskField) Valid() bool {
	for _, v := range SubtaskFields {
		if v == f {
			return true
		}
	}
	return false
}

// SubtaskPatch is a partial update keyed by wire field name.
type SubtaskPatch map[SubtaskField]any
