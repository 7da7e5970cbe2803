package domain

// Task is a milestone task as exchanged with the remote store.
// PredecessorTask and SuccessorTask may arrive as nested lists; IDList
// flattens one level on decode.
type Task struct {
	ID                  ID           `json:"id"`
	Title               string       `json:"title"`
	MilestoneID         ID           `json:"milestone_id"`
	Status              string       `json:"status"`
	ProjectManagementID ID           `json:"project_management_id"`
	StartDate           Date         `json:"start_date"`
	EndDate             Date         `json:"end_date"`
	PredecessorTask     IDList       `json:"predecessor_task"`
	SuccessorTask       IDList       `json:"successor_task"`
	TaskDependencies    []Dependency `json:"task_dependencies,omitempty"`
	Subtasks            []Subtask    `json:"sub_tasks_managements,omitempty"`
	CreatedAt           string       `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt           string       `json:"updated_at,omitempty" format:"date-time"`
}

// DependencyFor returns the record owned by t whose dependent task is id.
func (t Task) DependencyFor(id ID) (Dependency, bool) {
	for _, d := range t.TaskDependencies {
		if d.DependentTaskID == id {
			return d, true
		}
	}
	return Dependency{}, false
}

type DependenceType string

const (
	DependencePredecessor DependenceType = "Predecessor"
	DependenceSuccessor   DependenceType = "Successor"
)

func (d DependenceType) Valid() bool {
	return d == DependencePredecessor || d == DependenceSuccessor
}

// Dependency is a persisted edge owned by TaskID pointing at DependentTaskID.
type Dependency struct {
	ID                  ID             `json:"id"`
	TaskID              ID             `json:"task_id"`
	DependentTaskID     ID             `json:"dependent_task_id"`
	DependenceType      DependenceType `json:"dependence_type" enum:"Predecessor,Successor"`
	Active              bool           `json:"active"`
	ProjectManagementID ID             `json:"project_management_id"`
	CreatedAt           string         `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt           string         `json:"updated_at,omitempty" format:"date-time"`
}

// DependencyPayload is the body of both create and update dependency calls.
type DependencyPayload struct {
	TaskID              ID             `json:"task_id"`
	DependentTaskID     ID             `json:"dependent_task_id"`
	DependenceType      DependenceType `json:"dependence_type" enum:"Predecessor,Successor"`
	Active              bool           `json:"active"`
	ProjectManagementID ID             `json:"project_management_id"`
}

// Section is the derived relationship bucket of a task relative to a focal task.
type Section string

const (
	SectionMainTask    Section = "Main Task"
	SectionPredecessor Section = "Predecessor"
	SectionSuccessor   Section = "Successor"
	SectionListOfTasks Section = "List of Tasks"
)

var Sections = []Section{SectionMainTask, SectionPredecessor, SectionSuccessor, SectionListOfTasks}

func (s Section) Valid() bool {
	for _, v := range Sections {
		if v == s {
			return true
		}
	}
	return false
}

// IsSink reports whether drops onto s are refused.
func (s Section) IsSink() bool {
	return s == SectionMainTask || s == SectionListOfTasks
}

// DependenceType maps a droppable section to its record type.
func (s Section) DependenceType() (DependenceType, bool) {
	switch s {
	case SectionPredecessor:
		return DependencePredecessor, true
	case SectionSuccessor:
		return DependenceSuccessor, true
	}
	return "", false
}

type Tag struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}
