package relations

import (
	"facilitrack/internal/domain"
)

// Placement is the section assigned to one task of the board.
// Ambiguous marks a task listed as both predecessor and successor of the
// focal task; it stays in the Predecessor section.
type Placement struct {
	TaskID    domain.ID      `json:"task_id"`
	Title     string         `json:"title"`
	Section   domain.Section `json:"section"`
	Ambiguous bool           `json:"ambiguous,omitempty"`
}

// Classification is the derived section of every task relative to a focal task.
// It is a value: reassignments return a new Classification.
type Classification struct {
	focal      domain.ID
	placements []Placement
	index      map[domain.ID]int
}

// Classify labels each task: the focal task is Main Task, members of the
// focal task's flattened predecessor list are Predecessor, then successor
// list members are Successor, everything else is List of Tasks.
func Classify(tasks []domain.Task, focal domain.Task) Classification {
	preds := focal.PredecessorTask.Set()
	succs := focal.SuccessorTask.Set()
	c := Classification{
		focal:      focal.ID,
		placements: make([]Placement, 0, len(tasks)),
		index:      make(map[domain.ID]int, len(tasks)),
	}
	for _, t := range tasks {
		p := Placement{TaskID: t.ID, Title: t.Title}
		_, inP := preds[t.ID]
		_, inS := succs[t.ID]
		switch {
		case t.ID == focal.ID:
			p.Section = domain.SectionMainTask
		case inP:
			p.Section = domain.SectionPredecessor
			p.Ambiguous = inS
		case inS:
			p.Section = domain.SectionSuccessor
		default:
			p.Section = domain.SectionListOfTasks
		}
		if _, seen := c.index[t.ID]; !seen {
			c.index[t.ID] = len(c.placements)
		}
		c.placements = append(c.placements, p)
	}
	return c
}

func (c Classification) Focal() domain.ID { return c.focal }

func (c Classification) Len() int { return len(c.placements) }

// Section returns the section of id, if id is on the board.
func (c Classification) Section(id domain.ID) (domain.Section, bool) {
	i, ok := c.index[id]
	if !ok {
		return "", false
	}
	return c.placements[i].Section, true
}

// Placements returns all placements in input order.
func (c Classification) Placements() []Placement {
	out := make([]Placement, len(c.placements))
	copy(out, c.placements)
	return out
}

// In returns the ids placed in section s, in input order.
func (c Classification) In(s domain.Section) []domain.ID {
	var ids []domain.ID
	for _, p := range c.placements {
		if p.Section == s {
			ids = append(ids, p.TaskID)
		}
	}
	return ids
}

// Ambiguous returns tasks found in both the predecessor and successor lists.
func (c Classification) Ambiguous() []domain.ID {
	var ids []domain.ID
	for _, p := range c.placements {
		if p.Ambiguous {
			ids = append(ids, p.TaskID)
		}
	}
	return ids
}

func (c Classification) placement(id domain.ID) (Placement, bool) {
	i, ok := c.index[id]
	if !ok {
		return Placement{}, false
	}
	return c.placements[i], true
}

func (c Classification) with(id domain.ID, s domain.Section) Classification {
	p, ok := c.placement(id)
	if !ok {
		return c
	}
	p.Section = s
	p.Ambiguous = false
	return c.restore(p)
}

func (c Classification) restore(p Placement) Classification {
	i, ok := c.index[p.TaskID]
	if !ok {
		return c
	}
	next := Classification{focal: c.focal, index: c.index, placements: c.Placements()}
	next.placements[i] = p
	return next
}
