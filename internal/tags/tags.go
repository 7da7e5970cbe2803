// Package tags maps between tag identifiers held by the remote store and the
// tag names shown to users, against one snapshot of the global catalog.
package tags

import (
	"facilitrack/internal/domain"
)

// Catalog is an immutable lookup over the tag catalog.
// On duplicate names the first entry wins.
type Catalog struct {
	byID       map[domain.ID]string
	byName     map[string]domain.ID
	duplicates []string
}

func NewCatalog(items []domain.Tag) Catalog {
	c := Catalog{
		byID:   make(map[domain.ID]string, len(items)),
		byName: make(map[string]domain.ID, len(items)),
	}
	for _, t := range items {
		c.byID[t.ID] = t.Name
		if _, ok := c.byName[t.Name]; ok {
			c.duplicates = append(c.duplicates, t.Name)
			continue
		}
		c.byName[t.Name] = t.ID
	}
	return c
}

func (c Catalog) Len() int { return len(c.byID) }

// Duplicates lists names that appear more than once in the catalog.
func (c Catalog) Duplicates() []string { return c.duplicates }

// Name returns the display name for id.
func (c Catalog) Name(id domain.ID) (string, bool) {
	n, ok := c.byID[id]
	return n, ok
}

// ToNames converts ids to names, dropping ids missing from the catalog.
func (c Catalog) ToNames(ids []domain.ID) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, ok := c.byID[id]; ok {
			names = append(names, n)
		}
	}
	return names
}

// Result is the outcome of a name-to-id conversion.
// IDs alone reproduces the lossy conversion; Unmatched lets callers report the gap.
type Result struct {
	IDs       []domain.ID
	Unmatched []string
}

func (r Result) Complete() bool { return len(r.Unmatched) == 0 }

// ToIDs converts names to ids by exact, case-sensitive match.
func (c Catalog) ToIDs(names []string) Result {
	res := Result{IDs: make([]domain.ID, 0, len(names))}
	for _, n := range names {
		if id, ok := c.byName[n]; ok {
			res.IDs = append(res.IDs, id)
			continue
		}
		res.Unmatched = append(res.Unmatched, n)
	}
	return res
}
