package board

import (
	"sort"
	"strings"
)

// ActivityCounter reports how many activities currently reference a column.
// The registry consults it before allowing a removal; the store re-checks
// at commit time so the answer cannot go stale between validation and
// write.
type ActivityCounter func(columnID string) (int, error)

// AddColumn appends a new column with the next order index. The id must be
// unique within the project; callers normally pass a freshly generated one.
func AddColumn(p *Project, id, name string) (Column, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Column{}, ErrEmptyColumn
	}
	if p.HasColumn(id) {
		return Column{}, ErrDuplicateColumn
	}
	col := Column{ID: id, Name: name, Order: len(p.Columns)}
	p.Columns = append(p.Columns, col)
	normalizeColumns(p)
	return col, nil
}

// RenameColumn changes a column's display name in place.
func RenameColumn(p *Project, columnID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyColumn
	}
	for i := range p.Columns {
		if p.Columns[i].ID == columnID {
			p.Columns[i].Name = name
			return nil
		}
	}
	return ErrUnknownColumn
}

// RemoveColumn deletes a column. It refuses to empty the project and
// refuses to orphan activities; removed ids are never reused. Remaining
// orders are renormalized.
func RemoveColumn(p *Project, columnID string, count ActivityCounter) error {
	if !p.HasColumn(columnID) {
		return ErrUnknownColumn
	}
	if len(p.Columns) <= 1 {
		return ErrLastColumn
	}
	n, err := count(columnID)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrColumnNotEmpty
	}
	kept := p.Columns[:0]
	for _, c := range p.Columns {
		if c.ID != columnID {
			kept = append(kept, c)
		}
	}
	p.Columns = kept
	normalizeColumns(p)
	return nil
}

// ReorderColumns rearranges the column set to match the supplied id order.
// Every existing column must appear exactly once.
func ReorderColumns(p *Project, orderedIDs []string) error {
	if len(orderedIDs) != len(p.Columns) {
		return ErrUnknownColumn
	}
	byID := make(map[string]Column, len(p.Columns))
	for _, c := range p.Columns {
		byID[c.ID] = c
	}
	next := make([]Column, 0, len(orderedIDs))
	for _, id := range orderedIDs {
		col, ok := byID[id]
		if !ok {
			return ErrUnknownColumn
		}
		delete(byID, id)
		next = append(next, col)
	}
	p.Columns = next
	normalizeColumns(p)
	return nil
}

// ReplaceColumns applies a caller-supplied column set as enumerated
// add/rename/remove/reorder commands against the current set. Columns
// without an id are treated as additions and get the id passed back by
// newID. Removals of columns that still hold activities fail; so does an
// empty result set.
func ReplaceColumns(p *Project, desired []Column, count ActivityCounter, newID func() string) error {
	if len(desired) == 0 {
		return ErrLastColumn
	}

	sort.SliceStable(desired, func(i, j int) bool { return desired[i].Order < desired[j].Order })

	seen := make(map[string]struct{}, len(desired))
	next := make([]Column, 0, len(desired))
	for _, want := range desired {
		name := strings.TrimSpace(want.Name)
		if name == "" {
			return ErrEmptyColumn
		}
		id := want.ID
		if id == "" {
			id = newID()
		}
		if _, dup := seen[id]; dup {
			return ErrDuplicateColumn
		}
		seen[id] = struct{}{}
		next = append(next, Column{ID: id, Name: name})
	}

	// Dropped columns must be empty.
	for _, old := range p.Columns {
		if _, kept := seen[old.ID]; kept {
			continue
		}
		n, err := count(old.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrColumnNotEmpty
		}
	}

	p.Columns = next
	normalizeColumns(p)
	return nil
}

// RemovedColumnIDs lists the ids present in p but absent from next.
func RemovedColumnIDs(p Project, next []Column) []string {
	kept := make(map[string]struct{}, len(next))
	for _, c := range next {
		kept[c.ID] = struct{}{}
	}
	var removed []string
	for _, c := range p.Columns {
		if _, ok := kept[c.ID]; !ok {
			removed = append(removed, c.ID)
		}
	}
	return removed
}

// normalizeColumns rewrites every order field to the contiguous 0-based
// sequence implied by slice position. Mandatory after every structural
// change, not optional cleanup.
func normalizeColumns(p *Project) {
	sort.SliceStable(p.Columns, func(i, j int) bool { return p.Columns[i].Order < p.Columns[j].Order })
	for i := range p.Columns {
		p.Columns[i].Order = i
	}
}
