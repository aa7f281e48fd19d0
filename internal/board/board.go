// Package board holds the pure domain model of the task board: projects
// with ordered columns, activities placed into columns, and the exclusive
// development claim on an activity. Nothing in this package performs I/O;
// callers read a record, apply one or more operations, and commit the
// result through a version-guarded store.
package board

import (
	"strings"
	"time"
)

// Project statuses. The set is closed; SetStatus rejects anything else.
const (
	StatusAnalyzing  = "Analyzing"
	StatusDeveloping = "Developing"
	StatusDone       = "Done"
)

type Column struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Members     []string  `json:"members"`
	CreatedBy   string    `json:"createdBy"`
	Columns     []Column  `json:"columns"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Activity is a work item placed in exactly one column of its project.
// ClaimedBy is the development claim: empty means unclaimed, otherwise it
// holds the id of the single user currently working the item.
type Activity struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"projectId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ColumnID    string    `json:"column"`
	AssignedTo  string    `json:"assignedTo,omitempty"`
	ClaimedBy   string    `json:"developmentBy,omitempty"`
	Order       int       `json:"order"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
}

// InDevelopment reports whether the activity is currently claimed.
func (a Activity) InDevelopment() bool {
	return a.ClaimedBy != ""
}

// DefaultColumns is the three-column template every new project starts with.
func DefaultColumns() []Column {
	return []Column{
		{ID: "todo", Name: "To Do", Order: 0},
		{ID: "progress", Name: "In Progress", Order: 1},
		{ID: "done", Name: "Done", Order: 2},
	}
}

// ValidStatus reports whether s is one of the enumerated project statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusAnalyzing, StatusDeveloping, StatusDone:
		return true
	}
	return false
}

// ProjectPatch is the enumerated update-command set for a project. Nil
// fields are commands that were not issued. This replaces the original
// design's arbitrary merge of request payloads into the stored record.
type ProjectPatch struct {
	Name        *string
	Description *string
	Status      *string
	Members     *[]string
}

// Apply runs each present command against the project, validating as it
// goes. The version stamp is left alone; bumping it is the store's job.
func (p *Project) Apply(patch ProjectPatch) error {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return ErrEmptyName
		}
		p.Name = name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Status != nil {
		if !ValidStatus(*patch.Status) {
			return ErrInvalidStatus
		}
		p.Status = *patch.Status
	}
	if patch.Members != nil {
		members := make([]string, 0, len(*patch.Members))
		seen := make(map[string]struct{}, len(*patch.Members))
		for _, id := range *patch.Members {
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			members = append(members, id)
		}
		p.Members = members
	}
	return nil
}

// ActivityPatch is the enumerated update-command set for an activity. A
// column move is validated against the owning project by Move, not here.
type ActivityPatch struct {
	Title       *string
	Description *string
	AssignedTo  *string
	ColumnID    *string
}

// Apply runs the non-placement commands. Column moves go through Move so
// the target column is checked against the owning project.
func (a *Activity) Apply(patch ActivityPatch) error {
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return ErrEmptyTitle
		}
		a.Title = title
	}
	if patch.Description != nil {
		a.Description = *patch.Description
	}
	if patch.AssignedTo != nil {
		a.AssignedTo = *patch.AssignedTo
	}
	return nil
}

// HasColumn reports whether the project contains a column with the id.
func (p Project) HasColumn(columnID string) bool {
	for _, c := range p.Columns {
		if c.ID == columnID {
			return true
		}
	}
	return false
}

// FirstColumn returns the column with the lowest order, the default
// placement target for new activities.
func (p Project) FirstColumn() (Column, bool) {
	if len(p.Columns) == 0 {
		return Column{}, false
	}
	first := p.Columns[0]
	for _, c := range p.Columns[1:] {
		if c.Order < first.Order {
			first = c
		}
	}
	return first, true
}

// IsMember reports whether the user belongs to the project's member set.
func (p Project) IsMember(userID string) bool {
	for _, m := range p.Members {
		if m == userID {
			return true
		}
	}
	return false
}
