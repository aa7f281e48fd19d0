package board

import "errors"

var (
	// ErrLastColumn is returned when a mutation would leave a project
	// with zero columns.
	ErrLastColumn = errors.New("project must keep at least one column")
	// ErrColumnNotEmpty is returned when removing a column that still
	// has activities placed in it.
	ErrColumnNotEmpty = errors.New("column still contains activities")
	// ErrUnknownColumn is returned when an operation names a column the
	// project does not have, typically a stale client reference.
	ErrUnknownColumn = errors.New("column does not exist in project")
	// ErrDuplicateColumn is returned when a column set repeats an id.
	ErrDuplicateColumn = errors.New("duplicate column id")
	// ErrClaimHeld is returned when a user toggles a claim that another
	// user currently holds. There is no forced takeover.
	ErrClaimHeld = errors.New("activity is being developed by another user")

	ErrInvalidStatus = errors.New("invalid project status")
	ErrEmptyName     = errors.New("project name must not be empty")
	ErrEmptyTitle    = errors.New("activity title must not be empty")
	ErrEmptyColumn   = errors.New("column name must not be empty")
)
