// Package access holds the project mutation policy: structural changes
// are open to project members and the creator, deletion to the creator
// only. It is deliberately tiny so the rule lives in exactly one place.
package access

import "taskboard/api/internal/board"

// CanView reports whether the user may read the project at all. The
// original board shows users only the projects they belong to.
func CanView(p board.Project, userID string) bool {
	return CanMutate(p, userID)
}

// CanMutate reports whether the user may change project structure
// (rename, status, members, columns).
func CanMutate(p board.Project, userID string) bool {
	return p.CreatedBy == userID || p.IsMember(userID)
}

// CanDelete reports whether the user may delete the project.
func CanDelete(p board.Project, userID string) bool {
	return p.CreatedBy == userID
}
