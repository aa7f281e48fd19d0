package board

// Move reassigns the activity to the target column of its owning project.
// The target must be an existing column; the creation-order hint is left
// unchanged, so placement in the new column is append-like. Items inside a
// column are ordered by creation only.
func Move(a *Activity, p Project, targetColumnID string) error {
	if a.ProjectID != p.ID {
		return ErrUnknownColumn
	}
	if !p.HasColumn(targetColumnID) {
		return ErrUnknownColumn
	}
	a.ColumnID = targetColumnID
	return nil
}
