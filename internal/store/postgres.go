package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"taskboard/api/internal/board"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, name, email)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Username, user.PasswordHash, user.Name, user.Email)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, name, email, created_at FROM users WHERE id=$1
	`, id))
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, name, email, created_at FROM users WHERE username=$1
	`, username))
}

func scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Name, &user.Email, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, name, email, created_at FROM users ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Name, &user.Email, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

const projectFields = `id, name, description, status, created_by, members, columns, version, created_at, updated_at`

func (s *PostgresStore) ListProjects(ctx context.Context) ([]board.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectFields+` FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]board.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (board.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectFields+` FROM projects WHERE id=$1`, id)
	p, err := scanProject(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Project{}, ErrNotFound
	}
	return p, err
}

func scanProject(scan func(...any) error) (board.Project, error) {
	var p board.Project
	var members, columns []byte
	err := scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.CreatedBy, &members, &columns, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return board.Project{}, err
	}
	if err := json.Unmarshal(members, &p.Members); err != nil {
		return board.Project{}, fmt.Errorf("decode members: %w", err)
	}
	if err := json.Unmarshal(columns, &p.Columns); err != nil {
		return board.Project{}, fmt.Errorf("decode columns: %w", err)
	}
	return p, nil
}

func encodeProject(p board.Project) (members, columns []byte, err error) {
	if p.Members == nil {
		p.Members = []string{}
	}
	members, err = json.Marshal(p.Members)
	if err != nil {
		return nil, nil, fmt.Errorf("encode members: %w", err)
	}
	columns, err = json.Marshal(p.Columns)
	if err != nil {
		return nil, nil, fmt.Errorf("encode columns: %w", err)
	}
	return members, columns, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, p board.Project) error {
	members, columns, err := encodeProject(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, status, created_by, members, columns, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.Name, p.Description, p.Status, p.CreatedBy, members, columns, p.Version)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ReplaceProject is the version-guarded whole-record write for projects:
// it commits only when the stored version still equals the one the caller
// read, bumping it by one in the same statement.
func (s *PostgresStore) ReplaceProject(ctx context.Context, p board.Project) (board.Project, error) {
	return replaceProject(ctx, s.db, p)
}

func replaceProject(ctx context.Context, q querier, p board.Project) (board.Project, error) {
	members, columns, err := encodeProject(p)
	if err != nil {
		return board.Project{}, err
	}
	row := q.QueryRowContext(ctx, `
		UPDATE projects
		SET name=$3, description=$4, status=$5, members=$6, columns=$7,
		    version=version+1, updated_at=NOW()
		WHERE id=$1 AND version=$2
		RETURNING version, updated_at
	`, p.ID, p.Version, p.Name, p.Description, p.Status, members, columns)
	err = row.Scan(&p.Version, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Project{}, staleOrMissing(ctx, q, `SELECT EXISTS(SELECT 1 FROM projects WHERE id=$1)`, p.ID)
	}
	if err != nil {
		return board.Project{}, fmt.Errorf("replace project: %w", err)
	}
	return p, nil
}

// ReplaceProjectColumns commits a column-set change in one transaction,
// re-checking the removed columns for activities at commit time so a
// concurrently created activity cannot be orphaned.
func (s *PostgresStore) ReplaceProjectColumns(ctx context.Context, p board.Project, removedColumnIDs []string) (board.Project, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return board.Project{}, fmt.Errorf("begin columns tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockProject(ctx, tx, p.ID); err != nil {
		return board.Project{}, err
	}
	for _, columnID := range removedColumnIDs {
		var n int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM activities WHERE project_id=$1 AND column_id=$2
		`, p.ID, columnID).Scan(&n)
		if err != nil {
			return board.Project{}, fmt.Errorf("recheck column %s: %w", columnID, err)
		}
		if n > 0 {
			return board.Project{}, board.ErrColumnNotEmpty
		}
	}

	updated, err := replaceProject(ctx, tx, p)
	if err != nil {
		return board.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return board.Project{}, fmt.Errorf("commit columns tx: %w", err)
	}
	return updated, nil
}

// DeleteProject cascades to the project's activities inside the same
// transaction; either everything goes or nothing does.
func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	if err := lockProject(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE project_id=$1`, id); err != nil {
		return fmt.Errorf("delete project activities: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

const activityFields = `id, project_id, title, description, column_id, assigned_to, claimed_by, sort_order, version, created_at`

func (s *PostgresStore) ListActivities(ctx context.Context, projectID string) ([]board.Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityFields+` FROM activities WHERE project_id=$1 ORDER BY sort_order, id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	activities := make([]board.Activity, 0)
	for rows.Next() {
		a, err := scanActivity(rows.Scan)
		if err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

func (s *PostgresStore) GetActivity(ctx context.Context, id string) (board.Activity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+activityFields+` FROM activities WHERE id=$1`, id)
	a, err := scanActivity(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Activity{}, ErrNotFound
	}
	return a, err
}

func scanActivity(scan func(...any) error) (board.Activity, error) {
	var a board.Activity
	var assignedTo, claimedBy sql.NullString
	err := scan(&a.ID, &a.ProjectID, &a.Title, &a.Description, &a.ColumnID, &assignedTo, &claimedBy, &a.Order, &a.Version, &a.CreatedAt)
	if err != nil {
		return board.Activity{}, err
	}
	a.AssignedTo = assignedTo.String
	a.ClaimedBy = claimedBy.String
	return a, nil
}

func (s *PostgresStore) InsertActivity(ctx context.Context, a board.Activity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkColumn(ctx, tx, a.ProjectID, a.ColumnID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO activities (id, project_id, title, description, column_id, assigned_to, claimed_by, sort_order, version)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)
	`, a.ID, a.ProjectID, a.Title, a.Description, a.ColumnID, a.AssignedTo, a.ClaimedBy, a.Order, a.Version)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return tx.Commit()
}

// ReplaceActivity is the version-guarded write for activities. Claim
// toggles ride on this: of two racing toggles only the first matches the
// stored version; the loser re-reads and sees the new claim. The column
// membership check runs in the same transaction, holding a share lock on
// the project row, so a move cannot commit into a column removed after
// the caller read the project.
func (s *PostgresStore) ReplaceActivity(ctx context.Context, a board.Activity) (board.Activity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return board.Activity{}, fmt.Errorf("begin replace tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkColumn(ctx, tx, a.ProjectID, a.ColumnID); err != nil {
		return board.Activity{}, err
	}
	row := tx.QueryRowContext(ctx, `
		UPDATE activities
		SET title=$3, description=$4, column_id=$5, assigned_to=NULLIF($6, ''),
		    claimed_by=NULLIF($7, ''), version=version+1
		WHERE id=$1 AND version=$2
		RETURNING version
	`, a.ID, a.Version, a.Title, a.Description, a.ColumnID, a.AssignedTo, a.ClaimedBy)
	err = row.Scan(&a.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return board.Activity{}, staleOrMissing(ctx, tx, `SELECT EXISTS(SELECT 1 FROM activities WHERE id=$1)`, a.ID)
	}
	if err != nil {
		return board.Activity{}, fmt.Errorf("replace activity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return board.Activity{}, fmt.Errorf("commit replace tx: %w", err)
	}
	return a, nil
}

// checkColumn takes a share lock on the project row and verifies the
// column still exists. A concurrent column replace holds the row
// exclusively, so the two writes serialize: whichever commits second sees
// the other's effect and fails its own check.
func checkColumn(ctx context.Context, q querier, projectID, columnID string) error {
	var raw []byte
	err := q.QueryRowContext(ctx, `SELECT columns FROM projects WHERE id=$1 FOR SHARE`, projectID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock project row: %w", err)
	}
	var columns []board.Column
	if err := json.Unmarshal(raw, &columns); err != nil {
		return fmt.Errorf("decode columns: %w", err)
	}
	for _, c := range columns {
		if c.ID == columnID {
			return nil
		}
	}
	return board.ErrUnknownColumn
}

func (s *PostgresStore) DeleteActivity(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM activities WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CountActivitiesInColumn(ctx context.Context, projectID, columnID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM activities WHERE project_id=$1 AND column_id=$2
	`, projectID, columnID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count activities: %w", err)
	}
	return n, nil
}

// lockProject takes the project row exclusively for the rest of the
// transaction. Column removal and project deletion run their activity
// rechecks behind this lock, so an activity writer holding the share lock
// from checkColumn commits first and is observed, or waits and re-reads.
func lockProject(ctx context.Context, q querier, id string) error {
	var locked string
	err := q.QueryRowContext(ctx, `SELECT id FROM projects WHERE id=$1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock project row: %w", err)
	}
	return nil
}

// staleOrMissing disambiguates a zero-row guarded update: the record
// either vanished or moved on to a newer version.
func staleOrMissing(ctx context.Context, q querier, existsQuery, id string) error {
	var exists bool
	if err := q.QueryRowContext(ctx, existsQuery, id).Scan(&exists); err != nil {
		return fmt.Errorf("check existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleWrite
}
