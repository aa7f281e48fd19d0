package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"taskboard/api/internal/access"
	"taskboard/api/internal/auth"
	"taskboard/api/internal/board"
	"taskboard/api/internal/config"
	"taskboard/api/internal/events"
	"taskboard/api/internal/metrics"
	"taskboard/api/internal/session"
	"taskboard/api/internal/store"
	"taskboard/api/internal/util"
)

// maxWriteAttempts bounds the optimistic-concurrency retry loop. Each
// retry re-reads the record and re-validates, so a losing claim racer
// observes the winner's claim instead of overwriting it. After the last
// attempt the stale error surfaces to the caller as retryable.
const maxWriteAttempts = 3

type Session struct {
	Token     string
	UserID    string
	Username  string
	Name      string
	ExpiresAt time.Time
}

// DataStore is the persistence surface the coordinator needs. Both the
// Postgres and the in-memory store satisfy it with the same version-stamp
// contract.
type DataStore interface {
	Ping(context.Context) error

	CreateUser(context.Context, store.User) error
	GetUserByUsername(context.Context, string) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	CountUsers(context.Context) (int, error)

	ListProjects(context.Context) ([]board.Project, error)
	GetProject(context.Context, string) (board.Project, error)
	InsertProject(context.Context, board.Project) error
	ReplaceProject(context.Context, board.Project) (board.Project, error)
	ReplaceProjectColumns(context.Context, board.Project, []string) (board.Project, error)
	DeleteProject(context.Context, string) error

	ListActivities(context.Context, string) ([]board.Activity, error)
	GetActivity(context.Context, string) (board.Activity, error)
	InsertActivity(context.Context, board.Activity) error
	ReplaceActivity(context.Context, board.Activity) (board.Activity, error)
	DeleteActivity(context.Context, string) error
	CountActivitiesInColumn(ctx context.Context, projectID, columnID string) (int, error)
}

type sessionStore interface {
	Save(ctx context.Context, tokenHash string, record session.Record, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (session.Record, error)
	Revoke(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

type broadcaster interface {
	Publish(ctx context.Context, eventType, projectID string, payload any) error
}

// Service is the consistency coordinator: it sequences access checks,
// board commands, and version-guarded store writes so every external
// operation either commits whole or leaves stored state untouched.
type Service struct {
	cfg      config.Config
	store    DataStore
	sessions sessionStore
	events   broadcaster
	logger   *zap.Logger
}

func New(cfg config.Config, dataStore DataStore, sessions sessionStore, broadcaster *events.Broadcaster, logger *zap.Logger) *Service {
	s := &Service{cfg: cfg, store: dataStore, sessions: sessions, logger: logger}
	if broadcaster != nil {
		s.events = broadcaster
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	return s.sessions.Ping(ctx)
}

// Bootstrap seeds the demo users and a sample project on an empty store,
// mirroring what the board ships with on first run.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	seeds := []struct {
		Username string
		Password string
		Name     string
		Email    string
	}{
		{"admin", "admin123", "Administrator", "admin@example.com"},
		{"user1", "user123", "Jo Silva", "jo@example.com"},
		{"user2", "user123", "Maria Santos", "maria@example.com"},
	}

	userIDs := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		user := store.User{
			ID:           util.NewID("usr"),
			Username:     seed.Username,
			PasswordHash: string(hash),
			Name:         seed.Name,
			Email:        seed.Email,
		}
		if err := s.store.CreateUser(ctx, user); err != nil {
			return err
		}
		userIDs = append(userIDs, user.ID)
	}

	project := board.Project{
		ID:          util.NewID("prj"),
		Name:        "Sales System",
		Description: "Development of the new sales system",
		Status:      board.StatusDeveloping,
		Members:     userIDs[:2],
		CreatedBy:   userIDs[0],
		Columns:     board.DefaultColumns(),
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return err
	}

	activities := []board.Activity{
		{
			ID:          util.NewID("act"),
			ProjectID:   project.ID,
			Title:       "Build the login screen",
			Description: "Authentication form and session handling",
			ColumnID:    "progress",
			AssignedTo:  userIDs[1],
			ClaimedBy:   userIDs[1],
			Order:       0,
			CreatedAt:   time.Now().UTC(),
		},
		{
			ID:          util.NewID("act"),
			ProjectID:   project.ID,
			Title:       "Set up the database",
			Description: "Initial schema and migrations",
			ColumnID:    "todo",
			Order:       1,
			CreatedAt:   time.Now().UTC(),
		},
	}
	for _, a := range activities {
		if err := s.store.InsertActivity(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// ── sessions ──

func (s *Service) Login(ctx context.Context, username, password string) (Session, store.User, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, store.User{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
		}
		return Session{}, store.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return Session{}, store.User{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
	}

	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Name, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, store.User{}, err
	}
	record := session.Record{UserID: user.ID, Username: user.Username, Name: user.Name, CreatedAt: time.Now()}
	if err := s.sessions.Save(ctx, auth.HashToken(token), record, expiresAt); err != nil {
		return Session{}, store.User{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		Name:      user.Name,
		ExpiresAt: expiresAt,
	}, user, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	record, err := s.sessions.Lookup(ctx, auth.HashToken(token))
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    record.UserID,
		Username:  record.Username,
		Name:      record.Name,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, auth.HashToken(token))
}

func (s *Service) ListUsers(ctx context.Context) ([]store.User, error) {
	return s.store.ListUsers(ctx)
}

// ── projects ──

// ListProjects returns only the projects the user belongs to or created.
func (s *Service) ListProjects(ctx context.Context, userID string) ([]board.Project, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	visible := make([]board.Project, 0, len(projects))
	for _, p := range projects {
		if access.CanView(p, userID) {
			visible = append(visible, p)
		}
	}
	return visible, nil
}

func (s *Service) CreateProject(ctx context.Context, userID, name, description string) (board.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return board.Project{}, board.ErrEmptyName
	}
	now := time.Now().UTC()
	project := board.Project{
		ID:          util.NewID("prj"),
		Name:        name,
		Description: description,
		Status:      board.StatusAnalyzing,
		Members:     []string{userID},
		CreatedBy:   userID,
		Columns:     board.DefaultColumns(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return board.Project{}, err
	}
	metrics.RecordMutation("project.create")
	s.publish(ctx, events.TypeProjectUpdated, project.ID, project)
	return project, nil
}

func (s *Service) UpdateProject(ctx context.Context, userID, projectID string, patch board.ProjectPatch) (board.Project, error) {
	var updated board.Project
	err := s.retryStale(ctx, func(ctx context.Context) error {
		project, err := s.store.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if !access.CanMutate(project, userID) {
			return domainError(http.StatusForbidden, "FORBIDDEN", "Not a member of this project", nil)
		}
		if err := project.Apply(patch); err != nil {
			return err
		}
		updated, err = s.store.ReplaceProject(ctx, project)
		return err
	})
	if err != nil {
		return board.Project{}, err
	}
	metrics.RecordMutation("project.update")
	s.publish(ctx, events.TypeProjectUpdated, updated.ID, updated)
	return updated, nil
}

// DeleteProject removes the project and every one of its activities in
// the same logical operation; the store guarantees no orphans survive.
func (s *Service) DeleteProject(ctx context.Context, userID, projectID string) error {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if !access.CanDelete(project, userID) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the creator can delete the project", nil)
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	metrics.RecordMutation("project.delete")
	s.publish(ctx, events.TypeProjectDeleted, projectID, nil)
	return nil
}

// ReplaceColumns applies a caller-supplied column set to the project. The
// registry validates adds/renames/removals/reorder and renormalizes the
// order sequence; the store re-checks removed columns for activities at
// commit time, inside the version-guarded write.
func (s *Service) ReplaceColumns(ctx context.Context, userID, projectID string, desired []board.Column) (board.Project, error) {
	var updated board.Project
	err := s.retryStale(ctx, func(ctx context.Context) error {
		project, err := s.store.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if !access.CanMutate(project, userID) {
			return domainError(http.StatusForbidden, "FORBIDDEN", "Not a member of this project", nil)
		}

		before := project
		count := func(columnID string) (int, error) {
			return s.store.CountActivitiesInColumn(ctx, projectID, columnID)
		}
		want := append([]board.Column(nil), desired...)
		if err := board.ReplaceColumns(&project, want, count, func() string { return util.NewID("col") }); err != nil {
			return err
		}

		removed := board.RemovedColumnIDs(before, project.Columns)
		updated, err = s.store.ReplaceProjectColumns(ctx, project, removed)
		return err
	})
	if err != nil {
		return board.Project{}, err
	}
	metrics.RecordMutation("project.columns")
	s.publish(ctx, events.TypeProjectUpdated, updated.ID, updated)
	return updated, nil
}

// ── activities ──

func (s *Service) ListActivities(ctx context.Context, projectID string) ([]board.Activity, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListActivities(ctx, projectID)
}

// CreateActivity places a new activity in the requested column, or the
// project's first column when none is given. The order hint is the
// per-column count at creation time and is never re-packed afterwards.
func (s *Service) CreateActivity(ctx context.Context, projectID, title, description, columnID string) (board.Activity, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return board.Activity{}, board.ErrEmptyTitle
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return board.Activity{}, err
	}
	if columnID == "" {
		first, ok := project.FirstColumn()
		if !ok {
			return board.Activity{}, board.ErrUnknownColumn
		}
		columnID = first.ID
	} else if !project.HasColumn(columnID) {
		return board.Activity{}, board.ErrUnknownColumn
	}

	order, err := s.store.CountActivitiesInColumn(ctx, projectID, columnID)
	if err != nil {
		return board.Activity{}, err
	}
	activity := board.Activity{
		ID:          util.NewID("act"),
		ProjectID:   projectID,
		Title:       title,
		Description: description,
		ColumnID:    columnID,
		Order:       order,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertActivity(ctx, activity); err != nil {
		return board.Activity{}, err
	}
	metrics.RecordMutation("activity.create")
	s.publish(ctx, events.TypeActivityCreated, projectID, activity)
	return activity, nil
}

// UpdateActivity applies the enumerated patch commands. A column move is
// validated against the owning project's current column set, so a client
// holding a removed column id gets INVALID_STATE instead of an orphaned
// activity. On any failure stored state is untouched.
func (s *Service) UpdateActivity(ctx context.Context, activityID string, patch board.ActivityPatch) (board.Activity, error) {
	var updated board.Activity
	err := s.retryStale(ctx, func(ctx context.Context) error {
		activity, err := s.store.GetActivity(ctx, activityID)
		if err != nil {
			return err
		}
		if err := activity.Apply(patch); err != nil {
			return err
		}
		if patch.ColumnID != nil {
			project, err := s.store.GetProject(ctx, activity.ProjectID)
			if err != nil {
				return err
			}
			if err := board.Move(&activity, project, *patch.ColumnID); err != nil {
				return err
			}
		}
		updated, err = s.store.ReplaceActivity(ctx, activity)
		return err
	})
	if err != nil {
		return board.Activity{}, err
	}
	metrics.RecordMutation("activity.update")
	s.publish(ctx, events.TypeActivityUpdated, updated.ProjectID, updated)
	return updated, nil
}

func (s *Service) DeleteActivity(ctx context.Context, activityID string) error {
	activity, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteActivity(ctx, activityID); err != nil {
		return err
	}
	metrics.RecordMutation("activity.delete")
	s.publish(ctx, events.TypeActivityDeleted, activity.ProjectID, map[string]string{"activityId": activityID})
	return nil
}

// ToggleDevelopment flips the development claim for the user. The whole
// read-modify-write is version guarded: two simultaneous toggles on an
// unclaimed activity produce exactly one winner, and the loser's retry
// re-reads the claimed record and reports the conflict.
func (s *Service) ToggleDevelopment(ctx context.Context, activityID, userID string) (board.Activity, error) {
	var updated board.Activity
	err := s.retryStale(ctx, func(ctx context.Context) error {
		activity, err := s.store.GetActivity(ctx, activityID)
		if err != nil {
			return err
		}
		if err := board.ToggleClaim(&activity, userID); err != nil {
			return err
		}
		updated, err = s.store.ReplaceActivity(ctx, activity)
		return err
	})
	if err != nil {
		if errors.Is(err, board.ErrClaimHeld) {
			metrics.ClaimConflicts.Inc()
		}
		return board.Activity{}, err
	}
	metrics.RecordMutation("activity.claim")
	s.publish(ctx, events.TypeActivityClaim, updated.ProjectID, updated)
	return updated, nil
}

// retryStale re-runs the full read-modify-write cycle when the guarded
// write reports a lost race, up to maxWriteAttempts. The final stale
// error is surfaced to the caller as retryable.
func (s *Service) retryStale(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		err = op(ctx)
		if !errors.Is(err, store.ErrStaleWrite) {
			return err
		}
		metrics.StaleWrites.Inc()
	}
	return err
}

// publish notifies board subscribers after a committed mutation. The
// commit already happened, so failures are logged and swallowed.
func (s *Service) publish(ctx context.Context, eventType, projectID string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, eventType, projectID, payload); err != nil {
		s.logger.Warn("event publish failed",
			zap.String("type", eventType),
			zap.String("project_id", projectID),
			zap.Error(err),
		)
	}
}
