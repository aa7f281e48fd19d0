package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"taskboard/api/internal/board"
)

// MemoryStore is the in-memory DataStore used by tests and as the
// zero-dependency dev backend (store backend "memory"). A single mutex
// serializes writes, and the same version-stamp contract as the Postgres
// store applies, so coordinator behavior is identical across backends.
type MemoryStore struct {
	mu         sync.RWMutex
	users      map[string]User
	projects   map[string]board.Project
	activities map[string]board.Activity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:      make(map[string]User),
		projects:   make(map[string]board.Project),
		activities: make(map[string]board.Activity),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) CreateUser(ctx context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	return nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.Username == username {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *MemoryStore) CountUsers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func (s *MemoryStore) ListProjects(ctx context.Context) ([]board.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	projects := make([]board.Project, 0, len(s.projects))
	for _, p := range s.projects {
		projects = append(projects, cloneProject(p))
	}
	sort.Slice(projects, func(i, j int) bool {
		if !projects[i].CreatedAt.Equal(projects[j].CreatedAt) {
			return projects[i].CreatedAt.Before(projects[j].CreatedAt)
		}
		return projects[i].ID < projects[j].ID
	})
	return projects, nil
}

func (s *MemoryStore) GetProject(ctx context.Context, id string) (board.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return board.Project{}, ErrNotFound
	}
	return cloneProject(p), nil
}

func (s *MemoryStore) InsertProject(ctx context.Context, p board.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = cloneProject(p)
	return nil
}

func (s *MemoryStore) ReplaceProject(ctx context.Context, p board.Project) (board.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceProjectLocked(p)
}

// ReplaceProjectColumns commits a column-set change, re-checking under the
// write lock that none of the removed columns gained activities since the
// caller validated. This closes the validate/commit race window.
func (s *MemoryStore) ReplaceProjectColumns(ctx context.Context, p board.Project, removedColumnIDs []string) (board.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, columnID := range removedColumnIDs {
		if s.countActivitiesLocked(p.ID, columnID) > 0 {
			return board.Project{}, board.ErrColumnNotEmpty
		}
	}
	return s.replaceProjectLocked(p)
}

func (s *MemoryStore) replaceProjectLocked(p board.Project) (board.Project, error) {
	current, ok := s.projects[p.ID]
	if !ok {
		return board.Project{}, ErrNotFound
	}
	if current.Version != p.Version {
		return board.Project{}, ErrStaleWrite
	}
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	s.projects[p.ID] = cloneProject(p)
	return cloneProject(p), nil
}

// DeleteProject removes the project together with every activity that
// references it, in one critical section so no orphan can survive.
func (s *MemoryStore) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return ErrNotFound
	}
	delete(s.projects, id)
	for activityID, a := range s.activities {
		if a.ProjectID == id {
			delete(s.activities, activityID)
		}
	}
	return nil
}

func (s *MemoryStore) ListActivities(ctx context.Context, projectID string) ([]board.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	activities := make([]board.Activity, 0)
	for _, a := range s.activities {
		if a.ProjectID == projectID {
			activities = append(activities, a)
		}
	}
	sort.Slice(activities, func(i, j int) bool {
		if activities[i].Order != activities[j].Order {
			return activities[i].Order < activities[j].Order
		}
		return activities[i].ID < activities[j].ID
	})
	return activities, nil
}

func (s *MemoryStore) GetActivity(ctx context.Context, id string) (board.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[id]
	if !ok {
		return board.Activity{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) InsertActivity(ctx context.Context, a board.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkColumnLocked(a.ProjectID, a.ColumnID); err != nil {
		return err
	}
	s.activities[a.ID] = a
	return nil
}

func (s *MemoryStore) ReplaceActivity(ctx context.Context, a board.Activity) (board.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.activities[a.ID]
	if !ok {
		return board.Activity{}, ErrNotFound
	}
	if current.Version != a.Version {
		return board.Activity{}, ErrStaleWrite
	}
	if err := s.checkColumnLocked(a.ProjectID, a.ColumnID); err != nil {
		return board.Activity{}, err
	}
	a.Version++
	s.activities[a.ID] = a
	return a, nil
}

// checkColumnLocked re-verifies inside the critical section that the
// activity's column still exists in the owning project. Caller-side
// validation ran against a snapshot; a column replace may have committed
// in between, and an activity write must not land in a removed column.
func (s *MemoryStore) checkColumnLocked(projectID, columnID string) error {
	p, ok := s.projects[projectID]
	if !ok {
		return ErrNotFound
	}
	if !p.HasColumn(columnID) {
		return board.ErrUnknownColumn
	}
	return nil
}

func (s *MemoryStore) DeleteActivity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.activities[id]; !ok {
		return ErrNotFound
	}
	delete(s.activities, id)
	return nil
}

func (s *MemoryStore) CountActivitiesInColumn(ctx context.Context, projectID, columnID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countActivitiesLocked(projectID, columnID), nil
}

func (s *MemoryStore) countActivitiesLocked(projectID, columnID string) int {
	n := 0
	for _, a := range s.activities {
		if a.ProjectID == projectID && a.ColumnID == columnID {
			n++
		}
	}
	return n
}

func cloneProject(p board.Project) board.Project {
	out := p
	out.Members = append([]string(nil), p.Members...)
	out.Columns = append([]board.Column(nil), p.Columns...)
	return out
}
