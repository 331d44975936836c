package service

import (
	"context"
	"sort"
	"strings"

	"pingme/internal/models"
	"pingme/internal/validation"
)

const searchLimit = 10

// PresenceSource reports which users hold a live connection right now.
type PresenceSource interface {
	IsOnline(userID string) bool
	OnlineUsers() []string
}

// UserService lists and searches users. Live presence from the router
// overrides the stored online flag, which is only updated best effort.
type UserService struct {
	users    UserStore
	presence PresenceSource
}

func NewUserService(users UserStore, presence PresenceSource) *UserService {
	return &UserService{users: users, presence: presence}
}

// All returns every user except viewerID, online first, then by last and
// first name.
func (s *UserService) All(ctx context.Context, viewerID string) ([]*models.User, error) {
	users, err := s.users.ListUsers(ctx, viewerID)
	if err != nil {
		return nil, storeError("list users", err)
	}
	return s.withPresence(users), nil
}

// Search matches query against usernames and names, case-insensitively.
func (s *UserService) Search(ctx context.Context, viewerID, query string) ([]*models.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*models.User{}, nil
	}
	users, err := s.users.SearchUsers(ctx, viewerID, query, searchLimit)
	if err != nil {
		return nil, storeError("search users", err)
	}
	return s.withPresence(users), nil
}

// Online returns the users other than viewerID that are connected now.
func (s *UserService) Online(ctx context.Context, viewerID string) ([]*models.User, error) {
	ids := make([]string, 0)
	for _, id := range s.presence.OnlineUsers() {
		if id != viewerID {
			ids = append(ids, id)
		}
	}
	byID, err := s.users.GetUsers(ctx, ids)
	if err != nil {
		return nil, storeError("load users", err)
	}
	users := make([]*models.User, 0, len(byID))
	for _, u := range byID {
		users = append(users, u)
	}
	return s.withPresence(users), nil
}

// Get returns a user, or NotFound.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	if err := validation.ValidateUserID(id); err != nil {
		return nil, err
	}
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, storeError("get user", err)
	}
	if u == nil {
		return nil, notFoundUser(id)
	}
	u.IsOnline = s.presence.IsOnline(id)
	return u, nil
}

func (s *UserService) withPresence(users []*models.User) []*models.User {
	for _, u := range users {
		u.IsOnline = s.presence.IsOnline(u.ID)
	}
	sort.SliceStable(users, func(i, j int) bool {
		a, b := users[i], users[j]
		if a.IsOnline != b.IsOnline {
			return a.IsOnline
		}
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		return a.FirstName < b.FirstName
	})
	return users
}
