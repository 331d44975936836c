package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	apperrors "pingme/internal/errors"
	"pingme/internal/models"

	"github.com/stretchr/testify/mock"
)

// memStore is an in-memory MessageStore and UserStore with the same
// contract as the SQLite store.
type memStore struct {
	mu        sync.Mutex
	messages  map[string]*models.Message
	users     map[string]*models.User
	createErr error
	writes    int
}

func newMemStore(userIDs ...string) *memStore {
	s := &memStore{
		messages: make(map[string]*models.Message),
		users:    make(map[string]*models.User),
	}
	for _, id := range userIDs {
		s.users[id] = &models.User{ID: id, Username: id, FirstName: id}
	}
	return s
}

func (s *memStore) CreateMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.messages[m.ID]; ok {
		return fmt.Errorf("duplicate id %s", m.ID)
	}
	s.messages[m.ID] = m.Clone()
	s.writes++
	return nil
}

func (s *memStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[id].Clone(), nil
}

func (s *memStore) UpdateMessage(ctx context.Context, id string, fn func(*models.Message) error) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before, ok := s.messages[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("Message", id)
	}
	after := before.Clone()
	if err := fn(after); err != nil {
		return nil, err
	}
	if !reflect.DeepEqual(before, after) {
		s.messages[id] = after.Clone()
		s.writes++
	}
	return after, nil
}

func (s *memStore) QueryConversation(ctx context.Context, viewer, other string, page, pageSize int) (*models.ConversationPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*models.Message
	for _, m := range s.messages {
		between := (m.SenderID == viewer && m.ReceiverID == other) || (m.SenderID == other && m.ReceiverID == viewer)
		if between && !m.DeletedForUser(viewer) {
			all = append(all, m.Clone())
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(all) {
		start = len(all)
	}
	if end > len(all) {
		end = len(all)
	}
	pageMsgs := all[start:end]
	for i, j := 0, len(pageMsgs)-1; i < j; i, j = i+1, j-1 {
		pageMsgs[i], pageMsgs[j] = pageMsgs[j], pageMsgs[i]
	}
	return &models.ConversationPage{
		Messages:   append([]*models.Message{}, pageMsgs...),
		Pagination: models.NewPagination(page, pageSize, len(all)),
	}, nil
}

func (s *memStore) CountUnreadFor(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.ReceiverID == userID && !m.ReadByUser(userID) && !m.DeletedForUser(userID) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (s *memStore) GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error) {
	out := make(map[string]*models.User)
	for _, id := range ids {
		u, _ := s.GetUser(ctx, id)
		if u != nil {
			out[id] = u
		}
	}
	return out, nil
}

func (s *memStore) UserExists(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[id]
	return ok, nil
}

func (s *memStore) ListUsers(ctx context.Context, excludeID string) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.User
	for id, u := range s.users {
		if id != excludeID {
			c := *u
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *memStore) SearchUsers(ctx context.Context, excludeID, query string, limit int) ([]*models.User, error) {
	all, _ := s.ListUsers(ctx, excludeID)
	var out []*models.User
	for _, u := range all {
		if len(out) < limit && (u.Username == query || u.FirstName == query || u.LastName == query) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *memStore) stored(id string) *models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[id].Clone()
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Store(ctx context.Context, upload *models.Upload) (*models.StoredFile, error) {
	args := m.Called(ctx, upload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StoredFile), args.Error(1)
}

type fakePresence struct {
	online map[string]bool
}

func (p *fakePresence) IsOnline(userID string) bool { return p.online[userID] }

func (p *fakePresence) OnlineUsers() []string {
	var ids []string
	for id, on := range p.online {
		if on {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// stepClock advances one second per call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// sequentialIDs returns msg-1, msg-2, ...
func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("msg-%d", n)
	}
}

var errDiskFull = errors.New("disk full")
