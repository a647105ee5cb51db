package domain

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeStore struct {
	mu       sync.Mutex
	users    map[int64]User
	tasks    map[int64]Task
	sessions map[string]Session
	nextUser int64
	nextTask int64
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[int64]User{},
		tasks:    map[int64]Task{},
		sessions: map[string]Session{},
	}
}

func (f *fakeStore) InsertUser(ctx context.Context, u *User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, existing := range f.users {
		if existing.Username == u.Username {
			return ErrDuplicateUsername
		}
	}
	f.nextUser++
	u.ID = f.nextUser
	f.users[u.ID] = *u
	return nil
}

func (f *fakeStore) UserByUsername(ctx context.Context, username string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UserByID(ctx context.Context, id int64) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *fakeStore) ListTasks(ctx context.Context, ownerID int64) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := []Task{}
	for id := int64(1); id <= f.nextTask; id++ {
		if t, ok := f.tasks[id]; ok && t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, t *Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if _, ok := f.users[t.OwnerID]; !ok {
		return errors.New("foreign key violation")
	}
	f.nextTask++
	t.ID = f.nextTask
	f.tasks[t.ID] = *t
	return nil
}

func (f *fakeStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, t Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
	return nil
}

func (f *fakeStore) SaveSession(ctx context.Context, s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeStore) LoadSession(ctx context.Context, id string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeStore) DeleteSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}
