package domain

import (
	"context"
	"fmt"
	"time"
)

// TaskStorage defines methods required for persisting tasks.
// GetTask returns nil, nil when no task has the given id.
type TaskStorage interface {
	ListTasks(ctx context.Context, ownerID int64) ([]Task, error)
	InsertTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id int64) (*Task, error)
	UpdateTask(ctx context.Context, t Task) error
	DeleteTask(ctx context.Context, id int64) error
}

// TaskService implements task CRUD scoped to the requesting user.
type TaskService struct {
	st  TaskStorage
	now func() time.Time
}

func NewTaskService(st TaskStorage) *TaskService {
	return &TaskService{st: st, now: time.Now}
}

// RequireOwnership returns ErrDenied unless user owns the resource.
func RequireOwnership(resource, user Identifiable) error {
	if resource.Identity() != user.Identity() {
		return ErrDenied
	}
	return nil
}

// ListForUser returns the user's tasks in creation order.
func (s *TaskService) ListForUser(ctx context.Context, user Identifiable) ([]Task, error) {
	tasks, err := s.st.ListTasks(ctx, user.Identity())
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (s *TaskService) Create(ctx context.Context, user Identifiable, content string, completed bool) (Task, error) {
	if err := ValidateContent(content); err != nil {
		return Task{}, err
	}
	t := Task{
		Content:   content,
		Completed: completed,
		CreatedAt: s.now().UTC(),
		OwnerID:   user.Identity(),
	}
	if err := s.st.InsertTask(ctx, &t); err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// Get returns ErrNotFound when the id is unknown.
func (s *TaskService) Get(ctx context.Context, id int64) (Task, error) {
	t, err := s.st.GetTask(ctx, id)
	if err != nil {
		return Task{}, fmt.Errorf("get task %d: %w", id, err)
	}
	if t == nil {
		return Task{}, ErrNotFound
	}
	return *t, nil
}

// GetOwned resolves the task and applies the ownership gate.
func (s *TaskService) GetOwned(ctx context.Context, id int64, user Identifiable) (Task, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if err := RequireOwnership(t, user); err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *TaskService) Update(ctx context.Context, id int64, content string, completed bool, user Identifiable) (Task, error) {
	t, err := s.GetOwned(ctx, id, user)
	if err != nil {
		return Task{}, err
	}
	if err := ValidateContent(content); err != nil {
		return Task{}, err
	}
	t.Content = content
	t.Completed = completed
	if err := s.st.UpdateTask(ctx, t); err != nil {
		return Task{}, fmt.Errorf("update task %d: %w", id, err)
	}
	return t, nil
}

func (s *TaskService) ToggleCompleted(ctx context.Context, id int64, user Identifiable) (Task, error) {
	t, err := s.GetOwned(ctx, id, user)
	if err != nil {
		return Task{}, err
	}
	t.Completed = !t.Completed
	if err := s.st.UpdateTask(ctx, t); err != nil {
		return Task{}, fmt.Errorf("toggle task %d: %w", id, err)
	}
	return t, nil
}

// Delete removes the task permanently.
func (s *TaskService) Delete(ctx context.Context, id int64, user Identifiable) error {
	if _, err := s.GetOwned(ctx, id, user); err != nil {
		return err
	}
	if err := s.st.DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return nil
}
