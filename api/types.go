package api

import (
	"context"

	"taskboard/domain"
)

// Credentials is the account and session surface used by handlers.
type Credentials interface {
	Register(ctx context.Context, username, password string) (domain.User, error)
	Authenticate(ctx context.Context, username, password string) (domain.Session, error)
	EndSession(ctx context.Context, sessionID string) error
	ResolveSession(ctx context.Context, sessionID string) (domain.User, error)
}

// Tasks is the task surface used by handlers. Every mutation takes the
// requesting identity explicitly.
type Tasks interface {
	ListForUser(ctx context.Context, user domain.Identifiable) ([]domain.Task, error)
	Create(ctx context.Context, user domain.Identifiable, content string, completed bool) (domain.Task, error)
	GetOwned(ctx context.Context, id int64, user domain.Identifiable) (domain.Task, error)
	Update(ctx context.Context, id int64, content string, completed bool, user domain.Identifiable) (domain.Task, error)
	ToggleCompleted(ctx context.Context, id int64, user domain.Identifiable) (domain.Task, error)
	Delete(ctx context.Context, id int64, user domain.Identifiable) error
}

// Pinger is implemented by backends the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}
