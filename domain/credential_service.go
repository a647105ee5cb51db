package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// UserStorage defines methods required for persisting users.
// InsertUser returns ErrDuplicateUsername on a username collision; the lookups
// return nil, nil when no user matches.
type UserStorage interface {
	InsertUser(ctx context.Context, u *User) error
	UserByUsername(ctx context.Context, username string) (*User, error)
	UserByID(ctx context.Context, id int64) (*User, error)
}

// SessionStorage is the process-wide session lookup table.
// LoadSession returns nil, nil for unknown or expired ids; DeleteSession is idempotent.
type SessionStorage interface {
	SaveSession(ctx context.Context, s Session) error
	LoadSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// CredentialService registers users and manages their sessions.
type CredentialService struct {
	users    UserStorage
	sessions SessionStorage
	cost     int
	ttl      time.Duration
	now      func() time.Time

	// dummyHash is compared against when the username is unknown so both
	// failure paths cost one bcrypt comparison.
	dummyHash []byte
}

func NewCredentialService(users UserStorage, sessions SessionStorage, cost int, ttl time.Duration) *CredentialService {
	s := &CredentialService{users: users, sessions: sessions, cost: cost, ttl: ttl, now: time.Now}
	if h, err := bcrypt.GenerateFromPassword([]byte("taskboard-dummy-password"), cost); err == nil {
		s.dummyHash = h
	}
	return s
}

// Register hashes the password and persists a new user.
func (s *CredentialService) Register(ctx context.Context, username, password string) (User, error) {
	if err := ValidateCredentials(username, password); err != nil {
		return User{}, err
	}
	existing, err := s.users.UserByUsername(ctx, username)
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	if existing != nil {
		return User{}, ErrDuplicateUsername
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{Username: username, PasswordHash: string(hash), CreatedAt: s.now().UTC()}
	if err := s.users.InsertUser(ctx, &u); err != nil {
		if errors.Is(err, ErrDuplicateUsername) {
			return User{}, ErrDuplicateUsername
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	log.WithField("user_id", u.ID).Info("user registered")
	return u, nil
}

// Authenticate verifies the credentials and establishes a session.
func (s *CredentialService) Authenticate(ctx context.Context, username, password string) (Session, error) {
	u, err := s.users.UserByUsername(ctx, username)
	if err != nil {
		return Session{}, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		if s.dummyHash != nil {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		}
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	sess := NewSession(*u, s.now().UTC(), s.ttl)
	if err := s.sessions.SaveSession(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	return sess, nil
}

// EndSession invalidates the session. Ending an unknown session is not an error.
func (s *CredentialService) EndSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ResolveSession returns the user bound to a live session.
func (s *CredentialService) ResolveSession(ctx context.Context, sessionID string) (User, error) {
	if sessionID == "" {
		return User{}, ErrUnauthenticated
	}
	sess, err := s.sessions.LoadSession(ctx, sessionID)
	if err != nil {
		return User{}, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.Expired(s.now()) {
		return User{}, ErrUnauthenticated
	}
	u, err := s.users.UserByID(ctx, sess.UserID)
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		return User{}, ErrUnauthenticated
	}
	return *u, nil
}
