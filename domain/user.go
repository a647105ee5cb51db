package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxUsernameLength bounds the login identity.
const MaxUsernameLength = 150

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// Identifiable is implemented by anything that carries an owning user id.
type Identifiable interface {
	Identity() int64
}

// SessionBindable is an identity a Session can be issued for.
type SessionBindable interface {
	Identifiable
	LoginName() string
}

// User is a registered account. PasswordHash is never rendered or serialized.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (u User) Identity() int64   { return u.ID }
func (u User) LoginName() string { return u.Username }

// Session is the server-held proof of an authenticated identity.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s Session) Identity() int64 { return s.UserID }

// Expired reports whether the session is no longer valid at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// NewSession binds a fresh session id to who, valid for ttl from now.
func NewSession(who SessionBindable, now time.Time, ttl time.Duration) Session {
	return Session{
		ID:        uuid.NewString(),
		UserID:    who.Identity(),
		Username:  who.LoginName(),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// ValidateCredentials checks registration input.
func ValidateCredentials(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return &ValidationError{Field: "username", Reason: "Username is required"}
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return &ValidationError{Field: "username", Reason: "Username is too long"}
	}
	if password == "" {
		return &ValidationError{Field: "password", Reason: "Password is required"}
	}
	if len(password) > MaxPasswordBytes {
		return &ValidationError{Field: "password", Reason: "Password is too long"}
	}
	return nil
}
