package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxContentLength is the longest task description, in characters.
const MaxContentLength = 300

// Task represents a single to-do item owned by exactly one user.
type Task struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
	OwnerID   int64     `json:"ownerId"`
}

func (t Task) Identity() int64 { return t.OwnerID }

// ValidateContent rejects blank content and content over MaxContentLength.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Field: "content", Reason: "Task content is required"}
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return &ValidationError{Field: "content", Reason: "Task content must be at most 300 characters"}
	}
	return nil
}
