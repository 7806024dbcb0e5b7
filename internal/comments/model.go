package comments

import (
	"errors"
	"fmt"
	"time"
)

type Role string

const (
	RoleWriter Role = "writer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleWriter, RoleEditor, RoleAdmin:
		return true
	}
	return false
}

type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
	StatusDeleted  Status = "deleted"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusResolved, StatusDeleted:
		return true
	}
	return false
}

// transitions lists the status changes SetStatus accepts. Nothing leaves
// deleted.
var transitions = map[Status][]Status{
	StatusActive:   {StatusResolved, StatusDeleted},
	StatusResolved: {StatusActive, StatusDeleted},
}

func canTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Selection anchors a comment to a range of the article text.
type Selection struct {
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
	Text        string `json:"text"`
	XPath       string `json:"xpath,omitempty"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Comment struct {
	ID         string    `json:"id"`
	ArticleID  string    `json:"articleId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	AuthorRole Role      `json:"authorRole"`
	Content    string    `json:"content"`
	Selection  Selection `json:"selection"`
	Position   Position  `json:"position"`
	ParentID   *string   `json:"parentId"`
	Mentions   []string  `json:"mentions"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (c Comment) IsReply() bool {
	return c.ParentID != nil
}

type NewComment struct {
	ArticleID  string
	AuthorID   string
	AuthorName string
	AuthorRole Role
	Content    string
	Selection  Selection
	Position   Position
	// ParentID is empty for a root comment.
	ParentID string
}

var (
	ErrNotFound          = errors.New("comment not found")
	ErrInvalidParent     = errors.New("invalid parent comment")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrValidation        = errors.New("invalid comment")
)

// ValidationError reports malformed input. It matches ErrValidation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
