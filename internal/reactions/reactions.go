package reactions

import (
	"errors"
	"fmt"
	"time"
)

type Type string

const (
	TypeLike       Type = "like"
	TypeLove       Type = "love"
	TypeInsightful Type = "insightful"
	TypeDisagree   Type = "disagree"
)

func (t Type) Valid() bool {
	switch t {
	case TypeLike, TypeLove, TypeInsightful, TypeDisagree:
		return true
	}
	return false
}

type Reaction struct {
	ID        string    `json:"id"`
	OpinionID string    `json:"opinionId"`
	UserID    string    `json:"userId"`
	Type      Type      `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

type Counts struct {
	Like       int `json:"like"`
	Love       int `json:"love"`
	Insightful int `json:"insightful"`
	Disagree   int `json:"disagree"`
	Total      int `json:"total"`
}

func (c Counts) Map() map[string]int {
	return map[string]int{
		string(TypeLike):       c.Like,
		string(TypeLove):       c.Love,
		string(TypeInsightful): c.Insightful,
		string(TypeDisagree):   c.Disagree,
		"total":                c.Total,
	}
}

// CountReactions tallies reactions by type. Total counts every reaction,
// including any of an unknown type.
func CountReactions(items []Reaction) Counts {
	var c Counts
	for _, r := range items {
		switch r.Type {
		case TypeLike:
			c.Like++
		case TypeLove:
			c.Love++
		case TypeInsightful:
			c.Insightful++
		case TypeDisagree:
			c.Disagree++
		}
		c.Total++
	}
	return c
}

// Snapshot is one delivery of a reaction subscription.
type Snapshot struct {
	Reactions []Reaction `json:"reactions"`
	Counts    Counts     `json:"counts"`
}

var (
	ErrNotFound    = errors.New("reaction not found")
	ErrInvalidType = errors.New("invalid reaction type")
	ErrValidation  = errors.New("invalid reaction")
)

func invalidType(t Type) error {
	return fmt.Errorf("%w: %w: %q", ErrValidation, ErrInvalidType, t)
}
