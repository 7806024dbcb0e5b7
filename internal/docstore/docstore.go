// Package docstore is the document database the comment and reaction
// repositories are written against. Documents are schemaless field maps kept
// in named collections and addressed by (collection, id). Every backend
// supports filtered and ordered queries plus live query subscriptions.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get and Update for a missing document.
	ErrNotFound = errors.New("document not found")
	// ErrUnavailable wraps every backend failure (network, driver, timeout).
	ErrUnavailable = errors.New("document store unavailable")
	// ErrInvalidQuery is returned for unknown operators or unsafe field paths.
	ErrInvalidQuery = errors.New("invalid document query")
)

type Fields map[string]any

type Document struct {
	ID     string
	Fields Fields
}

// DataTo decodes the document fields into target using its json tags.
func (d Document) DataTo(target any) error {
	raw, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode document %s: %w", d.ID, err)
	}
	return nil
}

type Op string

const (
	OpEqual        Op = "=="
	OpNotEqual     Op = "!="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

func (o Op) valid() bool {
	switch o {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	}
	return false
}

// Filter compares the value at a dotted field path. Documents without the
// field never match.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

type Direction int

const (
	Asc Direction = iota
	Desc
)

type Order struct {
	Field     string
	Direction Direction
}

type Query struct {
	Filters []Filter
	OrderBy []Order
	Limit   int
}

func (q Query) validate() error {
	for _, f := range q.Filters {
		if !f.Op.valid() {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, f.Op)
		}
		if !validPath(f.Field) {
			return fmt.Errorf("%w: field %q", ErrInvalidQuery, f.Field)
		}
	}
	for _, o := range q.OrderBy {
		if !validPath(o.Field) {
			return fmt.Errorf("%w: order field %q", ErrInvalidQuery, o.Field)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return nil
}

type serverTimestamp struct{}

// ServerTimestamp is a field value placeholder. The store replaces it with
// its own clock when the write is applied.
var ServerTimestamp any = serverTimestamp{}

type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	// Insert stores a new document under a generated id and returns the id.
	Insert(ctx context.Context, collection string, fields Fields) (string, error)
	// Update merges the given top-level fields into an existing document.
	Update(ctx context.Context, collection, id string, fields Fields) error
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	// Subscribe delivers the query result now and again after every change
	// that alters it.
	Subscribe(ctx context.Context, collection string, q Query) (*Subscription[[]Document], error)
	Ping(ctx context.Context) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
