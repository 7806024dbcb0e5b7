package app

import (
	"context"
	"fmt"
	"strings"

	"morningpulse/api/internal/docstore"
)

const usersCollection = "users"

// Recipient is a staff member that can be notified about a mention.
type Recipient struct {
	UserID string `json:"userId"`
	Handle string `json:"handle"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// Directory resolves mention handles to recipients.
type Directory interface {
	LookupHandle(ctx context.Context, handle string) (Recipient, bool, error)
}

// StoreDirectory reads recipients from the users collection of the document store.
type StoreDirectory struct {
	store docstore.Store
}

func NewStoreDirectory(store docstore.Store) *StoreDirectory {
	return &StoreDirectory{store: store}
}

func (d *StoreDirectory) LookupHandle(ctx context.Context, handle string) (Recipient, bool, error) {
	docs, err := d.store.Query(ctx, usersCollection, docstore.Query{
		Filters: []docstore.Filter{docstore.Where("handle", docstore.OpEqual, strings.ToLower(handle))},
		Limit:   1,
	})
	if err != nil {
		return Recipient{}, false, fmt.Errorf("lookup handle: %w", err)
	}
	if len(docs) == 0 {
		return Recipient{}, false, nil
	}
	var recipient Recipient
	if err := docs[0].DataTo(&recipient); err != nil {
		return Recipient{}, false, fmt.Errorf("decode user: %w", err)
	}
	if recipient.Name == "" {
		recipient.Name = recipient.Handle
	}
	return recipient, true, nil
}
