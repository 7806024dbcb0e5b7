// Package reactions stores per-user reactions to opinion pieces. Each user
// holds at most one reaction per opinion; reacting again with the same type
// removes it and a different type replaces it.
package reactions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"morningpulse/api/internal/docstore"
	"morningpulse/api/internal/identity"
)

const collection = "reactions"

type Repository struct {
	store    docstore.Store
	identity identity.Provider
	log      zerolog.Logger
}

func NewRepository(store docstore.Store, provider identity.Provider, logger zerolog.Logger) *Repository {
	return &Repository{
		store:    store,
		identity: provider,
		log:      logger.With().Str("component", "reactions").Logger(),
	}
}

// AddReaction toggles the caller's reaction of type t on opinionID. It returns
// the id of the reaction now held, or "" when the call removed it.
//
// The existing reactions are read, deleted and only then is the new one
// inserted. Two concurrent calls by the same user can still interleave and
// leave a duplicate; the next toggle clears all of them.
func (r *Repository) AddReaction(ctx context.Context, opinionID string, t Type) (string, error) {
	if strings.TrimSpace(opinionID) == "" {
		return "", fmt.Errorf("%w: opinionId is required", ErrValidation)
	}
	if !t.Valid() {
		return "", invalidType(t)
	}
	who, err := r.identity.Current(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve reactor: %w", err)
	}

	existing, err := r.userReactions(ctx, opinionID, who.UserID)
	if err != nil {
		return "", err
	}
	for _, old := range existing {
		if err := r.store.Delete(ctx, collection, old.ID); err != nil {
			return "", fmt.Errorf("delete reaction: %w", err)
		}
	}
	if len(existing) > 0 && existing[0].Type == t {
		r.log.Debug().Str("opinionId", opinionID).Str("userId", who.UserID).Str("type", string(t)).Msg("reaction removed")
		return "", nil
	}

	id, err := r.store.Insert(ctx, collection, docstore.Fields{
		"opinionId": opinionID,
		"userId":    who.UserID,
		"type":      string(t),
		"createdAt": docstore.ServerTimestamp,
	})
	if err != nil {
		return "", fmt.Errorf("insert reaction: %w", err)
	}

	r.log.Debug().Str("opinionId", opinionID).Str("userId", who.UserID).Str("type", string(t)).Int("replaced", len(existing)).Msg("reaction set")
	return id, nil
}

func (r *Repository) RemoveReaction(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, collection, id); err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}

func (r *Repository) GetReaction(ctx context.Context, id string) (Reaction, error) {
	doc, err := r.store.Get(ctx, collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return Reaction{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Reaction{}, fmt.Errorf("get reaction: %w", err)
	}
	return decode(doc)
}

func (r *Repository) GetOpinionReactions(ctx context.Context, opinionID string) ([]Reaction, error) {
	docs, err := r.store.Query(ctx, collection, opinionQuery(opinionID))
	if err != nil {
		return nil, fmt.Errorf("list opinion reactions: %w", err)
	}
	return decodeAll(docs)
}

func (r *Repository) GetOpinionReactionCounts(ctx context.Context, opinionID string) (Counts, error) {
	items, err := r.GetOpinionReactions(ctx, opinionID)
	if err != nil {
		return Counts{}, err
	}
	return CountReactions(items), nil
}

// GetUserReaction returns the caller's reaction on opinionID, or nil.
func (r *Repository) GetUserReaction(ctx context.Context, opinionID string) (*Reaction, error) {
	who, err := r.identity.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve reactor: %w", err)
	}
	existing, err := r.userReactions(ctx, opinionID, who.UserID)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, nil
	}
	return &existing[0], nil
}

func (r *Repository) SubscribeToOpinionReactions(ctx context.Context, opinionID string) (*docstore.Subscription[Snapshot], error) {
	sub, err := r.store.Subscribe(ctx, collection, opinionQuery(opinionID))
	if err != nil {
		return nil, fmt.Errorf("subscribe opinion reactions: %w", err)
	}
	return docstore.Map(sub, func(docs []docstore.Document) (Snapshot, error) {
		items, err := decodeAll(docs)
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Reactions: items, Counts: CountReactions(items)}, nil
	}), nil
}

// userReactions lists a user's reactions on an opinion, oldest first.
func (r *Repository) userReactions(ctx context.Context, opinionID, userID string) ([]Reaction, error) {
	docs, err := r.store.Query(ctx, collection, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("opinionId", docstore.OpEqual, opinionID),
			docstore.Where("userId", docstore.OpEqual, userID),
		},
		OrderBy: []docstore.Order{{Field: "createdAt", Direction: docstore.Asc}},
	})
	if err != nil {
		return nil, fmt.Errorf("find user reaction: %w", err)
	}
	return decodeAll(docs)
}

func opinionQuery(opinionID string) docstore.Query {
	return docstore.Query{
		Filters: []docstore.Filter{docstore.Where("opinionId", docstore.OpEqual, opinionID)},
	}
}

func decode(doc docstore.Document) (Reaction, error) {
	var item Reaction
	if err := doc.DataTo(&item); err != nil {
		return Reaction{}, err
	}
	item.ID = doc.ID
	return item, nil
}

func decodeAll(docs []docstore.Document) ([]Reaction, error) {
	items := make([]Reaction, 0, len(docs))
	for _, doc := range docs {
		item, err := decode(doc)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
