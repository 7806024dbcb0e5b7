// Package comments stores article comments and their replies in the
// document store and assembles them into threads.
package comments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"morningpulse/api/internal/docstore"
	"morningpulse/api/internal/mention"
)

const collection = "comments"

type Repository struct {
	store docstore.Store
	log   zerolog.Logger
}

func NewRepository(store docstore.Store, logger zerolog.Logger) *Repository {
	return &Repository{
		store: store,
		log:   logger.With().Str("component", "comments").Logger(),
	}
}

// AddComment stores a new active comment and returns its id. A reply takes
// its selection from the root it answers.
func (r *Repository) AddComment(ctx context.Context, input NewComment) (string, error) {
	if err := validateNew(input); err != nil {
		return "", err
	}

	selection := input.Selection
	var parentID any
	if input.ParentID != "" {
		parent, err := r.GetComment(ctx, input.ParentID)
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%w: %s does not exist", ErrInvalidParent, input.ParentID)
		}
		if err != nil {
			return "", err
		}
		switch {
		case parent.ArticleID != input.ArticleID:
			return "", fmt.Errorf("%w: %s belongs to another article", ErrInvalidParent, parent.ID)
		case parent.IsReply():
			return "", fmt.Errorf("%w: %s is a reply", ErrInvalidParent, parent.ID)
		case parent.Status == StatusDeleted:
			return "", fmt.Errorf("%w: %s is deleted", ErrInvalidParent, parent.ID)
		}
		selection = parent.Selection
		parentID = parent.ID
	}

	id, err := r.store.Insert(ctx, collection, docstore.Fields{
		"articleId":  input.ArticleID,
		"authorId":   input.AuthorID,
		"authorName": input.AuthorName,
		"authorRole": string(input.AuthorRole),
		"content":    input.Content,
		"selection":  selectionFields(selection),
		"position":   positionFields(input.Position),
		"parentId":   parentID,
		"mentions":   mention.Extract(input.Content),
		"status":     string(StatusActive),
		"createdAt":  docstore.ServerTimestamp,
		"updatedAt":  docstore.ServerTimestamp,
	})
	if err != nil {
		return "", fmt.Errorf("add comment: %w", err)
	}

	r.log.Debug().Str("commentId", id).Str("articleId", input.ArticleID).Bool("reply", input.ParentID != "").Msg("comment added")
	return id, nil
}

// UpdateComment replaces the content and, when position is non-nil, the
// position. Mentions are recomputed from the new content.
func (r *Repository) UpdateComment(ctx context.Context, id, content string, position *Position) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Field: "content", Message: "must not be empty"}
	}

	current, err := r.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == StatusDeleted {
		return fmt.Errorf("%w: comment %s is deleted", ErrInvalidTransition, id)
	}

	fields := docstore.Fields{
		"content":   content,
		"mentions":  mention.Extract(content),
		"updatedAt": docstore.ServerTimestamp,
	}
	if position != nil {
		fields["position"] = positionFields(*position)
	}
	if err := r.update(ctx, id, fields); err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return nil
}

// SetStatus moves a comment to status. Setting the current status again is a
// no-op; a deleted comment cannot change status.
func (r *Repository) SetStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}

	current, err := r.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == status {
		return nil
	}
	if !canTransition(current.Status, status) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, status)
	}

	if err := r.update(ctx, id, docstore.Fields{
		"status":    string(status),
		"updatedAt": docstore.ServerTimestamp,
	}); err != nil {
		return fmt.Errorf("set comment status: %w", err)
	}

	r.log.Debug().Str("commentId", id).Str("from", string(current.Status)).Str("to", string(status)).Msg("comment status changed")
	return nil
}

func (r *Repository) ResolveComment(ctx context.Context, id string) error {
	return r.SetStatus(ctx, id, StatusResolved)
}

func (r *Repository) ReopenComment(ctx context.Context, id string) error {
	return r.SetStatus(ctx, id, StatusActive)
}

// DeleteComment tombstones the comment. The record stays readable by id.
func (r *Repository) DeleteComment(ctx context.Context, id string) error {
	return r.SetStatus(ctx, id, StatusDeleted)
}

// GetComment looks a comment up by id, including deleted ones.
func (r *Repository) GetComment(ctx context.Context, id string) (Comment, error) {
	doc, err := r.store.Get(ctx, collection, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return Comment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Comment{}, fmt.Errorf("get comment: %w", err)
	}
	return decode(doc)
}

func (r *Repository) GetArticleComments(ctx context.Context, articleID string) ([]Comment, error) {
	docs, err := r.store.Query(ctx, collection, articleQuery(articleID))
	if err != nil {
		return nil, fmt.Errorf("list article comments: %w", err)
	}
	return decodeAll(docs)
}

// SubscribeToArticleComments delivers what GetArticleComments would return,
// first immediately and then after every change to it.
func (r *Repository) SubscribeToArticleComments(ctx context.Context, articleID string) (*docstore.Subscription[[]Comment], error) {
	sub, err := r.store.Subscribe(ctx, collection, articleQuery(articleID))
	if err != nil {
		return nil, fmt.Errorf("subscribe article comments: %w", err)
	}
	return docstore.Map(sub, decodeAll), nil
}

// SearchComments matches term case-insensitively against content, author
// name and selected text of the article's visible comments.
func (r *Repository) SearchComments(ctx context.Context, articleID, term string) ([]Comment, error) {
	all, err := r.GetArticleComments(ctx, articleID)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(term)
	found := make([]Comment, 0)
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Content), needle) ||
			strings.Contains(strings.ToLower(c.AuthorName), needle) ||
			strings.Contains(strings.ToLower(c.Selection.Text), needle) {
			found = append(found, c)
		}
	}
	return found, nil
}

// GetAllUserComments lists the user's visible comments across articles,
// newest first.
func (r *Repository) GetAllUserComments(ctx context.Context, userID string) ([]Comment, error) {
	docs, err := r.store.Query(ctx, collection, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("authorId", docstore.OpEqual, userID),
			docstore.Where("status", docstore.OpNotEqual, string(StatusDeleted)),
		},
		OrderBy: []docstore.Order{{Field: "createdAt", Direction: docstore.Desc}},
	})
	if err != nil {
		return nil, fmt.Errorf("list user comments: %w", err)
	}
	return decodeAll(docs)
}

// GetUnreadCommentCount approximates unread comments as the active comments
// of articleID, or of the user's own comments when articleID is empty. There
// is no per-user read cursor.
func (r *Repository) GetUnreadCommentCount(ctx context.Context, userID, articleID string) (int, error) {
	filters := []docstore.Filter{docstore.Where("status", docstore.OpEqual, string(StatusActive))}
	if articleID != "" {
		filters = append(filters, docstore.Where("articleId", docstore.OpEqual, articleID))
	} else {
		filters = append(filters, docstore.Where("authorId", docstore.OpEqual, userID))
	}

	docs, err := r.store.Query(ctx, collection, docstore.Query{Filters: filters})
	if err != nil {
		return 0, fmt.Errorf("count unread comments: %w", err)
	}
	return len(docs), nil
}

func (r *Repository) update(ctx context.Context, id string, fields docstore.Fields) error {
	err := r.store.Update(ctx, collection, id, fields)
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

func articleQuery(articleID string) docstore.Query {
	return docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("articleId", docstore.OpEqual, articleID),
			docstore.Where("status", docstore.OpNotEqual, string(StatusDeleted)),
		},
		OrderBy: []docstore.Order{{Field: "createdAt", Direction: docstore.Asc}},
	}
}

func validateNew(input NewComment) error {
	switch {
	case strings.TrimSpace(input.ArticleID) == "":
		return &ValidationError{Field: "articleId", Message: "is required"}
	case strings.TrimSpace(input.AuthorID) == "":
		return &ValidationError{Field: "authorId", Message: "is required"}
	case !input.AuthorRole.Valid():
		return &ValidationError{Field: "authorRole", Message: fmt.Sprintf("unknown role %q", input.AuthorRole)}
	case strings.TrimSpace(input.Content) == "":
		return &ValidationError{Field: "content", Message: "must not be empty"}
	}
	if input.ParentID == "" {
		sel := input.Selection
		if sel.StartOffset < 0 || sel.EndOffset < sel.StartOffset {
			return &ValidationError{Field: "selection", Message: "offsets must satisfy 0 <= start <= end"}
		}
	}
	return nil
}

func selectionFields(s Selection) map[string]any {
	fields := map[string]any{
		"startOffset": s.StartOffset,
		"endOffset":   s.EndOffset,
		"text":        s.Text,
	}
	if s.XPath != "" {
		fields["xpath"] = s.XPath
	}
	return fields
}

func positionFields(p Position) map[string]any {
	return map[string]any{"x": p.X, "y": p.Y}
}

func decode(doc docstore.Document) (Comment, error) {
	var c Comment
	if err := doc.DataTo(&c); err != nil {
		return Comment{}, err
	}
	c.ID = doc.ID
	if c.Mentions == nil {
		c.Mentions = []string{}
	}
	return c, nil
}

func decodeAll(docs []docstore.Document) ([]Comment, error) {
	items := make([]Comment, 0, len(docs))
	for _, doc := range docs {
		c, err := decode(doc)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, nil
}
