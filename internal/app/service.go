package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"morningpulse/api/internal/comments"
	"morningpulse/api/internal/config"
	"morningpulse/api/internal/docstore"
	"morningpulse/api/internal/email"
	"morningpulse/api/internal/identity"
	"morningpulse/api/internal/mention"
	"morningpulse/api/internal/rbac"
	"morningpulse/api/internal/reactions"
	"morningpulse/api/internal/search"
)

type AddCommentInput struct {
	Content   string             `json:"content"`
	Selection comments.Selection `json:"selection"`
	Position  comments.Position  `json:"position"`
	ParentID  string             `json:"parentId"`
}

type UpdateCommentInput struct {
	Content  string             `json:"content"`
	Position *comments.Position `json:"position"`
}

type ReactInput struct {
	Type reactions.Type `json:"type"`
}

// SessionStore resolves anonymous reader tokens.
type SessionStore interface {
	IssueAnonymous(ctx context.Context) (string, identity.Identity, error)
	Lookup(ctx context.Context, token string) (identity.Identity, error)
	Ping(ctx context.Context) error
}

// Mailer delivers mention notifications.
type Mailer interface {
	IsConfigured() bool
	SendMentionEmail(to string, data email.MentionData) error
}

// Dependencies are the optional collaborators of the service. Nil fields
// disable the matching feature.
type Dependencies struct {
	Sessions  SessionStore
	Meili     *search.Meili
	Mailer    Mailer
	Directory Directory
}

type Service struct {
	cfg       config.Config
	store     docstore.Store
	comments  *comments.Repository
	reactions *reactions.Repository
	search    *search.Service
	sessions  SessionStore
	notify    *notifier
	secret    []byte
	log       zerolog.Logger
}

func New(cfg config.Config, store docstore.Store, deps Dependencies, logger zerolog.Logger) *Service {
	commentRepo := comments.NewRepository(store, logger)
	directory := deps.Directory
	if directory == nil {
		directory = NewStoreDirectory(store)
	}

	return &Service{
		cfg:       cfg,
		store:     store,
		comments:  commentRepo,
		reactions: reactions.NewRepository(store, identity.ContextProvider{}, logger),
		search:    search.NewService(deps.Meili, commentRepo, logger),
		sessions:  deps.Sessions,
		notify:    newNotifier(directory, deps.Mailer, cfg.AppBaseURL, logger),
		secret:    []byte(cfg.JWTSecret),
		log:       logger.With().Str("component", "app").Logger(),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingSessions reports whether the anonymous session backend answers. It
// returns false when no backend is configured.
func (s *Service) PingSessions(ctx context.Context) (bool, error) {
	if s.sessions == nil {
		return false, nil
	}
	return true, s.sessions.Ping(ctx)
}

// Wait blocks until background notifications finish.
func (s *Service) Wait() {
	s.notify.Wait()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ResolveIdentity turns request credentials into a caller identity. Staff
// present a bearer token; anonymous readers present a session token.
func (s *Service) ResolveIdentity(ctx context.Context, bearer, anonymous string) (identity.Identity, error) {
	if bearer != "" {
		return identity.ParseToken(s.secret, bearer)
	}
	if anonymous != "" {
		if s.sessions == nil {
			return identity.Identity{}, identity.ErrNoIdentity
		}
		return s.sessions.Lookup(ctx, anonymous)
	}
	return identity.Identity{}, identity.ErrNoIdentity
}

func (s *Service) IssueAnonymousSession(ctx context.Context) (map[string]any, error) {
	if s.sessions == nil {
		return nil, domainError(http.StatusServiceUnavailable, "SESSIONS_UNAVAILABLE", "Anonymous sessions are not configured", nil)
	}
	token, id, err := s.sessions.IssueAnonymous(ctx)
	if err != nil {
		return nil, err
	}
	s.log.Debug().Str("userId", id.UserID).Msg("anonymous session issued")
	return map[string]any{
		"token":    token,
		"identity": id,
	}, nil
}

func (s *Service) AddComment(ctx context.Context, caller identity.Identity, articleID string, input AddCommentInput) (comments.Comment, error) {
	if !s.Can(caller.Role, rbac.ActionComment) {
		return comments.Comment{}, forbidden(string(rbac.ActionComment))
	}
	id, err := s.comments.AddComment(ctx, comments.NewComment{
		ArticleID:  articleID,
		AuthorID:   caller.UserID,
		AuthorName: caller.DisplayName,
		AuthorRole: comments.Role(caller.Role),
		Content:    input.Content,
		Selection:  input.Selection,
		Position:   input.Position,
		ParentID:   strings.TrimSpace(input.ParentID),
	})
	if err != nil {
		return comments.Comment{}, err
	}
	created, err := s.comments.GetComment(ctx, id)
	if err != nil {
		return comments.Comment{}, err
	}

	s.search.IndexComment(created)
	s.notify.MentionsAsync(ctx, created, created.Mentions)
	return created, nil
}

func (s *Service) GetComment(ctx context.Context, id string) (comments.Comment, error) {
	return s.comments.GetComment(ctx, id)
}

// UpdateComment edits a comment. Only names mentioned for the first time are
// notified.
func (s *Service) UpdateComment(ctx context.Context, caller identity.Identity, id string, input UpdateCommentInput) (comments.Comment, error) {
	before, err := s.editable(ctx, caller, id)
	if err != nil {
		return comments.Comment{}, err
	}
	if err := s.comments.UpdateComment(ctx, id, input.Content, input.Position); err != nil {
		return comments.Comment{}, err
	}
	after, err := s.comments.GetComment(ctx, id)
	if err != nil {
		return comments.Comment{}, err
	}

	s.search.IndexComment(after)
	s.notify.MentionsAsync(ctx, after, mention.Added(before.Mentions, after.Mentions))
	return after, nil
}

func (s *Service) DeleteComment(ctx context.Context, caller identity.Identity, id string) error {
	if _, err := s.editable(ctx, caller, id); err != nil {
		return err
	}
	if err := s.comments.DeleteComment(ctx, id); err != nil {
		return err
	}
	s.search.RemoveComment(id)
	return nil
}

func (s *Service) ResolveComment(ctx context.Context, caller identity.Identity, id string) (comments.Comment, error) {
	return s.setStatus(ctx, caller, id, comments.StatusResolved)
}

func (s *Service) ReopenComment(ctx context.Context, caller identity.Identity, id string) (comments.Comment, error) {
	return s.setStatus(ctx, caller, id, comments.StatusActive)
}

func (s *Service) setStatus(ctx context.Context, caller identity.Identity, id string, status comments.Status) (comments.Comment, error) {
	if !s.Can(caller.Role, rbac.ActionResolve) {
		return comments.Comment{}, forbidden(string(rbac.ActionResolve))
	}
	if err := s.comments.SetStatus(ctx, id, status); err != nil {
		return comments.Comment{}, err
	}
	updated, err := s.comments.GetComment(ctx, id)
	if err != nil {
		return comments.Comment{}, err
	}
	s.search.IndexComment(updated)
	return updated, nil
}

func (s *Service) editable(ctx context.Context, caller identity.Identity, id string) (comments.Comment, error) {
	current, err := s.comments.GetComment(ctx, id)
	if err != nil {
		return comments.Comment{}, err
	}
	isAuthor := current.AuthorID == caller.UserID
	if !rbac.CanEdit(rbac.Normalize(caller.Role), isAuthor) {
		return comments.Comment{}, forbidden(string(rbac.ActionModerate))
	}
	return current, nil
}

func (s *Service) ArticleComments(ctx context.Context, articleID string) ([]comments.Comment, error) {
	return s.comments.GetArticleComments(ctx, articleID)
}

func (s *Service) ArticleThreads(ctx context.Context, articleID string) ([]comments.Thread, error) {
	items, err := s.comments.GetArticleComments(ctx, articleID)
	if err != nil {
		return nil, err
	}
	return comments.BuildThreads(items), nil
}

func (s *Service) SearchArticleComments(ctx context.Context, articleID, term string) ([]comments.Comment, error) {
	return s.comments.SearchComments(ctx, articleID, term)
}

// SubscribeThreads streams the article's threads, rebuilt on every change.
func (s *Service) SubscribeThreads(ctx context.Context, articleID string) (*docstore.Subscription[[]comments.Thread], error) {
	sub, err := s.comments.SubscribeToArticleComments(ctx, articleID)
	if err != nil {
		return nil, err
	}
	return docstore.Map(sub, func(items []comments.Comment) ([]comments.Thread, error) {
		return comments.BuildThreads(items), nil
	}), nil
}

func (s *Service) UserComments(ctx context.Context, caller identity.Identity) ([]comments.Comment, error) {
	return s.comments.GetAllUserComments(ctx, caller.UserID)
}

// UnreadCount approximates unread comments as active ones. Without an
// article it counts the caller's own active comments.
func (s *Service) UnreadCount(ctx context.Context, caller identity.Identity, articleID string) (int, error) {
	return s.comments.GetUnreadCommentCount(ctx, caller.UserID, articleID)
}

// OpinionReactions returns the reactions of an opinion with their counts and,
// when ctx carries an identity, the caller's own reaction.
func (s *Service) OpinionReactions(ctx context.Context, opinionID string) (map[string]any, error) {
	items, err := s.reactions.GetOpinionReactions(ctx, opinionID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"reactions":    items,
		"counts":       reactions.CountReactions(items).Map(),
		"userReaction": nil,
	}
	if _, ok := identity.FromContext(ctx); ok {
		mine, err := s.reactions.GetUserReaction(ctx, opinionID)
		if err != nil {
			return nil, err
		}
		if mine != nil {
			payload["userReaction"] = mine
		}
	}
	return payload, nil
}

// React applies the toggle/switch rules for the caller bound to ctx.
func (s *Service) React(ctx context.Context, caller identity.Identity, opinionID string, input ReactInput) (map[string]any, error) {
	if !s.Can(caller.Role, rbac.ActionReact) {
		return nil, forbidden(string(rbac.ActionReact))
	}
	id, err := s.reactions.AddReaction(ctx, opinionID, input.Type)
	if err != nil {
		return nil, err
	}
	counts, err := s.reactions.GetOpinionReactionCounts(ctx, opinionID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"id":     nil,
		"active": id != "",
		"counts": counts.Map(),
	}
	if id != "" {
		payload["id"] = id
	}
	return payload, nil
}

// RemoveReaction deletes a reaction owned by the caller. Moderators may
// remove anyone's reaction. A missing reaction is not an error.
func (s *Service) RemoveReaction(ctx context.Context, caller identity.Identity, id string) error {
	existing, err := s.reactions.GetReaction(ctx, id)
	if errors.Is(err, reactions.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.UserID != caller.UserID && !s.Can(caller.Role, rbac.ActionModerate) {
		return forbidden(string(rbac.ActionModerate))
	}
	return s.reactions.RemoveReaction(ctx, id)
}

func (s *Service) SubscribeReactions(ctx context.Context, opinionID string) (*docstore.Subscription[reactions.Snapshot], error) {
	return s.reactions.SubscribeToOpinionReactions(ctx, opinionID)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}
