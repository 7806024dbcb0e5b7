package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"morningpulse/api/internal/comments"
	"morningpulse/api/internal/email"
)

// notifier emails staff members that were newly mentioned in a comment.
// Delivery is best-effort: failures are logged and never reach the caller.
type notifier struct {
	directory  Directory
	mail       Mailer
	appBaseURL string
	log        zerolog.Logger
	wg         sync.WaitGroup
}

func newNotifier(directory Directory, mail Mailer, appBaseURL string, logger zerolog.Logger) *notifier {
	return &notifier{
		directory:  directory,
		mail:       mail,
		appBaseURL: strings.TrimRight(appBaseURL, "/"),
		log:        logger.With().Str("component", "notify").Logger(),
	}
}

func (n *notifier) enabled() bool {
	return n != nil && n.directory != nil && n.mail != nil && n.mail.IsConfigured()
}

// MentionsAsync sends notifications in the background. The request context
// only contributes its values; cancellation does not abort delivery.
func (n *notifier) MentionsAsync(ctx context.Context, comment comments.Comment, handles []string) {
	if !n.enabled() || len(handles) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.Mentions(ctx, comment, handles)
	}()
}

func (n *notifier) Mentions(ctx context.Context, comment comments.Comment, handles []string) {
	if !n.enabled() {
		return
	}
	for _, handle := range handles {
		recipient, ok, err := n.directory.LookupHandle(ctx, handle)
		if err != nil {
			n.log.Warn().Err(err).Str("handle", handle).Msg("mention lookup failed")
			continue
		}
		if !ok || recipient.Email == "" || recipient.UserID == comment.AuthorID {
			continue
		}
		data := email.MentionData{
			RecipientName: recipient.Name,
			AuthorName:    comment.AuthorName,
			Excerpt:       excerpt(comment.Content, 280),
			SelectionText: comment.Selection.Text,
			ArticleURL:    n.articleURL(comment),
		}
		if err := n.mail.SendMentionEmail(recipient.Email, data); err != nil {
			n.log.Warn().Err(err).Str("handle", handle).Str("commentId", comment.ID).Msg("mention email failed")
			continue
		}
		n.log.Info().Str("handle", handle).Str("commentId", comment.ID).Msg("mention email sent")
	}
}

// Wait blocks until background deliveries finish.
func (n *notifier) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}

func (n *notifier) articleURL(comment comments.Comment) string {
	return fmt.Sprintf("%s/articles/%s#comment-%s", n.appBaseURL, url.PathEscape(comment.ArticleID), url.PathEscape(comment.ID))
}

func excerpt(content string, max int) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}
