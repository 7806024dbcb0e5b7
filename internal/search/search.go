package search

import "morningpulse/api/internal/comments"

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	ArticleID  string `json:"articleId"`
	AuthorName string `json:"authorName"`
	Snippet    string `json:"snippet"`
	Selection  string `json:"selectionText"`
	Status     string `json:"status"`
}

// Query describes a search request.
type Query struct {
	Text      string
	ArticleID string // empty = all articles
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID            string `json:"id"`
	ArticleID     string `json:"articleId"`
	AuthorID      string `json:"authorId"`
	AuthorName    string `json:"authorName"`
	Content       string `json:"content"`
	SelectionText string `json:"selectionText"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"createdAt"`
}

func RecordFromComment(c comments.Comment) CommentRecord {
	return CommentRecord{
		ID:            c.ID,
		ArticleID:     c.ArticleID,
		AuthorID:      c.AuthorID,
		AuthorName:    c.AuthorName,
		Content:       c.Content,
		SelectionText: c.Selection.Text,
		Status:        string(c.Status),
		CreatedAt:     c.CreatedAt.Unix(),
	}
}

func resultFromComment(c comments.Comment) Result {
	return Result{
		ID:         c.ID,
		ArticleID:  c.ArticleID,
		AuthorName: c.AuthorName,
		Snippet:    c.Content,
		Selection:  c.Selection.Text,
		Status:     string(c.Status),
	}
}
