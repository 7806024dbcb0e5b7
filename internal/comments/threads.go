package comments

import "sort"

type Thread struct {
	RootComment Comment   `json:"rootComment"`
	Replies     []Comment `json:"replies"`
	TotalCount  int       `json:"totalCount"`
}

// BuildThreads groups replies under their root comments. Replies are ordered
// oldest first and threads newest root first. A reply whose parent is not a
// root in comments is dropped.
func BuildThreads(comments []Comment) []Thread {
	roots := make([]Comment, 0)
	replies := make(map[string][]Comment)
	for _, c := range comments {
		if c.ParentID == nil {
			roots = append(roots, c)
			continue
		}
		replies[*c.ParentID] = append(replies[*c.ParentID], c)
	}

	threads := make([]Thread, 0, len(roots))
	for _, root := range roots {
		group := append([]Comment{}, replies[root.ID]...)
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})
		threads = append(threads, Thread{
			RootComment: root,
			Replies:     group,
			TotalCount:  1 + len(group),
		})
	}

	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].RootComment.CreatedAt.After(threads[j].RootComment.CreatedAt)
	})
	return threads
}
