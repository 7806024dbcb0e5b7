// Package mention finds @handle references in comment text.
package mention

import "regexp"

// A handle is a run of letters, digits and underscores after '@'.
var pattern = regexp.MustCompile(`@(\w+)`)

// Extract returns the distinct handles mentioned in content, without the
// '@', in order of first appearance.
func Extract(content string) []string {
	matches := pattern.FindAllStringSubmatch(content, -1)
	handles := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		handles = append(handles, m[1])
	}
	return handles
}

// Added returns the handles in after that are not in before.
func Added(before, after []string) []string {
	known := make(map[string]struct{}, len(before))
	for _, h := range before {
		known[h] = struct{}{}
	}
	added := make([]string, 0)
	for _, h := range after {
		if _, ok := known[h]; !ok {
			added = append(added, h)
		}
	}
	return added
}
