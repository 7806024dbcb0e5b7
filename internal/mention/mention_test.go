package mention

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    []string
	}{
		{name: "first appearance order", content: "hi @bob and @alice, @bob again", want: []string{"bob", "alice"}},
		{name: "no mentions", content: "no mentions", want: []string{}},
		{name: "doubled at", content: "@@x", want: []string{"x"}},
		{name: "bare at", content: "email me @ noon", want: []string{}},
		{name: "digits and underscores", content: "@user_42 @42", want: []string{"user_42", "42"}},
		{name: "stops at punctuation", content: "@bob-smith", want: []string{"bob"}},
		{name: "case sensitive", content: "@Bob @bob", want: []string{"Bob", "bob"}},
		{name: "empty", content: "", want: []string{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Extract(tc.content))
		})
	}
}

func TestExtractIsIdempotentOverRendering(t *testing.T) {
	first := Extract("cc @dana @eli @dana")
	rendered := ""
	for _, h := range first {
		rendered += "@" + h + " "
	}
	assert.Equal(t, first, Extract(rendered))
}

func TestAdded(t *testing.T) {
	assert.Equal(t, []string{"carol"}, Added([]string{"bob", "alice"}, []string{"alice", "carol"}))
	assert.Equal(t, []string{}, Added([]string{"bob"}, []string{"bob"}))
	assert.Equal(t, []string{"bob"}, Added(nil, []string{"bob"}))
}
