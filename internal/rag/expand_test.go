package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpand(t *testing.T) {
	const query = "best pizza in Jersey City"

	tests := []struct {
		name  string
		reply func(string) (string, error)
		want  []string
	}{
		{
			name:  "json array",
			reply: replyWith(`["best pizza Jersey City", "top pizzerias downtown JC", "thin crust pizza near me"]`),
			want:  []string{"best pizza Jersey City", "top pizzerias downtown JC", "thin crust pizza near me"},
		},
		{
			name:  "fenced with prose",
			reply: replyWith("Here you go:\n```json\n[\"a\", \"b\", \"c\"]\n```"),
			want:  []string{"a", "b", "c"},
		},
		{
			name:  "python style list",
			reply: replyWith(`['pizza slices', 'late night pizza', 'brick oven pizza']`),
			want:  []string{"pizza slices", "late night pizza", "brick oven pizza"},
		},
		{
			name:  "blank entries dropped and capped at five",
			reply: replyWith(`["1", " ", "2", "3", "4", "5", "6"]`),
			want:  []string{"1", "2", "3", "4", "5"},
		},
		{name: "upstream failure", reply: nil, want: []string{query}},
		{name: "unparseable", reply: replyWith("I think you should try pizza."), want: []string{query}},
		{name: "empty array", reply: replyWith("[]"), want: []string{query}},
		{name: "only blanks", reply: replyWith(`["", "  "]`), want: []string{query}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGen{reply: tt.reply}
			got := NewExpander(gen, 5).Expand(context.Background(), query)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, got)
			assert.Equal(t, 1, gen.calls())
		})
	}
}

func TestExpandPromptMentionsQuery(t *testing.T) {
	gen := &fakeGen{reply: replyWith(`["x"]`)}
	NewExpander(gen, 0).Expand(context.Background(), "quiet parks")
	assert.Contains(t, gen.prompts[0], `"quiet parks"`)
	assert.Contains(t, gen.prompts[0], "3-5")
}
