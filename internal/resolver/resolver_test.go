package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/satindergrewal/stereosplit/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct {
	left, right string
	err         error
	calls       int
}

func (f *fakeExtractor) ExtractSongs(_ context.Context, _ string) (string, string, error) {
	f.calls++
	return f.left, f.right, f.err
}

func TestMatchRules(t *testing.T) {
	tests := []struct {
		text        string
		rule        string
		left, right string
	}{
		{"left: snowman sia, right: 1998 sleepy hallow and other", RuleExplicit, "snowman sia", "1998 sleepy hallow and other"},
		{"LEFT: bad guy,RIGHT: french lessons.", RuleExplicit, "bad guy", "french lessons"},
		{"put left: a, right: b. thanks", RuleExplicit, "a", "b"},
		{"snowman on left, 1998 on right", RulePositional, "snowman", "1998"},
		{"mix snowman On The Left 1998 on the right", RulePositional, "snowman", "1998"},
		{"mix snowman by sia and 1998 by sleepy hallow", RuleAnd, "snowman by sia", "1998 by sleepy hallow"},
		{"combine rock and roll and blues", RuleAnd, "rock", "roll and blues"},
		{"bad guy AND french lessons", RuleAnd, "bad guy", "french lessons"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			req, ok, err := Match(tt.text)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.rule, req.Rule)
			assert.Equal(t, tt.left, req.Left.Text)
			assert.Equal(t, tt.right, req.Right.Text)
			assert.False(t, req.Left.IsVideo())
		})
	}
}

func TestMatchNoRule(t *testing.T) {
	for _, text := range []string{"", "snowman", "mix sandstorm with thunderstruck", "mix and"} {
		_, ok, err := Match(text)
		assert.NoError(t, err, text)
		assert.False(t, ok, text)
	}
}

func TestMatchIsDeterministic(t *testing.T) {
	text := "left: a and b, right: c on left, d on right"
	first, ok, err := Match(text)
	require.NoError(t, err)
	require.True(t, ok)
	for i := 0; i < 20; i++ {
		again, _, _ := Match(text)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, RuleExplicit, first.Rule)
}

func TestMatchTwoLinksBypassesGrammar(t *testing.T) {
	req, ok, err := Match("left: https://youtu.be/AAA111, right: https://youtu.be/BBB222")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RuleLinks, req.Rule)
	assert.Equal(t, Query{VideoID: "AAA111"}, req.Left)
	assert.Equal(t, Query{VideoID: "BBB222"}, req.Right)
}

func TestMatchWrongLinkCount(t *testing.T) {
	_, _, err := Match("mix https://youtu.be/AAA111 and something")
	assert.ErrorIs(t, err, domain.ErrLinkCount)
	assert.ErrorIs(t, err, domain.ErrInputParse)

	_, _, err = Match("https://youtu.be/a https://youtu.be/b https://youtu.be/c")
	assert.ErrorIs(t, err, domain.ErrLinkCount)
}

func TestResolveUsesAIFallback(t *testing.T) {
	ai := &fakeExtractor{left: " snowman sia ", right: "1998 sleepy hallow"}
	r := New(ai)

	req, err := r.Resolve(context.Background(), "that sia song with the 1998 one")
	require.NoError(t, err)
	assert.Equal(t, RuleAI, req.Rule)
	assert.Equal(t, "snowman sia", req.Left.Text)
	assert.Equal(t, "1998 sleepy hallow", req.Right.Text)
	assert.Equal(t, 1, ai.calls)
}

func TestResolveSkipsAIWhenRuleMatches(t *testing.T) {
	ai := &fakeExtractor{left: "x", right: "y"}
	req, err := New(ai).Resolve(context.Background(), "a and b")
	require.NoError(t, err)
	assert.Equal(t, RuleAnd, req.Rule)
	assert.Zero(t, ai.calls)
}

func TestResolveFailures(t *testing.T) {
	ctx := context.Background()

	_, err := New(nil).Resolve(ctx, "just one song")
	assert.ErrorIs(t, err, domain.ErrResolution)

	_, err = New(&fakeExtractor{err: errors.New("boom")}).Resolve(ctx, "hmm")
	assert.ErrorIs(t, err, domain.ErrResolution)

	_, err = New(&fakeExtractor{left: "only one"}).Resolve(ctx, "hmm")
	assert.ErrorIs(t, err, domain.ErrResolution)
}

func TestVideoIDs(t *testing.T) {
	text := "https://www.youtube.com/watch?v=dQw4w9WgXcQ and https://youtu.be/AAA_1-2 " +
		"https://m.youtube.com/watch?feature=share&v=MOB1 https://music.youtube.com/watch?v=MUS2 " +
		"https://youtube.com/shorts/SHRT3 https://example.com/watch?v=nope"
	assert.Equal(t, []string{"dQw4w9WgXcQ", "AAA_1-2", "MOB1", "MUS2", "SHRT3"}, VideoIDs(text))
}

func TestVideoID(t *testing.T) {
	id, err := VideoID("here: https://youtu.be/AAA111 ")
	require.NoError(t, err)
	assert.Equal(t, "AAA111", id)

	_, err = VideoID("not a link")
	assert.ErrorIs(t, err, domain.ErrInputParse)

	assert.Equal(t, "https://www.youtube.com/watch?v=AAA111", WatchURL(id))
}
