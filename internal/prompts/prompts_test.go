package prompts

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand_Alternatives(t *testing.T) {
	got, err := Expand("%{Start|Begin} a text %{adventure|adventure game}.")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Start a text adventure.",
		"Start a text adventure game.",
		"Begin a text adventure.",
		"Begin a text adventure game.",
	}, got)
}

func TestExpand_Nested(t *testing.T) {
	got, err := Expand("%{a|b%{c|d}}!")
	require.NoError(t, err)
	assert.Equal(t, []string{"a!", "bc!", "bd!"}, got)
}

func TestExpand_PlainTextAndPlaceholders(t *testing.T) {
	got, err := Expand("Write the next reply. {{content_type_str}}.")
	require.NoError(t, err)
	assert.Equal(t, []string{"Write the next reply. {{content_type_str}}."}, got)
}

func TestExpand_EmptyAlternative(t *testing.T) {
	got, err := Expand("go%{| now}")
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "go now"}, got)
}

func TestExpand_DeduplicatesAcrossTemplates(t *testing.T) {
	got, err := Expand("%{x|y}", "%{y|z}")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, got)
}

func TestExpand_TopLevelPipeIsLiteral(t *testing.T) {
	got, err := Expand("a | b }")
	require.NoError(t, err)
	assert.Equal(t, []string{"a | b }"}, got)
}

func TestExpand_Unterminated(t *testing.T) {
	_, err := Expand("%{a|b")
	assert.True(t, errors.Is(err, ErrUnterminated), "got %v", err)

	assert.Panics(t, func() { MustExpand("%{oops") })
}

func TestPick(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	options := []string{"a", "b", "c"}
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[Pick(rng, options)] = true
	}
	assert.Len(t, seen, 3)
	assert.Equal(t, "", Pick(rng, nil))
}

func TestPick_Deterministic(t *testing.T) {
	options := MustExpand("%{a|b|c|d|e|f}")
	r1 := rand.New(rand.NewPCG(42, 42))
	r2 := rand.New(rand.NewPCG(42, 42))
	for i := 0; i < 20; i++ {
		assert.Equal(t, Pick(r1, options), Pick(r2, options))
	}
}
