package forums

import (
	"errors"
	"iter"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/loom/internal/episode"
)

var passthrough = ConverterFunc(func(html string) (string, error) { return html, nil })

func newTestNormalizer(seed uint64) *Normalizer {
	return NewNormalizer(rand.New(rand.NewPCG(seed, seed)), passthrough, discardLogger())
}

func thread(name string, msgs ...Message) Thread {
	return Thread{Name: name, ContentType: ContentSFW, SourceFile: "forum.csv", Messages: msgs}
}

func TestNormalize_SkipsMetaThreads(t *testing.T) {
	n := newTestNormalizer(1)
	msgs := []Message{{Author: "A", Body: "Hello."}, {Author: "B", Body: "Hi."}}

	for _, name := range []string{"Character Sheet Thread", "The Tavern [OOC]", "O.O.C. chatter", "Character Roster"} {
		ep, err := n.Normalize(thread(name, msgs...))
		require.NoError(t, err)
		assert.Nil(t, ep, name)
	}
}

func TestNormalize_MessageCountBoundary(t *testing.T) {
	n := newTestNormalizer(1)

	ep, err := n.Normalize(thread("The Tavern", Message{Author: "A", Body: "Hello."}))
	require.NoError(t, err)
	assert.Nil(t, ep)

	ep, err = n.Normalize(thread("The Tavern",
		Message{Author: "A", Body: "Hello."},
		Message{Author: "B", Body: "Hi."},
	))
	require.NoError(t, err)
	require.NotNil(t, ep)
	assert.Equal(t, "rp-forum.csv-The Tavern", ep.Identifier)
	assert.Len(t, ep.Turns, 3)
	assert.NoError(t, ep.Validate())
}

func TestNormalize_RedactsAuthors(t *testing.T) {
	n := newTestNormalizer(2)

	ep, err := n.Normalize(thread("Into the Woods",
		Message{Author: "Alice", Body: "Alice waves at Bob."},
		Message{Author: "Bob", Body: "Bob nods to Alice. Alicia watches."},
		Message{Author: "Alice", Body: "Alice and Bob walk on."},
	))
	require.NoError(t, err)
	require.NotNil(t, ep)
	require.Len(t, ep.Turns, 4)

	assert.Equal(t, "{{char_0}} waves at {{char_1}}.", ep.Turns[1].Utterance)
	assert.Equal(t, "{{char_1}} nods to {{char_0}}. Alicia watches.", ep.Turns[2].Utterance)
	assert.Equal(t, "{{char_0}} and {{char_1}} walk on.", ep.Turns[3].Utterance)

	for _, turn := range ep.Turns[1:] {
		assert.NotContains(t, turn.Utterance, "Alice ")
		assert.NotContains(t, turn.Utterance, "Bob")
	}
}

func TestNormalize_SystemPrompt(t *testing.T) {
	n := newTestNormalizer(3)
	th := thread("Night Market",
		Message{Author: "A", Body: "The stalls glowed."},
		Message{Author: "B", Body: "She bought a lantern."},
	)
	th.ContentType = ContentNSFW

	ep, err := n.Normalize(th)
	require.NoError(t, err)
	require.NotNil(t, ep)

	system := ep.Turns[0]
	assert.Equal(t, episode.KindSystem, system.Kind)
	assert.NotContains(t, system.Utterance, ContentTypePlaceholder)
	assert.Contains(t, system.Utterance, ResponseLengthPlaceholder)

	found := false
	for _, clause := range contentTypePrompts[ContentNSFW] {
		if strings.Contains(system.Utterance, clause) {
			found = true
			break
		}
	}
	assert.True(t, found, "system prompt %q has no NSFW clause", system.Utterance)
}

func TestNormalize_LabelsOOCReplies(t *testing.T) {
	n := newTestNormalizer(4)

	ep, err := n.Normalize(thread("Harbor",
		Message{Author: "A", Body: "The ship docked at dawn."},
		Message{Author: "B", Body: "(OOC: let's skip ahead)"},
		Message{Author: "A", Body: "(OOC: sure, works for me)"},
	))
	require.NoError(t, err)
	require.NotNil(t, ep)
	require.Len(t, ep.Turns, 4)

	assert.Equal(t, episode.KindModel, ep.Turns[1].Kind)
	assert.Equal(t, episode.KindUser, ep.Turns[2].Kind)
	assert.Equal(t, episode.KindModel, ep.Turns[3].Kind)
}

func TestNormalize_SplitsLongMessages(t *testing.T) {
	n := newTestNormalizer(5)
	para := nWords(150, "word") + "."
	long := strings.Repeat(para+MessageDelimiter, 7) + para

	ep, err := n.Normalize(thread("Siege", Message{Author: "A", Body: long}, Message{Author: "B", Body: "Short."}))
	require.NoError(t, err)
	require.NotNil(t, ep)

	// 1200 words with a target of at most 600 cannot fit in one chunk.
	assert.Greater(t, len(ep.Turns), 3)
	for _, turn := range ep.Turns[1 : len(ep.Turns)-1] {
		pieces := strings.Count(turn.Utterance, MessageDelimiter) + 1
		assert.LessOrEqual(t, pieces*150, maxTargetWords)
	}
}

func TestNormalize_TooManyPasses(t *testing.T) {
	n := newTestNormalizer(6)
	body := strings.Repeat("<script>x</script>y", 5)

	_, err := n.Normalize(thread("Broken", Message{Author: "A", Body: body}, Message{Author: "B", Body: "ok"}))
	assert.True(t, errors.Is(err, ErrTooManyPasses), "got %v", err)
}

func TestNormalize_ConverterError(t *testing.T) {
	boom := errors.New("bad html")
	n := NewNormalizer(rand.New(rand.NewPCG(1, 1)), ConverterFunc(func(string) (string, error) { return "", boom }), discardLogger())

	_, err := n.Normalize(thread("T", Message{Author: "A", Body: "a"}, Message{Author: "B", Body: "b"}))
	assert.True(t, errors.Is(err, boom), "got %v", err)
}

func TestNormalize_NoLinksInOutput(t *testing.T) {
	n := newTestNormalizer(7)

	ep, err := n.Normalize(thread("Links",
		Message{Author: "A", Body: "Map here: https://example.com/map.png<br/><br/>Then we ride."},
		Message{Author: "B", Body: "See http://foo.bar/baz and then leave."},
	))
	require.NoError(t, err)
	require.NotNil(t, ep)
	for _, turn := range ep.Turns {
		assert.NotContains(t, turn.Utterance, "http://")
		assert.NotContains(t, turn.Utterance, "https://")
	}
}

func threadSource(threads ...Thread) iter.Seq2[Thread, error] {
	return func(yield func(Thread, error) bool) {
		for _, th := range threads {
			if !yield(th, nil) {
				return
			}
		}
	}
}

func TestEpisodes_SkipsAndReportsErrors(t *testing.T) {
	n := newTestNormalizer(8)
	ok := thread("Good", Message{Author: "A", Body: "a"}, Message{Author: "B", Body: "b"})
	skipped := thread("Character Sheet", Message{Author: "A", Body: "a"}, Message{Author: "B", Body: "b"})
	broken := thread("Broken", Message{Author: "A", Body: strings.Repeat("<script>x</script>", 5)}, Message{Author: "B", Body: "b"})

	var ids []string
	var errs []error
	for ep, err := range n.Episodes(threadSource(ok, skipped, broken, ok)) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ids = append(ids, ep.Identifier)
	}

	assert.Equal(t, []string{"rp-forum.csv-Good", "rp-forum.csv-Good"}, ids)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrTooManyPasses))
}

func TestEpisodes_SourceErrorStops(t *testing.T) {
	n := newTestNormalizer(9)
	boom := errors.New("corrupt file")
	src := func(yield func(Thread, error) bool) {
		yield(Thread{}, boom)
	}

	var got error
	for _, err := range n.Episodes(src) {
		got = err
	}
	assert.True(t, errors.Is(got, boom))
}

func TestNormalize_Reproducible(t *testing.T) {
	th := thread("Repeat",
		Message{Author: "A", Body: nWords(400, "a") + MessageDelimiter + nWords(400, "b")},
		Message{Author: "B", Body: "b"},
	)
	a, err := newTestNormalizer(10).Normalize(th)
	require.NoError(t, err)
	b, err := newTestNormalizer(10).Normalize(th)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
