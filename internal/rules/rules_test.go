package rules

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRules = `# move own up target [history...]
// comment lines are skipped
T  2H # 4C
U  3C 2C # @5

N  # # # U #  #
P  # # #
`

func TestParseRules(t *testing.T) {
	rs, err := Parse(strings.NewReader(sampleRules))
	require.NoError(t, err)
	require.Equal(t, 4, rs.Len())

	rules := rs.Rules()
	assert.Equal(t, Rule{Move: "T", Pattern: []string{"2H", "#", "4C"}}, rules[0])
	assert.Equal(t, 5, rules[1].Weight)
	assert.Equal(t, []string{"3C", "2C", "#"}, rules[1].Pattern)
	assert.Len(t, rules[2].Pattern, 6)
	assert.Equal(t, "U 3C 2C # @5", rules[1].String())
}

func TestParseRejectsEmptyAndMalformed(t *testing.T) {
	_, err := Parse(strings.NewReader("# nothing here\n\n"))
	assert.ErrorIs(t, err, ErrNoRules)

	_, err = Parse(strings.NewReader("T\n"))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Parse(strings.NewReader("T 2H # 4C @x\n"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestObservationInterleaving(t *testing.T) {
	opp := []HistoryEntry{
		{Move: "U", InHand: "XX", Target: "4C", Up: "2C"},
		{Move: "N", InHand: "YY", Target: "4C", Up: "3H"},
	}
	mine := []HistoryEntry{{Move: "C", InHand: "2H", Target: "4C", Up: "2C"}}

	obs := Observation("3C", "2C", "4C", opp, mine)
	assert.Equal(t, []string{
		"3C", "2C", "4C",
		"U", "4C", "2C", // opponent: held card stays hidden
		"C", "2H", "4C", "2C",
		"N", "4C", "3H", // stops once own history runs out
	}, obs)

	assert.Equal(t, []string{"3C", "2C", "4C"}, Observation("3C", "2C", "4C", nil, mine))
}

func TestScore(t *testing.T) {
	obs := []string{"3C", "2C", "4C", "U", "4C", "2C"}

	assert.Equal(t, 101+101+101, Score([]string{"3C", "2C", "4C"}, obs))
	assert.Equal(t, 101, Score([]string{"3C", "#", "#"}, obs))
	assert.Equal(t, 0, Score([]string{"#", "#", "#"}, obs))
	assert.Equal(t, 101+16, Score([]string{"3C", "#", "#", "U"}, obs))
	assert.Equal(t, -1, Score([]string{"3C", "3H", "#"}, obs), "a literal mismatch disqualifies")

	long := make([]string, 19)
	pattern := make([]string, 19)
	for i := range long {
		long[i] = "2H"
		pattern[i] = "#"
	}
	pattern[18] = "2H"
	assert.Equal(t, 1, Score(pattern, long), "positions past the weight table add 1")
}

func TestMatchPrefersHighestScore(t *testing.T) {
	rs, err := New(
		Rule{Move: "P", Pattern: []string{"#", "#", "#"}},
		Rule{Move: "T", Pattern: []string{"2H", "#", "4C"}},
		Rule{Move: "U", Pattern: []string{"2H", "#", "#"}},
		Rule{Move: "N", Pattern: []string{"3C", "#", "#"}},
	)
	require.NoError(t, err)
	e := NewEngine(rs, rand.New(rand.NewSource(1)))

	r, err := e.Match("2H", "2C", "4C", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "T", r.Move)

	r, err = e.Match("3H", "2C", "4C", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "P", r.Move, "wildcard-only rule is the fallback")
}

func TestMatchSkipsRulesLongerThanObservation(t *testing.T) {
	rs, err := New(
		Rule{Move: "C", Pattern: []string{"2H", "#", "#", "U", "#", "#"}},
		Rule{Move: "P", Pattern: []string{"#", "#", "#"}},
	)
	require.NoError(t, err)
	e := NewEngine(rs, rand.New(rand.NewSource(1)))

	r, err := e.Match("2H", "2C", "4C", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "P", r.Move)

	r, err = e.Match("2H", "2C", "4C", []HistoryEntry{{Move: "U", Target: "4C", Up: "2C"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "C", r.Move)
}

func TestMatchWeightBreaksOtherwiseEqualRules(t *testing.T) {
	rs, err := New(
		Rule{Move: "U", Pattern: []string{"2H", "#", "#"}},
		Rule{Move: "N", Pattern: []string{"2H", "#", "#"}, Weight: 1},
	)
	require.NoError(t, err)
	e := NewEngine(rs, nil)

	for i := 0; i < 20; i++ {
		r, err := e.Match("2H", "2C", "4C", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "N", r.Move)
	}
}

func TestMatchNoRuleIsConfigurationError(t *testing.T) {
	rs, err := New(Rule{Move: "T", Pattern: []string{"2H", "#", "4C"}})
	require.NoError(t, err)
	e := NewEngine(rs, nil)

	_, err = e.Match("3C", "2C", "4C", nil, nil)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func tiedEngine(seed int64) *Engine {
	rs, _ := New(
		Rule{Move: "U", Pattern: []string{"2H", "#", "#"}},
		Rule{Move: "N", Pattern: []string{"2H", "#", "#"}},
	)
	return NewEngine(rs, rand.New(rand.NewSource(seed)))
}

// TestTieBreakReproducibleWithSeed checks identical seeds give identical choices.
func TestTieBreakReproducibleWithSeed(t *testing.T) {
	a, b := tiedEngine(42), tiedEngine(42)
	for i := 0; i < 200; i++ {
		ra, err := a.Match("2H", "2C", "4C", nil, nil)
		require.NoError(t, err)
		rb, err := b.Match("2H", "2C", "4C", nil, nil)
		require.NoError(t, err)
		require.Equal(t, ra.Move, rb.Move, "draw %d", i)
	}
}

// TestTieBreakIsUniform checks tied rules are chosen evenly (±5%).
func TestTieBreakIsUniform(t *testing.T) {
	const samples = 4000
	e := tiedEngine(7)
	counts := map[string]int{}
	for i := 0; i < samples; i++ {
		r, err := e.Match("2H", "2C", "4C", nil, nil)
		require.NoError(t, err)
		counts[r.Move]++
	}
	require.Len(t, counts, 2)
	for move, n := range counts {
		share := float64(n) / samples
		assert.InDelta(t, 0.5, share, 0.05, "move %s chosen %d times", move, n)
	}
}
