package fairplay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleSet_Lookup(t *testing.T) {
	rs := DefaultRules()

	for _, name := range []string{"big", "small", "any_triple", "rock", "paper", "scissors", "4", "10", "17"} {
		_, err := rs.Lookup(name)
		assert.NoError(t, err, "bet type %s", name)
	}

	_, err := rs.Lookup("  BIG ")
	assert.NoError(t, err, "lookup is case and whitespace insensitive")

	_, err = rs.Lookup("martingale")
	assert.Error(t, err)
	_, err = rs.Lookup("3") // total 3 is only reachable as a triple
	assert.Error(t, err)
}

func TestRuleSet_DiceSettlement(t *testing.T) {
	rs := DefaultRules()

	tests := []struct {
		name    string
		betType string
		dice    [3]int
		wager   int64
		payout  int64
	}{
		{"big wins at 1:1", "big", [3]int{4, 5, 6}, 100, 200},
		{"big loses on small total", "big", [3]int{1, 2, 3}, 100, 0},
		{"big loses on triple", "big", [3]int{6, 6, 6}, 100, 0},
		{"small wins at 1:1", "small", [3]int{1, 3, 4}, 100, 200},
		{"small loses on triple", "small", [3]int{2, 2, 2}, 100, 0},
		{"exact total 4 pays 60:1", "4", [3]int{1, 1, 2}, 10, 610},
		{"exact total 10 pays 6:1", "10", [3]int{2, 3, 5}, 10, 70},
		{"exact total misses", "10", [3]int{2, 3, 6}, 10, 0},
		{"any triple pays 30:1", "any_triple", [3]int{5, 5, 5}, 10, 310},
		{"any triple misses", "any_triple", [3]int{5, 5, 4}, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := rs.Lookup(tt.betType)
			require.NoError(t, err)

			payout, err := rs.Settle(id, Outcome{Dice: tt.dice}, tt.wager)
			require.NoError(t, err)
			assert.Equal(t, tt.payout, payout)
		})
	}
}

func TestRuleSet_HandSettlement(t *testing.T) {
	rs := DefaultRules()

	tests := []struct {
		choice string
		house  string
		payout int64
	}{
		{"rock", "scissors", 200},
		{"rock", "paper", 0},
		{"rock", "rock", 100}, // push returns the stake
		{"paper", "rock", 200},
		{"scissors", "paper", 200},
		{"scissors", "rock", 0},
	}

	for _, tt := range tests {
		id, err := rs.Lookup(tt.choice)
		require.NoError(t, err)

		payout, err := rs.Settle(id, Outcome{Hand: tt.house}, 100)
		require.NoError(t, err)
		assert.Equal(t, tt.payout, payout, "%s vs %s", tt.choice, tt.house)
	}
}

func TestParseOutcome(t *testing.T) {
	o, err := ParseOutcome("3,5,6")
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 5, 6}, o.Dice)
	assert.Equal(t, 14, o.Total())
	assert.False(t, o.Triple())

	o, err = ParseOutcome("rock")
	require.NoError(t, err)
	assert.Equal(t, "rock", o.Hand)

	for _, bad := range []string{"", "1,2", "1,2,7", "a,b,c", "lizard"} {
		_, err := ParseOutcome(bad)
		assert.Error(t, err, "input %q", bad)
	}

	// String/ParseOutcome round-trip
	orig := Outcome{Dice: [3]int{2, 2, 2}}
	parsed, err := ParseOutcome(orig.String())
	require.NoError(t, err)
	assert.True(t, parsed.Triple())
}
