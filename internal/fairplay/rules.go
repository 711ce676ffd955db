package fairplay

import (
	"fmt"
	"strconv"
	"strings"
)

// GameKind selects which outcome source a bet type resolves against.
type GameKind int

const (
	GameDice GameKind = iota // three dice, totals 3..18
	GameHand                 // rock / paper / scissors against the house
)

// TypeID is the stable identifier of one bet type.
type TypeID int

// Outcome is one resolved random result. Dice is set for GameDice bets,
// Hand for GameHand bets.
type Outcome struct {
	Dice [3]int
	Hand string
}

func (o Outcome) Total() int {
	return o.Dice[0] + o.Dice[1] + o.Dice[2]
}

func (o Outcome) Triple() bool {
	return o.Dice[0] == o.Dice[1] && o.Dice[1] == o.Dice[2]
}

func (o Outcome) String() string {
	if o.Hand != "" {
		return o.Hand
	}
	return fmt.Sprintf("%d,%d,%d", o.Dice[0], o.Dice[1], o.Dice[2])
}

// ParseOutcome reverses Outcome.String, for round verification.
func ParseOutcome(s string) (Outcome, error) {
	switch s {
	case "rock", "paper", "scissors":
		return Outcome{Hand: s}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Outcome{}, fmt.Errorf("malformed outcome %q", s)
	}
	var o Outcome
	for i, p := range parts {
		die, err := strconv.Atoi(p)
		if err != nil || die < 1 || die > 6 {
			return Outcome{}, fmt.Errorf("malformed outcome %q", s)
		}
		o.Dice[i] = die
	}
	return o, nil
}

// BetRule resolves one bet type. Payout returns the total amount credited
// back to the player: 0 for a loss, the stake for a push, stake plus
// winnings for a win.
type BetRule struct {
	ID     TypeID
	Game   GameKind
	Payout func(o Outcome, wager int64) int64
}

// RuleSet maps bet type strings to rules. Adding a bet type is a table
// change, not an algorithm change.
type RuleSet struct {
	types map[string]TypeID
	rules map[TypeID]BetRule
}

// Lookup resolves a bet type string to its TypeID.
func (rs *RuleSet) Lookup(betType string) (TypeID, error) {
	id, ok := rs.types[strings.ToLower(strings.TrimSpace(betType))]
	if !ok {
		return 0, fmt.Errorf("unknown bet type %q", betType)
	}
	return id, nil
}

// Rule returns the rule for a TypeID.
func (rs *RuleSet) Rule(id TypeID) (BetRule, error) {
	rule, ok := rs.rules[id]
	if !ok {
		return BetRule{}, fmt.Errorf("no rule for bet type id %d", id)
	}
	return rule, nil
}

// Settle computes the total payout for a resolved outcome.
func (rs *RuleSet) Settle(id TypeID, o Outcome, wager int64) (int64, error) {
	rule, err := rs.Rule(id)
	if err != nil {
		return 0, err
	}
	return rule.Payout(o, wager), nil
}

// exactTotalOdds mirrors the usual three-dice odds table: rarer totals pay
// more. Values are X in "X to 1".
var exactTotalOdds = map[int]int64{
	4: 60, 17: 60,
	5: 30, 16: 30,
	6: 17, 15: 17,
	7: 12, 14: 12,
	8: 8, 13: 8,
	9: 6, 10: 6, 11: 6, 12: 6,
}

const (
	typeBig TypeID = iota + 1
	typeSmall
	typeAnyTriple
	typeRock
	typePaper
	typeScissors
	typeTotalBase // typeTotalBase+n = exact total n
)

// beats reports whether hand a wins over hand b.
func beats(a, b string) bool {
	switch a {
	case "rock":
		return b == "scissors"
	case "paper":
		return b == "rock"
	case "scissors":
		return b == "paper"
	}
	return false
}

func handPayout(choice string) func(Outcome, int64) int64 {
	return func(o Outcome, wager int64) int64 {
		if o.Hand == choice {
			return wager // draw, stake returned
		}
		if beats(choice, o.Hand) {
			return wager * 2
		}
		return 0
	}
}

// DefaultRules builds the shipping rule set: big/small and exact totals on
// three dice (any triple voids big/small), plus rock-paper-scissors.
func DefaultRules() *RuleSet {
	rs := &RuleSet{
		types: map[string]TypeID{
			"big":        typeBig,
			"small":      typeSmall,
			"any_triple": typeAnyTriple,
			"rock":       typeRock,
			"paper":      typePaper,
			"scissors":   typeScissors,
		},
		rules: map[TypeID]BetRule{},
	}

	rs.rules[typeBig] = BetRule{ID: typeBig, Game: GameDice, Payout: func(o Outcome, w int64) int64 {
		if o.Triple() {
			return 0
		}
		if t := o.Total(); t >= 11 && t <= 17 {
			return w * 2
		}
		return 0
	}}
	rs.rules[typeSmall] = BetRule{ID: typeSmall, Game: GameDice, Payout: func(o Outcome, w int64) int64 {
		if o.Triple() {
			return 0
		}
		if t := o.Total(); t >= 4 && t <= 10 {
			return w * 2
		}
		return 0
	}}
	rs.rules[typeAnyTriple] = BetRule{ID: typeAnyTriple, Game: GameDice, Payout: func(o Outcome, w int64) int64 {
		if o.Triple() {
			return w * 31
		}
		return 0
	}}

	for total, odds := range exactTotalOdds {
		total, odds := total, odds
		id := typeTotalBase + TypeID(total)
		rs.types[strconv.Itoa(total)] = id
		rs.rules[id] = BetRule{ID: id, Game: GameDice, Payout: func(o Outcome, w int64) int64 {
			if o.Total() == total {
				return w * (odds + 1)
			}
			return 0
		}}
	}

	for _, choice := range []string{"rock", "paper", "scissors"} {
		id := rs.types[choice]
		rs.rules[id] = BetRule{ID: id, Game: GameHand, Payout: handPayout(choice)}
	}

	return rs
}
