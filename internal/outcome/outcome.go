package outcome

import (
	"errors"
	"fmt"
)

var ErrInvalidInput = errors.New("outcome: invalid input")

// Market is the closed set of bet markets the platform settles. Selections are
// fixed at ingestion time; evaluation never re-derives them from opaque keys.
type Market uint8

const (
	MarketUnknown Market = iota
	MarketMoneyline
	MarketTotal
	MarketBothScore
	MarketHalfTimeMoneyline
)

func (m Market) String() string {
	switch m {
	case MarketMoneyline:
		return "moneyline"
	case MarketTotal:
		return "total"
	case MarketBothScore:
		return "both_score"
	case MarketHalfTimeMoneyline:
		return "ht_moneyline"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// Selection is the closed set of outcomes across all markets.
type Selection uint8

const (
	SelectionUnknown Selection = iota
	SelectionHome
	SelectionDraw
	SelectionAway
	SelectionOver
	SelectionUnder
	SelectionYes
	SelectionNo
)

func (s Selection) String() string {
	switch s {
	case SelectionHome:
		return "home"
	case SelectionDraw:
		return "draw"
	case SelectionAway:
		return "away"
	case SelectionOver:
		return "over"
	case SelectionUnder:
		return "under"
	case SelectionYes:
		return "yes"
	case SelectionNo:
		return "no"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ValidFor reports whether the selection belongs to the market.
func (s Selection) ValidFor(m Market) bool {
	switch m {
	case MarketMoneyline, MarketHalfTimeMoneyline:
		return s == SelectionHome || s == SelectionDraw || s == SelectionAway
	case MarketTotal:
		return s == SelectionOver || s == SelectionUnder
	case MarketBothScore:
		return s == SelectionYes || s == SelectionNo
	default:
		return false
	}
}

// TotalLine is a goal total expressed in tenths of a goal (25 => 2.5 goals).
// Integer units keep line comparison exact; real lines are x.5 so there is no
// push, and a sum landing exactly on a whole-goal line counts as under.
type TotalLine int

func (l TotalLine) String() string {
	return fmt.Sprintf("%d.%d", int(l)/10, int(l)%10)
}

// StandardTotalLines are the lines settled for every entity.
var StandardTotalLines = []TotalLine{15, 25, 35}

// Set holds every derived outcome for one settled entity. Totals are keyed by
// line in tenths of a goal.
type Set struct {
	Moneyline Selection
	Totals    map[TotalLine]Selection
	BothScore Selection

	// HalfTime is SelectionUnknown when half-time scores were not reported.
	HalfTime Selection
}

// Derive computes the full outcome set from raw scores. It is pure: same
// scores in, same set out, no I/O, so re-running it after a raw-score rewrite
// is always safe.
func Derive(homeScore, awayScore int, htHome, htAway *int, lines []TotalLine) (Set, error) {
	if homeScore < 0 || awayScore < 0 {
		return Set{}, fmt.Errorf("%w: negative score", ErrInvalidInput)
	}
	if (htHome == nil) != (htAway == nil) {
		return Set{}, fmt.Errorf("%w: half-time scores must be both present or both absent", ErrInvalidInput)
	}
	if len(lines) == 0 {
		lines = StandardTotalLines
	}

	out := Set{
		Moneyline: moneyline(homeScore, awayScore),
		Totals:    make(map[TotalLine]Selection, len(lines)),
		BothScore: SelectionNo,
	}
	if homeScore > 0 && awayScore > 0 {
		out.BothScore = SelectionYes
	}

	sum := TotalLine((homeScore + awayScore) * 10)
	for _, line := range lines {
		if line <= 0 {
			return Set{}, fmt.Errorf("%w: non-positive total line %d", ErrInvalidInput, line)
		}
		if sum > line {
			out.Totals[line] = SelectionOver
		} else {
			out.Totals[line] = SelectionUnder
		}
	}

	if htHome != nil {
		if *htHome < 0 || *htAway < 0 {
			return Set{}, fmt.Errorf("%w: negative half-time score", ErrInvalidInput)
		}
		if *htHome > homeScore || *htAway > awayScore {
			return Set{}, fmt.Errorf("%w: half-time score exceeds full-time score", ErrInvalidInput)
		}
		out.HalfTime = moneyline(*htHome, *htAway)
	}

	return out, nil
}

func moneyline(home, away int) Selection {
	switch {
	case home > away:
		return SelectionHome
	case home < away:
		return SelectionAway
	default:
		return SelectionDraw
	}
}

// Lookup returns the settled selection for a market, resolving totals by line.
// ok is false when the market (or the requested line) was not settled.
func (s Set) Lookup(m Market, line TotalLine) (Selection, bool) {
	switch m {
	case MarketMoneyline:
		return s.Moneyline, s.Moneyline != SelectionUnknown
	case MarketTotal:
		sel, ok := s.Totals[line]
		return sel, ok
	case MarketBothScore:
		return s.BothScore, s.BothScore != SelectionUnknown
	case MarketHalfTimeMoneyline:
		return s.HalfTime, s.HalfTime != SelectionUnknown
	default:
		return SelectionUnknown, false
	}
}
