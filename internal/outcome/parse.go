package outcome

import "fmt"

// ParseSelection is the inverse of Selection.String for persisted values.
// Empty input maps to SelectionUnknown to round-trip nullable columns.
func ParseSelection(s string) (Selection, error) {
	switch s {
	case "":
		return SelectionUnknown, nil
	case "home":
		return SelectionHome, nil
	case "draw":
		return SelectionDraw, nil
	case "away":
		return SelectionAway, nil
	case "over":
		return SelectionOver, nil
	case "under":
		return SelectionUnder, nil
	case "yes":
		return SelectionYes, nil
	case "no":
		return SelectionNo, nil
	default:
		return SelectionUnknown, fmt.Errorf("%w: unknown selection %q", ErrInvalidInput, s)
	}
}

// ParseMarket is the inverse of Market.String for persisted values.
func ParseMarket(s string) (Market, error) {
	switch s {
	case "moneyline":
		return MarketMoneyline, nil
	case "total":
		return MarketTotal, nil
	case "both_score":
		return MarketBothScore, nil
	case "ht_moneyline":
		return MarketHalfTimeMoneyline, nil
	default:
		return MarketUnknown, fmt.Errorf("%w: unknown market %q", ErrInvalidInput, s)
	}
}
