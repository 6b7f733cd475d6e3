package outcome

import (
	"errors"
	"testing"
)

func intp(v int) *int { return &v }

func TestTotalLineString(t *testing.T) {
	t.Parallel()

	// Lines are tenths of a goal: 25 renders as 2.5, not 12.5.
	cases := map[TotalLine]string{15: "1.5", 20: "2.0", 25: "2.5", 35: "3.5"}
	for line, want := range cases {
		if got := line.String(); got != want {
			t.Errorf("TotalLine(%d).String() = %q, want %q", int(line), got, want)
		}
	}
}

func TestDerive_Moneyline(t *testing.T) {
	t.Parallel()

	cases := []struct {
		home, away int
		want       Selection
	}{
		{2, 1, SelectionHome},
		{0, 3, SelectionAway},
		{1, 1, SelectionDraw},
		{0, 0, SelectionDraw},
	}
	for _, tc := range cases {
		got, err := Derive(tc.home, tc.away, nil, nil, nil)
		if err != nil {
			t.Fatalf("Derive(%d,%d): %v", tc.home, tc.away, err)
		}
		if got.Moneyline != tc.want {
			t.Errorf("moneyline(%d,%d): got %v want %v", tc.home, tc.away, got.Moneyline, tc.want)
		}
	}
}

func TestDerive_Totals(t *testing.T) {
	t.Parallel()

	// 1-1: two goals. 2.5 line must read under; ties on a whole-goal line
	// count as under too.
	s, err := Derive(1, 1, nil, nil, []TotalLine{15, 20, 25})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if s.Totals[15] != SelectionOver {
		t.Errorf("1.5 line: got %v want over", s.Totals[15])
	}
	if s.Totals[20] != SelectionUnder {
		t.Errorf("2.0 line with 2 goals: got %v want under", s.Totals[20])
	}
	if s.Totals[25] != SelectionUnder {
		t.Errorf("2.5 line: got %v want under", s.Totals[25])
	}
}

func TestDerive_BothScore(t *testing.T) {
	t.Parallel()

	s, err := Derive(2, 2, nil, nil, nil)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if s.BothScore != SelectionYes {
		t.Errorf("2-2 both score: got %v want yes", s.BothScore)
	}

	s, err = Derive(3, 0, nil, nil, nil)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if s.BothScore != SelectionNo {
		t.Errorf("3-0 both score: got %v want no", s.BothScore)
	}
}

func TestDerive_HalfTime(t *testing.T) {
	t.Parallel()

	s, err := Derive(2, 1, intp(0), intp(1), nil)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if s.HalfTime != SelectionAway {
		t.Errorf("ht 0-1: got %v want away", s.HalfTime)
	}

	s, err = Derive(2, 1, nil, nil, nil)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if s.HalfTime != SelectionUnknown {
		t.Errorf("missing ht scores: got %v want unknown", s.HalfTime)
	}

	if _, err := Derive(2, 1, intp(1), nil, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("one-sided ht scores: got %v want ErrInvalidInput", err)
	}
	if _, err := Derive(2, 1, intp(3), intp(0), nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("ht exceeding ft: got %v want ErrInvalidInput", err)
	}
}

func TestDerive_Deterministic(t *testing.T) {
	t.Parallel()

	a, err := Derive(4, 2, intp(2), intp(1), nil)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	b, err := Derive(4, 2, intp(2), intp(1), nil)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if a.Moneyline != b.Moneyline || a.BothScore != b.BothScore || a.HalfTime != b.HalfTime {
		t.Fatalf("derive not deterministic: %+v vs %+v", a, b)
	}
	for line, sel := range a.Totals {
		if b.Totals[line] != sel {
			t.Fatalf("total line %v differs: %v vs %v", line, sel, b.Totals[line])
		}
	}
}

func TestSelection_ValidFor(t *testing.T) {
	t.Parallel()

	if !SelectionDraw.ValidFor(MarketMoneyline) {
		t.Errorf("draw is valid for moneyline")
	}
	if SelectionDraw.ValidFor(MarketTotal) {
		t.Errorf("draw is not valid for totals")
	}
	if !SelectionOver.ValidFor(MarketTotal) {
		t.Errorf("over is valid for totals")
	}
	if !SelectionYes.ValidFor(MarketBothScore) {
		t.Errorf("yes is valid for both-score")
	}
	if SelectionHome.ValidFor(MarketUnknown) {
		t.Errorf("nothing is valid for an unknown market")
	}
}

func TestSet_Lookup(t *testing.T) {
	t.Parallel()

	s, err := Derive(2, 1, nil, nil, nil)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	if sel, ok := s.Lookup(MarketMoneyline, 0); !ok || sel != SelectionHome {
		t.Errorf("moneyline lookup: got %v,%v", sel, ok)
	}
	if sel, ok := s.Lookup(MarketTotal, 25); !ok || sel != SelectionOver {
		t.Errorf("total 2.5 lookup: got %v,%v", sel, ok)
	}
	if _, ok := s.Lookup(MarketTotal, 45); ok {
		t.Errorf("unsettled line must not resolve")
	}
	if _, ok := s.Lookup(MarketHalfTimeMoneyline, 0); ok {
		t.Errorf("missing half-time outcome must not resolve")
	}
}
