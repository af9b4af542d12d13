package domain

import "testing"

func TestParseBracketBoundsStructured(t *testing.T) {
	m := Market{RawAttributes: map[string]any{"floor_strike": 70.0, "cap_strike": 75.0}}
	lower, upper, ok := ParseBracketBounds(m)
	if !ok || lower == nil || upper == nil || *lower != 70.0 || *upper != 75.0 {
		t.Fatalf("expected structured bounds (70,75), got (%v,%v,%v)", lower, upper, ok)
	}
}

func TestParseBracketBoundsBelow(t *testing.T) {
	m := Market{Title: "Will the high be below 72?"}
	lower, upper, ok := ParseBracketBounds(m)
	if !ok || lower != nil || upper == nil || *upper != 72.0 {
		t.Fatalf("expected (nil,72), got (%v,%v,%v)", lower, upper, ok)
	}
}

func TestParseBracketBoundsRangeIntegerHighExclusive(t *testing.T) {
	m := Market{Title: "High 70 to 72"}
	lower, upper, ok := ParseBracketBounds(m)
	if !ok || lower == nil || upper == nil || *lower != 70.0 || *upper != 73.0 {
		t.Fatalf("expected (70,73) with integer range bumped exclusive, got (%v,%v,%v)", lower, upper, ok)
	}
}

func TestResultForBounds(t *testing.T) {
	low, high := 70.0, 75.0
	if ResultForBounds(72, &low, &high) != ResultYes {
		t.Fatal("72 should be inside [70,75)")
	}
	if ResultForBounds(75, &low, &high) != ResultNo {
		t.Fatal("75 should be outside [70,75) (exclusive upper)")
	}
	if ResultForBounds(69, &low, &high) != ResultNo {
		t.Fatal("69 should be below lower bound")
	}
}
