package cefr

import "testing"

func TestParseNormalizes(t *testing.T) {
	l, err := Parse(" b2 ")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if l != LevelB2 {
		t.Fatalf("Parse() = %q, want %q", l, LevelB2)
	}
	if _, err := Parse("D1"); err == nil {
		t.Fatalf("Parse(D1) should fail")
	}
}

func TestOrdinalOrdering(t *testing.T) {
	prev := -1
	for _, l := range Levels() {
		i := Ordinal(l)
		if i <= prev {
			t.Fatalf("Ordinal(%s) = %d, not ascending after %d", l, i, prev)
		}
		prev = i
	}
	if Ordinal("X9") != -1 {
		t.Fatalf("Ordinal of invalid level should be -1")
	}
}

func TestShiftRecommendation(t *testing.T) {
	cases := []struct {
		mean    float64
		current Level
		want    Level
	}{
		{90, LevelB1, LevelB2},
		{85, LevelB1, LevelB2},
		{90, LevelC2, LevelC2},
		{40, LevelB1, LevelA2},
		{45, LevelB1, LevelA2},
		{30, LevelA1, LevelA1},
		{60, LevelB1, LevelB1},
	}
	for _, c := range cases {
		if got := ShiftRecommendation(c.mean, c.current); got != c.want {
			t.Fatalf("ShiftRecommendation(%v, %s) = %s, want %s", c.mean, c.current, got, c.want)
		}
	}
}

func TestExtractAnnouncedLevel(t *testing.T) {
	cases := []struct {
		text string
		want Level
		ok   bool
	}{
		{"Great session! Your level is B2.", LevelB2, true},
		{"your LEVEL is a1", LevelA1, true},
		{"I think you are at level C1 now.", LevelC1, true},
		{"Estimated level: B1", LevelB1, true},
		{"Keep practicing daily.", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := ExtractAnnouncedLevel(c.text)
		if ok != c.ok || got != c.want {
			t.Fatalf("ExtractAnnouncedLevel(%q) = (%q, %v), want (%q, %v)", c.text, got, ok, c.want, c.ok)
		}
	}
}

func TestExpectedWPMMidpoint(t *testing.T) {
	b := ExpectedWPM(LevelB1)
	if b.Min >= b.Max {
		t.Fatalf("band min %v should be below max %v", b.Min, b.Max)
	}
	if m := b.Midpoint(); m <= b.Min || m >= b.Max {
		t.Fatalf("midpoint %v should be inside the band", m)
	}
	if ExpectedWPM("unknown") != ExpectedWPM(Lowest()) {
		t.Fatalf("unknown level should fall back to the lowest band")
	}
}
