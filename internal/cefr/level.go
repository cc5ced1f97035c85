package cefr

import (
	"fmt"
	"regexp"
	"strings"
)

// Level is one position on the six-value CEFR proficiency scale.
type Level string

const (
	LevelA1 Level = "A1"
	LevelA2 Level = "A2"
	LevelB1 Level = "B1"
	LevelB2 Level = "B2"
	LevelC1 Level = "C1"
	LevelC2 Level = "C2"
)

var ordered = []Level{LevelA1, LevelA2, LevelB1, LevelB2, LevelC1, LevelC2}

// Levels returns the scale in ascending order.
func Levels() []Level {
	out := make([]Level, len(ordered))
	copy(out, ordered)
	return out
}

func Lowest() Level  { return ordered[0] }
func Highest() Level { return ordered[len(ordered)-1] }

// Ordinal returns the zero-based position of l on the scale, or -1.
func Ordinal(l Level) int {
	for i, v := range ordered {
		if v == l {
			return i
		}
	}
	return -1
}

// Valid reports whether l is a member of the scale.
func Valid(l Level) bool { return Ordinal(l) >= 0 }

// Parse normalizes a user-supplied level string ("b2", " B2 ") into a Level.
func Parse(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if !Valid(l) {
		return "", fmt.Errorf("invalid proficiency level %q", s)
	}
	return l, nil
}

const (
	shiftUpMean   = 85.0
	shiftDownMean = 45.0
)

// ShiftRecommendation applies the one-step recommendation rule: a mean
// dimension score >= 85 recommends the next level up, <= 45 the next level
// down, clamped at the ends of the scale.
func ShiftRecommendation(mean float64, current Level) Level {
	i := Ordinal(current)
	if i < 0 {
		return current
	}
	switch {
	case mean >= shiftUpMean && i < len(ordered)-1:
		return ordered[i+1]
	case mean <= shiftDownMean && i > 0:
		return ordered[i-1]
	default:
		return current
	}
}

// announcementPatterns match the literal phrasings the tutor uses when it
// states a level in conversation. Matched case-insensitively; the first
// match wins.
var announcementPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\byour\s+level\s+is\s+([ABC][12])\b`),
	regexp.MustCompile(`(?i)\byou\s+are\s+(?:at|around)\s+(?:level\s+)?([ABC][12])\b`),
	regexp.MustCompile(`(?i)\b(?:estimated|assessed|current)\s+level\s*(?:is|:)?\s*([ABC][12])\b`),
	regexp.MustCompile(`(?i)\blevel\s*[:=]?\s*([ABC][12])\b`),
}

// ExtractAnnouncedLevel scans tutor text for an in-line level announcement.
func ExtractAnnouncedLevel(text string) (Level, bool) {
	for _, re := range announcementPatterns {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		l, err := Parse(m[1])
		if err != nil {
			continue
		}
		return l, true
	}
	return "", false
}

// WPMBand is the expected words-per-minute range for a level.
type WPMBand struct {
	Min float64
	Max float64
}

func (b WPMBand) Midpoint() float64 { return (b.Min + b.Max) / 2 }

var wpmBands = map[Level]WPMBand{
	LevelA1: {Min: 40, Max: 70},
	LevelA2: {Min: 60, Max: 90},
	LevelB1: {Min: 80, Max: 110},
	LevelB2: {Min: 100, Max: 130},
	LevelC1: {Min: 120, Max: 150},
	LevelC2: {Min: 140, Max: 170},
}

// ExpectedWPM returns the expected speaking-rate band for a level. Unknown
// levels fall back to the lowest band.
func ExpectedWPM(l Level) WPMBand {
	if b, ok := wpmBands[l]; ok {
		return b
	}
	return wpmBands[Lowest()]
}
