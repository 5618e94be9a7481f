package nlu

import (
	"regexp"
	"strconv"
	"strings"
)

// Verdict is the structured judgement extracted from a raw classifier reply.
// Extraction is best-effort: the backend is only prompted, not forced, to
// answer in the Content/Score/Intent/Category shape.
type Verdict struct {
	Answer   string
	Score    int
	Intent   string
	Category string
}

var verdictPattern = regexp.MustCompile(`\s*Content:(.*)\s*Score:(.*\d+)\s*Intent:(.*)\s*Category:(.*)`)

var digitRun = regexp.MustCompile(`\d+`)

// ParseVerdict extracts a Verdict from raw classifier text. ok is false when
// the reply does not match the extraction pattern; callers fall back to
// treating the raw text as the answer.
func ParseVerdict(raw string) (Verdict, bool) {
	m := verdictPattern.FindStringSubmatch(raw)
	if m == nil {
		return Verdict{}, false
	}
	return Verdict{
		Answer:   m[1],
		Score:    SentimentScore(strings.TrimSpace(m[2])),
		Intent:   strings.TrimSpace(m[3]),
		Category: strings.TrimSpace(m[4]),
	}, true
}

// SentimentScore pulls the first digit run out of a score field. Returns -1
// when no digits are present, the sentinel for "unparseable".
func SentimentScore(s string) int {
	m := digitRun.FindString(s)
	if m == "" {
		return -1
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return -1
	}
	return n
}
