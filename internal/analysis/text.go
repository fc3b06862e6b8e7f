// Package analysis holds the text heuristics shared by the generation engine
// and the job handlers: tokenising, sender parsing, message classification,
// formality estimation and style-profile building.
package analysis

import (
	"regexp"
	"strings"
	"unicode"
)

var sentenceEnd = regexp.MustCompile(`[.!?]+(\s+|$)`)

// Words splits text into lowercase word tokens. Apostrophes inside a word
// are kept so contractions stay whole.
func Words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Sentences splits text on terminal punctuation and line breaks.
func Sentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := sentenceEnd.FindAllStringIndex(line, -1)
		start := 0
		for _, m := range idx {
			if s := strings.TrimSpace(line[start:m[1]]); s != "" {
				out = append(out, s)
			}
			start = m[1]
		}
		if s := strings.TrimSpace(line[start:]); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// AvgSentenceLength is the mean number of words per sentence, 0 for empty text.
func AvgSentenceLength(text string) float64 {
	sentences := Sentences(text)
	if len(sentences) == 0 {
		return 0
	}
	total := 0
	for _, s := range sentences {
		total += WordCount(s)
	}
	return float64(total) / float64(len(sentences))
}

// Lines returns the trimmed non-empty lines of text.
func Lines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and are as at be been but by can could do does for from had has have
		he her his i if in into is it its just me my no not of on or our out over so some than that the their
		them then there these they this to too up us very was we were what when where which who will with
		would you your i'm i'll i've it's don't can't won't let please hi hello dear thanks thank regards best`) {
		stopwords[w] = struct{}{}
	}
}

// IsStopword reports whether w carries no topical meaning.
func IsStopword(w string) bool {
	_, ok := stopwords[w]
	return ok
}
