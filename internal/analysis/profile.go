package analysis

import (
	"sort"
	"strings"
	"time"

	"github.com/ChuLiYu/replydraft/pkg/types"
)

const (
	maxGreetings     = 5
	maxClosings      = 5
	maxCommonPhrases = 10
	minOccurrences   = 2
)

var (
	greetingMarkers  = []string{"hi", "hello", "dear", "good morning", "good afternoon"}
	closingMarkers   = []string{"thank", "best", "look forward", "let me know"}
	signatureMarkers = []string{"best", "regards", "sincerely", "thanks", "cheers"}
)

// BuildStyleProfile summarises the writing style of the sent messages.
// Empty bodies are ignored. A profile built from no usable message carries
// neutral defaults and zero confidence.
func BuildStyleProfile(userID string, sent []types.Message, now time.Time) types.StyleProfile {
	profile := types.StyleProfile{UserID: userID, FormalityScore: 0.5, UpdatedAt: now}

	greetings := make(map[string]int)
	closings := make(map[string]int)
	signatures := make(map[string]int)
	phrases := make(map[string]int)
	var formality, sentenceLen float64

	for _, m := range sent {
		if strings.TrimSpace(m.Body) == "" {
			continue
		}
		profile.SampleCount++
		formality += FormalityScore(m.Body)
		sentenceLen += AvgSentenceLength(m.Body)

		lines := Lines(m.Body)
		if g := lines[0]; len(g) < 100 && hasWordMarker(g, greetingMarkers) {
			greetings[g]++
		}
		if len(lines) >= 3 {
			for _, l := range lines[len(lines)-3 : len(lines)-1] {
				if len(l) < 50 && containsAny(strings.ToLower(l), closingMarkers) {
					closings[l]++
				}
			}
		}
		tail := lines
		if len(tail) > 3 {
			tail = tail[len(tail)-3:]
		}
		if sig := signatureBlock(tail); sig != "" {
			signatures[sig]++
		}
		countPhrases(phrases, Words(m.Body))
	}

	if profile.SampleCount == 0 {
		return profile
	}
	n := float64(profile.SampleCount)
	profile.FormalityScore = formality / n
	profile.AvgSentenceLength = sentenceLen / n
	profile.Greetings = topN(greetings, maxGreetings, minOccurrences)
	profile.Closings = topN(closings, maxClosings, minOccurrences)
	if sigs := topN(signatures, 1, minOccurrences); len(sigs) > 0 {
		profile.Signature = sigs[0]
	}
	profile.CommonPhrases = topPhrases(phrases)
	profile.Confidence = ProfileConfidence(profile.SampleCount)
	return profile
}

// ProfileConfidence grows with the number of samples a profile was built from.
func ProfileConfidence(samples int) float64 {
	switch {
	case samples >= 50:
		return 1.0
	case samples >= 20:
		return 0.8
	case samples >= 10:
		return 0.6
	case samples > 0:
		return 0.4
	}
	return 0
}

// signatureBlock returns the trailing lines starting at the last sign-off
// marker, joined by newlines.
func signatureBlock(tail []string) string {
	for i := len(tail) - 1; i >= 0; i-- {
		if containsAny(strings.ToLower(tail[i]), signatureMarkers) {
			return strings.Join(tail[i:], "\n")
		}
	}
	return ""
}

func hasWordMarker(line string, markers []string) bool {
	padded := " " + strings.Join(Words(line), " ") + " "
	for _, m := range markers {
		if strings.Contains(padded, " "+m+" ") {
			return true
		}
	}
	return false
}

func countPhrases(counts map[string]int, words []string) {
	for size := 2; size <= 6; size++ {
		for i := 0; i+size <= len(words); i++ {
			counts[strings.Join(words[i:i+size], " ")]++
		}
	}
}

// topPhrases prefers frequent phrases, then longer ones.
func topPhrases(counts map[string]int) []string {
	var keys []string
	for k, c := range counts {
		if c >= minOccurrences {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := counts[keys[i]], counts[keys[j]]
		if ci != cj {
			return ci > cj
		}
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	if len(keys) > maxCommonPhrases {
		keys = keys[:maxCommonPhrases]
	}
	return keys
}
