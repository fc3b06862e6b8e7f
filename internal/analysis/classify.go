package analysis

import (
	"sort"
	"strings"

	"github.com/ChuLiYu/replydraft/pkg/types"
)

// Urgency levels.
const (
	UrgencyHigh   = "high"
	UrgencyMedium = "medium"
	UrgencyNormal = "normal"
)

// Message categories. Each one has a matching reply template.
const (
	CategoryAcknowledgment     = "acknowledgment"
	CategoryMeetingRequest     = "meeting_request"
	CategoryInformationRequest = "information_request"
	CategoryFollowUp           = "follow_up"
	CategoryUrgent             = "urgent"
	CategoryGeneric            = "generic"
)

var (
	highUrgency   = []string{"urgent", "asap", "immediately", "emergency", "critical"}
	mediumUrgency = []string{"today", "tonight", "deadline", "expires", "closing"}

	// Checked in order; ties keep the earlier category.
	categoryKeywords = []struct {
		category string
		keywords []string
	}{
		{CategoryMeetingRequest, []string{"meeting", "call", "schedule", "appointment", "available"}},
		{CategoryInformationRequest, []string{"information", "details", "question", "inquiry", "clarification"}},
		{CategoryFollowUp, []string{"follow", "following up", "checking", "status", "update"}},
		{CategoryUrgent, highUrgency},
	}
)

// MessageAnalysis is the result of classifying one inbound message.
type MessageAnalysis struct {
	MessageID      string   `json:"message_id,omitempty"`
	Sender         string   `json:"sender"`
	SenderName     string   `json:"sender_name"`
	Category       string   `json:"category"`
	Urgency        string   `json:"urgency"`
	Keywords       []string `json:"keywords"`
	WordCount      int      `json:"word_count"`
	FormalityScore float64  `json:"formality_score"`
	IsQuestion     bool     `json:"is_question"`
}

// Urgency grades text by its urgency keywords.
func Urgency(text string) string {
	lower := strings.ToLower(text)
	if containsAny(lower, highUrgency) {
		return UrgencyHigh
	}
	if containsAny(lower, mediumUrgency) {
		return UrgencyMedium
	}
	return UrgencyNormal
}

// Category picks the category with the most keyword hits, or
// CategoryGeneric when nothing matches.
func Category(text string) string {
	lower := strings.ToLower(text)
	best, bestScore := CategoryGeneric, 0
	for _, c := range categoryKeywords {
		score := 0
		for _, k := range c.keywords {
			if strings.Contains(lower, k) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = c.category, score
		}
	}
	return best
}

// Keywords returns up to n of the most frequent non-stopword tokens of text,
// ties broken alphabetically.
func Keywords(text string, n int) []string {
	counts := make(map[string]int)
	for _, w := range Words(text) {
		if len(w) < 3 || IsStopword(w) {
			continue
		}
		counts[w]++
	}
	return topN(counts, n, 1)
}

// Analyze classifies msg.
func Analyze(msg types.Message) MessageAnalysis {
	text := msg.Subject + " " + msg.Body
	return MessageAnalysis{
		MessageID:      msg.ID,
		Sender:         SenderAddress(msg.Sender),
		SenderName:     SenderName(msg.Sender),
		Category:       Category(text),
		Urgency:        Urgency(text),
		Keywords:       Keywords(text, 5),
		WordCount:      WordCount(msg.Body),
		FormalityScore: FormalityScore(msg.Body),
		IsQuestion:     strings.Contains(msg.Body, "?"),
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// topN returns the keys of counts with count >= min, most frequent first,
// ties broken alphabetically.
func topN(counts map[string]int, n, min int) []string {
	keys := make([]string, 0, len(counts))
	for k, c := range counts {
		if c >= min {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if n > 0 && len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
