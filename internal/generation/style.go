package generation

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/ChuLiYu/replydraft/internal/analysis"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

const (
	formalAbove = 0.8
	casualBelow = 0.3
)

var (
	toFormal = newWordReplacer(
		"thanks", "thank you",
		"Thanks", "Thank you",
		"can't", "cannot",
		"won't", "will not",
		"don't", "do not",
		"i'll", "I will",
		"I'll", "I will",
		"we'll", "we will",
		"We'll", "We will",
	)
	toCasual = newWordReplacer(
		"thank you very much", "thanks",
		"Thank you very much", "Thanks",
		"I would appreciate", "I'd appreciate",
		"I will", "I'll",
		"we will", "we'll",
		"We will", "We'll",
	)

	greetingWords = []string{"Good morning", "Good afternoon", "Hello", "Dear", "Hi", "Hey"}
	stockClosings = []string{"Best regards", "Sincerely", "Thank you"}
)

// wordReplacer is strings.Replacer restricted to whole words, so that
// "thanks" is swapped but "thanksgiving" is not.
type wordReplacer struct {
	re   *regexp.Regexp
	with map[string]string
}

func newWordReplacer(oldnew ...string) *wordReplacer {
	with := make(map[string]string, len(oldnew)/2)
	olds := make([]string, 0, len(oldnew)/2)
	for i := 0; i+1 < len(oldnew); i += 2 {
		with[oldnew[i]] = oldnew[i+1]
		olds = append(olds, regexp.QuoteMeta(oldnew[i]))
	}
	// Longest first, since alternation prefers the leftmost branch.
	sort.SliceStable(olds, func(i, j int) bool { return len(olds[i]) > len(olds[j]) })
	return &wordReplacer{
		re:   regexp.MustCompile(`\b(?:` + strings.Join(olds, "|") + `)\b`),
		with: with,
	}
}

func (r *wordReplacer) Replace(s string) string {
	return r.re.ReplaceAllStringFunc(s, func(m string) string { return r.with[m] })
}

// StyleResult is the outcome of adapting a draft.
type StyleResult struct {
	Text string
	// Match is nil when there was no profile to compare against.
	Match *float64
}

// Adapt rewrites text toward the user's profile. formality, when non-nil,
// overrides the profile's formality as the target. Without a profile only
// the formality transform applies.
func Adapt(text string, profile *types.StyleProfile, formality *float64) StyleResult {
	target, haveTarget := 0.0, false
	if profile != nil {
		target, haveTarget = profile.FormalityScore, true
	}
	if formality != nil {
		target, haveTarget = *formality, true
	}
	if haveTarget {
		switch {
		case target > formalAbove:
			text = toFormal.Replace(text)
		case target < casualBelow:
			text = toCasual.Replace(text)
		}
	}
	if profile == nil {
		return StyleResult{Text: text}
	}

	text = applyGreeting(text, profile.Greetings)
	text = applyCommonPhrase(text, profile.CommonPhrases)
	text = splitLongSentences(text, profile.AvgSentenceLength)
	if len(profile.Closings) > 0 {
		text = applyClosing(text, profile.Closings[0])
	}
	text = applySignature(text, profile.Signature)

	match := styleMatch(text, profile, target)
	return StyleResult{Text: text, Match: &match}
}

// applyGreeting swaps the salutation word of the first line for the one the
// user habitually opens with.
func applyGreeting(text string, greetings []string) string {
	if len(greetings) == 0 {
		return text
	}
	want := leadingGreeting(greetings[0])
	if want == "" {
		return text
	}
	first, rest, multiline := strings.Cut(text, "\n")
	have := leadingGreeting(first)
	if have == "" || have == want {
		return text
	}
	first = want + first[len(have):]
	if !multiline {
		return first
	}
	return first + "\n" + rest
}

func leadingGreeting(line string) string {
	trimmed := strings.TrimSpace(line)
	for _, g := range greetingWords {
		if len(trimmed) >= len(g) && strings.EqualFold(trimmed[:len(g)], g) {
			rest := trimmed[len(g):]
			if rest == "" || rest[0] == ' ' || rest[0] == ',' {
				return line[:strings.Index(line, trimmed)+len(g)]
			}
		}
	}
	return ""
}

// applyCommonPhrase replaces the first "Thank you" with the user's own
// short thanking phrase.
func applyCommonPhrase(text string, phrases []string) string {
	if !strings.Contains(text, "Thank you") {
		return text
	}
	for _, p := range phrases {
		lower := strings.ToLower(p)
		if strings.HasPrefix(lower, "thank") && len(strings.Fields(p)) <= 4 {
			return strings.Replace(text, "Thank you", capitalize(p), 1)
		}
	}
	return text
}

// splitLongSentences breaks sentences far longer than the user's average at
// their first ", and " or "; ".
func splitLongSentences(text string, avg float64) string {
	if avg <= 0 {
		return text
	}
	limit := int(math.Max(1.5*avg, 8))
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		sentences := analysis.Sentences(line)
		changed := false
		for j, s := range sentences {
			if analysis.WordCount(s) <= limit {
				continue
			}
			for _, sep := range []string{", and ", "; "} {
				if k := strings.Index(s, sep); k > 0 {
					head := strings.TrimRight(s[:k], ",;")
					tail := strings.TrimSpace(s[k+len(sep):])
					sentences[j] = head + ". " + capitalize(tail)
					changed = true
					break
				}
			}
		}
		if changed {
			lines[i] = strings.Join(sentences, " ")
		}
	}
	return strings.Join(lines, "\n")
}

// applyClosing replaces the first stock closing with the user's closing, or
// appends it when the draft has none.
func applyClosing(text, closing string) string {
	closing = strings.TrimSpace(closing)
	if closing == "" || strings.Contains(text, closing) {
		return text
	}
	for _, stock := range stockClosings {
		if idx := lastLineIndex(text, stock); idx >= 0 {
			lines := strings.Split(text, "\n")
			lines[idx] = closing
			return strings.Join(lines, "\n")
		}
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "regards") || strings.Contains(lower, "sincerely") || strings.Contains(lower, "best") {
		return text
	}
	return strings.TrimRight(text, "\n") + "\n\n" + closing
}

// lastLineIndex returns the index of the last line that starts with prefix
// and is no longer than a sign-off line.
func lastLineIndex(text, prefix string) int {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if strings.HasPrefix(l, prefix) && len(l) <= len(prefix)+2 {
			return i
		}
	}
	return -1
}

// applySignature appends the lines of signature that do not already end
// the draft.
func applySignature(text, signature string) string {
	sig := analysis.Lines(signature)
	if len(sig) == 0 || strings.HasSuffix(strings.TrimSpace(text), strings.Join(sig, "\n")) {
		return text
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == sig[0] {
		return strings.Join(append(lines, sig[1:]...), "\n")
	}
	return strings.Join(lines, "\n") + "\n" + strings.Join(sig, "\n")
}

// styleMatch scores how close text is to the profile: formality counts 0.5,
// sentence length 0.3 and closing 0.2.
func styleMatch(text string, p *types.StyleProfile, target float64) float64 {
	formality := 1 - math.Abs(analysis.FormalityScore(text)-target)

	length := 1.0
	if p.AvgSentenceLength > 0 {
		diff := math.Abs(analysis.AvgSentenceLength(text)-p.AvgSentenceLength) / p.AvgSentenceLength
		length = 1 - math.Min(diff, 1)
	}

	closing := 0.5
	if len(p.Closings) > 0 || p.Signature != "" {
		closing = 0
		candidates := append([]string{}, p.Closings...)
		if sig := analysis.Lines(p.Signature); len(sig) > 0 {
			candidates = append(candidates, sig[0])
		}
		for _, c := range candidates {
			if c != "" && strings.Contains(text, c) {
				closing = 1
				break
			}
		}
	}
	return clamp01(0.5*formality + 0.3*length + 0.2*closing)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
