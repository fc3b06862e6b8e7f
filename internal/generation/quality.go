package generation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ChuLiYu/replydraft/internal/analysis"
)

// Quality check failures.
var (
	ErrEmptyDraft            = errors.New("draft is empty")
	ErrUnresolvedPlaceholder = errors.New("draft has unresolved placeholder")
	ErrDraftLength           = errors.New("draft length out of bounds")
)

var placeholderPattern = regexp.MustCompile(`\{[a-zA-Z_][a-zA-Z0-9_]*\}`)

// CheckQuality validates a finished draft. unresolved are the placeholders
// the draft's producer failed to fill; text itself is never scanned for
// them, since substituted message fields may contain braces.
func CheckQuality(text string, unresolved []string, minWords, maxWords int) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyDraft
	}
	if len(unresolved) > 0 {
		return fmt.Errorf("%w: %s", ErrUnresolvedPlaceholder, strings.Join(unresolved, ", "))
	}
	n := analysis.WordCount(text)
	if n < minWords || n > maxWords {
		return fmt.Errorf("%w: %d words, want %d..%d", ErrDraftLength, n, minWords, maxWords)
	}
	return nil
}

// Unresolved lists, in order of first appearance, the placeholders of
// template that vars has no value for.
func Unresolved(template string, vars map[string]string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, p := range placeholderPattern.FindAllString(template, -1) {
		if _, ok := vars[p[1:len(p)-1]]; ok {
			continue
		}
		if _, dup := seen[p]; !dup {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// strayPlaceholders lists the placeholders in text that occur in none of
// sources, i.e. those a composer made up rather than copied.
func strayPlaceholders(text string, sources ...string) []string {
	copied := make(map[string]string)
	for _, src := range sources {
		for _, p := range placeholderPattern.FindAllString(src, -1) {
			copied[p[1:len(p)-1]] = p
		}
	}
	return Unresolved(text, copied)
}

// rejectionReason labels a quality error for metrics.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyDraft):
		return "empty"
	case errors.Is(err, ErrUnresolvedPlaceholder):
		return "placeholder"
	case errors.Is(err, ErrDraftLength):
		return "length"
	}
	return "error"
}
