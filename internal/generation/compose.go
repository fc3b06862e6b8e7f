package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/ChuLiYu/replydraft/internal/analysis"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

const defaultComposeSentences = 4

// ExtractiveComposer builds a reply from the leading sentences of the
// retrieved passages.
type ExtractiveComposer struct {
	MaxSentences int
}

// Compose writes a greeting, up to MaxSentences context sentences and a
// sign-off. Passages that contribute no sentence are left out of Used.
func (c ExtractiveComposer) Compose(ctx context.Context, in ComposeInput) (Composition, error) {
	if err := ctx.Err(); err != nil {
		return Composition{}, err
	}
	limit := c.MaxSentences
	if limit <= 0 {
		limit = defaultComposeSentences
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", in.Analysis.SenderName)
	if subject := strings.TrimSpace(in.Request.Message.Subject); subject != "" {
		fmt.Fprintf(&b, "Thank you for your email about %s.", subject)
	} else {
		b.WriteString("Thank you for your email.")
	}

	body, used := contextSentences(in.Passages, limit)
	if body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}
	b.WriteString("\n\nPlease let me know if you have any questions.\n\nBest regards,")
	return Composition{Text: b.String(), Used: used}, nil
}

// contextSentences joins up to limit distinct sentences drawn from the
// passages in rank order. It also returns the passages that supplied at
// least one of them.
func contextSentences(passages []types.Passage, limit int) (string, []types.Passage) {
	seen := make(map[string]struct{})
	var (
		picked []string
		used   []types.Passage
	)
	for _, p := range passages {
		if len(picked) == limit {
			break
		}
		took := false
		for _, s := range analysis.Sentences(p.Text) {
			key := strings.ToLower(s)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			picked = append(picked, s)
			took = true
			if len(picked) == limit {
				break
			}
		}
		if took {
			used = append(used, p)
		}
	}
	return strings.Join(picked, " "), used
}
