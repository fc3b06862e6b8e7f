package generation

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/ChuLiYu/replydraft/internal/analysis"
	"github.com/ChuLiYu/replydraft/pkg/types"
)

// Matcher types.
const (
	MatchContains = "contains"
	MatchRegex    = "regex"
)

// SortRules orders rules by descending priority, keeping input order among
// equal priorities. The input slice is not modified.
func SortRules(rules []types.ResponseRule) []types.ResponseRule {
	out := make([]types.ResponseRule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// MatchRule returns the first rule in rules whose trigger patterns match
// msg, or nil. Rules must already be in priority order.
func MatchRule(rules []types.ResponseRule, msg types.Message) *types.ResponseRule {
	text := strings.ToLower(msg.Subject + " " + msg.Body)
	for i := range rules {
		if ruleMatches(rules[i], text) {
			r := rules[i]
			return &r
		}
	}
	return nil
}

func ruleMatches(rule types.ResponseRule, lowered string) bool {
	for _, m := range rule.TriggerPatterns {
		if m.Pattern == "" {
			continue
		}
		switch m.Type {
		case "", MatchContains:
			if strings.Contains(lowered, strings.ToLower(m.Pattern)) {
				return true
			}
		case MatchRegex:
			re, err := regexp.Compile("(?i)" + m.Pattern)
			if err != nil {
				slog.Debug("skipping invalid rule pattern", "rule_id", rule.ID, "pattern", m.Pattern, "error", err)
				continue
			}
			if re.MatchString(lowered) {
				return true
			}
		}
	}
	return false
}

// ValidateRule reports the first problem that would stop rule from ever
// matching or filling.
func ValidateRule(rule types.ResponseRule) error {
	if rule.ID == "" {
		return types.NewValidationError("id", "is required")
	}
	if strings.TrimSpace(rule.Template) == "" {
		return types.NewValidationError("template", "must not be empty")
	}
	if len(rule.TriggerPatterns) == 0 {
		return types.NewValidationError("trigger_patterns", "at least one pattern is required")
	}
	for _, m := range rule.TriggerPatterns {
		switch m.Type {
		case "", MatchContains:
		case MatchRegex:
			if _, err := regexp.Compile(m.Pattern); err != nil {
				return types.NewValidationError("trigger_patterns", err.Error())
			}
		default:
			return types.NewValidationError("trigger_patterns", "unknown matcher type "+m.Type)
		}
	}
	switch rule.Formality {
	case "", types.FormalityFormal, types.FormalityNeutral, types.FormalityCasual:
	default:
		return types.NewValidationError("formality", "unknown formality "+rule.Formality)
	}
	if rule.Confidence < 0 || rule.Confidence > 1 {
		return types.NewValidationError("confidence", "must be within [0,1]")
	}
	return nil
}

// Fill substitutes the known {name} placeholders in template. Unknown
// placeholders are left in place and substituted values are not rescanned.
func Fill(template string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(p string) string {
		if v, ok := vars[p[1:len(p)-1]]; ok {
			return v
		}
		return p
	})
}

// templateVars are the values every rule and template can reference.
func templateVars(in *Input) map[string]string {
	subject := strings.TrimSpace(in.Request.Message.Subject)
	if subject == "" {
		subject = "your message"
	}
	return map[string]string{
		"sender_name":  in.Analysis.SenderName,
		"sender_email": in.Analysis.Sender,
		"subject":      subject,
		"date":         in.Now.Format("January 2, 2006"),
		"user_name":    userName(in.Profile),
	}
}

// userName takes the last line of a multi-line signature as the user's name.
func userName(p *types.StyleProfile) string {
	if p != nil {
		if lines := analysis.Lines(p.Signature); len(lines) > 1 {
			return lines[len(lines)-1]
		}
	}
	return "AI Assistant"
}

// formalityTarget maps a rule's declared formality onto a score.
func formalityTarget(level string) (float64, bool) {
	switch level {
	case types.FormalityFormal:
		return 0.9, true
	case types.FormalityNeutral:
		return 0.5, true
	case types.FormalityCasual:
		return 0.2, true
	}
	return 0, false
}

