package analysis

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	angleAddr   = regexp.MustCompile(`<([^>]+)>`)
	displayName = regexp.MustCompile(`^([^<]+)<`)
)

// SenderAddress extracts the lowercase address from "Name <addr>" or a bare
// address. It returns "" when there is none.
func SenderAddress(sender string) string {
	if m := angleAddr.FindStringSubmatch(sender); m != nil {
		return strings.ToLower(strings.TrimSpace(m[1]))
	}
	if strings.Contains(sender, "@") {
		return strings.ToLower(strings.TrimSpace(sender))
	}
	return ""
}

// SenderName returns a name to greet the sender by. "Bob Smith <b@x>" gives
// "Bob Smith", "jane.doe@x" gives "Jane Doe", and an empty sender gives
// "there".
func SenderName(sender string) string {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return "there"
	}
	if m := displayName.FindStringSubmatch(sender); m != nil {
		name := strings.Trim(strings.TrimSpace(m[1]), `"`)
		if name != "" {
			return name
		}
		return "there"
	}
	if addr := SenderAddress(sender); addr != "" {
		local, _, _ := strings.Cut(addr, "@")
		return titleCase(strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(local))
	}
	return sender
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	if len(words) == 0 {
		return "there"
	}
	return strings.Join(words, " ")
}
