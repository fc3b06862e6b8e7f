package analysis

import "strings"

var (
	formalMarkers = []string{
		"dear", "sincerely", "regards", "kindly", "please find", "i would", "would you",
		"thank you", "furthermore", "therefore", "however", "appreciate", "respectfully",
	}
	informalMarkers = []string{
		"hey", "thanks", "cheers", "gonna", "wanna", "yeah", "cool", "awesome",
		"lol", "btw", "cya", "!", "can't", "won't", "don't", "i'll", "we'll",
	}
)

// FormalityScore estimates formality in [0,1] from marker phrases. Text with
// no markers scores a neutral 0.5.
func FormalityScore(text string) float64 {
	lower := strings.ToLower(text)
	formal, informal := 0, 0
	for _, m := range formalMarkers {
		formal += strings.Count(lower, m)
	}
	for _, m := range informalMarkers {
		informal += strings.Count(lower, m)
	}
	if formal+informal == 0 {
		return 0.5
	}
	return 0.5 + 0.5*float64(formal-informal)/float64(formal+informal)
}
