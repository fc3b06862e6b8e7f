package generation

// Config holds the scoring constants and limits of the engine.
type Config struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	AcceptanceThreshold float64 `yaml:"acceptance_threshold"`

	RAGRelevanceWeight float64 `yaml:"rag_relevance_weight"`
	RAGStyleWeight     float64 `yaml:"rag_style_weight"`
	// NeutralStyleMatch stands in for the style-match score when the user
	// has no profile.
	NeutralStyleMatch float64 `yaml:"neutral_style_match"`

	DefaultRuleConfidence float64 `yaml:"default_rule_confidence"`

	HybridRuleWeight    float64 `yaml:"hybrid_rule_weight"`
	HybridContextWeight float64 `yaml:"hybrid_context_weight"`
	HybridBaseWeight    float64 `yaml:"hybrid_base_weight"`
	HybridStyleWeight   float64 `yaml:"hybrid_style_weight"`

	TemplateConfidence float64 `yaml:"template_confidence"`

	MaxResults       int `yaml:"max_results"`
	MaxContextLength int `yaml:"max_context_length"`
	MinWords         int `yaml:"min_words"`
	MaxWords         int `yaml:"max_words"`
}

// DefaultConfig returns the stock scoring constants.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold:   0.70,
		AcceptanceThreshold:   0.60,
		RAGRelevanceWeight:    0.7,
		RAGStyleWeight:        0.3,
		NeutralStyleMatch:     0.5,
		DefaultRuleConfidence: 0.75,
		HybridRuleWeight:      0.5,
		HybridContextWeight:   0.5,
		HybridBaseWeight:      0.8,
		HybridStyleWeight:     0.2,
		TemplateConfidence:    0.30,
		MaxResults:            5,
		MaxContextLength:      2000,
		MinWords:              3,
		MaxWords:              400,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	setFloat := func(v *float64, def float64) {
		if *v == 0 {
			*v = def
		}
	}
	setInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	setFloat(&c.SimilarityThreshold, d.SimilarityThreshold)
	setFloat(&c.AcceptanceThreshold, d.AcceptanceThreshold)
	setFloat(&c.RAGRelevanceWeight, d.RAGRelevanceWeight)
	setFloat(&c.RAGStyleWeight, d.RAGStyleWeight)
	setFloat(&c.NeutralStyleMatch, d.NeutralStyleMatch)
	setFloat(&c.DefaultRuleConfidence, d.DefaultRuleConfidence)
	setFloat(&c.HybridRuleWeight, d.HybridRuleWeight)
	setFloat(&c.HybridContextWeight, d.HybridContextWeight)
	setFloat(&c.HybridBaseWeight, d.HybridBaseWeight)
	setFloat(&c.HybridStyleWeight, d.HybridStyleWeight)
	setFloat(&c.TemplateConfidence, d.TemplateConfidence)
	setInt(&c.MaxResults, d.MaxResults)
	setInt(&c.MaxContextLength, d.MaxContextLength)
	setInt(&c.MinWords, d.MinWords)
	setInt(&c.MaxWords, d.MaxWords)
	return c
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
