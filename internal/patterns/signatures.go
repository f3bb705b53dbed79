package patterns

import "strings"

// Category groups bot signatures by the kind of AI product behind them.
type Category string

const (
	CategoryAIAssistant Category = "ai_assistant"
	CategorySearchAI    Category = "search_ai"
	CategoryContentAI   Category = "content_ai"
	CategoryCodingAI    Category = "coding_ai"
	CategoryGenericAI   Category = "generic_ai"
)

// BotSignature describes one family of AI crawlers or agents.
// Patterns are lowercase substrings matched against the user agent.
type BotSignature struct {
	Name        string   `json:"name"`
	Patterns    []string `json:"patterns"`
	Confidence  float64  `json:"confidence"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
}

// signatures is ordered: lookups return the first family that matches, so
// product-specific families come before the generic catch-alls.
var signatures = []BotSignature{
	{
		Name:        "ChatGPT",
		Patterns:    []string{"chatgpt-user", "gptbot", "oai-searchbot", "chatgpt"},
		Confidence:  0.98,
		Category:    CategoryAIAssistant,
		Description: "OpenAI ChatGPT browsing agent and GPTBot crawler",
	},
	{
		Name:        "Claude",
		Patterns:    []string{"claudebot", "claude-user", "claude-searchbot", "claude-web", "anthropic-ai"},
		Confidence:  0.98,
		Category:    CategoryAIAssistant,
		Description: "Anthropic Claude crawler and user-initiated fetcher",
	},
	{
		Name:        "Perplexity",
		Patterns:    []string{"perplexitybot", "perplexity-user", "perplexity"},
		Confidence:  0.95,
		Category:    CategorySearchAI,
		Description: "Perplexity AI answer engine",
	},
	{
		Name:        "Google_Bard",
		Patterns:    []string{"google-extended", "googleother", "gemini-deep-research", "bard-google"},
		Confidence:  0.90,
		Category:    CategoryAIAssistant,
		Description: "Google Gemini / Bard AI crawlers",
	},
	{
		Name:        "Microsoft_Copilot",
		Patterns:    []string{"copilot", "bingchat", "bing-chat"},
		Confidence:  0.90,
		Category:    CategoryAIAssistant,
		Description: "Microsoft Copilot and Bing Chat",
	},
	{
		Name:        "You_AI",
		Patterns:    []string{"youbot"},
		Confidence:  0.90,
		Category:    CategorySearchAI,
		Description: "You.com AI search crawler",
	},
	{
		Name:        "DuckAssist",
		Patterns:    []string{"duckassistbot"},
		Confidence:  0.88,
		Category:    CategorySearchAI,
		Description: "DuckDuckGo AI-assisted answers",
	},
	{
		Name:        "Phind",
		Patterns:    []string{"phindbot", "phind"},
		Confidence:  0.90,
		Category:    CategoryCodingAI,
		Description: "Phind developer search assistant",
	},
	{
		Name:        "Cohere",
		Patterns:    []string{"cohere-ai", "cohere-training-data-crawler"},
		Confidence:  0.90,
		Category:    CategoryContentAI,
		Description: "Cohere training data crawler",
	},
	{
		Name:        "Meta_AI",
		Patterns:    []string{"meta-externalagent", "meta-externalfetcher", "facebookbot"},
		Confidence:  0.88,
		Category:    CategoryContentAI,
		Description: "Meta AI training and retrieval agents",
	},
	{
		Name:        "Apple_AI",
		Patterns:    []string{"applebot-extended"},
		Confidence:  0.88,
		Category:    CategoryContentAI,
		Description: "Apple Intelligence training crawler",
	},
	{
		Name:        "Amazon_AI",
		Patterns:    []string{"amazonbot"},
		Confidence:  0.85,
		Category:    CategorySearchAI,
		Description: "Amazon Alexa / Rufus answer crawler",
	},
	{
		Name:        "ByteDance",
		Patterns:    []string{"bytespider"},
		Confidence:  0.85,
		Category:    CategoryContentAI,
		Description: "ByteDance LLM training crawler",
	},
	{
		Name:        "CommonCrawl",
		Patterns:    []string{"ccbot"},
		Confidence:  0.85,
		Category:    CategoryContentAI,
		Description: "Common Crawl, widely used as LLM training data",
	},
	{
		Name:        "AI2",
		Patterns:    []string{"ai2bot"},
		Confidence:  0.82,
		Category:    CategoryContentAI,
		Description: "Allen Institute for AI crawler",
	},
	{
		Name:        "Diffbot",
		Patterns:    []string{"diffbot"},
		Confidence:  0.80,
		Category:    CategoryContentAI,
		Description: "Diffbot knowledge graph extraction",
	},
	{
		Name:        "Generic_AI_Agent",
		Patterns:    []string{"ai-agent", "llm-agent", "langchain", "llama-index", "llamaindex", "autogpt", "openai"},
		Confidence:  0.70,
		Category:    CategoryGenericAI,
		Description: "LLM frameworks and autonomous agents",
	},
	{
		Name:        "Automation_Tool",
		Patterns:    []string{"headlesschrome", "phantomjs", "webdriver"},
		Confidence:  0.65,
		Category:    CategoryGenericAI,
		Description: "Headless browsers commonly driven by AI agents",
	},
}

// FindSignatureByPattern returns the first registered signature with a
// pattern occurring in text, compared case-insensitively.
func FindSignatureByPattern(text string) (*BotSignature, bool) {
	if text == "" {
		return nil, false
	}
	lower := strings.ToLower(text)
	for i := range signatures {
		for _, p := range signatures[i].Patterns {
			if strings.Contains(lower, p) {
				sig := clone(signatures[i])
				return &sig, true
			}
		}
	}
	return nil, false
}

// AllPatterns flattens the patterns of every signature in registration order.
func AllPatterns() []string {
	var out []string
	for _, s := range signatures {
		out = append(out, s.Patterns...)
	}
	return out
}

// ByCategory returns the signatures registered under c.
func ByCategory(c Category) []BotSignature {
	out := []BotSignature{}
	for _, s := range signatures {
		if s.Category == c {
			out = append(out, clone(s))
		}
	}
	return out
}

// Signatures returns a copy of the whole database.
func Signatures() []BotSignature {
	out := make([]BotSignature, 0, len(signatures))
	for _, s := range signatures {
		out = append(out, clone(s))
	}
	return out
}

// ParseCategory reports whether s names a known category.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryAIAssistant, CategorySearchAI, CategoryContentAI, CategoryCodingAI, CategoryGenericAI:
		return c, true
	}
	return "", false
}

func clone(s BotSignature) BotSignature {
	s.Patterns = append([]string(nil), s.Patterns...)
	return s
}
