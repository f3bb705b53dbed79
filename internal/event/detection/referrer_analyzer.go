package detection

import (
	"fmt"
	"strings"

	"github.com/shortontech/crawlwatch/internal/patterns"
)

// aiQueryParams appear in referrers copied out of AI chat or search UIs.
var aiQueryParams = []string{"q=", "query=", "search=", "prompt=", "message="}

type platformRule struct {
	name    string
	needles []string
}

// referrerPlatforms resolves a core referrer match to a platform name.
var referrerPlatforms = []platformRule{
	{"ChatGPT", []string{"openai", "chatgpt"}},
	{"Claude", []string{"claude"}},
	{"Perplexity", []string{"perplexity"}},
	{"Google_Bard", []string{"bard", "google"}},
	{"Microsoft_Copilot", []string{"copilot", "microsoft"}},
}

// cachePlatforms is the longer cascade used when naming cache-activity bots.
var cachePlatforms = []platformRule{
	{"ChatGPT", []string{"openai", "chatgpt"}},
	{"Claude", []string{"claude", "anthropic"}},
	{"Perplexity", []string{"perplexity"}},
	{"Google_Bard", []string{"bard", "google"}},
	{"Microsoft_Copilot", []string{"copilot", "microsoft"}},
	{"You_AI", []string{"you.com"}},
	{"Phind", []string{"phind"}},
	{"Character_AI", []string{"character.ai"}},
	{"Poe", []string{"poe.com"}},
}

const genericPlatform = "AI_Platform_User"

func platformName(referrer string, rules []platformRule) string {
	lower := strings.ToLower(referrer)
	for _, r := range rules {
		for _, n := range r.needles {
			if strings.Contains(lower, n) {
				return r.name
			}
		}
	}
	return genericPlatform
}

// analyzeReferrer flags visitors arriving from AI platforms. A referrer that
// only carries AI-style query parameters scores 0.7 and is flagged when that
// clears the suspicion threshold.
func analyzeReferrer(referrer string, th Thresholds) DetectionResult {
	if referrer == "" {
		return DetectionResult{Method: MethodReferrer, Evidence: []string{}}
	}

	if domain, ok := patterns.MatchReferrer(referrer); ok {
		return DetectionResult{
			IsBot:      true,
			BotType:    platformName(referrer, referrerPlatforms),
			Confidence: 0.90,
			Method:     MethodReferrer,
			Category:   patterns.CategoryAIAssistant,
			Evidence: []string{
				fmt.Sprintf("AI platform referrer: %s", domain),
				fmt.Sprintf("Referrer: %s", referrer),
			},
		}
	}

	lower := strings.ToLower(referrer)
	result := DetectionResult{Method: MethodReferrer, Evidence: []string{}}
	for _, param := range aiQueryParams {
		if strings.Contains(lower, param) {
			result.Confidence = max(result.Confidence, 0.7)
			result.Evidence = append(result.Evidence, fmt.Sprintf("AI-style query parameter in referrer: %s", param))
		}
	}
	if result.Confidence >= th.Suspicion {
		result.IsBot = true
		result.BotType = "AI_Query_Referrer"
	}
	return result
}
