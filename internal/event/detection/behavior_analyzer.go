package detection

import (
	"fmt"
	"strings"
)

// aiQueryIndicators are URL fragments used by AI tools when fetching pages.
var aiQueryIndicators = []string{
	"ai-summary", "chatgpt", "claude", "perplexity", "ai-query",
	"llm-request", "ai-crawl", "bot-refresh", "ai-content",
}

// analyzeBehavior scores the requested URL. Session rapid-access and IP
// clustering are not scored here; the cache detector owns rapid access.
func analyzeBehavior(ctx RequestContext, th Thresholds) DetectionResult {
	score := 0.0
	evidence := []string{}
	lowerURL := strings.ToLower(ctx.URL)

	for _, indicator := range aiQueryIndicators {
		if strings.Contains(lowerURL, indicator) {
			score += 0.4
			evidence = append(evidence, fmt.Sprintf("AI query indicator in URL: %s", indicator))
		}
	}

	if ctx.Referrer == "" && !strings.HasSuffix(ctx.URL, "/") && !strings.Contains(ctx.URL, "?") {
		score += 0.1
		evidence = append(evidence, "Direct deep-link access without referrer")
	}

	score += sessionBurstScore(ctx)
	score += ipClusterScore(ctx)

	result := DetectionResult{
		IsBot:      score >= th.Suspicion,
		Confidence: min(score, 0.80),
		Method:     MethodBehavioral,
		Evidence:   evidence,
	}
	if result.IsBot {
		result.BotType = "AI_Query_Bot"
	}
	return result
}

// sessionBurstScore is reserved for per-session burst scoring in the core
// detector and always contributes nothing.
func sessionBurstScore(RequestContext) float64 { return 0 }

// ipClusterScore is reserved for IP range clustering and always contributes nothing.
func ipClusterScore(RequestContext) float64 { return 0 }
