package detection

import (
	"fmt"
	"strings"

	"github.com/shortontech/crawlwatch/internal/patterns"
)

// suspiciousKeywords hint at scripted clients; each one found adds 0.2.
var suspiciousKeywords = []string{
	"bot", "crawler", "spider", "scraper", "fetcher", "harvester",
	"python", "requests", "urllib", "httpx", "curl", "wget",
	"headless", "phantom", "selenium", "puppeteer", "playwright",
}

// analyzeUserAgent matches the user agent against the pattern database and
// falls back to keyword and length heuristics.
func analyzeUserAgent(userAgent string, th Thresholds) DetectionResult {
	if sig, ok := patterns.FindSignatureByPattern(userAgent); ok {
		return DetectionResult{
			IsBot:      true,
			BotType:    sig.Name,
			Confidence: sig.Confidence,
			Method:     MethodUserAgentPrimary,
			Category:   sig.Category,
			Evidence: []string{
				fmt.Sprintf("Known AI bot signature: %s", sig.Name),
				fmt.Sprintf("User-Agent: %s", userAgent),
			},
		}
	}

	lowerUA := strings.ToLower(userAgent)
	score := 0.0
	evidence := []string{}

	for _, keyword := range suspiciousKeywords {
		if strings.Contains(lowerUA, keyword) {
			score += 0.2
			evidence = append(evidence, fmt.Sprintf("Suspicious keyword in User-Agent: %s", keyword))
		}
	}

	if n := len(userAgent); n < 20 {
		score += 0.3
		evidence = append(evidence, fmt.Sprintf("Unusually short User-Agent (%d chars)", n))
	} else if n > 500 {
		score += 0.2
		evidence = append(evidence, fmt.Sprintf("Unusually long User-Agent (%d chars)", n))
	}

	result := DetectionResult{
		IsBot:      score >= th.Suspicion,
		Confidence: min(score, 0.95),
		Method:     MethodUserAgentSuspicious,
		Evidence:   evidence,
	}
	if result.IsBot {
		result.BotType = "Suspicious_Automation"
		result.Category = patterns.CategoryGenericAI
	}
	return result
}
