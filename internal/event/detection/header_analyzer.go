package detection

import (
	"fmt"
	"strings"
)

// expectedHeaders are sent by every mainstream browser; each missing one adds 0.15.
var expectedHeaders = []string{"accept", "accept-language", "accept-encoding", "cache-control", "connection"}

// analyzeHeaders scores how far the header set departs from a real browser.
func analyzeHeaders(headers Headers, userAgent string, th Thresholds) DetectionResult {
	score := 0.0
	evidence := []string{}

	missing := checkMissingHeaders(headers)
	for _, h := range missing {
		score += 0.15
		evidence = append(evidence, fmt.Sprintf("Missing header: %s", h))
	}

	accept := headers.Get("accept")
	if strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html") {
		score += 0.3
		evidence = append(evidence, "Accept prefers JSON over HTML")
	}

	if lang := headers.Get("accept-language"); lang != "" && (lang == "en" || !strings.Contains(lang, ",")) {
		score += 0.2
		evidence = append(evidence, fmt.Sprintf("Single-language Accept-Language: %s", lang))
	}

	claimsBrowser := strings.Contains(userAgent, "Mozilla")
	if claimsBrowser && contains(missing, "accept-language") {
		score += 0.3
		evidence = append(evidence, "Browser User-Agent without Accept-Language")
	}

	if claimsBrowser && strings.EqualFold(headers.Get("connection"), "close") {
		score += 0.2
		evidence = append(evidence, "Browser User-Agent with Connection: close")
	}

	result := DetectionResult{
		IsBot:      score >= th.Suspicion,
		Confidence: min(score, 0.85),
		Method:     MethodHeader,
		Evidence:   evidence,
	}
	if result.IsBot {
		result.BotType = "Header_Anomaly_Bot"
	}
	return result
}

// checkMissingHeaders lists the expected headers that are absent or empty.
func checkMissingHeaders(headers Headers) []string {
	var missing []string
	for _, expected := range expectedHeaders {
		if !headers.Has(expected) {
			missing = append(missing, expected)
		}
	}
	return missing
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
