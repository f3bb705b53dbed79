package detection

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/shortontech/crawlwatch/internal/patterns"
	"github.com/shortontech/crawlwatch/internal/session"
)

const (
	cacheActivityThreshold = 0.6
	rapidAccessWindowMS    = 10_000
)

// cacheRefreshPatterns are conditional/revalidation header fragments. The part
// before ':' is matched against header names, the whole fragment against values.
var cacheRefreshPatterns = []string{
	"if-modified-since",
	"if-none-match",
	"cache-control: no-cache",
	"cache-control: max-age=0",
	"pragma: no-cache",
}

var platformURLSignatures = []string{
	"ai-summary", "chatgpt", "claude", "perplexity", "ai-query", "llm-request",
	"ai-crawl", "bot-refresh", "ai-content", "gpt", "ai-search", "ai-response",
}

var platformHeaderSignatures = []string{
	"x-ai-request", "x-openai", "x-anthropic", "x-perplexity",
	"x-ai-bot", "x-llm", "x-chatgpt", "x-claude",
}

var platformUASignatures = []string{
	"ai-enhanced", "ai-powered", "llm-client", "gpt-client",
	"ai-browser", "smart-browser", "ai-agent",
}

// CacheDetector looks for AI involvement that survives a CDN or browser
// cache answering the original AI request.
type CacheDetector struct{}

// NewCacheDetector returns a cache-activity detector.
func NewCacheDetector() *CacheDetector { return &CacheDetector{} }

// Detect runs the four cache sub-checks against ctx and the session's
// recorded requests and aggregates the indicators that fire.
func (c *CacheDetector) Detect(ctx RequestContext, history []session.Entry) CacheDetectionResult {
	var indicators []CacheIndicator
	checks := []*CacheIndicator{
		checkAIReferrer(ctx),
		checkCacheRefresh(ctx),
		checkRapidAccess(ctx, history),
		checkPlatformSignature(ctx),
	}
	for _, ind := range checks {
		if ind != nil {
			indicators = append(indicators, *ind)
		}
	}

	result := CacheDetectionResult{Indicators: indicators}
	if result.Indicators == nil {
		result.Indicators = []CacheIndicator{}
	}
	if len(indicators) == 0 {
		return result
	}

	sum := 0.0
	for _, ind := range indicators {
		sum += ind.Confidence
	}
	result.TotalConfidence = sum / float64(len(indicators))
	result.IsCacheActivity = result.TotalConfidence >= cacheActivityThreshold

	top := indicators[0]
	for _, ind := range indicators[1:] {
		if ind.Confidence > top.Confidence {
			top = ind
		}
	}
	if top.Confidence > cacheActivityThreshold {
		result.SuggestedType = top.Type
		result.SuggestedBotType = suggestedBotType(top.Type, ctx.Referrer)
	}
	return result
}

func suggestedBotType(t IndicatorType, referrer string) string {
	switch t {
	case IndicatorAIReferrer:
		return platformName(referrer, cachePlatforms)
	case IndicatorRapidAccess:
		return "Rapid_Access_AI_Bot"
	case IndicatorPlatformSignature:
		return "AI_Platform_Signature"
	default:
		return "Cache_Refresh_AI_Bot"
	}
}

func checkAIReferrer(ctx RequestContext) *CacheIndicator {
	if ctx.Referrer == "" {
		return nil
	}
	confidence := 0.0
	evidence := []string{}

	if domain, ok := patterns.MatchReferrer(ctx.Referrer); ok {
		confidence = 0.9
		evidence = append(evidence, fmt.Sprintf("AI platform referrer: %s", domain))
	}

	lower := strings.ToLower(ctx.Referrer)
	for _, param := range aiQueryParams {
		if strings.Contains(lower, param) {
			confidence = max(confidence, 0.7)
			evidence = append(evidence, fmt.Sprintf("AI query parameter in referrer: %s", param))
		}
	}

	if confidence == 0 {
		return nil
	}
	return &CacheIndicator{
		Type:       IndicatorAIReferrer,
		Confidence: confidence,
		Evidence:   evidence,
		Timestamp:  ctx.Timestamp,
	}
}

func checkCacheRefresh(ctx RequestContext) *CacheIndicator {
	score := 0.0
	evidence := []string{}

	for _, name := range ctx.Headers.Names() {
		value := strings.ToLower(ctx.Headers.Get(name))
		for _, pattern := range cacheRefreshPatterns {
			headerPart, _, _ := strings.Cut(pattern, ":")
			if strings.Contains(name, headerPart) || strings.Contains(value, pattern) {
				score += 0.3
				evidence = append(evidence, fmt.Sprintf("Cache refresh header %s matches %q", name, pattern))
			}
		}
	}

	cacheControl := strings.ToLower(ctx.Headers.Get("cache-control"))
	pragma := strings.ToLower(ctx.Headers.Get("pragma"))
	if strings.Contains(cacheControl, "no-cache") && strings.Contains(pragma, "no-cache") {
		score += 0.4
		evidence = append(evidence, "Forced revalidation via Cache-Control and Pragma no-cache")
	}

	if ctx.Headers.Has("if-modified-since") && !ctx.Headers.Has("accept-language") {
		score += 0.5
		evidence = append(evidence, "Conditional request without Accept-Language")
	}

	if score < 0.3 {
		return nil
	}
	return &CacheIndicator{
		Type:       IndicatorCacheRefresh,
		Confidence: min(score, 0.85),
		Evidence:   evidence,
		Timestamp:  ctx.Timestamp,
	}
}

func checkRapidAccess(ctx RequestContext, history []session.Entry) *CacheIndicator {
	if len(history) < 2 {
		return nil
	}

	var recent []session.Entry
	for _, e := range history {
		if age := ctx.Timestamp - e.Timestamp; age >= 0 && age <= rapidAccessWindowMS {
			recent = append(recent, e)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool { return recent[i].Timestamp < recent[j].Timestamp })

	score := 0.0
	evidence := []string{}

	if len(recent) >= 3 {
		score += 0.6
		evidence = append(evidence, fmt.Sprintf("%d requests within 10s", len(recent)))
	}

	paths := map[string]struct{}{}
	for _, e := range recent {
		paths[urlPath(e.URL)] = struct{}{}
	}
	if len(paths) >= 3 {
		score += 0.4
		evidence = append(evidence, fmt.Sprintf("%d distinct paths within 10s", len(paths)))
	}

	if len(recent) >= 2 {
		total := recent[len(recent)-1].Timestamp - recent[0].Timestamp
		mean := float64(total) / float64(len(recent)-1)
		if mean < 2000 {
			score += 0.5
			evidence = append(evidence, fmt.Sprintf("Mean request interval %.0fms", mean))
		}
	}

	if score < 0.4 {
		return nil
	}
	return &CacheIndicator{
		Type:       IndicatorRapidAccess,
		Confidence: min(score, 0.8),
		Evidence:   evidence,
		Timestamp:  ctx.Timestamp,
	}
}

func checkPlatformSignature(ctx RequestContext) *CacheIndicator {
	score := 0.0
	evidence := []string{}

	target := strings.ToLower(pathAndQuery(ctx.URL))
	for _, sig := range platformURLSignatures {
		if strings.Contains(target, sig) {
			score += 0.6
			evidence = append(evidence, fmt.Sprintf("AI signature in URL: %s", sig))
		}
	}

	for _, name := range ctx.Headers.Names() {
		for _, sig := range platformHeaderSignatures {
			if strings.Contains(name, sig) {
				score += 0.8
				evidence = append(evidence, fmt.Sprintf("AI-specific header: %s", name))
			}
		}
	}

	lowerUA := strings.ToLower(ctx.UserAgent)
	for _, sig := range platformUASignatures {
		if strings.Contains(lowerUA, sig) {
			score += 0.7
			evidence = append(evidence, fmt.Sprintf("AI enhancement in User-Agent: %s", sig))
		}
	}

	if score < 0.5 {
		return nil
	}
	return &CacheIndicator{
		Type:       IndicatorPlatformSignature,
		Confidence: min(score, 0.9),
		Evidence:   evidence,
		Timestamp:  ctx.Timestamp,
	}
}

// urlPath returns the path of raw, ignoring any query string.
func urlPath(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		if u.Path == "" {
			return "/"
		}
		return u.Path
	}
	p, _, _ := strings.Cut(raw, "?")
	return p
}

func pathAndQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.RawQuery == "" {
		return u.Path
	}
	return u.Path + "?" + u.RawQuery
}
