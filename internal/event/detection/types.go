package detection

import (
	"sort"
	"strings"

	"github.com/shortontech/crawlwatch/internal/patterns"
)

// Method names the analysis that produced a DetectionResult.
type Method string

const (
	MethodUserAgentPrimary    Method = "user_agent_primary"
	MethodUserAgentSuspicious Method = "user_agent_suspicious"
	MethodBehavioral          Method = "behavioral_analysis"
	MethodReferrer            Method = "referrer_analysis"
	MethodHeader              Method = "header_analysis"

	// MethodCacheActivity tags verdicts taken from the cache-activity detector.
	MethodCacheActivity Method = "cache_activity"
)

// IndicatorType names the sub-check that produced a CacheIndicator.
type IndicatorType string

const (
	IndicatorAIReferrer        IndicatorType = "ai_referrer"
	IndicatorCacheRefresh      IndicatorType = "cache_refresh"
	IndicatorRapidAccess       IndicatorType = "rapid_access"
	IndicatorPlatformSignature IndicatorType = "platform_signature"
)

// Headers is a request header mapping with case-insensitive lookups.
type Headers map[string]string

// Get returns the value stored under name, trying the exact key, the
// lowercased key and finally a case-insensitive scan.
func (h Headers) Get(name string) string {
	if h == nil {
		return ""
	}
	if v, ok := h[name]; ok {
		return v
	}
	if v, ok := h[strings.ToLower(name)]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Has reports whether name is present with a non-empty value.
func (h Headers) Has(name string) bool {
	return h.Get(name) != ""
}

// Names returns the distinct header names lowercased and sorted. Keys that
// differ only in case are reported once.
func (h Headers) Names() []string {
	seen := make(map[string]bool, len(h))
	names := make([]string, 0, len(h))
	for k := range h {
		name := strings.ToLower(k)
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequestContext is the normalized view of one inbound request.
type RequestContext struct {
	UserAgent string  `json:"user_agent"`
	Headers   Headers `json:"headers"`
	URL       string  `json:"url"`
	IP        string  `json:"ip"`
	Referrer  string  `json:"referrer"`
	Timestamp int64   `json:"timestamp"` // epoch milliseconds
}

// DetectionResult is the verdict of one core analysis method, or of the
// combined core detector.
type DetectionResult struct {
	IsBot      bool              `json:"is_bot"`
	BotType    string            `json:"bot_type,omitempty"`
	Confidence float64           `json:"confidence"`
	Method     Method            `json:"method"`
	Evidence   []string          `json:"evidence"`
	Category   patterns.Category `json:"category,omitempty"`
}

// CacheIndicator is one signal of AI activity that survived HTTP caching.
type CacheIndicator struct {
	Type       IndicatorType `json:"type"`
	Confidence float64       `json:"confidence"`
	Evidence   []string      `json:"evidence"`
	Timestamp  int64         `json:"timestamp"`
}

// CacheDetectionResult aggregates the indicators of the cache detector.
type CacheDetectionResult struct {
	IsCacheActivity  bool             `json:"is_cache_activity"`
	Indicators       []CacheIndicator `json:"indicators"`
	TotalConfidence  float64          `json:"total_confidence"`
	SuggestedBotType string           `json:"suggested_bot_type,omitempty"`
	SuggestedType    IndicatorType    `json:"suggested_type,omitempty"`
}

func noDetection() DetectionResult {
	return DetectionResult{
		Method:   MethodUserAgentPrimary,
		Evidence: []string{},
	}
}
