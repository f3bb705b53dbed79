package detection

// Source records which detector a merged verdict came from.
type Source string

const (
	SourceCore  Source = "core"
	SourceCache Source = "cache"
	SourceNone  Source = "none"
)

// Verdict is the merged outcome of the core and cache-activity detectors.
type Verdict struct {
	IsBot      bool     `json:"is_bot"`
	BotType    string   `json:"bot_type,omitempty"`
	Confidence float64  `json:"confidence"`
	Method     Method   `json:"method"`
	Source     Source   `json:"source"`
	Evidence   []string `json:"evidence"`
}

// Merge applies the precedence rule: a high-confidence core result, then
// cache activity with a suggested bot type, then any core bot result.
func Merge(core DetectionResult, cache CacheDetectionResult, th Thresholds) Verdict {
	if core.IsBot && core.Confidence >= th.HighConfidence {
		return fromCore(core)
	}
	if cache.IsCacheActivity && cache.SuggestedBotType != "" {
		evidence := []string{}
		for _, ind := range cache.Indicators {
			evidence = append(evidence, ind.Evidence...)
		}
		return Verdict{
			IsBot:      true,
			BotType:    cache.SuggestedBotType,
			Confidence: cache.TotalConfidence,
			Method:     MethodCacheActivity,
			Source:     SourceCache,
			Evidence:   evidence,
		}
	}
	if core.IsBot {
		return fromCore(core)
	}
	return Verdict{
		Method:   core.Method,
		Source:   SourceNone,
		Evidence: []string{},
	}
}

func fromCore(r DetectionResult) Verdict {
	return Verdict{
		IsBot:      true,
		BotType:    r.BotType,
		Confidence: r.Confidence,
		Method:     r.Method,
		Source:     SourceCore,
		Evidence:   append([]string{}, r.Evidence...),
	}
}
