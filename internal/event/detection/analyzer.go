package detection

import "sync/atomic"

const (
	DefaultSuspicionThreshold      = 0.6
	DefaultHighConfidenceThreshold = 0.85
)

// Thresholds drive the early-return and acceptance decisions of DetectAI.
type Thresholds struct {
	Suspicion      float64 `json:"suspicion" yaml:"suspicion"`
	HighConfidence float64 `json:"high_confidence" yaml:"high_confidence"`
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Suspicion:      DefaultSuspicionThreshold,
		HighConfidence: DefaultHighConfidenceThreshold,
	}
}

// NewThresholds clamps suspicion to [0.1,0.9] and highConfidence to [0.7,0.99].
func NewThresholds(suspicion, highConfidence float64) Thresholds {
	return Thresholds{
		Suspicion:      clamp(suspicion, 0.1, 0.9),
		HighConfidence: clamp(highConfidence, 0.7, 0.99),
	}
}

// Detector is the multi-method AI crawler classifier. Scoring is a pure
// function of the request context and the current thresholds.
type Detector struct {
	thresholds atomic.Pointer[Thresholds]
}

// NewDetector creates a detector using th after clamping.
func NewDetector(th Thresholds) *Detector {
	d := &Detector{}
	d.UpdateThresholds(th.Suspicion, th.HighConfidence)
	return d
}

// Thresholds returns the thresholds currently in effect.
func (d *Detector) Thresholds() Thresholds {
	return *d.thresholds.Load()
}

// UpdateThresholds clamps and installs new thresholds, returning them.
func (d *Detector) UpdateThresholds(suspicion, highConfidence float64) Thresholds {
	th := NewThresholds(suspicion, highConfidence)
	d.thresholds.Store(&th)
	return th
}

// DetectAI classifies a request. The user-agent and referrer methods return
// early at the high-confidence threshold, the header and behavioral methods
// at the suspicion threshold; otherwise the most confident result wins if it
// clears the suspicion threshold.
func (d *Detector) DetectAI(ctx RequestContext) DetectionResult {
	return detectWith(ctx, d.Thresholds())
}

func detectWith(ctx RequestContext, th Thresholds) DetectionResult {
	ua := analyzeUserAgent(ctx.UserAgent, th)
	if ua.IsBot && ua.Confidence >= th.HighConfidence {
		return ua
	}

	ref := analyzeReferrer(ctx.Referrer, th)
	if ref.IsBot && ref.Confidence >= th.HighConfidence {
		return ref
	}

	hdr := analyzeHeaders(ctx.Headers, ctx.UserAgent, th)
	if hdr.IsBot && hdr.Confidence >= th.Suspicion {
		return hdr
	}

	beh := analyzeBehavior(ctx, th)
	if beh.IsBot && beh.Confidence >= th.Suspicion {
		return beh
	}

	best := ua
	for _, r := range []DetectionResult{ref, hdr, beh} {
		if r.Confidence > best.Confidence {
			best = r
		}
	}
	if best.Confidence >= th.Suspicion {
		return best
	}
	return noDetection()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo || v != v {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
