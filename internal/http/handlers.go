package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shortontech/crawlwatch/internal/event"
	"github.com/shortontech/crawlwatch/internal/event/detection"
	"github.com/shortontech/crawlwatch/internal/metrics"
	"github.com/shortontech/crawlwatch/internal/patterns"
	"github.com/shortontech/crawlwatch/internal/session"
	cfg "github.com/shortontech/crawlwatch/pkg/config"
)

type Env struct {
	Cfg      cfg.Config
	Detector *detection.Detector
	Cache    *detection.CacheDetector
	Sessions session.Store
	Emit     func(event.Event) // injected sink fan-out; must not block
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	if e.Detector == nil {
		http.Error(w, "detector not configured", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// DetectRequest is the body of POST /api/detect.
type DetectRequest struct {
	Context detection.RequestContext `json:"context"`
	History []session.Entry          `json:"history,omitempty"`
}

// DetectResponse carries both detector results and the merged verdict.
type DetectResponse struct {
	Detection      detection.DetectionResult      `json:"detection"`
	CacheDetection detection.CacheDetectionResult `json:"cache_detection"`
	Verdict        detection.Verdict              `json:"verdict"`
}

// POST /api/detect classifies a posted request context without touching
// session state.
func (e Env) Detect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if e.Detector == nil {
		http.Error(w, "detector not configured", http.StatusServiceUnavailable)
		return
	}

	var req DetectRequest
	if !decodeJSON(w, r, e.Cfg.MaxBodyBytes, &req) {
		return
	}
	if req.Context.Timestamp <= 0 {
		req.Context.Timestamp = e.now().UnixMilli()
	}

	core := e.Detector.DetectAI(req.Context)
	cache := e.cacheDetector().Detect(req.Context, req.History)
	writeJSON(w, http.StatusOK, DetectResponse{
		Detection:      core,
		CacheDetection: cache,
		Verdict:        detection.Merge(core, cache, e.Detector.Thresholds()),
	})
}

// GET /api/signatures returns the pattern database, optionally filtered by ?category=.
func (e Env) Signatures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sigs := patterns.Signatures()
	if raw := r.URL.Query().Get("category"); raw != "" {
		c, ok := patterns.ParseCategory(raw)
		if !ok {
			http.Error(w, "unknown category", http.StatusBadRequest)
			return
		}
		sigs = patterns.ByCategory(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"signatures": sigs,
		"referrers":  patterns.AIReferrers(),
	})
}

// GET|PUT /api/thresholds. PUT bodies may carry either field; values are clamped.
func (e Env) Thresholds(w http.ResponseWriter, r *http.Request) {
	if e.Detector == nil {
		http.Error(w, "detector not configured", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, e.Detector.Thresholds())
	case http.MethodPut:
		th := e.Detector.Thresholds()
		if !decodeJSON(w, r, e.Cfg.MaxBodyBytes, &th) {
			return
		}
		writeJSON(w, http.StatusOK, e.Detector.UpdateThresholds(th.Suspicion, th.HighConfidence))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	if limit <= 0 {
		limit = 1 << 20
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
