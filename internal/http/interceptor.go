package httpx

import (
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/shortontech/crawlwatch/internal/event"
	"github.com/shortontech/crawlwatch/internal/event/detection"
	"github.com/shortontech/crawlwatch/internal/session"
)

const (
	HeaderBotDetected = "X-AI-Bot-Detected"
	HeaderConfidence  = "X-AI-Confidence"
	HeaderMethod      = "X-AI-Method"
)

var staticExtensions = map[string]struct{}{
	".css": {}, ".js": {}, ".mjs": {}, ".map": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".avif": {}, ".svg": {}, ".ico": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {},
	".mp4": {}, ".webm": {}, ".mp3": {},
}

func isStaticAsset(p string) bool {
	_, ok := staticExtensions[strings.ToLower(path.Ext(p))]
	return ok
}

// Interceptor classifies every page request before handing it to next.
// Detection never fails the request: sink delivery is asynchronous and
// response headers are only advisory.
func (e Env) Interceptor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isServicePath(r.URL.Path) || isStaticAsset(r.URL.Path) || e.Detector == nil {
			next.ServeHTTP(w, r)
			return
		}

		in := e.classify(r)
		if v := in.Verdict; v.IsBot && v.BotType != "" {
			h := w.Header()
			h.Set(HeaderBotDetected, v.BotType)
			h.Set(HeaderConfidence, fmt.Sprintf("%.1f", v.Confidence*100))
			h.Set(HeaderMethod, string(v.Method))
		}

		if e.Metrics != nil {
			e.Metrics.RecordDetection(in.Verdict.BotType, string(in.Verdict.Method), string(in.Verdict.Source), in.Verdict.IsBot, in.Verdict.Confidence)
			if e.Sessions != nil {
				e.Metrics.SetSessionKeys(e.Sessions.Len())
			}
		}

		if e.Emit != nil && (in.Verdict.IsBot || e.Cfg.EmitAll) {
			e.Emit(event.Build(in))
		}

		next.ServeHTTP(w, r)
	})
}

// classify runs both detectors over r and merges their results.
func (e Env) classify(r *http.Request) event.Input {
	ctx := detection.NewRequestContext(r, e.Cfg.TrustProxy, e.now())

	var history []session.Entry
	if e.Sessions != nil {
		key := session.Key(ctx.IP, ctx.UserAgent)
		history = e.Sessions.Record(key, session.Entry{URL: ctx.URL, Timestamp: ctx.Timestamp})
	}

	core := e.Detector.DetectAI(ctx)
	cache := e.cacheDetector().Detect(ctx, history)

	return event.Input{
		Site:                e.Cfg.SiteOrigin,
		Context:             ctx,
		Core:                core,
		Cache:               cache,
		Verdict:             detection.Merge(core, cache, e.Detector.Thresholds()),
		SessionRequestCount: len(history),
	}
}

func (e Env) cacheDetector() *detection.CacheDetector {
	if e.Cache != nil {
		return e.Cache
	}
	return detection.NewCacheDetector()
}
