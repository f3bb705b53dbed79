package event

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shortontech/crawlwatch/internal/event/detection"
)

// Input is everything the interception layer knows about one classified request.
type Input struct {
	Site                string
	Context             detection.RequestContext
	Core                detection.DetectionResult
	Cache               detection.CacheDetectionResult
	Verdict             detection.Verdict
	SessionRequestCount int
}

// Build assembles the sink event for a classified request. Site falls back to
// the origin of the page URL when unset.
func Build(in Input) Event {
	ctx := in.Context
	headers := redactHeaders(ctx.Headers)
	e := Event{
		EventID:   uuid.NewString(),
		Site:      in.Site,
		PageURL:   ctx.URL,
		UserAgent: ctx.UserAgent,
		BotType:   in.Verdict.BotType,
		Referrer:  ctx.Referrer,
		IP:        ctx.IP,
		Timestamp: timestamp(ctx.Timestamp),
		Metadata: Metadata{
			IsBot:               in.Verdict.IsBot,
			Confidence:          in.Verdict.Confidence,
			Method:              in.Verdict.Method,
			Source:              in.Verdict.Source,
			Evidence:            in.Verdict.Evidence,
			Detection:           in.Core,
			CacheDetection:      in.Cache,
			SessionRequestCount: in.SessionRequestCount,
			Headers:             headers,
			HeaderFingerprint:   detection.HeaderFingerprint(headers),
		},
	}
	if e.Metadata.Evidence == nil {
		e.Metadata.Evidence = []string{}
	}

	u, err := url.Parse(ctx.URL)
	if err != nil {
		e.Metadata.Path = ctx.URL
		return e
	}
	e.Metadata.Path = u.Path
	if e.Metadata.Path == "" {
		e.Metadata.Path = "/"
	}
	e.Metadata.Query = u.RawQuery
	if e.Site == "" && u.Host != "" {
		e.Site = u.Scheme + "://" + u.Host
	}
	if a := parseAttribution(u.Query()); !a.empty() {
		e.Metadata.Attribution = a
	}
	return e
}

// sensitiveHeaders carry credentials and never leave the process.
var sensitiveHeaders = map[string]bool{
	"cookie":              true,
	"set-cookie":          true,
	"authorization":       true,
	"proxy-authorization": true,
	"x-api-key":           true,
}

const redacted = "[REDACTED]"

// redactHeaders returns a copy of h with credential values replaced. The
// names are kept so header-based analysis of stored events still works.
func redactHeaders(h detection.Headers) detection.Headers {
	if h == nil {
		return nil
	}
	out := make(detection.Headers, len(h))
	for k, v := range h {
		if sensitiveHeaders[strings.ToLower(k)] {
			v = redacted
		}
		out[k] = v
	}
	return out
}

func timestamp(ms int64) string {
	if ms <= 0 {
		return time.Now().UTC().Format(time.RFC3339Nano)
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// Extract UTM tags and known click ids from the landing URL.
func parseAttribution(q url.Values) *Attribution {
	a := &Attribution{
		Source:   strings.TrimSpace(q.Get("utm_source")),
		Medium:   strings.TrimSpace(q.Get("utm_medium")),
		Campaign: strings.TrimSpace(q.Get("utm_campaign")),
		Term:     strings.TrimSpace(q.Get("utm_term")),
		Content:  strings.TrimSpace(q.Get("utm_content")),
	}
	ids := map[string]string{}
	copyIf(q, ids, "gclid", "gbraid", "wbraid", "msclkid", "fbclid", "ttclid", "li_fat_id", "twclid", "dclid")
	if len(ids) > 0 {
		a.ClickIDs = ids
	}
	return a
}

func copyIf(q url.Values, dst map[string]string, keys ...string) {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			dst[k] = v
		}
	}
}
