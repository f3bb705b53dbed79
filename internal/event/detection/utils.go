package detection

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// ClientIP extracts the client address. Proxy headers are only honoured when
// trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// Take the first IP in the chain (original client)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// FlattenHeaders lowercases header names and joins repeated values.
func FlattenHeaders(h http.Header) Headers {
	out := make(Headers, len(h))
	for k, vals := range h {
		out[strings.ToLower(k)] = strings.Join(vals, ", ")
	}
	return out
}

// AbsoluteURL rebuilds the full URL the client asked for.
func AbsoluteURL(r *http.Request, trustProxy bool) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if trustProxy {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
		}
	}
	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

// NewRequestContext builds the detector input for r observed at now.
func NewRequestContext(r *http.Request, trustProxy bool, now time.Time) RequestContext {
	headers := FlattenHeaders(r.Header)
	return RequestContext{
		UserAgent: r.UserAgent(),
		Headers:   headers,
		URL:       AbsoluteURL(r, trustProxy),
		IP:        ClientIP(r, trustProxy),
		Referrer:  r.Referer(),
		Timestamp: now.UnixMilli(),
	}
}
