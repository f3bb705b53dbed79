package httpx

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// ProxyHandler forwards page requests to the protected site.
type ProxyHandler struct {
	destination *url.URL
	client      *http.Client
}

// NewProxyHandler creates a proxy for destination, which must be an absolute URL.
func NewProxyHandler(destination *url.URL) *ProxyHandler {
	return &ProxyHandler{
		destination: destination,
		client: &http.Client{
			Timeout: 30 * time.Second,
			// Redirects are the upstream's answer to the client, not ours to follow.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// ServeHTTP proxies requests to the destination server
func (p *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := *p.destination
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery

	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	proxyReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		log.Printf("proxy: failed to create request: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	for key, values := range r.Header {
		for _, value := range values {
			proxyReq.Header.Add(key, value)
		}
	}
	proxyReq.Host = target.Host

	resp, err := p.client.Do(proxyReq)
	if err != nil {
		log.Printf("proxy: request to %s failed: %v", target.String(), err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	// Detection headers set by the interceptor win over upstream copies.
	for key, values := range resp.Header {
		if w.Header().Get(key) != "" {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Printf("proxy: failed to copy response body: %v", err)
	}
}

// MiddlewareRouter sends service paths to the API mux and everything else
// through the page handler (interceptor plus proxy).
type MiddlewareRouter struct {
	serviceMux *http.ServeMux
	pages      http.Handler
}

func NewMiddlewareRouter(serviceMux *http.ServeMux, pages http.Handler) *MiddlewareRouter {
	return &MiddlewareRouter{serviceMux: serviceMux, pages: pages}
}

func (m *MiddlewareRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isServicePath(r.URL.Path) {
		m.serviceMux.ServeHTTP(w, r)
		return
	}
	m.pages.ServeHTTP(w, r)
}

// isServicePath reports whether path belongs to crawlwatch itself.
func isServicePath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/api/detect", "/api/signatures", "/api/thresholds":
		return true
	}
	return false
}

// upstream returns the proxy for FORWARD_DESTINATION, or a 404 handler when
// none is configured.
func (e Env) upstream() http.Handler {
	dest := e.Cfg.ForwardDestination
	if dest == "" {
		return http.NotFoundHandler()
	}
	u, err := url.Parse(dest)
	if err != nil || u.Scheme == "" || u.Host == "" {
		log.Printf("WARNING: invalid FORWARD_DESTINATION %q; proxying disabled", dest)
		return http.NotFoundHandler()
	}
	log.Printf("proxy: forwarding to %s", u.Redacted())
	return NewProxyHandler(u)
}

func NewMux(e Env) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", e.Healthz)
	mux.HandleFunc("/readyz", e.Readyz)
	mux.HandleFunc("/api/detect", e.Detect)
	mux.HandleFunc("/api/signatures", e.Signatures)
	mux.HandleFunc("/api/thresholds", e.Thresholds)

	router := NewMiddlewareRouter(mux, e.Interceptor(e.upstream()))
	return RequestLogger(MetricsMiddleware(e.Metrics)(cors(router)))
}
