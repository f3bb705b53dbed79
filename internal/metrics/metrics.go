package metrics

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the Prometheus metrics for crawlwatch
type Metrics struct {
	// Detection
	Detections          *prometheus.CounterVec
	RequestsClassified  *prometheus.CounterVec
	DetectionConfidence *prometheus.HistogramVec
	SessionKeys         prometheus.Gauge

	// Delivery
	EventsIngested *prometheus.CounterVec
	SinkErrors     *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
	QueueDepth     *prometheus.GaugeVec

	// Latency and HTTP
	BatchFlushLatency *prometheus.HistogramVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// Config holds configuration for the metrics server
type Config struct {
	Enabled     bool
	Addr        string
	TLSCert     string
	TLSKey      string
	ClientCA    string
	RequireTLS  bool
	RequireAuth bool
}

// LoadConfig loads metrics configuration from environment variables
func LoadConfig() Config {
	return Config{
		Enabled:     getBool("METRICS_ENABLED", false),
		Addr:        getOr("METRICS_ADDR", "127.0.0.1:9090"),
		TLSCert:     getOr("METRICS_TLS_CERT", ""),
		TLSKey:      getOr("METRICS_TLS_KEY", ""),
		ClientCA:    getOr("METRICS_CLIENT_CA", ""),
		RequireTLS:  getBool("METRICS_REQUIRE_TLS", false),
		RequireAuth: getBool("METRICS_REQUIRE_AUTH", false),
	}
}

// NewMetrics creates the crawlwatch metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Detections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlwatch_detections_total",
				Help: "AI bot detections by bot type, method and deciding detector",
			},
			[]string{"bot_type", "method", "source"},
		),

		RequestsClassified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlwatch_requests_classified_total",
				Help: "Requests classified by the interceptor",
			},
			[]string{"verdict"},
		),

		DetectionConfidence: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawlwatch_detection_confidence",
				Help:    "Confidence of positive detections",
				Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1.0},
			},
			[]string{"source"},
		),

		SessionKeys: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawlwatch_session_keys",
				Help: "Client sessions currently tracked",
			},
		),

		EventsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlwatch_events_ingested_total",
				Help: "Total events ingested by sink type",
			},
			[]string{"sink"},
		),

		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlwatch_sink_errors_total",
				Help: "Total errors writing to a sink",
			},
			[]string{"sink", "error_type"},
		),

		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlwatch_events_dropped_total",
				Help: "Events dropped before reaching any sink",
			},
			[]string{"reason"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawlwatch_queue_depth",
				Help: "Current depth of the internal event queue",
			},
			[]string{"sink"},
		),

		BatchFlushLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawlwatch_sink_write_latency_seconds",
				Help:    "Latency of handing an event to a sink",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sink"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlwatch_http_requests_total",
				Help: "Total HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawlwatch_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method"},
		),
	}

	reg.MustRegister(
		m.Detections,
		m.RequestsClassified,
		m.DetectionConfidence,
		m.SessionKeys,
		m.EventsIngested,
		m.SinkErrors,
		m.EventsDropped,
		m.QueueDepth,
		m.BatchFlushLatency,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Server represents the metrics HTTP server
type Server struct {
	server *http.Server
	config Config
}

// NewServer creates a new metrics server exposing the default registry
func NewServer(config Config) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if config.RequireTLS && config.TLSCert != "" && config.TLSKey != "" {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		if config.ClientCA != "" {
			clientCAs, err := loadCertPool(config.ClientCA)
			if err != nil {
				log.Printf("metrics: failed to load client CA: %v", err)
			} else {
				tlsConfig.ClientCAs = clientCAs
				tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
				log.Printf("metrics: mTLS enabled with client CA: %s", config.ClientCA)
			}
		}

		srv.TLSConfig = tlsConfig
	}

	return &Server{
		server: srv,
		config: config,
	}
}

// Start starts the metrics server in a separate goroutine
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		log.Printf("metrics: disabled (METRICS_ENABLED=false)")
		return nil
	}

	go func() {
		var err error
		if s.config.RequireTLS && s.config.TLSCert != "" && s.config.TLSKey != "" {
			log.Printf("metrics: HTTPS server listening on %s", s.config.Addr)
			err = s.server.ListenAndServeTLS(s.config.TLSCert, s.config.TLSKey)
		} else {
			log.Printf("metrics: HTTP server listening on %s", s.config.Addr)
			err = s.server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.Printf("metrics: server error: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	log.Printf("metrics: shutting down server...")
	return s.server.Shutdown(ctx)
}

// Helper functions
func getOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func loadCertPool(certFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", certFile)
	}
	return pool, nil
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// InitMetrics returns the process-wide metrics registered with the default registry.
func InitMetrics() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// Convenience methods for common operations
func (m *Metrics) RecordDetection(botType, method, source string, isBot bool, confidence float64) {
	if !isBot {
		m.RequestsClassified.WithLabelValues("human").Inc()
		return
	}
	m.RequestsClassified.WithLabelValues("bot").Inc()
	m.Detections.WithLabelValues(botType, method, source).Inc()
	m.DetectionConfidence.WithLabelValues(source).Observe(confidence)
}

func (m *Metrics) SetSessionKeys(n int) {
	m.SessionKeys.Set(float64(n))
}

func (m *Metrics) IncrementEventsIngested(sink string) {
	m.EventsIngested.WithLabelValues(sink).Inc()
}

func (m *Metrics) IncrementSinkErrors(sink, errorType string) {
	m.SinkErrors.WithLabelValues(sink, errorType).Inc()
}

func (m *Metrics) IncrementEventsDropped(reason string) {
	m.EventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementHTTPRequests(endpoint, method, status string) {
	m.HTTPRequests.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) SetQueueDepth(sink string, depth float64) {
	m.QueueDepth.WithLabelValues(sink).Set(depth)
}

func (m *Metrics) ObserveBatchFlushLatency(sink string, duration time.Duration) {
	m.BatchFlushLatency.WithLabelValues(sink).Observe(duration.Seconds())
}

func (m *Metrics) ObserveHTTPDuration(endpoint, method string, duration time.Duration) {
	m.HTTPDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}
