package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shortontech/crawlwatch/internal/event"
	"github.com/shortontech/crawlwatch/internal/event/detection"
	httpx "github.com/shortontech/crawlwatch/internal/http"
	"github.com/shortontech/crawlwatch/internal/metrics"
	"github.com/shortontech/crawlwatch/internal/session"
	"github.com/shortontech/crawlwatch/internal/sink"
	"github.com/shortontech/crawlwatch/pkg/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "crawlwatch",
		Short: "AI crawler detection in front of a web site",
		Long: `crawlwatch sits in front of a site as a reverse proxy, classifies every
page request as human or AI crawler, tags the response and ships detection
events to the configured sinks (log, kafka, postgres, sqlite, http).

Without a subcommand it runs the server.`,
		Version:      version,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the detection proxy",
			RunE:  runServe,
		},
		newClassifyCmd(),
		newTestModeCmd(),
		&cobra.Command{
			Use:   "healthcheck",
			Short: "Probe /healthz on SERVER_ADDR (for container health checks)",
			RunE: func(cmd *cobra.Command, args []string) error {
				host, port := healthCheckTarget(config.Load().ServerAddr)
				return performHealthCheck(host, port)
			},
		},
	)
	return root
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFile()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.InitMetrics()
	metricsServer := metrics.NewServer(metrics.LoadConfig())
	if err := metricsServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	sinks := initializeSinks(ctx, cfg.Outputs)
	emit, dispatcher := createEmitFunc(sinks, cfg.EmitQueueSize, appMetrics)

	srv := startHTTPServer(cfg, buildEnv(cfg, emit, appMetrics))
	waitForShutdown(srv, metricsServer, dispatcher)
	return nil
}

// newSink maps an OUTPUTS entry to its sink.
func newSink(name string) (sink.Sink, bool) {
	switch name {
	case "log":
		return sink.NewLogSink(), true
	case "kafka":
		return sink.NewKafkaSinkFromEnv(), true
	case "postgres", "pg":
		return sink.NewPGSinkFromEnv(), true
	case "sqlite":
		return sink.NewSQLiteSinkFromEnv(), true
	case "http":
		return sink.NewHTTPSinkFromEnv(), true
	}
	return nil, false
}

// initializeSinks starts the configured sinks. A sink that fails to start is
// logged and skipped so the proxy keeps serving.
func initializeSinks(ctx context.Context, outputs []string) []sink.Sink {
	var sinks []sink.Sink
	for _, output := range outputs {
		name := strings.ToLower(strings.TrimSpace(output))
		s, ok := newSink(name)
		if !ok {
			log.Printf("WARNING: unknown output %q ignored", output)
			continue
		}
		if err := s.Start(ctx); err != nil {
			log.Printf("failed to start %s sink: %v", s.Name(), err)
			continue
		}
		log.Printf("%s sink started", s.Name())
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		log.Printf("WARNING: no sinks started; detections will only be counted")
	}
	return sinks
}

// createEmitFunc wires the sinks behind a non-blocking dispatcher.
func createEmitFunc(sinks []sink.Sink, queueSize int, appMetrics *metrics.Metrics) (func(event.Event), *sink.Dispatcher) {
	var rec sink.Recorder
	if appMetrics != nil {
		rec = appMetrics
	}
	for _, s := range sinks {
		if rs, ok := s.(interface{ SetRecorder(sink.Recorder) }); ok && rec != nil {
			rs.SetRecorder(rec)
		}
	}
	d := sink.NewDispatcher(sinks, queueSize, rec)
	d.Start()
	return func(e event.Event) { d.Emit(e) }, d
}

func newDetector(cfg config.Config) *detection.Detector {
	return detection.NewDetector(detection.NewThresholds(cfg.SuspicionThreshold, cfg.HighConfidenceThreshold))
}

func buildEnv(cfg config.Config, emit func(event.Event), appMetrics *metrics.Metrics) httpx.Env {
	return httpx.Env{
		Cfg:      cfg,
		Detector: newDetector(cfg),
		Cache:    detection.NewCacheDetector(),
		Sessions: session.NewHistory(session.Options{
			Window:      cfg.SessionWindow,
			MaxRequests: cfg.SessionMaxRequests,
			MaxKeys:     cfg.SessionMaxKeys,
		}),
		Emit:    emit,
		Metrics: appMetrics,
	}
}

func startHTTPServer(cfg config.Config, env httpx.Env) *http.Server {
	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           httpx.NewMux(env),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("crawlwatch listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server error: %v", err)
		}
	}()
	return srv
}

func waitForShutdown(srv *http.Server, metricsServer *metrics.Server, dispatcher *sink.Dispatcher) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdown(ctx, srv, metricsServer, dispatcher); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// shutdown stops accepting requests first so the dispatcher can drain every
// event already emitted before the sinks close.
func shutdown(ctx context.Context, srv *http.Server, metricsServer *metrics.Server, dispatcher *sink.Dispatcher) error {
	log.Printf("shutting down...")
	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if dispatcher != nil {
		if err := dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sinks: %w", err))
		}
	}
	return errors.Join(errs...)
}

func healthCheckTarget(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "127.0.0.1", "19890"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return host, port
}

func performHealthCheck(host, port string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + net.JoinHostPort(host, port) + "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if string(body) != "ok" {
		return fmt.Errorf("unexpected response: %q", body)
	}
	return nil
}
