package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/shortontech/crawlwatch/internal/event"
	"github.com/shortontech/crawlwatch/internal/event/detection"
	"github.com/shortontech/crawlwatch/internal/metrics"
	"github.com/shortontech/crawlwatch/pkg/config"
)

func newTestModeCmd() *cobra.Command {
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "testmode",
		Short: "Send sample detections to the configured sinks and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithFile()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sinks := initializeSinks(ctx, cfg.Outputs)
			emit, dispatcher := createEmitFunc(sinks, cfg.EmitQueueSize, metrics.InitMetrics())
			runTestMode(emit, newDetector(cfg), cfg.SiteOrigin, time.Now(), delay)
			return dispatcher.Close()
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 200*time.Millisecond, "pause between sample events")
	return cmd
}

var sampleBrowserHeaders = detection.Headers{
	"accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"accept-language": "en-US,en;q=0.9",
	"accept-encoding": "gzip, deflate, br",
	"cache-control":   "max-age=0",
	"connection":      "keep-alive",
}

func withHeaders(base detection.Headers, extra map[string]string) detection.Headers {
	h := make(detection.Headers, len(base)+len(extra))
	for k, v := range base {
		h[k] = v
	}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

// generateTestContexts covers each detection path: known crawlers, an AI
// referrer, scripted clients, header anomalies and a plain browser.
func generateTestContexts(now time.Time) []detection.RequestContext {
	ts := now.UnixMilli()
	const chrome = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	return []detection.RequestContext{
		{
			UserAgent: "Mozilla/5.0 AppleWebKit/537.36 (KHTML, like Gecko; compatible; GPTBot/1.1; +https://openai.com/gptbot)",
			Headers:   detection.Headers{"accept": "*/*"},
			URL:       "https://example.com/docs/getting-started",
			IP:        "20.171.206.1",
			Timestamp: ts,
		},
		{
			UserAgent: "Mozilla/5.0 (compatible; ClaudeBot/1.0; +claudebot@anthropic.com)",
			Headers:   detection.Headers{"accept": "text/html"},
			URL:       "https://example.com/pricing",
			IP:        "160.79.104.10",
			Timestamp: ts + 1000,
		},
		{
			UserAgent: chrome,
			Headers:   sampleBrowserHeaders,
			URL:       "https://example.com/blog/ai-crawlers",
			IP:        "203.0.113.42",
			Referrer:  "https://www.perplexity.ai/search?q=ai+crawlers",
			Timestamp: ts + 2000,
		},
		{
			UserAgent: "python-requests/2.31.0",
			Headers:   detection.Headers{"accept": "application/json"},
			URL:       "https://example.com/api/products",
			IP:        "198.51.100.7",
			Timestamp: ts + 3000,
		},
		{
			UserAgent: chrome + " ai-agent",
			Headers:   withHeaders(sampleBrowserHeaders, map[string]string{"x-openai-request-id": "req_123"}),
			URL:       "https://example.com/features?ai-summary=1",
			IP:        "198.51.100.8",
			Timestamp: ts + 4000,
		},
		{
			UserAgent: chrome,
			Headers:   sampleBrowserHeaders,
			URL:       "https://example.com/",
			IP:        "192.0.2.55",
			Referrer:  "https://www.google.com/",
			Timestamp: ts + 5000,
		},
	}
}

// runTestMode classifies the sample contexts and emits one event each,
// humans included. It returns the number of bot verdicts.
func runTestMode(emitFn func(event.Event), d *detection.Detector, site string, now time.Time, delay time.Duration) int {
	log.Println("🧪 TEST MODE: Generating sample detections...")

	cache := detection.NewCacheDetector()
	contexts := generateTestContexts(now)
	bots := 0
	for i, ctx := range contexts {
		core := d.DetectAI(ctx)
		cacheResult := cache.Detect(ctx, nil)
		verdict := detection.Merge(core, cacheResult, d.Thresholds())
		if verdict.IsBot {
			bots++
		}

		e := event.Build(event.Input{
			Site:                site,
			Context:             ctx,
			Core:                core,
			Cache:               cacheResult,
			Verdict:             verdict,
			SessionRequestCount: 1,
		})
		log.Printf("📊 Sending sample %d/%d: bot=%v type=%q confidence=%.2f (%s)",
			i+1, len(contexts), verdict.IsBot, verdict.BotType, verdict.Confidence, e.EventID)
		emitFn(e)

		if delay > 0 && i < len(contexts)-1 {
			time.Sleep(delay)
		}
	}

	log.Printf("✅ TEST MODE: %d samples sent, %d classified as bots", len(contexts), bots)
	return bots
}
