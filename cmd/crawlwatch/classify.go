package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shortontech/crawlwatch/internal/event/detection"
	httpx "github.com/shortontech/crawlwatch/internal/http"
	"github.com/shortontech/crawlwatch/pkg/config"
)

type classifyOptions struct {
	userAgent string
	referrer  string
	url       string
	ip        string
	headers   []string
}

func newClassifyCmd() *cobra.Command {
	var opts classifyOptions
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a single request and print the verdict as JSON",
		Example: `  crawlwatch classify --ua "Mozilla/5.0 (compatible; GPTBot/1.1)"
  crawlwatch classify --ua curl/8.0 --header accept=application/json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := opts.requestContext(time.Now())
			if err != nil {
				return err
			}
			cfg, err := config.LoadWithFile()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return classify(cmd.OutOrStdout(), newDetector(cfg), ctx)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.userAgent, "ua", "", "User-Agent header")
	f.StringVar(&opts.referrer, "referrer", "", "Referer header")
	f.StringVar(&opts.url, "url", "http://localhost/", "requested URL")
	f.StringVar(&opts.ip, "ip", "127.0.0.1", "client IP")
	f.StringArrayVar(&opts.headers, "header", nil, "extra header as name=value (repeatable)")
	return cmd
}

func (o classifyOptions) requestContext(now time.Time) (detection.RequestContext, error) {
	headers := detection.Headers{}
	for _, h := range o.headers {
		name, value, ok := strings.Cut(h, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		if !ok || name == "" {
			return detection.RequestContext{}, fmt.Errorf("invalid header %q, want name=value", h)
		}
		headers[name] = strings.TrimSpace(value)
	}
	if o.userAgent != "" {
		headers["user-agent"] = o.userAgent
	}
	if o.referrer != "" {
		headers["referer"] = o.referrer
	}
	return detection.RequestContext{
		UserAgent: o.userAgent,
		Headers:   headers,
		URL:       o.url,
		IP:        o.ip,
		Referrer:  o.referrer,
		Timestamp: now.UnixMilli(),
	}, nil
}

// classify runs the same pipeline as the interceptor, without session history.
func classify(w io.Writer, d *detection.Detector, ctx detection.RequestContext) error {
	core := d.DetectAI(ctx)
	cache := detection.NewCacheDetector().Detect(ctx, nil)
	out := httpx.DetectResponse{
		Detection:      core,
		CacheDetection: cache,
		Verdict:        detection.Merge(core, cache, d.Thresholds()),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
