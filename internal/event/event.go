package event

import "github.com/shortontech/crawlwatch/internal/event/detection"

// Event is the record handed to sinks for every classified page request.
type Event struct {
	EventID   string `json:"event_id"`
	Site      string `json:"site"`
	PageURL   string `json:"page_url"`
	UserAgent string `json:"user_agent"`
	BotType   string `json:"bot_type,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
	IP        string `json:"ip,omitempty"`
	Timestamp string `json:"timestamp"` // ISO8601

	Metadata Metadata `json:"metadata"`
}

// --- Metadata ---

type Metadata struct {
	IsBot      bool             `json:"is_bot"`
	Confidence float64          `json:"confidence"`
	Method     detection.Method `json:"method"`
	Source     detection.Source `json:"source"`
	Evidence   []string         `json:"evidence"`

	// Raw detector outputs before merging
	Detection      detection.DetectionResult      `json:"detection"`
	CacheDetection detection.CacheDetectionResult `json:"cache_detection"`

	SessionRequestCount int               `json:"session_request_count"`
	Headers             detection.Headers `json:"headers,omitempty"`
	HeaderFingerprint   string            `json:"header_fingerprint,omitempty"`
	Path                string            `json:"path"`
	Query               string            `json:"query,omitempty"`

	Attribution *Attribution `json:"attribution,omitempty"`
}

// --- Attribution ---

// Attribution carries campaign tags found on the landing URL. AI assistants
// commonly tag outbound links with utm_source.
type Attribution struct {
	Source   string            `json:"utm_source,omitempty"`
	Medium   string            `json:"utm_medium,omitempty"`
	Campaign string            `json:"utm_campaign,omitempty"`
	Term     string            `json:"utm_term,omitempty"`
	Content  string            `json:"utm_content,omitempty"`
	ClickIDs map[string]string `json:"click_ids,omitempty"` // gclid, msclkid, fbclid, etc.
}

func (a *Attribution) empty() bool {
	return a.Source == "" && a.Medium == "" && a.Campaign == "" &&
		a.Term == "" && a.Content == "" && len(a.ClickIDs) == 0
}
