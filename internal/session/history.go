package session

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultWindow is how far back a session remembers requests.
	DefaultWindow = 5 * time.Minute
	// DefaultMaxRequests caps the per-session request list.
	DefaultMaxRequests = 20
	// DefaultMaxKeys bounds the number of sessions kept in memory.
	DefaultMaxKeys = 50000

	userAgentKeyLen = 50
)

// Entry is one request remembered for a session.
type Entry struct {
	URL       string `json:"url"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// Store records requests per session and returns the pruned history.
type Store interface {
	Record(key string, e Entry) []Entry
	Get(key string) []Entry
	Len() int
}

// History keeps recent requests per session key in an LRU whose entries
// expire once a session has been idle for the whole window.
type History struct {
	mu          sync.Mutex
	cache       *expirable.LRU[string, []Entry]
	window      time.Duration
	maxRequests int
}

// Options configures a History. Zero values fall back to the defaults.
type Options struct {
	Window      time.Duration
	MaxRequests int
	MaxKeys     int
}

// NewHistory creates an in-memory session history.
func NewHistory(opts Options) *History {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = DefaultMaxRequests
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = DefaultMaxKeys
	}
	return &History{
		cache:       expirable.NewLRU[string, []Entry](opts.MaxKeys, nil, opts.Window),
		window:      opts.Window,
		maxRequests: opts.MaxRequests,
	}
}

// Key builds the session key from the client IP and a truncated user agent.
func Key(ip, userAgent string) string {
	if len(userAgent) > userAgentKeyLen {
		userAgent = userAgent[:userAgentKeyLen]
	}
	return ip + ":" + userAgent
}

// Record appends e to the session, drops entries older than the window
// relative to e, keeps the most recent entries and returns a copy.
func (h *History) Record(key string, e Entry) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev, _ := h.cache.Get(key)
	entries := make([]Entry, 0, len(prev)+1)
	cutoff := e.Timestamp - h.window.Milliseconds()
	for _, p := range prev {
		if p.Timestamp >= cutoff {
			entries = append(entries, p)
		}
	}
	entries = append(entries, e)
	if len(entries) > h.maxRequests {
		entries = entries[len(entries)-h.maxRequests:]
	}
	h.cache.Add(key, entries)

	return append([]Entry(nil), entries...)
}

// Get returns a copy of the session's entries, or nil when unknown.
func (h *History) Get(key string) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries, ok := h.cache.Get(key)
	if !ok {
		return nil
	}
	return append([]Entry(nil), entries...)
}

// Len reports the number of live sessions.
func (h *History) Len() int {
	return h.cache.Len()
}
