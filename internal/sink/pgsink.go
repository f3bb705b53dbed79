package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/shortontech/crawlwatch/internal/event"
)

// PGConfig holds configuration for the Postgres sink
type PGConfig struct {
	DSN       string
	Table     string
	BatchSize int
	FlushMS   int
	UseCopy   bool
}

// PGSink batches detection events into a Postgres table, flushing when the
// batch fills or on a timer.
type PGSink struct {
	config PGConfig
	db     *sql.DB

	rec Recorder

	mu       sync.Mutex
	batch    []event.Event
	failures int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var pgColumns = []string{"event_id", "ts", "site", "page_url", "bot_type", "is_bot", "confidence", "method", "source", "payload"}

const (
	// pgMaxParams is the Postgres limit on bind parameters per statement.
	pgMaxParams = 65535
	// pgMaxPendingBatches bounds how many batches are held while flushes fail.
	pgMaxPendingBatches = 10
	// pgMaxFlushFailures is the number of failed batch flushes before the
	// sink falls back to writing rows one at a time.
	pgMaxFlushFailures = 3
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// validateTableName keeps the table name safe to interpolate into SQL.
func validateTableName(name string) error {
	if !tableNameRe.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// NewPGSinkFromEnv creates a PGSink from PG_* environment variables
func NewPGSinkFromEnv() *PGSink {
	return &PGSink{config: PGConfig{
		DSN:       os.Getenv("PG_DSN"),
		Table:     getEnvOr("PG_TABLE", "ai_bot_events"),
		BatchSize: getIntEnv("PG_BATCH_SIZE", 500),
		FlushMS:   getIntEnv("PG_FLUSH_MS", 500),
		UseCopy:   getBoolEnv("PG_COPY", true),
	}}
}

// NewPGSink creates a PGSink with default batching for dsn
func NewPGSink(dsn string) *PGSink {
	return &PGSink{config: PGConfig{
		DSN:       dsn,
		Table:     "ai_bot_events",
		BatchSize: 500,
		FlushMS:   500,
		UseCopy:   true,
	}}
}

func (s *PGSink) Name() string { return "postgres" }

// SetRecorder reports dropped events to rec.
func (s *PGSink) SetRecorder(rec Recorder) { s.rec = rec }

func (s *PGSink) recorder() Recorder {
	if s.rec == nil {
		return nopRecorder{}
	}
	return s.rec
}

func (s *PGSink) maxPending() int {
	size := s.config.BatchSize
	if size <= 0 {
		size = 500
	}
	return size * pgMaxPendingBatches
}

func (s *PGSink) Start(ctx context.Context) error {
	if err := validateTableName(s.config.Table); err != nil {
		return err
	}

	db, err := sql.Open("postgres", s.config.DSN)
	if err != nil {
		return fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s.db = db
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.ensureSchema(); err != nil {
		s.cancel()
		_ = db.Close()
		return err
	}

	if s.config.BatchSize <= 0 {
		s.config.BatchSize = 500
	}
	if s.config.FlushMS <= 0 {
		s.config.FlushMS = 500
	}
	s.batch = make([]event.Event, 0, s.config.BatchSize)
	s.done = make(chan struct{})
	go s.flushRoutine()

	log.Printf("postgres: writing to table %s (batch=%d, flush=%dms, copy=%v)",
		s.config.Table, s.config.BatchSize, s.config.FlushMS, s.config.UseCopy)
	return nil
}

func (s *PGSink) ensureSchema() error {
	t := s.config.Table
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		event_id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		site TEXT,
		page_url TEXT,
		bot_type TEXT,
		is_bot BOOLEAN NOT NULL DEFAULT FALSE,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		method TEXT,
		source TEXT,
		payload JSONB NOT NULL
	)`, t)
	if _, err := s.db.ExecContext(s.context(), createTable); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t, err)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s (ts)", t, t),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_bot_type ON %s (bot_type, ts)", t, t),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_gin ON %s USING GIN (payload)", t, t),
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(s.context(), stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

func (s *PGSink) Enqueue(e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if over := len(s.batch) + 1 - s.maxPending(); over > 0 {
		s.batch = append(s.batch[:0], s.batch[over:]...)
		for i := 0; i < over; i++ {
			s.recorder().IncrementEventsDropped("postgres_backlog")
		}
		log.Printf("postgres: backlog full, dropped %d oldest events", over)
	}
	s.batch = append(s.batch, e)
	if s.config.BatchSize > 0 && len(s.batch) >= s.config.BatchSize {
		return s.flushLocked()
	}
	return nil
}

func (s *PGSink) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	if s.db == nil {
		return nil
	}

	s.mu.Lock()
	err := s.flushLocked()
	s.mu.Unlock()

	if cerr := s.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// flushRoutine flushes on a timer until the sink context is cancelled.
func (s *PGSink) flushRoutine() {
	defer close(s.done)

	ticker := time.NewTicker(time.Duration(s.config.FlushMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.flushBatch(); err != nil {
				log.Printf("postgres: periodic flush failed: %v", err)
			}
		}
	}
}

func (s *PGSink) flushBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked writes the pending batch. The batch is kept on error so the
// next flush retries it. After pgMaxFlushFailures consecutive failures the
// rows are written one at a time and rows that still fail are dropped.
func (s *PGSink) flushLocked() error {
	if len(s.batch) == 0 {
		return nil
	}
	if s.db == nil {
		return fmt.Errorf("postgres sink not started")
	}
	if s.failures >= pgMaxFlushFailures {
		return s.flushRowByRow()
	}

	var err error
	if s.config.UseCopy {
		err = s.flushWithCopy()
	} else {
		err = s.flushWithInsert()
	}
	if err != nil {
		s.failures++
		return err
	}
	s.failures = 0
	s.batch = s.batch[:0]
	return nil
}

// flushRowByRow inserts each pending event on its own. Rejected rows are
// logged and dropped. If the first pgMaxFlushFailures rows all fail the
// database is treated as unavailable and the batch is kept.
func (s *PGSink) flushRowByRow() error {
	var (
		kept    []event.Event
		written int
		lastErr error
	)
	for _, e := range s.batch {
		if err := s.insertRows([]event.Event{e}); err != nil {
			kept = append(kept, e)
			lastErr = err
			if written == 0 && len(kept) >= pgMaxFlushFailures {
				return fmt.Errorf("row-by-row flush failed: %w", lastErr)
			}
			continue
		}
		written++
	}

	if written == 0 {
		return fmt.Errorf("row-by-row flush failed: %w", lastErr)
	}
	for _, e := range kept {
		log.Printf("postgres: dropping event %s after repeated failures: %v", e.EventID, lastErr)
		s.recorder().IncrementEventsDropped("postgres_rejected")
	}
	s.failures = 0
	s.batch = s.batch[:0]
	return nil
}

// flushWithInsert writes the batch with multi-row INSERTs sized to stay under
// the bind parameter limit. Chunks that succeed are removed from the batch.
func (s *PGSink) flushWithInsert() error {
	chunk := pgMaxParams / len(pgColumns)
	for len(s.batch) > 0 {
		n := min(chunk, len(s.batch))
		if err := s.insertRows(s.batch[:n]); err != nil {
			return err
		}
		s.batch = append(s.batch[:0], s.batch[n:]...)
	}
	return nil
}

func (s *PGSink) insertRows(events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(events)*len(pgColumns))
	)
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", s.config.Table, strings.Join(pgColumns, ", "))
	for i, e := range events {
		row, err := pgRow(e)
		if err != nil {
			return err
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("$" + strconv.Itoa(len(args)+j+1))
		}
		sb.WriteString(")")
		args = append(args, row...)
	}

	if _, err := s.db.ExecContext(s.context(), sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

func (s *PGSink) flushWithCopy() error {
	tx, err := s.db.BeginTx(s.context(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(s.context(), pq.CopyIn(s.config.Table, pgColumns...))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	for _, e := range s.batch {
		row, err := pgRow(e)
		if err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(s.context(), row...); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("failed to copy row: %w", err)
		}
	}

	if _, err := stmt.ExecContext(s.context()); err != nil {
		_ = stmt.Close()
		_ = tx.Rollback()
		return fmt.Errorf("failed to finish copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to close copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit copy: %w", err)
	}
	return nil
}

func (s *PGSink) context() context.Context {
	if s.ctx == nil || s.ctx.Err() != nil {
		// Final flush on Close runs after the sink context is cancelled.
		return context.Background()
	}
	return s.ctx
}

// pgRow builds the column values for e. Postgres rejects NUL in text and
// jsonb, so it is removed from every value.
func pgRow(e event.Event) ([]any, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event %s: %w", e.EventID, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		ts = time.Now().UTC()
	}
	return []any{
		stripNUL(e.EventID),
		ts,
		stripNUL(e.Site),
		stripNUL(e.PageURL),
		stripNUL(e.BotType),
		e.Metadata.IsBot,
		e.Metadata.Confidence,
		stripNUL(string(e.Metadata.Method)),
		stripNUL(string(e.Metadata.Source)),
		string(stripJSONNUL(payload)),
	}, nil
}

func stripNUL(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// stripJSONNUL removes \u0000 escapes from encoded JSON. Backslashes only
// occur inside strings, so escape pairs are copied through whole.
func stripJSONNUL(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if b[i+1] == 'u' && i+6 <= len(b) && string(b[i+2:i+6]) == "0000" {
			i += 5
			continue
		}
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return n
}
