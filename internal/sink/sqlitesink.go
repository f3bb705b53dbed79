package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/shortontech/crawlwatch/internal/event"
)

// SQLiteSink stores one row per event in a local SQLite database. It suits
// single-node deployments that want queryable history without Postgres.
type SQLiteSink struct {
	dsn   string
	table string
	db    *sql.DB
}

// NewSQLiteSinkFromEnv reads SQLITE_PATH and SQLITE_TABLE
func NewSQLiteSinkFromEnv() *SQLiteSink {
	return NewSQLiteSink(
		getEnvOr("SQLITE_PATH", "file:crawlwatch.db?_pragma=busy_timeout(5000)"),
		getEnvOr("SQLITE_TABLE", "ai_bot_events"),
	)
}

func NewSQLiteSink(dsn, table string) *SQLiteSink {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:crawlwatch.db?_pragma=busy_timeout(5000)"
	}
	if table == "" {
		table = "ai_bot_events"
	}
	return &SQLiteSink{dsn: dsn, table: table}
}

func (s *SQLiteSink) Name() string { return "sqlite" }

func (s *SQLiteSink) Start(ctx context.Context) error {
	if err := validateTableName(s.table); err != nil {
		return err
	}
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite: %w", err)
	}
	// :memory: databases exist per connection.
	db.SetMaxOpenConns(1)
	s.db = db

	if err := s.init(ctx); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	log.Printf("sqlite: writing to table %s", s.table)
	return nil
}

func (s *SQLiteSink) init(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			site TEXT,
			page_url TEXT,
			bot_type TEXT,
			is_bot INTEGER NOT NULL,
			confidence REAL NOT NULL,
			method TEXT,
			source TEXT,
			payload TEXT NOT NULL
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s(ts)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_bot_type ON %s(bot_type)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialise sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteSink) Enqueue(e event.Event) error {
	if s.db == nil {
		return fmt.Errorf("sqlite sink not started")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	_, err = s.db.ExecContext(context.Background(),
		fmt.Sprintf(`INSERT INTO %s (event_id, ts, site, page_url, bot_type, is_bot, confidence, method, source, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table),
		e.EventID,
		e.Timestamp,
		e.Site,
		e.PageURL,
		e.BotType,
		e.Metadata.IsBot,
		e.Metadata.Confidence,
		string(e.Metadata.Method),
		string(e.Metadata.Source),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// CountByBotType returns stored bot events per bot type.
func (s *SQLiteSink) CountByBotType(ctx context.Context) (map[string]int, error) {
	if s.db == nil {
		return nil, fmt.Errorf("sqlite sink not started")
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT bot_type, COUNT(*) FROM %s WHERE is_bot = 1 GROUP BY bot_type`, s.table))
	if err != nil {
		return nil, fmt.Errorf("failed to query counts: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			botType string
			n       int
		)
		if err := rows.Scan(&botType, &n); err != nil {
			return nil, err
		}
		out[botType] = n
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
