package storage

import (
	"context"
	"crypto-bots-go/internal/activitylog"
	"crypto-bots-go/internal/models"
	"crypto-bots-go/internal/persistence"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/lib/pq" // postgres driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure-go sqlite driver
)

// ErrBotNotFound is returned when an update targets a uuid with no bot_log row.
var ErrBotNotFound = persistence.ErrBotNotFound

var _ persistence.Store = (*SQLSink)(nil)

// SQLSink persists activity events into bot_log and bot_transaction_log.
// It works with postgres (lib/pq) and sqlite (modernc.org/sqlite).
type SQLSink struct {
	db      *sql.DB
	dialect string
	logger  *zap.Logger
	now     func() time.Time
}

// Open connects to the configured database, sizes the pool and creates the tables.
func Open(ctx context.Context, cfg models.StorageConfig, logger *zap.Logger) (*SQLSink, error) {
	driver := cfg.Driver
	if driver != "postgres" && driver != "sqlite" {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	if driver == "sqlite" {
		if dir := filepath.Dir(cfg.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite" {
		// sqlite serialises writers anyway
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSec) * time.Second)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := NewSQLSink(db, driver, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// NewSQLSink wraps an existing connection pool. dialect is "postgres" or "sqlite".
func NewSQLSink(db *sql.DB, dialect string, logger *zap.Logger) *SQLSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLSink{db: db, dialect: dialect, logger: logger, now: time.Now}
}

// Migrate creates the tables if they don't exist.
func (s *SQLSink) Migrate(ctx context.Context) error {
	// bot_log holds one row per bot instance, keyed by its correlation uuid.
	createBotLogSQL := `
	CREATE TABLE IF NOT EXISTS bot_log (
		uuid TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		bot_type TEXT NOT NULL,
		platform_name TEXT NOT NULL,
		additional_info TEXT,
		active BOOLEAN NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP,
		stopped_at TIMESTAMP
	);`
	if _, err := s.db.ExecContext(ctx, createBotLogSQL); err != nil {
		return err
	}

	createTransactionLogSQL := `
	CREATE TABLE IF NOT EXISTS bot_transaction_log (
		uuid TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		transaction_amount DOUBLE PRECISION NOT NULL,
		transaction_price DOUBLE PRECISION NOT NULL,
		transaction_pair TEXT NOT NULL,
		additional_info TEXT,
		created_at TIMESTAMP NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, createTransactionLogSQL); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_bot_transaction_log_uuid ON bot_transaction_log (uuid);`); err != nil {
		return err
	}
	s.logger.Debug("activity tables ready", zap.String("dialect", s.dialect))
	return nil
}

func (s *SQLSink) InsertBot(ctx context.Context, e activitylog.BotCreated) error {
	info, err := encodeInfo(e.AdditionalInfo)
	if err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO bot_log (uuid, user_id, bot_type, platform_name, additional_info, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query, e.UUID, e.UserID, string(e.BotType), e.PlatformName, info, true, s.now().UTC())
	if err != nil {
		return fmt.Errorf("insert bot %s: %w", e.UUID, err)
	}
	return nil
}

func (s *SQLSink) UpdateBot(ctx context.Context, e activitylog.BotUpdated) error {
	info, err := encodeInfo(e.AdditionalInfo)
	if err != nil {
		return err
	}
	query := s.rebind(`UPDATE bot_log SET additional_info = ?, updated_at = ? WHERE uuid = ?`)
	return s.execOne(ctx, query, e.UUID, info, s.now().UTC(), e.UUID)
}

func (s *SQLSink) StopBot(ctx context.Context, e activitylog.BotStopped) error {
	query := s.rebind(`UPDATE bot_log SET active = ?, stopped_at = ? WHERE uuid = ?`)
	return s.execOne(ctx, query, e.UUID, false, s.now().UTC(), e.UUID)
}

func (s *SQLSink) InsertTransaction(ctx context.Context, e activitylog.TransactionLogged) error {
	info, err := encodeInfo(e.AdditionalInfo)
	if err != nil {
		return err
	}
	at := e.At
	if at.IsZero() {
		at = s.now()
	}
	query := s.rebind(`INSERT INTO bot_transaction_log (uuid, transaction_type, transaction_amount, transaction_price, transaction_pair, additional_info, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query, e.UUID, string(e.TransactionType), e.Amount, e.Price, e.Pair, info, at.UTC())
	if err != nil {
		return fmt.Errorf("insert transaction for %s: %w", e.UUID, err)
	}
	return nil
}

// GetBot loads one bot_log row.
func (s *SQLSink) GetBot(ctx context.Context, uuid string) (*models.BotRecord, error) {
	query := s.rebind(`SELECT uuid, user_id, bot_type, platform_name, additional_info, active, created_at
		FROM bot_log WHERE uuid = ?`)

	var (
		rec     models.BotRecord
		botType string
		info    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, uuid).Scan(&rec.UUID, &rec.UserID, &botType, &rec.PlatformName, &info, &rec.Active, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBotNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.BotType = models.BotType(botType)
	if rec.AdditionalInfo, err = decodeInfo(info); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListTransactions returns the transactions of one bot, oldest first.
func (s *SQLSink) ListTransactions(ctx context.Context, uuid string) ([]models.TransactionRecord, error) {
	query := s.rebind(`SELECT uuid, transaction_type, transaction_amount, transaction_price, transaction_pair, additional_info, created_at
		FROM bot_transaction_log WHERE uuid = ? ORDER BY created_at ASC`)
	rows, err := s.db.QueryContext(ctx, query, uuid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TransactionRecord
	for rows.Next() {
		var (
			rec  models.TransactionRecord
			side string
			info sql.NullString
		)
		if err := rows.Scan(&rec.UUID, &side, &rec.Amount, &rec.Price, &rec.Pair, &info, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Type = models.Side(side)
		if rec.AdditionalInfo, err = decodeInfo(info); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLSink) Close() error {
	return s.db.Close()
}

// execOne runs an update that must touch exactly one bot_log row.
func (s *SQLSink) execOne(ctx context.Context, query, uuid string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update bot %s: %w", uuid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrBotNotFound, uuid)
	}
	return nil
}

// rebind turns ? placeholders into $N for postgres.
func (s *SQLSink) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func encodeInfo(info map[string]any) (sql.NullString, error) {
	if len(info) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(info)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode additional info: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeInfo(info sql.NullString) (map[string]any, error) {
	if !info.Valid || info.String == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(info.String), &out); err != nil {
		return nil, fmt.Errorf("failed to decode additional info: %w", err)
	}
	return out, nil
}
