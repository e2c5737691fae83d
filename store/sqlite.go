package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"autoexit/monitor"
	"autoexit/trade"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ monitor.StateStore = (*SQLiteStore)(nil)
var _ trade.PaperLedger = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runtime_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS pending_exits (
	pos_key    TEXT PRIMARY KEY,
	remaining  INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS paper_trades (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   INTEGER NOT NULL,
	symbol      TEXT NOT NULL,
	side        TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	exit_price  TEXT,
	qty         INTEGER NOT NULL,
	pnl         TEXT,
	status      TEXT NOT NULL,
	rr_stage    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_paper_trades_symbol_status ON paper_trades(symbol, status);
`

const (
	keyTargetPoints = "target_points"
	keyPaperMode    = "paper_mode"
	keyPaused       = "paused"
	keyPollInterval = "poll_interval_seconds"
	keyAutoExit     = "enable_auto_exit"
)

// SQLiteStore persists runtime state, pending exit remainders and paper trades.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one connection: the loop and the control surfaces share a single writer
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// monitor.StateStore
// ---------------------------------------------------------------------------

func (s *SQLiteStore) LoadRuntime(ctx context.Context) (monitor.RuntimeState, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM runtime_state`)
	if err != nil {
		return monitor.RuntimeState{}, false, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return monitor.RuntimeState{}, false, err
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return monitor.RuntimeState{}, false, err
	}
	if len(values) == 0 {
		return monitor.RuntimeState{}, false, nil
	}

	var state monitor.RuntimeState
	if v, ok := values[keyTargetPoints]; ok {
		if state.TargetPoints, err = decimal.NewFromString(v); err != nil {
			return state, false, fmt.Errorf("%s: %w", keyTargetPoints, err)
		}
	}
	if v, ok := values[keyPollInterval]; ok {
		if state.PollIntervalSeconds, err = strconv.ParseFloat(v, 64); err != nil {
			return state, false, fmt.Errorf("%s: %w", keyPollInterval, err)
		}
	}
	state.PaperMode = values[keyPaperMode] == "true"
	state.Paused = values[keyPaused] == "true"
	state.AutoExitEnabled = values[keyAutoExit] != "false"
	return state, true, nil
}

func (s *SQLiteStore) SaveRuntime(ctx context.Context, state monitor.RuntimeState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	values := map[string]string{
		keyTargetPoints: state.TargetPoints.String(),
		keyPaperMode:    strconv.FormatBool(state.PaperMode),
		keyPaused:       strconv.FormatBool(state.Paused),
		keyPollInterval: strconv.FormatFloat(state.PollIntervalSeconds, 'f', -1, 64),
		keyAutoExit:     strconv.FormatBool(state.AutoExitEnabled),
	}
	for k, v := range values {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO runtime_state (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("save %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadPendingExits(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pos_key, remaining FROM pending_exits WHERE remaining > 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var key string
		var remaining int
		if err := rows.Scan(&key, &remaining); err != nil {
			return nil, err
		}
		out[key] = remaining
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SavePendingExit(ctx context.Context, key string, remaining int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_exits (pos_key, remaining, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(pos_key) DO UPDATE SET remaining = excluded.remaining, updated_at = excluded.updated_at`,
		key, remaining, time.Now().Unix())
	return err
}

func (s *SQLiteStore) DeletePendingExit(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_exits WHERE pos_key = ?`, key)
	return err
}

// ---------------------------------------------------------------------------
// trade.PaperLedger
// ---------------------------------------------------------------------------

func (s *SQLiteStore) RecordPaperTrade(ctx context.Context, t trade.PaperTrade) (int64, error) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	if t.Status == "" {
		t.Status = trade.StatusOpen
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO paper_trades (timestamp, symbol, side, entry_price, qty, status, rr_stage)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Timestamp.UnixMilli(), t.Symbol, t.Side, t.EntryPrice.StringFixed(2), t.Quantity, t.Status, t.RRStage)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) LatestOpenPaperTrade(ctx context.Context, symbol string) (trade.PaperTrade, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, timestamp, symbol, side, entry_price, exit_price, qty, pnl, status, rr_stage
		 FROM paper_trades WHERE symbol = ? AND status = ? ORDER BY id DESC LIMIT 1`,
		symbol, trade.StatusOpen)
	t, err := scanPaperTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return trade.PaperTrade{}, trade.ErrNoOpenTrade
	}
	return t, err
}

func (s *SQLiteStore) ClosePaperTrade(ctx context.Context, id int64, exitPrice, pnl decimal.Decimal, rrStage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE paper_trades SET exit_price = ?, pnl = ?, status = ?, rr_stage = ?
		 WHERE id = ? AND status = ?`,
		exitPrice.StringFixed(2), pnl.StringFixed(2), trade.StatusClosed, rrStage, id, trade.StatusOpen)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return trade.ErrNoOpenTrade
	}
	return nil
}

func (s *SQLiteStore) PaperTradesBetween(ctx context.Context, from, to time.Time) ([]trade.PaperTrade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, symbol, side, entry_price, exit_price, qty, pnl, status, rr_stage
		 FROM paper_trades WHERE timestamp >= ? AND timestamp < ? ORDER BY id`,
		from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trade.PaperTrade
	for rows.Next() {
		t, err := scanPaperTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPaperTrade(row scanner) (trade.PaperTrade, error) {
	var (
		t         trade.PaperTrade
		ts        int64
		entry     string
		exitPrice sql.NullString
		pnl       sql.NullString
	)
	if err := row.Scan(&t.ID, &ts, &t.Symbol, &t.Side, &entry, &exitPrice, &t.Quantity, &pnl, &t.Status, &t.RRStage); err != nil {
		return trade.PaperTrade{}, err
	}
	t.Timestamp = time.UnixMilli(ts)

	var err error
	if t.EntryPrice, err = decimal.NewFromString(entry); err != nil {
		return trade.PaperTrade{}, fmt.Errorf("entry_price: %w", err)
	}
	if exitPrice.Valid {
		d, err := decimal.NewFromString(exitPrice.String)
		if err != nil {
			return trade.PaperTrade{}, fmt.Errorf("exit_price: %w", err)
		}
		t.ExitPrice = decimal.NewNullDecimal(d)
	}
	if pnl.Valid {
		d, err := decimal.NewFromString(pnl.String)
		if err != nil {
			return trade.PaperTrade{}, fmt.Errorf("pnl: %w", err)
		}
		t.PnL = decimal.NewNullDecimal(d)
	}
	return t, nil
}
