// Package journal persists executions to SQLite and builds daily reports.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/niveshlabs/nivesh/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    trade_day    TEXT    NOT NULL,
    symbol       TEXT    NOT NULL,
    side         TEXT    NOT NULL,
    quantity     INTEGER NOT NULL,
    price        REAL    NOT NULL,
    success      INTEGER NOT NULL,
    paper_trade  INTEGER NOT NULL,
    order_id     TEXT,
    plan_id      TEXT,
    exit_reason  TEXT,
    realized_pnl REAL,
    reason       TEXT,
    executed_at  TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_day ON executions(trade_day);
CREATE INDEX IF NOT EXISTS idx_executions_symbol ON executions(symbol);
`

// Entry is one journaled execution. RealizedPnL is set only on exits.
type Entry struct {
	TradeDay    string    `json:"trade_day"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Quantity    int64     `json:"quantity"`
	Price       float64   `json:"price"`
	Success     bool      `json:"success"`
	PaperTrade  bool      `json:"paper_trade"`
	OrderID     string    `json:"order_id,omitempty"`
	PlanID      string    `json:"plan_id,omitempty"`
	ExitReason  string    `json:"exit_reason,omitempty"`
	RealizedPnL *float64  `json:"realized_pnl,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// Report aggregates one trading day.
type Report struct {
	Day         string  `json:"day"`
	Trades      int     `json:"trades"`
	Buys        int     `json:"buys"`
	Sells       int     `json:"sells"`
	Failed      int     `json:"failed"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	GrossPnL    float64 `json:"gross_pnl"`
	WinRate     float64 `json:"win_rate"`
	BestSymbol  string  `json:"best_symbol,omitempty"`
	WorstSymbol string  `json:"worst_symbol,omitempty"`
}

// Journal is the append-only execution ledger. Trade days follow the
// exchange timezone, not UTC.
type Journal struct {
	db  *sql.DB
	loc *time.Location
	log zerolog.Logger
}

// Open opens (creating if needed) the journal database. The ledger is an
// audit trail for real money, so writes fsync and the file never shrinks.
func Open(path string, loc *time.Location, log zerolog.Logger) (*Journal, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve journal path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	connStr := absPath + "?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(FULL)" +
		"&_pragma=auto_vacuum(NONE)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=wal_autocheckpoint(1000)"

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(24 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to apply journal schema: %w", err)
	}

	return &Journal{
		db:  db,
		loc: loc,
		log: log.With().Str("component", "journal").Logger(),
	}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one execution. TradeDay is derived from ExecutedAt in the
// exchange timezone when unset.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.ExecutedAt.IsZero() {
		return fmt.Errorf("journal entry has no execution time")
	}
	if e.TradeDay == "" {
		e.TradeDay = e.ExecutedAt.In(j.loc).Format("2006-01-02")
	}

	var pnl sql.NullFloat64
	if e.RealizedPnL != nil {
		pnl = sql.NullFloat64{Float64: *e.RealizedPnL, Valid: true}
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO executions
			(trade_day, symbol, side, quantity, price, success, paper_trade,
			 order_id, plan_id, exit_reason, realized_pnl, reason, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TradeDay, e.Symbol, e.Side, e.Quantity, e.Price,
		boolToInt(e.Success), boolToInt(e.PaperTrade),
		e.OrderID, e.PlanID, e.ExitReason, pnl, e.Reason,
		e.ExecutedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record execution for %s: %w", e.Symbol, err)
	}

	j.log.Debug().Str("symbol", e.Symbol).Str("side", e.Side).
		Int64("quantity", e.Quantity).Bool("paper", e.PaperTrade).
		Msg("Execution journaled")
	return nil
}

// Executions returns the day's entries in execution order.
func (j *Journal) Executions(ctx context.Context, day time.Time) ([]Entry, error) {
	key := day.In(j.loc).Format("2006-01-02")
	rows, err := j.db.QueryContext(ctx, `
		SELECT trade_day, symbol, side, quantity, price, success, paper_trade,
		       order_id, plan_id, exit_reason, realized_pnl, reason, executed_at
		FROM executions WHERE trade_day = ? ORDER BY id`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions for %s: %w", key, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e              Entry
			success, paper int
			pnl            sql.NullFloat64
			executedAt     string
		)
		if err := rows.Scan(&e.TradeDay, &e.Symbol, &e.Side, &e.Quantity, &e.Price,
			&success, &paper, &e.OrderID, &e.PlanID, &e.ExitReason,
			&pnl, &e.Reason, &executedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		e.Success = success != 0
		e.PaperTrade = paper != 0
		if pnl.Valid {
			v := pnl.Float64
			e.RealizedPnL = &v
		}
		if ts, err := time.Parse(time.RFC3339Nano, executedAt); err == nil {
			e.ExecutedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DailyReport aggregates the day's successful executions.
func (j *Journal) DailyReport(ctx context.Context, day time.Time) (*Report, error) {
	entries, err := j.Executions(ctx, day)
	if err != nil {
		return nil, err
	}

	rep := &Report{Day: day.In(j.loc).Format("2006-01-02")}
	perSymbol := make(map[string]float64)
	for _, e := range entries {
		if !e.Success {
			rep.Failed++
			continue
		}
		rep.Trades++
		switch domain.Side(e.Side) {
		case domain.SideBuy:
			rep.Buys++
		case domain.SideSell:
			rep.Sells++
		}
		if e.RealizedPnL == nil {
			continue
		}
		rep.GrossPnL += *e.RealizedPnL
		perSymbol[e.Symbol] += *e.RealizedPnL
		if *e.RealizedPnL > 0 {
			rep.Wins++
		} else if *e.RealizedPnL < 0 {
			rep.Losses++
		}
	}
	if closed := rep.Wins + rep.Losses; closed > 0 {
		rep.WinRate = float64(rep.Wins) / float64(closed)
	}

	best, worst := 0.0, 0.0
	for sym, p := range perSymbol {
		if p > best {
			best, rep.BestSymbol = p, sym
		}
		if p < worst {
			worst, rep.WorstSymbol = p, sym
		}
	}
	return rep, nil
}

// PnLSince sums realized P&L recorded on or after the given day. The
// circuit breaker's accuracy window reads through this.
func (j *Journal) PnLSince(ctx context.Context, from time.Time) (float64, error) {
	key := from.In(j.loc).Format("2006-01-02")
	var total sql.NullFloat64
	err := j.db.QueryRowContext(ctx, `
		SELECT SUM(realized_pnl) FROM executions
		WHERE trade_day >= ? AND success = 1 AND realized_pnl IS NOT NULL`, key).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum realized pnl: %w", err)
	}
	return total.Float64, nil
}

// ExportDay writes the day's entries as indented JSON, the portable
// counterpart to the sqlite ledger. The file is replaced atomically.
func (j *Journal) ExportDay(ctx context.Context, day time.Time, path string) error {
	entries, err := j.Executions(ctx, day)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []Entry{}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode journal export: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write journal export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace journal export: %w", err)
	}
	j.log.Debug().Int("entries", len(entries)).Str("path", path).Msg("Journal exported")
	return nil
}

// Checkpoint truncates the WAL so the log file does not grow unbounded
// between restarts.
func (j *Journal) Checkpoint(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint journal: %w", err)
	}
	return nil
}

// IntegrityCheck runs sqlite's integrity check and returns an error on any
// result other than "ok".
func (j *Journal) IntegrityCheck(ctx context.Context) error {
	var result string
	if err := j.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("journal integrity check failed: %s", result)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
