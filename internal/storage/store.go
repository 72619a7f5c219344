package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/bhojpur/trades/internal/domain"
)

// Store persists portfolio documents and trade snapshots in SQLite.
// Trades are unique-indexed on trade_id; the portfolio is one row per id,
// written via idempotent upsert.
type Store struct {
	db *sql.DB
}

// Open creates a trade store at dbPath with WAL mode enabled.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS portfolio (
			id INTEGER PRIMARY KEY,
			doc BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create portfolio table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			trade_id INTEGER PRIMARY KEY,
			active INTEGER NOT NULL DEFAULT 0,
			doc BLOB NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create trades table: %w", err)
	}

	return &Store{db: db}, nil
}

// SavePortfolio upserts the portfolio document keyed by its id. The write
// either succeeds or reports an error; it is never silently dropped.
func (s *Store) SavePortfolio(ctx context.Context, p *domain.Portfolio, ts int64) error {
	doc, err := p.MarshalDocument()
	if err != nil {
		return fmt.Errorf("failed to marshal portfolio: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO portfolio (id, doc, updated_at) VALUES (?, ?, ?) ON CONFLICT(id) DO UPDATE SET doc=excluded.doc, updated_at=excluded.updated_at",
		p.ID, doc, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert portfolio %d: %w", p.ID, err)
	}
	return nil
}

// LoadPortfolio returns the stored portfolio matching id, or nil when none
// exists.
func (s *Store) LoadPortfolio(ctx context.Context, id int64) (*domain.Portfolio, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, "SELECT doc FROM portfolio WHERE id = ?", id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio %d: %w", id, err)
	}
	return domain.DecodePortfolio(doc)
}

// InsertTrade stores a trade snapshot. A duplicate trade_id is treated as
// already persisted: the store is left unchanged and inserted is false.
func (s *Store) InsertTrade(ctx context.Context, t domain.Trade) (inserted bool, err error) {
	doc, err := t.MarshalSnapshot()
	if err != nil {
		return false, fmt.Errorf("failed to marshal trade %d: %w", t.TradeID(), err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO trades (trade_id, active, doc) VALUES (?, ?, ?) ON CONFLICT(trade_id) DO NOTHING",
		t.TradeID(), boolToInt(t.IsActive()), doc,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert trade %d: %w", t.TradeID(), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateTrade replaces an existing trade snapshot.
func (s *Store) UpdateTrade(ctx context.Context, t domain.Trade) error {
	doc, err := t.MarshalSnapshot()
	if err != nil {
		return fmt.Errorf("failed to marshal trade %d: %w", t.TradeID(), err)
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE trades SET active = ?, doc = ? WHERE trade_id = ?",
		boolToInt(t.IsActive()), doc, t.TradeID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update trade %d: %w", t.TradeID(), err)
	}
	return nil
}

// MaxTradeID returns the highest trade_id currently stored, or 0 if no
// trades exist.
func (s *Store) MaxTradeID(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(trade_id) FROM trades").Scan(&maxID)
	if err != nil {
		return 0, fmt.Errorf("failed to get max trade id: %w", err)
	}
	if !maxID.Valid {
		return 0, nil
	}
	return maxID.Int64, nil
}

// ActiveTrades returns all trades currently marked active, for
// reconciliation against venue state.
func (s *Store) ActiveTrades(ctx context.Context) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT doc FROM trades WHERE active = 1 ORDER BY trade_id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query active trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t, err := domain.DecodeTrade(doc)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return trades, nil
}

// TradeCount returns the total number of stored trades.
func (s *Store) TradeCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trades").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
