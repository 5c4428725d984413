package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/snipebot/internal/domain"
)

var log = logrus.WithField("module", "storage")

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	position_id  TEXT NOT NULL,
	mint         TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	entry_price  REAL NOT NULL,
	exit_price   REAL NOT NULL,
	invested_sol REAL NOT NULL,
	returned_sol REAL NOT NULL,
	pnl_sol      REAL NOT NULL,
	pnl_pct      REAL NOT NULL,
	duration_sec INTEGER NOT NULL,
	close_reason TEXT NOT NULL,
	entry_tx     TEXT,
	exit_tx      TEXT,
	entry_score  REAL,
	was_runner   INTEGER NOT NULL DEFAULT 0,
	closed_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);
CREATE INDEX IF NOT EXISTS idx_trades_mint ON trades(mint);
`

// SQLiteStore 成交历史存储。实现 ports.TradeStore。
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite 打开（必要时创建）成交历史库
func NewSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "创建存储目录失败")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "打开 SQLite 失败")
	}
	// 单写者足够，避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "初始化表结构失败")
	}

	log.Infof("💾 成交历史库已就绪: %s", path)
	return &SQLiteStore{db: db}, nil
}

// SaveTrade 写入一条成交记录
func (s *SQLiteStore) SaveTrade(ctx context.Context, rec *domain.TradeRecord) error {
	if rec == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (
			position_id, mint, symbol, entry_price, exit_price,
			invested_sol, returned_sol, pnl_sol, pnl_pct, duration_sec,
			close_reason, entry_tx, exit_tx, entry_score, was_runner, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.PositionID, rec.Mint, rec.Symbol, rec.EntryPrice, rec.ExitPrice,
		round9(rec.InvestedSOL), round9(rec.ReturnedSOL), round9(rec.PnLSOL), rec.PnLPct, int64(rec.Duration.Seconds()),
		string(rec.CloseReason), rec.EntryTxRef, rec.ExitTxRef, rec.EntryScore, rec.WasRunner, rec.ClosedAt,
	)
	return errors.Wrap(err, "写入成交记录失败")
}

// RecentTrades 按时间倒序取最近 n 条成交（控制面展示用）
func (s *SQLiteStore) RecentTrades(ctx context.Context, n int) ([]*domain.TradeRecord, error) {
	if n <= 0 {
		n = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT position_id, mint, symbol, entry_price, exit_price,
		       invested_sol, returned_sol, pnl_sol, pnl_pct, duration_sec,
		       close_reason, entry_tx, exit_tx, entry_score, was_runner, closed_at
		FROM trades ORDER BY closed_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, errors.Wrap(err, "查询成交记录失败")
	}
	defer rows.Close()

	var out []*domain.TradeRecord
	for rows.Next() {
		rec := &domain.TradeRecord{}
		var durationSec int64
		var reason string
		if err := rows.Scan(
			&rec.PositionID, &rec.Mint, &rec.Symbol, &rec.EntryPrice, &rec.ExitPrice,
			&rec.InvestedSOL, &rec.ReturnedSOL, &rec.PnLSOL, &rec.PnLPct, &durationSec,
			&reason, &rec.EntryTxRef, &rec.ExitTxRef, &rec.EntryScore, &rec.WasRunner, &rec.ClosedAt,
		); err != nil {
			return nil, errors.Wrap(err, "扫描成交记录失败")
		}
		rec.Duration = time.Duration(durationSec) * time.Second
		rec.CloseReason = domain.CloseReason(reason)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// round9 SOL 金额按 lamport 精度（9 位小数）落库，避免浮点尾差
func round9(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(9).Float64()
	return f
}
