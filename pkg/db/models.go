package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Signal delivery states persisted with each signal row.
const (
	SignalPending = "PENDING"
	SignalSent    = "SENT"
	SignalFilled  = "FILLED"
	SignalFailed  = "FAILED"
)

// SignalRecord is a trading signal as stored in the DB.
type SignalRecord struct {
	ID          string
	Symbol      string
	Action      string
	Volume      float64
	StopLoss    float64
	TakeProfit  float64
	MagicNumber int
	Comment     string
	Confidence  float64
	Status      string
	CreatedAt   time.Time
}

// TradeResultRecord is execution feedback as stored in the DB.
type TradeResultRecord struct {
	SignalID       string
	Ticket         int64
	Success        bool
	ErrorCode      int
	ErrorMessage   string
	ExecutionPrice float64
	Slippage       float64
	ExecutedAt     time.Time
}

// ClosedPositionRecord is a retired position with realized P&L.
type ClosedPositionRecord struct {
	Symbol       string
	Direction    string
	EntryPrice   float64
	ExitPrice    float64
	PositionSize float64
	RiskAmount   float64
	RealizedPnL  float64
	OpenedAt     time.Time
	ClosedAt     time.Time
}

// AccountSnapshot is an agent-reported account state sample.
type AccountSnapshot struct {
	Account       string
	Balance       float64
	Equity        float64
	Margin        float64
	FreeMargin    float64
	MarginLevel   float64
	Profit        float64
	OpenPositions int
	TakenAt       time.Time
}

// InsertSignal stores a new signal row.
func (d *Database) InsertSignal(ctx context.Context, s SignalRecord) error {
	status := s.Status
	if status == "" {
		status = SignalPending
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO signals (id, symbol, action, volume, stop_loss, take_profit, magic_number, comment, confidence, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, s.ID, s.Symbol, s.Action, s.Volume, s.StopLoss, s.TakeProfit, s.MagicNumber, s.Comment, s.Confidence, status, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

// MarkSignalSent flips a pending signal to SENT and stamps the send time.
func (d *Database) MarkSignalSent(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE signals SET status = ?, sent_at = CURRENT_TIMESTAMP WHERE id = ?
	`, SignalSent, id)
	if err != nil {
		return fmt.Errorf("mark signal sent: %w", err)
	}
	return nil
}

// UpdateSignalStatus sets an arbitrary delivery state on a signal.
func (d *Database) UpdateSignalStatus(ctx context.Context, id, status string) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE signals SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update signal status: %w", err)
	}
	return nil
}

// PendingSignals returns undelivered signals oldest-first, for queue recovery.
func (d *Database) PendingSignals(ctx context.Context) ([]SignalRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, action, volume, COALESCE(stop_loss, 0), COALESCE(take_profit, 0),
		       magic_number, COALESCE(comment, ''), COALESCE(confidence, 0), status, created_at
		FROM signals
		WHERE status = ?
		ORDER BY created_at ASC
	`, SignalPending)
	if err != nil {
		return nil, fmt.Errorf("query pending signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

// SignalByID fetches one signal row, or nil when the id is unknown.
func (d *Database) SignalByID(ctx context.Context, id string) (*SignalRecord, error) {
	var s SignalRecord
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, symbol, action, volume, COALESCE(stop_loss, 0), COALESCE(take_profit, 0),
		       magic_number, COALESCE(comment, ''), COALESCE(confidence, 0), status, created_at
		FROM signals
		WHERE id = ?
	`, id).Scan(&s.ID, &s.Symbol, &s.Action, &s.Volume, &s.StopLoss, &s.TakeProfit,
		&s.MagicNumber, &s.Comment, &s.Confidence, &s.Status, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query signal %s: %w", id, err)
	}
	return &s, nil
}

// RecentSignals returns the newest signal rows up to limit.
func (d *Database) RecentSignals(ctx context.Context, limit int) ([]SignalRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, action, volume, COALESCE(stop_loss, 0), COALESCE(take_profit, 0),
		       magic_number, COALESCE(comment, ''), COALESCE(confidence, 0), status, created_at
		FROM signals
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent signals: %w", err)
	}
	defer rows.Close()
	return scanSignals(rows)
}

func scanSignals(rows *sql.Rows) ([]SignalRecord, error) {
	var out []SignalRecord
	for rows.Next() {
		var s SignalRecord
		if err := rows.Scan(&s.ID, &s.Symbol, &s.Action, &s.Volume, &s.StopLoss, &s.TakeProfit,
			&s.MagicNumber, &s.Comment, &s.Confidence, &s.Status, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertTradeResult appends execution feedback for a signal.
func (d *Database) InsertTradeResult(ctx context.Context, r TradeResultRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trade_results (signal_id, ticket, success, error_code, error_message, execution_price, slippage, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, r.SignalID, r.Ticket, r.Success, r.ErrorCode, r.ErrorMessage, r.ExecutionPrice, r.Slippage, r.ExecutedAt)
	if err != nil {
		return fmt.Errorf("insert trade result: %w", err)
	}
	return nil
}

// RecentTradeResults returns the newest results up to limit.
func (d *Database) RecentTradeResults(ctx context.Context, limit int) ([]TradeResultRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT signal_id, COALESCE(ticket, 0), success, COALESCE(error_code, 0),
		       COALESCE(error_message, ''), COALESCE(execution_price, 0), COALESCE(slippage, 0), executed_at
		FROM trade_results
		ORDER BY executed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trade results: %w", err)
	}
	defer rows.Close()

	var out []TradeResultRecord
	for rows.Next() {
		var r TradeResultRecord
		if err := rows.Scan(&r.SignalID, &r.Ticket, &r.Success, &r.ErrorCode,
			&r.ErrorMessage, &r.ExecutionPrice, &r.Slippage, &r.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan trade result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertClosedPosition appends a retired position to history.
func (d *Database) InsertClosedPosition(ctx context.Context, p ClosedPositionRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO closed_positions (symbol, direction, entry_price, exit_price, position_size, risk_amount, realized_pnl, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, p.Symbol, p.Direction, p.EntryPrice, p.ExitPrice, p.PositionSize, p.RiskAmount, p.RealizedPnL, p.OpenedAt, p.ClosedAt)
	if err != nil {
		return fmt.Errorf("insert closed position: %w", err)
	}
	return nil
}

// RecentClosedPositions returns the newest closed positions up to limit.
func (d *Database) RecentClosedPositions(ctx context.Context, limit int) ([]ClosedPositionRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, direction, entry_price, COALESCE(exit_price, 0), position_size,
		       COALESCE(risk_amount, 0), COALESCE(realized_pnl, 0),
		       COALESCE(opened_at, closed_at), closed_at
		FROM closed_positions
		ORDER BY closed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query closed positions: %w", err)
	}
	defer rows.Close()

	var out []ClosedPositionRecord
	for rows.Next() {
		var p ClosedPositionRecord
		if err := rows.Scan(&p.Symbol, &p.Direction, &p.EntryPrice, &p.ExitPrice, &p.PositionSize,
			&p.RiskAmount, &p.RealizedPnL, &p.OpenedAt, &p.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan closed position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertAccountSnapshot stores an agent-reported account state sample.
func (d *Database) InsertAccountSnapshot(ctx context.Context, a AccountSnapshot) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO account_snapshots (account, balance, equity, margin, free_margin, margin_level, profit, open_positions, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, a.Account, a.Balance, a.Equity, a.Margin, a.FreeMargin, a.MarginLevel, a.Profit, a.OpenPositions, a.TakenAt)
	if err != nil {
		return fmt.Errorf("insert account snapshot: %w", err)
	}
	return nil
}

// LatestAccountSnapshot returns the most recent snapshot, or nil when empty.
func (d *Database) LatestAccountSnapshot(ctx context.Context) (*AccountSnapshot, error) {
	var a AccountSnapshot
	err := d.DB.QueryRowContext(ctx, `
		SELECT COALESCE(account, ''), balance, COALESCE(equity, 0), COALESCE(margin, 0),
		       COALESCE(free_margin, 0), COALESCE(margin_level, 0), COALESCE(profit, 0),
		       COALESCE(open_positions, 0), taken_at
		FROM account_snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&a.Account, &a.Balance, &a.Equity, &a.Margin, &a.FreeMargin, &a.MarginLevel,
		&a.Profit, &a.OpenPositions, &a.TakenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	return &a, nil
}
