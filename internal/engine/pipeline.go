// Package engine composes validation, risk sizing, persistence and
// transmission into the platform's decision pipeline. All position book
// mutation in the composed system goes through here.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"genx-core/internal/analytics"
	"genx-core/internal/events"
	"genx-core/internal/market"
	"genx-core/internal/monitor"
	"genx-core/internal/risk"
	"genx-core/internal/signal"
	"genx-core/internal/validator"
	"genx-core/pkg/cache"
	"genx-core/pkg/db"
)

const (
	defaultStopPct       = 0.01
	defaultMinConfidence = 0.60
	defaultMinConsensus  = 0.30
	dbTimeout            = 5 * time.Second
)

// ErrNoPosition reports a close request for a symbol with nothing on the
// book.
var ErrNoPosition = errors.New("no open position")

// Entry price resolution prefers the finest timeframe with data.
var timeframePreference = []string{"M1", "M5", "M15", "M30", "H1", "H4", "D1"}

// Transmitter is the bridge surface the pipeline depends on.
type Transmitter interface {
	Broadcast(sig signal.TradingSignal) int
	AgentCount() int
}

// Outcome classifies what the pipeline did with a request.
type Outcome string

const (
	OutcomeRejectedValidation Outcome = "REJECTED_VALIDATION"
	OutcomeRejectedRisk       Outcome = "REJECTED_RISK"
	OutcomeSent               Outcome = "SENT"
	OutcomeQueued             Outcome = "QUEUED"
)

// Request is one trade idea entering the pipeline: an external directional
// read plus whatever per-timeframe OHLCV accompanied it. Zero entry or stop
// prices are derived from market data and the configured stop distance.
type Request struct {
	Symbol     string                     `json:"symbol"`
	Base       validator.BaseSignal       `json:"base"`
	Market     map[string][]market.Candle `json:"market,omitempty"`
	EntryPrice float64                    `json:"entry_price,omitempty"`
	StopLoss   float64                    `json:"stop_loss,omitempty"`
}

// Decision is the audited outcome of one request.
type Decision struct {
	Outcome  Outcome               `json:"outcome"`
	Reason   string                `json:"reason,omitempty"`
	Report   validator.Report      `json:"report"`
	Position *risk.PositionInfo    `json:"position,omitempty"`
	Signal   *signal.TradingSignal `json:"signal,omitempty"`
}

// Config carries the pipeline's collaborators. Validator, Sizer, Bridge and
// Log are required; DB, History, Quotes and Bus degrade to no-ops when
// absent so partial compositions still run.
type Config struct {
	Validator *validator.Validator
	Sizer     *risk.Sizer
	Bridge    Transmitter
	DB        *db.Database
	History   *analytics.History
	Quotes    *cache.QuoteCache
	Bus       *events.Bus
	Metrics   *monitor.Metrics
	Log       *zap.Logger

	MagicNumber   int
	SignalComment string
	MinConfidence float64
	MinConsensus  float64
	StopPct       float64
}

// Pipeline runs trade ideas through validate, gate, size, admit, persist and
// transmit, and feeds execution results back into the book.
type Pipeline struct {
	validator *validator.Validator
	sizer     *risk.Sizer
	bridge    Transmitter
	db        *db.Database
	history   *analytics.History
	quotes    *cache.QuoteCache
	bus       *events.Bus
	metrics   *monitor.Metrics
	log       *zap.Logger

	magicNumber   int
	signalComment string
	minConfidence float64
	minConsensus  float64
	stopPct       float64
}

// New wires a pipeline from its collaborators.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Validator == nil {
		return nil, fmt.Errorf("engine: validator is required")
	}
	if cfg.Sizer == nil {
		return nil, fmt.Errorf("engine: sizer is required")
	}
	if cfg.Bridge == nil {
		return nil, fmt.Errorf("engine: bridge is required")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("engine: logger is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = monitor.NewMetrics()
	}
	if cfg.History == nil {
		cfg.History = analytics.NewHistory(0)
	}
	if cfg.Quotes == nil {
		cfg.Quotes = cache.NewQuoteCache()
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = defaultMinConfidence
	}
	if cfg.MinConsensus <= 0 {
		cfg.MinConsensus = defaultMinConsensus
	}
	if cfg.StopPct <= 0 {
		cfg.StopPct = defaultStopPct
	}

	return &Pipeline{
		validator:     cfg.Validator,
		sizer:         cfg.Sizer,
		bridge:        cfg.Bridge,
		db:            cfg.DB,
		history:       cfg.History,
		quotes:        cfg.Quotes,
		bus:           cfg.Bus,
		metrics:       cfg.Metrics,
		log:           cfg.Log,
		magicNumber:   cfg.MagicNumber,
		signalComment: cfg.SignalComment,
		minConfidence: cfg.MinConfidence,
		minConsensus:  cfg.MinConsensus,
		stopPct:       cfg.StopPct,
	}, nil
}

// ProcessSignal runs one trade idea through the full decision path. Rejected
// ideas return a Decision with the reason, not an error; errors are reserved
// for missing inputs and persistence failures.
func (p *Pipeline) ProcessSignal(ctx context.Context, req Request) (d Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("pipeline panic",
				zap.String("symbol", req.Symbol),
				zap.Any("panic", r),
				zap.Stack("stack"))
			p.metrics.IncErrors()
			err = fmt.Errorf("engine: process %s: panic: %v", req.Symbol, r)
		}
	}()
	timer := monitor.NewTimer(p.metrics.PipelineLatency)
	defer timer.Stop()

	if req.Symbol == "" {
		return Decision{}, fmt.Errorf("engine: request has no symbol")
	}

	// 1. Validate the idea across timeframes.
	report := p.validator.Validate(req.Symbol, req.Base, req.Market)
	d.Report = report
	p.publish(events.EventSignalValidated, report)
	if px := lastMarketClose(req.Market); px > 0 {
		p.quotes.Set(req.Symbol, px, cache.SourceValidation)
	}

	// 2. Gate on verdict, confidence and consensus.
	if !validator.IsAcceptable(report, p.minConfidence, p.minConsensus) {
		d.Outcome = OutcomeRejectedValidation
		d.Reason = fmt.Sprintf("verdict %s, confidence %.2f, consensus %.2f",
			report.Result, report.Confidence, report.ConsensusScore)
		p.log.Info("idea rejected by validation",
			zap.String("symbol", req.Symbol),
			zap.String("reason", d.Reason))
		p.publish(events.EventSignalRejected, d)
		return d, nil
	}

	action := signal.ActionBuy
	if report.Result == validator.Sell || report.Result == validator.StrongSell {
		action = signal.ActionSell
	}

	// 3. Resolve entry and protective stop.
	entry := req.EntryPrice
	if entry <= 0 {
		entry = p.resolveEntry(req.Symbol, req.Market)
	}
	if entry <= 0 {
		return d, fmt.Errorf("engine: no entry price available for %s", req.Symbol)
	}
	stop := req.StopLoss
	if stop <= 0 {
		if action == signal.ActionBuy {
			stop = entry * (1 - p.stopPct)
		} else {
			stop = entry * (1 + p.stopPct)
		}
	}

	// 4. Size the position against the risk budget.
	info := p.sizer.CalculateSize(req.Symbol, entry, stop, report.Confidence, p.sizer.OpenPositionCount())
	d.Position = &info

	// 5. Admit into the portfolio or stop here.
	if ok, reason := p.sizer.AdmitPosition(info); !ok {
		d.Outcome = OutcomeRejectedRisk
		d.Reason = reason
		p.publish(events.EventSignalRejected, d)
		return d, nil
	}

	// 6. Build the order instruction and persist it before transmission, so
	// a crash between the two re-queues it at startup.
	sig := signal.New(req.Symbol, action, info.PositionSize)
	sig.StopLoss = info.StopLoss
	sig.TakeProfit = info.TakeProfit
	sig.MagicNumber = p.magicNumber
	sig.Comment = p.signalComment
	sig.Confidence = report.Confidence
	if err := sig.Validate(); err != nil {
		p.sizer.RetirePosition(req.Symbol, nil, nil)
		return d, fmt.Errorf("engine: built invalid signal: %w", err)
	}
	if err := p.persistSignal(ctx, sig); err != nil {
		p.sizer.RetirePosition(req.Symbol, nil, nil)
		return d, err
	}
	d.Signal = &sig

	// 7. Hand to the bridge; nobody connected means the queue holds it.
	if n := p.bridge.Broadcast(sig); n > 0 {
		p.markSent(ctx, sig.ID)
		d.Outcome = OutcomeSent
		p.log.Info("signal transmitted",
			zap.String("signal_id", sig.ID),
			zap.String("symbol", sig.Symbol),
			zap.String("action", string(sig.Action)),
			zap.Float64("volume", sig.Volume),
			zap.Int("agents", n))
	} else {
		d.Outcome = OutcomeQueued
		p.log.Info("signal queued for delivery",
			zap.String("signal_id", sig.ID),
			zap.String("symbol", sig.Symbol))
	}
	return d, nil
}

// CloseSymbol transmits a close instruction for an open position. The
// position stays on the book until the agent's fill comes back through
// HandleTradeResult; only the instruction leaves here.
func (p *Pipeline) CloseSymbol(ctx context.Context, symbol string) (Decision, error) {
	var d Decision
	if _, ok := p.sizer.OpenPosition(symbol); !ok {
		return d, fmt.Errorf("engine: close %s: %w", symbol, ErrNoPosition)
	}

	sig := signal.New(symbol, signal.ActionClose, 0)
	sig.MagicNumber = p.magicNumber
	sig.Comment = p.signalComment
	if err := p.persistSignal(ctx, sig); err != nil {
		return d, err
	}
	d.Signal = &sig

	if n := p.bridge.Broadcast(sig); n > 0 {
		p.markSent(ctx, sig.ID)
		d.Outcome = OutcomeSent
		p.log.Info("close transmitted",
			zap.String("signal_id", sig.ID),
			zap.String("symbol", symbol),
			zap.Int("agents", n))
	} else {
		d.Outcome = OutcomeQueued
		p.log.Info("close queued for delivery",
			zap.String("signal_id", sig.ID),
			zap.String("symbol", symbol))
	}
	return d, nil
}

// HandleTradeResult feeds execution feedback back into the book: failures
// release the budgeted risk, fills update the quote cache, and close fills
// realize P&L into history. Registered as the bridge's trade result
// listener.
func (p *Pipeline) HandleTradeResult(res signal.TradeResult) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	if p.db != nil {
		if err := p.db.InsertTradeResult(ctx, db.TradeResultRecord{
			SignalID:       res.SignalID,
			Ticket:         res.Ticket,
			Success:        res.Success,
			ErrorCode:      res.ErrorCode,
			ErrorMessage:   res.ErrorMessage,
			ExecutionPrice: res.ExecutionPrice,
			Slippage:       res.Slippage,
			ExecutedAt:     res.ExecutionTime,
		}); err != nil {
			p.metrics.IncErrors()
			p.log.Error("persist trade result", zap.String("signal_id", res.SignalID), zap.Error(err))
		}
	}

	rec := p.signalRecord(ctx, res.SignalID)
	if rec == nil {
		p.log.Warn("trade result for unknown signal", zap.String("signal_id", res.SignalID))
		return
	}

	if !res.Success {
		p.setSignalStatus(ctx, res.SignalID, db.SignalFailed)
		action := signal.Action(rec.Action)
		if action == signal.ActionBuy || action == signal.ActionSell {
			if p.sizer.RetirePosition(rec.Symbol, nil, nil) {
				p.log.Warn("execution failed, risk budget released",
					zap.String("signal_id", res.SignalID),
					zap.String("symbol", rec.Symbol),
					zap.Int("error_code", res.ErrorCode),
					zap.String("error", res.ErrorMessage))
			}
		}
		return
	}

	p.setSignalStatus(ctx, res.SignalID, db.SignalFilled)
	if res.ExecutionPrice > 0 {
		p.quotes.Set(rec.Symbol, res.ExecutionPrice, cache.SourceExecution)
	}

	if signal.Action(rec.Action) == signal.ActionClose {
		p.realizeClose(ctx, rec.Symbol, res.ExecutionPrice)
	}
}

// realizeClose retires the symbol's position at the fill price and records
// the realized return.
func (p *Pipeline) realizeClose(ctx context.Context, symbol string, execPrice float64) {
	var exit *float64
	if execPrice > 0 {
		exit = &execPrice
	}
	if !p.sizer.RetirePosition(symbol, exit, nil) {
		p.log.Warn("close fill for symbol with no open position", zap.String("symbol", symbol))
		return
	}

	closed := p.sizer.ClosedPositions(1)
	if len(closed) == 0 {
		return
	}
	pos := closed[0]
	p.history.Record(pos.RealizedPnL, p.sizer.Balance())

	if p.db != nil {
		if err := p.db.InsertClosedPosition(ctx, db.ClosedPositionRecord{
			Symbol:       pos.Symbol,
			Direction:    string(pos.Direction),
			EntryPrice:   pos.EntryPrice,
			ExitPrice:    pos.ExitPrice,
			PositionSize: pos.PositionSize,
			RiskAmount:   pos.RiskAmount,
			RealizedPnL:  pos.RealizedPnL,
			OpenedAt:     pos.OpenedAt,
			ClosedAt:     pos.ClosedAt,
		}); err != nil {
			p.metrics.IncErrors()
			p.log.Error("persist closed position", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// HandleAccountStatus rescales the risk book against reported equity and
// samples the account state. Registered as the bridge's account status
// listener.
func (p *Pipeline) HandleAccountStatus(st signal.AccountStatus) {
	p.sizer.UpdateAccountBalance(st.Balance)

	if p.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	if err := p.db.InsertAccountSnapshot(ctx, db.AccountSnapshot{
		Account:       st.Account,
		Balance:       st.Balance,
		Equity:        st.Equity,
		Margin:        st.Margin,
		FreeMargin:    st.FreeMargin,
		MarginLevel:   st.MarginLevel,
		Profit:        st.Profit,
		OpenPositions: st.OpenPositions,
	}); err != nil {
		p.metrics.IncErrors()
		p.log.Error("persist account snapshot", zap.Error(err))
	}
}

// RecoverPending re-hands undelivered signals to the bridge at startup.
// With no agents connected yet they land back on the outbound queue.
func (p *Pipeline) RecoverPending(ctx context.Context) (int, error) {
	if p.db == nil {
		return 0, nil
	}
	recs, err := p.db.PendingSignals(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: recover pending: %w", err)
	}

	for _, rec := range recs {
		sig := signal.TradingSignal{
			ID:          rec.ID,
			Symbol:      rec.Symbol,
			Action:      signal.Action(rec.Action),
			Volume:      rec.Volume,
			StopLoss:    rec.StopLoss,
			TakeProfit:  rec.TakeProfit,
			MagicNumber: rec.MagicNumber,
			Comment:     rec.Comment,
			Confidence:  rec.Confidence,
			CreatedAt:   rec.CreatedAt,
		}
		if n := p.bridge.Broadcast(sig); n > 0 {
			p.markSent(ctx, sig.ID)
		}
	}
	if len(recs) > 0 {
		p.log.Info("recovered undelivered signals", zap.Int("count", len(recs)))
	}
	return len(recs), nil
}

func (p *Pipeline) resolveEntry(symbol string, data map[string][]market.Candle) float64 {
	if close := lastMarketClose(data); close > 0 {
		return close
	}
	if price, ok := p.quotes.Get(symbol); ok {
		return price
	}
	return 0
}

func lastMarketClose(data map[string][]market.Candle) float64 {
	for _, tf := range timeframePreference {
		if c := market.LastClose(data[tf]); c > 0 {
			return c
		}
	}
	for _, candles := range data {
		if c := market.LastClose(candles); c > 0 {
			return c
		}
	}
	return 0
}

func (p *Pipeline) persistSignal(ctx context.Context, sig signal.TradingSignal) error {
	if p.db == nil {
		return nil
	}
	if err := p.db.InsertSignal(ctx, db.SignalRecord{
		ID:          sig.ID,
		Symbol:      sig.Symbol,
		Action:      string(sig.Action),
		Volume:      sig.Volume,
		StopLoss:    sig.StopLoss,
		TakeProfit:  sig.TakeProfit,
		MagicNumber: sig.MagicNumber,
		Comment:     sig.Comment,
		Confidence:  sig.Confidence,
		CreatedAt:   sig.CreatedAt,
	}); err != nil {
		return fmt.Errorf("engine: persist signal %s: %w", sig.ID, err)
	}
	return nil
}

func (p *Pipeline) markSent(ctx context.Context, id string) {
	if p.db == nil {
		return
	}
	if err := p.db.MarkSignalSent(ctx, id); err != nil {
		p.log.Error("mark signal sent", zap.String("signal_id", id), zap.Error(err))
	}
}

func (p *Pipeline) setSignalStatus(ctx context.Context, id, status string) {
	if p.db == nil {
		return
	}
	if err := p.db.UpdateSignalStatus(ctx, id, status); err != nil {
		p.log.Error("update signal status",
			zap.String("signal_id", id),
			zap.String("status", status),
			zap.Error(err))
	}
}

func (p *Pipeline) signalRecord(ctx context.Context, id string) *db.SignalRecord {
	if p.db == nil {
		return nil
	}
	rec, err := p.db.SignalByID(ctx, id)
	if err != nil {
		p.log.Error("look up signal", zap.String("signal_id", id), zap.Error(err))
		return nil
	}
	return rec
}

func (p *Pipeline) publish(e events.Event, payload any) {
	if p.bus != nil {
		p.bus.Publish(e, payload)
	}
}
