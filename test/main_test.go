package main

import (
	"context"
	"log"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"genx-core/internal/analytics"
	"genx-core/internal/bridge"
	"genx-core/internal/engine"
	"genx-core/internal/events"
	"genx-core/internal/market"
	"genx-core/internal/monitor"
	"genx-core/internal/risk"
	"genx-core/internal/signal"
	"genx-core/internal/validator"
	"genx-core/pkg/cache"
	"genx-core/pkg/db"
)

// stack wires the full decision path around a live TCP bridge, mirroring the
// composition in main.go.
type stack struct {
	db      *db.Database
	bus     *events.Bus
	bridge  *bridge.Server
	pipe    *engine.Pipeline
	sizer   *risk.Sizer
	history *analytics.History
	quotes  *cache.QuoteCache
}

func newStack(t *testing.T, mutateBridge func(*bridge.Config)) *stack {
	t.Helper()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	bus := events.NewBus()
	metrics := monitor.NewMetrics()
	quotes := cache.NewQuoteCache()
	history := analytics.NewHistory(64)

	sizer, err := risk.NewSizer(risk.DefaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("risk.NewSizer: %v", err)
	}
	valid, err := validator.New(validator.Config{
		Timeframes:  validator.DefaultTimeframes(),
		ShortPeriod: 3,
		LongPeriod:  5,
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("validator.New: %v", err)
	}

	bcfg := bridge.DefaultConfig()
	bcfg.Addr = "127.0.0.1:0"
	bcfg.ReadTimeout = 100 * time.Millisecond
	bcfg.FlushInterval = 50 * time.Millisecond
	// Terminals here never heartbeat; keep liveness eviction out of the way.
	bcfg.HeartbeatTimeout = 30 * time.Second
	if mutateBridge != nil {
		mutateBridge(&bcfg)
	}
	brg := bridge.NewServer(bcfg, bus, metrics, zap.NewNop())

	pipe, err := engine.New(engine.Config{
		Validator:     valid,
		Sizer:         sizer,
		Bridge:        brg,
		DB:            database,
		History:       history,
		Quotes:        quotes,
		Bus:           bus,
		Metrics:       metrics,
		Log:           zap.NewNop(),
		MagicNumber:   777,
		SignalComment: "workflow",
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	brg.OnTradeResult(pipe.HandleTradeResult)
	brg.OnAccountStatus(pipe.HandleAccountStatus)

	ctx, cancel := context.WithCancel(context.Background())
	if err := brg.Start(ctx); err != nil {
		t.Fatalf("bridge.Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		brg.Stop()
	})

	return &stack{
		db:      database,
		bus:     bus,
		bridge:  brg,
		pipe:    pipe,
		sizer:   sizer,
		history: history,
		quotes:  quotes,
	}
}

// terminal is a wire-level execution agent driving the bridge from outside.
type terminal struct {
	t      *testing.T
	conn   net.Conn
	reader *bridge.FrameReader
}

func dialTerminal(t *testing.T, addr string) *terminal {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	a := &terminal{t: t, conn: conn, reader: bridge.NewFrameReader(0)}
	t.Cleanup(func() { _ = conn.Close() })
	return a
}

func (a *terminal) send(mt bridge.MessageType, payload any) {
	a.t.Helper()
	env, err := bridge.NewEnvelope(mt, payload)
	if err != nil {
		a.t.Fatalf("NewEnvelope: %v", err)
	}
	frame, err := bridge.EncodeFrame(env, 0)
	if err != nil {
		a.t.Fatalf("EncodeFrame: %v", err)
	}
	if _, err := a.conn.Write(frame); err != nil {
		a.t.Fatalf("write frame: %v", err)
	}
}

func (a *terminal) identify(account string, magic int) {
	a.t.Helper()
	a.send(bridge.TypeEAInfo, signal.AgentInfo{
		Name:        "workflow-terminal",
		Version:     "1.0",
		Account:     account,
		Broker:      "TestBroker",
		MagicNumber: magic,
	})
}

func (a *terminal) readEnvelope(timeout time.Duration) (bridge.Envelope, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 4096)
	for {
		env, ok, err := a.reader.Next()
		if err != nil {
			return bridge.Envelope{}, err
		}
		if ok {
			return env, nil
		}

		_ = a.conn.SetReadDeadline(deadline)
		n, rerr := a.conn.Read(buf)
		if n > 0 {
			a.reader.Feed(buf[:n])
			continue
		}
		if rerr != nil {
			return bridge.Envelope{}, rerr
		}
	}
}

// readSignal skips unrelated traffic until a SIGNAL envelope arrives.
func (a *terminal) readSignal(timeout time.Duration) signal.TradingSignal {
	a.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		env, err := a.readEnvelope(time.Until(deadline))
		if err != nil {
			a.t.Fatalf("read envelope: %v", err)
		}
		if env.Type != bridge.TypeSignal {
			continue
		}
		payload, err := env.DecodePayload()
		if err != nil {
			a.t.Fatalf("decode signal: %v", err)
		}
		return payload.(signal.TradingSignal)
	}
	a.t.Fatal("no SIGNAL envelope before the deadline")
	return signal.TradingSignal{}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func trendingCandles(start, step float64, count int) []market.Candle {
	candles := make([]market.Candle, count)
	price := start
	for i := range candles {
		candles[i] = market.Candle{
			OpenTime: time.Now().Add(time.Duration(i-count) * time.Minute),
			Open:     price,
			Close:    price + step,
			High:     price + step*1.5,
			Low:      price - step*0.5,
		}
		price += step
	}
	return candles
}

func bullishRequest(symbol string) engine.Request {
	data := make(map[string][]market.Candle, 4)
	for _, tf := range []string{"M15", "H1", "H4", "D1"} {
		data[tf] = trendingCandles(1.0, 0.001, 40)
	}
	return engine.Request{
		Symbol: symbol,
		Base:   validator.BaseSignal{Score: 0.8, Confidence: 0.9},
		Market: data,
	}
}

// TestTradeLifecycle drives one position from idea to realized P&L through a
// real TCP connection: validate, size, transmit, fill, account sync, close.
func TestTradeLifecycle(t *testing.T) {
	log.Println("🧪 trade lifecycle over live bridge")
	s := newStack(t, nil)
	ctx := context.Background()

	agent := dialTerminal(t, s.bridge.Addr())
	agent.identify("12345", 777)
	waitFor(t, 2*time.Second, func() bool { return s.bridge.AgentCount() == 1 }, "agent never identified")
	log.Println("✅ agent identified")

	var entryID string
	t.Run("SignalDelivery", func(t *testing.T) {
		d, err := s.pipe.ProcessSignal(ctx, bullishRequest("EURUSD"))
		if err != nil {
			t.Fatalf("ProcessSignal: %v", err)
		}
		if d.Outcome != engine.OutcomeSent {
			t.Fatalf("Outcome=%v, expected SENT (reason: %s)", d.Outcome, d.Reason)
		}
		entryID = d.Signal.ID

		sig := agent.readSignal(2 * time.Second)
		if sig.ID != entryID || sig.Action != signal.ActionBuy {
			t.Fatalf("delivered %+v, expected the BUY just decided", sig)
		}
		if sig.Volume <= 0 || sig.StopLoss <= 0 || sig.TakeProfit <= sig.StopLoss {
			t.Fatalf("delivered signal not risk-bounded: %+v", sig)
		}
		log.Printf("✅ signal delivered: %s %.2f lots", sig.Symbol, sig.Volume)
	})

	t.Run("EntryFill", func(t *testing.T) {
		agent.send(bridge.TypeTradeResult, signal.TradeResult{
			SignalID:       entryID,
			Ticket:         900001,
			Success:        true,
			ExecutionPrice: 1.0405,
			ExecutionTime:  time.Now().UTC(),
		})
		waitFor(t, 2*time.Second, func() bool {
			rec, err := s.db.SignalByID(ctx, entryID)
			return err == nil && rec != nil && rec.Status == db.SignalFilled
		}, "entry fill never recorded")

		if px, ok := s.quotes.Get("EURUSD"); !ok || px != 1.0405 {
			t.Fatalf("quote=%v ok=%v, expected the 1.0405 fill", px, ok)
		}
		if s.sizer.OpenPositionCount() != 1 {
			t.Fatalf("OpenPositionCount=%d, expected 1", s.sizer.OpenPositionCount())
		}
		log.Println("✅ entry filled at 1.0405")
	})

	t.Run("AccountSync", func(t *testing.T) {
		agent.send(bridge.TypeAccountStatus, signal.AccountStatus{
			Account:       "12345",
			Balance:       20000,
			Equity:        20150,
			OpenPositions: 1,
		})
		waitFor(t, 2*time.Second, func() bool { return s.sizer.Balance() == 20000 }, "balance never rescaled")
		log.Println("✅ account rescaled to 20000")
	})

	t.Run("CloseAndRealize", func(t *testing.T) {
		d, err := s.pipe.CloseSymbol(ctx, "EURUSD")
		if err != nil {
			t.Fatalf("CloseSymbol: %v", err)
		}
		if d.Outcome != engine.OutcomeSent {
			t.Fatalf("Outcome=%v, expected SENT", d.Outcome)
		}

		sig := agent.readSignal(2 * time.Second)
		if sig.ID != d.Signal.ID || sig.Action != signal.ActionClose {
			t.Fatalf("delivered %+v, expected the CLOSE instruction", sig)
		}

		agent.send(bridge.TypeTradeResult, signal.TradeResult{
			SignalID:       sig.ID,
			Ticket:         900002,
			Success:        true,
			ExecutionPrice: 1.0600,
			ExecutionTime:  time.Now().UTC(),
		})
		waitFor(t, 2*time.Second, func() bool { return s.sizer.OpenPositionCount() == 0 }, "close fill never retired the position")

		closed := s.sizer.ClosedPositions(1)
		if len(closed) != 1 || closed[0].RealizedPnL <= 0 {
			t.Fatalf("closed=%+v, expected one profitable close", closed)
		}

		rows, err := s.db.RecentClosedPositions(ctx, 5)
		if err != nil {
			t.Fatalf("RecentClosedPositions: %v", err)
		}
		if len(rows) != 1 || rows[0].Symbol != "EURUSD" {
			t.Fatalf("closed rows=%v, expected the EURUSD close", rows)
		}

		summary := s.history.Snapshot(0, 252)
		if summary.Trades != 1 || summary.Wins != 1 {
			t.Fatalf("history trades=%d wins=%d, expected 1 and 1", summary.Trades, summary.Wins)
		}
		log.Printf("✅ position closed, realized %.2f", closed[0].RealizedPnL)
	})

	log.Println("🎉 lifecycle complete")
}

// TestQueuedSignalFlushedToLateAgent covers the store-and-forward path: a
// decision made with nobody connected is held and delivered on the idle tick
// once an agent identifies.
func TestQueuedSignalFlushedToLateAgent(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()

	d, err := s.pipe.ProcessSignal(ctx, bullishRequest("GBPUSD"))
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	if d.Outcome != engine.OutcomeQueued {
		t.Fatalf("Outcome=%v, expected QUEUED with no agents", d.Outcome)
	}
	if s.bridge.QueueLen() != 1 {
		t.Fatalf("QueueLen=%d, expected 1", s.bridge.QueueLen())
	}

	agent := dialTerminal(t, s.bridge.Addr())
	agent.identify("22222", 777)

	sig := agent.readSignal(3 * time.Second)
	if sig.ID != d.Signal.ID {
		t.Fatalf("flushed %s, expected the queued %s", sig.ID, d.Signal.ID)
	}
	if s.bridge.QueueLen() != 0 {
		t.Fatalf("QueueLen=%d after flush, expected 0", s.bridge.QueueLen())
	}
}

// TestPullDrainsQueue covers the agent-initiated path with the idle tick
// effectively disabled.
func TestPullDrainsQueue(t *testing.T) {
	s := newStack(t, func(cfg *bridge.Config) {
		cfg.FlushInterval = time.Hour
	})
	ctx := context.Background()

	d, err := s.pipe.ProcessSignal(ctx, bullishRequest("USDJPY"))
	if err != nil {
		t.Fatalf("ProcessSignal: %v", err)
	}
	if d.Outcome != engine.OutcomeQueued {
		t.Fatalf("Outcome=%v, expected QUEUED", d.Outcome)
	}

	agent := dialTerminal(t, s.bridge.Addr())
	agent.identify("33333", 777)
	waitFor(t, 2*time.Second, func() bool { return s.bridge.AgentCount() == 1 }, "agent never identified")

	agent.send(bridge.TypeCommand, bridge.CommandPayload{Command: "GET_SIGNAL"})

	sig := agent.readSignal(2 * time.Second)
	if sig.ID != d.Signal.ID {
		t.Fatalf("pulled %s, expected the queued %s", sig.ID, d.Signal.ID)
	}
	if s.bridge.QueueLen() != 0 {
		t.Fatalf("QueueLen=%d after pull, expected 0", s.bridge.QueueLen())
	}
}
