package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"genx-core/internal/bridge"
	"genx-core/internal/signal"
)

// agent-sim plays the execution agent side of the bridge protocol: it
// connects over TCP, identifies itself, heartbeats, pulls queued signals
// and answers every received signal with a trade result.
//
// Usage (from the repository root):
//
//	go run ./scripts/agent-sim -addr 127.0.0.1:9090 -account 12345 -magic 777
//
// A nonzero -fail-rate makes a fraction of fills come back as rejections,
// which exercises the risk-release path.

var (
	addr      = flag.String("addr", "127.0.0.1:9090", "bridge address")
	account   = flag.String("account", "12345", "account number reported in EA_INFO")
	magic     = flag.Int("magic", 777, "magic number reported in EA_INFO")
	name      = flag.String("name", "agent-sim", "agent name")
	broker    = flag.String("broker", "SimBroker", "broker name")
	heartbeat = flag.Duration("heartbeat", 10*time.Second, "heartbeat interval")
	pull      = flag.Duration("pull", 15*time.Second, "GET_SIGNAL pull interval")
	balance   = flag.Float64("balance", 10000, "reported account balance")
	failRate  = flag.Float64("fail-rate", 0, "fraction of fills rejected (0..1)")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("dial %s: %v", *addr, err)
	}
	defer conn.Close()
	log.Printf("connected to %s", *addr)

	sim := &simulator{
		conn:    conn,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		open:    make(map[string]bool),
		balance: *balance,
	}

	sim.send(bridge.TypeEAInfo, signal.AgentInfo{
		Name:        *name,
		Version:     "1.0",
		Account:     *account,
		Broker:      *broker,
		MagicNumber: *magic,
	})
	log.Printf("identified as %s_%d", *account, *magic)

	go sim.readLoop()
	go sim.heartbeatLoop(*heartbeat)
	go sim.pullLoop(*pull)

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Println("disconnecting")
}

type simulator struct {
	conn net.Conn
	rng  *rand.Rand

	mu      sync.Mutex
	wmu     sync.Mutex
	open    map[string]bool
	balance float64
	profit  float64
	lastID  string
}

func (s *simulator) send(t bridge.MessageType, payload any) {
	env, err := bridge.NewEnvelope(t, payload)
	if err != nil {
		log.Printf("encode %s: %v", t, err)
		return
	}
	s.write(env)
}

// write frames and transmits one envelope. Writes are serialized so ticker
// goroutines and the read loop never interleave partial frames.
func (s *simulator) write(env bridge.Envelope) {
	frame, err := bridge.EncodeFrame(env, bridge.DefaultMaxFrame)
	if err != nil {
		log.Printf("frame %s: %v", env.Type, err)
		return
	}
	s.wmu.Lock()
	_, err = s.conn.Write(frame)
	s.wmu.Unlock()
	if err != nil {
		log.Fatalf("write %s: %v", env.Type, err)
	}
}

func (s *simulator) readLoop() {
	fr := bridge.NewFrameReader(bridge.DefaultMaxFrame)
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			log.Fatalf("read: %v", err)
		}
		fr.Feed(buf[:n])
		for {
			env, ok, err := fr.Next()
			if err != nil {
				log.Fatalf("decode: %v", err)
			}
			if !ok {
				break
			}
			s.dispatch(env)
		}
	}
}

func (s *simulator) dispatch(env bridge.Envelope) {
	payload, err := env.DecodePayload()
	if err != nil {
		log.Printf("bad %s payload: %v", env.Type, err)
		return
	}
	switch p := payload.(type) {
	case signal.TradingSignal:
		s.execute(p)
	case bridge.CommandPayload:
		log.Printf("command received: %s", p.Command)
	case bridge.ErrorPayload:
		log.Printf("server error %d: %s", p.Code, p.Message)
	default:
		log.Printf("ignoring %s", env.Type)
	}
}

// execute simulates a fill and reports it back. The approximate entry is
// recovered from the stop distance the signal carries; a real terminal
// would fill at market instead.
func (s *simulator) execute(sig signal.TradingSignal) {
	log.Printf("signal %s: %s %s %.2f lots (SL %.5f, TP %.5f)",
		sig.ID, sig.Action, sig.Symbol, sig.Volume, sig.StopLoss, sig.TakeProfit)

	res := signal.TradeResult{
		SignalID:      sig.ID,
		Ticket:        100000 + s.rng.Int63n(900000),
		Success:       true,
		ExecutionTime: time.Now().UTC(),
	}

	if s.rng.Float64() < *failRate {
		res.Success = false
		res.ErrorCode = 134
		res.ErrorMessage = "not enough money"
		log.Printf("signal %s rejected: %s", sig.ID, res.ErrorMessage)
		s.send(bridge.TypeTradeResult, res)
		return
	}

	price := 100.0
	switch {
	case sig.Action == signal.ActionBuy && sig.StopLoss > 0:
		price = sig.StopLoss * 1.0101
	case sig.Action == signal.ActionSell && sig.StopLoss > 0:
		price = sig.StopLoss * 0.9901
	case sig.StopLoss > 0:
		price = sig.StopLoss
	}
	res.ExecutionPrice = price + (s.rng.Float64()-0.5)*price*0.0001
	res.Slippage = res.ExecutionPrice - price

	s.mu.Lock()
	switch sig.Action {
	case signal.ActionBuy, signal.ActionSell:
		s.open[sig.Symbol] = true
	case signal.ActionClose:
		delete(s.open, sig.Symbol)
		pnl := (s.rng.Float64() - 0.4) * 50
		s.profit += pnl
		s.balance += pnl
	case signal.ActionCloseAll:
		s.open = make(map[string]bool)
	}
	s.lastID = sig.ID
	s.mu.Unlock()

	log.Printf("signal %s filled at %.5f (ticket %d)", sig.ID, res.ExecutionPrice, res.Ticket)
	s.send(bridge.TypeTradeResult, res)
	s.sendAccountStatus()
}

func (s *simulator) heartbeatLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		hb := signal.HeartbeatInfo{
			AgentInfo: signal.AgentInfo{
				Name:        *name,
				Version:     "1.0",
				Account:     *account,
				Broker:      *broker,
				MagicNumber: *magic,
			},
			Status:        "active",
			OpenPositions: len(s.open),
			LastSignalID:  s.lastID,
		}
		s.mu.Unlock()
		s.send(bridge.TypeHeartbeat, hb)
	}
}

// pullLoop asks for queued signals so deliveries survive windows where the
// simulator was offline when the platform broadcast them.
func (s *simulator) pullLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		env, err := bridge.NewCommandEnvelope("get_signal", nil)
		if err != nil {
			log.Printf("encode get_signal: %v", err)
			continue
		}
		s.write(env)
	}
}

func (s *simulator) sendAccountStatus() {
	s.mu.Lock()
	st := signal.AccountStatus{
		Account:       *account,
		Balance:       s.balance,
		Equity:        s.balance + s.profit*0.1,
		FreeMargin:    s.balance * 0.9,
		MarginLevel:   1000,
		Profit:        s.profit,
		OpenPositions: len(s.open),
	}
	s.mu.Unlock()
	s.send(bridge.TypeAccountStatus, st)
}
