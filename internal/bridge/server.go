package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"genx-core/internal/events"
	"genx-core/internal/monitor"
	"genx-core/internal/signal"
)

// Config holds the server's construction parameters.
type Config struct {
	Addr             string
	ReadTimeout      time.Duration // per-read deadline so loops observe shutdown
	WriteTimeout     time.Duration
	HeartbeatTimeout time.Duration // tear down agents silent past this window
	QueueSize        int
	MaxFrame         int
	FlushInterval    time.Duration // idle tick for queue flushing
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:             ":9090",
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     10 * time.Second,
		HeartbeatTimeout: 90 * time.Second,
		QueueSize:        100,
		MaxFrame:         DefaultMaxFrame,
		FlushInterval:    5 * time.Second,
	}
}

type eventKind int

const (
	evRegister eventKind = iota
	evFrame
	evClosed
)

// connEvent is the handoff unit from I/O goroutines to the owner loop.
// Each connection's read loop is its sole producer, so per-connection
// dispatch order matches arrival order.
type connEvent struct {
	kind eventKind
	conn *AgentConn
	env  Envelope
}

// Server accepts agent connections over TCP, frames and unframes messages,
// dispatches inbound events and delivers outbound signals. A single owner
// goroutine performs all dispatch and connection-set mutation; per
// connection read goroutines only parse bytes and hand complete envelopes
// over a bounded channel.
type Server struct {
	cfg     Config
	log     *zap.Logger
	bus     *events.Bus
	metrics *monitor.Metrics
	queue   *SignalQueue

	mu    sync.RWMutex
	conns map[string]*AgentConn

	inbox chan connEvent

	listener net.Listener
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	onTradeResult   func(signal.TradeResult)
	onAccountStatus func(signal.AccountStatus)
}

// NewServer builds a bridge server. The bus may be nil when nothing
// downstream wants lifecycle events.
func NewServer(cfg Config, bus *events.Bus, metrics *monitor.Metrics, log *zap.Logger) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if metrics == nil {
		metrics = monitor.NewMetrics()
	}

	return &Server{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		metrics: metrics,
		queue:   NewSignalQueue(cfg.QueueSize),
		conns:   make(map[string]*AgentConn),
		inbox:   make(chan connEvent, 256),
		stopCh:  make(chan struct{}),
	}
}

// OnTradeResult registers the trade result listener. Call before Start.
func (s *Server) OnTradeResult(fn func(signal.TradeResult)) {
	s.onTradeResult = fn
}

// OnAccountStatus registers the account status listener. Call before Start.
func (s *Server) OnAccountStatus(fn func(signal.AccountStatus)) {
	s.onAccountStatus = fn
}

// Start binds the listen address and launches the accept and owner loops.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("bridge: listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.log.Info("bridge listening", zap.String("addr", ln.Addr().String()))

	s.wg.Add(2)
	go s.acceptLoop(ctx)
	go s.ownerLoop(ctx)
	return nil
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and every connection, then waits for all loops
// to drain. In-flight writes may fail silently during shutdown.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for _, c := range s.snapshotConns() {
		c.markDisconnected()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.log.Error("accept failed", zap.Error(err))
			return
		}

		conn := newAgentConn(nc, s.cfg.MaxFrame)
		select {
		case s.inbox <- connEvent{kind: evRegister, conn: conn}:
		case <-s.stopCh:
			conn.markDisconnected()
			return
		}

		s.wg.Add(1)
		go s.readLoop(ctx, conn)
	}
}

// ownerLoop is the single consumer of the inbox and the only goroutine
// that mutates the connection set.
func (s *Server) ownerLoop(ctx context.Context) {
	defer s.wg.Done()

	flush := time.NewTicker(s.cfg.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case ev := <-s.inbox:
			switch ev.kind {
			case evRegister:
				s.registerConn(ev.conn)
			case evFrame:
				s.dispatch(ev.conn, ev.env)
			case evClosed:
				s.removeConn(ev.conn)
			}
		case <-flush.C:
			s.flushQueue()
		}
	}
}

func (s *Server) registerConn(c *AgentConn) {
	s.mu.Lock()
	s.conns[c.Addr()] = c
	n := len(s.conns)
	s.mu.Unlock()

	s.metrics.SetConnectedAgents(n)
	s.log.Info("agent connected", zap.String("addr", c.Addr()), zap.Int("agents", n))
	s.publish(events.EventAgentConnected, c.Snapshot())
}

func (s *Server) removeConn(c *AgentConn) {
	s.mu.Lock()
	_, present := s.conns[c.Addr()]
	if present {
		delete(s.conns, c.Addr())
	}
	n := len(s.conns)
	s.mu.Unlock()

	if !present {
		return
	}
	s.metrics.SetConnectedAgents(n)
	s.log.Info("agent disconnected",
		zap.String("addr", c.Addr()),
		zap.String("key", c.Key()),
		zap.Int("agents", n))
	s.publish(events.EventAgentDisconnected, c.Snapshot())
}

func (s *Server) readLoop(ctx context.Context, c *AgentConn) {
	defer s.wg.Done()
	defer func() {
		c.markDisconnected()
		select {
		case s.inbox <- connEvent{kind: evClosed, conn: c}:
		case <-s.stopCh:
		}
	}()

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		_ = c.nc.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		n, err := c.nc.Read(buf)
		if n > 0 {
			c.reader.Feed(buf[:n])
			if !s.drainFrames(c) {
				return
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if s.cfg.HeartbeatTimeout > 0 && time.Since(c.LastSeen()) > s.cfg.HeartbeatTimeout {
					s.log.Warn("agent silent beyond liveness window",
						zap.String("addr", c.Addr()),
						zap.Duration("window", s.cfg.HeartbeatTimeout))
					return
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				s.log.Info("agent closed connection", zap.String("addr", c.Addr()))
			} else if c.State() == StateConnected {
				s.log.Warn("read failed", zap.String("addr", c.Addr()), zap.Error(err))
			}
			return
		}
	}
}

// drainFrames hands every complete buffered frame to the owner in arrival
// order. Returns false when shutdown interrupted the handoff. Protocol
// errors cost a frame (or the buffer, for an untrusted length prefix), not
// the connection.
func (s *Server) drainFrames(c *AgentConn) bool {
	for {
		env, ok, err := c.reader.Next()
		if err != nil {
			s.metrics.IncFramesDropped()
			s.log.Warn("dropping malformed frame", zap.String("addr", c.Addr()), zap.Error(err))
			continue
		}
		if !ok {
			return true
		}
		select {
		case s.inbox <- connEvent{kind: evFrame, conn: c, env: env}:
		case <-s.stopCh:
			return false
		}
	}
}

// dispatch routes one decoded envelope. Runs on the owner goroutine.
func (s *Server) dispatch(c *AgentConn, env Envelope) {
	timer := monitor.NewTimer(s.metrics.DispatchLatency)
	defer timer.Stop()

	s.metrics.IncFramesIn()
	c.touch(time.Now().UTC())

	payload, err := env.DecodePayload()
	if err != nil {
		s.metrics.IncFramesDropped()
		s.log.Warn("dropping message",
			zap.String("addr", c.Addr()),
			zap.String("type", string(env.Type)),
			zap.Error(err))
		return
	}

	switch p := payload.(type) {
	case signal.AgentInfo:
		if c.identify(p) {
			s.log.Info("agent identified",
				zap.String("addr", c.Addr()),
				zap.String("key", c.Key()),
				zap.String("name", p.Name),
				zap.String("broker", p.Broker))
			s.publish(events.EventAgentIdentified, c.Snapshot())
		}
	case signal.HeartbeatInfo:
		c.identify(p.AgentInfo)
		s.log.Debug("heartbeat",
			zap.String("addr", c.Addr()),
			zap.String("status", p.Status),
			zap.Int("open_positions", p.OpenPositions))
	case signal.AccountStatus:
		s.publish(events.EventAccountStatus, p)
		if s.onAccountStatus != nil {
			s.onAccountStatus(p)
		}
	case signal.TradeResult:
		s.metrics.IncTradeResults()
		s.publish(events.EventTradeResult, p)
		if s.onTradeResult != nil {
			s.onTradeResult(p)
		}
	case CommandPayload:
		s.handleCommand(c, p)
	case ErrorPayload:
		s.metrics.IncErrors()
		s.log.Warn("agent reported error",
			zap.String("addr", c.Addr()),
			zap.Int("code", p.Code),
			zap.String("message", p.Message))
	default:
		s.log.Warn("unhandled message type",
			zap.String("addr", c.Addr()),
			zap.String("type", string(env.Type)))
	}
}

// handleCommand services pull-style requests from agents. get_signal drains
// queued work to the requester.
func (s *Server) handleCommand(c *AgentConn, cmd CommandPayload) {
	switch {
	case strings.EqualFold(cmd.Command, "get_signal"):
		sent := 0
		for {
			sig, ok := s.queue.TryPop()
			if !ok {
				break
			}
			if err := s.writeSignal(c, sig); err != nil {
				s.queue.Enqueue(sig)
				s.log.Warn("pull delivery failed", zap.String("addr", c.Addr()), zap.Error(err))
				s.dropConn(c)
				break
			}
			sent++
			s.metrics.IncSignalsSent()
			s.publish(events.EventSignalSent, sig)
		}
		s.metrics.SetQueueDepth(s.queue.Len())
		if sent > 0 {
			s.log.Info("flushed queued signals on pull",
				zap.String("addr", c.Addr()),
				zap.Int("count", sent))
		}
	default:
		s.log.Warn("unknown agent command",
			zap.String("addr", c.Addr()),
			zap.String("command", cmd.Command))
	}
}

// flushQueue broadcasts queued signals while at least one agent is
// connected. A signal that reaches nobody goes back on the queue and ends
// the round.
func (s *Server) flushQueue() {
	if s.queue.Len() == 0 || s.AgentCount() == 0 {
		return
	}

	for {
		sig, ok := s.queue.TryPop()
		if !ok {
			break
		}
		if s.broadcastNow(sig) == 0 {
			s.queue.Enqueue(sig)
			break
		}
		s.metrics.IncSignalsSent()
		s.publish(events.EventSignalSent, sig)
	}
	s.metrics.SetQueueDepth(s.queue.Len())
}

// SendTo delivers the signal to exactly one agent by transport address.
func (s *Server) SendTo(addr string, sig signal.TradingSignal) error {
	s.mu.RLock()
	c, ok := s.conns[addr]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("bridge: no agent at %s", addr)
	}

	if err := s.writeSignal(c, sig); err != nil {
		s.dropConn(c)
		return fmt.Errorf("bridge: send to %s: %w", addr, err)
	}
	s.metrics.IncSignalsSent()
	s.publish(events.EventSignalSent, sig)
	return nil
}

// Broadcast delivers the signal to every connected agent concurrently and
// returns the number of successful sends. With no agents reachable the
// signal is queued and 0 is returned.
func (s *Server) Broadcast(sig signal.TradingSignal) int {
	if s.AgentCount() == 0 {
		s.enqueue(sig)
		return 0
	}

	n := s.broadcastNow(sig)
	if n == 0 {
		s.enqueue(sig)
		return 0
	}
	s.metrics.IncSignalsSent()
	s.publish(events.EventSignalSent, sig)
	return n
}

// SendCommand sends an operational command to one agent by address, or to
// every agent when target is "all". Returns the number of deliveries.
func (s *Server) SendCommand(target, command string, params map[string]any) (int, error) {
	env, err := NewCommandEnvelope(command, params)
	if err != nil {
		return 0, err
	}

	if strings.EqualFold(target, "all") {
		sent := 0
		for _, c := range s.snapshotConns() {
			if err := c.writeFrame(env, s.cfg.MaxFrame, s.cfg.WriteTimeout); err != nil {
				s.log.Warn("command write failed", zap.String("addr", c.Addr()), zap.Error(err))
				s.dropConn(c)
				continue
			}
			s.metrics.IncFramesOut()
			sent++
		}
		return sent, nil
	}

	s.mu.RLock()
	c, ok := s.conns[target]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("bridge: no agent at %s", target)
	}
	if err := c.writeFrame(env, s.cfg.MaxFrame, s.cfg.WriteTimeout); err != nil {
		s.dropConn(c)
		return 0, fmt.Errorf("bridge: command to %s: %w", target, err)
	}
	s.metrics.IncFramesOut()
	return 1, nil
}

// AgentCount returns the number of tracked connections.
func (s *Server) AgentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Agents snapshots every tracked connection for the admin surface.
func (s *Server) Agents() []AgentSnapshot {
	conns := s.snapshotConns()
	out := make([]AgentSnapshot, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Snapshot())
	}
	return out
}

// QueueLen reports the outbound queue depth.
func (s *Server) QueueLen() int {
	return s.queue.Len()
}

// QueuedSignals copies the outbound queue, oldest first.
func (s *Server) QueuedSignals() []signal.TradingSignal {
	return s.queue.Snapshot()
}

func (s *Server) broadcastNow(sig signal.TradingSignal) int {
	timer := monitor.NewTimer(s.metrics.BroadcastLatency)
	defer timer.Stop()

	var okCount int64
	var wg sync.WaitGroup
	for _, c := range s.snapshotConns() {
		wg.Add(1)
		go func(c *AgentConn) {
			defer wg.Done()
			if err := s.writeSignal(c, sig); err != nil {
				s.log.Warn("broadcast write failed", zap.String("addr", c.Addr()), zap.Error(err))
				s.dropConn(c)
				return
			}
			atomic.AddInt64(&okCount, 1)
		}(c)
	}
	wg.Wait()
	return int(okCount)
}

func (s *Server) writeSignal(c *AgentConn, sig signal.TradingSignal) error {
	env, err := NewSignalEnvelope(sig)
	if err != nil {
		return err
	}
	if err := c.writeFrame(env, s.cfg.MaxFrame, s.cfg.WriteTimeout); err != nil {
		return err
	}
	s.metrics.IncFramesOut()
	return nil
}

func (s *Server) enqueue(sig signal.TradingSignal) {
	if s.queue.Enqueue(sig) {
		s.log.Warn("outbound queue full, evicted oldest signal", zap.String("signal_id", sig.ID))
	}
	s.metrics.IncSignalsQueued()
	s.metrics.SetQueueDepth(s.queue.Len())
	s.log.Info("signal queued",
		zap.String("signal_id", sig.ID),
		zap.String("symbol", sig.Symbol),
		zap.Int("depth", s.queue.Len()))
	s.publish(events.EventSignalQueued, sig)
}

// dropConn tears a connection down after a write failure. The transport
// close unblocks its read loop, which reports back to the owner for removal
// from the set.
func (s *Server) dropConn(c *AgentConn) {
	c.markDisconnected()
}

func (s *Server) snapshotConns() []*AgentConn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*AgentConn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

func (s *Server) publish(e events.Event, payload any) {
	if s.bus != nil {
		s.bus.Publish(e, payload)
	}
}
