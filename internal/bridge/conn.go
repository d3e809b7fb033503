package bridge

import (
	"net"
	"sync"
	"time"

	"genx-core/internal/signal"
)

// ConnState is the lifecycle of an agent connection. DISCONNECTED is
// terminal; a reconnecting agent arrives as a brand new connection.
type ConnState string

const (
	StateConnected    ConnState = "CONNECTED"
	StateDisconnected ConnState = "DISCONNECTED"
)

// AgentConn is one accepted transport. Its read loop is the sole reader;
// writes from any goroutine serialize through writeMu. Identity comes from
// the agent's EA_INFO payload, not from the transport, so the same logical
// agent may reconnect under a new address.
type AgentConn struct {
	nc     net.Conn
	addr   string
	reader *FrameReader

	writeMu sync.Mutex

	mu          sync.RWMutex
	info        signal.AgentInfo
	state       ConnState
	connectedAt time.Time
	lastSeen    time.Time

	closeOnce sync.Once
}

// AgentSnapshot is the admin-surface view of a connection.
type AgentSnapshot struct {
	Address     string           `json:"address"`
	State       ConnState        `json:"state"`
	Key         string           `json:"key,omitempty"`
	Info        signal.AgentInfo `json:"info"`
	ConnectedAt time.Time        `json:"connected_at"`
	LastSeen    time.Time        `json:"last_seen"`
}

func newAgentConn(nc net.Conn, maxFrame int) *AgentConn {
	now := time.Now().UTC()
	return &AgentConn{
		nc:          nc,
		addr:        nc.RemoteAddr().String(),
		reader:      NewFrameReader(maxFrame),
		state:       StateConnected,
		connectedAt: now,
		lastSeen:    now,
	}
}

// Addr returns the remote transport address.
func (c *AgentConn) Addr() string {
	return c.addr
}

// Info returns the agent identity reported so far.
func (c *AgentConn) Info() signal.AgentInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Key returns the account_magic composite identity, empty until the agent
// has identified itself.
func (c *AgentConn) Key() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info.Key()
}

// State returns the lifecycle state.
func (c *AgentConn) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastSeen returns the time of the last frame from this agent.
func (c *AgentConn) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

// Snapshot captures the connection for the admin surface.
func (c *AgentConn) Snapshot() AgentSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return AgentSnapshot{
		Address:     c.addr,
		State:       c.state,
		Key:         c.info.Key(),
		Info:        c.info,
		ConnectedAt: c.connectedAt,
		LastSeen:    c.lastSeen,
	}
}

// identify merges newly reported identity fields into the agent info and
// reports whether the composite key changed.
func (c *AgentConn) identify(info signal.AgentInfo) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.info.Key()
	c.info = c.info.Merge(info)
	return c.info.Key() != before
}

// touch records frame arrival for liveness tracking.
func (c *AgentConn) touch(t time.Time) {
	c.mu.Lock()
	c.lastSeen = t
	c.mu.Unlock()
}

// markDisconnected transitions to the terminal state and closes the
// transport, unblocking the read loop. Safe to call more than once.
func (c *AgentConn) markDisconnected() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		_ = c.nc.Close()
	})
}

// writeFrame encodes and writes one envelope under the write lock.
func (c *AgentConn) writeFrame(env Envelope, maxFrame int, timeout time.Duration) error {
	frame, err := EncodeFrame(env, maxFrame)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(timeout))
	}
	_, err = c.nc.Write(frame)
	return err
}
