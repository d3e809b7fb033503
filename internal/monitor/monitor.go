package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"genx-core/internal/events"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	Log *zap.Logger
}

func (s LogSink) Send(message string) error {
	s.Log.Warn("risk alert", zap.String("alert", message))
	return nil
}

// Monitor watches risk alerts on the bus and forwards them to a sink.
type Monitor struct {
	bus  *events.Bus
	sink AlertSink
	log  *zap.Logger
}

// New builds a Monitor.
func New(bus *events.Bus, sink AlertSink, log *zap.Logger) *Monitor {
	return &Monitor{bus: bus, sink: sink, log: log}
}

// Start subscribes to risk alerts until the context is canceled.
func (m *Monitor) Start(ctx context.Context) {
	if m.bus == nil || m.sink == nil {
		m.log.Warn("monitor not fully configured; skipping")
		return
	}

	stream, unsub := m.bus.Subscribe(events.EventRiskAlert, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				if err := m.sink.Send(formatAlert(msg.Payload)); err != nil {
					m.log.Error("alert delivery failed", zap.Error(err))
				}
			}
		}
	}()
}

func formatAlert(payload any) string {
	ts := time.Now().Format(time.RFC3339)
	switch v := payload.(type) {
	case string:
		return "[" + ts + "] " + v
	case fmt.Stringer:
		return "[" + ts + "] " + v.String()
	default:
		return "[" + ts + "] " + fmt.Sprintf("%v", v)
	}
}
