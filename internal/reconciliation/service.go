// Package reconciliation periodically cross-checks the position sizer's
// book against what agents report. The sizer only sees positions admitted
// and retired through it; fills forced from outside the platform show up
// here as count drift.
package reconciliation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"genx-core/internal/events"
	"genx-core/internal/risk"
	"genx-core/internal/signal"
)

const defaultMaxStatusAge = 5 * time.Minute

// Report is the outcome of one reconciliation sweep.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	LocalOpen int       `json:"local_open"`
	AgentOpen int       `json:"agent_open"`
	Account   string    `json:"account,omitempty"`
	StatusAge string    `json:"status_age,omitempty"`
	Checked   bool      `json:"checked"`
	Mismatch  bool      `json:"mismatch"`
}

// String renders the report in the form risk alerts are logged in.
func (r Report) String() string {
	if !r.Checked {
		return "reconciliation skipped: no recent agent report"
	}
	if !r.Mismatch {
		return fmt.Sprintf("positions reconciled: %d open", r.LocalOpen)
	}
	return fmt.Sprintf("position drift: sizer tracks %d open, agent %s reports %d",
		r.LocalOpen, r.Account, r.AgentOpen)
}

// Service runs the periodic sweep. Agent state arrives via account status
// events; the sweep never mutates the sizer, it only raises alerts.
type Service struct {
	sizer    *risk.Sizer
	bus      *events.Bus
	log      *zap.Logger
	interval time.Duration
	maxAge   time.Duration

	mu         sync.Mutex
	lastStatus signal.AccountStatus
	lastSeen   time.Time
	lastReport Report

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService builds the sweep. Interval at or below zero disables the
// ticker; Reconcile can still be called directly.
func NewService(sizer *risk.Sizer, bus *events.Bus, interval time.Duration, log *zap.Logger) *Service {
	return &Service{
		sizer:    sizer,
		bus:      bus,
		log:      log,
		interval: interval,
		maxAge:   defaultMaxStatusAge,
		stopCh:   make(chan struct{}),
	}
}

// Start subscribes to account status events and launches the sweep ticker.
func (s *Service) Start(ctx context.Context) {
	statusCh, unsubscribe := s.bus.Subscribe(events.EventAccountStatus, 50)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case msg, ok := <-statusCh:
				if !ok {
					return
				}
				if status, ok := msg.Payload.(signal.AccountStatus); ok {
					s.observe(status)
				}
			}
		}
	}()

	if s.interval <= 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()

	s.log.Info("reconciliation started", zap.Duration("interval", s.interval))
}

// Stop halts the sweep and waits for its goroutines.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Service) observe(status signal.AccountStatus) {
	s.mu.Lock()
	s.lastStatus = status
	s.lastSeen = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Service) sweep() {
	report := s.Reconcile()
	if !report.Checked {
		s.log.Debug("reconciliation skipped, no recent agent report")
		return
	}
	if !report.Mismatch {
		s.log.Debug("positions reconciled", zap.Int("open", report.LocalOpen))
		return
	}

	s.log.Warn("position drift detected",
		zap.Int("local_open", report.LocalOpen),
		zap.Int("agent_open", report.AgentOpen),
		zap.String("account", report.Account),
		zap.String("status_age", report.StatusAge))
	s.bus.Publish(events.EventRiskAlert, report)
}

// Reconcile compares the sizer's open position count against the most
// recent agent report. A stale or absent report yields Checked=false.
func (s *Service) Reconcile() Report {
	s.mu.Lock()
	status := s.lastStatus
	seen := s.lastSeen
	s.mu.Unlock()

	report := Report{
		Timestamp: time.Now().UTC(),
		LocalOpen: s.sizer.OpenPositionCount(),
	}

	if seen.IsZero() || time.Since(seen) > s.maxAge {
		s.store(report)
		return report
	}

	report.Checked = true
	report.AgentOpen = status.OpenPositions
	report.Account = status.Account
	report.StatusAge = time.Since(seen).Round(time.Second).String()
	report.Mismatch = report.LocalOpen != report.AgentOpen

	s.store(report)
	return report
}

// LastReport returns the most recent sweep outcome for the admin surface.
func (s *Service) LastReport() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReport
}

func (s *Service) store(r Report) {
	s.mu.Lock()
	s.lastReport = r
	s.mu.Unlock()
}
