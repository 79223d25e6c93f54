// Package health periodically checks the things that silently rot during
// a trading day: credential age, receiver reachability and data
// freshness. Each breach is reported once, not every cycle.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kitebot/internal/logger"
	"kitebot/internal/notify"
)

// Check probes one subsystem and returns an error while it is unhealthy.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Monitor runs the registered checks on a fixed cadence.
type Monitor struct {
	notifier notify.Notifier
	interval time.Duration

	mu     sync.Mutex
	checks []Check
	// breached tracks which checks have already been reported so a
	// persistent failure does not spam the operator.
	breached map[string]bool
}

func NewMonitor(notifier notify.Notifier, interval time.Duration) *Monitor {
	return &Monitor{
		notifier: notifier,
		interval: interval,
		breached: make(map[string]bool),
	}
}

// Register adds a check. Not safe to call after Run has started.
func (m *Monitor) Register(name string, probe func(ctx context.Context) error) {
	m.checks = append(m.checks, Check{Name: name, Probe: probe})
}

// Run blocks, probing every interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce probes every check and reports transitions.
func (m *Monitor) RunOnce(ctx context.Context) {
	for _, check := range m.checks {
		err := check.Probe(ctx)

		m.mu.Lock()
		wasBreached := m.breached[check.Name]
		m.breached[check.Name] = err != nil
		m.mu.Unlock()

		switch {
		case err != nil && !wasBreached:
			logger.Warnf("health check %s failed: %v", check.Name, err)
			m.report("⚠️", "Health Check Failed", check.Name, err.Error())
		case err != nil && wasBreached:
			logger.Debugf("health check %s still failing: %v", check.Name, err)
		case err == nil && wasBreached:
			logger.Infof("health check %s recovered", check.Name)
			m.report("✅", "Health Check Recovered", check.Name, "back to normal")
		}
	}
}

// Status returns a snapshot of which checks are currently breached.
func (m *Monitor) Status() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.breached))
	for k, v := range m.breached {
		out[k] = v
	}
	return out
}

func (m *Monitor) report(icon, title, name, detail string) {
	msg := notify.StructuredMessage{
		Icon:  icon,
		Title: title,
		Sections: []notify.MessageSection{
			{Title: "Check", Lines: []string{name}},
			{Title: "Detail", Lines: []string{detail}},
		},
		Timestamp: time.Now(),
	}
	if err := m.notifier.Send(msg.RenderHTML(), true); err != nil {
		logger.Warnf("send health notification failed: %v", err)
	}
}

// CredentialAgeCheck builds a probe that fails when the credential age
// reported by ageFn exceeds maxAge.
func CredentialAgeCheck(ageFn func() (time.Duration, bool), maxAge time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		age, ok := ageFn()
		if !ok {
			return fmt.Errorf("no credential loaded")
		}
		if age > maxAge {
			return fmt.Errorf("credential is %s old, limit %s", age.Round(time.Minute), maxAge)
		}
		return nil
	}
}

// DataFreshnessCheck builds a probe that fails when the newest candle is
// older than the allowed lag. The activeFn gate keeps it quiet outside
// market hours.
func DataFreshnessCheck(lastCandleFn func() (time.Time, bool), maxLag time.Duration, activeFn func() bool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if !activeFn() {
			return nil
		}
		ts, ok := lastCandleFn()
		if !ok {
			return fmt.Errorf("no candle data yet")
		}
		if lag := time.Since(ts); lag > maxLag {
			return fmt.Errorf("last candle is %s old, limit %s", lag.Round(time.Second), maxLag)
		}
		return nil
	}
}
