// Package network watches reachability of the commerce backend and reports
// transitions between up and down.
package network

import (
	"context"
	"errors"
	"net"
	"time"
)

// Prober checks reachability once.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Probe(ctx context.Context) error { return f(ctx) }

// DialProber reports the network up when a TCP connection to Address
// succeeds.
type DialProber struct {
	Network string
	Address string
	Timeout time.Duration
}

func (p DialProber) Probe(ctx context.Context) error {
	if p.Address == "" {
		return errors.New("network: probe address is empty")
	}
	network := p.Network
	if network == "" {
		network = "tcp"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, network, p.Address)
	if err != nil {
		return err
	}
	return conn.Close()
}

type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type Config struct {
	Address  string        `yaml:"address" env:"IAP_PROBE_ADDRESS"`
	Interval time.Duration `yaml:"interval" env:"IAP_PROBE_INTERVAL"`
	Timeout  time.Duration `yaml:"timeout" env:"IAP_PROBE_TIMEOUT"`
}

// Monitor polls a Prober.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   Logger
}

func NewMonitor(prober Prober, interval time.Duration, logger Logger) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{prober: prober, interval: interval, logger: logger}
}

// FromConfig builds a monitor dialing cfg.Address.
func FromConfig(cfg Config, logger Logger) *Monitor {
	return NewMonitor(DialProber{Address: cfg.Address, Timeout: cfg.Timeout}, cfg.Interval, logger)
}

// Run probes immediately and then every interval. The returned channel gets
// the first result and afterwards only changes. It is closed when ctx ends.
func (m *Monitor) Run(ctx context.Context) <-chan bool {
	out := make(chan bool, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		var (
			last  bool
			first = true
		)
		for {
			up := m.prober.Probe(ctx) == nil
			if ctx.Err() != nil {
				return
			}
			if first || up != last {
				if !first {
					m.logger.Infof("network: reachable=%t", up)
				}
				select {
				case out <- up:
				case <-ctx.Done():
					return
				}
				first, last = false, up
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}
