// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// SyslogConfig controls forwarding of log records to a remote syslog server.
type SyslogConfig struct {
	Enabled  bool   `hcl:"enabled,optional" json:"enabled"`
	Host     string `hcl:"host,optional" json:"host"`
	Port     int    `hcl:"port,optional" json:"port"`
	Protocol string `hcl:"protocol,optional" json:"protocol"` // udp or tcp
	Tag      string `hcl:"tag,optional" json:"tag"`
	Facility int    `hcl:"facility,optional" json:"facility"`
}

// DefaultSyslogConfig returns the default (disabled) syslog configuration.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "netperm",
		Facility: 1,
	}
}

// SyslogWriter forwards writes as RFC 3164 messages over UDP or TCP.
type SyslogWriter struct {
	cfg      SyslogConfig
	hostname string

	mu   sync.Mutex
	conn net.Conn
}

// NewSyslogWriter connects to the configured syslog server. Port, protocol
// and tag fall back to defaults when unset; a missing host is an error.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "netperm"
	}
	if cfg.Facility == 0 {
		cfg.Facility = 1
	}

	conn, err := net.DialTimeout(cfg.Protocol,
		net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)), 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("syslog dial failed: %w", err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "localhost"
	}
	return &SyslogWriter{cfg: cfg, hostname: hostname, conn: conn}, nil
}

// Write sends p as a single syslog message at severity "informational".
func (w *SyslogWriter) Write(p []byte) (int, error) {
	// PRI = facility*8 + severity(6 = info)
	pri := w.cfg.Facility*8 + 6
	msg := fmt.Sprintf("<%d>%s %s %s: %s",
		pri, time.Now().Format(time.Stamp), w.hostname, w.cfg.Tag, p)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.conn.Write([]byte(msg)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the underlying connection.
func (w *SyslogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Close()
}
