// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package pulse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rtfmri-foundation/rtfmri/lib/clock"
)

// Listener receives pulse datagrams into a Cell.
type Listener struct {
	conn   net.PacketConn
	cell   *Cell
	clock  clock.Clock
	logger *slog.Logger
}

// ListenerConfig configures Listen.
type ListenerConfig struct {
	// Address to bind, such as ":5300".
	Address string
	Cell    *Cell
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Listen binds the pulse socket. The address may be shared with other
// listeners on the same host.
func Listen(ctx context.Context, cfg ListenerConfig) (*Listener, error) {
	if cfg.Cell == nil {
		return nil, errors.New("pulse: listener needs a cell")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	listenConfig := net.ListenConfig{Control: reusable}
	conn, err := listenConfig.ListenPacket(ctx, "udp4", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("pulse: listen %s: %w", cfg.Address, err)
	}
	return &Listener{conn: conn, cell: cfg.Cell, clock: cfg.Clock, logger: cfg.Logger}, nil
}

// Address is the bound address.
func (l *Listener) Address() string {
	return l.conn.LocalAddr().String()
}

// Run stores every valid pulse until ctx ends, then closes the socket.
func (l *Listener) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { l.conn.Close() })
	defer stop()
	defer l.conn.Close()

	buffer := make([]byte, 64)
	for {
		n, from, err := l.conn.ReadFrom(buffer)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pulse: receive: %w", err)
		}
		timestamp, err := Decode(buffer[:n])
		if err != nil {
			l.logger.Warn("ignoring malformed pulse", "from", from.String(), "error", err)
			continue
		}
		l.cell.Store(Reading{Timestamp: timestamp, ReceivedAt: l.clock.Now()})
		l.logger.Debug("pulse", "timestamp", timestamp, "from", from.String())
	}
}

// reusable sets SO_REUSEADDR and SO_REUSEPORT so several clients on one
// host can hear the same broadcast.
func reusable(_, _ string, raw syscall.RawConn) error {
	var optionErr error
	err := raw.Control(func(fd uintptr) {
		if optionErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); optionErr != nil {
			return
		}
		optionErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return optionErr
}

// Broadcaster sends pulses to a broadcast address.
type Broadcaster struct {
	conn   net.PacketConn
	target *net.UDPAddr
}

// NewBroadcaster opens a socket allowed to send to target, such as
// "255.255.255.255:5300".
func NewBroadcaster(ctx context.Context, target string) (*Broadcaster, error) {
	address, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return nil, fmt.Errorf("pulse: resolving %s: %w", target, err)
	}
	listenConfig := net.ListenConfig{Control: broadcastable}
	conn, err := listenConfig.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("pulse: opening broadcast socket: %w", err)
	}
	return &Broadcaster{conn: conn, target: address}, nil
}

// Send broadcasts one pulse.
func (b *Broadcaster) Send(t time.Time) error {
	if _, err := b.conn.WriteTo(Encode(t), b.target); err != nil {
		return fmt.Errorf("pulse: send: %w", err)
	}
	return nil
}

// Close closes the socket.
func (b *Broadcaster) Close() error { return b.conn.Close() }

func broadcastable(_, _ string, raw syscall.RawConn) error {
	var optionErr error
	err := raw.Control(func(fd uintptr) {
		optionErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return optionErr
}
