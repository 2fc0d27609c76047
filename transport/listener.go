// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// ErrListenerClosed is returned by Accept after Close.
var ErrListenerClosed = errors.New("listener closed")

// Listener accepts one client at a time.
type Listener struct {
	listener net.Listener
	logger   *slog.Logger

	handoff chan net.Conn
	done    chan struct{}

	mu   sync.Mutex
	busy bool

	closeOnce sync.Once
	loopDone  chan struct{}
}

// Listen starts accepting on address (":0" picks a free port). A nil
// tlsConfig means plain TCP.
func Listen(address string, tlsConfig *tls.Config, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	inner, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", address, err)
	}
	if tlsConfig != nil {
		inner = tls.NewListener(inner, tlsConfig)
	}
	l := &Listener{
		listener: inner,
		logger:   logger,
		handoff:  make(chan net.Conn),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

// Address is the bound address in host:port form.
func (l *Listener) Address() string {
	return l.listener.Addr().String()
}

// Accept blocks until a client connects while no channel is live, ctx
// ends, or the listener is closed.
func (l *Listener) Accept(ctx context.Context) (*Channel, error) {
	select {
	case conn := <-l.handoff:
		l.logger.Info("client connected", "remote", conn.RemoteAddr().String())
		return newChannel(conn, l.release), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, ErrListenerClosed
	}
}

// Close stops accepting. A live channel is unaffected.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.listener.Close()
		<-l.loopDone
	})
	return err
}

func (l *Listener) acceptLoop() {
	defer close(l.loopDone)
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("accept failed", "error", err)
			continue
		}

		if !l.claim() {
			l.logger.Warn("refusing connection while a session is live",
				"remote", conn.RemoteAddr().String())
			conn.Close()
			continue
		}

		select {
		case l.handoff <- conn:
		case <-l.done:
			conn.Close()
			return
		}
	}
}

// claim marks the slot busy, reporting false if it already was.
func (l *Listener) claim() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy {
		return false
	}
	l.busy = true
	return true
}

func (l *Listener) release() {
	l.mu.Lock()
	l.busy = false
	l.mu.Unlock()
	l.logger.Info("client channel closed")
}
