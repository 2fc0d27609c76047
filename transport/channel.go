// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rtfmri-foundation/rtfmri/wire"
)

// ErrConnectionLost is returned when the peer closes or the stream
// fails before a read or write completes.
var ErrConnectionLost = errors.New("connection lost")

// Channel is one reliable, ordered, bidirectional byte stream. Reads
// and writes may proceed concurrently with each other, but not with
// themselves.
type Channel struct {
	conn      net.Conn
	closeOnce sync.Once
	closed    chan struct{}
	onClose   func()
}

func newChannel(conn net.Conn, onClose func()) *Channel {
	return &Channel{conn: conn, closed: make(chan struct{}), onClose: onClose}
}

// Dial connects to a server. A nil tlsConfig means plain TCP.
func Dial(ctx context.Context, address string, tlsConfig *tls.Config) (*Channel, error) {
	var (
		conn net.Conn
		err  error
	)
	if tlsConfig != nil {
		dialer := &tls.Dialer{Config: tlsConfig}
		conn, err = dialer.DialContext(ctx, "tcp", address)
	} else {
		var dialer net.Dialer
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return newChannel(conn, nil), nil
}

// Send writes all of data.
func (c *Channel) Send(data []byte) error {
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("%w: send: %v", ErrConnectionLost, err)
	}
	return nil
}

// Recv blocks until exactly n bytes have been read.
func (c *Channel) Recv(n int) ([]byte, error) {
	buffer := make([]byte, n)
	if _, err := io.ReadFull(c.conn, buffer); err != nil {
		return nil, fmt.Errorf("%w: recv: %v", ErrConnectionLost, err)
	}
	return buffer, nil
}

// ReadMessage reads one frame. The header is read and validated before
// any payload byte is requested. Framing faults are returned as wire
// errors; a stream that fails or ends is ErrConnectionLost.
func (c *Channel) ReadMessage() (wire.Message, error) {
	message, err := wire.ReadMessage(c.conn)
	if err != nil && !wire.IsFramingFault(err) {
		return wire.Message{}, fmt.Errorf("%w: recv: %v", ErrConnectionLost, err)
	}
	return message, err
}

// WriteMessage encodes and sends one frame. A message that cannot be
// framed is rejected before anything is written.
func (c *Channel) WriteMessage(m wire.Message) error {
	err := wire.WriteMessage(c.conn, m)
	if err != nil && !wire.IsFramingFault(err) {
		return fmt.Errorf("%w: send: %v", ErrConnectionLost, err)
	}
	return err
}

// RemoteAddress is the peer's network address.
func (c *Channel) RemoteAddress() string {
	return c.conn.RemoteAddr().String()
}

// Done is closed once the channel has been closed locally.
func (c *Channel) Done() <-chan struct{} { return c.closed }

// Close closes the connection. It is safe to call more than once; the
// listener is told the slot is free exactly once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		close(c.closed)
		if c.onClose != nil {
			c.onClose()
		}
	})
	return err
}
