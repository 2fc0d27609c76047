// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rtfmri-foundation/rtfmri/lib/clock"
	"github.com/rtfmri-foundation/rtfmri/lib/compress"
	"github.com/rtfmri-foundation/rtfmri/lib/fault"
	"github.com/rtfmri-foundation/rtfmri/transport"
	"github.com/rtfmri-foundation/rtfmri/wire"
)

// ErrUnexpectedReply means a reply did not echo the request it
// answers. The channel is out of step and must be abandoned.
var ErrUnexpectedReply = errors.New("unexpected reply")

// Client sends requests over one channel in strict lockstep: every
// call writes one message and waits for its reply.
type Client struct {
	channel *transport.Channel
	clock   clock.Clock
	logger  *slog.Logger

	mu     sync.Mutex
	nextID uint64
}

// Dial connects to a server. A nil tlsConfig means plain TCP.
func Dial(ctx context.Context, address string, tlsConfig *tls.Config, clk clock.Clock, logger *slog.Logger) (*Client, error) {
	channel, err := transport.Dial(ctx, address, tlsConfig)
	if err != nil {
		return nil, err
	}
	return NewClient(channel, clk, logger), nil
}

// NewClient wraps an established channel.
func NewClient(channel *transport.Channel, clk clock.Clock, logger *slog.Logger) *Client {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{channel: channel, clock: clk, logger: logger}
}

// Close closes the channel.
func (c *Client) Close() error {
	return c.channel.Close()
}

// Call sends request with the next message ID and returns the reply.
// Error replies are returned as replies, not errors; see [ReplyError].
// Cancelling ctx closes the channel.
func (c *Client) Call(ctx context.Context, request wire.Message) (wire.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { c.channel.Close() })
	defer stop()

	c.nextID++
	request.ID = c.nextID
	if err := c.channel.WriteMessage(request); err != nil {
		return wire.Message{}, c.contextError(ctx, err)
	}
	reply, err := c.channel.ReadMessage()
	if err != nil {
		return wire.Message{}, c.contextError(ctx, err)
	}
	if reply.Kind != wire.KindReply || reply.ID != request.ID || reply.Event != request.Event {
		return wire.Message{}, fmt.Errorf("%w: sent %s %s #%d, got %s %s #%d", ErrUnexpectedReply,
			request.Kind, request.Event, request.ID, reply.Kind, reply.Event, reply.ID)
	}
	c.logger.Debug("reply",
		"id", reply.ID,
		"event", reply.Event,
		"result", reply.Fields.Result,
		"path", reply.Fields.Path,
	)
	return reply, nil
}

func (c *Client) contextError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// ReplyError returns the typed error carried by an Error reply, or nil
// for any other result.
func ReplyError(reply wire.Message) error {
	if reply.Fields.Result != wire.ResultError {
		return nil
	}
	return fault.FromReply(reply.Fields.Code, reply.Fields.Text)
}

// command sends a Command and converts Error replies into errors.
func (c *Client) command(ctx context.Context, event wire.Event, fields wire.Fields, data []byte) (wire.Message, error) {
	reply, err := c.Call(ctx, wire.Message{Kind: wire.KindCommand, Event: event, Fields: fields, Data: data})
	if err != nil {
		return reply, err
	}
	return reply, ReplyError(reply)
}

// Init starts a session on the server with the named model. A warning
// reply (such as a code identity mismatch) is returned without error
// for the caller to judge.
func (c *Client) Init(ctx context.Context, model, codeID string) (wire.Message, error) {
	reply, err := c.Call(ctx, wire.Message{
		Kind:   wire.KindInit,
		Event:  wire.EventNone,
		Fields: wire.Fields{Model: model, CodeID: codeID},
	})
	if err != nil {
		return reply, err
	}
	return reply, ReplyError(reply)
}

// SyncClock asks for the server's clock. It implements
// clocksync.Exchanger.
func (c *Client) SyncClock(ctx context.Context) (time.Time, error) {
	reply, err := c.command(ctx, wire.EventSyncClock, wire.Fields{}, nil)
	if err != nil {
		return time.Time{}, err
	}
	if reply.Fields.ServerTime == 0 {
		return time.Time{}, fmt.Errorf("%w: SyncClock reply without server time", ErrUnexpectedReply)
	}
	return reply.Fields.ServerTimestamp(), nil
}

// Ping measures one round trip.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := c.clock.Now()
	if _, err := c.command(ctx, wire.EventPing, wire.Fields{}, nil); err != nil {
		return 0, err
	}
	return c.clock.Now().Sub(start), nil
}

// RetrieveFile fetches and decompresses a data file. path must match
// the server's position through the run level.
func (c *Client) RetrieveFile(ctx context.Context, path wire.IDPath, name string) ([]byte, wire.Message, error) {
	reply, err := c.command(ctx, wire.EventRetrieveData, wire.Fields{Path: path, Filename: name}, nil)
	if err != nil {
		return nil, reply, err
	}
	data, err := unpack(reply)
	return data, reply, err
}

// RetrieveDeferred fetches the result of a trial that missed its
// deadline. While the trial is still running the error matches
// fault.ErrPending.
func (c *Client) RetrieveDeferred(ctx context.Context, path wire.IDPath, handle string) (wire.Message, error) {
	return c.command(ctx, wire.EventRetrieveData, wire.Fields{Path: path, RecoveryHandle: handle}, nil)
}

// Shutdown asks the server to stop once it has replied.
func (c *Client) Shutdown(ctx context.Context) error {
	reply, err := c.Call(ctx, wire.Message{Kind: wire.KindShutdown, Event: wire.EventNone})
	if err != nil {
		return err
	}
	return ReplyError(reply)
}

func unpack(reply wire.Message) ([]byte, error) {
	tag, err := compress.ParseTag(reply.Fields.Compression)
	if err != nil {
		return nil, err
	}
	size := int(reply.Fields.Size)
	if tag == compress.None && size == 0 {
		size = len(reply.Data)
	}
	data, err := compress.Unpack(reply.Data, tag, size)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", reply.Fields.Filename, err)
	}
	return data, nil
}
