// Copyright 2026 The rtfMRI Authors
// SPDX-License-Identifier: Apache-2.0

// Package server runs the processing side of a session. It accepts one
// client channel at a time, answers the out-of-band messages (Init,
// Ping, SyncClock, Shutdown) itself, and passes hierarchy commands to
// an experiment.Machine built for the connection.
//
// A framing fault or a lost connection discards the connection's state
// and the server goes back to accepting; the client has to start over
// with Init. A Shutdown message stops Serve once its reply is written.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rtfmri-foundation/rtfmri/datafiles"
	"github.com/rtfmri-foundation/rtfmri/experiment"
	"github.com/rtfmri-foundation/rtfmri/lib/clock"
	"github.com/rtfmri-foundation/rtfmri/lib/fault"
	"github.com/rtfmri-foundation/rtfmri/model"
	"github.com/rtfmri-foundation/rtfmri/transport"
	"github.com/rtfmri-foundation/rtfmri/wire"
)

// Config configures a Server. Listener is required.
type Config struct {
	Listener *transport.Listener

	// Models resolves the model named in Init. Defaults to
	// model.Lookup.
	Models func(name string) (model.Factory, error)

	// DefaultModel is used when Init names none.
	DefaultModel string

	// Files is the data directory handed to models and used to size
	// RetrieveData transfers. Optional.
	Files *datafiles.Store

	// Results stores late trial results. Optional.
	Results experiment.DeferredStore

	// MaxTransfer caps RetrieveData; experiment.DefaultMaxTransfer
	// when zero.
	MaxTransfer int64

	// CodeID is this server's code identity. Empty disables the
	// version check.
	CodeID string

	Clock  clock.Clock
	Logger *slog.Logger

	// NewHandle generates recovery handles. Tests set it.
	NewHandle func() string
}

// Server serves sessions one connection at a time.
type Server struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	// detached tracks connections whose late trials are still
	// finishing after the connection ended.
	detached sync.WaitGroup
}

// New returns a server for cfg.
func New(cfg Config) *Server {
	if cfg.Models == nil {
		cfg.Models = model.Lookup
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = model.DefaultName
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Server{config: cfg, clock: cfg.Clock, logger: cfg.Logger}
}

// Serve accepts and serves connections until a client sends Shutdown
// (nil error), ctx ends, or the listener fails. It returns only after
// every late trial has finished.
func (s *Server) Serve(ctx context.Context) error {
	defer s.detached.Wait()
	s.logger.Info("serving", "address", s.config.Listener.Address())
	for {
		channel, err := s.config.Listener.Accept(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return err
		}
		if s.serveChannel(ctx, channel) {
			s.logger.Info("shutdown requested")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// connection is the state of one client channel.
type connection struct {
	channel *transport.Channel
	logger  *slog.Logger
	machine *experiment.Machine
	model   string
}

// serveChannel handles messages until the channel fails or a Shutdown
// arrives, reporting whether it was a Shutdown.
func (s *Server) serveChannel(ctx context.Context, channel *transport.Channel) bool {
	conn := &connection{
		channel: channel,
		logger:  s.logger.With("remote", channel.RemoteAddress()),
	}
	stop := context.AfterFunc(ctx, func() { channel.Close() })
	defer func() {
		stop()
		channel.Close()
		s.release(conn)
	}()

	for {
		request, err := channel.ReadMessage()
		if err != nil {
			switch {
			case wire.IsFramingFault(err):
				conn.logger.Warn("closing channel after framing fault", "error", err)
			case errors.Is(err, transport.ErrConnectionLost):
				conn.logger.Info("connection lost", "error", err)
			default:
				conn.logger.Error("reading message", "error", err)
			}
			return false
		}

		conn.logger.Debug("message received",
			"id", request.ID,
			"kind", request.Kind,
			"event", request.Event,
			"path", request.Fields.Path,
		)
		reply, shutdown := s.handle(ctx, conn, request)
		if err := s.send(conn, request, reply); err != nil {
			conn.logger.Info("reply not delivered", "event", request.Event, "error", err)
			return false
		}
		if shutdown {
			return true
		}
	}
}

// release waits for the machine's detached trials in the background so
// the next client is not held up by them.
func (s *Server) release(conn *connection) {
	if conn.machine == nil {
		return
	}
	machine := conn.machine
	s.detached.Add(1)
	go func() {
		defer s.detached.Done()
		machine.Wait()
	}()
}

func (s *Server) handle(ctx context.Context, conn *connection, request wire.Message) (wire.Message, bool) {
	switch request.Kind {
	case wire.KindInit:
		return s.handleInit(conn, request), false
	case wire.KindShutdown:
		return s.reply(conn, request), true
	case wire.KindCommand:
	default:
		return s.errorReply(conn, request, fault.New(fault.CodeRequest, "unexpected %s message", request.Kind)), false
	}

	switch request.Event {
	case wire.EventPing:
		return s.reply(conn, request), false
	case wire.EventSyncClock:
		reply := s.reply(conn, request)
		reply.Fields.ServerTime = s.clock.Now().UnixNano()
		return reply, false
	}

	if conn.machine == nil {
		return s.errorReply(conn, request, fault.New(fault.CodeState, "%s before Init", request.Event)), false
	}
	response, err := conn.machine.Handle(ctx, &request)
	reply := s.reply(conn, request)
	if response != nil {
		applyResult(&reply, response.Result)
		if response.MissedDeadline {
			reply.Fields.Result = wire.ResultWarning
			reply.Fields.Code = fault.CodeMissedDeadline
			reply.Fields.Text = "trial missed its deadline"
			reply.Fields.MissedDeadline = true
		}
		reply.Fields.RecoveryHandle = response.RecoveryHandle
	}
	if err != nil {
		setError(&reply.Fields, err)
		conn.logger.Warn("command failed", "event", request.Event, "code", reply.Fields.Code, "error", err)
	}
	return reply, false
}

func (s *Server) handleInit(conn *connection, request wire.Message) wire.Message {
	name := request.Fields.Model
	if name == "" {
		name = s.config.DefaultModel
	}
	factory, err := s.config.Models(name)
	if err != nil {
		return s.errorReply(conn, request, err)
	}

	// A new Init starts over: late trials of the previous machine keep
	// their results but the hierarchy resets.
	s.release(conn)
	modelLogger := conn.logger.With("model", name)
	conn.model = name
	conn.machine = experiment.New(experiment.Config{
		Model: factory(model.Config{
			Files:  s.config.Files,
			Clock:  s.clock,
			Logger: modelLogger,
		}),
		Files:       s.filesOrNil(),
		Deferred:    s.config.Results,
		MaxTransfer: s.config.MaxTransfer,
		Clock:       s.clock,
		Logger:      modelLogger,
		NewHandle:   s.config.NewHandle,
	})

	reply := s.reply(conn, request)
	reply.Fields.Model = name
	reply.Fields.CodeID = s.config.CodeID
	clientID := request.Fields.CodeID
	if s.config.CodeID != "" && clientID != "" && clientID != s.config.CodeID {
		reply.Fields.Result = wire.ResultWarning
		reply.Fields.Code = fault.CodeVersionMismatch
		reply.Fields.Text = "client and server code differ (client " + short(clientID) + ", server " + short(s.config.CodeID) + ")"
		conn.logger.Warn("code identity mismatch", "client", clientID, "server", s.config.CodeID)
	}
	conn.logger.Info("session initialized", "model", name)
	return reply
}

// filesOrNil keeps a nil *datafiles.Store from becoming a non-nil
// interface.
func (s *Server) filesOrNil() experiment.FileSizer {
	if s.config.Files == nil {
		return nil
	}
	return s.config.Files
}

func (s *Server) reply(conn *connection, request wire.Message) wire.Message {
	var path wire.IDPath
	if conn.machine != nil {
		path = conn.machine.Path()
	}
	return wire.Message{
		ID:     request.ID,
		Kind:   wire.KindReply,
		Event:  request.Event,
		Fields: wire.Fields{Path: path, Result: wire.ResultSuccess},
	}
}

func (s *Server) errorReply(conn *connection, request wire.Message, err error) wire.Message {
	reply := s.reply(conn, request)
	setError(&reply.Fields, err)
	conn.logger.Warn("request refused", "kind", request.Kind, "event", request.Event, "error", err)
	return reply
}

// send writes reply. A reply too large for its frame is replaced by an
// error reply so the client is not left waiting.
func (s *Server) send(conn *connection, request, reply wire.Message) error {
	err := conn.channel.WriteMessage(reply)
	var sizeErr *wire.SizeError
	if errors.As(err, &sizeErr) {
		conn.logger.Warn("reply exceeds frame limit", "event", request.Event, "error", err)
		return conn.channel.WriteMessage(s.errorReply(conn, request,
			fault.New(fault.CodeRequest, "reply too large: %v", sizeErr)))
	}
	return err
}

func applyResult(reply *wire.Message, result *experiment.Result) {
	if result == nil {
		return
	}
	reply.Data = result.Data
	fields := &reply.Fields
	fields.Lines = result.Lines
	fields.Prediction = result.Prediction
	fields.Filename = result.Filename
	fields.Compression = result.Compression
	fields.Size = result.Size
}

func setError(fields *wire.Fields, err error) {
	fields.Result = wire.ResultError
	fields.Code = fault.CodeOf(err)
	fields.Text = err.Error()
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
