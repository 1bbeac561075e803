package agent

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/waterline-io/waterline-core/internal/infrastructure/config"
	"github.com/waterline-io/waterline-core/internal/infrastructure/logging"
	"github.com/waterline-io/waterline-core/internal/link"
	"github.com/waterline-io/waterline-core/internal/wire"
)

// inboundCapacity bounds the queue between the connection reader and the
// control loop. The bridge sends at most a handful of messages in flight;
// a full queue means the control loop is wedged, at which point dropping
// is better than blocking the reader.
const inboundCapacity = 16

// Server runs the device agent: the short-range channel listener and the
// single cooperative control loop driving the state machine.
//
// One sampling tick interleaves with asynchronous message reception; all
// state machine access happens on the control goroutine, so no concurrent
// actuation calls are possible.
type Server struct {
	cfg     config.AgentConfig
	machine *Machine
	reader  *LevelReader
	cache   *ThresholdCache
	log     *logging.Logger

	listener *link.Listener
}

// New creates an agent server and binds its listen address.
//
// Parameters:
//   - cfg: Agent section of config.yaml
//   - machine: The control state machine (restored from the threshold cache)
//   - reader: Level reader wrapping the sensor
//   - cache: Threshold persistence (may be backed by an empty path)
//   - log: Structured logger
//
// Returns:
//   - *Server: Listening server; call Run to start the control loop
//   - error: If the listen address cannot be bound
func New(cfg config.AgentConfig, machine *Machine, reader *LevelReader, cache *ThresholdCache, log *logging.Logger) (*Server, error) {
	listener, err := link.Listen(cfg.ListenAddr)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:      cfg,
		machine:  machine,
		reader:   reader,
		cache:    cache,
		log:      log,
		listener: listener,
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run drives the control loop until the context is cancelled.
//
// Sampling occurs on the configured fixed period; threshold and command
// messages from the attached bridge are handled between ticks. Malformed
// messages are dropped with a diagnostic, never a crash.
func (s *Server) Run(ctx context.Context) error {
	conns := make(chan *link.Conn)
	inbound := make(chan any, inboundCapacity)

	go s.acceptLoop(ctx, conns)

	ticker := time.NewTicker(s.cfg.GetSamplePeriod())
	defer ticker.Stop()

	var current *link.Conn
	defer func() {
		if current != nil {
			current.Close() //nolint:errcheck // Shutdown path
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.listener.Close() //nolint:errcheck // Shutdown path
			return nil

		case conn := <-conns:
			// One gateway at a time; a new attachment supersedes the old.
			if current != nil {
				s.log.Info("replacing attached bridge", "remote", conn.RemoteAddr())
				current.Close() //nolint:errcheck // Superseded connection
			} else {
				s.log.Info("bridge attached", "remote", conn.RemoteAddr())
			}
			current = conn
			go s.readLoop(ctx, conn, inbound)

		case msg := <-inbound:
			s.handleMessage(msg, current)

		case <-ticker.C:
			s.tick(current)
		}
	}
}

// Close stops the listener. Run returns once its context is cancelled.
func (s *Server) Close() error {
	return s.listener.Close()
}

// acceptLoop hands accepted connections to the control loop.
func (s *Server) acceptLoop(ctx context.Context, conns chan<- *link.Conn) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, link.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", "error", err)
			continue
		}

		select {
		case conns <- conn:
		case <-ctx.Done():
			conn.Close() //nolint:errcheck // Shutdown path
			return
		}
	}
}

// readLoop reads frames from one connection into the inbound queue.
//
// Malformed frames are dropped here with a diagnostic; transport failures
// end the loop and the connection.
func (s *Server) readLoop(ctx context.Context, conn *link.Conn, inbound chan<- any) {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, link.ErrClosed) {
				s.log.Info("bridge detached", "remote", conn.RemoteAddr())
				return
			}
			// Malformed frame; keep the session.
			s.log.Warn("dropping malformed frame", "error", err)
			continue
		}

		select {
		case inbound <- msg:
		case <-ctx.Done():
			return
		default:
			s.log.Warn("inbound queue full, dropping message")
		}
	}
}

// tick runs one sampling/control cycle.
func (s *Server) tick(conn *link.Conn) {
	level, err := s.reader.ReadLevel()
	if err != nil {
		// Skip the cycle; state is only ever changed on a good reading.
		s.log.Warn("sensor read failed, skipping cycle", "error", err)
		return
	}

	telemetry, event, err := s.machine.Sample(level, time.Now().UTC())
	if err != nil {
		s.log.Error("pump actuation failed", "error", err)
		return
	}

	if event != nil {
		s.log.Info("pump transition",
			"event", event.EventKind,
			"water_level", level,
		)
	}

	s.send(conn, telemetry)
	if event != nil {
		s.send(conn, event)
	}
}

// handleMessage dispatches one inbound message on the control goroutine.
func (s *Server) handleMessage(msg any, conn *link.Conn) {
	switch m := msg.(type) {
	case *wire.ThresholdSet:
		applied, err := s.machine.ApplyThresholds(m)
		if err != nil {
			s.log.Warn("dropping threshold update", "error", err)
			return
		}
		if !applied {
			s.log.Debug("threshold update is a no-op", "version", m.Version)
			return
		}
		s.log.Info("thresholds applied",
			"min_level", m.MinLevel,
			"max_level", m.MaxLevel,
			"version", m.Version,
		)
		if err := s.cache.Store(m); err != nil {
			s.log.Error("persisting threshold cache failed", "error", err)
		}

	case *wire.PumpCommand:
		event, err := s.machine.HandleCommand(m, time.Now().UTC())
		if err != nil {
			s.log.Error("manual command failed", "error", err)
			return
		}
		s.log.Info("manual pump start confirmed", "correlation_id", m.CorrelationID)
		s.send(conn, event)

	case *wire.SnapshotRequest:
		level, err := s.reader.ReadLevel()
		if err != nil {
			s.log.Warn("sensor read failed, snapshot unavailable", "error", err)
			return
		}
		s.send(conn, s.machine.Snapshot(level, time.Now().UTC()))

	default:
		s.log.Warn("dropping unexpected message kind")
	}
}

// send writes a message to the attached bridge, if any.
//
// Send failures are not fatal; the reader side notices the broken
// connection and the bridge reconnects.
func (s *Server) send(conn *link.Conn, msg any) {
	if conn == nil {
		return
	}
	if err := conn.WriteMessage(msg); err != nil {
		s.log.Debug("write to bridge failed", "error", err)
	}
}
