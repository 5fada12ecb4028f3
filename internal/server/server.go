// Package server is the TCP control surface: it accepts control-panel
// connections, decodes framed JSON commands, hands them to the engine and
// broadcasts engine events to every connected session.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"benchd/internal/engine"
	"benchd/internal/protocol"
	"benchd/pkg/types"
)

const (
	// readPoll bounds how long a session read blocks before re-checking
	// for shutdown.
	readPoll = 300 * time.Millisecond
	// writeTimeout is the per-event send deadline; a session that cannot
	// drain within it is dropped.
	writeTimeout = 5 * time.Second
)

var connectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "benchd",
	Subsystem: "server",
	Name:      "connected_clients",
	Help:      "Currently connected control-panel sessions.",
})

func init() {
	prometheus.MustRegister(connectedClients)
}

// client is one connected session. Writes are serialized per client so
// broadcasts and direct replies cannot interleave mid-frame.
type client struct {
	conn net.Conn
	mu   sync.Mutex
}

func (c *client) send(ev types.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return protocol.Write(c.conn, ev)
}

// Server accepts control connections and relays commands and events.
type Server struct {
	eng *engine.Engine
	log zerolog.Logger

	ln      net.Listener
	running atomic.Bool
	wg      sync.WaitGroup

	mu      sync.Mutex
	clients map[net.Conn]*client
}

// New returns a server bound to an engine. Call Listen then Serve.
func New(eng *engine.Engine, log zerolog.Logger) *Server {
	return &Server{
		eng:     eng,
		log:     log.With().Str("component", "server").Logger(),
		clients: make(map[net.Conn]*client),
	}
}

// Listen opens the control socket.
func (s *Server) Listen(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("listening on %s:%d: %w", host, port, err)
	}
	s.ln = ln
	s.running.Store(true)
	s.log.Info().Str("addr", ln.Addr().String()).Msg("control socket listening")
	return nil
}

// Addr returns the bound address. Valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve runs the accept loop until Shutdown. It returns nil on clean
// shutdown.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !s.running.Load() {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		c := &client{conn: conn}
		s.mu.Lock()
		s.clients[conn] = c
		n := len(s.clients)
		s.mu.Unlock()
		connectedClients.Set(float64(n))
		s.log.Info().Str("remote", conn.RemoteAddr().String()).Int("clients", n).Msg("client connected")

		s.wg.Add(1)
		go s.handleConn(c)
	}
}

// Shutdown stops accepting, disconnects every session and waits for the
// session goroutines to exit.
func (s *Server) Shutdown() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.Lock()
	for conn := range s.clients {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info().Msg("control socket closed")
}

// ClientCount reports the number of connected sessions.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Broadcast sends an event to every connected session. Sessions whose
// send fails are dropped. Implements engine.EventSink.
func (s *Server) Broadcast(ev types.Event) {
	s.mu.Lock()
	snapshot := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		snapshot = append(snapshot, c)
	}
	s.mu.Unlock()

	for _, c := range snapshot {
		if err := c.send(ev); err != nil {
			s.log.Warn().Str("remote", c.conn.RemoteAddr().String()).Err(err).Msg("dropping client after failed send")
			s.removeClient(c)
		}
	}
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	_, present := s.clients[c.conn]
	delete(s.clients, c.conn)
	n := len(s.clients)
	s.mu.Unlock()
	if present {
		_ = c.conn.Close()
		connectedClients.Set(float64(n))
		s.log.Info().Str("remote", c.conn.RemoteAddr().String()).Int("clients", n).Msg("client disconnected")
	}
}

// handleConn is the per-session read loop: greet, then decode and dispatch
// commands until the peer goes away or the server shuts down.
func (s *Server) handleConn(c *client) {
	defer s.wg.Done()
	defer s.removeClient(c)

	status := types.StatusIdle
	state := "Idle"
	if s.eng.Running() {
		status = types.StatusRunning
		state = "Running"
	}
	if err := c.send(types.Event{Message: "Connected to server. Status: " + state, Status: status}); err != nil {
		return
	}

	dec := &protocol.Decoder{}
	buf := make([]byte, 4096)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(readPoll)); err != nil {
			return
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			s.drain(c, dec)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if !s.running.Load() {
					return
				}
				continue
			}
			if !errors.Is(err, io.EOF) && s.running.Load() {
				s.log.Debug().Str("remote", c.conn.RemoteAddr().String()).Err(err).Msg("read failed")
			}
			return
		}
	}
}

// drain decodes every complete command in the buffer. Garbage the decoder
// had to discard earns the sender one error reply per drain.
func (s *Server) drain(c *client, dec *protocol.Decoder) {
	before := dec.Dropped()
	var cmd types.Command
	for dec.Next(&cmd) {
		s.dispatch(c, cmd)
		cmd = types.Command{}
	}
	if dec.Dropped() > before {
		_ = c.send(types.Event{
			Message: "Invalid JSON received; unable to parse command",
			Status:  types.StatusError,
		})
	}
}

// dispatch handles one decoded command. Validation failures are replied to
// the sender only; accepted commands drive the engine, whose events reach
// everyone via Broadcast.
func (s *Server) dispatch(c *client, cmd types.Command) {
	s.log.Debug().Str("remote", c.conn.RemoteAddr().String()).Str("command", cmd.Command).Msg("command received")

	switch cmd.Command {
	case types.CommandStart:
		if s.eng.Running() {
			_ = c.send(types.Event{
				Message: "Test already running. Please stop current test first.",
				Status:  types.StatusRunning,
			})
			return
		}
		if cmd.TestConfig == nil {
			_ = c.send(types.Event{Message: "No test configuration provided", Status: types.StatusError})
			return
		}
		if missing := cmd.TestConfig.MissingFields(); len(missing) > 0 {
			_ = c.send(types.Event{
				Message: "Missing required fields: " + strings.Join(missing, ", "),
				Status:  types.StatusError,
			})
			return
		}
		if err := s.eng.BeginRun(*cmd.TestConfig); errors.Is(err, engine.ErrAlreadyRunning) {
			// Lost the race to another session's start.
			_ = c.send(types.Event{
				Message: "Test already running. Please stop current test first.",
				Status:  types.StatusRunning,
			})
		}
		// Other BeginRun failures (unknown model, plugin init) were
		// already broadcast by the engine.

	case types.CommandStop:
		if !s.eng.RequestStop() {
			_ = c.send(types.Event{Message: "No test currently running", Status: types.StatusIdle})
		}

	case types.CommandStatus:
		status := types.StatusIdle
		if s.eng.Running() {
			status = types.StatusRunning
		}
		_ = c.send(types.Event{Message: s.eng.StatusLine(), Status: status})

	default:
		_ = c.send(types.Event{
			Message: fmt.Sprintf("Unknown command: %s", cmd.Command),
			Status:  types.StatusError,
		})
	}
}
