package ipc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"tools.zach/dev/matchscope/internal/metrics"
	"tools.zach/dev/matchscope/internal/session"
)

// ///////////////////////////////////////////////
// Server
// ///////////////////////////////////////////////

// ProtocolVersion is bumped on any wire-incompatible change.
const ProtocolVersion = 1

// clientBuffer is how many pending frames a subscriber may fall behind
// before it is dropped. Publishing never blocks on a slow reader.
const clientBuffer = 16

// writeTimeout bounds a single frame write to one subscriber.
const writeTimeout = 5 * time.Second

// hello is the first frame's payload.
type hello struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
}

// Server pushes published snapshots to every connected subscriber. It
// implements the session publisher's sink.
type Server struct {
	log     *slog.Logger
	metrics *metrics.Set
	ln      net.Listener

	mu      sync.Mutex
	clients map[net.Conn]chan []byte
	closed  bool
}

// NewServer binds the socket for name and starts accepting subscribers.
// The accept loop runs until ctx ends.
func NewServer(ctx context.Context, name string, log *slog.Logger, m *metrics.Set) (*Server, error) {
	ln, err := listen(name)
	if err != nil {
		return nil, err
	}
	s := &Server{
		log:     log,
		metrics: m,
		ln:      ln,
		clients: make(map[net.Conn]chan []byte),
	}
	go s.acceptLoop()
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	log.Info("ipc listener started", "name", name)
	return s, nil
}

// Publish encodes the snapshot and queues it to every subscriber. A
// subscriber whose queue is full is dropped rather than stalled behind.
func (s *Server) Publish(snap session.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	frame, err := EncodeFrame(OpSnapshot, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.clients {
		select {
		case ch <- frame:
		default:
			s.log.Warn("dropping slow ipc subscriber", "remote", conn.RemoteAddr())
			s.dropLocked(conn)
		}
	}
	return nil
}

// ClientCount returns the number of connected subscribers.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close sends a goodbye to every subscriber and shuts the listener down.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	goodbye, _ := EncodeFrame(OpGoodbye, nil)
	for conn, ch := range s.clients {
		select {
		case ch <- goodbye:
		default:
		}
		close(ch)
		delete(s.clients, conn)
	}
	s.mu.Unlock()

	s.ln.Close()
	s.metrics.IPCClients(0)
}

// acceptLoop admits subscribers until the listener closes.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.admit(conn)
	}
}

// admit registers a subscriber, sends the hello frame, and starts its
// writer. The reader side only watches for EOF; subscribers send nothing.
func (s *Server) admit(conn net.Conn) {
	payload, _ := json.Marshal(hello{Version: ProtocolVersion, Name: "matchscope"})
	frame, _ := EncodeFrame(OpHello, payload)

	ch := make(chan []byte, clientBuffer)
	ch <- frame

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[conn] = ch
	n := len(s.clients)
	s.mu.Unlock()

	s.metrics.IPCClients(n)
	s.log.Debug("ipc subscriber connected", "clients", n)

	go s.watchEOF(conn)
	for frame := range ch {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := conn.Write(frame); err != nil {
			s.drop(conn)
			break
		}
	}
	conn.Close()
}

// watchEOF drains the subscriber's read side so a disconnect is noticed
// even when nothing is being published.
func (s *Server) watchEOF(conn net.Conn) {
	io.Copy(io.Discard, conn)
	s.drop(conn)
}

// drop removes a subscriber and closes its queue.
func (s *Server) drop(conn net.Conn) {
	s.mu.Lock()
	s.dropLocked(conn)
	s.mu.Unlock()
}

func (s *Server) dropLocked(conn net.Conn) {
	ch, ok := s.clients[conn]
	if !ok {
		return
	}
	delete(s.clients, conn)
	close(ch)
	s.metrics.IPCClients(len(s.clients))
	s.log.Debug("ipc subscriber disconnected", "clients", len(s.clients))
}
