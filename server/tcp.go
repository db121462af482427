package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jamyx/metrics"
)

// DefaultReadTimeout bounds how long a client may take to send its request.
const DefaultReadTimeout = 10 * time.Second

// DefaultWriteTimeout bounds a single response write.
const DefaultWriteTimeout = 5 * time.Second

// Dispatchable receives decoded commands.
type Dispatchable interface {
	Dispatch(stream Stream, cmd Command)
}

// tcpStream is a client connection handed to the dispatcher.
type tcpStream struct {
	conn      net.Conn
	closeOnce sync.Once
	onClose   func()
}

func (s *tcpStream) Write(p []byte) (int, error) {
	if err := s.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout)); err != nil {
		return 0, err
	}
	return s.conn.Write(p)
}

func (s *tcpStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return err
}

func (s *tcpStream) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// TCPServer accepts one command per connection.
type TCPServer struct {
	listener    net.Listener
	dispatcher  Dispatchable
	metrics     *metrics.Metrics
	readTimeout time.Duration

	mu      sync.Mutex
	clients map[*tcpStream]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// ListenTCP listens on addr and starts accepting connections.
func ListenTCP(addr string, d Dispatchable, m *metrics.Metrics) (*TCPServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return Serve(listener, d, m), nil
}

// Serve accepts connections from listener.
func Serve(listener net.Listener, d Dispatchable, m *metrics.Metrics) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &TCPServer{
		listener:    listener,
		dispatcher:  d,
		metrics:     m,
		readTimeout: DefaultReadTimeout,
		clients:     make(map[*tcpStream]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}

	logrus.WithFields(logrus.Fields{
		"function": "server.Serve",
		"address":  listener.Addr().String(),
	}).Info("Command server listening")

	s.wg.Add(1)
	go s.acceptConnections()
	return s
}

// Addr returns the listening address.
func (s *TCPServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops accepting and closes every open connection, including streams
// held by pending subscriptions.
func (s *TCPServer) Close() error {
	s.cancel()
	err := s.listener.Close()

	s.mu.Lock()
	clients := make([]*tcpStream, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		_ = c.Close()
	}

	s.wg.Wait()
	return err
}

func (s *TCPServer) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "TCPServer.acceptConnections",
				"error":    err.Error(),
			}).Warn("Accept failed")
			continue
		}

		s.metrics.RecordConnection("tcp")
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection reads one command and hands the stream to the dispatcher,
// which owns it from then on.
func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	stream := &tcpStream{conn: conn}
	stream.onClose = func() { s.unregister(stream) }
	s.register(stream)

	logrus.WithFields(logrus.Fields{
		"function": "TCPServer.handleConnection",
		"peer":     stream.RemoteAddr(),
	}).Debug("New connection")

	if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		_ = stream.Close()
		return
	}
	cmd, err := ReadCommand(conn)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "TCPServer.handleConnection",
			"peer":     stream.RemoteAddr(),
			"error":    err.Error(),
		}).Warn("Rejected malformed command")
		s.metrics.RecordCommand("unknown", "invalid", RetBadCommand)
		_ = WriteResponse(stream, Errorf(RetBadCommand, "%s", err.Error()))
		_ = stream.Close()
		return
	}
	// Held streams wait for a notification, not for more input.
	_ = conn.SetReadDeadline(time.Time{})

	s.dispatcher.Dispatch(stream, cmd)
}

func (s *TCPServer) register(c *tcpStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *TCPServer) unregister(c *tcpStream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}
