// Package ipc is the channel a short-lived `courtbot -trigger` process
// uses to tell a live daemon "run due configs now". One unix socket, one
// newline command per connection, text reply, close.
package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"courtbot/internal/config"
	"courtbot/pkg/logx"
)

const (
	cmdPing    = "ping"
	cmdTrigger = "trigger"
	cmdStatus  = "status"

	connTimeout = 10 * time.Second
)

// ErrNoDaemon means no live daemon is listening on the socket.
var ErrNoDaemon = errors.New("no running daemon on socket")

// DefaultSocketPath places the socket in the user's temp dir.
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), "courtbot.sock")
}

func socketPath(cfg config.IPCConfig) string {
	if strings.TrimSpace(cfg.SocketPath) != "" {
		return cfg.SocketPath
	}
	return DefaultSocketPath()
}

// Handler is the daemon side of the protocol.
type Handler interface {
	// TriggerDue runs the due-configs check and returns a short summary.
	TriggerDue(ctx context.Context) (string, error)
	// StatusText renders current run statuses for display.
	StatusText(ctx context.Context) (string, error)
}

type Server struct {
	path string
	h    Handler
	log  logx.Logger
	ln   net.Listener
}

func NewServer(cfg config.IPCConfig, h Handler, log logx.Logger) *Server {
	return &Server{
		path: socketPath(cfg),
		h:    h,
		log:  log.With(logx.String("component", "ipc")),
	}
}

// Listen binds the socket. A stale file from a crashed daemon is removed
// if nothing answers on it; a live daemon is an error.
func (s *Server) Listen() error {
	if _, err := os.Stat(s.path); err == nil {
		if pingPath(s.path) {
			return fmt.Errorf("socket %s: another daemon is running", s.path)
		}
		if err := os.Remove(s.path); err != nil {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.path, err)
	}
	s.ln = ln
	s.log.Info("ipc listening", logx.String("socket", s.path))
	return nil
}

// Serve accepts until the context ends or the listener closes.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("ipc: Serve before Listen")
	}
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("ipc accept failed", logx.Err(err))
			continue
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) Close() error {
	ln := s.ln
	s.ln = nil
	var err error
	if ln != nil {
		err = ln.Close()
	}
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	cmd := strings.TrimSpace(line)
	s.log.Debug("ipc command", logx.String("cmd", cmd))

	var reply string
	switch cmd {
	case cmdPing:
		reply = "pong"
	case cmdTrigger:
		reply, err = s.h.TriggerDue(ctx)
	case cmdStatus:
		reply, err = s.h.StatusText(ctx)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		reply = "error: " + err.Error()
	}
	fmt.Fprintln(conn, reply)
}

// roundTrip sends one command and reads the full reply.
func roundTrip(ctx context.Context, path, cmd string) (string, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoDaemon, err)
	}
	defer conn.Close()
	deadline := time.Now().Add(connTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if _, err := fmt.Fprintln(conn, cmd); err != nil {
		return "", err
	}
	var b strings.Builder
	buf := make([]byte, 4096)
	var readErr error
	for {
		n, err := conn.Read(buf)
		b.Write(buf[:n])
		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}
	// An empty buffer with a non-EOF error means the daemon never
	// answered (e.g. a due check outliving the deadline), not an empty
	// reply.
	if b.Len() == 0 && readErr != nil {
		return "", fmt.Errorf("read reply: %w", readErr)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Ping reports whether a daemon answers on the socket.
func Ping(ctx context.Context, cfg config.IPCConfig) bool {
	return pingPath(socketPath(cfg))
}

func pingPath(path string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := roundTrip(ctx, path, cmdPing)
	return err == nil && reply == "pong"
}

// Trigger asks a live daemon to run its due configs.
func Trigger(ctx context.Context, cfg config.IPCConfig) (string, error) {
	return roundTrip(ctx, socketPath(cfg), cmdTrigger)
}

// Status fetches the daemon's status text.
func Status(ctx context.Context, cfg config.IPCConfig) (string, error) {
	return roundTrip(ctx, socketPath(cfg), cmdStatus)
}
