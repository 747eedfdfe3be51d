// Package daemon implements the long-running local request dispatcher: a
// loopback-only TCP listener that accepts one line of JSON per connection,
// dispatches it through the command facade, and answers with the exit code
// and captured output. A warm process saves the JVM-less but still
// noticeable startup cost of a fresh CLI invocation for tooling that issues
// many commands.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/lucli-dev/lucli/internal/logging"
)

var log = logging.ForComponent(logging.CompDaemon)

// DefaultPort is the daemon's default listen port.
const DefaultPort = 10000

// maxRequestBytes bounds one request line; a client streaming garbage
// cannot balloon the daemon's memory.
const maxRequestBytes = 1 << 20

// connIdleTimeout bounds how long a connected client may take to send its
// one request line.
const connIdleTimeout = 60 * time.Second

// Executor is the command facade seam: everything runnable from the shell
// is runnable through it, which is what makes daemon responses match
// one-shot output.
type Executor interface {
	Execute(ctx context.Context, argv []string, cwd string) (exitCode int, output string)
}

// Request is one client message: an optional correlation id and the argv
// to dispatch.
type Request struct {
	ID   string   `json:"id,omitempty"`
	Argv []string `json:"argv"`
}

// Response is the daemon's single reply line.
type Response struct {
	ID       string `json:"id"`
	ExitCode int    `json:"exitCode"`
	Output   string `json:"output"`
}

// Server is the daemon. Connections are handled strictly sequentially by a
// single consumer loop; concurrent clients queue at the accept boundary.
type Server struct {
	Port     int
	Executor Executor

	// CWD is the working directory dispatched commands run against.
	CWD string

	listener net.Listener
}

// Addr returns the daemon's loopback address.
func (s *Server) Addr() string {
	port := s.Port
	if port <= 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("127.0.0.1:%d", port)
}

// ListenAndServe binds the loopback listener and serves until ctx is
// canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("daemon: listen %s: %w", s.Addr(), err)
	}
	s.listener = ln
	log.Info("daemon_listening", slog.String("addr", s.Addr()))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("accept_failed", slog.String("error", err.Error()))
			continue
		}
		// One request per connection, handled inline: the single-consumer
		// loop is the serialization guarantee.
		s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connIdleTimeout))

	reader := bufio.NewReaderSize(conn, 64*1024)
	line, err := readLine(reader)
	if err != nil {
		writeResponse(conn, Response{ID: "", ExitCode: 2, Output: "error: could not read request line"})
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		writeResponse(conn, Response{ID: "", ExitCode: 2, Output: "error: invalid JSON request"})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if len(req.Argv) == 0 {
		writeResponse(conn, Response{ID: req.ID, ExitCode: 2, Output: "error: argv must be a non-empty array"})
		return
	}

	log.Debug("dispatch", slog.String("id", req.ID), slog.Any("argv", req.Argv))
	exitCode, output := s.Executor.Execute(ctx, req.Argv, s.CWD)
	writeResponse(conn, Response{ID: req.ID, ExitCode: exitCode, Output: output})
}

// readLine reads one newline-terminated line with a hard size cap.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxRequestBytes {
			return nil, fmt.Errorf("request exceeds %d bytes", maxRequestBytes)
		}
		if !isPrefix {
			return line, nil
		}
	}
}

func writeResponse(conn net.Conn, resp Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		log.Error("marshal_response_failed", slog.String("error", err.Error()))
		return
	}
	raw = append(raw, '\n')
	if _, err := conn.Write(raw); err != nil {
		log.Warn("write_response_failed", slog.String("error", err.Error()))
	}
}
