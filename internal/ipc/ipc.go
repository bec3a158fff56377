// Package ipc is the daemon's local control socket: one JSON request and one
// JSON reply per connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const DefaultSocketPath = "/tmp/athena.sock"

const (
	CmdStop = "stop"
	CmdSay  = "say"
	CmdRun  = "run"
)

type ControlMessage struct {
	Cmd  string `json:"cmd"`
	Text string `json:"text,omitempty"`
}

type Reply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type Handler func(ctx context.Context, msg ControlMessage) error

type Server struct {
	ln   net.Listener
	path string
	wg   sync.WaitGroup
}

// StartServer listens on path and serves connections until ctx is done or
// Close is called. A stale socket file at path is removed first.
func StartServer(ctx context.Context, path string, handler Handler) (*Server, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s := &Server{ln: ln, path: path}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Warn("Failed to accept", "err", err)
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				handleConn(ctx, conn, handler)
			}()
		}
	}()

	context.AfterFunc(ctx, func() { s.ln.Close() })

	return s, nil
}

func (s *Server) Path() string { return s.path }

// Close stops accepting and waits for in-flight requests.
func (s *Server) Close() error {
	err := s.ln.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	s.wg.Wait()
	os.Remove(s.path)
	return err
}

func handleConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Warn("Bad control message", "err", err)
		_ = json.NewEncoder(conn).Encode(Reply{Error: "bad request"})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	log.Debug("Control message", "cmd", msg.Cmd)

	reply := Reply{OK: true}
	if err := handler(ctx, msg); err != nil {
		reply = Reply{Error: err.Error()}
	}
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Debug("Failed to reply", "err", err)
	}
}

// SendCommand delivers msg to the daemon listening on path and returns its reply.
func SendCommand(ctx context.Context, path string, msg ControlMessage) (Reply, error) {
	if path == "" {
		path = DefaultSocketPath
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}

	var reply Reply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return Reply{}, fmt.Errorf("reply: %w", err)
	}
	if !reply.OK {
		return reply, errors.New(reply.Error)
	}
	return reply, nil
}
