// Package control exposes a running engine over a local Unix socket. Each
// connection carries one JSON request and one JSON response.
package control

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/turtacn/Fopwatch/internal/generation"
	"github.com/turtacn/Fopwatch/internal/orchestrator"
	"github.com/turtacn/Fopwatch/internal/workspace"
	fperrors "github.com/turtacn/Fopwatch/pkg/errors"
	"github.com/turtacn/Fopwatch/pkg/logger"
)

const (
	OpStatus   = "status"
	OpPing     = "ping"
	OpOpen     = "open"
	OpClose    = "close"
	OpSelect   = "select"
	OpAuto     = "auto"
	OpGenerate = "generate"
)

type Request struct {
	Op      string `json:"op"`
	Root    string `json:"root,omitempty"`
	XML     string `json:"xml,omitempty"`
	XSL     string `json:"xsl,omitempty"`
	Out     string `json:"out,omitempty"`
	WorkDir string `json:"workdir,omitempty"`
	On      bool   `json:"on,omitempty"`
}

type Response struct {
	OK      bool                 `json:"ok"`
	Code    int                  `json:"code,omitempty"`
	Error   string               `json:"error,omitempty"`
	Status  *orchestrator.Status `json:"status,omitempty"`
	Output  string               `json:"output,omitempty"`
	Message string               `json:"message,omitempty"`
}

// Backend is the engine surface reachable through the socket.
type Backend interface {
	Status() orchestrator.Status
	Ping(ctx context.Context) error
	OpenWorkspace(root string) (*workspace.Session, error)
	CloseWorkspace(root string) error
	Generate(ctx context.Context, req generation.Request) generation.Result
}

type Server struct {
	path    string
	backend Backend
	timeout time.Duration
	log     logger.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func NewServer(path string, backend Backend, timeout time.Duration, log logger.Logger) *Server {
	return &Server{
		path:    path,
		backend: backend,
		timeout: timeout,
		log:     logger.Or(log).With("component", "control"),
	}
}

// Listen binds the socket, replacing a stale socket file left by a previous run.
func (s *Server) Listen() error {
	if _, err := os.Stat(s.path); err == nil {
		if conn, err := net.DialTimeout("unix", s.path, 200*time.Millisecond); err == nil {
			conn.Close()
			return fperrors.New(fperrors.ErrCodeConfigInvalid, "Listen", "another server is listening on "+s.path, nil)
		}
		_ = os.Remove(s.path)
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fperrors.New(fperrors.ErrCodeConfigInvalid, "Listen", "cannot bind control socket "+s.path, err)
	}
	_ = os.Chmod(s.path, 0o700)

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("Control: listening", "socket", s.path)
	return nil
}

// Serve accepts connections until ctx is cancelled, then removes the socket.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.ln
		s.mu.Unlock()
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer os.Remove(s.path)

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(s.timeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.reply(conn, failure(fperrors.New(fperrors.ErrCodeInvalidRequest, "Control", "malformed request", err)))
		return
	}
	s.log.Debug("Control: request", "op", req.Op, "root", req.Root)
	s.reply(conn, s.dispatch(ctx, req))
}

func (s *Server) reply(conn net.Conn, resp Response) {
	_ = conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Warn("Control: cannot write response", "err", err)
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Op {
	case OpStatus:
		st := s.backend.Status()
		return Response{OK: true, Status: &st}

	case OpPing:
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.backend.Ping(pctx); err != nil {
			return failure(err)
		}
		return Response{OK: true, Message: "pong"}

	case OpOpen:
		sess, err := s.backend.OpenWorkspace(req.Root)
		if err != nil {
			return failure(err)
		}
		return Response{OK: true, Message: sess.ID()}

	case OpClose:
		if err := s.backend.CloseWorkspace(req.Root); err != nil {
			return failure(err)
		}
		return Response{OK: true}

	case OpSelect, OpAuto:
		sess, err := s.backend.OpenWorkspace(req.Root)
		if err != nil {
			return failure(err)
		}
		if req.Op == OpSelect {
			sess.Select(req.XML, req.XSL)
		} else {
			sess.SetAutoGenerate(req.On)
		}
		return Response{OK: true, Message: sess.ID()}

	case OpGenerate:
		res := s.backend.Generate(ctx, generation.Request{
			SourcePath:    req.XML,
			TransformPath: req.XSL,
			WorkingDir:    req.WorkDir,
			OutputPath:    req.Out,
		})
		if !res.OK() {
			return failure(res.Err)
		}
		return Response{OK: true, Output: res.OutputPath, Message: res.Message}
	}
	return failure(fperrors.New(fperrors.ErrCodeInvalidRequest, "Control", "unknown op "+req.Op, nil))
}

func failure(err error) Response {
	return Response{Code: int(fperrors.CodeOf(err)), Error: fperrors.Message(err)}
}

// Personal.AI order the ending
