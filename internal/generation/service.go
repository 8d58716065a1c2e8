// Package generation renders an XML/XSLT document pair through the engine worker.
package generation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/turtacn/Fopwatch/internal/monitor"
	fperrors "github.com/turtacn/Fopwatch/pkg/errors"
	"github.com/turtacn/Fopwatch/pkg/logger"
	"github.com/turtacn/Fopwatch/pkg/protocol"
	"golang.org/x/sync/semaphore"
)

// Submitter delivers one correlated command to the engine.
type Submitter interface {
	Submit(ctx context.Context, c protocol.Command) (protocol.Response, error)
}

// Request names the document pair to render and where the output goes.
// An empty WorkingDir defaults to the transform's directory so relative
// imports in the stylesheet resolve.
type Request struct {
	SourcePath    string
	TransformPath string
	WorkingDir    string
	OutputPath    string
}

// Result is the outcome of one Request. Err is nil exactly when the render succeeded.
type Result struct {
	TraceID    string
	OutputPath string
	Message    string
	Detail     string // engine stack trace, if any
	Duration   time.Duration
	Err        error
}

// OK reports whether the render succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Code returns the error class of a failed result, or 0.
func (r Result) Code() fperrors.ErrorCode {
	return fperrors.CodeOf(r.Err)
}

// Service validates requests and runs them one at a time against the worker.
type Service struct {
	worker  Submitter
	timeout time.Duration
	log     logger.Logger
	turn    *semaphore.Weighted
}

func NewService(worker Submitter, timeout time.Duration, log logger.Logger) *Service {
	return &Service{
		worker:  worker,
		timeout: timeout,
		log:     logger.Or(log).With("component", "generation"),
		turn:    semaphore.NewWeighted(1),
	}
}

// Generate renders req. Input problems fail fast without contacting the worker.
// Calls are serialized so the engine never interleaves output files. A caller
// whose ctx ends while queued gets a RequestTimeout result without reaching the worker.
func (s *Service) Generate(ctx context.Context, req Request) Result {
	res := Result{TraceID: uuid.NewString(), OutputPath: req.OutputPath}
	log := s.log.With("trace_id", res.TraceID)

	if err := validate(&req); err != nil {
		res.Err = err
		res.Message = fperrors.Message(err)
		s.record(res)
		log.Warn("Generation: rejected", "err", err)
		return res
	}

	if err := s.turn.Acquire(ctx, 1); err != nil {
		res.Err = fperrors.New(fperrors.ErrCodeRequestTimeout, "Generate", "gave up waiting for the engine", err)
		res.Message = fperrors.Message(res.Err)
		s.record(res)
		log.Warn("Generation: abandoned while queued", "err", err)
		return res
	}
	defer s.turn.Release(1)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	log.Info("Generation: starting", "xml", req.SourcePath, "xsl", req.TransformPath, "out", req.OutputPath, "dir", req.WorkingDir)
	start := time.Now()
	resp, err := s.worker.Submit(ctx, protocol.Command{
		Action:     protocol.ActionGenerate,
		XMLPath:    req.SourcePath,
		XSLPath:    req.TransformPath,
		OutputPath: req.OutputPath,
		WorkingDir: req.WorkingDir,
	})
	res.Duration = time.Since(start)

	switch {
	case err != nil:
		res.Err = err
		res.Message = fperrors.Message(err)
	case resp.Status == protocol.StatusSuccess:
		res.Message = resp.Message
	case resp.Status == protocol.StatusError:
		res.Err = fperrors.New(fperrors.ErrCodeEngineFailure, "Generate", resp.Message, nil)
		res.Message = resp.Message
		res.Detail = resp.StackTrace
	default:
		res.Err = fperrors.New(fperrors.ErrCodeEngineFailure, "Generate", fmt.Sprintf("unexpected engine status %q: %s", resp.Status, resp.Message), nil)
		res.Message = fperrors.Message(res.Err)
	}

	s.record(res)
	if res.OK() {
		log.Info("Generation: done", "out", res.OutputPath, "message", res.Message, "duration", res.Duration)
	} else {
		log.Error("Generation: failed", "code", res.Code().String(), "message", res.Message)
	}
	return res
}

func (s *Service) record(res Result) {
	outcome := "success"
	if !res.OK() {
		outcome = res.Code().String()
	}
	monitor.GenerationsTotal.WithLabelValues(outcome).Inc()
	if res.Duration > 0 {
		monitor.GenerationDuration.Observe(res.Duration.Seconds())
	}
}

func validate(req *Request) error {
	if req.SourcePath == "" || req.TransformPath == "" || req.OutputPath == "" {
		return fperrors.New(fperrors.ErrCodeInvalidRequest, "Generate", "source, transform and output paths are required", nil)
	}
	if err := requireFile(req.SourcePath, "XML"); err != nil {
		return err
	}
	if err := requireFile(req.TransformPath, "XSL"); err != nil {
		return err
	}
	if req.WorkingDir == "" {
		req.WorkingDir = filepath.Dir(req.TransformPath)
	}
	if info, err := os.Stat(req.WorkingDir); err != nil || !info.IsDir() {
		return fperrors.New(fperrors.ErrCodeInputNotFound, "Generate", "working directory not found: "+req.WorkingDir, err)
	}
	outDir := filepath.Dir(req.OutputPath)
	if info, err := os.Stat(outDir); err != nil || !info.IsDir() {
		return fperrors.New(fperrors.ErrCodeInputNotFound, "Generate", "output directory not found: "+outDir, err)
	}
	return nil
}

func requireFile(path, kind string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fperrors.New(fperrors.ErrCodeInputNotFound, "Generate", kind+" file not found: "+path, err)
	}
	if info.IsDir() {
		return fperrors.New(fperrors.ErrCodeInputNotFound, "Generate", kind+" path is a directory: "+path, nil)
	}
	return nil
}

// Personal.AI order the ending
