// Package orchestrator wires the engine worker, the generation service, open
// workspaces and the file-change reactor into one running application.
package orchestrator

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/turtacn/Fopwatch/internal/generation"
	"github.com/turtacn/Fopwatch/internal/reactor"
	"github.com/turtacn/Fopwatch/internal/supervisor"
	"github.com/turtacn/Fopwatch/internal/workspace"
	"github.com/turtacn/Fopwatch/pkg/consts"
	"github.com/turtacn/Fopwatch/pkg/logger"
	"github.com/turtacn/Fopwatch/pkg/protocol"
	"golang.org/x/sync/errgroup"
)

type Engine struct {
	cfg       *protocol.Config
	log       logger.Logger
	worker    *supervisor.Supervisor
	generator *generation.Service
	registry  *workspace.Registry
	reactor   *reactor.Reactor

	watchMu sync.Mutex // serializes watch policy decisions
	wg      sync.WaitGroup
}

// NewEngine resolves the engine launch command and assembles the components.
// Nothing is started.
func NewEngine(cfg *protocol.Config, log logger.Logger) (*Engine, error) {
	launch, err := supervisor.ResolveLaunch(cfg.Engine)
	if err != nil {
		return nil, err
	}
	log = logger.Or(log)

	e := &Engine{cfg: cfg, log: log.With("component", "engine")}
	e.worker = supervisor.New(supervisor.Options{
		Launch:        launch,
		ReadyTimeout:  cfg.Engine.ReadyTimeoutDuration(),
		ShutdownGrace: cfg.Engine.ShutdownGraceDuration(),
		MaxFrameBytes: cfg.Engine.MaxFrameBytes,
		Logger:        log,
	})
	e.generator = generation.NewService(e.worker, cfg.Engine.RequestTimeoutDuration(), log)
	e.registry = workspace.NewRegistry(log)
	e.reactor = reactor.New(reactor.Options{
		Debounce:  cfg.Workspace.DebounceDuration(),
		WatchDirs: cfg.Workspace.WatchDirs,
		OutputDir: cfg.Workspace.OutputDir,
		Sessions:  e.registry,
		Generator: e.generator,
		Logger:    log,
	})
	e.log.Info("Engine: configured", "launch", launch.String(), "dir", launch.Dir)
	return e, nil
}

func (e *Engine) Worker() *supervisor.Supervisor  { return e.worker }
func (e *Engine) Reactor() *reactor.Reactor       { return e.reactor }
func (e *Engine) Workspaces() *workspace.Registry { return e.registry }

// Start launches the worker and waits until it reports ready.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.worker.Start(); err != nil {
		return err
	}
	return e.worker.WaitReady(ctx)
}

// Generate renders one document pair.
func (e *Engine) Generate(ctx context.Context, req generation.Request) generation.Result {
	return e.generator.Generate(ctx, req)
}

func (e *Engine) Ping(ctx context.Context) error {
	return e.worker.Ping(ctx)
}

// OpenWorkspace opens root and begins applying its watch policy.
func (e *Engine) OpenWorkspace(root string) (*workspace.Session, error) {
	s, created, err := e.registry.Open(root)
	if err != nil {
		return nil, err
	}
	if created {
		changes, cancel := s.Changes(32)
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer cancel()
			for c := range changes {
				if c.Kind == workspace.ChangeClosed {
					return
				}
				e.syncWatch(s.Root())
			}
		}()
	}
	e.syncWatch(s.Root())
	return s, nil
}

// CloseWorkspace stops watching root, persists its settings and closes the session.
func (e *Engine) CloseWorkspace(root string) error {
	e.watchMu.Lock()
	e.reactor.StopWatching(root)
	e.watchMu.Unlock()
	return e.registry.Close(root)
}

// syncWatch watches an open workspace while it has open buffers or auto-generate is on.
func (e *Engine) syncWatch(root string) {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	snap, ok := e.registry.Snapshot(root)
	want := ok && !snap.Closed && (snap.AutoGenerate || len(snap.Buffers) > 0)
	watching := e.reactor.Watching(root)
	switch {
	case want && !watching:
		if err := e.reactor.StartWatching(root); err != nil {
			e.log.Error("Engine: cannot watch workspace", "root", root, "err", err)
		}
	case !want && watching:
		e.reactor.StopWatching(root)
	}
}

// Run starts the worker, opens the configured workspaces and reacts until ctx
// is cancelled, then shuts everything down.
func (e *Engine) Run(ctx context.Context) error {
	workerEvents, cancelWorker := e.worker.Subscribe(32)
	defer cancelWorker()
	reactorEvents, cancelReactor := e.reactor.Subscribe(64)
	defer cancelReactor()

	startCtx, cancel := context.WithTimeout(ctx, e.cfg.Engine.ReadyTimeoutDuration()+time.Second)
	err := e.Start(startCtx)
	cancel()
	if err != nil {
		e.shutdown()
		return err
	}

	for _, root := range e.cfg.Workspace.Roots {
		if _, err := e.OpenWorkspace(root); err != nil {
			e.log.Error("Engine: cannot open workspace", "root", root, "err", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.superviseWorker(gctx, workerEvents) })
	g.Go(func() error { return e.applyReactorEvents(gctx, reactorEvents) })
	e.log.Info("Engine: running", "workspaces", e.registry.Roots())

	<-gctx.Done()
	err = g.Wait()
	if serr := e.shutdown(); serr != nil {
		err = stderrors.Join(err, serr)
	}
	return err
}

func (e *Engine) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Engine.ShutdownGraceDuration()+2*time.Second)
	defer cancel()
	return e.Shutdown(ctx)
}

// Shutdown closes every workspace, stops watching and stops the worker.
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error
	for _, root := range e.registry.Roots() {
		if err := e.CloseWorkspace(root); err != nil {
			errs = append(errs, err)
		}
	}
	e.reactor.Close()
	if err := e.worker.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	e.wg.Wait()
	e.log.Info("Engine: stopped")
	return stderrors.Join(errs...)
}

// superviseWorker restarts a worker that exited on its own, with exponential
// backoff, when restarts are enabled. Attempts reset once the worker is ready.
func (e *Engine) superviseWorker(ctx context.Context, events <-chan supervisor.Event) error {
	policy := e.cfg.Engine.Restart
	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case supervisor.EventStateChanged:
				if ev.State == consts.StateReady {
					attempts = 0
				}
			case supervisor.EventExited:
				if ev.Reason == "shutdown" || !policy.Enabled {
					continue
				}
				for attempts < policy.MaxAttempts {
					attempts++
					delay := policy.BackoffDuration() << (attempts - 1)
					e.log.Warn("Engine: restarting worker", "attempt", attempts, "delay", delay, "reason", ev.Reason)
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(delay):
					}
					if err := e.worker.Start(); err != nil {
						e.log.Error("Engine: restart failed", "attempt", attempts, "err", err)
						continue
					}
					break
				}
				if attempts >= policy.MaxAttempts && e.worker.State() == consts.StateStopped {
					e.log.Error("Engine: giving up on worker", "attempts", attempts)
				}
			}
		}
	}
}

func (e *Engine) applyReactorEvents(ctx context.Context, events <-chan reactor.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case reactor.EventBufferReloaded:
				if s, ok := e.registry.Get(ev.Root); ok && s.ApplyReload(ev.Path, ev.Content) {
					e.log.Debug("Engine: buffer reloaded", "path", ev.Path)
				}
			case reactor.EventBufferConflict:
				e.log.Warn("Engine: file changed on disk while buffer has unsaved edits", "path", ev.Path)
			case reactor.EventBufferMissing:
				e.log.Warn("Engine: open file was removed", "path", ev.Path)
			case reactor.EventGenerated:
				if ev.Result.OK() {
					e.log.Info("Engine: regenerated", "root", ev.Root, "out", ev.Result.OutputPath)
				} else {
					e.log.Error("Engine: regeneration failed", "root", ev.Root, "code", ev.Result.Code().String(), "message", ev.Result.Message)
				}
			}
		}
	}
}

// Personal.AI order the ending
