package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/Fopwatch/internal/supervisor/fakeengine"
	"github.com/turtacn/Fopwatch/pkg/consts"
	fperrors "github.com/turtacn/Fopwatch/pkg/errors"
	"github.com/turtacn/Fopwatch/pkg/logger"
	"github.com/turtacn/Fopwatch/pkg/protocol"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	if fakeengine.Active() {
		os.Exit(fakeengine.Main())
	}
	goleak.VerifyTestMain(m)
}

func newFake(t *testing.T, mode string, tweak func(*Options)) *Supervisor {
	t.Helper()
	path, args, env := fakeengine.Command(mode, 3*time.Second)
	opts := Options{
		Launch:        LaunchSpec{Path: path, Args: args, Env: env},
		ReadyTimeout:  5 * time.Second,
		ShutdownGrace: 2 * time.Second,
		Logger:        logger.Nop(),
	}
	if tweak != nil {
		tweak(&opts)
	}
	s := New(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func startReady(t *testing.T, s *Supervisor) {
	t.Helper()
	require.NoError(t, s.Start())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.WaitReady(ctx))
	require.Equal(t, consts.StateReady, s.State())
}

func waitState(t *testing.T, s *Supervisor, want consts.WorkerState) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, 10*time.Second, 10*time.Millisecond,
		"worker never reached %s (now %s)", want, s.State())
}

func TestSupervisor_GenerateScenario(t *testing.T) {
	s := newFake(t, fakeengine.ModeEcho, nil)
	startReady(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := s.Submit(ctx, protocol.Command{
		Action:     protocol.ActionGenerate,
		XMLPath:    "a.xml",
		XSLPath:    "b.xsl",
		OutputPath: "c.pdf",
		WorkingDir: "/ws",
	})
	require.NoError(t, err)

	assert.Equal(t, protocol.StatusSuccess, resp.Status)
	assert.Equal(t, 1, resp.RequestID)
	assert.Equal(t, "c.pdf", resp.OutputPath)
	assert.Equal(t, `{"action":"generate","requestId":1,"xmlPath":"a.xml","xslPath":"b.xsl","outputPath":"c.pdf","workingDir":"/ws"}`, resp.Message)
	assert.Zero(t, s.Pending())
}

func TestSupervisor_RealGeneration(t *testing.T) {
	dir := t.TempDir()
	xml := filepath.Join(dir, "doc.xml")
	xsl := filepath.Join(dir, "doc.xsl")
	out := filepath.Join(dir, "out.pdf")
	require.NoError(t, os.WriteFile(xml, []byte("<doc/>"), 0o644))
	require.NoError(t, os.WriteFile(xsl, []byte("<xsl/>"), 0o644))

	s := newFake(t, fakeengine.ModeNormal, nil)
	startReady(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := s.Submit(ctx, protocol.Command{Action: protocol.ActionGenerate, XMLPath: xml, XSLPath: xsl, OutputPath: out, WorkingDir: dir})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSuccess, resp.Status)
	assert.FileExists(t, out)

	resp, err = s.Submit(ctx, protocol.Command{Action: protocol.ActionGenerate, XMLPath: xml + ".missing", XSLPath: xsl, OutputPath: out})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Contains(t, resp.Message, "XML file not found")
	assert.NotEmpty(t, resp.StackTrace)
}

func TestSupervisor_NotReadyDoesNotTouchTable(t *testing.T) {
	s := New(Options{Launch: LaunchSpec{Path: "unused"}, Logger: logger.Nop()})

	_, err := s.Submit(context.Background(), protocol.Command{Action: protocol.ActionGenerate})
	assert.True(t, fperrors.Is(err, fperrors.ErrCodeNotReady), "got %v", err)
	_, err = s.Submit(context.Background(), protocol.Command{Action: protocol.ActionPing})
	assert.True(t, fperrors.Is(err, fperrors.ErrCodeNotReady), "probes need a running process")

	assert.Zero(t, s.Pending())
	assert.Equal(t, 1, s.table.Register().ID, "no id was consumed by rejected commands")
}

func TestSupervisor_NotReadyWhileStarting(t *testing.T) {
	s := newFake(t, fakeengine.ModeSilent, nil)
	require.NoError(t, s.Start())
	assert.Equal(t, consts.StateStarting, s.State())

	_, err := s.Submit(context.Background(), protocol.Command{Action: protocol.ActionGenerate, XMLPath: "a.xml"})
	assert.True(t, fperrors.Is(err, fperrors.ErrCodeNotReady))
	assert.Zero(t, s.Pending())
}

func TestSupervisor_ReadyTimeout(t *testing.T) {
	s := newFake(t, fakeengine.ModeSilent, func(o *Options) { o.ReadyTimeout = 200 * time.Millisecond })
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.WaitReady(ctx)
	assert.True(t, fperrors.Is(err, fperrors.ErrCodeStartTimeout), "got %v", err)
	waitState(t, s, consts.StateStopped)
}

func TestSupervisor_ExitMidRequest(t *testing.T) {
	s := newFake(t, fakeengine.ModeCrashOnGenerate, nil)
	events, cancelEvents := s.Subscribe(32)
	defer cancelEvents()
	startReady(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := s.Submit(ctx, protocol.Command{Action: protocol.ActionGenerate, XMLPath: "a.xml", XSLPath: "b.xsl", OutputPath: "c.pdf"})

	require.Error(t, err)
	assert.True(t, fperrors.Is(err, fperrors.ErrCodeProcessTerminated), "got %v", err)
	assert.Equal(t, consts.StateStopped, s.State())
	assert.Zero(t, s.Pending())
	assert.True(t, fperrors.Is(s.LastError(), fperrors.ErrCodeProcessTerminated))

	var exit *Event
	for exit == nil {
		select {
		case ev := <-events:
			if ev.Kind == EventExited {
				exit = &ev
			}
		case <-time.After(5 * time.Second):
			t.Fatal("no exit event")
		}
	}
	assert.Equal(t, "crash", exit.Reason)
}

func TestSupervisor_CrashPassesThroughTerminating(t *testing.T) {
	s := newFake(t, fakeengine.ModeCrashOnGenerate, nil)
	startReady(t, s)
	events, cancelEvents := s.Subscribe(32)
	defer cancelEvents()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := s.Submit(ctx, protocol.Command{Action: protocol.ActionGenerate, XMLPath: "a.xml", XSLPath: "b.xsl", OutputPath: "c.pdf"})
	require.Error(t, err)

	var trace []consts.WorkerState
	timeout := time.After(5 * time.Second)
	for exited := false; !exited; {
		select {
		case ev := <-events:
			switch ev.Kind {
			case EventStateChanged:
				trace = append(trace, ev.State)
			case EventExited:
				exited = true
			}
		case <-timeout:
			t.Fatal("no exit event")
		}
	}
	assert.Equal(t, []consts.WorkerState{consts.StateTerminating, consts.StateStopped}, trace)
}

func TestSupervisor_StopGraceful(t *testing.T) {
	s := newFake(t, fakeengine.ModeNormal, nil)
	startReady(t, s)
	require.NotZero(t, s.PID())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	assert.Equal(t, consts.StateStopped, s.State())
	assert.Zero(t, s.PID())
	assert.Zero(t, s.Pending())
	assert.NoError(t, s.LastError())
	require.NoError(t, s.Stop(ctx), "stopping a stopped worker is a no-op")
}

func TestSupervisor_StopForcesKill(t *testing.T) {
	s := newFake(t, fakeengine.ModeIgnoreShutdown, func(o *Options) { o.ShutdownGrace = 200 * time.Millisecond })
	startReady(t, s)

	start := time.Now()
	require.NoError(t, s.Stop(context.Background()))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, consts.StateStopped, s.State())
}

func TestSupervisor_StopFailsOutstandingRequest(t *testing.T) {
	s := newFake(t, fakeengine.ModeSlow, func(o *Options) { o.ShutdownGrace = 200 * time.Millisecond })
	startReady(t, s)

	var wg sync.WaitGroup
	var submitErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, submitErr = s.Submit(context.Background(), protocol.Command{Action: protocol.ActionGenerate, XMLPath: "a.xml", XSLPath: "b.xsl", OutputPath: "c.pdf"})
	}()
	require.Eventually(t, func() bool { return s.Pending() == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	wg.Wait()
	assert.True(t, fperrors.Is(submitErr, fperrors.ErrCodeProcessTerminated), "got %v", submitErr)
	assert.Zero(t, s.Pending())
}

func TestSupervisor_RequestTimeoutDiscardsEntry(t *testing.T) {
	s := newFake(t, fakeengine.ModeSlow, func(o *Options) { o.ShutdownGrace = 200 * time.Millisecond })
	startReady(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := s.Submit(ctx, protocol.Command{Action: protocol.ActionGenerate, XMLPath: "a.xml", XSLPath: "b.xsl", OutputPath: "c.pdf"})
	assert.True(t, fperrors.Is(err, fperrors.ErrCodeRequestTimeout), "got %v", err)
	assert.Zero(t, s.Pending())
}

func TestSupervisor_SingleProcessAndRestart(t *testing.T) {
	s := newFake(t, fakeengine.ModeNormal, nil)
	startReady(t, s)

	err := s.Start()
	assert.True(t, fperrors.Is(err, fperrors.ErrCodeProcessStartFail), "second Start must be refused, got %v", err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Stop(ctx))

	startReady(t, s)
	resp, err := s.Submit(ctx, protocol.Command{Action: protocol.ActionPing})
	require.NoError(t, err)
	assert.Greater(t, resp.RequestID, 2, "ids continue across restarts")
}

func TestSupervisor_NoisyStreamAndSplitReady(t *testing.T) {
	s := newFake(t, fakeengine.ModeNoisy, nil)
	events, cancelEvents := s.Subscribe(64)
	defer cancelEvents()
	startReady(t, s)

	streams := map[string]bool{}
	deadline := time.After(5 * time.Second)
	for !(streams["stdout"] && streams["stderr"]) {
		select {
		case ev := <-events:
			if ev.Kind == EventLogLine {
				streams[ev.Stream] = true
			}
		case <-deadline:
			t.Fatalf("missing log lines, saw %v", streams)
		}
	}
}

func TestSupervisor_StartWithoutCommand(t *testing.T) {
	s := New(Options{Logger: logger.Nop()})
	assert.True(t, fperrors.Is(s.Start(), fperrors.ErrCodeEngineNotFound))
	assert.Equal(t, consts.StateStopped, s.State())

	bad := New(Options{Launch: LaunchSpec{Path: filepath.Join(t.TempDir(), "no-such-engine")}, Logger: logger.Nop()})
	assert.True(t, fperrors.Is(bad.Start(), fperrors.ErrCodeProcessStartFail))
	assert.Equal(t, consts.StateStopped, bad.State())
}
