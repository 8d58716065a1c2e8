package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/turtacn/Fopwatch/internal/control"
	"github.com/turtacn/Fopwatch/internal/generation"
	"github.com/turtacn/Fopwatch/internal/monitor"
	"github.com/turtacn/Fopwatch/internal/orchestrator"
	"github.com/turtacn/Fopwatch/internal/workspace"
	"github.com/turtacn/Fopwatch/pkg/consts"
	"github.com/turtacn/Fopwatch/pkg/logger"
	"github.com/turtacn/Fopwatch/pkg/protocol"
	"golang.org/x/sync/errgroup"
)

var (
	cfgFile  string
	logLevel string

	genXML     string
	genXSL     string
	genOut     string
	genWorkDir string
)

var rootCmd = &cobra.Command{
	Use:           "fopwatch",
	Short:         "fopwatch: XSL-FO rendering worker and workspace watcher",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve [roots...]",
	Short: "Start the engine worker and regenerate open workspaces on change",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.Workspace.Roots = append(cfg.Workspace.Roots, args...)
		monitor.InitMetrics(cfg.Observability.MetricsPort)

		engine, err := orchestrator.NewEngine(cfg, logger.Log)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		if cfg.Control.Socket != "" {
			srv := control.NewServer(cfg.Control.Socket, engine, cfg.Control.TimeoutDuration(), logger.Log)
			if err := srv.Listen(); err != nil {
				return err
			}
			g.Go(func() error { return srv.Serve(gctx) })
		}
		logger.Log.Info("Booting fopwatch...", "workspaces", cfg.Workspace.Roots)
		g.Go(func() error { return engine.Run(gctx) })
		return g.Wait()
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render one XML/XSL pair to PDF through a fresh worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		monitor.Register()
		return withEngine(cmd.Context(), cfg, func(ctx context.Context, e *orchestrator.Engine) error {
			out, err := filepath.Abs(genOut)
			if err != nil {
				return err
			}
			res := e.Generate(ctx, generation.Request{
				SourcePath:    genXML,
				TransformPath: genXSL,
				WorkingDir:    genWorkDir,
				OutputPath:    out,
			})
			if !res.OK() {
				if res.Detail != "" {
					logger.Log.Debug("Engine stack trace", "trace", res.Detail)
				}
				return res.Err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", res.OutputPath, res.Message)
			return nil
		})
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Start the worker, probe it and stop it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		monitor.Register()
		return withEngine(cmd.Context(), cfg, func(ctx context.Context, e *orchestrator.Engine) error {
			if err := e.Ping(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "pong")
			return nil
		})
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan <root>",
	Short: "List the XML and XSL documents of a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := workspace.Scan(args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(files)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", consts.DefaultConfigFile, "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	generateCmd.Flags().StringVar(&genXML, "xml", "", "source XML document")
	generateCmd.Flags().StringVar(&genXSL, "xsl", "", "XSL-FO stylesheet")
	generateCmd.Flags().StringVar(&genOut, "out", consts.OutputFileName, "output PDF path")
	generateCmd.Flags().StringVar(&genWorkDir, "workdir", "", "working directory for relative references (default: stylesheet folder)")
	_ = generateCmd.MarkFlagRequired("xml")
	_ = generateCmd.MarkFlagRequired("xsl")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(ctlCmd)
}

// loadConfig reads the config named by --config, then $FOPWATCH_CONFIG, and
// initializes logging from it. Only an explicitly named file must exist.
func loadConfig(cmd *cobra.Command) (*protocol.Config, error) {
	path, mustExist := cfgFile, cmd.Flags().Changed("config")
	if env := os.Getenv(consts.EnvConfigPath); env != "" && !mustExist {
		path, mustExist = env, true
	}
	cfg, err := protocol.LoadConfig(path, mustExist)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Observability.LogLevel = logLevel
	}
	logger.InitLogger(cfg.Observability.LogLevel, cfg.Observability.LogFile)
	return cfg, nil
}

// withEngine runs fn against a started engine and always shuts it down.
func withEngine(parent context.Context, cfg *protocol.Config, fn func(context.Context, *orchestrator.Engine) error) error {
	engine, err := orchestrator.NewEngine(cfg, logger.Log)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownGraceDuration()*2)
		defer cancel()
		if err := engine.Shutdown(sctx); err != nil {
			logger.Log.Warn("Shutdown incomplete", "err", err)
		}
	}()

	startCtx, cancel := context.WithTimeout(ctx, cfg.Engine.ReadyTimeoutDuration()+cfg.Engine.ShutdownGraceDuration())
	defer cancel()
	if err := engine.Start(startCtx); err != nil {
		return err
	}
	return fn(ctx, engine)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	_ = logger.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Personal.AI order the ending
