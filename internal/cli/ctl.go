package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/turtacn/Fopwatch/internal/control"
	fperrors "github.com/turtacn/Fopwatch/pkg/errors"
)

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Drive a running fopwatch server through its control socket",
}

func ctlSubcommand(use, short string, args cobra.PositionalArgs, build func([]string) (control.Request, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := build(args)
			if err != nil {
				return err
			}
			return callServer(cmd, req)
		},
	}
}

func callServer(cmd *cobra.Command, req control.Request) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Control.Socket == "" {
		return fperrors.New(fperrors.ErrCodeConfigInvalid, "ctl", "control.socket is not configured", nil)
	}
	timeout := cfg.Control.TimeoutDuration()
	if req.Op == control.OpGenerate {
		timeout += cfg.Engine.RequestTimeoutDuration()
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	resp, err := control.Call(ctx, cfg.Control.Socket, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func absPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	return filepath.Abs(p)
}

func init() {
	ctlCmd.AddCommand(
		ctlSubcommand("status", "Show worker and workspace state", cobra.NoArgs, func([]string) (control.Request, error) {
			return control.Request{Op: control.OpStatus}, nil
		}),
		ctlSubcommand("ping", "Probe the server's worker", cobra.NoArgs, func([]string) (control.Request, error) {
			return control.Request{Op: control.OpPing}, nil
		}),
		ctlSubcommand("open <root>", "Open a workspace", cobra.ExactArgs(1), func(a []string) (control.Request, error) {
			root, err := absPath(a[0])
			return control.Request{Op: control.OpOpen, Root: root}, err
		}),
		ctlSubcommand("close <root>", "Close a workspace and save its settings", cobra.ExactArgs(1), func(a []string) (control.Request, error) {
			root, err := absPath(a[0])
			return control.Request{Op: control.OpClose, Root: root}, err
		}),
		ctlSubcommand("select <root> <xml> <xsl>", "Choose the document pair of a workspace", cobra.ExactArgs(3), func(a []string) (control.Request, error) {
			root, err := absPath(a[0])
			return control.Request{Op: control.OpSelect, Root: root, XML: a[1], XSL: a[2]}, err
		}),
		ctlSubcommand("auto <root> on|off", "Toggle regeneration on save", cobra.ExactArgs(2), func(a []string) (control.Request, error) {
			root, err := absPath(a[0])
			if err != nil {
				return control.Request{}, err
			}
			switch a[1] {
			case "on", "off":
				return control.Request{Op: control.OpAuto, Root: root, On: a[1] == "on"}, nil
			}
			return control.Request{}, fmt.Errorf("expected on or off, got %q", a[1])
		}),
		ctlSubcommand("generate <xml> <xsl> <out>", "Render a document pair on the server's worker", cobra.ExactArgs(3), func(a []string) (control.Request, error) {
			req := control.Request{Op: control.OpGenerate}
			var err error
			for dst, src := range map[*string]string{&req.XML: a[0], &req.XSL: a[1], &req.Out: a[2]} {
				if *dst, err = absPath(src); err != nil {
					return req, err
				}
			}
			return req, nil
		}),
	)
}

// Personal.AI order the ending
