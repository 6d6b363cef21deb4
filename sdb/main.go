package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"pkt.systems/psi"
	"pkt.systems/pslog"

	"gni.dev/sdb/internal/config"
	"gni.dev/sdb/internal/coroutine"
	"gni.dev/sdb/internal/dbg/debugger"
)

// set by the linker
var version = "dev"

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)

	root := newRootCmd()
	root.SetArgs(os.Args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("sdb command failed")
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "sdb",
		Short:         "Interactive debugger for cooperative coroutines",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./sdb.yaml)")

	load := func() (config.Config, error) {
		return config.Load(cfgPath)
	}
	root.AddCommand(newTTYCmd(load))
	root.AddCommand(newServeCmd(load))
	root.AddCommand(newConfigCmd(load))
	root.AddCommand(newVersionCmd())
	return root
}

type loader func() (config.Config, error)

func newTTYCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "tty",
		Short: "Debug the demo program on this terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			opts, err := debuggerOptions(cfg)
			if err != nil {
				return err
			}
			// SIGINT belongs to the debugger here, it cancels blocking commands
			ctx := context.WithoutCancel(cmd.Context())
			return runProgram(ctx, cfg, true, func(co *coroutine.Coroutine) error {
				return debugger.RunOnTTY(co, debugger.TTYConfig{
					Keyword:     cfg.Keyword,
					Prompt:      cfg.Prompt,
					HistoryFile: cfg.HistoryFile,
				}, opts...)
			})
		},
	}
}

func newServeCmd(load loader) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the debugger for the demo program to remote clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Addr()
			}
			opts, err := debuggerOptions(cfg)
			if err != nil {
				return err
			}
			return runProgram(cmd.Context(), cfg, false, func(co *coroutine.Coroutine) error {
				return debugger.RunOnStream(co, debugger.StreamConfig{
					Addr:    addr,
					Keyword: cfg.Keyword,
				}, opts...)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from listen.host and listen.port)")
	return cmd
}

func newConfigCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "sdb %s\n", version)
			return err
		},
	}
}

func debuggerOptions(cfg config.Config) ([]debugger.Option, error) {
	m, err := debugger.LoadSourceMap(cfg.SourceMap)
	if err != nil {
		return nil, err
	}
	return []debugger.Option{debugger.WithSourceMap(m)}, nil
}

// waitExit blocks until the operator asks the process to end.
var waitExit = func(co *coroutine.Coroutine) error {
	_, err := co.WaitSignal(os.Interrupt, syscall.SIGTERM)
	return err
}

// runProgram starts the demo program next to a debugger coroutine running
// serve and waits for all of them. The program is killed when serve fails or
// ctx is done. When serve returns cleanly from an interactive debugger the
// program keeps running until waitExit returns.
func runProgram(ctx context.Context, cfg config.Config, interactive bool, serve func(co *coroutine.Coroutine) error) error {
	sched := coroutine.NewScheduler(ctx)
	stop := context.AfterFunc(ctx, sched.Shutdown)
	defer stop()

	startDemo(sched, cfg.Demo.Workers)

	var err error
	sched.Run(func(co *coroutine.Coroutine) {
		err = serve(co)
		if err == nil && interactive {
			if waitExit(co) != nil {
				return
			}
		}
		sched.KillAll(co, nil)
	})
	sched.Wait()
	return err
}
