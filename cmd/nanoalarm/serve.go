package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/linkerlin/nanoalarm.go/internal/config"
	"github.com/linkerlin/nanoalarm.go/internal/daemon"
)

var serviceAction string

// program runs the daemon under kardianos/service.
type program struct {
	cfg    *config.Config
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(s service.Service) error {
	d, err := daemon.New(p.cfg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		err := d.Run(ctx)
		if cerr := d.Close(); err == nil {
			err = cerr
		}
		p.done <- err
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	slog.Info("stopping nanoalarm")
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case err := <-p.done:
		return err
	case <-time.After(10 * time.Second):
		return fmt.Errorf("daemon did not stop in time")
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the alarm daemon",
	Long: `Runs the alarm daemon: restores pending alarms, fires them on time and
serves JSON-RPC on /rpc, Prometheus metrics on /metrics and /healthz.

With --service install|uninstall|start|stop|restart the daemon is managed
as a system service instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svcConfig := &service.Config{
			Name:        "nanoalarm",
			DisplayName: "nanoalarm",
			Description: "Alarm clock daemon",
			Arguments:   []string{"serve"},
		}
		if cfg.File != "" {
			svcConfig.Arguments = append(svcConfig.Arguments, "--config", cfg.File)
		}

		prg := &program{cfg: cfg}
		s, err := service.New(prg, svcConfig)
		if err != nil {
			return err
		}

		if serviceAction != "" {
			if err := service.Control(s, serviceAction); err != nil {
				return fmt.Errorf("%s service: %w", serviceAction, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service action '%s' completed successfully.\n", serviceAction)
			return nil
		}

		if service.Interactive() {
			return runForeground(cmd.Context())
		}
		return s.Run()
	},
}

// runForeground serves until SIGINT or SIGTERM.
func runForeground(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	slog.Info("nanoalarm started", "listen", cfg.RPC.Listen, "store", cfg.App.Store)
	err = d.Run(ctx)
	slog.Info("shutting down...")
	return err
}

func init() {
	serveCmd.Flags().StringVar(&serviceAction, "service", "", "service control: install, uninstall, start, stop, restart")
	rootCmd.AddCommand(serveCmd)
}
