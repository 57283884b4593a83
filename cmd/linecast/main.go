package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pscheid92/linecast/internal/platform/config"
	"github.com/pscheid92/linecast/internal/platform/logging"
	"github.com/pscheid92/linecast/internal/platform/version"
	"github.com/pscheid92/linecast/internal/supervisor"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "linecast",
		Short: "Broadcast a timestamped line to the console and to TCP clients",
		Long: `linecast emits one timestamped text line per interval. Depending on the
mode it prints the line to stdout, streams it to every connected TCP (telnet)
client, or both.

Configuration comes from LINECAST_* environment variables (optionally loaded
from a .env file); command-line flags take precedence.`,
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	flags := cmd.Flags()
	flags.StringP("mode", "m", "", "delivery mode: console, network or network+console (aliases: print, telnet, telnet+print)")
	flags.String("host", "", "address the TCP server binds to")
	flags.IntP("port", "p", 0, "port the TCP server binds to")
	flags.Duration("interval", 0, "time between two lines")
	flags.String("message", "", "text placed before the timestamp")
	flags.String("admin-addr", "", "address of the admin HTTP server (disabled when empty)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text or json")

	return cmd
}

// applyFlags overrides cfg with every flag the user set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	stringFlags := map[string]*string{
		"mode":       &cfg.Mode,
		"host":       &cfg.Host,
		"message":    &cfg.Message,
		"admin-addr": &cfg.AdminAddr,
		"log-level":  &cfg.LogLevel,
		"log-format": &cfg.LogFormat,
	}
	for name, target := range stringFlags {
		if !flags.Changed(name) {
			continue
		}
		value, err := flags.GetString(name)
		if err != nil {
			return fmt.Errorf("read flag %s: %w", name, err)
		}
		*target = value
	}

	if flags.Changed("port") {
		port, err := flags.GetInt("port")
		if err != nil {
			return fmt.Errorf("read flag port: %w", err)
		}
		cfg.Port = port
	}
	if flags.Changed("interval") {
		interval, err := flags.GetDuration("interval")
		if err != nil {
			return fmt.Errorf("read flag interval: %w", err)
		}
		cfg.Interval = interval
	}

	return cfg.Validate()
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogOutput)
	slog.Info("Application starting", "version", version.Version, "commit", version.Commit)

	comp, err := supervisor.Compose(cfg, supervisor.Deps{Stdout: cmd.OutOrStdout()})
	if err != nil {
		return err
	}

	stopSignals := runGracefulShutdown(comp.Supervisor)
	defer stopSignals()

	if err := comp.Run(cmd.Context()); err != nil {
		comp.Stop()
		return err
	}

	// Waits for a signal-initiated Stop to finish.
	comp.Stop()
	slog.Info("Application stopped")
	return nil
}

// runGracefulShutdown stops sup on SIGINT or SIGTERM. The returned function
// releases the signal handler.
func runGracefulShutdown(sup *supervisor.Supervisor) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	quit := make(chan struct{})

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("Shutdown signal received, cleaning up...", "signal", sig.String())
			sup.Stop()
		case <-quit:
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(quit)
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("linecast failed", "error", err)
		os.Exit(1)
	}
}
