// Command cachectl inspects and manages the shared Redis store: cache
// statistics, pattern clears, raw reads, pub/sub, and a status server for
// health, readiness and metrics.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sternrassler/shared-redis/pkg/config"
	"github.com/Sternrassler/shared-redis/pkg/connection"
	"github.com/Sternrassler/shared-redis/pkg/logging"
)

// All linker flags are set at build time.
var version = "dev"

// app holds what every subcommand needs once the root pre-run has resolved
// the configuration.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	conns  *connection.Manager
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree writing results to out.
func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "cachectl",
		Short:         "Inspect and manage the shared Redis cache",
		Long:          `cachectl talks to the shared Redis store the services use for caching, idempotency markers and pub/sub.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if a.conns == nil {
				return nil
			}
			return a.conns.Close()
		},
	}
	root.SetOut(out)

	root.PersistentFlags().String("env-file", ".env", "Optional dotenv file with configuration")
	root.PersistentFlags().String("redis-url", "", "Store URL, overrides host/port settings (REDIS_URL)")
	root.PersistentFlags().String("log-level", config.DefaultLogLevel, "Log level: debug, info, warn or error (LOG_LEVEL)")
	root.PersistentFlags().Bool("log-pretty", false, "Human readable logs on stderr (LOG_PRETTY)")

	root.AddCommand(
		newInfoCmd(a),
		newClearCmd(a),
		newGetCmd(a),
		newDelCmd(a),
		newTTLCmd(a),
		newPublishCmd(a),
		newSubscribeCmd(a),
		newServeCmd(a),
	)
	return root
}

// setup resolves configuration from env file, environment and flags, in
// increasing precedence.
func (a *app) setup(cmd *cobra.Command) error {
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return err
	}

	v, err := config.NewViper(envFile)
	if err != nil {
		return err
	}
	if err := bindFlags(v, cmd); err != nil {
		return err
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.cfg = cfg
	a.logger = logging.Setup(logging.ConfigFrom(cfg))
	a.conns = connection.NewManager(cfg, logging.NewLogger("connection"))

	a.logger.Debug().Str("config", cfg.String()).Msg("Configuration loaded")
	return nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	bindings := map[string]string{
		config.KeyRedisURL:  "redis-url",
		config.KeyLogLevel:  "log-level",
		config.KeyLogPretty: "log-pretty",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}
