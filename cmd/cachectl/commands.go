package main

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/shared-redis/pkg/cache"
	"github.com/Sternrassler/shared-redis/pkg/logging"
	"github.com/Sternrassler/shared-redis/pkg/operations"
)

var errUnavailable = errors.New("store not available")

// cacheManager builds a cache manager, failing instead of degrading when the
// store is unreachable.
func (a *app) cacheManager(cmd *cobra.Command) (*cache.Manager, error) {
	m := cache.NewManager(cmd.Context(), a.cfg, a.conns, logging.NewLogger("cache"))
	if !m.IsAvailable(cmd.Context()) {
		if !a.cfg.CacheEnabled {
			return nil, fmt.Errorf("%w: cache disabled by configuration", errUnavailable)
		}
		return nil, fmt.Errorf("%w at %s", errUnavailable, a.conns.Addr())
	}
	return m, nil
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show store memory, stats and keyspace information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := cache.NewManager(cmd.Context(), a.cfg, a.conns, logging.NewLogger("cache"))
			info := m.GetCacheInfo(cmd.Context())

			keys := make([]string, 0, len(info))
			for k := range info {
				keys = append(keys, k)
			}
			slices.Sort(keys)

			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", k, info[k])
			}
			return nil
		},
	}
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <pattern>",
		Short: "Delete every key matching a glob pattern",
		Long: `Delete every key matching a glob pattern, walking the keyspace with SCAN.

Examples:
  # Drop all cached user profiles
  cachectl clear 'user_profile:*'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.cacheManager(cmd)
			if err != nil {
				return err
			}
			n, err := m.ClearPattern(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d keys matching %s\n", n, args[0])
			return nil
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the raw value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.cacheManager(cmd)
			if err != nil {
				return err
			}
			data, found, err := m.GetRaw(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("key %q not found", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newDelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "del <key>",
		Short: "Delete a single key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.cacheManager(cmd)
			if err != nil {
				return err
			}
			removed, err := m.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Key %s did not exist\n", args[0])
			}
			return nil
		},
	}
}

func newTTLCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ttl <key>",
		Short: "Show the remaining lifetime of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.cacheManager(cmd)
			if err != nil {
				return err
			}
			ttl, found, err := m.TTL(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			switch {
			case !found:
				return fmt.Errorf("key %q not found", args[0])
			case ttl == 0:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no expiry\n", args[0])
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], ttl)
			}
			return nil
		},
	}
}

func newPublishCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <channel> <payload>",
		Short: "Publish a message on a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rdb, err := a.conns.Acquire(cmd.Context())
			if err != nil {
				return err
			}
			return operations.BroadcastingData(cmd.Context(), rdb, args[0], args[1])
		},
	}
}

func newSubscribeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <channel>",
		Short: "Print messages published on a channel until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rdb, err := a.conns.Acquire(ctx)
			if err != nil {
				return err
			}

			sub, err := operations.SubscribeData(ctx, rdb, args[0])
			if err != nil {
				return err
			}
			defer func() { _ = sub.Close() }()

			a.logger.Info().Str("channel", args[0]).Msg("Listening, press Ctrl+C to stop")
			for msg := range sub.Messages(ctx) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", msg.Channel, msg.Payload)
			}
			return nil
		},
	}
}
