package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/petal-labs/arbor"
	"github.com/petal-labs/arbor/kvstore"
)

// NewKVCmd creates the "kv" subcommand group: set and get operate on a
// SQLite-backed store component by firing events at it.
func NewKVCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Read and write a kvstore component",
	}

	cmd.PersistentFlags().String("db", "arbor-kv.db", "Path to the SQLite database")
	cmd.PersistentFlags().String("config", "", "Path to an arbor.yaml (default: discovery)")

	cmd.AddCommand(newKVSetCmd())
	cmd.AddCommand(newKVGetCmd())
	return cmd
}

func newKVSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value under a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *kvstore.Store) error {
				upd := kvstore.NewUpdate().Set(args[0], args[1])
				store.Fire(ctx, upd)
				if _, err := upd.Get(ctx); err != nil {
					return exitError(exitRuntime, "applying update: %v", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", args[0])
				return nil
			})
		},
	}
}

func newKVGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <prefix>",
		Short: "List entries at or below a key prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *kvstore.Store) error {
				q := kvstore.NewQuery(args[0])
				store.Fire(ctx, q)
				res, err := q.Get(ctx)
				if err != nil {
					return exitError(exitRuntime, "querying: %v", err)
				}
				entries, _ := res.(map[string]string)
				keys := make([]string, 0, len(entries))
				for k := range entries {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", k, entries[k])
				}
				return nil
			})
		},
	}
}

// withStore starts a tree holding a store component, runs fn, and stops the
// tree again.
func withStore(cmd *cobra.Command, fn func(context.Context, *kvstore.Store) error) error {
	dsn, _ := cmd.Flags().GetString("db")
	rt, err := runtimeFromFlags(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store := kvstore.New(dsn, arbor.WithRuntime(rt), arbor.WithName("kvstore"))
	if err := arbor.Start(ctx, store); err != nil {
		return exitError(exitRuntime, "starting store: %v", err)
	}
	defer func() {
		_ = arbor.Stop(context.Background(), store)
	}()
	return fn(ctx, store)
}
