package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nsgo/nsapi/pkg/api"
	"github.com/nsgo/nsapi/pkg/client"
	"github.com/nsgo/nsapi/pkg/telemetry"
)

// fetchTimeout bounds waiting for a single CLI query, including its place
// in the cadence queue.
const fetchTimeout = 5 * time.Minute

// createNationCommand creates the nation subcommand
func createNationCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "nation NAME [SHARD...]",
		Short: "Query a nation's shards",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			resp, err := fetch(c, api.NewNation(args[0], args[1:]...))
			if err != nil {
				return err
			}
			if rootFlags.raw || resp.Nation == nil {
				fmt.Println(string(resp.Body))
				return nil
			}

			n := resp.Nation
			fmt.Printf("%-12s %s\n", "Nation:", n.FullName)
			fmt.Printf("%-12s %s\n", "Motto:", n.Motto)
			fmt.Printf("%-12s %s\n", "Region:", n.Region)
			fmt.Printf("%-12s %s\n", "Category:", n.Category)
			if n.Population > 0 {
				fmt.Printf("%-12s %d million\n", "Population:", n.Population)
			}
			return nil
		},
	}
}

// createRegionCommand creates the region subcommand
func createRegionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "region NAME [SHARD...]",
		Short: "Query a region's shards",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			resp, err := fetch(c, api.NewRegion(args[0], args[1:]...))
			if err != nil {
				return err
			}
			if rootFlags.raw || resp.Region == nil {
				fmt.Println(string(resp.Body))
				return nil
			}

			r := resp.Region
			fmt.Printf("%-12s %s\n", "Region:", r.Name)
			fmt.Printf("%-12s %s\n", "Delegate:", r.Delegate)
			fmt.Printf("%-12s %s\n", "Founder:", r.Founder)
			fmt.Printf("%-12s %d\n", "Nations:", r.NumNations)
			return nil
		},
	}
}

// createWorldCommand creates the world subcommand
func createWorldCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "world [SHARD...]",
		Short: "Query world-wide shards",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			resp, err := fetch(c, api.NewWorld(args...))
			if err != nil {
				return err
			}
			if rootFlags.raw || resp.World == nil {
				fmt.Println(string(resp.Body))
				return nil
			}

			w := resp.World
			fmt.Printf("%-18s %d\n", "Nations:", w.NumNations)
			fmt.Printf("%-18s %d\n", "Regions:", w.NumRegions)
			fmt.Printf("%-18s %s\n", "Featured region:", w.FeaturedRegion)
			return nil
		},
	}
}

// createTelegramCommand creates the telegram subcommand
func createTelegramCommand() *cobra.Command {
	var (
		clientKey   string
		tgid        string
		secretKey   string
		recruitment bool
	)

	cmd := &cobra.Command{
		Use:   "telegram RECIPIENT",
		Short: "Send a telegram via the telegram API",
		Long: `Send a telegram to a nation. Requires a telegram API client key and the
telegram's id and secret key from its registration.

Recruitment telegrams are paced far more conservatively than others; the
scheduler holds each one until its cadence floor has elapsed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			defer c.Shutdown()

			req := api.NewTelegram(clientKey, tgid, secretKey, args[0], recruitment)
			resp, err := fetch(c, req)
			if err != nil {
				return err
			}
			fmt.Printf("Telegram queued: %s\n", strings.TrimSpace(resp.Text))
			return nil
		},
	}

	cmd.Flags().StringVar(&clientKey, "client-key", "", "Telegram API client key")
	cmd.Flags().StringVar(&tgid, "tgid", "", "Telegram id")
	cmd.Flags().StringVar(&secretKey, "key", "", "Telegram secret key")
	cmd.Flags().BoolVar(&recruitment, "recruitment", false, "Mark as a recruitment telegram")
	cmd.MarkFlagRequired("client-key")
	cmd.MarkFlagRequired("tgid")
	cmd.MarkFlagRequired("key")

	return cmd
}

// createStatsCommand creates the stats subcommand
func createStatsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize recorded dispatch telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The database path follows the usual precedence, so a
			// telemetry_db from the config file or environment works
			// without repeating the flag.
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			dbPath := cfg.TelemetryDB
			if dbPath == "" {
				return fmt.Errorf("no telemetry database configured (set --telemetry-db, telemetry_db, or NSAPI_TELEMETRY_DB)")
			}

			store, err := telemetry.OpenSQLite(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Aggregate()
			if err != nil {
				return err
			}

			fmt.Printf("%-18s %d\n", "Dispatches:", stats.Total)
			fmt.Printf("%-18s %d\n", "Successes:", stats.Successes)
			fmt.Printf("%-18s %d\n", "Failures:", stats.Failures)
			fmt.Printf("%-18s %d\n", "Cache hits:", stats.CacheHits)
			fmt.Printf("%-18s %.1f%%\n", "Success rate:", stats.SuccessRate*100)
			fmt.Printf("%-18s %v\n", "Avg queue wait:", stats.AvgQueueWait)
			fmt.Printf("%-18s %v\n", "Avg duration:", stats.AvgDuration)
			for category, count := range stats.ByCategory {
				fmt.Printf("  %-16s %d\n", category+":", count)
			}

			if limit > 0 {
				recent, err := store.Recent(limit)
				if err != nil {
					return err
				}
				fmt.Println()
				for _, d := range recent {
					fmt.Printf("%s %-8s %-24s status=%d wait=%v\n",
						d.At.Format(time.RFC3339), d.Kind, d.Category, d.Status, d.QueueWait)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "recent", "n", 0, "Also list the N most recent dispatches")
	return cmd
}

func fetch(c *client.Client, req *api.Request) (*api.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	return c.Fetch(ctx, req)
}
