package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gearrank",
		Short:         "Record gear interactions and rank trending cameras and lenses",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())
	root.AddCommand(rollupCmd())
	root.AddCommand(runsCmd())
	root.AddCommand(trendingCmd())
	root.AddCommand(recordCmd())
	root.AddCommand(catalogCmd())

	return root
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with HTTP server and daily rollup scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func rollupCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Run the daily rollup once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollup(date)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "as-of date YYYY-MM-DD (default: yesterday UTC)")
	return cmd
}

func runsCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent rollup runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(jsonOutput, limit)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to show")
	return cmd
}

func trendingCmd() *cobra.Command {
	var (
		jsonOutput bool
		q          trendingFlags
	)

	cmd := &cobra.Command{
		Use:   "trending",
		Short: "Show trending items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrending(jsonOutput, q)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&q.timeframe, "timeframe", "30d", "ranking window: 7d or 30d")
	cmd.Flags().IntVar(&q.page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.perPage, "per-page", 20, "items per page")
	cmd.Flags().StringVar(&q.brand, "brand", "", "filter by brand id")
	cmd.Flags().StringVar(&q.mount, "mount", "", "filter by mount id")
	cmd.Flags().StringVar(&q.gearType, "type", "", "filter by gear type: camera or lens")
	return cmd
}

func recordCmd() *cobra.Command {
	var in recordFlags

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a single interaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(in)
		},
	}

	cmd.Flags().StringVar(&in.itemID, "item", "", "item id")
	cmd.Flags().StringVar(&in.eventType, "type", "view", "event type")
	cmd.Flags().StringVar(&in.actorID, "actor", "", `actor id, e.g. "u:42" or "a:<token>"`)
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the local gear catalog mirror",
	}

	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert items from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalogImport(file)
		},
	}
	importCmd.Flags().StringVar(&file, "file", "items.yaml", "YAML list of items")

	cmd.AddCommand(importCmd)
	return cmd
}
