// Command kvlite is a small operational CLI around the kvlite cache
// engine: get/put/rm/clear/stats against a SQLite-backed partition, plus a
// serve subcommand that exposes Prometheus metrics over HTTP while idling.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kvlitecache/kvlite"
	"github.com/kvlitecache/kvlite/internal/sqlstore"
)

var (
	dbPath    string
	partition string
	logJSON   bool
	logLevel  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kvlite",
	Short: "Operate a SQLite-backed kvlite cache from the command line",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "kvlite.db", "Path to the SQLite database file")
	rootCmd.PersistentFlags().StringVar(&partition, "partition", "", "Partition to operate on (if unset, get/put/rm use the default partition and clear/stats cover every partition)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(getCmd, putCmd, rmCmd, clearCmd, statsCmd, serveCmd)
}

func openFacade(ctx context.Context) (*kvlite.CacheFacade, error) {
	logger := kvlite.NewZerologLogger(kvlite.LogConfig{
		Level:      kvlite.LogLevel(logLevel),
		JSONOutput: logJSON,
		Output:     os.Stderr,
	})

	conn := sqlstore.New(dbPath)
	cfg := kvlite.DefaultConfig()

	return kvlite.NewCacheFacade(ctx, conn, kvlite.SystemClock{}, cfg, kvlite.WithLogger(logger))
}

var getCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a string value by key, extending sliding expiry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := openFacade(ctx)
		if err != nil {
			return err
		}
		defer f.Close()

		value, ok, err := kvlite.Get[string](ctx, f, partition, args[0])
		if err != nil {
			return err
		}

		if !ok {
			fmt.Println("(miss)")

			return nil
		}

		fmt.Println(value)

		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put KEY VALUE",
	Short: "Insert a string value with a sliding expiry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ttl, err := cmd.Flags().GetDuration("ttl")
		if err != nil {
			return err
		}

		f, err := openFacade(ctx)
		if err != nil {
			return err
		}
		defer f.Close()

		return f.AddSliding(ctx, partition, args[0], args[1], int64(ttl.Seconds()))
	},
}

func init() {
	putCmd.Flags().Duration("ttl", 5*time.Minute, "Sliding expiry interval")
}

var rmCmd = &cobra.Command{
	Use:   "rm KEY",
	Short: "Remove a key, cascading to any entries that name it as a parent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := openFacade(ctx)
		if err != nil {
			return err
		}
		defer f.Close()

		return f.Remove(ctx, partition, args[0])
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear expired entries in the partition (or every entry with --all)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		all, err := cmd.Flags().GetBool("all")
		if err != nil {
			return err
		}

		f, err := openFacade(ctx)
		if err != nil {
			return err
		}
		defer f.Close()

		mode := kvlite.ConsiderExpiry
		if all {
			mode = kvlite.IgnoreExpiry
		}

		n, err := f.Clear(ctx, partition, mode)
		if err != nil {
			return err
		}

		fmt.Printf("cleared %d entries\n", n)

		return nil
	},
}

func init() {
	clearCmd.Flags().Bool("all", false, "Remove live entries too, not just expired ones")
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print entry count and byte size for the partition",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := openFacade(ctx)
		if err != nil {
			return err
		}
		defer f.Close()

		count, err := f.Count(ctx, partition, kvlite.IgnoreExpiry)
		if err != nil {
			return err
		}

		size, err := f.GetCacheSizeBytes(ctx, partition)
		if err != nil {
			return err
		}

		fmt.Printf("entries: %d\nbytes:   %d\n", count, size)

		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the cache and expose Prometheus metrics over HTTP until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		addr, err := cmd.Flags().GetString("metrics-addr")
		if err != nil {
			return err
		}

		logger := kvlite.NewZerologLogger(kvlite.LogConfig{
			Level:      kvlite.LogLevel(logLevel),
			JSONOutput: logJSON,
			Output:     os.Stderr,
		})

		registry := prometheus.NewRegistry()
		metrics := kvlite.NewPrometheusMetrics(registry)

		conn := sqlstore.New(dbPath)
		cfg := kvlite.DefaultConfig()

		f, err := kvlite.NewCacheFacade(ctx, conn, kvlite.SystemClock{}, cfg,
			kvlite.WithLogger(logger), kvlite.WithMetrics(metrics))
		if err != nil {
			return err
		}
		defer f.Close()

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		server := &http.Server{Addr: addr, Handler: mux}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()

		fmt.Printf("kvlite serving metrics on http://%s/metrics (db: %s)\n", addr, dbPath)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the /metrics HTTP endpoint")
}
