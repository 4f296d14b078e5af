package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mare-catalogo/backend/internal/conf"
	"github.com/mare-catalogo/backend/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

type rootOptions struct {
	configFile string
	envFiles   []string
	settings   *conf.Settings
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "catalogd",
		Short:        "Offline-first wholesale catalog backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			s, err := conf.Load(opts.configFile, opts.envFiles...)
			if err != nil {
				return err
			}
			logging.Init(cmd.ErrOrStderr(), logging.ParseLevel(s.Log.Level))
			opts.settings = s
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default ./config.yaml or /etc/catalogd/config.yaml)")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load (default .env)")

	root.AddCommand(
		newServeCmd(opts),
		newQueueCmd(opts),
		newCatalogCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// withApp builds the app for one command and closes it afterwards.
func withApp(opts *rootOptions, fn func(a *app) error) error {
	a, err := newApp(opts.settings)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// =====================================================
// serve
// =====================================================

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the cache controller, order API and connectivity monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(opts, func(a *app) error {
				return serve(ctx, a)
			})
		},
	}
}

func serve(ctx context.Context, a *app) error {
	log := logging.Named("serve")

	report, err := a.installWorker(ctx)
	if err != nil {
		return fmt.Errorf("cache controller install failed: %w", err)
	}
	if !report.ManifestCached {
		log.Warn("Shell not cached, will retry on next generation", logging.Fields{"error": report.ManifestError})
	}

	stopMonitor := a.monitor.Start(ctx)
	defer stopMonitor()

	e := newServer(a)
	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening", logging.Fields{"addr": a.settings.Server.Listen, "origin": a.settings.Server.Origin})
		if err := e.Start(a.settings.Server.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// =====================================================
// queue
// =====================================================

func newQueueCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the offline order queue",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Print pending and failed orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				snap, err := a.queue.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snap)
			})
		},
	}

	drain := &cobra.Command{
		Use:   "drain",
		Short: "Deliver pending orders now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				result, err := a.queue.Drain(cmd.Context())
				if result != nil {
					if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}

	var pending, failed bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard pending and/or failed orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !pending && !failed {
				return errors.New("choose --pending, --failed or both")
			}
			return withApp(opts, func(a *app) error {
				out := map[string]int{}
				if pending {
					n, err := a.queue.ClearPending(cmd.Context())
					if err != nil {
						return err
					}
					out["pending"] = n
				}
				if failed {
					n, err := a.queue.ClearFailed(cmd.Context())
					if err != nil {
						return err
					}
					out["failed"] = n
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	clearCmd.Flags().BoolVar(&pending, "pending", false, "clear pending orders")
	clearCmd.Flags().BoolVar(&failed, "failed", false, "clear failed orders")

	cmd.AddCommand(status, drain, clearCmd)
	return cmd
}

// =====================================================
// catalog
// =====================================================

func newCatalogCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect cached catalog data",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "List cache buckets and dated catalog snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				ctrl, err := a.newController()
				if err != nil {
					return err
				}
				buckets, err := a.caches.Names(cmd.Context())
				if err != nil {
					return err
				}
				snaps, err := ctrl.Snapshots(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"generation": ctrl.Generation(),
					"buckets":    buckets,
					"snapshots":  snaps,
				})
			})
		},
	})
	return cmd
}

// =====================================================
// version
// =====================================================

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build and cache generation",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "catalogd %s (cache generation %s)\n", version, opts.settings.Worker.Generation)
			return err
		},
	}
}
