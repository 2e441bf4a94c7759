// cachefsd runs a caching file system over an asset base directory and
// serves its metadata view for inspection. On shutdown it writes a
// snapshot of the view next to the base directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/assetforge/assetfs/cachefs"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cachefsd",
		Short: "Metadata cache daemon for an asset directory tree",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.String("base-dir", ".", "asset base directory (contains Content<Platform>, Config, ...)")
	flags.String("platform", cachefs.CurrentPlatform().String(), "target platform (PC, Linux, Android, IOS)")
	flags.String("log-dir", "", "directory for rotating log files (empty: console only)")
	flags.String("snapshot", "", "snapshot database path (empty: no snapshot on shutdown)")
	flags.String("listen", "127.0.0.1:8642", "stats HTTP listen address")

	viper.SetEnvPrefix("CACHEFSD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.BindPFlags(flags) //nolint:errcheck

	return cmd
}

func parsePlatform(s string) (cachefs.Platform, error) {
	switch strings.ToLower(s) {
	case "pc":
		return cachefs.PlatformPC, nil
	case "linux":
		return cachefs.PlatformLinux, nil
	case "android":
		return cachefs.PlatformAndroid, nil
	case "ios":
		return cachefs.PlatformIOS, nil
	default:
		return 0, fmt.Errorf("unknown platform %q", s)
	}
}

func run(ctx context.Context) error {
	cachefs.InitLogger(viper.GetString("log-dir"))
	l := cachefs.Logger().With("comp", "cachefsd")

	platform, err := parsePlatform(viper.GetString("platform"))
	if err != nil {
		return err
	}

	paths, err := cachefs.NewPaths(viper.GetString("base-dir"))
	if err != nil {
		return err
	}

	fs, err := cachefs.New(platform, cachefs.DirContent, paths, cachefs.Options{})
	if err != nil {
		return fmt.Errorf("start cache: %w", err)
	}
	defer fs.Close() //nolint:errcheck

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, _ *http.Request) {
		stats := struct {
			Entries      int               `json:"entries"`
			DirtyPending int               `json:"dirtyPending"`
			ChangeEvents uint64            `json:"changeEvents"`
			RecentErrors []cachefs.LogEntry `json:"recentErrors"`
		}{
			Entries:      fs.EntryCount(),
			DirtyPending: fs.DirtyCount(),
			ChangeEvents: fs.ChangeEventCount(),
			RecentErrors: cachefs.RecentErrors(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats) //nolint:errcheck
	})

	srv := &http.Server{
		Addr:    viper.GetString("listen"),
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		l.Info("stats server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		l.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("stats server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx) //nolint:errcheck

	if path := viper.GetString("snapshot"); path != "" {
		store, err := cachefs.OpenSnapshot(path)
		if err != nil {
			return fmt.Errorf("open snapshot: %w", err)
		}
		defer store.Close() //nolint:errcheck
		if err := fs.WriteSnapshot(store); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		l.Info("snapshot written", "path", path)
	}

	return nil
}
